package gamification

import (
	"fmt"
	"strings"
	"time"
)

// Quest is one of the daily boolean goals tracked on an ActivityRecord.
type Quest string

const (
	QuestWater     Quest = "water"
	QuestProtein   Quest = "protein"
	QuestCleanDiet Quest = "clean_diet"
	QuestWorkout   Quest = "workout"
)

// AllQuests returns every tracked quest in display order.
func AllQuests() []Quest {
	return []Quest{QuestWater, QuestProtein, QuestCleanDiet, QuestWorkout}
}

// ParseQuest validates a quest name.
func ParseQuest(s string) (Quest, error) {
	q := Quest(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllQuests() {
		if q == known {
			return q, nil
		}
	}
	return "", fmt.Errorf("%w: unknown quest %q", ErrInvalidInput, s)
}

// ActivityRecord is the ledger row for one calendar day.
type ActivityRecord struct {
	Date            Day        `json:"date"`
	Water           bool       `json:"water"`
	CleanDiet       bool       `json:"cleanDiet"`
	Workout         bool       `json:"workout"`
	WorkoutCategory string     `json:"workoutCategory,omitempty"`
	ProteinGrams    int        `json:"proteinGrams"`
	WorkoutAt       *time.Time `json:"workoutAt,omitempty"`
	StreakFrozen    bool       `json:"streakFrozen"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ActivityPatch is a partial update to a day. Nil fields are left untouched.
type ActivityPatch struct {
	Water           *bool      `json:"water,omitempty"`
	CleanDiet       *bool      `json:"cleanDiet,omitempty"`
	Workout         *bool      `json:"workout,omitempty"`
	WorkoutCategory *string    `json:"workoutCategory,omitempty"`
	ProteinGrams    *int       `json:"proteinGrams,omitempty"`
	WorkoutAt       *time.Time `json:"workoutAt,omitempty"`
}

func (p ActivityPatch) validate() error {
	if p.ProteinGrams != nil && *p.ProteinGrams < 0 {
		return fmt.Errorf("%w: protein grams must not be negative", ErrInvalidInput)
	}
	return nil
}

// apply writes the non-nil fields of p onto rec.
func (p ActivityPatch) apply(rec *ActivityRecord) {
	if p.Water != nil {
		rec.Water = *p.Water
	}
	if p.CleanDiet != nil {
		rec.CleanDiet = *p.CleanDiet
	}
	if p.Workout != nil {
		rec.Workout = *p.Workout
	}
	if p.WorkoutCategory != nil {
		rec.WorkoutCategory = NormalizeBodyPart(*p.WorkoutCategory)
	}
	if p.ProteinGrams != nil {
		rec.ProteinGrams = *p.ProteinGrams
	}
	if p.WorkoutAt != nil {
		at := p.WorkoutAt.UTC()
		rec.WorkoutAt = &at
	}
}

// NormalizeBodyPart lower-cases and trims a workout category tag.
func NormalizeBodyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DayPredicate decides whether a day counts as complete for streak purposes.
type DayPredicate func(ActivityRecord) bool

// Rules holds the tunable thresholds shared by streaks, stats and rewards.
type Rules struct {
	ProteinThresholdGrams int
	EarlyHour             int // workouts with hour < EarlyHour are early
	LateHour              int // workouts with hour >= LateHour are late
	StreakQuests          []Quest
	Location              *time.Location
}

// DefaultRules returns the stock thresholds: 150g protein, early before
// 08:00, late from 22:00, and every quest required for a complete day.
func DefaultRules() Rules {
	return Rules{
		ProteinThresholdGrams: 150,
		EarlyHour:             8,
		LateHour:              22,
		StreakQuests:          AllQuests(),
		Location:              time.UTC,
	}
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Met reports whether rec satisfies quest q.
func (r Rules) Met(rec ActivityRecord, q Quest) bool {
	switch q {
	case QuestWater:
		return rec.Water
	case QuestProtein:
		return rec.ProteinGrams >= r.ProteinThresholdGrams
	case QuestCleanDiet:
		return rec.CleanDiet
	case QuestWorkout:
		return rec.Workout
	}
	return false
}

// Perfect reports whether every tracked quest is met, regardless of
// which quests count toward the streak.
func (r Rules) Perfect(rec ActivityRecord) bool {
	for _, q := range AllQuests() {
		if !r.Met(rec, q) {
			return false
		}
	}
	return true
}

// DayPredicate returns the streak predicate: all StreakQuests met. An
// empty quest list falls back to every quest.
func (r Rules) DayPredicate() DayPredicate {
	quests := r.StreakQuests
	if len(quests) == 0 {
		quests = AllQuests()
	}
	return func(rec ActivityRecord) bool {
		for _, q := range quests {
			if !r.Met(rec, q) {
				return false
			}
		}
		return true
	}
}

// workoutHour returns the local hour of the workout, or ok=false when the
// record has no completed, timestamped workout.
func (r Rules) workoutHour(rec ActivityRecord) (int, bool) {
	if !rec.Workout || rec.WorkoutAt == nil {
		return 0, false
	}
	return rec.WorkoutAt.In(r.location()).Hour(), true
}
