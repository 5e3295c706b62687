package gamification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hoambaek/lifeos/internal/observability"
)

// Tier represents an achievement's difficulty level.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Category groups related achievements for display.
type Category string

const (
	CategoryWorkouts  Category = "Workouts"
	CategoryBodyParts Category = "Body Parts"
	CategoryStreaks   Category = "Streaks"
	CategoryHydration Category = "Hydration"
	CategoryNutrition Category = "Nutrition"
	CategoryPerfect   Category = "Perfect Days"
	CategoryTiming    Category = "Timing"
	CategoryLevels    Category = "Levels"
)

// Metric names the snapshot quantity an achievement compares against its
// requirement. Progress bars read the same quantity, so they always agree
// with unlock state.
type Metric string

const (
	MetricTotalWorkouts    Metric = "total_workouts"
	MetricBestStreak       Metric = "best_streak" // max(current, longest)
	MetricBodyPartWorkouts Metric = "body_part_workouts"
	MetricLevel            Metric = "level"
	MetricWaterDays        Metric = "water_days"
	MetricProteinDays      Metric = "protein_days"
	MetricCleanDietDays    Metric = "clean_diet_days"
	MetricPerfectDays      Metric = "perfect_days"
	MetricEarlyWorkouts    Metric = "early_workouts"
	MetricLateWorkouts     Metric = "late_workouts"
)

// AchievementDefinition is one immutable catalog entry.
type AchievementDefinition struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tier        Tier     `json:"tier"`
	Category    Category `json:"category"`
	Metric      Metric   `json:"metric"`
	BodyPart    string   `json:"bodyPart,omitempty"` // only for MetricBodyPartWorkouts
	Requirement int      `json:"requirement"`
	Reward      Reward   `json:"reward"`
}

// Value returns the metric's current value in s.
func (d AchievementDefinition) Value(s Snapshot) int {
	switch d.Metric {
	case MetricTotalWorkouts:
		return s.TotalWorkouts
	case MetricBestStreak:
		return s.BestStreak()
	case MetricBodyPartWorkouts:
		return s.WorkoutsByPart[d.BodyPart]
	case MetricLevel:
		return s.CurrentLevel
	case MetricWaterDays:
		return s.WaterDays
	case MetricProteinDays:
		return s.ProteinDays
	case MetricCleanDietDays:
		return s.CleanDietDays
	case MetricPerfectDays:
		return s.PerfectDays
	case MetricEarlyWorkouts:
		return s.EarlyWorkouts
	case MetricLateWorkouts:
		return s.LateWorkouts
	}
	return 0
}

// Met reports whether the achievement's predicate holds for s.
func (d AchievementDefinition) Met(s Snapshot) bool {
	return d.Value(s) >= d.Requirement
}

// AchievementUnlock is the stored record of an unlock. At most one exists
// per profile and key.
type AchievementUnlock struct {
	Key        string    `json:"key"`
	UnlockedAt time.Time `json:"unlockedAt"`
	Reward     Reward    `json:"reward"`
}

// UnlockedAchievement is returned for each achievement unlocked by an evaluation.
type UnlockedAchievement struct {
	Key        string       `json:"key"`
	Name       string       `json:"name"`
	Tier       Tier         `json:"tier"`
	Reward     Reward       `json:"reward"`
	UnlockedAt time.Time    `json:"unlockedAt"`
	Grant      *GrantResult `json:"grant,omitempty"`
}

// EvaluationResult is the outcome of one evaluation pass.
type EvaluationResult struct {
	Unlocked           []UnlockedAchievement `json:"unlocked"`
	PreviouslyUnlocked int                   `json:"previouslyUnlocked"`
}

// AchievementProgress is the progress-bar view of one definition.
type AchievementProgress struct {
	Current   int  `json:"current"`
	Required  int  `json:"required"`
	Completed bool `json:"completed"`
}

// AchievementStatus joins a definition with its unlock state.
type AchievementStatus struct {
	AchievementDefinition
	Unlocked   bool                `json:"unlocked"`
	UnlockedAt *time.Time          `json:"unlockedAt,omitempty"`
	Progress   AchievementProgress `json:"progress"`
}

// AchievementEngine evaluates the catalog against a snapshot and records
// unlocks with their rewards.
type AchievementEngine struct {
	catalog  []AchievementDefinition
	byKey    map[string]AchievementDefinition
	store    Store
	leveling *LevelingEngine
	now      func() time.Time
}

// NewAchievementEngine creates an engine for catalog. A nil catalog means
// DefaultCatalog.
func NewAchievementEngine(store Store, leveling *LevelingEngine, catalog []AchievementDefinition) (*AchievementEngine, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &AchievementEngine{
		catalog:  make([]AchievementDefinition, len(catalog)),
		byKey:    make(map[string]AchievementDefinition, len(catalog)),
		store:    store,
		leveling: leveling,
		now:      leveling.now,
	}
	copy(e.catalog, catalog)
	for _, d := range catalog {
		if d.Key == "" {
			return nil, fmt.Errorf("%w: achievement with empty key", ErrInvalidInput)
		}
		if _, dup := e.byKey[d.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate achievement key %q", ErrInvalidInput, d.Key)
		}
		if d.Requirement <= 0 {
			return nil, fmt.Errorf("%w: achievement %q requirement must be positive", ErrInvalidInput, d.Key)
		}
		e.byKey[d.Key] = d
	}
	return e, nil
}

// Catalog returns a shallow copy of all definitions.
func (e *AchievementEngine) Catalog() []AchievementDefinition {
	out := make([]AchievementDefinition, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// Definition looks up a catalog entry by key.
func (e *AchievementEngine) Definition(key string) (AchievementDefinition, error) {
	d, ok := e.byKey[key]
	if !ok {
		return AchievementDefinition{}, fmt.Errorf("%w: %s", ErrUnknownAchievement, key)
	}
	return d, nil
}

func (e *AchievementEngine) unlockedSet(ctx context.Context, profileID string) (map[string]AchievementUnlock, error) {
	unlocks, err := e.store.ListUnlocks(ctx, profileID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]AchievementUnlock, len(unlocks))
	for _, u := range unlocks {
		set[u.Key] = u
	}
	return set, nil
}

// EvaluateAll unlocks every not-yet-unlocked achievement whose predicate
// holds for snap. Each unlock and its reward commit together. If a store
// error interrupts the pass, the unlocks committed so far are returned
// along with the error.
func (e *AchievementEngine) EvaluateAll(ctx context.Context, profileID string, snap Snapshot) (EvaluationResult, error) {
	have, err := e.unlockedSet(ctx, profileID)
	if err != nil {
		return EvaluationResult{}, err
	}
	res := EvaluationResult{PreviouslyUnlocked: len(have), Unlocked: []UnlockedAchievement{}}

	for _, def := range e.catalog {
		if _, already := have[def.Key]; already {
			continue
		}
		if !def.Met(snap) {
			continue
		}

		var (
			unlocked UnlockedAchievement
			inserted bool
		)
		err := e.store.Atomic(ctx, func(repo Repository) error {
			if err := repo.EnsureAchievementDefinition(ctx, def); err != nil {
				return err
			}
			now := e.now().UTC()
			ok, err := repo.InsertUnlock(ctx, profileID, AchievementUnlock{Key: def.Key, UnlockedAt: now, Reward: def.Reward})
			if err != nil || !ok {
				return err
			}
			grant, err := e.leveling.payout(ctx, repo, profileID, def.Reward, SourceAchievement, def.Key, "Achievement unlocked: "+def.Name)
			if err != nil {
				return err
			}
			inserted = true
			unlocked = UnlockedAchievement{
				Key:        def.Key,
				Name:       def.Name,
				Tier:       def.Tier,
				Reward:     def.Reward,
				UnlockedAt: now,
				Grant:      grant,
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("unlock %s: %w", def.Key, err)
		}
		if !inserted {
			continue
		}

		res.Unlocked = append(res.Unlocked, unlocked)
		observability.RecordAchievementUnlocked(string(def.Tier))
		if unlocked.Grant != nil {
			e.leveling.observe(profileID, *unlocked.Grant)
		}
		log.Printf("profile %s unlocked achievement %s (+%d XP, +%d freezes)",
			profileID, def.Key, def.Reward.XP, def.Reward.Freezes)
	}
	return res, nil
}

// Progress reports current/required/completed for every definition.
func (e *AchievementEngine) Progress(ctx context.Context, profileID string, snap Snapshot) (map[string]AchievementProgress, error) {
	have, err := e.unlockedSet(ctx, profileID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]AchievementProgress, len(e.catalog))
	for _, def := range e.catalog {
		_, unlocked := have[def.Key]
		out[def.Key] = progressFor(def, snap, unlocked)
	}
	return out, nil
}

// Statuses lists the catalog joined with unlock state, in catalog order.
func (e *AchievementEngine) Statuses(ctx context.Context, profileID string, snap Snapshot) ([]AchievementStatus, error) {
	have, err := e.unlockedSet(ctx, profileID)
	if err != nil {
		return nil, err
	}
	out := make([]AchievementStatus, 0, len(e.catalog))
	for _, def := range e.catalog {
		out = append(out, statusFor(def, have, snap))
	}
	return out, nil
}

// Status reports one definition joined with its unlock state.
func (e *AchievementEngine) Status(ctx context.Context, profileID, key string, snap Snapshot) (AchievementStatus, error) {
	def, err := e.Definition(key)
	if err != nil {
		return AchievementStatus{}, err
	}
	have, err := e.unlockedSet(ctx, profileID)
	if err != nil {
		return AchievementStatus{}, err
	}
	return statusFor(def, have, snap), nil
}

func statusFor(def AchievementDefinition, have map[string]AchievementUnlock, snap Snapshot) AchievementStatus {
	st := AchievementStatus{AchievementDefinition: def}
	if u, ok := have[def.Key]; ok {
		st.Unlocked = true
		at := u.UnlockedAt
		st.UnlockedAt = &at
	}
	st.Progress = progressFor(def, snap, st.Unlocked)
	return st
}

func progressFor(def AchievementDefinition, snap Snapshot, unlocked bool) AchievementProgress {
	cur := def.Value(snap)
	return AchievementProgress{
		Current:   cur,
		Required:  def.Requirement,
		Completed: unlocked || cur >= def.Requirement,
	}
}

// DefaultCatalog returns the built-in achievement set.
func DefaultCatalog() []AchievementDefinition {
	return []AchievementDefinition{

		// ── Workouts ───────────────────────────────────────────────────────

		{
			Key: "first_workout", Name: "First Rep",
			Description: "Complete your first workout",
			Tier:        TierBronze, Category: CategoryWorkouts,
			Metric: MetricTotalWorkouts, Requirement: 1, Reward: TierReward(TierBronze),
		},
		{
			Key: "workouts_10", Name: "Getting Warm",
			Description: "Complete 10 workouts",
			Tier:        TierBronze, Category: CategoryWorkouts,
			Metric: MetricTotalWorkouts, Requirement: 10, Reward: TierReward(TierBronze),
		},
		{
			Key: "workouts_50", Name: "Regular",
			Description: "Complete 50 workouts",
			Tier:        TierSilver, Category: CategoryWorkouts,
			Metric: MetricTotalWorkouts, Requirement: 50, Reward: TierReward(TierSilver),
		},
		{
			Key: "workouts_100", Name: "Century",
			Description: "Complete 100 workouts",
			Tier:        TierGold, Category: CategoryWorkouts,
			Metric: MetricTotalWorkouts, Requirement: 100, Reward: TierReward(TierGold),
		},
		{
			Key: "workouts_365", Name: "Year of Iron",
			Description: "Complete 365 workouts",
			Tier:        TierPlatinum, Category: CategoryWorkouts,
			Metric: MetricTotalWorkouts, Requirement: 365, Reward: TierReward(TierPlatinum),
		},

		// ── Body Parts ─────────────────────────────────────────────────────

		{
			Key: "legs_10", Name: "Never Skip Leg Day",
			Description: "Complete 10 leg workouts",
			Tier:        TierSilver, Category: CategoryBodyParts,
			Metric: MetricBodyPartWorkouts, BodyPart: "legs", Requirement: 10, Reward: TierReward(TierSilver),
		},
		{
			Key: "back_10", Name: "Strong Back",
			Description: "Complete 10 back workouts",
			Tier:        TierSilver, Category: CategoryBodyParts,
			Metric: MetricBodyPartWorkouts, BodyPart: "back", Requirement: 10, Reward: TierReward(TierSilver),
		},
		{
			Key: "chest_10", Name: "Chest Day",
			Description: "Complete 10 chest workouts",
			Tier:        TierSilver, Category: CategoryBodyParts,
			Metric: MetricBodyPartWorkouts, BodyPart: "chest", Requirement: 10, Reward: TierReward(TierSilver),
		},
		{
			Key: "shoulders_10", Name: "Boulder Shoulders",
			Description: "Complete 10 shoulder workouts",
			Tier:        TierSilver, Category: CategoryBodyParts,
			Metric: MetricBodyPartWorkouts, BodyPart: "shoulders", Requirement: 10, Reward: TierReward(TierSilver),
		},

		// ── Streaks ────────────────────────────────────────────────────────

		{
			Key: "streak_3", Name: "Hat Trick",
			Description: "Complete every quest 3 days in a row",
			Tier:        TierBronze, Category: CategoryStreaks,
			Metric: MetricBestStreak, Requirement: 3, Reward: TierReward(TierBronze),
		},
		// A week-long streak pays a freeze so the first missed day can be saved.
		{
			Key: "streak_7", Name: "Full Week",
			Description: "Complete every quest 7 days in a row",
			Tier:        TierSilver, Category: CategoryStreaks,
			Metric: MetricBestStreak, Requirement: 7, Reward: Reward{XP: 100, Freezes: 1},
		},
		{
			Key: "streak_30", Name: "Habit Formed",
			Description: "Complete every quest 30 days in a row",
			Tier:        TierGold, Category: CategoryStreaks,
			Metric: MetricBestStreak, Requirement: 30, Reward: TierReward(TierGold),
		},
		{
			Key: "streak_100", Name: "Unbreakable",
			Description: "Complete every quest 100 days in a row",
			Tier:        TierPlatinum, Category: CategoryStreaks,
			Metric: MetricBestStreak, Requirement: 100, Reward: TierReward(TierPlatinum),
		},

		// ── Hydration ──────────────────────────────────────────────────────

		{
			Key: "water_7", Name: "Hydrated",
			Description: "Hit the water goal on 7 days",
			Tier:        TierBronze, Category: CategoryHydration,
			Metric: MetricWaterDays, Requirement: 7, Reward: TierReward(TierBronze),
		},
		{
			Key: "water_30", Name: "Well Watered",
			Description: "Hit the water goal on 30 days",
			Tier:        TierSilver, Category: CategoryHydration,
			Metric: MetricWaterDays, Requirement: 30, Reward: TierReward(TierSilver),
		},

		// ── Nutrition ──────────────────────────────────────────────────────

		{
			Key: "protein_7", Name: "Protein Packed",
			Description: "Reach the protein target on 7 days",
			Tier:        TierBronze, Category: CategoryNutrition,
			Metric: MetricProteinDays, Requirement: 7, Reward: TierReward(TierBronze),
		},
		{
			Key: "protein_30", Name: "Muscle Fuel",
			Description: "Reach the protein target on 30 days",
			Tier:        TierSilver, Category: CategoryNutrition,
			Metric: MetricProteinDays, Requirement: 30, Reward: TierReward(TierSilver),
		},
		{
			Key: "clean_diet_7", Name: "Clean Week",
			Description: "Eat clean on 7 days",
			Tier:        TierBronze, Category: CategoryNutrition,
			Metric: MetricCleanDietDays, Requirement: 7, Reward: TierReward(TierBronze),
		},
		{
			Key: "clean_diet_30", Name: "Clean Machine",
			Description: "Eat clean on 30 days",
			Tier:        TierSilver, Category: CategoryNutrition,
			Metric: MetricCleanDietDays, Requirement: 30, Reward: TierReward(TierSilver),
		},

		// ── Perfect Days ───────────────────────────────────────────────────

		{
			Key: "perfect_1", Name: "Flawless",
			Description: "Complete every quest in a single day",
			Tier:        TierBronze, Category: CategoryPerfect,
			Metric: MetricPerfectDays, Requirement: 1, Reward: TierReward(TierBronze),
		},
		{
			Key: "perfect_10", Name: "Perfectionist",
			Description: "Have 10 perfect days",
			Tier:        TierSilver, Category: CategoryPerfect,
			Metric: MetricPerfectDays, Requirement: 10, Reward: TierReward(TierSilver),
		},
		{
			Key: "perfect_50", Name: "Model Citizen",
			Description: "Have 50 perfect days",
			Tier:        TierGold, Category: CategoryPerfect,
			Metric: MetricPerfectDays, Requirement: 50, Reward: TierReward(TierGold),
		},

		// ── Timing ─────────────────────────────────────────────────────────

		{
			Key: "early_bird", Name: "Early Bird",
			Description: "Work out before the early cutoff 5 times",
			Tier:        TierBronze, Category: CategoryTiming,
			Metric: MetricEarlyWorkouts, Requirement: 5, Reward: TierReward(TierBronze),
		},
		{
			Key: "night_owl", Name: "Night Owl",
			Description: "Work out after the late cutoff 5 times",
			Tier:        TierBronze, Category: CategoryTiming,
			Metric: MetricLateWorkouts, Requirement: 5, Reward: TierReward(TierBronze),
		},

		// ── Levels ─────────────────────────────────────────────────────────

		{
			Key: "level_5", Name: "Rising",
			Description: "Reach level 5",
			Tier:        TierBronze, Category: CategoryLevels,
			Metric: MetricLevel, Requirement: 5, Reward: Reward{Freezes: 1},
		},
		{
			Key: "level_10", Name: "Seasoned",
			Description: "Reach level 10",
			Tier:        TierSilver, Category: CategoryLevels,
			Metric: MetricLevel, Requirement: 10, Reward: Reward{Freezes: 1},
		},
		{
			Key: "level_25", Name: "Veteran",
			Description: "Reach level 25",
			Tier:        TierGold, Category: CategoryLevels,
			Metric: MetricLevel, Requirement: 25, Reward: Reward{Freezes: 2},
		},
	}
}
