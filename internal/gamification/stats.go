package gamification

// Snapshot is the read-side reduction of the activity ledger and profile.
// It is rebuilt from the full history on every call and never persisted.
type Snapshot struct {
	TotalDays      int            `json:"totalDays"`
	TotalWorkouts  int            `json:"totalWorkouts"`
	WorkoutsByPart map[string]int `json:"workoutsByPart"`
	WaterDays      int            `json:"waterDays"`
	ProteinDays    int            `json:"proteinDays"`
	CleanDietDays  int            `json:"cleanDietDays"`
	PerfectDays    int            `json:"perfectDays"`
	EarlyWorkouts  int            `json:"earlyWorkouts"`
	LateWorkouts   int            `json:"lateWorkouts"`

	TotalXP          int `json:"totalXp"`
	CurrentLevel     int `json:"currentLevel"`
	FreezesAvailable int `json:"freezesAvailable"`
	FreezesUsed      int `json:"freezesUsed"`

	StreakResult
}

// BestStreak is the larger of the current and longest streak.
func (s Snapshot) BestStreak() int {
	return max(s.Current, s.Longest)
}

// StatsAggregator reduces activity records into a Snapshot. Streaks are
// delegated to a StreakCalculator and the level to the LevelCurve.
type StatsAggregator struct {
	rules   Rules
	streaks *StreakCalculator
	curve   *LevelCurve
}

// NewStatsAggregator builds an aggregator whose streak predicate comes from rules.
func NewStatsAggregator(rules Rules, curve *LevelCurve) *StatsAggregator {
	return &StatsAggregator{
		rules:   rules,
		streaks: NewStreakCalculator(rules.DayPredicate()),
		curve:   curve,
	}
}

// Aggregate computes the snapshot for records as of today.
func (a *StatsAggregator) Aggregate(records []ActivityRecord, profile Profile, today Day) Snapshot {
	s := Snapshot{
		WorkoutsByPart:   make(map[string]int),
		TotalXP:          profile.TotalXP,
		CurrentLevel:     a.curve.Level(profile.TotalXP),
		FreezesAvailable: profile.FreezesAvailable,
		FreezesUsed:      profile.FreezesUsed,
	}

	for _, rec := range records {
		if rec.Date.After(today) {
			continue
		}
		s.TotalDays++
		if rec.Workout {
			s.TotalWorkouts++
			if rec.WorkoutCategory != "" {
				s.WorkoutsByPart[rec.WorkoutCategory]++
			}
			if hour, ok := a.rules.workoutHour(rec); ok {
				if hour < a.rules.EarlyHour {
					s.EarlyWorkouts++
				}
				if hour >= a.rules.LateHour {
					s.LateWorkouts++
				}
			}
		}
		if a.rules.Met(rec, QuestWater) {
			s.WaterDays++
		}
		if a.rules.Met(rec, QuestProtein) {
			s.ProteinDays++
		}
		if a.rules.Met(rec, QuestCleanDiet) {
			s.CleanDietDays++
		}
		if a.rules.Perfect(rec) {
			s.PerfectDays++
		}
	}

	s.StreakResult = a.streaks.Compute(records, today)
	return s
}
