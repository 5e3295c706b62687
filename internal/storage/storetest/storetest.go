// Package storetest holds the behaviour every gamification.Store must
// share. Each store package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hoambaek/lifeos/internal/gamification"
)

// Opener returns a fresh, empty store. It registers its own cleanup.
type Opener func(t *testing.T) gamification.Store

// Run executes the contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("ProfileLazyCreate", func(t *testing.T) { testProfileLazyCreate(t, open(t)) })
	t.Run("ActivityUpsertAndOrder", func(t *testing.T) { testActivity(t, open(t)) })
	t.Run("XPLedger", func(t *testing.T) { testXPLedger(t, open(t)) })
	t.Run("FreezeLog", func(t *testing.T) { testFreezeLog(t, open(t)) })
	t.Run("UnlockUnique", func(t *testing.T) { testUnlocks(t, open(t)) })
	t.Run("Challenges", func(t *testing.T) { testChallenges(t, open(t)) })
	t.Run("AtomicRollback", func(t *testing.T) { testAtomicRollback(t, open(t)) })
	t.Run("ProfilesIsolated", func(t *testing.T) { testIsolation(t, open(t)) })
}

const profile = "p1"

var base = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func testProfileLazyCreate(t *testing.T, s gamification.Store) {
	ctx := context.Background()

	p, err := s.GetProfile(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, profile, p.ID)
	require.Equal(t, 1, p.Level)
	require.Zero(t, p.TotalXP)
	require.Zero(t, p.FreezesAvailable)

	p.TotalXP = 400
	p.Level = 3
	p.FreezesAvailable = 2
	p.FreezesUsed = 1
	require.NoError(t, s.SaveProfile(ctx, p))

	got, err := s.GetProfile(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, 400, got.TotalXP)
	require.Equal(t, 3, got.Level)
	require.Equal(t, 2, got.FreezesAvailable)
	require.Equal(t, 1, got.FreezesUsed)
}

func testActivity(t *testing.T, s gamification.Store) {
	ctx := context.Background()

	_, ok, err := s.GetActivity(ctx, profile, gamification.NewDay(2024, 3, 1))
	require.NoError(t, err)
	require.False(t, ok)

	at := base
	for i := 1; i <= 4; i++ {
		rec := gamification.ActivityRecord{
			Date:         gamification.NewDay(2024, 3, i),
			Water:        i%2 == 0,
			ProteinGrams: 100 + i,
			UpdatedAt:    base,
		}
		if i == 3 {
			rec.Workout = true
			rec.WorkoutCategory = "legs"
			rec.WorkoutAt = &at
		}
		require.NoError(t, s.SaveActivity(ctx, profile, rec))
	}

	// Upsert replaces the row.
	require.NoError(t, s.SaveActivity(ctx, profile, gamification.ActivityRecord{
		Date: gamification.NewDay(2024, 3, 2), CleanDiet: true, StreakFrozen: true, UpdatedAt: base,
	}))
	rec, ok, err := s.GetActivity(ctx, profile, gamification.NewDay(2024, 3, 2))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.CleanDiet)
	require.True(t, rec.StreakFrozen)
	require.False(t, rec.Water)

	rec, _, err = s.GetActivity(ctx, profile, gamification.NewDay(2024, 3, 3))
	require.NoError(t, err)
	require.True(t, rec.Workout)
	require.Equal(t, "legs", rec.WorkoutCategory)
	require.NotNil(t, rec.WorkoutAt)
	require.True(t, rec.WorkoutAt.Equal(at))

	all, err := s.ListActivity(ctx, profile)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		require.True(t, all[i-1].Date.After(all[i].Date), "ListActivity must be newest first")
	}

	rng, err := s.ListActivityRange(ctx, profile, gamification.NewDay(2024, 3, 2), gamification.NewDay(2024, 3, 3))
	require.NoError(t, err)
	require.Len(t, rng, 2)
	require.Equal(t, "2024-03-03", rng[0].Date.String())
	require.Equal(t, "2024-03-02", rng[1].Date.String())
}

func testXPLedger(t *testing.T, s gamification.Store) {
	ctx := context.Background()

	total, err := s.SumXP(ctx, profile)
	require.NoError(t, err)
	require.Zero(t, total)

	amounts := []int{100, 50, -20}
	for i, amt := range amounts {
		require.NoError(t, s.AppendXP(ctx, profile, gamification.XPTransaction{
			ID:          uuid.NewString(),
			Amount:      amt,
			Source:      gamification.SourceQuest,
			ReferenceID: "quest:2024-03-04:water",
			Description: "entry",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	total, err = s.SumXP(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, 130, total)

	seen, err := s.HasXPReference(ctx, profile, gamification.SourceQuest, "quest:2024-03-04:water")
	require.NoError(t, err)
	require.True(t, seen)
	seen, err = s.HasXPReference(ctx, profile, gamification.SourceChallenge, "quest:2024-03-04:water")
	require.NoError(t, err)
	require.False(t, seen)

	latest, err := s.ListXP(ctx, profile, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, -20, latest[0].Amount)
	require.Equal(t, 50, latest[1].Amount)

	all, err := s.ListXP(ctx, profile, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// A zero-amount marker is found by reference but hidden from history.
	require.NoError(t, s.AppendXP(ctx, profile, gamification.XPTransaction{
		ID:          uuid.NewString(),
		Source:      gamification.SourceQuest,
		ReferenceID: "workout-tag:2024-03-04",
		CreatedAt:   base.Add(time.Hour),
	}))
	seen, err = s.HasXPReference(ctx, profile, gamification.SourceQuest, "workout-tag:2024-03-04")
	require.NoError(t, err)
	require.True(t, seen)
	latest, err = s.ListXP(ctx, profile, 1)
	require.NoError(t, err)
	require.Equal(t, -20, latest[0].Amount)
	total, err = s.SumXP(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, 130, total)
}

func testFreezeLog(t *testing.T, s gamification.Store) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, s.AppendFreezeUse(ctx, profile, gamification.FreezeUse{
			ID:              uuid.NewString(),
			Date:            gamification.NewDay(2024, 3, 4+i),
			StreakProtected: 5 + i,
			UsedAt:          base.Add(time.Duration(i) * time.Hour),
		}))
	}
	uses, err := s.ListFreezeUses(ctx, profile)
	require.NoError(t, err)
	require.Len(t, uses, 2)
	require.Equal(t, 6, uses[0].StreakProtected)
	require.Equal(t, "2024-03-05", uses[0].Date.String())
}

func testUnlocks(t *testing.T, s gamification.Store) {
	ctx := context.Background()
	def := gamification.AchievementDefinition{
		Key: "first_workout", Name: "First Rep", Tier: gamification.TierBronze,
		Category: gamification.CategoryWorkouts, Metric: gamification.MetricTotalWorkouts,
		Requirement: 1, Reward: gamification.Reward{XP: 50},
	}
	require.NoError(t, s.EnsureAchievementDefinition(ctx, def))
	require.NoError(t, s.EnsureAchievementDefinition(ctx, def))

	u := gamification.AchievementUnlock{Key: def.Key, UnlockedAt: base, Reward: def.Reward}
	ok, err := s.InsertUnlock(ctx, profile, u)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.InsertUnlock(ctx, profile, u)
	require.NoError(t, err)
	require.False(t, ok, "second insert must be a silent no-op")

	unlocks, err := s.ListUnlocks(ctx, profile)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	require.Equal(t, def.Key, unlocks[0].Key)
	require.Equal(t, 50, unlocks[0].Reward.XP)
}

func challenge(key string, typ gamification.PeriodType, start time.Time) gamification.Challenge {
	end := start.AddDate(0, 0, 7)
	if typ == gamification.PeriodMonthly {
		end = start.AddDate(0, 1, 0)
	}
	return gamification.Challenge{ChallengeDefinition: gamification.ChallengeDefinition{
		ID:          uuid.NewString(),
		Key:         key + ":" + start.Format("2006-01-02"),
		TemplateKey: key,
		Title:       key,
		Category:    gamification.ChallengeWorkout,
		Type:        typ,
		Target:      3,
		XPReward:    100,
		PeriodStart: start,
		PeriodEnd:   end,
		Active:      true,
		CreatedAt:   start,
	}}
}

func testChallenges(t *testing.T, s gamification.Store) {
	ctx := context.Background()
	week := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	month := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	w1 := challenge("weekly_workouts_4", gamification.PeriodWeekly, week)
	w2 := challenge("weekly_water_7", gamification.PeriodWeekly, week)
	m1 := challenge("monthly_legs_6", gamification.PeriodMonthly, month)
	for _, c := range []gamification.Challenge{w1, w2, m1} {
		require.NoError(t, s.InsertChallenge(ctx, profile, c))
	}

	dup := challenge("weekly_workouts_4", gamification.PeriodWeekly, week)
	err := s.InsertChallenge(ctx, profile, dup)
	require.Error(t, err, "active keys must be unique")

	got, ok, err := s.GetChallenge(ctx, profile, w1.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, w1.Key, got.Key)
	require.Zero(t, got.Progress.Current)
	require.True(t, got.PeriodStart.Equal(week))

	_, ok, err = s.GetChallenge(ctx, profile, uuid.NewString())
	require.NoError(t, err)
	require.False(t, ok)

	done := base
	require.NoError(t, s.SaveChallengeProgress(ctx, profile, w1.ID, gamification.ChallengeProgress{
		Current: 3, Completed: true, CompletedAt: &done,
	}))
	got, _, err = s.GetChallenge(ctx, profile, w1.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.Progress.Current)
	require.True(t, got.Progress.Completed)
	require.NotNil(t, got.Progress.CompletedAt)
	require.False(t, got.Progress.Claimed)

	err = s.SaveChallengeProgress(ctx, profile, uuid.NewString(), gamification.ChallengeProgress{})
	require.True(t, errors.Is(err, gamification.ErrNotFound))

	weekly, err := s.ListChallenges(ctx, profile, gamification.ChallengeFilter{Type: gamification.PeriodWeekly, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, weekly, 2)

	n, err := s.DeactivateChallenges(ctx, profile, gamification.PeriodWeekly)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	active, err := s.ListChallenges(ctx, profile, gamification.ChallengeFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, m1.ID, active[0].ID)

	all, err := s.ListChallenges(ctx, profile, gamification.ChallengeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	// A deactivated key may be reused.
	require.NoError(t, s.InsertChallenge(ctx, profile, dup))
}

func testAtomicRollback(t *testing.T, s gamification.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(repo gamification.Repository) error {
		p, err := repo.GetProfile(ctx, profile)
		if err != nil {
			return err
		}
		if err := repo.AppendXP(ctx, profile, gamification.XPTransaction{
			ID: uuid.NewString(), Amount: 500, Source: gamification.SourceManual, CreatedAt: base,
		}); err != nil {
			return err
		}
		p.TotalXP = 500
		if err := repo.SaveProfile(ctx, p); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	total, err := s.SumXP(ctx, profile)
	require.NoError(t, err)
	require.Zero(t, total)
	p, err := s.GetProfile(ctx, profile)
	require.NoError(t, err)
	require.Zero(t, p.TotalXP)

	err = s.Atomic(ctx, func(repo gamification.Repository) error {
		return repo.AppendXP(ctx, profile, gamification.XPTransaction{
			ID: uuid.NewString(), Amount: 70, Source: gamification.SourceManual, CreatedAt: base,
		})
	})
	require.NoError(t, err)
	total, err = s.SumXP(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, 70, total)
}

func testIsolation(t *testing.T, s gamification.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveActivity(ctx, "a", gamification.ActivityRecord{
		Date: gamification.NewDay(2024, 3, 4), Water: true, UpdatedAt: base,
	}))
	require.NoError(t, s.AppendXP(ctx, "a", gamification.XPTransaction{
		ID: uuid.NewString(), Amount: 10, Source: gamification.SourceQuest, CreatedAt: base,
	}))

	recs, err := s.ListActivity(ctx, "b")
	require.NoError(t, err)
	require.Empty(t, recs)
	total, err := s.SumXP(ctx, "b")
	require.NoError(t, err)
	require.Zero(t, total)
}
