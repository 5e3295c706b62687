package gamification_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoambaek/lifeos/internal/gamification"
	"github.com/hoambaek/lifeos/internal/storage/memory"
)

// Wednesday; the week starts Monday 2024-03-04.
var wednesday = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T, opts ...gamification.Option) (*gamification.Engine, *memory.Store, *clock) {
	t.Helper()
	store := memory.New()
	clk := &clock{t: wednesday}
	base := []gamification.Option{
		gamification.WithClock(clk.Now),
		gamification.WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	e, err := gamification.NewEngine(store, append(base, opts...)...)
	require.NoError(t, err)
	return e, store, clk
}

func day(offset int) gamification.Day {
	return gamification.DayOf(wednesday, time.UTC).AddDays(offset)
}

func ptr[T any](v T) *T { return &v }

func perfectPatch() gamification.ActivityPatch {
	return gamification.ActivityPatch{
		Water:        ptr(true),
		CleanDiet:    ptr(true),
		Workout:      ptr(true),
		ProteinGrams: ptr(150),
	}
}

// ── Leveling ───────────────────────────────────────────────────────────

func TestGrantXP_TwoGrantsReachLevelTwo(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	first, err := e.GrantXP(ctx, 100, "", "first")
	require.NoError(t, err)
	require.Equal(t, 100, first.TotalXP)
	require.Equal(t, 1, first.Level)
	require.False(t, first.LeveledUp)
	require.Equal(t, gamification.SourceManual, first.Entry.Source)

	second, err := e.GrantXP(ctx, 100, gamification.SourceManual, "second")
	require.NoError(t, err)
	require.Equal(t, 200, second.TotalXP)
	require.Equal(t, 2, second.Level)
	require.True(t, second.LeveledUp)
	require.Equal(t, 2, second.NewLevel)

	p, err := e.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, p.TotalXP)
	require.Equal(t, 2, p.Level)

	hist, err := e.XPHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "second", hist[0].Description)

	lp, err := e.LevelProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, lp.Level)
	require.Equal(t, 50, lp.XPIntoLevel)
}

func TestGrantXP_ZeroRejected(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.GrantXP(context.Background(), 0, "", "")
	require.ErrorIs(t, err, gamification.ErrInvalidAmount)
	require.ErrorIs(t, err, gamification.ErrInvalidInput)
}

func TestGrantXP_NegativeCorrectionRecomputesLevel(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	_, err := e.GrantXP(ctx, 200, "", "")
	require.NoError(t, err)
	res, err := e.GrantXP(ctx, -100, "", "correction")
	require.NoError(t, err)
	require.Equal(t, 100, res.TotalXP)
	require.Equal(t, 1, res.Level)
	require.False(t, res.LeveledUp)
}

func TestGrantXP_ConcurrentGrantsSumExactly(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.GrantXP(ctx, 10, "", ""); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	p, err := e.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, p.TotalXP)
	require.Equal(t, 2, p.Level)
}

// ── Activity ledger ────────────────────────────────────────────────────

func TestRecordActivity_QuestXPPaidOncePerDay(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	res, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Water: ptr(true)})
	require.NoError(t, err)
	require.Len(t, res.Rewards, 1)
	require.Equal(t, 10, res.Rewards[0].Entry.Amount)
	require.Equal(t, gamification.SourceQuest, res.Rewards[0].Entry.Source)

	res, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Water: ptr(true)})
	require.NoError(t, err)
	require.Empty(t, res.Rewards, "no transition, no reward")

	_, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Water: ptr(false)})
	require.NoError(t, err)
	res, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Water: ptr(true)})
	require.NoError(t, err)
	require.Empty(t, res.Rewards, "toggling must not pay twice")

	p, err := e.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, p.TotalXP)
}

func TestRecordActivity_PerfectDayBonus(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	res, err := e.RecordActivity(ctx, day(0), perfectPatch())
	require.NoError(t, err)
	require.Len(t, res.Rewards, 5)

	last := res.Rewards[len(res.Rewards)-1]
	require.Equal(t, gamification.SourcePerfectDay, last.Entry.Source)
	require.Equal(t, gamification.DefaultPerfectDayXP, last.Entry.Amount)
	require.Equal(t, 130, last.TotalXP)
}

func TestRecordActivity_ProteinThresholdCrossing(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	res, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{ProteinGrams: ptr(100)})
	require.NoError(t, err)
	require.Empty(t, res.Rewards)

	res, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{ProteinGrams: ptr(155)})
	require.NoError(t, err)
	require.Len(t, res.Rewards, 1)
	require.Equal(t, 20, res.Rewards[0].Entry.Amount)
}

func TestRecordActivity_CustomQuestXP(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t, gamification.WithQuestXP(map[gamification.Quest]int{gamification.QuestWater: 7}, 0))

	res, err := e.RecordActivity(ctx, day(0), perfectPatch())
	require.NoError(t, err)
	require.Len(t, res.Rewards, 1)
	require.Equal(t, 7, res.Rewards[0].TotalXP)
}

func TestRecordActivity_Validation(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	_, err := e.RecordActivity(ctx, day(1), gamification.ActivityPatch{Water: ptr(true)})
	require.ErrorIs(t, err, gamification.ErrFutureDate)

	_, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{ProteinGrams: ptr(-1)})
	require.ErrorIs(t, err, gamification.ErrInvalidInput)

	_, err = e.RecordActivity(ctx, gamification.Day{}, gamification.ActivityPatch{})
	require.ErrorIs(t, err, gamification.ErrInvalidInput)
}

func TestRecordActivity_PartialPatchKeepsFields(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	_, err := e.RecordActivity(ctx, day(-1), gamification.ActivityPatch{Water: ptr(true), WorkoutCategory: ptr(" Legs ")})
	require.NoError(t, err)
	res, err := e.RecordActivity(ctx, day(-1), gamification.ActivityPatch{CleanDiet: ptr(true)})
	require.NoError(t, err)
	require.True(t, res.Record.Water)
	require.True(t, res.Record.CleanDiet)
	require.Equal(t, "legs", res.Record.WorkoutCategory)

	rec, err := e.Activity(ctx, day(-1))
	require.NoError(t, err)
	require.Equal(t, res.Record.Water, rec.Water)
}

func TestRecordActivity_StampsWorkoutOnlyToday(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	res, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)
	require.NotNil(t, res.Record.WorkoutAt)
	require.True(t, res.Record.WorkoutAt.Equal(wednesday))

	res, err = e.RecordActivity(ctx, day(-2), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)
	require.Nil(t, res.Record.WorkoutAt)

	explicit := time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)
	res, err = e.RecordActivity(ctx, day(-1), gamification.ActivityPatch{Workout: ptr(true), WorkoutAt: &explicit})
	require.NoError(t, err)
	require.True(t, res.Record.WorkoutAt.Equal(explicit))
}

func TestActivity_NotFound(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.Activity(context.Background(), day(-3))
	require.ErrorIs(t, err, gamification.ErrNotFound)
}

func TestActivityRange(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	for off := -4; off <= 0; off++ {
		_, err := e.RecordActivity(ctx, day(off), gamification.ActivityPatch{Water: ptr(true)})
		require.NoError(t, err)
	}

	recs, err := e.ActivityRange(ctx, day(-3), day(-1))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, day(-1), recs[0].Date)

	all, err := e.ActivityRange(ctx, gamification.Day{}, gamification.Day{})
	require.NoError(t, err)
	require.Len(t, all, 5)

	_, err = e.ActivityRange(ctx, day(0), day(-1))
	require.ErrorIs(t, err, gamification.ErrInvalidInput)
}

// ── Stats and streaks ──────────────────────────────────────────────────

func TestStats_ReflectsLedger(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	for off := -2; off <= 0; off++ {
		_, err := e.RecordActivity(ctx, day(off), perfectPatch())
		require.NoError(t, err)
	}

	s, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, s.Current)
	require.Equal(t, 3, s.Longest)
	require.Equal(t, 3, s.TotalWorkouts)
	require.Equal(t, 3, s.PerfectDays)
	require.Equal(t, 390, s.TotalXP)
	require.Equal(t, 3, s.CurrentLevel)
}

func TestUseStreakFreeze(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(t)

	_, err := e.UseStreakFreeze(ctx, 3)
	require.ErrorIs(t, err, gamification.ErrNoFreezesAvailable)
	require.ErrorIs(t, err, gamification.ErrConflict)

	_, err = e.UseStreakFreeze(ctx, -1)
	require.ErrorIs(t, err, gamification.ErrInvalidInput)

	p, err := store.GetProfile(ctx, e.ProfileID())
	require.NoError(t, err)
	p.FreezesAvailable = 2
	require.NoError(t, store.SaveProfile(ctx, p))

	res, err := e.UseStreakFreeze(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, 1, res.FreezesRemaining)
	require.Equal(t, 1, res.TotalUsed)
	require.Equal(t, day(0), res.Date)

	rec, err := e.Activity(ctx, day(0))
	require.NoError(t, err)
	require.True(t, rec.StreakFrozen)

	// Same-day reuse consumes another token.
	res, err = e.UseStreakFreeze(ctx, 4)
	require.NoError(t, err)
	require.Zero(t, res.FreezesRemaining)
	require.Equal(t, 2, res.TotalUsed)

	hist, err := e.FreezeHistory(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, 4, hist[0].StreakProtected)
}

func TestFreezeBridgesStreak(t *testing.T) {
	ctx := context.Background()
	e, store, clk := newEngine(t)

	for off := -2; off <= -1; off++ {
		_, err := e.RecordActivity(ctx, day(off), perfectPatch())
		require.NoError(t, err)
	}
	p, err := store.GetProfile(ctx, e.ProfileID())
	require.NoError(t, err)
	p.FreezesAvailable = 1
	require.NoError(t, store.SaveProfile(ctx, p))

	_, err = e.UseStreakFreeze(ctx, 2)
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	_, err = e.RecordActivity(ctx, day(1), perfectPatch())
	require.NoError(t, err)

	s, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, s.Current)
	require.Equal(t, 1, s.FreezesUsed)
}

func TestFreezeAfterMissedDayKeepsStreak(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(t)

	for off := -3; off <= -2; off++ {
		_, err := e.RecordActivity(ctx, day(off), perfectPatch())
		require.NoError(t, err)
	}
	p, err := store.GetProfile(ctx, e.ProfileID())
	require.NoError(t, err)
	p.FreezesAvailable = 1
	require.NoError(t, store.SaveProfile(ctx, p))

	// Yesterday was never logged.
	_, err = e.UseStreakFreeze(ctx, 2)
	require.NoError(t, err)

	s, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, s.Current)
	require.Equal(t, 3, s.Longest)
}

// ── Achievements ───────────────────────────────────────────────────────

func TestEvaluateAchievements_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	_, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true), WorkoutCategory: ptr("legs")})
	require.NoError(t, err)

	first, err := e.EvaluateAchievements(ctx)
	require.NoError(t, err)
	require.Len(t, first.Unlocked, 1)
	require.Equal(t, "first_workout", first.Unlocked[0].Key)
	require.NotNil(t, first.Unlocked[0].Grant)
	require.Equal(t, 80, first.Unlocked[0].Grant.TotalXP)
	require.Zero(t, first.PreviouslyUnlocked)

	second, err := e.EvaluateAchievements(ctx)
	require.NoError(t, err)
	require.Empty(t, second.Unlocked)
	require.Equal(t, 1, second.PreviouslyUnlocked)

	p, err := e.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, 80, p.TotalXP)
}

func TestEvaluateAchievements_RewardsFreezes(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	for off := -6; off <= 0; off++ {
		_, err := e.RecordActivity(ctx, day(off), perfectPatch())
		require.NoError(t, err)
	}
	res, err := e.EvaluateAchievements(ctx)
	require.NoError(t, err)

	keys := map[string]bool{}
	for _, u := range res.Unlocked {
		keys[u.Key] = true
	}
	for _, k := range []string{"first_workout", "streak_3", "streak_7", "water_7", "protein_7", "clean_diet_7", "perfect_1"} {
		require.True(t, keys[k], "expected %s to unlock", k)
	}

	p, err := e.Profile(ctx)
	require.NoError(t, err)
	// 910 XP from seven perfect days is level 5: streak_7 and level_5 pay one freeze each.
	require.True(t, keys["level_5"])
	require.Equal(t, 2, p.FreezesAvailable)
}

func TestAchievementProgress(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	_, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)

	prog, err := e.AchievementProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, gamification.AchievementProgress{Current: 1, Required: 10, Completed: false}, prog["workouts_10"])
	require.True(t, prog["first_workout"].Completed)

	statuses, err := e.Achievements(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(gamification.DefaultCatalog()))
	require.False(t, statuses[0].Unlocked, "not unlocked until evaluated")
}

func TestAchievement_SingleKey(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	_, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)
	_, err = e.EvaluateAchievements(ctx)
	require.NoError(t, err)

	st, err := e.Achievement(ctx, "first_workout")
	require.NoError(t, err)
	require.True(t, st.Unlocked)
	require.NotNil(t, st.UnlockedAt)
	require.True(t, st.Progress.Completed)

	st, err = e.Achievement(ctx, "workouts_10")
	require.NoError(t, err)
	require.False(t, st.Unlocked)
	require.Equal(t, 1, st.Progress.Current)

	_, err = e.Achievement(ctx, "nope")
	require.ErrorIs(t, err, gamification.ErrUnknownAchievement)
	require.ErrorIs(t, err, gamification.ErrInvalidInput)
}

// ── Challenges ─────────────────────────────────────────────────────────

func routingTemplates() []gamification.ChallengeTemplate {
	return []gamification.ChallengeTemplate{
		{Key: "legs_2", Title: "Legs", Category: gamification.ChallengeLegs, Target: 2, XPReward: 100},
		{Key: "workouts_3", Title: "Workouts", Category: gamification.ChallengeWorkout, Target: 3, XPReward: 150},
	}
}

func findChallenge(t *testing.T, cs []gamification.Challenge, tpl string) gamification.Challenge {
	t.Helper()
	for _, c := range cs {
		if c.TemplateKey == tpl {
			return c
		}
	}
	t.Fatalf("no challenge from template %s", tpl)
	return gamification.Challenge{}
}

func TestGenerateChallenges_ReusesCurrentPeriod(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	first, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	require.Len(t, first, gamification.DefaultWeeklyChallenges)
	for _, c := range first {
		require.True(t, c.Active)
		require.True(t, c.PeriodStart.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
		require.True(t, c.PeriodEnd.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))
		require.Equal(t, c.TemplateKey+":2024-03-04", c.Key)
	}

	again, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	require.ElementsMatch(t, ids(first), ids(again))
}

func TestGenerateChallenges_ForceReplaces(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	first, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	forced, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, true)
	require.NoError(t, err)
	require.Len(t, forced, gamification.DefaultWeeklyChallenges)

	active, err := e.Challenges(ctx, gamification.ChallengeFilter{Type: gamification.PeriodWeekly, ActiveOnly: true})
	require.NoError(t, err)
	require.ElementsMatch(t, ids(forced), ids(active))

	_, err = e.IncrementChallengeProgress(ctx, first[0].ID, 1)
	require.ErrorIs(t, err, gamification.ErrChallengeInactive)
}

func TestGenerateChallenges_NewWeekRotates(t *testing.T) {
	ctx := context.Background()
	e, _, clk := newEngine(t)

	first, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)

	clk.Advance(7 * 24 * time.Hour)
	next, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	require.True(t, next[0].PeriodStart.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))

	all, err := e.Challenges(ctx, gamification.ChallengeFilter{Type: gamification.PeriodWeekly})
	require.NoError(t, err)
	require.Len(t, all, len(first)+len(next))
	for _, c := range all {
		require.Equal(t, c.PeriodStart.Equal(next[0].PeriodStart), c.Active)
	}
}

func TestGenerateChallenges_Monthly(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	got, err := e.GenerateChallenges(ctx, gamification.PeriodMonthly, false)
	require.NoError(t, err)
	require.Len(t, got, gamification.DefaultMonthlyChallenges)
	require.True(t, got[0].PeriodStart.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, got[0].PeriodEnd.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))

	weekly, err := e.Challenges(ctx, gamification.ChallengeFilter{Type: gamification.PeriodWeekly})
	require.NoError(t, err)
	require.Empty(t, weekly)
}

func TestGenerateChallenges_SeededSelectionIsDeterministic(t *testing.T) {
	ctx := context.Background()
	keys := func() []string {
		e, _, _ := newEngine(t, gamification.WithRand(rand.New(rand.NewPCG(99, 7))))
		cs, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
		require.NoError(t, err)
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.TemplateKey
		}
		return out
	}
	require.Equal(t, keys(), keys())
}

func TestGenerateChallenges_UnknownPeriod(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.GenerateChallenges(context.Background(), gamification.PeriodType("daily"), false)
	require.ErrorIs(t, err, gamification.ErrUnknownPeriod)
}

func TestChallengeRouting(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t,
		gamification.WithChallengeTemplates(routingTemplates(), nil),
		gamification.WithChallengeCounts(2, 0),
	)
	cs, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	legs := findChallenge(t, cs, "legs_2")
	generic := findChallenge(t, cs, "workouts_3")

	res, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true), WorkoutCategory: ptr("legs")})
	require.NoError(t, err)
	require.Len(t, res.Challenges, 1)
	require.Equal(t, legs.ID, res.Challenges[0].Challenge.ID)
	require.Equal(t, 1, res.Challenges[0].Challenge.Progress.Current)

	res, err = e.RecordActivity(ctx, day(-1), gamification.ActivityPatch{Workout: ptr(true), WorkoutCategory: ptr("chest")})
	require.NoError(t, err)
	require.Len(t, res.Challenges, 1)
	require.Equal(t, generic.ID, res.Challenges[0].Challenge.ID)

	// Sunday belongs to the previous week.
	res, err = e.RecordActivity(ctx, day(-3), gamification.ActivityPatch{Workout: ptr(true), WorkoutCategory: ptr("legs")})
	require.NoError(t, err)
	require.Empty(t, res.Challenges)

	res, err = e.RecordActivity(ctx, day(-2), gamification.ActivityPatch{Workout: ptr(true), WorkoutCategory: ptr("legs")})
	require.NoError(t, err)
	require.Len(t, res.Challenges, 1)
	require.True(t, res.Challenges[0].JustCompleted)
	require.NotNil(t, res.Challenges[0].Challenge.Progress.CompletedAt)
}

func TestChallengeRouting_ZeroXPQuestToggleRoutesOnce(t *testing.T) {
	ctx := context.Background()
	quests := gamification.DefaultQuestXP()
	quests[gamification.QuestWorkout] = 0
	e, _, _ := newEngine(t,
		gamification.WithQuestXP(quests, gamification.DefaultPerfectDayXP),
		gamification.WithChallengeTemplates(routingTemplates(), nil),
		gamification.WithChallengeCounts(2, 0),
	)
	cs, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	generic := findChallenge(t, cs, "workouts_3")

	res, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)
	require.Empty(t, res.Rewards)
	require.Len(t, res.Challenges, 1)

	_, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(false)})
	require.NoError(t, err)
	res, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)
	require.Empty(t, res.Challenges)

	list, err := e.Challenges(ctx, gamification.ChallengeFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Equal(t, 1, findChallenge(t, list, generic.TemplateKey).Progress.Current)

	hist, err := e.XPHistory(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, hist, "zero-amount markers stay out of history")
}

func TestChallengeRouting_LateCategory(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t,
		gamification.WithChallengeTemplates(routingTemplates(), nil),
		gamification.WithChallengeCounts(2, 0),
	)
	cs, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	legs := findChallenge(t, cs, "legs_2")

	res, err := e.RecordActivity(ctx, day(0), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)
	require.Len(t, res.Challenges, 1)
	require.Equal(t, gamification.ChallengeWorkout, res.Challenges[0].Challenge.Category)

	res, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{WorkoutCategory: ptr("Legs")})
	require.NoError(t, err)
	require.Empty(t, res.Rewards)
	require.Len(t, res.Challenges, 1)
	require.Equal(t, legs.ID, res.Challenges[0].Challenge.ID)
	require.Equal(t, 1, res.Challenges[0].Challenge.Progress.Current)

	// Clearing and re-adding the tag does not count the day again.
	_, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{WorkoutCategory: ptr("")})
	require.NoError(t, err)
	res, err = e.RecordActivity(ctx, day(0), gamification.ActivityPatch{WorkoutCategory: ptr("legs")})
	require.NoError(t, err)
	require.Empty(t, res.Challenges)

	// A late tag with no body-part challenge leaves the generic one alone.
	res, err = e.RecordActivity(ctx, day(-1), gamification.ActivityPatch{Workout: ptr(true)})
	require.NoError(t, err)
	require.Len(t, res.Challenges, 1)
	res, err = e.RecordActivity(ctx, day(-1), gamification.ActivityPatch{WorkoutCategory: ptr("chest")})
	require.NoError(t, err)
	require.Empty(t, res.Challenges)
}

// lockOrderStore records the repository calls made inside Atomic.
type lockOrderStore struct {
	*memory.Store
	calls []string
}

func (s *lockOrderStore) Atomic(ctx context.Context, fn func(repo gamification.Repository) error) error {
	return s.Store.Atomic(ctx, func(repo gamification.Repository) error {
		return fn(&lockOrderRepo{Repository: repo, calls: &s.calls})
	})
}

type lockOrderRepo struct {
	gamification.Repository
	calls *[]string
}

func (r *lockOrderRepo) GetProfile(ctx context.Context, profileID string) (gamification.Profile, error) {
	*r.calls = append(*r.calls, "GetProfile")
	return r.Repository.GetProfile(ctx, profileID)
}

func (r *lockOrderRepo) GetActivity(ctx context.Context, profileID string, d gamification.Day) (gamification.ActivityRecord, bool, error) {
	*r.calls = append(*r.calls, "GetActivity")
	return r.Repository.GetActivity(ctx, profileID, d)
}

func (r *lockOrderRepo) HasXPReference(ctx context.Context, profileID, source, ref string) (bool, error) {
	*r.calls = append(*r.calls, "HasXPReference")
	return r.Repository.HasXPReference(ctx, profileID, source, ref)
}

func TestRecordActivity_LocksProfileBeforeChecks(t *testing.T) {
	store := &lockOrderStore{Store: memory.New()}
	e, err := gamification.NewEngine(store, gamification.WithClock(func() time.Time { return wednesday }))
	require.NoError(t, err)

	_, err = e.RecordActivity(context.Background(), day(0), gamification.ActivityPatch{Water: ptr(true)})
	require.NoError(t, err)
	require.NotEmpty(t, store.calls)
	require.Equal(t, "GetProfile", store.calls[0])
	require.Contains(t, store.calls, "HasXPReference")
}

func TestChallengeIncrementAndClaim(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t,
		gamification.WithChallengeTemplates(routingTemplates(), nil),
		gamification.WithChallengeCounts(2, 0),
	)
	cs, err := e.GenerateChallenges(ctx, gamification.PeriodWeekly, false)
	require.NoError(t, err)
	generic := findChallenge(t, cs, "workouts_3")

	_, err = e.IncrementChallengeProgress(ctx, generic.ID, 0)
	require.ErrorIs(t, err, gamification.ErrInvalidAmount)
	_, err = e.IncrementChallengeProgress(ctx, "missing", 1)
	require.ErrorIs(t, err, gamification.ErrNotFound)

	_, err = e.ClaimChallenge(ctx, generic.ID)
	require.ErrorIs(t, err, gamification.ErrNotCompleted)

	upd, err := e.IncrementChallengeProgress(ctx, generic.ID, 10)
	require.NoError(t, err)
	require.True(t, upd.JustCompleted)
	require.Equal(t, 3, upd.Challenge.Progress.Current)

	upd, err = e.IncrementChallengeProgress(ctx, generic.ID, 1)
	require.NoError(t, err)
	require.True(t, upd.AlreadyCompleted)
	require.False(t, upd.JustCompleted)
	require.Equal(t, 3, upd.Challenge.Progress.Current)

	claim, err := e.ClaimChallenge(ctx, generic.ID)
	require.NoError(t, err)
	require.Equal(t, 150, claim.XPAwarded)
	require.NotNil(t, claim.Grant)
	require.Equal(t, 150, claim.Grant.TotalXP)
	require.Equal(t, gamification.SourceChallenge, claim.Grant.Entry.Source)

	_, err = e.ClaimChallenge(ctx, generic.ID)
	require.ErrorIs(t, err, gamification.ErrAlreadyClaimed)
	require.True(t, errors.Is(err, gamification.ErrConflict))

	_, err = e.ClaimChallenge(ctx, "missing")
	require.ErrorIs(t, err, gamification.ErrChallengeNotFound)

	p, err := e.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, 150, p.TotalXP)
}

func ids(cs []gamification.Challenge) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
