package mock

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hoambaek/lifeos/internal/gamification"
)

// habitProfile scripts how a synthetic user behaves day to day.
type habitProfile struct {
	pattern     string
	waterRate   float64
	dietRate    float64
	workoutRate float64
	proteinBase int
	workoutHour int
	categories  []string
	catIdx      int
}

var commonCategories = []string{"legs", "back", "chest", "shoulders", "arms", "cardio"}

// Patterns lists the behaviours NewGenerator accepts.
func Patterns() []string {
	return []string{"steady", "burst", "lapse", "methodical"}
}

func profileFor(pattern string) (*habitProfile, error) {
	switch pattern {
	case "steady":
		return &habitProfile{
			pattern: pattern, waterRate: 0.95, dietRate: 0.85, workoutRate: 0.8,
			proteinBase: 155, workoutHour: 7,
			categories: []string{"legs", "back", "chest", "shoulders"},
		}, nil
	case "burst":
		return &habitProfile{
			pattern: pattern, waterRate: 0.8, dietRate: 0.6, workoutRate: 0.9,
			proteinBase: 170, workoutHour: 18,
			categories: []string{"chest", "arms", "chest", "shoulders"},
		}, nil
	case "lapse":
		return &habitProfile{
			pattern: pattern, waterRate: 0.9, dietRate: 0.7, workoutRate: 0.7,
			proteinBase: 140, workoutHour: 22,
			categories: []string{"cardio", "legs", "back"},
		}, nil
	case "methodical":
		return &habitProfile{
			pattern: pattern, waterRate: 1, dietRate: 0.9, workoutRate: 0.6,
			proteinBase: 150, workoutHour: 6,
			categories: commonCategories,
		}, nil
	}
	return nil, fmt.Errorf("unknown mock pattern %q", pattern)
}

// Summary reports what a Seed run produced.
type Summary struct {
	Days        int `json:"days"`
	Rewards     int `json:"rewards"`
	XPEarned    int `json:"xpEarned"`
	Unlocked    int `json:"unlocked"`
	Challenges  int `json:"challenges"`
	Claimed     int `json:"claimed"`
	FreezesUsed int `json:"freezesUsed"`
}

// Generator writes synthetic activity history through an Engine so every
// reward, unlock and challenge update follows the normal rules.
type Generator struct {
	engine  *gamification.Engine
	rng     *rand.Rand
	profile *habitProfile
}

// NewGenerator returns a generator for pattern. The same seed always
// produces the same history.
func NewGenerator(engine *gamification.Engine, pattern string, seed uint64) (*Generator, error) {
	p, err := profileFor(pattern)
	if err != nil {
		return nil, err
	}
	return &Generator{
		engine:  engine,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		profile: p,
	}, nil
}

// Seed records days of history ending today, then evaluates achievements
// and claims any challenge the history completed.
func (g *Generator) Seed(ctx context.Context, days int) (Summary, error) {
	if days <= 0 {
		return Summary{}, fmt.Errorf("days must be positive, got %d", days)
	}

	var sum Summary
	for _, typ := range []gamification.PeriodType{gamification.PeriodWeekly, gamification.PeriodMonthly} {
		list, err := g.engine.GenerateChallenges(ctx, typ, false)
		if err != nil {
			return sum, fmt.Errorf("generate %s challenges: %w", typ, err)
		}
		sum.Challenges += len(list)
	}

	today := g.engine.Today()
	loc := g.engine.Rules().Location
	if loc == nil {
		loc = time.UTC
	}
	start := today.AddDays(-(days - 1))
	for i := 0; i < days; i++ {
		day := start.AddDays(i)
		patch, ok := g.advance(day, i, loc)
		if !ok {
			continue
		}
		res, err := g.engine.RecordActivity(ctx, day, patch)
		if err != nil {
			return sum, fmt.Errorf("record %s: %w", day, err)
		}
		sum.Days++
		sum.Rewards += len(res.Rewards)
		for _, r := range res.Rewards {
			sum.XPEarned += r.Entry.Amount
		}
	}

	eval, err := g.engine.EvaluateAchievements(ctx)
	if err != nil {
		return sum, fmt.Errorf("evaluate achievements: %w", err)
	}
	sum.Unlocked = len(eval.Unlocked)

	active, err := g.engine.Challenges(ctx, gamification.ChallengeFilter{ActiveOnly: true})
	if err != nil {
		return sum, err
	}
	for _, c := range active {
		if !c.Progress.Completed || c.Progress.Claimed {
			continue
		}
		res, err := g.engine.ClaimChallenge(ctx, c.ID)
		if err != nil {
			return sum, fmt.Errorf("claim %s: %w", c.Key, err)
		}
		sum.Claimed++
		sum.XPEarned += res.XPAwarded
	}

	// A lapsing user protects the streak they just rebuilt.
	if g.profile.pattern == "lapse" {
		snap, err := g.engine.Stats(ctx)
		if err != nil {
			return sum, err
		}
		if snap.FreezesAvailable > 0 {
			if _, err := g.engine.UseStreakFreeze(ctx, snap.Current); err != nil {
				return sum, fmt.Errorf("use freeze: %w", err)
			}
			sum.FreezesUsed++
		}
	}

	log.Printf("mock %s: seeded %d days, %d rewards, %d XP, %d unlocked, %d claimed",
		g.profile.pattern, sum.Days, sum.Rewards, sum.XPEarned, sum.Unlocked, sum.Claimed)
	return sum, nil
}

// advance builds the patch for the i-th seeded day. ok is false when the
// user logged nothing at all.
func (g *Generator) advance(day gamification.Day, i int, loc *time.Location) (gamification.ActivityPatch, bool) {
	p := g.profile
	rate := 1.0
	switch p.pattern {
	case "burst":
		// Five strong days, then two quiet ones.
		if i%7 >= 5 {
			rate = 0.3
		}
	case "lapse":
		// Work for twenty days, then drop off for four.
		if i%24 >= 20 {
			return gamification.ActivityPatch{}, false
		}
	case "methodical":
		rate = 0.85 + 0.15*math.Sin(float64(i)/5.0)
	}

	var patch gamification.ActivityPatch
	patch.Water = boolPtr(g.rng.Float64() < p.waterRate*rate)
	patch.CleanDiet = boolPtr(g.rng.Float64() < p.dietRate*rate)

	protein := int(float64(p.proteinBase)*rate) + g.rng.IntN(40) - 20
	if protein < 0 {
		protein = 0
	}
	patch.ProteinGrams = &protein

	if p.pattern == "methodical" && i%2 == 1 {
		patch.Workout = boolPtr(false)
	} else {
		patch.Workout = boolPtr(g.rng.Float64() < p.workoutRate*rate)
	}
	if *patch.Workout {
		cat := p.categories[p.catIdx%len(p.categories)]
		p.catIdx++
		at := day.Start(loc).Add(time.Duration(p.workoutHour)*time.Hour + time.Duration(g.rng.IntN(50))*time.Minute)
		patch.WorkoutCategory = &cat
		patch.WorkoutAt = &at
	}
	return patch, true
}

func boolPtr(b bool) *bool { return &b }
