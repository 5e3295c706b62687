package gamification

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hoambaek/lifeos/internal/observability"
)

// XP sources recorded on ledger entries.
const (
	SourceManual      = "manual"
	SourceQuest       = "quest"
	SourcePerfectDay  = "perfect_day"
	SourceAchievement = "achievement"
	SourceChallenge   = "challenge"
)

const (
	DefaultLevelBase   = 150
	DefaultLevelGrowth = 50
	DefaultMaxLevel    = 50
)

// LevelCurve maps cumulative XP to a level. thresholds[i] is the total XP
// at which level i+2 starts; level 1 always starts at 0. The table is
// strictly increasing and never changes after construction, so the level
// for a fixed XP total is stable for the life of the process.
type LevelCurve struct {
	thresholds []int
}

// NewLevelCurve builds a curve from explicit start thresholds for levels
// 2, 3, ... in order.
func NewLevelCurve(thresholds []int) (*LevelCurve, error) {
	prev := 0
	for i, th := range thresholds {
		if th <= prev {
			return nil, fmt.Errorf("%w: level %d threshold %d must exceed %d", ErrInvalidInput, i+2, th, prev)
		}
		prev = th
	}
	cp := make([]int, len(thresholds))
	copy(cp, thresholds)
	return &LevelCurve{thresholds: cp}, nil
}

// GrowingLevelCurve builds a curve where reaching level 2 costs base XP and
// every later level costs growth more than the one before it:
//
//	level 2 at base, level 3 at 2*base+growth, level 4 at 3*base+3*growth, ...
func GrowingLevelCurve(base, growth, maxLevel int) (*LevelCurve, error) {
	if base <= 0 || growth < 0 || maxLevel < 1 {
		return nil, fmt.Errorf("%w: base=%d growth=%d maxLevel=%d", ErrInvalidInput, base, growth, maxLevel)
	}
	thresholds := make([]int, 0, maxLevel-1)
	total, cost := 0, base
	for level := 2; level <= maxLevel; level++ {
		total += cost
		thresholds = append(thresholds, total)
		cost += growth
	}
	return NewLevelCurve(thresholds)
}

// DefaultLevelCurve is GrowingLevelCurve with the default constants.
func DefaultLevelCurve() *LevelCurve {
	c, err := GrowingLevelCurve(DefaultLevelBase, DefaultLevelGrowth, DefaultMaxLevel)
	if err != nil {
		panic(err)
	}
	return c
}

// Level returns the level for totalXP. Level(0) is 1 and the result is
// non-decreasing in totalXP.
func (c *LevelCurve) Level(totalXP int) int {
	n := sort.Search(len(c.thresholds), func(i int) bool { return c.thresholds[i] > totalXP })
	return n + 1
}

// MaxLevel is the highest reachable level.
func (c *LevelCurve) MaxLevel() int { return len(c.thresholds) + 1 }

// Threshold returns the total XP at which level starts.
func (c *LevelCurve) Threshold(level int) int {
	if level <= 1 {
		return 0
	}
	if level > c.MaxLevel() {
		level = c.MaxLevel()
	}
	return c.thresholds[level-2]
}

// LevelProgress describes the position within the current level.
type LevelProgress struct {
	Level       int     `json:"level"`
	TotalXP     int     `json:"totalXp"`
	XPIntoLevel int     `json:"xpIntoLevel"`
	XPForNext   int     `json:"xpForNext"` // 0 at max level
	Pct         float64 `json:"pct"`       // 0.0-1.0 within the level
}

// Progress computes display-ready progress for totalXP. At the max level
// Pct is always 1.
func (c *LevelCurve) Progress(totalXP int) LevelProgress {
	level := c.Level(totalXP)
	p := LevelProgress{Level: level, TotalXP: totalXP, Pct: 1}
	start := c.Threshold(level)
	p.XPIntoLevel = max(totalXP-start, 0)
	if level < c.MaxLevel() {
		span := c.Threshold(level+1) - start
		p.XPForNext = span - p.XPIntoLevel
		p.Pct = min(max(float64(p.XPIntoLevel)/float64(span), 0), 1)
	}
	return p
}

// GrantResult reports the profile state after an XP grant.
type GrantResult struct {
	TotalXP   int           `json:"totalXp"`
	Level     int           `json:"currentLevel"`
	LeveledUp bool          `json:"leveledUp"`
	NewLevel  int           `json:"newLevel,omitempty"`
	Entry     XPTransaction `json:"transaction"`
}

// FreezeResult reports token balances after a freeze is consumed.
type FreezeResult struct {
	FreezesRemaining int `json:"freezesRemaining"`
	TotalUsed        int `json:"totalUsed"`
	Date             Day `json:"date"`
}

// LevelingEngine owns the XP ledger, the cached XP/level on the profile,
// and the streak-freeze balance.
type LevelingEngine struct {
	store Store
	curve *LevelCurve
	now   func() time.Time
	loc   *time.Location
}

// NewLevelingEngine returns a leveling engine over store.
func NewLevelingEngine(store Store, curve *LevelCurve, now func() time.Time, loc *time.Location) *LevelingEngine {
	if curve == nil {
		curve = DefaultLevelCurve()
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &LevelingEngine{store: store, curve: curve, now: now, loc: loc}
}

// Curve returns the level curve in use.
func (l *LevelingEngine) Curve() *LevelCurve { return l.curve }

// GrantXP appends a ledger entry and recomputes the cached total and level.
func (l *LevelingEngine) GrantXP(ctx context.Context, profileID string, amount int, source, description string) (GrantResult, error) {
	var res GrantResult
	err := l.store.Atomic(ctx, func(repo Repository) error {
		var err error
		res, err = l.grant(ctx, repo, profileID, XPTransaction{
			Amount:      amount,
			Source:      source,
			Description: description,
		})
		return err
	})
	if err != nil {
		return GrantResult{}, err
	}
	l.observe(profileID, res)
	return res, nil
}

// grant runs inside an open transaction. The profile row is read first so
// that stores which lock on read serialize concurrent grants.
func (l *LevelingEngine) grant(ctx context.Context, repo Repository, profileID string, entry XPTransaction) (GrantResult, error) {
	if entry.Amount == 0 {
		return GrantResult{}, ErrInvalidAmount
	}
	if entry.Source == "" {
		entry.Source = SourceManual
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := l.now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	p, err := repo.GetProfile(ctx, profileID)
	if err != nil {
		return GrantResult{}, err
	}
	oldLevel := p.Level

	if err := repo.AppendXP(ctx, profileID, entry); err != nil {
		return GrantResult{}, err
	}
	total, err := repo.SumXP(ctx, profileID)
	if err != nil {
		return GrantResult{}, err
	}

	p.TotalXP = total
	p.Level = l.curve.Level(total)
	p.UpdatedAt = now
	if err := repo.SaveProfile(ctx, p); err != nil {
		return GrantResult{}, err
	}

	res := GrantResult{TotalXP: p.TotalXP, Level: p.Level, Entry: entry}
	if p.Level > oldLevel {
		res.LeveledUp = true
		res.NewLevel = p.Level
	}
	return res, nil
}

// mark appends a zero-amount entry that only records entry's reference.
func (l *LevelingEngine) mark(ctx context.Context, repo Repository, profileID string, entry XPTransaction) error {
	entry.Amount = 0
	entry.ID = uuid.NewString()
	entry.CreatedAt = l.now().UTC()
	return repo.AppendXP(ctx, profileID, entry)
}

// observe records metrics and logs for a committed grant.
func (l *LevelingEngine) observe(profileID string, res GrantResult) {
	observability.RecordXPGranted(res.Entry.Source, res.Entry.Amount)
	observability.SetLevel(res.Level, res.TotalXP)
	if res.LeveledUp {
		observability.RecordLevelUp()
		log.Printf("profile %s reached level %d (%d XP)", profileID, res.NewLevel, res.TotalXP)
	}
}

// UseStreakFreeze consumes one freeze token and marks today's record frozen.
// currentStreak is the streak being protected and is kept in the usage log.
func (l *LevelingEngine) UseStreakFreeze(ctx context.Context, profileID string, currentStreak int) (FreezeResult, error) {
	if currentStreak < 0 {
		return FreezeResult{}, fmt.Errorf("%w: streak must not be negative", ErrInvalidInput)
	}
	now := l.now()
	today := DayOf(now, l.loc)

	var res FreezeResult
	err := l.store.Atomic(ctx, func(repo Repository) error {
		p, err := repo.GetProfile(ctx, profileID)
		if err != nil {
			return err
		}
		if p.FreezesAvailable <= 0 {
			return ErrNoFreezesAvailable
		}

		rec, ok, err := repo.GetActivity(ctx, profileID, today)
		if err != nil {
			return err
		}
		if !ok {
			rec = ActivityRecord{Date: today}
		}
		rec.StreakFrozen = true
		rec.UpdatedAt = now.UTC()
		if err := repo.SaveActivity(ctx, profileID, rec); err != nil {
			return err
		}

		if err := repo.AppendFreezeUse(ctx, profileID, FreezeUse{
			ID:              uuid.NewString(),
			Date:            today,
			StreakProtected: currentStreak,
			UsedAt:          now.UTC(),
		}); err != nil {
			return err
		}

		p.FreezesAvailable--
		p.FreezesUsed++
		p.UpdatedAt = now.UTC()
		if err := repo.SaveProfile(ctx, p); err != nil {
			return err
		}
		res = FreezeResult{FreezesRemaining: p.FreezesAvailable, TotalUsed: p.FreezesUsed, Date: today}
		return nil
	})
	if err != nil {
		return FreezeResult{}, err
	}

	observability.RecordFreezeUsed()
	log.Printf("profile %s used a streak freeze on %s protecting a %d-day streak (%d left)",
		profileID, today, currentStreak, res.FreezesRemaining)
	return res, nil
}

// addFreezes credits n freeze tokens inside an open transaction.
func (l *LevelingEngine) addFreezes(ctx context.Context, repo Repository, profileID string, n int) error {
	if n == 0 {
		return nil
	}
	p, err := repo.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	p.FreezesAvailable += n
	p.UpdatedAt = l.now().UTC()
	return repo.SaveProfile(ctx, p)
}
