package gamification

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hoambaek/lifeos/internal/observability"
)

// DefaultProfileID is used when no profile is configured.
const DefaultProfileID = "default"

// DefaultQuestXP is the XP paid the first time each quest is met on a day.
func DefaultQuestXP() map[Quest]int {
	return map[Quest]int{
		QuestWater:     10,
		QuestProtein:   20,
		QuestCleanDiet: 20,
		QuestWorkout:   30,
	}
}

// DefaultPerfectDayXP is the bonus for meeting every quest on one day.
const DefaultPerfectDayXP = 50

// ActivityResult is the outcome of recording a day.
type ActivityResult struct {
	Record     ActivityRecord   `json:"record"`
	Rewards    []GrantResult    `json:"rewards"`
	Challenges []ProgressUpdate `json:"challenges"`
}

// Engine binds one profile to the progress components and serializes
// every mutation behind a single mutex.
type Engine struct {
	mu sync.Mutex

	profileID    string
	store        Store
	rules        Rules
	questXP      map[Quest]int
	perfectDayXP int
	now          func() time.Time

	stats        *StatsAggregator
	leveling     *LevelingEngine
	achievements *AchievementEngine
	challenges   *ChallengeEngine
}

type engineOptions struct {
	profileID    string
	rules        Rules
	curve        *LevelCurve
	catalog      []AchievementDefinition
	questXP      map[Quest]int
	perfectDayXP int
	now          func() time.Time
	challenges   ChallengeOptions
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithProfile sets the profile id the engine reads and writes.
func WithProfile(id string) Option {
	return func(o *engineOptions) { o.profileID = id }
}

// WithRules replaces the quest thresholds and streak predicate.
func WithRules(r Rules) Option {
	return func(o *engineOptions) { o.rules = r }
}

// WithLevelCurve replaces the default level curve.
func WithLevelCurve(c *LevelCurve) Option {
	return func(o *engineOptions) { o.curve = c }
}

// WithCatalog replaces the achievement catalog.
func WithCatalog(defs []AchievementDefinition) Option {
	return func(o *engineOptions) { o.catalog = defs }
}

// WithQuestXP sets per-quest XP and the perfect-day bonus. Quests missing
// from perQuest pay nothing.
func WithQuestXP(perQuest map[Quest]int, perfectDay int) Option {
	return func(o *engineOptions) {
		o.questXP = make(map[Quest]int, len(perQuest))
		for q, xp := range perQuest {
			o.questXP[q] = xp
		}
		o.perfectDayXP = perfectDay
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithRand sets the source used to pick challenge templates.
func WithRand(r *rand.Rand) Option {
	return func(o *engineOptions) { o.challenges.Rand = r }
}

// WithChallengeCounts sets how many challenges each generation creates.
func WithChallengeCounts(weekly, monthly int) Option {
	return func(o *engineOptions) {
		o.challenges.WeeklyCount = weekly
		o.challenges.MonthlyCount = monthly
	}
}

// WithChallengeTemplates replaces the template pools. A nil pool keeps the default.
func WithChallengeTemplates(weekly, monthly []ChallengeTemplate) Option {
	return func(o *engineOptions) {
		o.challenges.Weekly = weekly
		o.challenges.Monthly = monthly
	}
}

// NewEngine wires the components over store.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	o := engineOptions{
		profileID:    DefaultProfileID,
		rules:        DefaultRules(),
		questXP:      DefaultQuestXP(),
		perfectDayXP: DefaultPerfectDayXP,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.profileID == "" {
		return nil, fmt.Errorf("%w: empty profile id", ErrInvalidInput)
	}
	if o.curve == nil {
		o.curve = DefaultLevelCurve()
	}
	loc := o.rules.location()

	leveling := NewLevelingEngine(store, o.curve, o.now, loc)
	achievements, err := NewAchievementEngine(store, leveling, o.catalog)
	if err != nil {
		return nil, err
	}
	return &Engine{
		profileID:    o.profileID,
		store:        store,
		rules:        o.rules,
		questXP:      o.questXP,
		perfectDayXP: o.perfectDayXP,
		now:          o.now,
		stats:        NewStatsAggregator(o.rules, o.curve),
		leveling:     leveling,
		achievements: achievements,
		challenges:   NewChallengeEngine(store, leveling, o.challenges),
	}, nil
}

// ProfileID returns the bound profile.
func (e *Engine) ProfileID() string { return e.profileID }

// Today returns the current calendar day in the configured zone.
func (e *Engine) Today() Day { return DayOf(e.now(), e.rules.location()) }

// Rules returns the thresholds in use.
func (e *Engine) Rules() Rules { return e.rules }

// RecordActivity applies patch to the record for day. Every quest that
// flips from unmet to met pays its quest XP and advances matching
// challenges, at most once per quest and day. Reaching a perfect day pays
// the perfect-day bonus the same way.
func (e *Engine) RecordActivity(ctx context.Context, day Day, patch ActivityPatch) (ActivityResult, error) {
	if day.IsZero() {
		return ActivityResult{}, fmt.Errorf("%w: missing date", ErrInvalidInput)
	}
	if err := patch.validate(); err != nil {
		return ActivityResult{}, err
	}
	now := e.now()
	today := e.Today()
	if day.After(today) {
		return ActivityResult{}, ErrFutureDate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var res ActivityResult
	err := e.store.Atomic(ctx, func(repo Repository) error {
		res = ActivityResult{Rewards: []GrantResult{}, Challenges: []ProgressUpdate{}}

		// Lock the profile row first so the reference checks below are
		// serialized across processes sharing the store.
		if _, err := repo.GetProfile(ctx, e.profileID); err != nil {
			return err
		}

		before, ok, err := repo.GetActivity(ctx, e.profileID, day)
		if err != nil {
			return err
		}
		if !ok {
			before = ActivityRecord{Date: day}
		}
		after := before
		patch.apply(&after)
		after.Date = day
		if after.Workout && after.WorkoutAt == nil && day.Equal(today) {
			at := now.UTC()
			after.WorkoutAt = &at
		}
		after.UpdatedAt = now.UTC()
		if err := repo.SaveActivity(ctx, e.profileID, after); err != nil {
			return err
		}
		res.Record = after

		for _, q := range AllQuests() {
			if e.rules.Met(before, q) || !e.rules.Met(after, q) {
				continue
			}
			ev := ActivityEvent{Kind: questEvent(q), Date: day}
			if q == QuestWorkout {
				ev.BodyPart = after.WorkoutCategory
			}
			ref := fmt.Sprintf("quest:%s:%s", day, q)
			desc := fmt.Sprintf("Quest completed: %s", q)
			if err := e.reward(ctx, repo, &res, e.questXP[q], SourceQuest, ref, desc, ev); err != nil {
				return err
			}
		}

		// A category added after the workout was already done still counts
		// toward body-part challenges, once per day.
		if e.rules.Met(before, QuestWorkout) && e.rules.Met(after, QuestWorkout) &&
			before.WorkoutCategory == "" && after.WorkoutCategory != "" {
			ev := ActivityEvent{Kind: EventWorkout, BodyPart: after.WorkoutCategory, Date: day, TagOnly: true}
			ref := fmt.Sprintf("workout-tag:%s", day)
			desc := fmt.Sprintf("Workout tagged: %s", after.WorkoutCategory)
			if err := e.reward(ctx, repo, &res, 0, SourceQuest, ref, desc, ev); err != nil {
				return err
			}
		}

		if !e.rules.Perfect(before) && e.rules.Perfect(after) {
			ev := ActivityEvent{Kind: EventPerfectDay, Date: day}
			ref := fmt.Sprintf("perfect:%s", day)
			if err := e.reward(ctx, repo, &res, e.perfectDayXP, SourcePerfectDay, ref, "Perfect day", ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ActivityResult{}, err
	}

	for _, g := range res.Rewards {
		e.leveling.observe(e.profileID, g)
	}
	for _, u := range res.Challenges {
		if u.JustCompleted {
			e.challenges.observeCompleted(e.profileID, u.Challenge)
		}
	}
	return res, nil
}

// reward pays xp once per reference and routes ev to challenges. A
// reference that already exists means the day was rewarded before, so the
// event is not routed again either. Zero xp still records the reference
// as a zero-amount ledger entry.
func (e *Engine) reward(ctx context.Context, repo Repository, res *ActivityResult, xp int, source, ref, desc string, ev ActivityEvent) error {
	seen, err := repo.HasXPReference(ctx, e.profileID, source, ref)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	entry := XPTransaction{Amount: xp, Source: source, ReferenceID: ref, Description: desc}
	if xp != 0 {
		g, err := e.leveling.grant(ctx, repo, e.profileID, entry)
		if err != nil {
			return err
		}
		res.Rewards = append(res.Rewards, g)
	} else if err := e.leveling.mark(ctx, repo, e.profileID, entry); err != nil {
		return err
	}
	if !ev.TagOnly {
		observability.RecordQuestCompleted(string(ev.Kind))
	}

	updates, err := e.challenges.route(ctx, repo, e.profileID, ev)
	if err != nil {
		return err
	}
	res.Challenges = append(res.Challenges, updates...)
	return nil
}

// Activity returns the record for day.
func (e *Engine) Activity(ctx context.Context, day Day) (ActivityRecord, error) {
	rec, ok, err := e.store.GetActivity(ctx, e.profileID, day)
	if err != nil {
		return ActivityRecord{}, err
	}
	if !ok {
		return ActivityRecord{}, fmt.Errorf("%w: %s", ErrActivityNotFound, day)
	}
	return rec, nil
}

// ActivityRange returns records between from and to inclusive, newest
// first. Two zero days return the whole ledger.
func (e *Engine) ActivityRange(ctx context.Context, from, to Day) ([]ActivityRecord, error) {
	if from.IsZero() && to.IsZero() {
		return e.store.ListActivity(ctx, e.profileID)
	}
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: both ends of the range are required", ErrInvalidInput)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: range start %s is after end %s", ErrInvalidInput, from, to)
	}
	return e.store.ListActivityRange(ctx, e.profileID, from, to)
}

// GrantXP appends a manual ledger entry. Negative amounts are corrections.
func (e *Engine) GrantXP(ctx context.Context, amount int, source, description string) (GrantResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leveling.GrantXP(ctx, e.profileID, amount, source, description)
}

// Profile returns the profile, creating it on first use.
func (e *Engine) Profile(ctx context.Context) (Profile, error) {
	return e.store.GetProfile(ctx, e.profileID)
}

// LevelProgress returns the position within the current level.
func (e *Engine) LevelProgress(ctx context.Context) (LevelProgress, error) {
	p, err := e.store.GetProfile(ctx, e.profileID)
	if err != nil {
		return LevelProgress{}, err
	}
	return e.leveling.Curve().Progress(p.TotalXP), nil
}

// XPHistory returns the newest ledger entries first.
func (e *Engine) XPHistory(ctx context.Context, limit int) ([]XPTransaction, error) {
	return e.store.ListXP(ctx, e.profileID, limit)
}

// Stats recomputes the snapshot from the full ledger.
func (e *Engine) Stats(ctx context.Context) (Snapshot, error) {
	records, err := e.store.ListActivity(ctx, e.profileID)
	if err != nil {
		return Snapshot{}, err
	}
	p, err := e.store.GetProfile(ctx, e.profileID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := e.stats.Aggregate(records, p, e.Today())
	observability.SetStreak(snap.Current, snap.Longest)
	return snap, nil
}

// EvaluateAchievements unlocks everything the current snapshot qualifies for.
func (e *Engine) EvaluateAchievements(ctx context.Context) (EvaluationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, err := e.Stats(ctx)
	if err != nil {
		return EvaluationResult{}, err
	}
	return e.achievements.EvaluateAll(ctx, e.profileID, snap)
}

// AchievementProgress reports progress for every catalog entry.
func (e *Engine) AchievementProgress(ctx context.Context) (map[string]AchievementProgress, error) {
	snap, err := e.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return e.achievements.Progress(ctx, e.profileID, snap)
}

// Achievements lists the catalog with unlock state and progress.
func (e *Engine) Achievements(ctx context.Context) ([]AchievementStatus, error) {
	snap, err := e.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return e.achievements.Statuses(ctx, e.profileID, snap)
}

// Achievement returns the status of the catalog entry key.
func (e *Engine) Achievement(ctx context.Context, key string) (AchievementStatus, error) {
	snap, err := e.Stats(ctx)
	if err != nil {
		return AchievementStatus{}, err
	}
	return e.achievements.Status(ctx, e.profileID, key, snap)
}

// UseStreakFreeze spends a freeze token on today.
func (e *Engine) UseStreakFreeze(ctx context.Context, currentStreak int) (FreezeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leveling.UseStreakFreeze(ctx, e.profileID, currentStreak)
}

// FreezeHistory lists consumed freezes, newest first.
func (e *Engine) FreezeHistory(ctx context.Context) ([]FreezeUse, error) {
	return e.store.ListFreezeUses(ctx, e.profileID)
}

// GenerateChallenges ensures the current period of typ has challenges.
func (e *Engine) GenerateChallenges(ctx context.Context, typ PeriodType, force bool) ([]Challenge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.challenges.Generate(ctx, e.profileID, typ, force)
}

// Challenges lists challenges matching f.
func (e *Engine) Challenges(ctx context.Context, f ChallengeFilter) ([]Challenge, error) {
	return e.challenges.List(ctx, e.profileID, f)
}

// IncrementChallengeProgress advances a challenge by amount.
func (e *Engine) IncrementChallengeProgress(ctx context.Context, id string, amount int) (ProgressUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.challenges.Increment(ctx, e.profileID, id, amount)
}

// ClaimChallenge pays out a completed challenge.
func (e *Engine) ClaimChallenge(ctx context.Context, id string) (ClaimResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.challenges.Claim(ctx, e.profileID, id)
	if err == nil {
		log.Printf("profile %s claimed challenge %s for %d XP", e.profileID, id, res.XPAwarded)
	}
	return res, err
}
