package gamification

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoambaek/lifeos/internal/observability"
)

// PeriodType is the calendar window a challenge is scoped to.
type PeriodType string

const (
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// ParsePeriodType validates a period name.
func ParsePeriodType(s string) (PeriodType, error) {
	switch p := PeriodType(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodWeekly, PeriodMonthly:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// ChallengeCategory decides which activity events advance a challenge.
type ChallengeCategory string

const (
	ChallengeWorkout    ChallengeCategory = "workout" // any workout not taken by a body-part challenge
	ChallengeLegs       ChallengeCategory = "legs"
	ChallengeBack       ChallengeCategory = "back"
	ChallengeChest      ChallengeCategory = "chest"
	ChallengeShoulders  ChallengeCategory = "shoulders"
	ChallengeWater      ChallengeCategory = "water"
	ChallengeProtein    ChallengeCategory = "protein"
	ChallengeCleanDiet  ChallengeCategory = "clean_diet"
	ChallengePerfectDay ChallengeCategory = "perfect_day"
)

// bodyPart returns the workout tag a body-part category matches.
func (c ChallengeCategory) bodyPart() (string, bool) {
	switch c {
	case ChallengeLegs, ChallengeBack, ChallengeChest, ChallengeShoulders:
		return string(c), true
	}
	return "", false
}

// EventKind classifies an activity event routed to challenges.
type EventKind string

const (
	EventWorkout    EventKind = "workout"
	EventWater      EventKind = "water"
	EventProtein    EventKind = "protein"
	EventCleanDiet  EventKind = "clean_diet"
	EventPerfectDay EventKind = "perfect_day"
)

// ActivityEvent is a quest transition on a given day.
type ActivityEvent struct {
	Kind     EventKind
	BodyPart string // workouts only; may be empty
	Date     Day
	// TagOnly marks a late category on an already-routed workout. It only
	// advances body-part challenges.
	TagOnly bool
}

func questEvent(q Quest) EventKind {
	switch q {
	case QuestWater:
		return EventWater
	case QuestProtein:
		return EventProtein
	case QuestCleanDiet:
		return EventCleanDiet
	}
	return EventWorkout
}

// ChallengeTemplate is a catalog entry challenges are generated from.
type ChallengeTemplate struct {
	Key         string
	Title       string
	Description string
	Category    ChallengeCategory
	Target      int
	XPReward    int
}

// ChallengeDefinition is one generated challenge instance.
type ChallengeDefinition struct {
	ID          string            `json:"id"`
	Key         string            `json:"key"`
	TemplateKey string            `json:"templateKey"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Category    ChallengeCategory `json:"category"`
	Type        PeriodType        `json:"type"`
	Target      int               `json:"target"`
	XPReward    int               `json:"xpReward"`
	PeriodStart time.Time         `json:"periodStart"`
	PeriodEnd   time.Time         `json:"periodEnd"` // exclusive
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Covers reports whether t falls in the challenge window.
func (d ChallengeDefinition) Covers(t time.Time) bool {
	return !t.Before(d.PeriodStart) && t.Before(d.PeriodEnd)
}

// ChallengeProgress is the mutable state of one challenge. Current never
// exceeds the target; Completed implies Current == target; Claimed implies
// Completed.
type ChallengeProgress struct {
	Current     int        `json:"current"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Claimed     bool       `json:"claimed"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
}

// Challenge is a definition with its progress row.
type Challenge struct {
	ChallengeDefinition
	Progress ChallengeProgress `json:"progress"`
}

// ProgressUpdate reports the result of advancing a challenge.
type ProgressUpdate struct {
	Challenge        Challenge `json:"challenge"`
	JustCompleted    bool      `json:"justCompleted"`
	AlreadyCompleted bool      `json:"alreadyCompleted"`
}

// ClaimResult reports a successful claim.
type ClaimResult struct {
	ChallengeID string       `json:"challengeId"`
	XPAwarded   int          `json:"xpAwarded"`
	Grant       *GrantResult `json:"grant,omitempty"`
}

// WeeklyTemplates returns the weekly challenge catalog.
func WeeklyTemplates() []ChallengeTemplate {
	return []ChallengeTemplate{
		{Key: "weekly_workouts_4", Title: "Four Sessions", Description: "Work out 4 times this week", Category: ChallengeWorkout, Target: 4, XPReward: 150},
		{Key: "weekly_legs_2", Title: "Leg Week", Description: "Train legs twice this week", Category: ChallengeLegs, Target: 2, XPReward: 120},
		{Key: "weekly_back_2", Title: "Back Attack", Description: "Train back twice this week", Category: ChallengeBack, Target: 2, XPReward: 120},
		{Key: "weekly_chest_2", Title: "Chest Press", Description: "Train chest twice this week", Category: ChallengeChest, Target: 2, XPReward: 120},
		{Key: "weekly_water_7", Title: "Seven Glasses", Description: "Hit the water goal every day this week", Category: ChallengeWater, Target: 7, XPReward: 150},
		{Key: "weekly_protein_5", Title: "Protein Five", Description: "Reach the protein target on 5 days", Category: ChallengeProtein, Target: 5, XPReward: 120},
		{Key: "weekly_clean_diet_5", Title: "Clean Five", Description: "Eat clean on 5 days this week", Category: ChallengeCleanDiet, Target: 5, XPReward: 120},
		{Key: "weekly_perfect_3", Title: "Triple Perfect", Description: "Have 3 perfect days this week", Category: ChallengePerfectDay, Target: 3, XPReward: 200},
	}
}

// MonthlyTemplates returns the monthly challenge catalog.
func MonthlyTemplates() []ChallengeTemplate {
	return []ChallengeTemplate{
		{Key: "monthly_workouts_16", Title: "Sixteen Strong", Description: "Work out 16 times this month", Category: ChallengeWorkout, Target: 16, XPReward: 400},
		{Key: "monthly_legs_6", Title: "Leg Month", Description: "Train legs 6 times this month", Category: ChallengeLegs, Target: 6, XPReward: 300},
		{Key: "monthly_shoulders_6", Title: "Shoulder Month", Description: "Train shoulders 6 times this month", Category: ChallengeShoulders, Target: 6, XPReward: 300},
		{Key: "monthly_water_25", Title: "Hydration Month", Description: "Hit the water goal on 25 days", Category: ChallengeWater, Target: 25, XPReward: 300},
		{Key: "monthly_protein_20", Title: "Protein Month", Description: "Reach the protein target on 20 days", Category: ChallengeProtein, Target: 20, XPReward: 300},
		{Key: "monthly_clean_diet_20", Title: "Clean Month", Description: "Eat clean on 20 days this month", Category: ChallengeCleanDiet, Target: 20, XPReward: 300},
		{Key: "monthly_perfect_10", Title: "Ten Perfect Days", Description: "Have 10 perfect days this month", Category: ChallengePerfectDay, Target: 10, XPReward: 500},
	}
}

const (
	DefaultWeeklyChallenges  = 3
	DefaultMonthlyChallenges = 2
)

// ChallengeEngine generates periodic challenges, routes activity events to
// them and handles claims.
type ChallengeEngine struct {
	store     Store
	leveling  *LevelingEngine
	templates map[PeriodType][]ChallengeTemplate
	counts    map[PeriodType]int
	now       func() time.Time
	loc       *time.Location

	rngMu sync.Mutex
	rng   *rand.Rand
}

// ChallengeOptions tunes a ChallengeEngine. Zero values take defaults.
type ChallengeOptions struct {
	WeeklyCount  int
	MonthlyCount int
	Weekly       []ChallengeTemplate
	Monthly      []ChallengeTemplate
	// Rand picks templates. Inject a seeded source for deterministic tests.
	Rand *rand.Rand
}

// NewChallengeEngine returns a challenge engine over store.
func NewChallengeEngine(store Store, leveling *LevelingEngine, opts ChallengeOptions) *ChallengeEngine {
	if opts.WeeklyCount <= 0 {
		opts.WeeklyCount = DefaultWeeklyChallenges
	}
	if opts.MonthlyCount <= 0 {
		opts.MonthlyCount = DefaultMonthlyChallenges
	}
	if opts.Weekly == nil {
		opts.Weekly = WeeklyTemplates()
	}
	if opts.Monthly == nil {
		opts.Monthly = MonthlyTemplates()
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &ChallengeEngine{
		store:     store,
		leveling:  leveling,
		templates: map[PeriodType][]ChallengeTemplate{PeriodWeekly: opts.Weekly, PeriodMonthly: opts.Monthly},
		counts:    map[PeriodType]int{PeriodWeekly: opts.WeeklyCount, PeriodMonthly: opts.MonthlyCount},
		now:       leveling.now,
		loc:       leveling.loc,
		rng:       opts.Rand,
	}
}

// weekStart returns Monday 00:00 in loc of the week containing t.
func weekStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	offset := (int(t.Weekday()) + 6) % 7 // days since Monday
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
}

// periodWindow returns the [start, end) window of typ containing t.
func periodWindow(typ PeriodType, t time.Time, loc *time.Location) (time.Time, time.Time) {
	if typ == PeriodMonthly {
		y, m, _ := t.In(loc).Date()
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	}
	start := weekStart(t, loc)
	return start, start.AddDate(0, 0, 7)
}

// pick chooses n templates without replacement.
func (e *ChallengeEngine) pick(pool []ChallengeTemplate, n int) []ChallengeTemplate {
	n = min(n, len(pool))
	e.rngMu.Lock()
	perm := e.rng.Perm(len(pool))
	e.rngMu.Unlock()
	out := make([]ChallengeTemplate, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

// Generate ensures challenges exist for the current period of typ. When
// active challenges already cover now and force is false, they are
// returned unchanged. Otherwise every active challenge of typ is
// deactivated and a fresh set is created.
func (e *ChallengeEngine) Generate(ctx context.Context, profileID string, typ PeriodType, force bool) ([]Challenge, error) {
	if _, err := ParsePeriodType(string(typ)); err != nil {
		return nil, err
	}
	now := e.now()
	start, end := periodWindow(typ, now, e.loc)

	var (
		out       []Challenge
		generated bool
	)
	err := e.store.Atomic(ctx, func(repo Repository) error {
		active, err := repo.ListChallenges(ctx, profileID, ChallengeFilter{Type: typ, ActiveOnly: true})
		if err != nil {
			return err
		}
		var current []Challenge
		for _, c := range active {
			if c.Covers(now) {
				current = append(current, c)
			}
		}
		if len(current) > 0 && !force {
			out = current
			return nil
		}

		if _, err := repo.DeactivateChallenges(ctx, profileID, typ); err != nil {
			return err
		}
		created := now.UTC()
		out = out[:0]
		for _, tpl := range e.pick(e.templates[typ], e.counts[typ]) {
			c := Challenge{ChallengeDefinition: ChallengeDefinition{
				ID:          uuid.NewString(),
				Key:         tpl.Key + ":" + start.Format(dayLayout),
				TemplateKey: tpl.Key,
				Title:       tpl.Title,
				Description: tpl.Description,
				Category:    tpl.Category,
				Type:        typ,
				Target:      tpl.Target,
				XPReward:    tpl.XPReward,
				PeriodStart: start,
				PeriodEnd:   end,
				Active:      true,
				CreatedAt:   created,
			}}
			if err := repo.InsertChallenge(ctx, profileID, c); err != nil {
				return err
			}
			out = append(out, c)
		}
		generated = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if generated {
		observability.RecordChallengesGenerated(string(typ), len(out))
		log.Printf("profile %s: generated %d %s challenges for %s", profileID, len(out), typ, start.Format(dayLayout))
	}
	return out, nil
}

// List returns challenges matching f.
func (e *ChallengeEngine) List(ctx context.Context, profileID string, f ChallengeFilter) ([]Challenge, error) {
	return e.store.ListChallenges(ctx, profileID, f)
}

// advance adds amount to p, clamping at target. It reports whether this
// call completed the challenge.
func advance(p *ChallengeProgress, target, amount int, now time.Time) bool {
	if p.Completed {
		return false
	}
	p.Current = min(p.Current+amount, target)
	if p.Current >= target {
		p.Completed = true
		at := now.UTC()
		p.CompletedAt = &at
		return true
	}
	return false
}

// Increment advances a single challenge by amount.
func (e *ChallengeEngine) Increment(ctx context.Context, profileID, id string, amount int) (ProgressUpdate, error) {
	if amount <= 0 {
		return ProgressUpdate{}, ErrInvalidAmount
	}
	var upd ProgressUpdate
	err := e.store.Atomic(ctx, func(repo Repository) error {
		c, ok, err := repo.GetChallenge(ctx, profileID, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
		}
		if c.Progress.Completed {
			upd = ProgressUpdate{Challenge: c, AlreadyCompleted: true}
			return nil
		}
		if !c.Active {
			return fmt.Errorf("%w: %s", ErrChallengeInactive, id)
		}
		upd.JustCompleted = advance(&c.Progress, c.Target, amount, e.now())
		if err := repo.SaveChallengeProgress(ctx, profileID, c.ID, c.Progress); err != nil {
			return err
		}
		upd.Challenge = c
		return nil
	})
	if err != nil {
		return ProgressUpdate{}, err
	}
	if upd.JustCompleted {
		e.observeCompleted(profileID, upd.Challenge)
	}
	return upd, nil
}

func (e *ChallengeEngine) observeCompleted(profileID string, c Challenge) {
	observability.RecordChallengeCompleted(string(c.Type))
	log.Printf("profile %s completed challenge %s", profileID, c.Key)
}

// matching returns the candidates ev advances. A workout goes to body-part
// challenges for its tag when any exist, and to generic workout challenges
// otherwise.
func matching(ev ActivityEvent, candidates []Challenge) []Challenge {
	var out []Challenge
	switch ev.Kind {
	case EventWorkout:
		if ev.BodyPart != "" {
			for _, c := range candidates {
				if part, ok := c.Category.bodyPart(); ok && part == ev.BodyPart {
					out = append(out, c)
				}
			}
			if len(out) > 0 || ev.TagOnly {
				return out
			}
		}
		if ev.TagOnly {
			return nil
		}
		for _, c := range candidates {
			if c.Category == ChallengeWorkout {
				out = append(out, c)
			}
		}
	default:
		want := ChallengeCategory(ev.Kind)
		for _, c := range candidates {
			if c.Category == want {
				out = append(out, c)
			}
		}
	}
	return out
}

// route advances every active, uncompleted challenge matched by ev whose
// window contains the event day. It runs inside an open transaction.
func (e *ChallengeEngine) route(ctx context.Context, repo Repository, profileID string, ev ActivityEvent) ([]ProgressUpdate, error) {
	active, err := repo.ListChallenges(ctx, profileID, ChallengeFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	at := ev.Date.Start(e.loc)
	candidates := active[:0:0]
	for _, c := range active {
		if !c.Progress.Completed && c.Covers(at) {
			candidates = append(candidates, c)
		}
	}

	now := e.now()
	var updates []ProgressUpdate
	for _, c := range matching(ev, candidates) {
		done := advance(&c.Progress, c.Target, 1, now)
		if err := repo.SaveChallengeProgress(ctx, profileID, c.ID, c.Progress); err != nil {
			return nil, err
		}
		updates = append(updates, ProgressUpdate{Challenge: c, JustCompleted: done})
	}
	return updates, nil
}

// Claim converts a completed challenge's reward into XP. Claiming is
// allowed after the challenge has been superseded.
func (e *ChallengeEngine) Claim(ctx context.Context, profileID, id string) (ClaimResult, error) {
	var res ClaimResult
	err := e.store.Atomic(ctx, func(repo Repository) error {
		c, ok, err := repo.GetChallenge(ctx, profileID, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
		}
		if !c.Progress.Completed {
			return ErrNotCompleted
		}
		if c.Progress.Claimed {
			return ErrAlreadyClaimed
		}

		grant, err := e.leveling.payout(ctx, repo, profileID, Reward{XP: c.XPReward}, SourceChallenge, c.ID, "Challenge completed: "+c.Title)
		if err != nil {
			return err
		}
		at := e.now().UTC()
		c.Progress.Claimed = true
		c.Progress.ClaimedAt = &at
		if err := repo.SaveChallengeProgress(ctx, profileID, c.ID, c.Progress); err != nil {
			return err
		}
		res = ClaimResult{ChallengeID: c.ID, XPAwarded: c.XPReward, Grant: grant}
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	observability.RecordChallengeClaimed()
	if res.Grant != nil {
		e.leveling.observe(profileID, *res.Grant)
	}
	return res, nil
}
