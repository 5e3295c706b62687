// Package memory implements gamification.Store in process memory, with
// optional persistence to a JSON file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hoambaek/lifeos/internal/gamification"
)

// Store keeps all profiles in memory. Atomic runs fn against a deep copy
// of the state and swaps it in only when fn succeeds.
type Store struct {
	mu   sync.Mutex
	st   *state
	path string // empty: no persistence
	now  func() time.Time
}

// New returns an empty, non-persistent store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

var _ gamification.Store = (*Store)(nil)

// Atomic implements gamification.Store.
func (s *Store) Atomic(ctx context.Context, fn func(repo gamification.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.st.clone()
	if err := fn(&repo{st: cp, now: s.now}); err != nil {
		return err
	}
	if s.path != "" {
		if err := save(s.path, cp); err != nil {
			return err
		}
	}
	s.st = cp
	return nil
}

func (s *Store) read(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.st, now: s.now})
}

func (s *Store) write(ctx context.Context, fn func(r gamification.Repository) error) error {
	return s.Atomic(ctx, fn)
}

func (s *Store) GetActivity(ctx context.Context, profileID string, day gamification.Day) (rec gamification.ActivityRecord, ok bool, err error) {
	err = s.read(func(r *repo) error {
		rec, ok, err = r.GetActivity(ctx, profileID, day)
		return err
	})
	return
}

func (s *Store) ListActivity(ctx context.Context, profileID string) (out []gamification.ActivityRecord, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListActivity(ctx, profileID)
		return err
	})
	return
}

func (s *Store) ListActivityRange(ctx context.Context, profileID string, from, to gamification.Day) (out []gamification.ActivityRecord, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListActivityRange(ctx, profileID, from, to)
		return err
	})
	return
}

func (s *Store) SaveActivity(ctx context.Context, profileID string, rec gamification.ActivityRecord) error {
	return s.write(ctx, func(r gamification.Repository) error { return r.SaveActivity(ctx, profileID, rec) })
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (p gamification.Profile, err error) {
	err = s.read(func(r *repo) error {
		p, err = r.GetProfile(ctx, profileID)
		return err
	})
	return
}

func (s *Store) SaveProfile(ctx context.Context, p gamification.Profile) error {
	return s.write(ctx, func(r gamification.Repository) error { return r.SaveProfile(ctx, p) })
}

func (s *Store) AppendXP(ctx context.Context, profileID string, tx gamification.XPTransaction) error {
	return s.write(ctx, func(r gamification.Repository) error { return r.AppendXP(ctx, profileID, tx) })
}

func (s *Store) SumXP(ctx context.Context, profileID string) (total int, err error) {
	err = s.read(func(r *repo) error {
		total, err = r.SumXP(ctx, profileID)
		return err
	})
	return
}

func (s *Store) HasXPReference(ctx context.Context, profileID, source, referenceID string) (ok bool, err error) {
	err = s.read(func(r *repo) error {
		ok, err = r.HasXPReference(ctx, profileID, source, referenceID)
		return err
	})
	return
}

func (s *Store) ListXP(ctx context.Context, profileID string, limit int) (out []gamification.XPTransaction, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListXP(ctx, profileID, limit)
		return err
	})
	return
}

func (s *Store) AppendFreezeUse(ctx context.Context, profileID string, use gamification.FreezeUse) error {
	return s.write(ctx, func(r gamification.Repository) error { return r.AppendFreezeUse(ctx, profileID, use) })
}

func (s *Store) ListFreezeUses(ctx context.Context, profileID string) (out []gamification.FreezeUse, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListFreezeUses(ctx, profileID)
		return err
	})
	return
}

func (s *Store) EnsureAchievementDefinition(ctx context.Context, def gamification.AchievementDefinition) error {
	return s.write(ctx, func(r gamification.Repository) error { return r.EnsureAchievementDefinition(ctx, def) })
}

func (s *Store) InsertUnlock(ctx context.Context, profileID string, u gamification.AchievementUnlock) (inserted bool, err error) {
	err = s.write(ctx, func(r gamification.Repository) error {
		inserted, err = r.InsertUnlock(ctx, profileID, u)
		return err
	})
	return
}

func (s *Store) ListUnlocks(ctx context.Context, profileID string) (out []gamification.AchievementUnlock, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListUnlocks(ctx, profileID)
		return err
	})
	return
}

func (s *Store) InsertChallenge(ctx context.Context, profileID string, c gamification.Challenge) error {
	return s.write(ctx, func(r gamification.Repository) error { return r.InsertChallenge(ctx, profileID, c) })
}

func (s *Store) DeactivateChallenges(ctx context.Context, profileID string, typ gamification.PeriodType) (n int, err error) {
	err = s.write(ctx, func(r gamification.Repository) error {
		n, err = r.DeactivateChallenges(ctx, profileID, typ)
		return err
	})
	return
}

func (s *Store) GetChallenge(ctx context.Context, profileID, id string) (c gamification.Challenge, ok bool, err error) {
	err = s.read(func(r *repo) error {
		c, ok, err = r.GetChallenge(ctx, profileID, id)
		return err
	})
	return
}

func (s *Store) ListChallenges(ctx context.Context, profileID string, f gamification.ChallengeFilter) (out []gamification.Challenge, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListChallenges(ctx, profileID, f)
		return err
	})
	return
}

func (s *Store) SaveChallengeProgress(ctx context.Context, profileID, challengeID string, p gamification.ChallengeProgress) error {
	return s.write(ctx, func(r gamification.Repository) error {
		return r.SaveChallengeProgress(ctx, profileID, challengeID, p)
	})
}

// repo operates on one state value without locking.
type repo struct {
	st  *state
	now func() time.Time
}

func (r *repo) profile(id string) *profileData {
	pd, ok := r.st.Profiles[id]
	if !ok {
		pd = newProfileData()
		r.st.Profiles[id] = pd
	}
	return pd
}

func (r *repo) lookup(id string) (*profileData, bool) {
	pd, ok := r.st.Profiles[id]
	return pd, ok
}

func (r *repo) GetActivity(_ context.Context, profileID string, day gamification.Day) (gamification.ActivityRecord, bool, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return gamification.ActivityRecord{}, false, nil
	}
	rec, ok := pd.Activity[day.String()]
	return rec, ok, nil
}

func (r *repo) ListActivity(_ context.Context, profileID string) ([]gamification.ActivityRecord, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return []gamification.ActivityRecord{}, nil
	}
	out := make([]gamification.ActivityRecord, 0, len(pd.Activity))
	for _, rec := range pd.Activity {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (r *repo) ListActivityRange(ctx context.Context, profileID string, from, to gamification.Day) ([]gamification.ActivityRecord, error) {
	all, err := r.ListActivity(ctx, profileID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if rec.Date.Before(from) || rec.Date.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *repo) SaveActivity(_ context.Context, profileID string, rec gamification.ActivityRecord) error {
	if rec.Date.IsZero() {
		return fmt.Errorf("save activity: %w: missing date", gamification.ErrInvalidInput)
	}
	if rec.WorkoutAt != nil {
		at := *rec.WorkoutAt
		rec.WorkoutAt = &at
	}
	r.profile(profileID).Activity[rec.Date.String()] = rec
	return nil
}

func (r *repo) GetProfile(_ context.Context, profileID string) (gamification.Profile, error) {
	pd := r.profile(profileID)
	if pd.Profile == nil {
		p := gamification.NewProfile(profileID, r.now().UTC())
		pd.Profile = &p
	}
	return *pd.Profile, nil
}

func (r *repo) SaveProfile(_ context.Context, p gamification.Profile) error {
	cp := p
	r.profile(p.ID).Profile = &cp
	return nil
}

func (r *repo) AppendXP(_ context.Context, profileID string, tx gamification.XPTransaction) error {
	pd := r.profile(profileID)
	for _, existing := range pd.XP {
		if existing.ID == tx.ID {
			return fmt.Errorf("append xp: %w: duplicate id %s", gamification.ErrConflict, tx.ID)
		}
	}
	pd.XP = append(pd.XP, tx)
	return nil
}

func (r *repo) SumXP(_ context.Context, profileID string) (int, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return 0, nil
	}
	total := 0
	for _, tx := range pd.XP {
		total += tx.Amount
	}
	return total, nil
}

func (r *repo) HasXPReference(_ context.Context, profileID, source, referenceID string) (bool, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return false, nil
	}
	for _, tx := range pd.XP {
		if tx.Source == source && tx.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (r *repo) ListXP(_ context.Context, profileID string, limit int) ([]gamification.XPTransaction, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return []gamification.XPTransaction{}, nil
	}
	out := make([]gamification.XPTransaction, 0)
	for i := len(pd.XP) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if pd.XP[i].Amount != 0 {
			out = append(out, pd.XP[i])
		}
	}
	return out, nil
}

func (r *repo) AppendFreezeUse(_ context.Context, profileID string, use gamification.FreezeUse) error {
	pd := r.profile(profileID)
	pd.Freezes = append(pd.Freezes, use)
	return nil
}

func (r *repo) ListFreezeUses(_ context.Context, profileID string) ([]gamification.FreezeUse, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return []gamification.FreezeUse{}, nil
	}
	out := make([]gamification.FreezeUse, 0, len(pd.Freezes))
	for i := len(pd.Freezes) - 1; i >= 0; i-- {
		out = append(out, pd.Freezes[i])
	}
	return out, nil
}

func (r *repo) EnsureAchievementDefinition(_ context.Context, def gamification.AchievementDefinition) error {
	if _, ok := r.st.Definitions[def.Key]; !ok {
		r.st.Definitions[def.Key] = def
	}
	return nil
}

func (r *repo) InsertUnlock(_ context.Context, profileID string, u gamification.AchievementUnlock) (bool, error) {
	if _, ok := r.st.Definitions[u.Key]; !ok {
		return false, fmt.Errorf("insert unlock: %w: achievement %s not materialized", gamification.ErrNotFound, u.Key)
	}
	pd := r.profile(profileID)
	if _, ok := pd.Unlocks[u.Key]; ok {
		return false, nil
	}
	pd.Unlocks[u.Key] = u
	return true, nil
}

func (r *repo) ListUnlocks(_ context.Context, profileID string) ([]gamification.AchievementUnlock, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return []gamification.AchievementUnlock{}, nil
	}
	out := make([]gamification.AchievementUnlock, 0, len(pd.Unlocks))
	for _, u := range pd.Unlocks {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (r *repo) InsertChallenge(_ context.Context, profileID string, c gamification.Challenge) error {
	pd := r.profile(profileID)
	if _, dup := pd.Challenges[c.ID]; dup {
		return fmt.Errorf("insert challenge: %w: duplicate id %s", gamification.ErrConflict, c.ID)
	}
	if c.Active {
		for _, existing := range pd.Challenges {
			if existing.Active && existing.Key == c.Key {
				return fmt.Errorf("insert challenge: %w: key %s already active", gamification.ErrConflict, c.Key)
			}
		}
	}
	pd.Challenges[c.ID] = c
	pd.ChallengeOrder = append(pd.ChallengeOrder, c.ID)
	return nil
}

func (r *repo) DeactivateChallenges(_ context.Context, profileID string, typ gamification.PeriodType) (int, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return 0, nil
	}
	n := 0
	for id, c := range pd.Challenges {
		if c.Active && c.Type == typ {
			c.Active = false
			pd.Challenges[id] = c
			n++
		}
	}
	return n, nil
}

func (r *repo) GetChallenge(_ context.Context, profileID, id string) (gamification.Challenge, bool, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return gamification.Challenge{}, false, nil
	}
	c, ok := pd.Challenges[id]
	return c, ok, nil
}

// ListChallenges returns the newest period first, then insertion order.
func (r *repo) ListChallenges(_ context.Context, profileID string, f gamification.ChallengeFilter) ([]gamification.Challenge, error) {
	pd, ok := r.lookup(profileID)
	if !ok {
		return []gamification.Challenge{}, nil
	}
	out := make([]gamification.Challenge, 0, len(pd.ChallengeOrder))
	for _, id := range pd.ChallengeOrder {
		c := pd.Challenges[id]
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		if f.ActiveOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	return out, nil
}

func (r *repo) SaveChallengeProgress(_ context.Context, profileID, challengeID string, p gamification.ChallengeProgress) error {
	pd, ok := r.lookup(profileID)
	if !ok {
		return fmt.Errorf("save progress: %w: %s", gamification.ErrChallengeNotFound, challengeID)
	}
	c, ok := pd.Challenges[challengeID]
	if !ok {
		return fmt.Errorf("save progress: %w: %s", gamification.ErrChallengeNotFound, challengeID)
	}
	c.Progress = p
	pd.Challenges[challengeID] = c
	return nil
}
