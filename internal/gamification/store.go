package gamification

import (
	"context"
	"time"
)

// Profile is the per-user progress row. TotalXP and Level are caches of
// the XP ledger and are only written by the leveling code.
type Profile struct {
	ID               string    `json:"id"`
	TotalXP          int       `json:"totalXp"`
	Level            int       `json:"level"`
	FreezesAvailable int       `json:"freezesAvailable"`
	FreezesUsed      int       `json:"freezesUsed"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewProfile returns the lazily-created starting profile.
func NewProfile(id string, now time.Time) Profile {
	return Profile{ID: id, Level: 1, CreatedAt: now, UpdatedAt: now}
}

// XPTransaction is an immutable ledger entry.
type XPTransaction struct {
	ID          string    `json:"id"`
	Amount      int       `json:"amount"`
	Source      string    `json:"source"`
	ReferenceID string    `json:"referenceId,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FreezeUse records one consumed streak freeze.
type FreezeUse struct {
	ID              string    `json:"id"`
	Date            Day       `json:"date"`
	StreakProtected int       `json:"streakProtected"`
	UsedAt          time.Time `json:"usedAt"`
}

// ChallengeFilter narrows ListChallenges. Zero values match everything.
type ChallengeFilter struct {
	Type       PeriodType
	ActiveOnly bool
}

// Repository is the persistence surface the engine needs. Implementations
// live under internal/storage. Every method is scoped to one profile id.
type Repository interface {
	// Activity ledger.
	GetActivity(ctx context.Context, profileID string, day Day) (ActivityRecord, bool, error)
	// ListActivity returns every record ordered by date descending.
	ListActivity(ctx context.Context, profileID string) ([]ActivityRecord, error)
	ListActivityRange(ctx context.Context, profileID string, from, to Day) ([]ActivityRecord, error)
	SaveActivity(ctx context.Context, profileID string, rec ActivityRecord) error

	// GetProfile returns the profile, creating the starting row if absent.
	// Inside Atomic it also locks the row for the rest of the transaction.
	GetProfile(ctx context.Context, profileID string) (Profile, error)
	SaveProfile(ctx context.Context, p Profile) error

	// XP ledger. Entries are never updated or deleted.
	AppendXP(ctx context.Context, profileID string, tx XPTransaction) error
	SumXP(ctx context.Context, profileID string) (int, error)
	HasXPReference(ctx context.Context, profileID, source, referenceID string) (bool, error)
	// ListXP returns the newest non-zero entries first; limit <= 0 means all.
	// Zero-amount entries only mark references and are left out.
	ListXP(ctx context.Context, profileID string, limit int) ([]XPTransaction, error)

	AppendFreezeUse(ctx context.Context, profileID string, use FreezeUse) error
	ListFreezeUses(ctx context.Context, profileID string) ([]FreezeUse, error)

	// EnsureAchievementDefinition materializes a catalog entry if absent.
	EnsureAchievementDefinition(ctx context.Context, def AchievementDefinition) error
	// InsertUnlock records an unlock. It reports inserted=false, without
	// error, when the key is already unlocked for the profile.
	InsertUnlock(ctx context.Context, profileID string, u AchievementUnlock) (bool, error)
	ListUnlocks(ctx context.Context, profileID string) ([]AchievementUnlock, error)

	// InsertChallenge stores a definition and its zero progress row.
	InsertChallenge(ctx context.Context, profileID string, c Challenge) error
	// DeactivateChallenges clears the active flag on every active
	// definition of the given type and returns how many changed.
	DeactivateChallenges(ctx context.Context, profileID string, typ PeriodType) (int, error)
	GetChallenge(ctx context.Context, profileID, id string) (Challenge, bool, error)
	ListChallenges(ctx context.Context, profileID string, f ChallengeFilter) ([]Challenge, error)
	SaveChallengeProgress(ctx context.Context, profileID, challengeID string, p ChallengeProgress) error
}

// Store is a Repository that can run a function atomically. Writes made
// through the Repository passed to fn are committed only if fn returns nil.
type Store interface {
	Repository
	Atomic(ctx context.Context, fn func(repo Repository) error) error
}
