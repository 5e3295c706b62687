package gamification

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine for a rejected request
// wraps exactly one of these; storage failures wrap none of them.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

var (
	// ErrInvalidAmount is returned for a zero XP grant or a non-positive
	// challenge increment.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be non-zero", ErrInvalidInput)

	// ErrFutureDate is returned when recording activity for a day after today.
	ErrFutureDate = fmt.Errorf("%w: date is in the future", ErrInvalidInput)

	// ErrUnknownPeriod is returned for a challenge period other than weekly or monthly.
	ErrUnknownPeriod = fmt.Errorf("%w: unknown challenge period", ErrInvalidInput)

	// ErrUnknownAchievement is returned when a key is not in the catalog.
	ErrUnknownAchievement = fmt.Errorf("%w: unknown achievement", ErrInvalidInput)

	ErrChallengeNotFound = fmt.Errorf("%w: challenge", ErrNotFound)
	ErrActivityNotFound  = fmt.Errorf("%w: no activity recorded", ErrNotFound)

	ErrNoFreezesAvailable = fmt.Errorf("%w: no streak freezes available", ErrConflict)
	ErrNotCompleted       = fmt.Errorf("%w: challenge not completed", ErrConflict)
	ErrAlreadyClaimed     = fmt.Errorf("%w: challenge already claimed", ErrConflict)
	ErrChallengeInactive  = fmt.Errorf("%w: challenge is no longer active", ErrConflict)
)
