package gamification

import "context"

// Reward is what an achievement unlock or a challenge claim pays out.
type Reward struct {
	XP      int `json:"xp"`
	Freezes int `json:"freezes"`
}

// IsZero reports whether the reward pays nothing.
func (r Reward) IsZero() bool { return r.XP == 0 && r.Freezes == 0 }

// TierReward returns the default payout for unlocking an achievement of
// the given tier. Gold and platinum also grant streak freezes.
func TierReward(tier Tier) Reward {
	switch tier {
	case TierBronze:
		return Reward{XP: 50}
	case TierSilver:
		return Reward{XP: 100}
	case TierGold:
		return Reward{XP: 150, Freezes: 1}
	case TierPlatinum:
		return Reward{XP: 200, Freezes: 2}
	default:
		return Reward{XP: 50}
	}
}

// payout pays r inside an open transaction. The XP part is skipped when
// zero, as is the freeze part. The returned grant is nil if no XP was paid.
func (l *LevelingEngine) payout(ctx context.Context, repo Repository, profileID string, r Reward, source, referenceID, description string) (*GrantResult, error) {
	var grant *GrantResult
	if r.XP != 0 {
		res, err := l.grant(ctx, repo, profileID, XPTransaction{
			Amount:      r.XP,
			Source:      source,
			ReferenceID: referenceID,
			Description: description,
		})
		if err != nil {
			return nil, err
		}
		grant = &res
	}
	if err := l.addFreezes(ctx, repo, profileID, r.Freezes); err != nil {
		return nil, err
	}
	return grant, nil
}
