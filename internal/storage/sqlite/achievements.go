package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hoambaek/lifeos/internal/gamification"
)

func (s *queries) EnsureAchievementDefinition(ctx context.Context, def gamification.AchievementDefinition) error {
	_, err := s.q.ExecContext(ctx, `
INSERT INTO achievement_definitions (
    achievement_key, name, description, tier, category, metric, body_part,
    requirement, reward_xp, reward_freezes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (achievement_key) DO NOTHING`,
		def.Key, def.Name, def.Description, string(def.Tier), string(def.Category), string(def.Metric),
		def.BodyPart, def.Requirement, def.Reward.XP, def.Reward.Freezes,
	)
	if err != nil {
		return fmt.Errorf("ensure achievement %s: %w", def.Key, err)
	}
	return nil
}

func (s *queries) InsertUnlock(ctx context.Context, profileID string, u gamification.AchievementUnlock) (bool, error) {
	var found int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM achievement_definitions WHERE achievement_key = ?`, u.Key,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("insert unlock: %w: achievement %s not materialized", gamification.ErrNotFound, u.Key)
	}
	if err != nil {
		return false, fmt.Errorf("insert unlock: %w", err)
	}

	res, err := s.q.ExecContext(ctx, `
INSERT INTO achievement_unlocks (profile_id, achievement_key, unlocked_at, xp_awarded, freezes_awarded)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (profile_id, achievement_key) DO NOTHING`,
		profileID, u.Key, toMillis(u.UnlockedAt), u.Reward.XP, u.Reward.Freezes,
	)
	if err != nil {
		return false, fmt.Errorf("insert unlock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert unlock rows: %w", err)
	}
	return n == 1, nil
}

func (s *queries) ListUnlocks(ctx context.Context, profileID string) ([]gamification.AchievementUnlock, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT achievement_key, unlocked_at, xp_awarded, freezes_awarded
		 FROM achievement_unlocks WHERE profile_id = ?
		 ORDER BY unlocked_at ASC, achievement_key ASC`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	defer rows.Close()

	out := make([]gamification.AchievementUnlock, 0)
	for rows.Next() {
		var (
			u          gamification.AchievementUnlock
			unlockedAt int64
		)
		if err := rows.Scan(&u.Key, &unlockedAt, &u.Reward.XP, &u.Reward.Freezes); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		u.UnlockedAt = fromMillis(unlockedAt)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unlocks: %w", err)
	}
	return out, nil
}
