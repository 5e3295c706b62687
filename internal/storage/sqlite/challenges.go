package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hoambaek/lifeos/internal/gamification"
)

const challengeSelect = `
SELECT d.id, d.challenge_key, d.template_key, d.title, d.description, d.category,
       d.period_type, d.target, d.xp_reward, d.period_start, d.period_end, d.active, d.created_at,
       p.current_value, p.completed, p.completed_at, p.claimed, p.claimed_at
FROM challenge_definitions d
JOIN challenge_progress p ON p.challenge_id = d.id`

func scanChallenge(row rowScanner) (gamification.Challenge, error) {
	var (
		c                        gamification.Challenge
		category, periodType     string
		start, end, createdAt    int64
		active, completed, claim bool
		completedAt, claimedAt   sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.Key, &c.TemplateKey, &c.Title, &c.Description, &category,
		&periodType, &c.Target, &c.XPReward, &start, &end, &active, &createdAt,
		&c.Progress.Current, &completed, &completedAt, &claim, &claimedAt,
	)
	if err != nil {
		return gamification.Challenge{}, err
	}
	c.Category = gamification.ChallengeCategory(category)
	c.Type = gamification.PeriodType(periodType)
	c.PeriodStart = fromMillis(start)
	c.PeriodEnd = fromMillis(end)
	c.Active = active
	c.CreatedAt = fromMillis(createdAt)
	c.Progress.Completed = completed
	c.Progress.CompletedAt = fromNullMillis(completedAt)
	c.Progress.Claimed = claim
	c.Progress.ClaimedAt = fromNullMillis(claimedAt)
	return c, nil
}

func (s *queries) InsertChallenge(ctx context.Context, profileID string, c gamification.Challenge) error {
	_, err := s.q.ExecContext(ctx, `
INSERT INTO challenge_definitions (
    id, profile_id, challenge_key, template_key, title, description, category,
    period_type, target, xp_reward, period_start, period_end, active, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, profileID, c.Key, c.TemplateKey, c.Title, c.Description, string(c.Category),
		string(c.Type), c.Target, c.XPReward, toMillis(c.PeriodStart), toMillis(c.PeriodEnd),
		boolInt(c.Active), toMillis(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert challenge: %w: key %s already active", gamification.ErrConflict, c.Key)
	}
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}

	p := c.Progress
	_, err = s.q.ExecContext(ctx, `
INSERT INTO challenge_progress (challenge_id, current_value, completed, completed_at, claimed, claimed_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, p.Current, boolInt(p.Completed), nullMillis(p.CompletedAt), boolInt(p.Claimed), nullMillis(p.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("insert challenge progress: %w", err)
	}
	return nil
}

func (s *queries) DeactivateChallenges(ctx context.Context, profileID string, typ gamification.PeriodType) (int, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE challenge_definitions SET active = 0 WHERE profile_id = ? AND period_type = ? AND active = 1`,
		profileID, string(typ),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate challenges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate challenges rows: %w", err)
	}
	return int(n), nil
}

func (s *queries) GetChallenge(ctx context.Context, profileID, id string) (gamification.Challenge, bool, error) {
	row := s.q.QueryRowContext(ctx, challengeSelect+` WHERE d.profile_id = ? AND d.id = ?`, profileID, id)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gamification.Challenge{}, false, nil
	}
	if err != nil {
		return gamification.Challenge{}, false, fmt.Errorf("get challenge: %w", err)
	}
	return c, true, nil
}

// ListChallenges returns the newest period first, then insertion order.
func (s *queries) ListChallenges(ctx context.Context, profileID string, f gamification.ChallengeFilter) ([]gamification.Challenge, error) {
	where := []string{"d.profile_id = ?"}
	args := []any{profileID}
	if f.Type != "" {
		where = append(where, "d.period_type = ?")
		args = append(args, string(f.Type))
	}
	if f.ActiveOnly {
		where = append(where, "d.active = 1")
	}
	query := challengeSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY d.period_start DESC, d.rowid ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	out := make([]gamification.Challenge, 0)
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate challenges: %w", err)
	}
	return out, nil
}

func (s *queries) SaveChallengeProgress(ctx context.Context, profileID, challengeID string, p gamification.ChallengeProgress) error {
	res, err := s.q.ExecContext(ctx, `
UPDATE challenge_progress SET
    current_value = ?, completed = ?, completed_at = ?, claimed = ?, claimed_at = ?
WHERE challenge_id = ?
  AND challenge_id IN (SELECT id FROM challenge_definitions WHERE profile_id = ?)`,
		p.Current, boolInt(p.Completed), nullMillis(p.CompletedAt), boolInt(p.Claimed), nullMillis(p.ClaimedAt),
		challengeID, profileID,
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save progress rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("save progress: %w: %s", gamification.ErrChallengeNotFound, challengeID)
	}
	return nil
}
