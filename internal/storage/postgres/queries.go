package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hoambaek/lifeos/internal/gamification"
)

const activityColumns = `day, water, clean_diet, workout, workout_category, protein_grams, workout_at, streak_frozen, updated_at`

func scanActivity(row pgx.Row) (gamification.ActivityRecord, error) {
	var (
		rec       gamification.ActivityRecord
		day       time.Time
		workoutAt *time.Time
	)
	if err := row.Scan(&day, &rec.Water, &rec.CleanDiet, &rec.Workout, &rec.WorkoutCategory,
		&rec.ProteinGrams, &workoutAt, &rec.StreakFrozen, &rec.UpdatedAt); err != nil {
		return gamification.ActivityRecord{}, err
	}
	rec.Date = dayFrom(day)
	rec.WorkoutAt = utcPtr(workoutAt)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (s *queries) GetActivity(ctx context.Context, profileID string, day gamification.Day) (gamification.ActivityRecord, bool, error) {
	rec, err := scanActivity(s.q.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activity_records WHERE profile_id = $1 AND day = $2`,
		profileID, dayArg(day)))
	if errors.Is(err, pgx.ErrNoRows) {
		return gamification.ActivityRecord{}, false, nil
	}
	if err != nil {
		return gamification.ActivityRecord{}, false, fmt.Errorf("get activity: %w", err)
	}
	return rec, true, nil
}

func (s *queries) ListActivity(ctx context.Context, profileID string) ([]gamification.ActivityRecord, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_records WHERE profile_id = $1 ORDER BY day DESC`,
		profileID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return collectActivity(rows)
}

func (s *queries) ListActivityRange(ctx context.Context, profileID string, from, to gamification.Day) ([]gamification.ActivityRecord, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_records
		 WHERE profile_id = $1 AND day BETWEEN $2 AND $3 ORDER BY day DESC`,
		profileID, dayArg(from), dayArg(to))
	if err != nil {
		return nil, fmt.Errorf("list activity range: %w", err)
	}
	return collectActivity(rows)
}

func collectActivity(rows pgx.Rows) ([]gamification.ActivityRecord, error) {
	defer rows.Close()
	out := make([]gamification.ActivityRecord, 0)
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}

func (s *queries) SaveActivity(ctx context.Context, profileID string, rec gamification.ActivityRecord) error {
	if rec.Date.IsZero() {
		return fmt.Errorf("save activity: %w: missing date", gamification.ErrInvalidInput)
	}
	_, err := s.q.Exec(ctx, `
INSERT INTO activity_records (profile_id, `+activityColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (profile_id, day) DO UPDATE SET
    water = EXCLUDED.water,
    clean_diet = EXCLUDED.clean_diet,
    workout = EXCLUDED.workout,
    workout_category = EXCLUDED.workout_category,
    protein_grams = EXCLUDED.protein_grams,
    workout_at = EXCLUDED.workout_at,
    streak_frozen = EXCLUDED.streak_frozen,
    updated_at = EXCLUDED.updated_at`,
		profileID, dayArg(rec.Date), rec.Water, rec.CleanDiet, rec.Workout, rec.WorkoutCategory,
		rec.ProteinGrams, rec.WorkoutAt, rec.StreakFrozen, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	return nil
}

// GetProfile creates the row if needed and locks it until the enclosing
// transaction ends. Outside a transaction the lock is released immediately.
func (s *queries) GetProfile(ctx context.Context, profileID string) (gamification.Profile, error) {
	now := s.now().UTC()
	if _, err := s.q.Exec(ctx,
		`INSERT INTO profiles (id, total_xp, level, freezes_available, freezes_used, created_at, updated_at)
		 VALUES ($1, 0, 1, 0, 0, $2, $2) ON CONFLICT (id) DO NOTHING`,
		profileID, now); err != nil {
		return gamification.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	var p gamification.Profile
	err := s.q.QueryRow(ctx,
		`SELECT id, total_xp, level, freezes_available, freezes_used, created_at, updated_at
		 FROM profiles WHERE id = $1 FOR UPDATE`, profileID,
	).Scan(&p.ID, &p.TotalXP, &p.Level, &p.FreezesAvailable, &p.FreezesUsed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return gamification.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *queries) SaveProfile(ctx context.Context, p gamification.Profile) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.q.Exec(ctx, `
INSERT INTO profiles (id, total_xp, level, freezes_available, freezes_used, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    total_xp = EXCLUDED.total_xp,
    level = EXCLUDED.level,
    freezes_available = EXCLUDED.freezes_available,
    freezes_used = EXCLUDED.freezes_used,
    updated_at = EXCLUDED.updated_at`,
		p.ID, p.TotalXP, p.Level, p.FreezesAvailable, p.FreezesUsed, created.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *queries) AppendXP(ctx context.Context, profileID string, tx gamification.XPTransaction) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO xp_transactions (id, profile_id, amount, source, reference_id, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, profileID, tx.Amount, tx.Source, tx.ReferenceID, tx.Description, tx.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("append xp: %w: duplicate id %s", gamification.ErrConflict, tx.ID)
	}
	if err != nil {
		return fmt.Errorf("append xp: %w", err)
	}
	return nil
}

func (s *queries) SumXP(ctx context.Context, profileID string) (int, error) {
	var total int64
	if err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM xp_transactions WHERE profile_id = $1`, profileID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum xp: %w", err)
	}
	return int(total), nil
}

func (s *queries) HasXPReference(ctx context.Context, profileID, source, referenceID string) (bool, error) {
	var found bool
	if err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM xp_transactions WHERE profile_id = $1 AND source = $2 AND reference_id = $3)`,
		profileID, source, referenceID,
	).Scan(&found); err != nil {
		return false, fmt.Errorf("lookup xp reference: %w", err)
	}
	return found, nil
}

func (s *queries) ListXP(ctx context.Context, profileID string, limit int) ([]gamification.XPTransaction, error) {
	query := `SELECT id, amount, source, reference_id, description, created_at
		FROM xp_transactions WHERE profile_id = $1 AND amount <> 0 ORDER BY created_at DESC, seq DESC`
	args := []any{profileID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list xp: %w", err)
	}
	defer rows.Close()

	out := make([]gamification.XPTransaction, 0)
	for rows.Next() {
		var tx gamification.XPTransaction
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.Source, &tx.ReferenceID, &tx.Description, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan xp: %w", err)
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate xp: %w", err)
	}
	return out, nil
}

func (s *queries) AppendFreezeUse(ctx context.Context, profileID string, use gamification.FreezeUse) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO freeze_uses (id, profile_id, day, streak_protected, used_at) VALUES ($1, $2, $3, $4, $5)`,
		use.ID, profileID, dayArg(use.Date), use.StreakProtected, use.UsedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("append freeze use: %w: duplicate id %s", gamification.ErrConflict, use.ID)
	}
	if err != nil {
		return fmt.Errorf("append freeze use: %w", err)
	}
	return nil
}

func (s *queries) ListFreezeUses(ctx context.Context, profileID string) ([]gamification.FreezeUse, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, day, streak_protected, used_at FROM freeze_uses
		 WHERE profile_id = $1 ORDER BY used_at DESC, seq DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list freeze uses: %w", err)
	}
	defer rows.Close()

	out := make([]gamification.FreezeUse, 0)
	for rows.Next() {
		var (
			use gamification.FreezeUse
			day time.Time
		)
		if err := rows.Scan(&use.ID, &day, &use.StreakProtected, &use.UsedAt); err != nil {
			return nil, fmt.Errorf("scan freeze use: %w", err)
		}
		use.Date = dayFrom(day)
		use.UsedAt = use.UsedAt.UTC()
		out = append(out, use)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate freeze uses: %w", err)
	}
	return out, nil
}

func (s *queries) EnsureAchievementDefinition(ctx context.Context, def gamification.AchievementDefinition) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO achievement_definitions (
    achievement_key, name, description, tier, category, metric, body_part,
    requirement, reward_xp, reward_freezes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (achievement_key) DO NOTHING`,
		def.Key, def.Name, def.Description, string(def.Tier), string(def.Category), string(def.Metric),
		def.BodyPart, def.Requirement, def.Reward.XP, def.Reward.Freezes)
	if err != nil {
		return fmt.Errorf("ensure achievement %s: %w", def.Key, err)
	}
	return nil
}

func (s *queries) InsertUnlock(ctx context.Context, profileID string, u gamification.AchievementUnlock) (bool, error) {
	var known bool
	if err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM achievement_definitions WHERE achievement_key = $1)`, u.Key,
	).Scan(&known); err != nil {
		return false, fmt.Errorf("insert unlock: %w", err)
	}
	if !known {
		return false, fmt.Errorf("insert unlock: %w: achievement %s not materialized", gamification.ErrNotFound, u.Key)
	}
	tag, err := s.q.Exec(ctx, `
INSERT INTO achievement_unlocks (profile_id, achievement_key, unlocked_at, xp_awarded, freezes_awarded)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (profile_id, achievement_key) DO NOTHING`,
		profileID, u.Key, u.UnlockedAt.UTC(), u.Reward.XP, u.Reward.Freezes)
	if err != nil {
		return false, fmt.Errorf("insert unlock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *queries) ListUnlocks(ctx context.Context, profileID string) ([]gamification.AchievementUnlock, error) {
	rows, err := s.q.Query(ctx,
		`SELECT achievement_key, unlocked_at, xp_awarded, freezes_awarded FROM achievement_unlocks
		 WHERE profile_id = $1 ORDER BY unlocked_at ASC, achievement_key ASC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	defer rows.Close()

	out := make([]gamification.AchievementUnlock, 0)
	for rows.Next() {
		var u gamification.AchievementUnlock
		if err := rows.Scan(&u.Key, &u.UnlockedAt, &u.Reward.XP, &u.Reward.Freezes); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		u.UnlockedAt = u.UnlockedAt.UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unlocks: %w", err)
	}
	return out, nil
}

const challengeSelect = `
SELECT d.id, d.challenge_key, d.template_key, d.title, d.description, d.category,
       d.period_type, d.target, d.xp_reward, d.period_start, d.period_end, d.active, d.created_at,
       p.current_value, p.completed, p.completed_at, p.claimed, p.claimed_at
FROM challenge_definitions d
JOIN challenge_progress p ON p.challenge_id = d.id`

func scanChallenge(row pgx.Row) (gamification.Challenge, error) {
	var (
		c                    gamification.Challenge
		category, periodType string
	)
	err := row.Scan(
		&c.ID, &c.Key, &c.TemplateKey, &c.Title, &c.Description, &category,
		&periodType, &c.Target, &c.XPReward, &c.PeriodStart, &c.PeriodEnd, &c.Active, &c.CreatedAt,
		&c.Progress.Current, &c.Progress.Completed, &c.Progress.CompletedAt, &c.Progress.Claimed, &c.Progress.ClaimedAt,
	)
	if err != nil {
		return gamification.Challenge{}, err
	}
	c.Category = gamification.ChallengeCategory(category)
	c.Type = gamification.PeriodType(periodType)
	c.PeriodStart = c.PeriodStart.UTC()
	c.PeriodEnd = c.PeriodEnd.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.Progress.CompletedAt = utcPtr(c.Progress.CompletedAt)
	c.Progress.ClaimedAt = utcPtr(c.Progress.ClaimedAt)
	return c, nil
}

func (s *queries) InsertChallenge(ctx context.Context, profileID string, c gamification.Challenge) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO challenge_definitions (
    id, profile_id, challenge_key, template_key, title, description, category,
    period_type, target, xp_reward, period_start, period_end, active, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, profileID, c.Key, c.TemplateKey, c.Title, c.Description, string(c.Category),
		string(c.Type), c.Target, c.XPReward, c.PeriodStart.UTC(), c.PeriodEnd.UTC(), c.Active, c.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("insert challenge: %w: key %s already active", gamification.ErrConflict, c.Key)
	}
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}

	p := c.Progress
	if _, err := s.q.Exec(ctx, `
INSERT INTO challenge_progress (challenge_id, current_value, completed, completed_at, claimed, claimed_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, p.Current, p.Completed, p.CompletedAt, p.Claimed, p.ClaimedAt); err != nil {
		return fmt.Errorf("insert challenge progress: %w", err)
	}
	return nil
}

func (s *queries) DeactivateChallenges(ctx context.Context, profileID string, typ gamification.PeriodType) (int, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE challenge_definitions SET active = FALSE WHERE profile_id = $1 AND period_type = $2 AND active`,
		profileID, string(typ))
	if err != nil {
		return 0, fmt.Errorf("deactivate challenges: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *queries) GetChallenge(ctx context.Context, profileID, id string) (gamification.Challenge, bool, error) {
	c, err := scanChallenge(s.q.QueryRow(ctx, challengeSelect+` WHERE d.profile_id = $1 AND d.id = $2`, profileID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return gamification.Challenge{}, false, nil
	}
	if err != nil {
		return gamification.Challenge{}, false, fmt.Errorf("get challenge: %w", err)
	}
	return c, true, nil
}

func (s *queries) ListChallenges(ctx context.Context, profileID string, f gamification.ChallengeFilter) ([]gamification.Challenge, error) {
	where := []string{"d.profile_id = $1"}
	args := []any{profileID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, "d.period_type = $"+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "d.active")
	}
	rows, err := s.q.Query(ctx,
		challengeSelect+` WHERE `+strings.Join(where, " AND ")+` ORDER BY d.period_start DESC, d.seq ASC`,
		args...)
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
	tag, err := s.q.Exec(ctx, `
UPDATE challenge_progress p SET
    current_value = $1, completed = $2, completed_at = $3, claimed = $4, claimed_at = $5
FROM challenge_definitions d
WHERE p.challenge_id = d.id AND d.id = $6 AND d.profile_id = $7`,
		p.Current, p.Completed, p.CompletedAt, p.Claimed, p.ClaimedAt, challengeID, profileID)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save progress: %w: %s", gamification.ErrChallengeNotFound, challengeID)
	}
	return nil
}
