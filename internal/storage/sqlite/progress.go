package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hoambaek/lifeos/internal/gamification"
)

func (s *queries) GetProfile(ctx context.Context, profileID string) (gamification.Profile, error) {
	now := toMillis(s.now())
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO profiles (id, total_xp, level, freezes_available, freezes_used, created_at, updated_at)
		 VALUES (?, 0, 1, 0, 0, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		profileID, now, now,
	); err != nil {
		return gamification.Profile{}, fmt.Errorf("create profile: %w", err)
	}

	var (
		p                    gamification.Profile
		createdAt, updatedAt int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, total_xp, level, freezes_available, freezes_used, created_at, updated_at
		 FROM profiles WHERE id = ?`,
		profileID,
	).Scan(&p.ID, &p.TotalXP, &p.Level, &p.FreezesAvailable, &p.FreezesUsed, &createdAt, &updatedAt)
	if err != nil {
		return gamification.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func (s *queries) SaveProfile(ctx context.Context, p gamification.Profile) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.q.ExecContext(ctx, `
INSERT INTO profiles (id, total_xp, level, freezes_available, freezes_used, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    total_xp = excluded.total_xp,
    level = excluded.level,
    freezes_available = excluded.freezes_available,
    freezes_used = excluded.freezes_used,
    updated_at = excluded.updated_at`,
		p.ID, p.TotalXP, p.Level, p.FreezesAvailable, p.FreezesUsed, toMillis(created), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *queries) AppendXP(ctx context.Context, profileID string, tx gamification.XPTransaction) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO xp_transactions (id, profile_id, amount, source, reference_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, profileID, tx.Amount, tx.Source, tx.ReferenceID, tx.Description, toMillis(tx.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("append xp: %w: duplicate id %s", gamification.ErrConflict, tx.ID)
	}
	if err != nil {
		return fmt.Errorf("append xp: %w", err)
	}
	return nil
}

func (s *queries) SumXP(ctx context.Context, profileID string) (int, error) {
	var total int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_transactions WHERE profile_id = ?`,
		profileID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum xp: %w", err)
	}
	return total, nil
}

func (s *queries) HasXPReference(ctx context.Context, profileID, source, referenceID string) (bool, error) {
	var found int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM xp_transactions WHERE profile_id = ? AND source = ? AND reference_id = ? LIMIT 1`,
		profileID, source, referenceID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup xp reference: %w", err)
	}
	return true, nil
}

func (s *queries) ListXP(ctx context.Context, profileID string, limit int) ([]gamification.XPTransaction, error) {
	query := `SELECT id, amount, source, reference_id, description, created_at
		FROM xp_transactions WHERE profile_id = ? AND amount <> 0
		ORDER BY created_at DESC, rowid DESC`
	args := []any{profileID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list xp: %w", err)
	}
	defer rows.Close()

	out := make([]gamification.XPTransaction, 0)
	for rows.Next() {
		var (
			tx        gamification.XPTransaction
			createdAt int64
		)
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.Source, &tx.ReferenceID, &tx.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan xp: %w", err)
		}
		tx.CreatedAt = fromMillis(createdAt)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate xp: %w", err)
	}
	return out, nil
}

func (s *queries) AppendFreezeUse(ctx context.Context, profileID string, use gamification.FreezeUse) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO freeze_uses (id, profile_id, day, streak_protected, used_at) VALUES (?, ?, ?, ?, ?)`,
		use.ID, profileID, use.Date.String(), use.StreakProtected, toMillis(use.UsedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("append freeze use: %w: duplicate id %s", gamification.ErrConflict, use.ID)
	}
	if err != nil {
		return fmt.Errorf("append freeze use: %w", err)
	}
	return nil
}

func (s *queries) ListFreezeUses(ctx context.Context, profileID string) ([]gamification.FreezeUse, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, day, streak_protected, used_at FROM freeze_uses
		 WHERE profile_id = ? ORDER BY used_at DESC, rowid DESC`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("list freeze uses: %w", err)
	}
	defer rows.Close()

	out := make([]gamification.FreezeUse, 0)
	for rows.Next() {
		var (
			use    gamification.FreezeUse
			day    string
			usedAt int64
		)
		if err := rows.Scan(&use.ID, &day, &use.StreakProtected, &usedAt); err != nil {
			return nil, fmt.Errorf("scan freeze use: %w", err)
		}
		if use.Date, err = gamification.ParseDay(day); err != nil {
			return nil, fmt.Errorf("stored freeze day %q: %w", day, err)
		}
		use.UsedAt = fromMillis(usedAt)
		out = append(out, use)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate freeze uses: %w", err)
	}
	return out, nil
}
