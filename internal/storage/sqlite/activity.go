package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hoambaek/lifeos/internal/gamification"
)

const activityColumns = `day, water, clean_diet, workout, workout_category, protein_grams, workout_at, streak_frozen, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (gamification.ActivityRecord, error) {
	var (
		rec       gamification.ActivityRecord
		day       string
		water     bool
		cleanDiet bool
		workout   bool
		frozen    bool
		workoutAt sql.NullInt64
		updatedAt int64
	)
	if err := row.Scan(&day, &water, &cleanDiet, &workout, &rec.WorkoutCategory, &rec.ProteinGrams, &workoutAt, &frozen, &updatedAt); err != nil {
		return gamification.ActivityRecord{}, err
	}
	d, err := gamification.ParseDay(day)
	if err != nil {
		return gamification.ActivityRecord{}, fmt.Errorf("stored day %q: %w", day, err)
	}
	rec.Date = d
	rec.Water = water
	rec.CleanDiet = cleanDiet
	rec.Workout = workout
	rec.StreakFrozen = frozen
	rec.WorkoutAt = fromNullMillis(workoutAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func (s *queries) GetActivity(ctx context.Context, profileID string, day gamification.Day) (gamification.ActivityRecord, bool, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activity_records WHERE profile_id = ? AND day = ?`,
		profileID, day.String(),
	)
	rec, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gamification.ActivityRecord{}, false, nil
	}
	if err != nil {
		return gamification.ActivityRecord{}, false, fmt.Errorf("get activity: %w", err)
	}
	return rec, true, nil
}

func (s *queries) ListActivity(ctx context.Context, profileID string) ([]gamification.ActivityRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activity_records WHERE profile_id = ? ORDER BY day DESC`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return collectActivity(rows)
}

func (s *queries) ListActivityRange(ctx context.Context, profileID string, from, to gamification.Day) ([]gamification.ActivityRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activity_records
		 WHERE profile_id = ? AND day >= ? AND day <= ?
		 ORDER BY day DESC`,
		profileID, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list activity range: %w", err)
	}
	return collectActivity(rows)
}

func collectActivity(rows *sql.Rows) ([]gamification.ActivityRecord, error) {
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
	_, err := s.q.ExecContext(ctx, `
INSERT INTO activity_records (profile_id, `+activityColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (profile_id, day) DO UPDATE SET
    water = excluded.water,
    clean_diet = excluded.clean_diet,
    workout = excluded.workout,
    workout_category = excluded.workout_category,
    protein_grams = excluded.protein_grams,
    workout_at = excluded.workout_at,
    streak_frozen = excluded.streak_frozen,
    updated_at = excluded.updated_at`,
		profileID,
		rec.Date.String(),
		boolInt(rec.Water),
		boolInt(rec.CleanDiet),
		boolInt(rec.Workout),
		rec.WorkoutCategory,
		rec.ProteinGrams,
		nullMillis(rec.WorkoutAt),
		boolInt(rec.StreakFrozen),
		toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	return nil
}
