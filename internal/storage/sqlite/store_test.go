package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoambaek/lifeos/internal/gamification"
	"github.com/hoambaek/lifeos/internal/storage/sqlite/migrations"
	"github.com/hoambaek/lifeos/internal/storage/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "lifeos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) gamification.Store { return openTestStore(t) })
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lifeos.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveActivity(ctx, "p", gamification.ActivityRecord{
		Date: gamification.NewDay(2024, 3, 4), Water: true,
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, applyMigrations(ctx, s.sqlDB, migrations.FS))

	var applied int
	require.NoError(t, s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+migrationTable).Scan(&applied))
	require.Equal(t, 1, applied)

	rec, ok, err := s.GetActivity(ctx, "p", gamification.NewDay(2024, 3, 4))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.Water)
}

func TestExtractUpMigration(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no markers", "CREATE TABLE a (x INT);", "CREATE TABLE a (x INT);"},
		{"up only", "-- +migrate Up\nCREATE TABLE a (x INT);", "\nCREATE TABLE a (x INT);"},
		{"up and down", "-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;", "\nCREATE TABLE a (x INT);\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extractUpMigration(tt.in))
		})
	}
}

func TestInsertUnlock_RequiresDefinition(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertUnlock(context.Background(), "p", gamification.AchievementUnlock{Key: "missing"})
	require.ErrorIs(t, err, gamification.ErrNotFound)
}

func TestEngineOverSQLite(t *testing.T) {
	s := openTestStore(t)
	engine, err := gamification.NewEngine(s)
	require.NoError(t, err)

	ctx := context.Background()
	yes := true
	res, err := engine.RecordActivity(ctx, engine.Today(), gamification.ActivityPatch{Water: &yes})
	require.NoError(t, err)
	require.True(t, res.Record.Water)
	require.NotEmpty(t, res.Rewards)

	// Re-recording the same quest pays nothing more.
	_, err = engine.RecordActivity(ctx, engine.Today(), gamification.ActivityPatch{Water: &yes})
	require.NoError(t, err)
	p, err := engine.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, gamification.DefaultQuestXP()[gamification.QuestWater], p.TotalXP)
}
