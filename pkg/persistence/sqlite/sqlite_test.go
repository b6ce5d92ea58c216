package sqlite_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/persistencetest"
	"github.com/dukex/flowline/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) persistence.Persistence {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := sqlite.NewPersistence(ctx, logger, ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close(ctx))
	})

	return store
}

func TestSQLitePersistence(t *testing.T) {
	persistencetest.Run(t, newStore)
}

func TestNewPersistence_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	dsn := "file:" + filepath.Join(t.TempDir(), "flowline.db")

	first, err := sqlite.NewPersistence(ctx, logger, dsn)
	require.NoError(t, err)

	var version int

	err = first.DB().QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	require.NoError(t, first.Close(ctx))

	second, err := sqlite.NewPersistence(ctx, logger, dsn)
	require.NoError(t, err)

	var applied int

	err = second.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	require.NoError(t, second.HealthCheck(ctx))
	require.NoError(t, second.Close(ctx))
}
