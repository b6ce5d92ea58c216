package cmd_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/persistence/memory"
	"github.com/dukex/flowline/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()

	store, err := cmd.NewPersistence(ctx, testLogger(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, store)

	store, err = cmd.NewPersistence(ctx, testLogger(), "")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, store)

	_, err = cmd.NewPersistence(ctx, testLogger(), "mongodb://localhost")
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewPersistence_SQLite(t *testing.T) {
	ctx := context.Background()

	store, err := cmd.NewPersistence(ctx, testLogger(), "sqlite://"+filepath.Join(t.TempDir(), "flowline.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(ctx) })

	require.NoError(t, store.HealthCheck(ctx))
}

func TestNewSecretStore(t *testing.T) {
	ctx := context.Background()

	store, err := cmd.NewSecretStore(ctx, "", []string{"webhooks.token=s3cret", "db.password=a=b"})
	require.NoError(t, err)

	value, err := store.Resolve(ctx, "webhooks", "token")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)

	value, err = store.Resolve(ctx, "db", "password")
	require.NoError(t, err)
	assert.Equal(t, "a=b", value)

	_, err = store.Resolve(ctx, "db", "user")
	require.ErrorIs(t, err, secrets.ErrNotFound)

	_, err = cmd.NewSecretStore(ctx, "", []string{"token=s3cret"})
	require.Error(t, err)

	_, err = cmd.NewSecretStore(ctx, "vault://localhost", nil)
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewEventBus(t *testing.T) {
	bus, err := cmd.NewEventBus("gochannel", "", testLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("kafka", "", testLogger())
	require.Error(t, err)

	_, err = cmd.NewEventBus("rabbitmq", "", testLogger())
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewTracerDisabled(t *testing.T) {
	tracer := cmd.NewTracer(context.Background(), testLogger(), false)
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}
