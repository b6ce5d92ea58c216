package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/memory"
	"github.com/dukex/flowline/pkg/persistence/postgresql"
	"github.com/dukex/flowline/pkg/persistence/sqlite"
)

// NewPersistence picks the store from the URL scheme. An empty URL or
// memory:// keeps everything in process.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	var (
		store persistence.Persistence
		err   error
	)

	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err = postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		store, err = sqlite.NewPersistence(ctx, logger, strings.TrimPrefix(databaseURL, "sqlite://"))
	case "", "memory":
		store = memory.NewPersistence()
	default:
		return nil, fmt.Errorf("%w: database %q", ErrUnsupportedProvider, databaseURL)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	return store, nil
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return databaseURL
	}

	return provider
}
