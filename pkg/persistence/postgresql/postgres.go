// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// NewPersistence connects to databaseURL, runs the migrations and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*sqlbase.Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	persistence, err := sqlbase.NewPersistence(ctx, logger, database, sqlbase.Postgres, migrations())
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	return persistence, nil
}
