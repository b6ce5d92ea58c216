// Package sqlite provides the SQLite persistence implementation, backed by the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowline/pkg/persistence/sqlbase"
	_ "modernc.org/sqlite"
)

// NewPersistence opens the database at dsn, runs the migrations and returns the store.
// In-memory databases are pinned to one connection so every query sees the same schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, dsn string) (*sqlbase.Persistence, error) {
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer; serialising through one connection avoids SQLITE_BUSY.
	database.SetMaxOpenConns(1)

	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		_, err = database.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		if err != nil {
			_ = database.Close()

			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	persistence, err := sqlbase.NewPersistence(ctx, logger, database, sqlbase.SQLite, migrations())
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	return persistence, nil
}
