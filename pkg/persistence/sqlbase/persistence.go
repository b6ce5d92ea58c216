package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/persistence"
)

// Persistence implements persistence.Persistence on database/sql. Driver
// packages open the connection, pick a Dialect and supply their migrations.
type Persistence struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence runs migrations on db and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, db *sql.DB, dialect Dialect, migrations map[int]string) (*Persistence, error) {
	err := NewMigrationManager(logger, db, dialect, migrations).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: db, dialect: dialect, logger: logger}, nil
}

func (p *Persistence) DB() *sql.DB {
	return p.db
}

func (p *Persistence) Workflows() persistence.WorkflowRepository         { return &WorkflowRepository{p} }
func (p *Persistence) Projects() persistence.ProjectRepository           { return &ProjectRepository{p} }
func (p *Persistence) Triggers() persistence.TriggerRepository           { return &TriggerRepository{p} }
func (p *Persistence) TriggerEvents() persistence.TriggerEventRepository { return &TriggerEventRepository{p} }
func (p *Persistence) WebRequests() persistence.WebRequestRepository     { return &WebRequestRepository{p} }
func (p *Persistence) Parameters() persistence.ParameterRepository       { return &ParameterRepository{p} }
func (p *Persistence) Instances() persistence.InstanceRepository         { return &InstanceRepository{p} }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) q(query string) string {
	return p.dialect.Rebind(query)
}

func (p *Persistence) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}
