package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	p *Persistence
}

// Save publishes a workflow version. An existing (ref, version) is rejected.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	nodesJSON, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	result, err := r.p.db.ExecContext(ctx, r.p.q(`
		INSERT INTO workflows (ref, version, name, description, nodes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`),
		workflow.Ref,
		workflow.Version,
		workflow.Name,
		workflow.Description,
		string(nodesJSON),
		workflow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowAlreadyExists
	}

	return nil
}

func (r *WorkflowRepository) Get(ctx context.Context, ref, version string) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		nodesJSON []byte
	)

	err := r.p.db.QueryRowContext(ctx, r.p.q(`
		SELECT ref, version, name, description, nodes, created_at
		FROM workflows
		WHERE ref = ? AND version = ?
	`), ref, version).Scan(
		&workflow.Ref,
		&workflow.Version,
		&workflow.Name,
		&workflow.Description,
		&nodesJSON,
		&workflow.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	err = json.Unmarshal(nodesJSON, &workflow.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	err = workflow.Rebuild()
	if err != nil {
		return nil, fmt.Errorf("stored workflow %s@%s is invalid: %w", ref, version, err)
	}

	return &workflow, nil
}

// ProjectRepository handles project read-model operations.
type ProjectRepository struct {
	p *Persistence
}

func (r *ProjectRepository) Save(ctx context.Context, project *models.Project) error {
	_, err := r.p.db.ExecContext(ctx, r.p.q(`
		INSERT INTO projects (id, name, workflow_ref, workflow_version, association_id, association_type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			workflow_ref = EXCLUDED.workflow_ref,
			workflow_version = EXCLUDED.workflow_version,
			association_id = EXCLUDED.association_id,
			association_type = EXCLUDED.association_type
	`),
		project.ID,
		project.Name,
		project.WorkflowRef,
		project.WorkflowVersion,
		project.AssociationID,
		project.AssociationType,
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	return nil
}

const projectColumns = `id, name, workflow_ref, workflow_version, association_id, association_type`

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	return r.scan(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+projectColumns+` FROM projects WHERE id = ?`), id))
}

func (r *ProjectRepository) GetByName(ctx context.Context, name string) (*models.Project, error) {
	return r.scan(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+projectColumns+` FROM projects WHERE name = ?`), name))
}

func (r *ProjectRepository) scan(row scanner) (*models.Project, error) {
	var project models.Project

	err := row.Scan(
		&project.ID,
		&project.Name,
		&project.WorkflowRef,
		&project.WorkflowVersion,
		&project.AssociationID,
		&project.AssociationType,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrProjectNotFound
		}

		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	return &project, nil
}

// TriggerRepository handles trigger-related database operations.
type TriggerRepository struct {
	p *Persistence
}

// Save upserts the project's trigger; a project keeps a single trigger row.
func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	now := time.Now().UTC()

	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = now
	}

	trigger.UpdatedAt = now

	var webhookJSON sql.NullString

	if trigger.Webhook != nil {
		encoded, err := json.Marshal(trigger.Webhook)
		if err != nil {
			return fmt.Errorf("failed to marshal webhook: %w", err)
		}

		webhookJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := r.p.db.ExecContext(ctx, r.p.q(`
		INSERT INTO triggers (id, project_id, type, schedule, webhook, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			id = EXCLUDED.id,
			type = EXCLUDED.type,
			schedule = EXCLUDED.schedule,
			webhook = EXCLUDED.webhook,
			updated_at = EXCLUDED.updated_at
	`),
		trigger.ID,
		trigger.ProjectID,
		string(trigger.Type),
		trigger.Schedule,
		webhookJSON,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

const triggerColumns = `id, project_id, type, schedule, webhook, created_at, updated_at`

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	return r.scan(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+triggerColumns+` FROM triggers WHERE id = ?`), id))
}

func (r *TriggerRepository) GetByProjectID(ctx context.Context, projectID string) (*models.Trigger, error) {
	return r.scan(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+triggerColumns+` FROM triggers WHERE project_id = ?`), projectID))
}

func (r *TriggerRepository) ListByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	rows, err := r.p.db.QueryContext(ctx, r.p.q(`SELECT `+triggerColumns+` FROM triggers WHERE type = ? ORDER BY id`), string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}

	defer r.p.closeRows(ctx, rows)

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		trigger, err := r.scan(rows)
		if err != nil {
			return nil, err
		}

		triggers = append(triggers, trigger)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

func (r *TriggerRepository) DeleteByProjectID(ctx context.Context, projectID string) error {
	result, err := r.p.db.ExecContext(ctx, r.p.q(`DELETE FROM triggers WHERE project_id = ?`), projectID)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}

func (r *TriggerRepository) scan(row scanner) (*models.Trigger, error) {
	var (
		trigger     models.Trigger
		triggerType string
		schedule    sql.NullString
		webhookJSON []byte
	)

	err := row.Scan(
		&trigger.ID,
		&trigger.ProjectID,
		&triggerType,
		&schedule,
		&webhookJSON,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	trigger.Type = models.TriggerType(triggerType)
	trigger.Schedule = schedule.String

	if len(webhookJSON) > 0 {
		trigger.Webhook = &models.Webhook{}

		err = json.Unmarshal(webhookJSON, trigger.Webhook)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal webhook: %w", err)
		}
	}

	return &trigger, nil
}
