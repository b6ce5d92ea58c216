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
)

// InstanceRepository stores workflow instances and their tasks.
type InstanceRepository struct {
	p *Persistence
}

// Save writes the instance and tasks in one transaction, guarded by the
// instance version.
func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance, tasks []*models.TaskInstance) error {
	transaction, err := r.p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() { _ = transaction.Rollback() }()

	var result sql.Result

	if instance.Version == 0 {
		result, err = transaction.ExecContext(ctx, r.p.q(`
			INSERT INTO workflow_instances (
				id, serial, project_id, workflow_ref, workflow_version, trigger_id, trigger_type,
				status, start_time, end_time, suspended_time, version, created_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT DO NOTHING
		`),
			instance.ID,
			instance.Serial,
			instance.ProjectID,
			instance.WorkflowRef,
			instance.WorkflowVersion,
			instance.TriggerID,
			string(instance.TriggerType),
			string(instance.Status),
			nullTime(instance.StartTime),
			nullTime(instance.EndTime),
			nullTime(instance.SuspendedTime),
			instance.CreatedAt,
		)
	} else {
		result, err = transaction.ExecContext(ctx, r.p.q(`
			UPDATE workflow_instances SET
				status = ?,
				start_time = ?,
				end_time = ?,
				suspended_time = ?,
				version = version + 1
			WHERE id = ? AND version = ?
		`),
			string(instance.Status),
			nullTime(instance.StartTime),
			nullTime(instance.EndTime),
			nullTime(instance.SuspendedTime),
			instance.ID,
			instance.Version,
		)
	}

	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, fmt.Errorf("failed to write instance: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	if affected == 0 {
		return persistence.NewVersionConflict("Save", instance.ID, instance.Version)
	}

	for _, task := range tasks {
		err = r.saveTask(ctx, transaction, task)
		if err != nil {
			return persistence.NewInstanceError("Save", instance.ID, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, fmt.Errorf("failed to commit: %w", err))
	}

	instance.Version++

	return nil
}

func (r *InstanceRepository) saveTask(ctx context.Context, transaction *sql.Tx, task *models.TaskInstance) error {
	paramsJSON, err := json.Marshal(task.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal task parameters: %w", err)
	}

	_, err = transaction.ExecContext(ctx, r.p.q(`
		INSERT INTO task_instances (
			id, instance_id, trigger_id, node_ref, node_type, task_type, status,
			attempt, parameters, error_msg, start_time, end_time, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt = EXCLUDED.attempt,
			parameters = EXCLUDED.parameters,
			error_msg = EXCLUDED.error_msg,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			updated_at = EXCLUDED.updated_at
	`),
		task.ID,
		task.InstanceID,
		task.TriggerID,
		task.NodeRef,
		string(task.NodeType),
		task.TaskType,
		string(task.Status),
		task.Attempt,
		string(paramsJSON),
		task.ErrorMsg,
		nullTime(task.StartTime),
		nullTime(task.EndTime),
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.NodeRef, err)
	}

	return nil
}

const instanceColumns = `id, serial, project_id, workflow_ref, workflow_version, trigger_id, trigger_type,
	status, start_time, end_time, suspended_time, version, created_at`

func (r *InstanceRepository) Get(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	instance, err := r.scanInstance(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`), id))
	if err != nil {
		return nil, persistence.NewInstanceError("Get", id, err)
	}

	return instance, nil
}

func (r *InstanceRepository) GetByTriggerID(ctx context.Context, triggerID string) (*models.WorkflowInstance, error) {
	return r.scanInstance(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+instanceColumns+` FROM workflow_instances WHERE trigger_id = ?`), triggerID))
}

// ListByWorkflow returns the newest instances of a workflow first.
func (r *InstanceRepository) ListByWorkflow(ctx context.Context, workflowRef string, limit int) ([]*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE workflow_ref = ? ORDER BY serial DESC`
	args := []any{workflowRef}

	if limit > 0 {
		query += ` LIMIT ?`

		args = append(args, limit)
	}

	rows, err := r.p.db.QueryContext(ctx, r.p.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer r.p.closeRows(ctx, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) NextSerial(ctx context.Context, workflowRef string) (int64, error) {
	var serial int64

	err := r.p.db.QueryRowContext(ctx, r.p.q(`
		SELECT COALESCE(MAX(serial), 0) + 1 FROM workflow_instances WHERE workflow_ref = ?
	`), workflowRef).Scan(&serial)
	if err != nil {
		return 0, fmt.Errorf("failed to query next serial: %w", err)
	}

	return serial, nil
}

const taskColumns = `id, instance_id, trigger_id, node_ref, node_type, task_type, status,
	attempt, parameters, error_msg, start_time, end_time, updated_at`

func (r *InstanceRepository) Tasks(ctx context.Context, instanceID string) ([]*models.TaskInstance, error) {
	rows, err := r.p.db.QueryContext(ctx, r.p.q(`SELECT `+taskColumns+` FROM task_instances WHERE instance_id = ? ORDER BY id`), instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer r.p.closeRows(ctx, rows)

	tasks := make([]*models.TaskInstance, 0)

	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func (r *InstanceRepository) Task(ctx context.Context, taskID string) (*models.TaskInstance, error) {
	return r.scanTask(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+taskColumns+` FROM task_instances WHERE id = ?`), taskID))
}

func (r *InstanceRepository) scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		instance                          models.WorkflowInstance
		triggerType, status               string
		startTime, endTime, suspendedTime sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.Serial,
		&instance.ProjectID,
		&instance.WorkflowRef,
		&instance.WorkflowVersion,
		&instance.TriggerID,
		&triggerType,
		&status,
		&startTime,
		&endTime,
		&suspendedTime,
		&instance.Version,
		&instance.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	instance.TriggerType = models.TriggerType(triggerType)
	instance.Status = models.InstanceStatus(status)
	instance.StartTime = timePtr(startTime)
	instance.EndTime = timePtr(endTime)
	instance.SuspendedTime = timePtr(suspendedTime)

	return &instance, nil
}

func (r *InstanceRepository) scanTask(row scanner) (*models.TaskInstance, error) {
	var (
		task               models.TaskInstance
		nodeType, status   string
		paramsJSON         []byte
		startTime, endTime sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.TriggerID,
		&task.NodeRef,
		&nodeType,
		&task.TaskType,
		&status,
		&task.Attempt,
		&paramsJSON,
		&task.ErrorMsg,
		&startTime,
		&endTime,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.NodeType = models.NodeType(nodeType)
	task.Status = models.TaskStatus(status)
	task.StartTime = timePtr(startTime)
	task.EndTime = timePtr(endTime)

	if len(paramsJSON) > 0 {
		err = json.Unmarshal(paramsJSON, &task.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal task parameters: %w", err)
		}
	}

	return &task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	return &t.Time
}
