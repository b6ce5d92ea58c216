package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

// TriggerEventRepository stores accepted trigger events.
type TriggerEventRepository struct {
	p *Persistence
}

func (r *TriggerEventRepository) Save(ctx context.Context, event *models.TriggerEvent) error {
	paramsJSON, err := json.Marshal(models.WithoutSecrets(event.Parameters))
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	payloadJSON, err := marshalNullable(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = r.p.db.ExecContext(ctx, r.p.q(`
		INSERT INTO trigger_events (id, trigger_id, project_id, trigger_type, web_request_id, payload, parameters, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		event.ID,
		event.TriggerID,
		event.ProjectID,
		string(event.TriggerType),
		event.WebRequestID,
		payloadJSON,
		string(paramsJSON),
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger event: %w", err)
	}

	return nil
}

func (r *TriggerEventRepository) GetByID(ctx context.Context, id string) (*models.TriggerEvent, error) {
	var (
		event       models.TriggerEvent
		triggerType string
		payloadJSON []byte
		paramsJSON  []byte
	)

	err := r.p.db.QueryRowContext(ctx, r.p.q(`
		SELECT id, trigger_id, project_id, trigger_type, web_request_id, payload, parameters, occurred_at
		FROM trigger_events
		WHERE id = ?
	`), id).Scan(
		&event.ID,
		&event.TriggerID,
		&event.ProjectID,
		&triggerType,
		&event.WebRequestID,
		&payloadJSON,
		&paramsJSON,
		&event.OccurredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerEventNotFound
		}

		return nil, fmt.Errorf("failed to scan trigger event: %w", err)
	}

	event.TriggerType = models.TriggerType(triggerType)

	if len(payloadJSON) > 0 {
		event.Payload = &models.Payload{}

		err = json.Unmarshal(payloadJSON, event.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	err = json.Unmarshal(paramsJSON, &event.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}

	return &event, nil
}

// WebRequestRepository stores the audit trail of webhook calls.
type WebRequestRepository struct {
	p *Persistence
}

func (r *WebRequestRepository) Save(ctx context.Context, request *models.WebRequest) error {
	payloadJSON, err := marshalNullable(request.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = r.p.db.ExecContext(ctx, r.p.q(`
		INSERT INTO web_requests (id, project_id, trigger_id, workflow_ref, workflow_version, user_agent, payload, status_code, error_msg, request_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		request.ID,
		request.ProjectID,
		request.TriggerID,
		request.WorkflowRef,
		request.WorkflowVersion,
		request.UserAgent,
		payloadJSON,
		string(request.StatusCode),
		request.ErrorMsg,
		request.RequestTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save web request: %w", err)
	}

	return nil
}

const webRequestColumns = `id, project_id, trigger_id, workflow_ref, workflow_version, user_agent, payload, status_code, error_msg, request_time`

func (r *WebRequestRepository) GetByID(ctx context.Context, id string) (*models.WebRequest, error) {
	return r.scan(r.p.db.QueryRowContext(ctx, r.p.q(`SELECT `+webRequestColumns+` FROM web_requests WHERE id = ?`), id))
}

// ListByProject returns the newest requests first. An empty projectID lists all.
func (r *WebRequestRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.WebRequest, error) {
	query := `SELECT ` + webRequestColumns + ` FROM web_requests`
	args := make([]any, 0, 2)

	if projectID != "" {
		query += ` WHERE project_id = ?`

		args = append(args, projectID)
	}

	query += ` ORDER BY request_time DESC`

	if limit > 0 {
		query += ` LIMIT ?`

		args = append(args, limit)
	}

	rows, err := r.p.db.QueryContext(ctx, r.p.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query web requests: %w", err)
	}

	defer r.p.closeRows(ctx, rows)

	requests := make([]*models.WebRequest, 0)

	for rows.Next() {
		request, err := r.scan(rows)
		if err != nil {
			return nil, err
		}

		requests = append(requests, request)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating web requests: %w", err)
	}

	return requests, nil
}

func (r *WebRequestRepository) scan(row scanner) (*models.WebRequest, error) {
	var (
		request     models.WebRequest
		status      string
		payloadJSON []byte
	)

	err := row.Scan(
		&request.ID,
		&request.ProjectID,
		&request.TriggerID,
		&request.WorkflowRef,
		&request.WorkflowVersion,
		&request.UserAgent,
		&payloadJSON,
		&status,
		&request.ErrorMsg,
		&request.RequestTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWebRequestNotFound
		}

		return nil, fmt.Errorf("failed to scan web request: %w", err)
	}

	request.StatusCode = models.WebRequestStatus(status)

	if len(payloadJSON) > 0 {
		request.Payload = &models.Payload{}

		err = json.Unmarshal(payloadJSON, request.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	return &request, nil
}

// ParameterRepository stores extracted parameter values.
type ParameterRepository struct {
	p *Persistence
}

// SaveAll writes the given parameters in one transaction, dropping secrets.
func (r *ParameterRepository) SaveAll(ctx context.Context, params []models.Parameter) error {
	transaction, err := r.p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = transaction.Rollback() }()

	for _, param := range models.ParametersWithoutSecrets(params) {
		valueJSON, err := json.Marshal(param.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal parameter %s: %w", param.ID, err)
		}

		_, err = transaction.ExecContext(ctx, r.p.q(`
			INSERT INTO parameters (id, type, value)
			VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				type = EXCLUDED.type,
				value = EXCLUDED.value
		`), param.ID, string(param.Type), string(valueJSON))
		if err != nil {
			return fmt.Errorf("failed to save parameter %s: %w", param.ID, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit parameters: %w", err)
	}

	return nil
}

func (r *ParameterRepository) GetByID(ctx context.Context, id string) (models.Parameter, error) {
	var (
		param     models.Parameter
		paramType string
		valueJSON []byte
	)

	err := r.p.db.QueryRowContext(ctx, r.p.q(`SELECT id, type, value FROM parameters WHERE id = ?`), id).
		Scan(&param.ID, &paramType, &valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Parameter{}, persistence.ErrNotFound
		}

		return models.Parameter{}, fmt.Errorf("failed to scan parameter: %w", err)
	}

	param.Type = models.ParameterType(paramType)

	err = json.Unmarshal(valueJSON, &param.Value)
	if err != nil {
		return models.Parameter{}, fmt.Errorf("failed to unmarshal parameter value: %w", err)
	}

	return param, nil
}

// marshalNullable encodes v as a JSON string, or SQL NULL when v is nil.
func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(encoded), Valid: true}, nil
}
