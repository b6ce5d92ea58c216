// Package trigger turns webhook calls and cron firings into trigger events.
package trigger

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/expression"
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Evaluator checks webhook calls against their project's trigger. Every call,
// accepted or not, leaves exactly one WebRequest record.
type Evaluator struct {
	persistence persistence.Persistence
	engine      *expression.Engine
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	now         func() time.Time
}

type EvaluatorOption func(*Evaluator)

func WithEvaluatorTracer(tracer trace.Tracer) EvaluatorOption {
	return func(e *Evaluator) {
		e.tracer = tracer
	}
}

func WithEvaluatorMetrics(m *metrics.Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

func NewEvaluator(
	logger *slog.Logger,
	p persistence.Persistence,
	engine *expression.Engine,
	publisher eventbus.EventPublisher,
	options ...EvaluatorOption,
) *Evaluator {
	e := &Evaluator{
		persistence: p,
		engine:      engine,
		publisher:   publisher,
		logger:      logger.With("module", "trigger_evaluator"),
		tracer:      noop.NewTracerProvider().Tracer("trigger"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// rejection is a check failure that ends evaluation with a non-OK status.
type rejection struct {
	status  models.WebRequestStatus
	message string
}

func (r *rejection) Error() string {
	return string(r.status) + ": " + r.message
}

func reject(status models.WebRequestStatus, format string, args ...any) error {
	return &rejection{status: status, message: fmt.Sprintf(format, args...)}
}

// Evaluate runs the webhook checks in order: project, trigger, trigger type,
// parameter extraction, auth, body schema, matcher. The returned WebRequest
// carries the outcome. The error is non-nil only when the outcome could not be
// recorded or an accepted event could not be stored.
func (e *Evaluator) Evaluate(ctx context.Context, projectName string, request *Request) (*models.WebRequest, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "trigger.evaluate_webhook",
		attribute.String(otelhelper.ProjectNameKey, projectName),
	)
	defer span.End()

	webRequest := &models.WebRequest{
		ID:          uuid.New().String(),
		UserAgent:   request.UserAgent,
		StatusCode:  models.WebRequestOK,
		RequestTime: e.now(),
	}

	span.SetAttributes(attribute.String(otelhelper.WebRequestIDKey, webRequest.ID))

	accepted, err := e.evaluate(ctx, projectName, request, webRequest)
	if err != nil {
		var rejected *rejection
		if errors.As(err, &rejected) {
			webRequest.Reject(rejected.status, rejected.message)
		} else {
			webRequest.Reject(models.WebRequestUnknown, err.Error())
		}

		e.logger.WarnContext(ctx, "Webhook rejected",
			"project", projectName,
			"status", webRequest.StatusCode,
			"reason", webRequest.ErrorMsg,
		)
	}

	e.metrics.WebRequest(string(webRequest.StatusCode))

	saveErr := e.persistence.WebRequests().Save(ctx, webRequest)
	if saveErr != nil {
		otelhelper.SetError(span, saveErr)

		return webRequest, fmt.Errorf("failed to record web request: %w", saveErr)
	}

	if accepted == nil {
		return webRequest, nil
	}

	err = e.accept(ctx, accepted)
	if err != nil {
		otelhelper.SetError(span, err)

		return webRequest, err
	}

	return webRequest, nil
}

type acceptedCall struct {
	event  *models.TriggerEvent
	params []models.Parameter
}

func (e *Evaluator) evaluate(ctx context.Context, projectName string, request *Request, webRequest *models.WebRequest) (*acceptedCall, error) {
	// every recorded call keeps its payload, rejected ones included
	payload, err := Normalize(request)
	if err != nil {
		return nil, err
	}

	webRequest.Payload = payload

	project, err := e.persistence.Projects().GetByName(ctx, projectName)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, reject(models.WebRequestNotFound, "project %s not found", projectName)
		}

		return nil, err
	}

	webRequest.ProjectID = project.ID
	webRequest.WorkflowRef = project.WorkflowRef
	webRequest.WorkflowVersion = project.WorkflowVersion

	trigger, err := e.persistence.Triggers().GetByProjectID(ctx, project.ID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, reject(models.WebRequestNotFound, "project %s has no trigger", projectName)
		}

		return nil, err
	}

	webRequest.TriggerID = trigger.ID

	if trigger.Type != models.TriggerTypeWebhook || trigger.Webhook == nil {
		return nil, reject(models.WebRequestNotAcceptable, "project %s trigger is %s, not WEBHOOK", projectName, trigger.Type)
	}

	webhook := trigger.Webhook
	vars := expression.NewContext().WithPayload(payload)
	document := payload.Document()

	eventParams := make([]models.TriggerEventParameter, 0, len(webhook.Params))
	params := make([]models.Parameter, 0, len(webhook.Params))

	for _, spec := range webhook.Params {
		value, err := expression.Extract(document, spec.Exp)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", spec.Name, err)
		}

		if value == nil && spec.Required {
			return nil, reject(models.WebRequestNotAcceptable, "required parameter %s not found at %s", spec.Name, spec.Exp)
		}

		param, err := spec.Type.NewParameter(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", spec.Name, err)
		}

		params = append(params, param)
		eventParams = append(eventParams, models.TriggerEventParameter{
			Name:        spec.Name,
			Type:        spec.Type,
			Value:       param.Value,
			ParameterID: param.ID,
		})
		vars.Add(expression.TriggerNamespace, spec.Name, param)
	}

	if webhook.Auth != nil {
		err = e.authenticate(ctx, webhook.Auth, vars)
		if err != nil {
			return nil, err
		}
	}

	if len(webhook.Schema) > 0 {
		err = validateBody(webhook.Schema, payload.Body.JSON)
		if err != nil {
			return nil, err
		}
	}

	if webhook.Matcher != "" {
		matched, result, err := e.engine.EvaluateBool(ctx, webhook.Matcher, vars)
		if err != nil {
			return nil, err
		}

		if !matched {
			return nil, reject(models.WebRequestNotAcceptable, "matcher evaluated to %s", result.String())
		}
	}

	return &acceptedCall{
		event: &models.TriggerEvent{
			ID:           uuid.New().String(),
			TriggerID:    trigger.ID,
			ProjectID:    project.ID,
			TriggerType:  models.TriggerTypeWebhook,
			WebRequestID: webRequest.ID,
			Payload:      payload,
			Parameters:   eventParams,
			OccurredAt:   webRequest.RequestTime,
		},
		params: params,
	}, nil
}

// authenticate requires the token expression to produce a STRING equal to the
// secret named by auth.Value.
func (e *Evaluator) authenticate(ctx context.Context, auth *models.WebhookAuth, vars *expression.Context) error {
	token, err := e.engine.Evaluate(ctx, auth.Token, vars)
	if err != nil {
		return err
	}

	if token.Type != models.ParameterString {
		return reject(models.WebRequestUnauthorized, "auth token must evaluate to STRING, got %s", token.Type)
	}

	expected, err := e.engine.ResolveSecret(ctx, auth.Value)
	if err != nil {
		return err
	}

	actual, _ := token.Value.(string)
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return reject(models.WebRequestUnauthorized, "webhook token mismatch")
	}

	return nil
}

func validateBody(schema map[string]any, body any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(body))
	if err != nil {
		return fmt.Errorf("body schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return reject(models.WebRequestNotAcceptable, "body does not match schema: %s", strings.Join(details, "; "))
}

// accept stores the parameters and the trigger event, then announces it.
func (e *Evaluator) accept(ctx context.Context, call *acceptedCall) error {
	err := e.persistence.Parameters().SaveAll(ctx, call.params)
	if err != nil {
		return fmt.Errorf("failed to save trigger parameters: %w", err)
	}

	return publishTriggerEvent(ctx, e.persistence, e.publisher, call.event, e.metrics)
}

func publishTriggerEvent(
	ctx context.Context,
	p persistence.Persistence,
	publisher eventbus.EventPublisher,
	event *models.TriggerEvent,
	m *metrics.Metrics,
) error {
	stored := *event
	stored.Parameters = models.WithoutSecrets(event.Parameters)

	err := p.TriggerEvents().Save(ctx, &stored)
	if err != nil {
		return fmt.Errorf("failed to save trigger event: %w", err)
	}

	err = publisher.Publish(ctx, event.ID, events.TriggerAccepted{
		BaseEvent:      events.NewBaseEvent(events.TriggerAcceptedEvent, ""),
		TriggerEventID: event.ID,
		TriggerID:      event.TriggerID,
		ProjectID:      event.ProjectID,
		TriggerType:    string(event.TriggerType),
	})
	if err != nil {
		return fmt.Errorf("failed to publish trigger event: %w", err)
	}

	m.TriggerFired(string(event.TriggerType))

	return nil
}
