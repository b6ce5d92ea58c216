package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrInvalidTrigger is returned when a trigger definition fails validation.
var ErrInvalidTrigger = errors.New("invalid trigger")

// Service manages project triggers and keeps the scheduler in step with stored
// cron triggers. Scheduler entries are keyed by trigger ID.
type Service struct {
	persistence persistence.Persistence
	scheduler   scheduler.Scheduler
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *metrics.Metrics
}

type ServiceOption func(*Service)

func WithServiceTracer(tracer trace.Tracer) ServiceOption {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(
	logger *slog.Logger,
	p persistence.Persistence,
	sched scheduler.Scheduler,
	publisher eventbus.EventPublisher,
	options ...ServiceOption,
) *Service {
	s := &Service{
		persistence: p,
		scheduler:   sched,
		publisher:   publisher,
		validate:    validator.New(),
		logger:      logger.With("module", "trigger_service"),
		tracer:      noop.NewTracerProvider().Tracer("trigger"),
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// SaveWebhook makes webhook the project's trigger, replacing any previous one.
func (s *Service) SaveWebhook(ctx context.Context, projectID string, webhook *models.Webhook) (*models.Trigger, error) {
	return s.save(ctx, &models.Trigger{
		ProjectID: projectID,
		Type:      models.TriggerTypeWebhook,
		Webhook:   webhook,
	})
}

// SaveSchedule makes a cron schedule the project's trigger, replacing any previous one.
func (s *Service) SaveSchedule(ctx context.Context, projectID, schedule string) (*models.Trigger, error) {
	err := scheduler.Validate(schedule)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	return s.save(ctx, &models.Trigger{
		ProjectID: projectID,
		Type:      models.TriggerTypeCron,
		Schedule:  schedule,
	})
}

func (s *Service) save(ctx context.Context, trigger *models.Trigger) (*models.Trigger, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "trigger.save",
		attribute.String(otelhelper.ProjectIDKey, trigger.ProjectID),
		attribute.String(otelhelper.TriggerTypeKey, string(trigger.Type)),
	)
	defer span.End()

	err := s.validate.Struct(trigger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	_, err = s.persistence.Projects().GetByID(ctx, trigger.ProjectID)
	if err != nil {
		return nil, err
	}

	existing, err := s.persistence.Triggers().GetByProjectID(ctx, trigger.ProjectID)

	switch {
	case err == nil:
		trigger.ID = existing.ID
		trigger.CreatedAt = existing.CreatedAt
		s.scheduler.Unschedule(existing.ID)
	case persistence.IsNotFound(err):
		trigger.ID = uuid.New().String()
	default:
		return nil, err
	}

	if trigger.Type == models.TriggerTypeCron {
		err = s.schedule(trigger)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}
	}

	err = s.persistence.Triggers().Save(ctx, trigger)
	if err != nil {
		s.scheduler.Unschedule(trigger.ID)
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to save trigger: %w", err)
	}

	s.logger.InfoContext(ctx, "Saved trigger",
		"project_id", trigger.ProjectID,
		"trigger_id", trigger.ID,
		"type", trigger.Type,
	)

	return trigger, nil
}

func (s *Service) schedule(trigger *models.Trigger) error {
	triggerID := trigger.ID

	return s.scheduler.Schedule(triggerID, trigger.Schedule, func(ctx context.Context) {
		err := s.Fire(ctx, triggerID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled trigger failed", "trigger_id", triggerID, "error", err)
		}
	})
}

// Delete removes the project's trigger and its schedule.
func (s *Service) Delete(ctx context.Context, projectID string) error {
	trigger, err := s.persistence.Triggers().GetByProjectID(ctx, projectID)
	if err != nil {
		return err
	}

	s.scheduler.Unschedule(trigger.ID)

	err = s.persistence.Triggers().DeleteByProjectID(ctx, projectID)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Deleted trigger", "project_id", projectID, "trigger_id", trigger.ID)

	return nil
}

// NextFireTime returns when the project's cron trigger fires next.
func (s *Service) NextFireTime(ctx context.Context, projectID string) (time.Time, error) {
	trigger, err := s.persistence.Triggers().GetByProjectID(ctx, projectID)
	if err != nil {
		return time.Time{}, err
	}

	next, ok := s.scheduler.NextFireTime(trigger.ID)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: project %s has no scheduled trigger", persistence.ErrTriggerNotFound, projectID)
	}

	return next, nil
}

// StartAll schedules every stored cron trigger and starts the scheduler.
func (s *Service) StartAll(ctx context.Context) error {
	triggers, err := s.persistence.Triggers().ListByType(ctx, models.TriggerTypeCron)
	if err != nil {
		return fmt.Errorf("failed to list cron triggers: %w", err)
	}

	for _, trigger := range triggers {
		s.scheduler.Unschedule(trigger.ID)

		err = s.schedule(trigger)
		if err != nil {
			return err
		}
	}

	s.scheduler.Start(ctx)

	s.logger.InfoContext(ctx, "Started cron triggers", "count", len(triggers))

	return nil
}

// Fire records and publishes a parameterless trigger event for triggerID.
func (s *Service) Fire(ctx context.Context, triggerID string) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "trigger.fire",
		attribute.String(otelhelper.TriggerIDKey, triggerID),
	)
	defer span.End()

	trigger, err := s.persistence.Triggers().GetByID(ctx, triggerID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	event := &models.TriggerEvent{
		ID:          uuid.New().String(),
		TriggerID:   trigger.ID,
		ProjectID:   trigger.ProjectID,
		TriggerType: trigger.Type,
		Parameters:  []models.TriggerEventParameter{},
		OccurredAt:  time.Now().UTC(),
	}

	err = publishTriggerEvent(ctx, s.persistence, s.publisher, event, s.metrics)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	s.logger.InfoContext(ctx, "Trigger fired", "trigger_id", trigger.ID, "trigger_event_id", event.ID)

	return nil
}
