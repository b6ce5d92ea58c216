package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/auth"
	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/executor"
	"github.com/dukex/flowline/pkg/expression"
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// MaxSaveAttempts bounds the read-advance-write cycle of one update.
	MaxSaveAttempts = 5

	// SaveRetryDelay is the pause between attempts after a version conflict.
	SaveRetryDelay = 3 * time.Second
)

// ErrUpdateDropped is returned when every save attempt lost a version race.
// The update has not been applied.
var ErrUpdateDropped = errors.New("workflow instance update dropped")

// Engine runs the instance state machine. Every operation loads the instance
// with its tasks, applies one change, re-plans, and saves with a version check.
// Events raised on the way are published only after the save succeeds.
type Engine struct {
	persistence persistence.Persistence
	expressions *expression.Engine
	dispatcher  executor.Dispatcher
	publisher   eventbus.EventPublisher
	ownership   auth.OwnershipChecker
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	retryDelay  time.Duration
	now         func() time.Time
}

type Option func(*Engine)

// WithRetryDelay overrides SaveRetryDelay.
func WithRetryDelay(delay time.Duration) Option {
	return func(e *Engine) {
		e.retryDelay = delay
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithOwnershipChecker(checker auth.OwnershipChecker) Option {
	return func(e *Engine) {
		e.ownership = checker
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(
	logger *slog.Logger,
	p persistence.Persistence,
	expressions *expression.Engine,
	dispatcher executor.Dispatcher,
	publisher eventbus.EventPublisher,
	options ...Option,
) *Engine {
	e := &Engine{
		persistence: p,
		expressions: expressions,
		dispatcher:  dispatcher,
		publisher:   publisher,
		logger:      logger.With("module", "workflow_engine"),
		tracer:      noop.NewTracerProvider().Tracer("workflow"),
		retryDelay:  SaveRetryDelay,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// Start creates the instance for an accepted trigger event. A redelivered event
// returns the instance created the first time.
func (e *Engine) Start(ctx context.Context, triggerEventID string) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.start",
		attribute.String(otelhelper.TriggerIDKey, triggerEventID),
	)
	defer span.End()

	existing, err := e.persistence.Instances().GetByTriggerID(ctx, triggerEventID)
	if err == nil {
		return existing, nil
	}

	if !persistence.IsNotFound(err) {
		return nil, err
	}

	triggerEvent, err := e.persistence.TriggerEvents().GetByID(ctx, triggerEventID)
	if err != nil {
		return nil, err
	}

	project, err := e.persistence.Projects().GetByID(ctx, triggerEvent.ProjectID)
	if err != nil {
		return nil, err
	}

	workflow, err := e.persistence.Workflows().Get(ctx, project.WorkflowRef, project.WorkflowVersion)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= MaxSaveAttempts; attempt++ {
		serial, err := e.persistence.Instances().NextSerial(ctx, workflow.Ref)
		if err != nil {
			return nil, err
		}

		instance := models.NewWorkflowInstance(uuid.New().String(), serial, workflow, triggerEvent)

		err = e.persistence.Instances().Save(ctx, instance, nil)
		if err == nil {
			span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))
			e.logger.InfoContext(ctx, "Created workflow instance",
				"instance_id", instance.ID,
				"serial", serial,
				"workflow_ref", workflow.Ref,
				"trigger_event_id", triggerEventID,
			)

			return instance, e.publish(ctx, instance)
		}

		if !persistence.IsVersionConflict(err) {
			otelhelper.SetError(span, err)

			return nil, err
		}

		existing, getErr := e.persistence.Instances().GetByTriggerID(ctx, triggerEventID)
		if getErr == nil {
			return existing, nil
		}

		e.metrics.SaveConflict()
	}

	return nil, e.dropped(ctx, "start", triggerEventID)
}

// Initialize moves a new instance to RUNNING and dispatches its first tasks.
// It does nothing for an instance that already left INIT.
func (e *Engine) Initialize(ctx context.Context, instanceID string) error {
	return e.update(ctx, "initialize", instanceID, func(s *state) error {
		if s.instance.Status != models.InstanceInit {
			return errSkip
		}

		return s.instance.Initialize(s.now)
	})
}

// Advance re-plans an instance without changing anything first.
func (e *Engine) Advance(ctx context.Context, instanceID string) error {
	return e.update(ctx, "advance", instanceID, func(*state) error {
		return nil
	})
}

// OnWorkspaceReady re-enters advancement when an executor reports the
// instance's workspace volume ready.
func (e *Engine) OnWorkspaceReady(ctx context.Context, instanceID string) error {
	return e.Advance(ctx, instanceID)
}

// Terminate stops a RUNNING or SUSPENDED instance and every task still active.
func (e *Engine) Terminate(ctx context.Context, instanceID string, association *auth.Association) error {
	err := auth.Authorize(ctx, e.ownership, association, instanceID)
	if err != nil {
		return err
	}

	return e.update(ctx, "terminate", instanceID, func(s *state) error {
		err := s.instance.Terminate(s.now, "terminated by operator")
		if err != nil {
			return err
		}

		for _, task := range s.tasks {
			handedOut := task.Status == models.TaskDispatched || task.Status == models.TaskRunning
			if !task.Status.Active() || task.Terminate(s.now) != nil {
				continue
			}

			s.markDirty(task)

			if handedOut {
				s.requestStop(task)
			}
		}

		return nil
	})
}

// Retry dispatches a FAILED task again. A suspended instance resumes.
func (e *Engine) Retry(ctx context.Context, instanceID, nodeRef string, association *auth.Association) error {
	err := auth.Authorize(ctx, e.ownership, association, instanceID)
	if err != nil {
		return err
	}

	return e.update(ctx, "retry", instanceID, func(s *state) error {
		task, err := s.commandTask(nodeRef)
		if err != nil {
			return err
		}

		node, _ := s.workflow.Node(nodeRef)
		if !node.Executable() {
			return fmt.Errorf("%w: node %s is not an async task", models.ErrInvalidTransition, nodeRef)
		}

		err = task.Retry(s.now)
		if err != nil {
			return err
		}

		params, err := s.binder.Params(ctx, node)
		if err != nil {
			return err
		}

		task.Parameters = params
		s.markDirty(task)
		s.dispatch = append(s.dispatch, task)

		return s.resumeIfSuspended()
	})
}

// Ignore accepts a FAILED task as done so its successors can run. A suspended
// instance resumes.
func (e *Engine) Ignore(ctx context.Context, instanceID, nodeRef string, association *auth.Association) error {
	err := auth.Authorize(ctx, e.ownership, association, instanceID)
	if err != nil {
		return err
	}

	return e.update(ctx, "ignore", instanceID, func(s *state) error {
		task, err := s.commandTask(nodeRef)
		if err != nil {
			return err
		}

		err = task.Ignore(s.now)
		if err != nil {
			return err
		}

		s.markDirty(task)

		return s.resumeIfSuspended()
	})
}

// Suspend pauses a RUNNING instance. Active tasks keep running; nothing new is
// dispatched until Resume.
func (e *Engine) Suspend(ctx context.Context, instanceID string, association *auth.Association) error {
	err := auth.Authorize(ctx, e.ownership, association, instanceID)
	if err != nil {
		return err
	}

	return e.update(ctx, "suspend", instanceID, func(s *state) error {
		return s.instance.Suspend(s.now, "")
	})
}

// Resume continues a SUSPENDED instance. A failed task holding the instance
// must be retried or ignored instead.
func (e *Engine) Resume(ctx context.Context, instanceID string, association *auth.Association) error {
	err := auth.Authorize(ctx, e.ownership, association, instanceID)
	if err != nil {
		return err
	}

	return e.update(ctx, "resume", instanceID, func(s *state) error {
		if task, blocked := UnresolvedFailure(s.workflow, s.tasks); blocked {
			return fmt.Errorf("%w: task %s failed, retry or ignore it instead", models.ErrInvalidTransition, task.NodeRef)
		}

		return s.instance.Resume()
	})
}

// OnRunning records that an executor started a task.
func (e *Engine) OnRunning(ctx context.Context, taskID string) error {
	return e.report(ctx, "task_running", taskID, models.TaskRunning, func(task *models.TaskInstance, now time.Time) error {
		return task.Run(now)
	})
}

// OnSucceeded records a task success and advances the instance.
func (e *Engine) OnSucceeded(ctx context.Context, taskID string) error {
	return e.report(ctx, "task_succeeded", taskID, models.TaskSucceeded, func(task *models.TaskInstance, now time.Time) error {
		return task.Succeed(now)
	})
}

// OnFailed records a task failure; the node's failure mode decides what happens next.
func (e *Engine) OnFailed(ctx context.Context, taskID, message string) error {
	return e.report(ctx, "task_failed", taskID, models.TaskFailed, func(task *models.TaskInstance, now time.Time) error {
		return task.Fail(now, message)
	})
}

// OnTerminated records that an executor stopped a task. The instance terminates.
func (e *Engine) OnTerminated(ctx context.Context, taskID string) error {
	return e.report(ctx, "task_terminated", taskID, models.TaskTerminated, func(task *models.TaskInstance, now time.Time) error {
		return task.Terminate(now)
	})
}

// report applies an executor callback. A callback repeating the task's current
// status is a redelivery and changes nothing.
func (e *Engine) report(
	ctx context.Context,
	op, taskID string,
	target models.TaskStatus,
	apply func(*models.TaskInstance, time.Time) error,
) error {
	task, err := e.persistence.Instances().Task(ctx, taskID)
	if err != nil {
		return err
	}

	return e.update(ctx, op, task.InstanceID, func(s *state) error {
		current, ok := s.taskByID(taskID)
		if !ok {
			return fmt.Errorf("%w: %s", persistence.ErrTaskNotFound, taskID)
		}

		if current.Status == target {
			return errSkip
		}

		err := apply(current, s.now)
		if err != nil {
			return err
		}

		s.markDirty(current)

		return nil
	})
}

// errSkip ends an update without saving.
var errSkip = errors.New("nothing to update")

// update runs the optimistic read-modify-write cycle for one instance.
func (e *Engine) update(ctx context.Context, op, instanceID string, mutate func(*state) error) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow."+op,
		attribute.String(otelhelper.InstanceIDKey, instanceID),
	)
	defer span.End()

	logger := e.logger.With("op", op, "instance_id", instanceID)

	for attempt := 1; attempt <= MaxSaveAttempts; attempt++ {
		span.SetAttributes(attribute.Int(otelhelper.SaveAttemptKey, attempt))

		s, err := e.load(ctx, instanceID)
		if err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		err = mutate(s)
		if errors.Is(err, errSkip) {
			return nil
		}

		if err != nil {
			return err
		}

		err = e.advance(ctx, s)
		if err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		if !s.changed() {
			return nil
		}

		err = e.persistence.Instances().Save(ctx, s.instance, s.dirtyTasks())
		if err == nil {
			return e.commit(ctx, s)
		}

		if !persistence.IsVersionConflict(err) {
			otelhelper.SetError(span, err)

			return err
		}

		e.metrics.SaveConflict()
		logger.WarnContext(ctx, "Instance changed concurrently, retrying", "attempt", attempt)

		if attempt == MaxSaveAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.retryDelay):
		}
	}

	err := e.dropped(ctx, op, instanceID)
	otelhelper.SetError(span, err)

	return err
}

func (e *Engine) dropped(ctx context.Context, op, id string) error {
	e.metrics.UpdateDropped()
	e.logger.ErrorContext(ctx, "Giving up on workflow instance update",
		"op", op,
		"id", id,
		"attempts", MaxSaveAttempts,
	)

	return fmt.Errorf("%w: %s %s after %d attempts", ErrUpdateDropped, op, id, MaxSaveAttempts)
}

// advance plans the instance and applies the outcome.
func (e *Engine) advance(ctx context.Context, s *state) error {
	result, err := Plan(ctx, s.workflow, s.instance, s.tasks, s.binder, s.now)
	if err != nil {
		return err
	}

	for _, task := range result.Tasks {
		s.markDirty(task)
	}

	s.dispatch = append(s.dispatch, result.Dispatch...)

	for _, task := range result.Stop {
		s.requestStop(task)
	}

	switch result.Outcome {
	case OutcomeFinish:
		return s.instance.Finish(s.now)
	case OutcomeTerminate:
		return s.instance.Terminate(s.now, result.Reason)
	case OutcomeSuspend:
		return s.instance.Suspend(s.now, result.NodeRef)
	case OutcomeNone:
	}

	return nil
}

// commit publishes what a successful save produced.
func (e *Engine) commit(ctx context.Context, s *state) error {
	if s.instance.Status.IsTerminal() && !s.initialStatus.IsTerminal() {
		e.metrics.InstanceEnded(string(s.instance.Status), s.instance.Duration())
		e.logger.InfoContext(ctx, "Workflow instance ended",
			"instance_id", s.instance.ID,
			"status", s.instance.Status,
		)
	}

	var errs []error

	err := e.publish(ctx, s.instance)
	if err != nil {
		errs = append(errs, err)
	}

	for _, task := range s.dispatch {
		err = e.dispatcher.Dispatch(ctx, task)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to dispatch task", "task_id", task.ID, "node_ref", task.NodeRef, "error", err)
			errs = append(errs, err)

			continue
		}

		e.metrics.TaskDispatched()
	}

	return errors.Join(errs...)
}

func (e *Engine) publish(ctx context.Context, instance *models.WorkflowInstance) error {
	err := eventbus.PublishAll(ctx, e.publisher, instance.ID, instance.DrainEvents())
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish instance events", "instance_id", instance.ID, "error", err)

		return fmt.Errorf("failed to publish instance events: %w", err)
	}

	return nil
}

func (e *Engine) load(ctx context.Context, instanceID string) (*state, error) {
	instance, err := e.persistence.Instances().Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	workflow, err := e.persistence.Workflows().Get(ctx, instance.WorkflowRef, instance.WorkflowVersion)
	if err != nil {
		return nil, err
	}

	tasks, err := e.persistence.Instances().Tasks(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	s := &state{
		instance:      instance,
		initialStatus: instance.Status,
		workflow:      workflow,
		tasks:         make(map[string]*models.TaskInstance, len(tasks)),
		dirty:         make(map[string]*models.TaskInstance),
		now:           e.now(),
	}

	for _, task := range tasks {
		s.tasks[task.NodeRef] = task
	}

	s.binder = &expressionBinder{
		engine: e.expressions,
		vars: func(ctx context.Context) (*expression.Context, error) {
			event, err := e.persistence.TriggerEvents().GetByID(ctx, instance.TriggerID)
			if err != nil {
				return nil, err
			}

			return expression.FromTriggerEvent(event), nil
		},
	}

	return s, nil
}

// state is one attempt's in-memory copy of an instance and its tasks.
type state struct {
	instance      *models.WorkflowInstance
	initialStatus models.InstanceStatus
	workflow      *models.Workflow
	tasks         map[string]*models.TaskInstance
	dirty         map[string]*models.TaskInstance
	dispatch      []*models.TaskInstance
	binder        Binder
	now           time.Time
}

func (s *state) markDirty(task *models.TaskInstance) {
	s.dirty[task.ID] = task
}

func (s *state) dirtyTasks() []*models.TaskInstance {
	tasks := make([]*models.TaskInstance, 0, len(s.dirty))
	for _, task := range s.dirty {
		tasks = append(tasks, task)
	}

	return tasks
}

func (s *state) changed() bool {
	return len(s.dirty) > 0 || s.instance.PendingEvents() > 0
}

func (s *state) taskByID(id string) (*models.TaskInstance, bool) {
	for _, task := range s.tasks {
		if task.ID == id {
			return task, true
		}
	}

	return nil, false
}

func (s *state) commandTask(nodeRef string) (*models.TaskInstance, error) {
	if s.instance.Status != models.InstanceRunning && s.instance.Status != models.InstanceSuspended {
		return nil, fmt.Errorf("%w: instance %s is %s", models.ErrInvalidTransition, s.instance.ID, s.instance.Status)
	}

	task, ok := s.tasks[nodeRef]
	if !ok {
		return nil, fmt.Errorf("%w: node %s of instance %s", persistence.ErrTaskNotFound, nodeRef, s.instance.ID)
	}

	return task, nil
}

func (s *state) resumeIfSuspended() error {
	if s.instance.Status != models.InstanceSuspended {
		return nil
	}

	if _, blocked := UnresolvedFailure(s.workflow, s.tasks); blocked {
		return nil
	}

	return s.instance.Resume()
}

func (s *state) requestStop(task *models.TaskInstance) {
	s.instance.Raise(events.TaskTerminateRequested{
		BaseEvent:      events.NewBaseEvent(events.TaskTerminateRequestEvent, s.instance.ID),
		TaskInstanceID: task.ID,
		NodeRef:        task.NodeRef,
	})
}
