package workflow

import (
	"context"
	"fmt"

	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/events"
)

// Register subscribes the engine to the events that drive instances forward.
// Handlers are safe to re-run on redelivery.
func (e *Engine) Register(subscriber eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.TriggerAcceptedEvent: e.handleTriggerAccepted,
		events.InstanceCreatedEvent: e.handleInstanceCreated,
		events.TaskRunningEvent:     e.handleTaskReport,
		events.TaskSucceededEvent:   e.handleTaskReport,
		events.TaskFailedEvent:      e.handleTaskReport,
		events.TaskTerminatedEvent:  e.handleTaskReport,
		events.WorkspaceReadyEvent:  e.handleWorkspaceReady,
	}

	for eventType, handler := range handlers {
		err := subscriber.Handle(eventType, handler)
		if err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

func (e *Engine) handleTriggerAccepted(ctx context.Context, event eventbus.Event) error {
	accepted, ok := event.(*events.TriggerAccepted)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	_, err := e.Start(ctx, accepted.TriggerEventID)

	return err
}

func (e *Engine) handleInstanceCreated(ctx context.Context, event eventbus.Event) error {
	created, ok := event.(*events.InstanceCreated)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	return e.Initialize(ctx, created.InstanceID)
}

func (e *Engine) handleWorkspaceReady(ctx context.Context, event eventbus.Event) error {
	changed, ok := event.(*events.WorkspaceChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	return e.OnWorkspaceReady(ctx, changed.InstanceID)
}

func (e *Engine) handleTaskReport(ctx context.Context, event eventbus.Event) error {
	switch report := event.(type) {
	case *events.TaskRunning:
		return e.OnRunning(ctx, report.TaskInstanceID)
	case *events.TaskSucceeded:
		return e.OnSucceeded(ctx, report.TaskInstanceID)
	case *events.TaskFailed:
		return e.OnFailed(ctx, report.TaskInstanceID, report.ErrorMessage)
	case *events.TaskTerminated:
		return e.OnTerminated(ctx, report.TaskInstanceID)
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
}
