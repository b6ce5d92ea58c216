// Package executor hands async tasks to external workers.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/models"
)

// Dispatcher delivers a task instance, with its bound parameters, to the
// executor that owns its task type. Workers report back through the task
// callbacks.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.TaskInstance) error
}

// BusDispatcher publishes task.dispatched events for workers subscribed to the bus.
type BusDispatcher struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewBusDispatcher(logger *slog.Logger, publisher eventbus.EventPublisher) *BusDispatcher {
	return &BusDispatcher{
		publisher: publisher,
		logger:    logger.With("module", "executor_dispatcher"),
	}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, task *models.TaskInstance) error {
	event := events.TaskDispatched{
		BaseEvent:      events.NewBaseEvent(events.TaskDispatchedEvent, task.InstanceID),
		TaskInstanceID: task.ID,
		TriggerID:      task.TriggerID,
		NodeRef:        task.NodeRef,
		TaskType:       task.TaskType,
		Attempt:        task.Attempt,
		Parameters:     TaskParameters(task.Parameters),
	}

	err := d.publisher.Publish(ctx, task.InstanceID, event)
	if err != nil {
		return fmt.Errorf("failed to dispatch task %s: %w", task.ID, err)
	}

	d.logger.DebugContext(ctx, "Dispatched task",
		"task_id", task.ID,
		"node_ref", task.NodeRef,
		"attempt", task.Attempt,
	)

	return nil
}

// TaskParameters converts bound parameters for the wire. Secrets carry only
// their reference; workers resolve them against their own secret store.
func TaskParameters(params []models.Parameter) []events.TaskParameter {
	out := make([]events.TaskParameter, 0, len(params))
	for _, p := range params {
		param := events.TaskParameter{Name: p.Name, Type: string(p.Type), Ref: p.Ref}
		if !p.IsSecret() {
			param.Value = p.Value
		}

		out = append(out, param)
	}

	return out
}
