// Package eventbus provides event-driven communication between the trigger
// evaluator, the workflow engine and task executors.
package eventbus

import (
	"context"

	"github.com/dukex/flowline/pkg/events"
)

type Event = events.Event

type EventPublisher interface {
	// Publish sends event under key. Events sharing a key keep their order.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	// Handle registers handler for eventType. Several handlers may share a type;
	// they run in registration order.
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// PublishAll publishes events in order and stops at the first failure.
func PublishAll(ctx context.Context, publisher EventPublisher, key string, pending []Event) error {
	for _, event := range pending {
		err := publisher.Publish(ctx, key, event)
		if err != nil {
			return err
		}
	}

	return nil
}

// Discard accepts and drops every event.
var Discard EventPublisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, Event) error {
	return nil
}
