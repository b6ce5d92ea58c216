package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var errUnknownEvent = errors.New("unknown event type")

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	tracer     trace.Tracer

	mu            sync.RWMutex
	subscriptions map[events.EventType][]EventHandler
}

type Option func(*WatermillEventBus)

// WithTracer makes the bus open a span per consumed message.
func WithTracer(tracer trace.Tracer) Option {
	return func(eb *WatermillEventBus) {
		eb.tracer = tracer
	}
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber, options ...Option) *WatermillEventBus {
	eb := &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "eventbus"),
		tracer:        noop.NewTracerProvider().Tracer("eventbus"),
		subscriptions: make(map[events.EventType][]EventHandler),
	}

	for _, option := range options {
		option(eb)
	}

	return eb
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		msg.Metadata.Set(k, v)
	}

	eb.logger.DebugContext(ctx, "Publishing event", "event_type", event.GetType(), "key", key)

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.consume(ctx, msg)
		}
	}()

	return nil
}

// consume decodes and dispatches one message. Messages are always acked: a
// handler failure is logged and not redelivered, handlers own their retries.
func (eb *WatermillEventBus) consume(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handlers := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))

	msgCtx, span := otelhelper.StartSpan(msgCtx, eb.tracer, "eventbus consume",
		attribute.String(otelhelper.EventTypeKey, string(eventType)),
		attribute.String("messaging.message.key", msg.Metadata.Get(events.EventMetadataKey)),
	)
	defer span.End()

	event, ok := events.New(eventType)
	if !ok {
		eb.logger.ErrorContext(msgCtx, "Unknown event type", "event_type", eventType)
		otelhelper.SetError(span, errUnknownEvent)

		return
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		eb.logger.ErrorContext(msgCtx, "Failed to unmarshal event", "error", err, "event_type", eventType)
		otelhelper.SetError(span, err)

		return
	}

	for _, handler := range handlers {
		err = handler(msgCtx, event)
		if err != nil {
			eb.logger.ErrorContext(msgCtx, "Failed to handle event", "error", err, "event_type", eventType)
			otelhelper.SetError(span, err)
		}
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = append(eb.subscriptions[eventType], handler)

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
