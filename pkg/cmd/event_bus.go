// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowline/pkg/channels/gochannel"
	"github.com/dukex/flowline/pkg/channels/kafka"
	"github.com/dukex/flowline/pkg/eventbus"
)

const serviceName = "flowline"

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewEventBus builds the bus for provider. brokers is a comma separated list
// and is only read by kafka.
func NewEventBus(provider, brokers string, logger *slog.Logger, options ...eventbus.Option) (*eventbus.WatermillEventBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(adapter, gochannel.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub, options...), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, kafka.ParseBrokers(brokers), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub, options...), nil
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, provider)
	}
}
