// Package gochannel provides the in-process watermill channel used by single-node
// deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Config sizes the in-process channel.
type Config struct {
	Buffer int64
}

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
// Publish never waits for acks: handlers publish follow-up events on the same
// channel before acking their own message.
func CreateChannel(logger watermill.LoggerAdapter, config Config) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	if config.Buffer <= 0 {
		config.Buffer = 1000
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: config.Buffer,
			Persistent:          false,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
