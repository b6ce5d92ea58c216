package gochannel_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowline/pkg/channels/gochannel"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_PublishFromUnackedHandler(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.Config{})
	require.NoError(t, err)

	defer func() { _ = pub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := sub.Subscribe(ctx, "events")
	require.NoError(t, err)

	publish := func(payload string) {
		done := make(chan error, 1)

		go func() {
			done <- pub.Publish("events", message.NewMessage(watermill.NewUUID(), []byte(payload)))
		}()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			require.FailNow(t, "publish waited for a subscriber ack", payload)
		}
	}

	receive := func() *message.Message {
		select {
		case msg := <-messages:
			return msg
		case <-ctx.Done():
			require.FailNow(t, "no message received")
			return nil
		}
	}

	publish("instance.started")

	first := receive()
	require.Equal(t, "instance.started", string(first.Payload))

	// a handler emits its follow-up before acking
	publish("task.dispatched")
	first.Ack()

	second := receive()
	require.Equal(t, "task.dispatched", string(second.Payload))
	second.Ack()
}
