package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.CapabilitiesOf(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsDelay)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.ChannelCapabilities, caps)
	assert.Equal(t, "channel", caps.Name)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "channel", TransportName)
}

func TestSendDeliversToSubscribers(t *testing.T) {
	tr := New(watermill.NopLogger{})
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	messages, err := tr.Subscribe(ctx, "eventflow.card.v1")
	require.NoError(t, err)

	err = tr.Send(ctx, "eventflow.card.v1", transport.Message{
		ID:           "e1",
		Payload:      []byte(`{"id":"e1"}`),
		PartitionKey: "c1",
		Headers:      metadata.New(metadata.KeyEventType, "card.activated"),
	})
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "e1", msg.UUID)
		assert.JSONEq(t, `{"id":"e1"}`, string(msg.Payload))
		assert.Equal(t, "c1", msg.Metadata.Get(metadata.KeyPartitionKey))
		assert.Equal(t, "card.activated", msg.Metadata.Get(metadata.KeyEventType))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestBuildUsesFactory(t *testing.T) {
	originalFactory := Factory
	defer func() { Factory = originalFactory }()

	called := false
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
		called = true
		return gochannel.NewGoChannel(cfg, logger)
	}

	sender, err := Build(context.Background(), transport.StaticConfig{Transport: TransportName}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, sender.Close())
}
