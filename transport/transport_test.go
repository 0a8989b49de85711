package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	"github.com/drblury/eventflow/internal/runtime/metadata"
)

type capturingPublisher struct {
	topic    string
	messages []*message.Message
	err      error
	closed   bool
}

func (c *capturingPublisher) Publish(topic string, messages ...*message.Message) error {
	c.topic = topic
	c.messages = append(c.messages, messages...)
	return c.err
}

func (c *capturingPublisher) Close() error {
	c.closed = true
	return nil
}

func TestFromPublisher(t *testing.T) {
	pub := &capturingPublisher{}
	sender := FromPublisher(pub)

	err := sender.Send(context.Background(), "eventflow.card.v1", Message{
		ID:           "0b0c6f5e-36e4-4c9b-8f0e-2f1f3c1c9d11",
		Payload:      []byte(`{"type":"card.activated"}`),
		PartitionKey: "c1",
		Headers:      metadata.New(metadata.KeyPriority, "HIGH"),
	})
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "eventflow.card.v1", pub.topic)
	assert.Equal(t, "0b0c6f5e-36e4-4c9b-8f0e-2f1f3c1c9d11", msg.UUID)
	assert.Equal(t, "c1", msg.Metadata.Get(metadata.KeyPartitionKey))
	assert.Equal(t, "HIGH", msg.Metadata.Get(metadata.KeyPriority))

	require.NoError(t, sender.Close())
	assert.True(t, pub.closed)
}

func TestFromPublisher_PropagatesErrors(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("broker unavailable")}
	err := FromPublisher(pub).Send(context.Background(), "eventflow.card.v1", Message{})
	assert.EqualError(t, err, "broker unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = FromPublisher(&capturingPublisher{}).Send(ctx, "eventflow.card.v1", Message{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLimits(t *testing.T) {
	inner := &recordingSender{}
	assert.Same(t, Sender(inner), WithLimits(inner, Capabilities{}), "no limit means no wrapper")

	limited := WithLimits(inner, Capabilities{Name: "aws", MaxMessageSize: 8})
	require.NoError(t, limited.Send(context.Background(), "c", Message{Payload: []byte("12345678")}))

	err := limited.Send(context.Background(), "c", Message{Payload: []byte("123456789")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.False(t, envelope.IsRetryable(err))
	assert.Len(t, inner.sent, 1)
}

func TestStaticConfigImplementsConfig(t *testing.T) {
	var cfg Config = StaticConfig{Transport: "kafka", KafkaBrokers: []string{"b:9092"}, RedisURL: "redis://r:6379"}
	assert.Equal(t, "kafka", cfg.GetTransport())
	assert.Equal(t, []string{"b:9092"}, cfg.GetKafkaBrokers())
	assert.Equal(t, "redis://r:6379", cfg.GetRedisURL())
}
