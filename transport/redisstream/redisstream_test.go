package redisstream

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/transport"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.CapabilitiesOf(TransportName)
	assert.Equal(t, "redis-stream", caps.Name)
	assert.True(t, caps.SupportsOrdering)
}

func TestSendAppendsToStream(t *testing.T) {
	_, client := newClient(t)
	tr := New(client, DefaultMaxLen)
	ctx := context.Background()

	err := tr.Send(ctx, "eventflow.card.v1", transport.Message{
		ID:           "e1",
		Payload:      []byte(`{"id":"e1"}`),
		PartitionKey: "card-7",
		Headers:      metadata.New(metadata.KeyEventType, "card.activated"),
	})
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, "eventflow.card.v1", transport.Message{ID: "e2", Payload: []byte(`{}`)}))

	entries, err := client.XRange(ctx, "eventflow.card.v1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0].Values
	assert.Equal(t, "e1", first[FieldEventID])
	assert.Equal(t, `{"id":"e1"}`, first[FieldPayload])
	assert.Equal(t, "card-7", first[FieldPartitionKey])
	assert.Equal(t, "card.activated", first[metadata.KeyEventType])
	assert.NotContains(t, entries[1].Values, FieldPartitionKey)
}

func TestSendTrimsStream(t *testing.T) {
	_, client := newClient(t)
	tr := New(client, 3)
	ctx := context.Background()

	for range 10 {
		require.NoError(t, tr.Send(ctx, "eventflow.system.v1", transport.Message{ID: "e", Payload: []byte(`{}`)}))
	}

	n, err := client.XLen(ctx, "eventflow.system.v1").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(10))
	assert.GreaterOrEqual(t, n, int64(3))
}

func TestBuild(t *testing.T) {
	mr := miniredis.RunT(t)

	sender, err := Build(context.Background(), transport.StaticConfig{RedisURL: "redis://" + mr.Addr()}, watermill.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, sender.Send(context.Background(), "eventflow.user.v1", transport.Message{ID: "u1", Payload: []byte(`{}`)}))
	require.NoError(t, sender.Close())
	require.NoError(t, sender.Close())
	assert.ErrorIs(t, sender.Send(context.Background(), "eventflow.user.v1", transport.Message{}), transport.ErrSenderClosed)

	_, err = Build(context.Background(), transport.StaticConfig{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestSendReportsRedisErrors(t *testing.T) {
	mr, client := newClient(t)
	tr := New(client, 0)
	mr.Close()

	err := tr.Send(context.Background(), "eventflow.card.v1", transport.Message{ID: "e1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis xadd eventflow.card.v1")
}
