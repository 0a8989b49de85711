// Package redisstream provides a Redis Streams transport for eventflow. Each
// channel is a stream; every send is one XADD capped with an approximate
// MAXLEN so streams never grow without bound.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/redis/go-redis/v9"

	"github.com/drblury/eventflow/internal/runtime/store"
	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis-stream"

// DefaultMaxLen caps each stream.
const DefaultMaxLen int64 = 100_000

// Stream entry field names.
const (
	FieldEventID      = "event_id"
	FieldPayload      = "payload"
	FieldPartitionKey = "partition_key"
)

// ErrNoURL is returned when no Redis URL is configured.
var ErrNoURL = errors.New("redis-stream: redis url is required")

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(ctx context.Context, url string) (redis.UniversalClient, error) {
	return store.Connect(ctx, url)
}

func init() {
	Register()
}

// Register registers the Redis Streams transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.RedisStreamCapabilities)
}

// Build creates a new Redis Streams transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	url := cfg.GetRedisURL()
	if url == "" {
		return nil, ErrNoURL
	}
	client, err := ClientFactory(ctx, url)
	if err != nil {
		return nil, err
	}
	return New(client, DefaultMaxLen), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisStreamCapabilities
}

// Transport appends messages to Redis streams.
type Transport struct {
	client redis.UniversalClient
	maxLen int64
	closed atomic.Bool
}

// New wraps client. A non-positive maxLen disables trimming.
func New(client redis.UniversalClient, maxLen int64) *Transport {
	return &Transport{client: client, maxLen: maxLen}
}

// Send appends msg to the stream named after channel.
func (t *Transport) Send(ctx context.Context, channel string, msg transport.Message) error {
	if t.closed.Load() {
		return transport.ErrSenderClosed
	}

	values := make(map[string]any, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		values[k] = v
	}
	values[FieldEventID] = msg.ID
	values[FieldPayload] = msg.Payload
	if msg.PartitionKey != "" {
		values[FieldPartitionKey] = msg.PartitionKey
	}

	args := &redis.XAddArgs{Stream: channel, ID: "*", Values: values}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", channel, err)
	}
	return nil
}

// Close closes the Redis client.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.client.Close()
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.RedisStreamCapabilities
}
