// Package transport defines the broker-facing contract of eventflow. The
// publishing pipeline needs exactly one operation from a broker: send these
// bytes to this channel. Each backend (kafka, rabbitmq, aws, ...) lives in its
// own sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	"github.com/drblury/eventflow/internal/runtime/metadata"
)

// Message is one encoded envelope ready for the broker. Payload is produced
// once per publish and reused unchanged by every retry.
type Message struct {
	// ID is the envelope id. Brokers with native deduplication key on it.
	ID      string
	Payload []byte
	// PartitionKey keeps events for one aggregate in order on brokers that
	// partition.
	PartitionKey string
	Headers      metadata.Metadata
}

// Sender delivers messages to a broker.
type Sender interface {
	Send(ctx context.Context, channel string, msg Message) error
	Close() error
}

// Builder is the function signature for creating a sender from config.
// Each transport package provides a Builder that is registered by name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sender, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetTransport returns the transport name.
	GetTransport() string

	// Kafka
	GetKafkaBrokers() []string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS and JetStream
	GetNATSURL() string
	GetJetStreamStream() string

	// HTTP
	GetHTTPPublisherURL() string

	// Redis Streams
	GetRedisURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by senders that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// ErrSenderClosed is returned by senders after Close.
var ErrSenderClosed = errors.New("eventflow: transport is closed")

// ToWatermill converts msg into a Watermill message carrying the partition
// key and headers as metadata.
func ToWatermill(ctx context.Context, msg Message) *message.Message {
	wm := message.NewMessage(msg.ID, msg.Payload)
	wm.Metadata = metadata.ToWatermill(msg.Headers)
	if msg.PartitionKey != "" {
		wm.Metadata.Set(metadata.KeyPartitionKey, msg.PartitionKey)
	}
	if ctx != nil {
		wm.SetContext(ctx)
	}
	return wm
}

type publisherSender struct {
	pub message.Publisher
}

// FromPublisher adapts a Watermill publisher into a Sender. Watermill
// publishers block until the broker confirms, so Send returns the broker's
// verdict for this message.
func FromPublisher(pub message.Publisher) Sender {
	return &publisherSender{pub: pub}
}

func (p *publisherSender) Send(ctx context.Context, channel string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pub.Publish(channel, ToWatermill(ctx, msg))
}

func (p *publisherSender) Close() error {
	return p.pub.Close()
}

// Publisher exposes the wrapped Watermill publisher.
func (p *publisherSender) Publisher() message.Publisher {
	return p.pub
}

type limitedSender struct {
	Sender
	caps Capabilities
}

// WithLimits rejects messages the backend cannot accept before they reach it.
// Oversized payloads fail with a non-retryable error so they go straight to
// the dead-letter channel instead of burning retries.
func WithLimits(s Sender, caps Capabilities) Sender {
	if caps.MaxMessageSize <= 0 {
		return s
	}
	return &limitedSender{Sender: s, caps: caps}
}

func (l *limitedSender) Send(ctx context.Context, channel string, msg Message) error {
	if size := int64(len(msg.Payload)); size > l.caps.MaxMessageSize {
		return envelope.NonRetryable(fmt.Errorf("%w: %d bytes exceeds the %s limit of %d bytes",
			ErrMessageTooLarge, size, l.caps.Name, l.caps.MaxMessageSize))
	}
	return l.Sender.Send(ctx, channel, msg)
}

func (l *limitedSender) Capabilities() Capabilities {
	return l.caps
}

// ErrMessageTooLarge is wrapped by WithLimits rejections.
var ErrMessageTooLarge = errors.New("eventflow: message too large")
