// Package kafkago provides a Kafka transport for eventflow built directly on
// segmentio/kafka-go, without the Sarama client.
package kafkago

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/segmentio/kafka-go"

	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka-go"

// ErrNoBrokers is returned when no broker address is configured.
var ErrNoBrokers = errors.New("kafka-go: at least one broker is required")

// Writer is the subset of *kafka.Writer the transport uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterFactory allows overriding the writer creation for testing.
var WriterFactory = func(brokers []string) Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
}

func init() {
	Register()
}

// Register registers the kafka-go transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.KafkaGoCapabilities)
}

// Build creates a new kafka-go transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	return New(WriterFactory(brokers)), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaGoCapabilities
}

// Transport writes each message to the topic named after its channel. The
// partition key becomes the Kafka key so the hash balancer keeps one
// aggregate on one partition.
type Transport struct {
	writer Writer
	now    func() time.Time
	closed atomic.Bool
}

// New wraps a kafka-go writer.
func New(writer Writer) *Transport {
	return &Transport{writer: writer, now: time.Now}
}

// Send writes msg and waits for all in-sync replicas.
func (t *Transport) Send(ctx context.Context, channel string, msg transport.Message) error {
	if t.closed.Load() {
		return transport.ErrSenderClosed
	}
	return t.writer.WriteMessages(ctx, kafka.Message{
		Topic:   channel,
		Key:     messageKey(msg),
		Value:   msg.Payload,
		Headers: headers(msg),
		Time:    t.now().UTC(),
	})
}

// Close flushes and closes the writer.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.writer.Close()
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.KafkaGoCapabilities
}

func messageKey(msg transport.Message) []byte {
	if msg.PartitionKey != "" {
		return []byte(msg.PartitionKey)
	}
	return []byte(msg.ID)
}

func headers(msg transport.Message) []kafka.Header {
	if len(msg.Headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(msg.Headers))
	for _, key := range slices.Sorted(maps.Keys(msg.Headers)) {
		out = append(out, kafka.Header{Key: key, Value: []byte(msg.Headers[key])})
	}
	return out
}
