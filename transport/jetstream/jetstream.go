// Package jetstream provides a NATS JetStream transport for eventflow.
// JetStream drops repeated message ids inside the stream's duplicate window,
// which backs up the publisher's own deduplication.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when no stream is configured.
	DefaultStreamName = "EVENTFLOW"

	// DefaultDuplicateWindow is how long JetStream remembers message ids.
	DefaultDuplicateWindow = 2 * time.Minute

	// DefaultMaxAge bounds how long the stream retains events.
	DefaultMaxAge = 7 * 24 * time.Hour
)

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	return New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetJetStreamStream(),
	}, logger)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the name of the JetStream stream to use.
	// If empty, defaults to "EVENTFLOW".
	StreamName string

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// DuplicateWindow is the broker-side deduplication window.
	DuplicateWindow time.Duration

	// RetentionPolicy: "limits" (default), "interest", or "workqueue"
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
	return c
}

// StreamConfig returns the stream definition ensured on connect.
func (c Config) StreamConfig() *nats.StreamConfig {
	c = c.withDefaults()
	streamCfg := &nats.StreamConfig{
		Name:       c.StreamName,
		Subjects:   []string{c.StreamName + ".>"},
		MaxAge:     DefaultMaxAge,
		Replicas:   c.Replicas,
		Duplicates: c.DuplicateWindow,
	}

	switch c.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nats.WorkQueuePolicy
	default:
		streamCfg.Retention = nats.LimitsPolicy
	}
	return streamCfg
}

// Publisher is the subset of nats.JetStreamContext the transport uses.
type Publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Transport sends events to a JetStream stream.
type Transport struct {
	nc     *nats.Conn
	js     Publisher
	config Config
	logger watermill.LoggerAdapter

	closed   bool
	closedMu sync.RWMutex
}

// New connects to NATS and ensures the configured stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(js, cfg, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &Transport{nc: nc, js: js, config: cfg, logger: logger}, nil
}

// NewWithPublisher builds a transport around an existing JetStream publisher.
func NewWithPublisher(js Publisher, cfg Config, logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Transport{js: js, config: cfg.withDefaults(), logger: logger}
}

func ensureStream(js nats.JetStreamManager, cfg Config, logger watermill.LoggerAdapter) error {
	streamCfg := cfg.StreamConfig()

	if _, err := js.AddStream(streamCfg); err != nil {
		if errors.Is(err, nats.ErrJetStreamNotEnabled) {
			return err
		}
		if _, err := js.UpdateStream(streamCfg); err != nil {
			logger.Info("JetStream stream exists", watermill.LogFields{
				"stream": cfg.StreamName,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// Send publishes msg and waits for the stream acknowledgement. The envelope id
// becomes the JetStream message id.
func (t *Transport) Send(ctx context.Context, channel string, msg transport.Message) error {
	t.closedMu.RLock()
	closed := t.closed
	t.closedMu.RUnlock()
	if closed {
		return transport.ErrSenderClosed
	}

	headers := nats.Header{}
	for k, v := range msg.Headers {
		headers.Set(k, v)
	}

	natsMsg := &nats.Msg{
		Subject: t.Subject(channel),
		Data:    msg.Payload,
		Header:  headers,
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msg.ID != "" {
		opts = append(opts, nats.MsgId(msg.ID))
	}

	ack, err := t.js.PublishMsg(natsMsg, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	if ack != nil && ack.Duplicate {
		t.logger.Debug("JetStream dropped duplicate message id", watermill.LogFields{
			"event_id": msg.ID,
			"stream":   ack.Stream,
		})
	}
	return nil
}

// Subject maps an eventflow channel onto a subject inside the stream.
func (t *Transport) Subject(channel string) string {
	return t.config.StreamName + "." + channel
}

// Close closes the JetStream transport.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	defer t.closedMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if t.nc != nil {
		t.nc.Close()
	}
	return nil
}

// Capabilities returns the JetStream transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
