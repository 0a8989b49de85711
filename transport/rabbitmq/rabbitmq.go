// Package rabbitmq provides a RabbitMQ/AMQP transport for eventflow.
package rabbitmq

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.RabbitMQCapabilities)
}

// AMQP priorities for the eventflow priority header. Queues need
// x-max-priority of at least 9 for the spread to matter.
const (
	priorityLow    uint8 = 1
	priorityMedium uint8 = 5
	priorityHigh   uint8 = 9
)

// WithPriority maps the eventflow priority header onto the AMQP priority field.
func WithPriority(p amqp091.Publishing) amqp091.Publishing {
	value, _ := p.Headers[metadata.KeyPriority].(string)
	switch strings.ToUpper(value) {
	case "HIGH":
		p.Priority = priorityHigh
	case "LOW":
		p.Priority = priorityLow
	default:
		p.Priority = priorityMedium
	}
	return p
}

// PublisherConfig returns the durable pub/sub config with publisher confirms
// enabled so Send only returns once the broker accepted the message.
func PublisherConfig(url string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)
	cfg.Marshaler = amqp.DefaultMarshaler{PostprocessPublishing: WithPriority}
	cfg.Publish.ConfirmDelivery = true
	return cfg
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	url := cfg.GetRabbitMQURL()

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := PublisherFactory(PublisherConfig(url), logger, conn)
	if err != nil {
		return nil, err
	}
	return transport.FromPublisher(publisher), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
