// Package nats provides a NATS Core transport for eventflow.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.NATSCapabilities)
}

// PublisherConfig returns a core NATS publisher config. JetStream is handled
// by the nats-jetstream transport.
func PublisherConfig(url string) nats.PublisherConfig {
	return nats.PublisherConfig{
		URL:       url,
		Marshaler: &nats.NATSMarshaler{},
		JetStream: nats.JetStreamConfig{Disabled: true},
	}
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	publisher, err := PublisherFactory(PublisherConfig(cfg.GetNATSURL()), logger)
	if err != nil {
		return nil, err
	}
	return transport.FromPublisher(publisher), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
