// Package channel provides an in-memory Go channel transport for eventflow.
// This transport is useful for testing and local development.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Transport sends to an in-process Watermill GoChannel. Subscribe exposes the
// same pub/sub so tests and local tooling can observe published events.
type Transport struct {
	transport.Sender
	pubSub *gochannel.GoChannel
}

// New creates a channel transport.
func New(logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pubSub := Factory(gochannel.Config{OutputChannelBuffer: 256}, logger)
	return &Transport{Sender: transport.FromPublisher(pubSub), pubSub: pubSub}
}

// Build creates a new Go channel transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	return New(logger), nil
}

// Subscribe returns the messages sent to channel after the call.
func (t *Transport) Subscribe(ctx context.Context, channel string) (<-chan *message.Message, error) {
	return t.pubSub.Subscribe(ctx, channel)
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return Capabilities()
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
