// Package transport builds the broker sender selected by the runtime
// configuration. Implementations live in github.com/drblury/eventflow/transport/*.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/eventflow/internal/runtime/config"
	newtransport "github.com/drblury/eventflow/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/eventflow/transport/transports"
)

// Transport is a sender produced by a factory together with what its backend
// supports.
type Transport struct {
	Sender       newtransport.Sender
	Capabilities newtransport.Capabilities
}

// Factory abstracts how eventflow initialises the broker sender.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// Static returns a Factory that always yields sender. Useful for tests and for
// callers that bring their own transport.
func Static(sender newtransport.Sender, caps newtransport.Capabilities) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		if sender == nil {
			return Transport{}, fmt.Errorf("sender is required")
		}
		return Transport{Sender: sender, Capabilities: caps}, nil
	})
}

// DefaultFactory returns the built-in transport factory that uses the
// modular transport registry.
func DefaultFactory() Factory {
	return defaultFactory{registry: newtransport.DefaultRegistry}
}

type defaultFactory struct {
	registry *newtransport.Registry
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	sender, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	caps := f.registry.CapabilitiesOf(conf.GetTransport())
	if provider, ok := sender.(newtransport.CapabilitiesProvider); ok {
		caps = provider.Capabilities()
	}
	return Transport{Sender: sender, Capabilities: caps}, nil
}
