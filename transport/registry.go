package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrUnknownTransport is returned by Build when no backend was registered
// under the configured name. Usually a missing blank import.
var ErrUnknownTransport = errors.New("unknown transport")

type registration struct {
	build Builder
	caps  Capabilities
}

// Registry maps a transport name (the value of the transport config key) to
// the builder that opens it and what the backend can do.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// DefaultRegistry holds every transport package imported by the binary.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register makes a backend available under name. Registering the same name
// again replaces the earlier entry. It panics on an empty name or a nil
// builder, both of which are programming errors in a transport package.
func (r *Registry) Register(name string, builder Builder, caps Capabilities) {
	if name == "" {
		panic("transport: Register with empty name")
	}
	if builder == nil {
		panic("transport: Register " + name + " with nil builder")
	}
	if caps.Name == "" {
		caps.Name = name
	}

	r.mu.Lock()
	r.entries[name] = registration{build: builder, caps: caps}
	r.mu.Unlock()
}

// Lookup reports the capabilities registered for name.
func (r *Registry) Lookup(name string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg.caps, ok
}

// CapabilitiesOf is Lookup without the flag. Unknown backends report only
// their name.
func (r *Registry) CapabilitiesOf(name string) Capabilities {
	if caps, ok := r.Lookup(name); ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build opens the backend selected by cfg. The returned sender refuses
// payloads above the backend's MaxMessageSize before they reach the broker.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sender, error) {
	if cfg == nil {
		return nil, errors.New("transport config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetTransport()
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}

	sender, err := reg.build(ctx, cfg, logger.With(watermill.LogFields{"transport": name}))
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", name, err)
	}
	return WithLimits(sender, reg.caps), nil
}

// Names lists registered backends in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Register adds a backend to DefaultRegistry. Transport packages call it
// from init.
func Register(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.Register(name, builder, caps)
}

// CapabilitiesOf reads from DefaultRegistry.
func CapabilitiesOf(name string) Capabilities {
	return DefaultRegistry.CapabilitiesOf(name)
}

// Build opens the configured backend from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sender, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
