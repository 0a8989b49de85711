package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender keeps every message it was asked to send.
type recordingSender struct {
	mu     sync.Mutex
	sent   []Message
	closed bool
}

func (r *recordingSender) Send(_ context.Context, _ string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) Close() error {
	r.closed = true
	return nil
}

func recordingBuilder(s *recordingSender) Builder {
	return func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sender, error) {
		return s, nil
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NotNil(t, reg)
	assert.Empty(t, reg.Names())
	assert.False(t, reg.Has("kafka"))
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	caps := Capabilities{SupportsDelay: true, SupportsBrokerDedup: true}
	reg.Register("test-transport", recordingBuilder(&recordingSender{}), caps)

	assert.True(t, reg.Has("test-transport"))
	retrieved, ok := reg.Lookup("test-transport")
	require.True(t, ok)
	assert.Equal(t, "test-transport", retrieved.Name, "name defaults to the registration key")
	assert.True(t, retrieved.SupportsDelay)
	assert.True(t, retrieved.SupportsBrokerDedup)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register("t", recordingBuilder(&recordingSender{}), Capabilities{SupportsDelay: true})
	reg.Register("t", recordingBuilder(&recordingSender{}), Capabilities{})

	assert.False(t, reg.CapabilitiesOf("t").SupportsDelay)
	assert.Equal(t, []string{"t"}, reg.Names())
}

func TestRegistry_RegisterPanicsOnMisuse(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { reg.Register("", recordingBuilder(&recordingSender{}), Capabilities{}) })
	assert.Panics(t, func() { reg.Register("nil-builder", nil, Capabilities{}) })
}

func TestRegistry_CapabilitiesOf_Unknown(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Lookup("unknown")
	assert.False(t, ok)

	caps := reg.CapabilitiesOf("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsDelay)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	sender := &recordingSender{}
	reg.Register("test-transport", recordingBuilder(sender), Capabilities{})

	built, err := reg.Build(context.Background(), StaticConfig{Transport: "test-transport"}, nil)
	require.NoError(t, err)
	require.NoError(t, built.Send(context.Background(), "eventflow.card.v1", Message{ID: "1", Payload: []byte("{}")}))
	assert.Len(t, sender.sent, 1)
}

func TestRegistry_Build_AppliesSizeLimit(t *testing.T) {
	reg := NewRegistry()
	sender := &recordingSender{}
	reg.Register("tiny", recordingBuilder(sender), Capabilities{MaxMessageSize: 4})

	built, err := reg.Build(context.Background(), StaticConfig{Transport: "tiny"}, nil)
	require.NoError(t, err)

	err = built.Send(context.Background(), "eventflow.card.v1", Message{Payload: []byte(`{"a":1}`)})
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Empty(t, sender.sent)

	provider, ok := built.(CapabilitiesProvider)
	require.True(t, ok)
	assert.Equal(t, int64(4), provider.Capabilities().MaxMessageSize)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), StaticConfig{Transport: "unknown-transport"}, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTransport)
	assert.Contains(t, err.Error(), "unknown-transport")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()
	expectedErr := errors.New("builder error")
	reg.Register("failing-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sender, error) {
		return nil, expectedErr
	}, Capabilities{})

	_, err := reg.Build(context.Background(), StaticConfig{Transport: "failing-transport"}, nil)
	assert.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "failing-transport")
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	b := recordingBuilder(&recordingSender{})
	reg.Register("transport3", b, Capabilities{})
	reg.Register("transport1", b, Capabilities{})
	reg.Register("transport2", b, Capabilities{})

	assert.Equal(t, []string{"transport1", "transport2", "transport3"}, reg.Names())
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := DefaultRegistry
	defer func() { DefaultRegistry = original }()
	DefaultRegistry = NewRegistry()

	sender := &recordingSender{}
	Register("global", recordingBuilder(sender), Capabilities{Name: "global", SupportsOrdering: true})
	Register("plain", recordingBuilder(sender), Capabilities{})

	assert.True(t, CapabilitiesOf("global").SupportsOrdering)
	built, err := Build(context.Background(), StaticConfig{Transport: "plain"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, sender, built)
}
