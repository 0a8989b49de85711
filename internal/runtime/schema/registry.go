// Package schema validates envelopes against the closed event vocabulary. Each
// event type is registered per MAJOR version with a JSON schema for its
// payload; minor and patch releases must stay backwards compatible.
package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/drblury/eventflow/internal/runtime/channels"
	"github.com/drblury/eventflow/internal/runtime/envelope"
)

//go:embed schemas/*.json
var builtin embed.FS

// Definition registers the payload schema for one (type, major version) pair.
type Definition struct {
	Type   string
	Major  int
	Schema []byte
}

// ValidatedEvent is an envelope that passed both checks, together with the
// channel it routes to.
type ValidatedEvent struct {
	Envelope envelope.Envelope
	Family   channels.Family
	Channel  string
}

// Option customises a Registry.
type Option func(*Registry)

// WithNaming overrides the channel naming used to route validated events.
func WithNaming(n channels.Naming) Option {
	return func(r *Registry) { r.naming = n }
}

// WithClockSkew overrides the tolerated future drift of envelope timestamps.
func WithClockSkew(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.skew = d
		}
	}
}

// Registry maps event types to compiled payload schemas. Lookups are safe for
// concurrent use; registration is expected at startup.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]map[int]*gojsonschema.Schema
	naming  channels.Naming
	skew    time.Duration
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		schemas: make(map[string]map[int]*gojsonschema.Schema),
		naming:  channels.NewNaming(""),
		skew:    envelope.DefaultClockSkew,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default returns a registry preloaded with the built-in vocabulary.
func Default(opts ...Option) (*Registry, error) {
	r := NewRegistry(opts...)
	if err := r.LoadFS(builtin, "schemas"); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFS registers every <type>.v<major>.json file found in dir.
func (r *Registry) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("eventflow: read schema dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}
		eventType, major, err := parseSchemaFileName(entry.Name())
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("eventflow: read schema %s: %w", entry.Name(), err)
		}
		if err := r.Register(Definition{Type: eventType, Major: major, Schema: data}); err != nil {
			return err
		}
	}
	return nil
}

func parseSchemaFileName(name string) (string, int, error) {
	base := strings.TrimSuffix(name, ".json")
	idx := strings.LastIndex(base, ".v")
	if idx <= 0 {
		return "", 0, fmt.Errorf("eventflow: schema file %q must be named <type>.v<major>.json", name)
	}
	major, err := strconv.Atoi(base[idx+2:])
	if err != nil {
		return "", 0, fmt.Errorf("eventflow: schema file %q has invalid major version: %w", name, err)
	}
	return base[:idx], major, nil
}

// Register compiles and stores a schema. The type's family must be a known
// aggregate family so every registered type has a channel.
func (r *Registry) Register(def Definition) error {
	family, _, ok := strings.Cut(def.Type, ".")
	if !ok || !channels.IsFamily(family) {
		return fmt.Errorf("eventflow: event type %q does not belong to a known aggregate family", def.Type)
	}
	if def.Major < 0 {
		return fmt.Errorf("eventflow: event type %q has negative major version", def.Type)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.Schema))
	if err != nil {
		return fmt.Errorf("eventflow: compile schema for %s v%d: %w", def.Type, def.Major, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.schemas[def.Type]
	if !ok {
		versions = make(map[int]*gojsonschema.Schema)
		r.schemas[def.Type] = versions
	}
	versions[def.Major] = compiled
	return nil
}

// Types returns the registered event types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Versions returns the registered major versions for eventType, sorted.
func (r *Registry) Versions(eventType string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.schemas[eventType]))
	for v := range r.schemas[eventType] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Validate runs the structural check and then the semantic check against the
// schema for (type, major version). It has no side effects. Errors are
// *envelope.ValidationError or *envelope.UnknownEventTypeError.
func (r *Registry) Validate(env envelope.Envelope, now time.Time) (ValidatedEvent, error) {
	if err := envelope.CheckStructure(env, now, r.skew); err != nil {
		return ValidatedEvent{}, err
	}

	r.mu.RLock()
	versions, known := r.schemas[env.Type]
	major, _ := env.MajorVersion()
	compiled, supported := versions[major]
	r.mu.RUnlock()

	if !known {
		return ValidatedEvent{}, &envelope.UnknownEventTypeError{Type: env.Type}
	}
	// aggregateName must name the family the type routes under.
	if env.AggregateName != env.Family() {
		return ValidatedEvent{}, &envelope.ValidationError{
			EventType: env.Type,
			Fields: []envelope.FieldError{{
				Field:   "aggregateName",
				Message: fmt.Sprintf("must be %q for %s events", env.Family(), env.Type),
			}},
		}
	}
	if !supported {
		return ValidatedEvent{}, &envelope.ValidationError{
			EventType: env.Type,
			Fields:    []envelope.FieldError{{Field: "version", Message: fmt.Sprintf("major version %d is not registered", major)}},
		}
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(env.Payload))
	if err != nil {
		return ValidatedEvent{}, &envelope.ValidationError{
			EventType: env.Type,
			Fields:    []envelope.FieldError{{Field: "payload", Message: err.Error()}},
		}
	}
	if !result.Valid() {
		fields := make([]envelope.FieldError, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			fields = append(fields, envelope.FieldError{Field: payloadField(re.Field()), Message: re.Description()})
		}
		return ValidatedEvent{}, &envelope.ValidationError{EventType: env.Type, Fields: fields}
	}

	family := channels.Family(env.Family())
	channel, err := r.naming.ForFamily(family)
	if err != nil {
		return ValidatedEvent{}, &envelope.UnknownEventTypeError{Type: env.Type}
	}
	return ValidatedEvent{Envelope: env, Family: family, Channel: channel}, nil
}

// ChannelFor returns the channel an event type routes to.
func (r *Registry) ChannelFor(eventType string) (string, error) {
	family, _, _ := strings.Cut(eventType, ".")
	return r.naming.ForFamily(channels.Family(family))
}

// DeadLetterChannel returns the dead-letter channel under the registry naming.
func (r *Registry) DeadLetterChannel() string {
	return r.naming.DeadLetter()
}

func payloadField(field string) string {
	if field == "" || field == "(root)" {
		return "payload"
	}
	return "payload." + field
}
