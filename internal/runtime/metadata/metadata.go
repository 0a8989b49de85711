// Package metadata holds the string headers that travel with an envelope and
// become transport headers on the wire.
package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata is copy-on-write: With and WithAll never touch the receiver, so an
// envelope handed to the publisher keeps its headers.
type Metadata map[string]string

// Header keys set by the publisher on every transport message.
const (
	KeyEventID       = "eventflow_event_id"
	KeyEventType     = "eventflow_event_type"
	KeyAggregate     = "eventflow_aggregate"
	KeySchemaVersion = "eventflow_schema_version"
	KeyCorrelationID = "eventflow_correlation_id"
	KeyCausationID   = "eventflow_causation_id"
	KeyPartitionKey  = "eventflow_partition_key"
	KeyPriority      = "eventflow_priority"
	KeyAttempt       = "eventflow_attempt"
	KeyContentType   = "content-type"
)

// Dead-letter diagnostic header keys.
const (
	KeyOriginalChannel = "eventflow_original_channel"
	KeyFailureReason   = "eventflow_failure_reason"
	KeyAttemptCount    = "eventflow_attempt_count"
	KeyLastAttemptAt   = "eventflow_last_attempt_at"
)

// New builds metadata from key, value pairs. A trailing key without a value
// is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 1; i < len(pairs); i += 2 {
		md[pairs[i-1]] = pairs[i]
	}
	return md
}

// Clone never returns nil.
func (m Metadata) Clone() Metadata {
	return m.grow(0)
}

func (m Metadata) With(key, value string) Metadata {
	out := m.grow(1)
	out[key] = value
	return out
}

// WithAll overlays entries on a copy of m; entries win on conflict.
func (m Metadata) WithAll(entries Metadata) Metadata {
	out := m.grow(len(entries))
	maps.Copy(out, entries)
	return out
}

// Get is safe on a nil map.
func (m Metadata) Get(key string) string {
	return m[key]
}

// ToWatermill copies m into the header map of a Watermill message.
func ToWatermill(m Metadata) message.Metadata {
	return message.Metadata(m.Clone())
}

func (m Metadata) grow(extra int) Metadata {
	out := make(Metadata, len(m)+extra)
	maps.Copy(out, m)
	return out
}
