// Package envelope defines the immutable event record submitted for
// publication, its per-call publish options and the error taxonomy shared by
// the publishing pipeline.
package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	idspkg "github.com/drblury/eventflow/internal/runtime/ids"
	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
	"github.com/drblury/eventflow/internal/runtime/metadata"
)

// Envelope is the unit of publication. Every envelope belongs to exactly one
// aggregate and is never mutated once handed to the publisher; the With*
// helpers return copies.
type Envelope struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	AggregateName string            `json:"aggregateName"`
	AggregateID   string            `json:"aggregateId"`
	Version       string            `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	Metadata      metadata.Metadata `json:"metadata,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
}

// New builds an envelope with a fresh id and a UTC creation timestamp. payload
// may be raw JSON bytes, a json.RawMessage, a proto.Message or any value the
// JSON codec can encode.
func New(eventType, aggregateName, aggregateID, version string, payload any) (Envelope, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:            idspkg.NewEventID(),
		Type:          eventType,
		AggregateName: aggregateName,
		AggregateID:   aggregateID,
		Version:       version,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata.Metadata{},
		Payload:       raw,
	}, nil
}

// NewFromProto is New for protobuf payloads. Fields are emitted even when
// unset so schema validation sees the full shape.
func NewFromProto(eventType, aggregateName, aggregateID, version string, msg proto.Message) (Envelope, error) {
	if msg == nil {
		return Envelope{}, fmt.Errorf("eventflow: proto payload is nil")
	}
	return New(eventType, aggregateName, aggregateID, version, msg)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		if !jsoncodec.Valid(p) {
			return nil, fmt.Errorf("eventflow: payload bytes are not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	case proto.Message:
		data, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("eventflow: marshal proto payload: %w", err)
		}
		return data, nil
	default:
		data, err := jsoncodec.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("eventflow: marshal payload: %w", err)
		}
		return data, nil
	}
}

// WithCorrelation returns a copy carrying the given correlation id.
func (e Envelope) WithCorrelation(id string) Envelope {
	out := e.Clone()
	out.CorrelationID = id
	return out
}

// WithCausation returns a copy pointing at the event or command that caused it.
func (e Envelope) WithCausation(id string) Envelope {
	out := e.Clone()
	out.CausationID = id
	return out
}

// WithMetadata returns a copy with key set in the metadata map.
func (e Envelope) WithMetadata(key, value string) Envelope {
	out := e.Clone()
	out.Metadata = e.Metadata.With(key, value)
	return out
}

// Clone creates a deep copy of the envelope.
func (e Envelope) Clone() Envelope {
	cloned := e
	if e.Metadata != nil {
		cloned.Metadata = e.Metadata.Clone()
	}
	if e.Payload != nil {
		cloned.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return cloned
}

// Family is the aggregate family encoded as the first segment of the type,
// e.g. "card" for "card.activated".
func (e Envelope) Family() string {
	family, _, _ := strings.Cut(e.Type, ".")
	return family
}

// MajorVersion parses the MAJOR component of Version. It returns false when the
// version is not of the form MAJOR.MINOR.PATCH.
func (e Envelope) MajorVersion() (int, bool) {
	parts := strings.Split(e.Version, ".")
	if len(parts) != 3 {
		return 0, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		if !isNumericPart(p) {
			return 0, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		nums[i] = n
	}
	return nums[0], true
}

// isNumericPart accepts ASCII digits only, without leading zeros. Atoi alone
// would let signs through.
func isNumericPart(p string) bool {
	if p == "" || (len(p) > 1 && p[0] == '0') {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return false
		}
	}
	return true
}

// Marshal encodes the envelope into the wire form sent to transports.
func (e Envelope) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Unmarshal decodes an envelope previously produced by Marshal.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("eventflow: decode envelope: %w", err)
	}
	return env, nil
}
