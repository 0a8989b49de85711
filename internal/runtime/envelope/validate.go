package envelope

import (
	"time"

	idspkg "github.com/drblury/eventflow/internal/runtime/ids"
	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
)

// DefaultClockSkew is how far in the future a timestamp may be before the
// envelope is rejected.
const DefaultClockSkew = 5 * time.Second

// CheckStructure performs the structural half of validation. It is pure and
// returns nil or a *ValidationError listing every problem found.
func CheckStructure(env Envelope, now time.Time, skew time.Duration) error {
	var fields []FieldError
	add := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	switch {
	case env.ID == "":
		add("id", "is required")
	case !idspkg.IsEventID(env.ID):
		add("id", "must be a UUID")
	}
	if env.Type == "" {
		add("type", "is required")
	}
	if env.AggregateName == "" {
		add("aggregateName", "is required")
	}
	if env.AggregateID == "" {
		add("aggregateId", "is required")
	}
	if env.Version == "" {
		add("version", "is required")
	} else if _, ok := env.MajorVersion(); !ok {
		add("version", "must match MAJOR.MINOR.PATCH")
	}
	if env.Timestamp.IsZero() {
		add("timestamp", "is required")
	} else if env.Timestamp.After(now.Add(skew)) {
		add("timestamp", "is in the future beyond the clock-skew tolerance")
	}
	if env.CausationID != "" && env.CausationID == env.ID {
		add("causationId", "must not reference the event itself")
	}
	if len(env.Payload) == 0 {
		add("payload", "is required")
	} else if !jsoncodec.Valid(env.Payload) {
		add("payload", "must be valid JSON")
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{EventType: env.Type, Fields: fields}
}
