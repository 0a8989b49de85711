package envelope

import (
	"fmt"
	"strings"
	"time"
)

// Priority informs transport scheduling. It is a hint, not a FIFO override.
type Priority int

const (
	PriorityMedium Priority = iota
	PriorityLow
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	default:
		return "MEDIUM"
	}
}

// ParsePriority accepts LOW, MEDIUM or HIGH in any case. Empty means MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MEDIUM":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	case "HIGH":
		return PriorityHigh, nil
	default:
		return PriorityMedium, fmt.Errorf("eventflow: unknown priority %q", s)
	}
}

// PublishOptions is the per-call configuration. Zero values mean "use the
// publisher default".
type PublishOptions struct {
	Priority Priority
	// Delay defers the first send attempt.
	Delay time.Duration
	// Retries overrides the default retry count when non-nil. A pointer keeps
	// an explicit zero distinguishable from unset.
	Retries    *int
	RetryDelay time.Duration
	// TTL is measured from the envelope timestamp. Past it the event is no
	// longer meaningful to deliver.
	TTL              time.Duration
	DeduplicationKey string
	PartitionKey     string
}

// RetriesOf returns an option value for PublishOptions.Retries.
func RetriesOf(n int) *int {
	return &n
}

// EffectiveDeduplicationKey returns the caller key or type:aggregateId:causationId.
func EffectiveDeduplicationKey(env Envelope, opts PublishOptions) string {
	if opts.DeduplicationKey != "" {
		return opts.DeduplicationKey
	}
	return env.Type + ":" + env.AggregateID + ":" + env.CausationID
}

// EffectivePartitionKey returns the caller key or the aggregate id.
func EffectivePartitionKey(env Envelope, opts PublishOptions) string {
	if opts.PartitionKey != "" {
		return opts.PartitionKey
	}
	return env.AggregateID
}

// Deadline is the instant after which delivery stops: timestamp+ttl when a TTL
// is set, otherwise now+fallback.
func Deadline(env Envelope, opts PublishOptions, now time.Time, fallback time.Duration) time.Time {
	if opts.TTL > 0 {
		return env.Timestamp.Add(opts.TTL)
	}
	return now.Add(fallback)
}
