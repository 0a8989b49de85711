// Package deadletter parks envelopes that could not be delivered on the fixed
// dead-letter channel, wrapped with the diagnostics an operator needs to
// replay them.
package deadletter

import (
	"context"
	"time"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	idspkg "github.com/drblury/eventflow/internal/runtime/ids"
	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
	"github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/internal/runtime/metrics"
	"github.com/drblury/eventflow/transport"
)

// DefaultTimeout bounds the single dead-letter send.
const DefaultTimeout = 5 * time.Second

// Diagnostics describes why an envelope is being parked. PartitionKey is the
// effective key of the failed publish; empty falls back to the aggregate id.
type Diagnostics struct {
	OriginalChannel string
	PartitionKey    string
	Reason          string
	Attempts        int
	FirstAttemptAt  time.Time
	LastAttemptAt   time.Time
}

// Option customises a Router.
type Option func(*Router)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics reports routed and failed dead letters to sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(r *Router) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.ServiceLogger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces the clock used when LastAttemptAt is unknown.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// Router sends dead letters. It makes exactly one transport call per record:
// no retries and no breaker, so a broken broker cannot loop failures back into
// the pipeline.
type Router struct {
	sender  transport.Sender
	channel string
	timeout time.Duration
	sink    metrics.Sink
	logger  logging.ServiceLogger
	now     func() time.Time
}

// New returns a Router publishing to channel through sender.
func New(sender transport.Sender, channel string, opts ...Option) *Router {
	r := &Router{
		sender:  sender,
		channel: channel,
		timeout: DefaultTimeout,
		sink:    metrics.Nop(),
		logger:  logging.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channel returns the dead-letter channel name.
func (r *Router) Channel() string {
	return r.channel
}

// Route parks env and reports whether the dead-letter send succeeded. It never
// returns an error: a failed send is logged and counted, and the event is lost
// until an operator intervenes.
//
// The send runs on a context detached from ctx so an expired publish can still
// be parked.
func (r *Router) Route(ctx context.Context, env envelope.Envelope, diag Diagnostics) bool {
	header := envelope.DeadLetterHeader{
		OriginalChannel: diag.OriginalChannel,
		FailureReason:   diag.Reason,
		AttemptCount:    diag.Attempts,
		FirstAttemptAt:  diag.FirstAttemptAt,
		LastAttemptAt:   diag.LastAttemptAt,
	}
	if header.LastAttemptAt.IsZero() {
		header.LastAttemptAt = r.now().UTC()
	}

	record := envelope.DeadLetterRecord{
		ID:       idspkg.NewRecordID(),
		Header:   header,
		Envelope: env.Clone(),
	}
	fields := logging.LogFields{
		"record_id":        record.ID,
		"event_id":         env.ID,
		"event_type":       env.Type,
		"original_channel": diag.OriginalChannel,
		"dead_letter":      r.channel,
		"attempt_count":    diag.Attempts,
		"failure_reason":   diag.Reason,
	}

	payload, err := jsoncodec.Marshal(record)
	if err != nil {
		r.fail(diag.OriginalChannel, "Failed to encode dead-letter record", err, fields)
		return false
	}

	headers := header.Metadata().WithAll(metadata.New(
		metadata.KeyEventID, env.ID,
		metadata.KeyEventType, env.Type,
		metadata.KeyContentType, "application/json",
	))

	partitionKey := diag.PartitionKey
	if partitionKey == "" {
		partitionKey = env.AggregateID
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.sender.Send(sendCtx, r.channel, transport.Message{
		ID:           record.ID,
		Payload:      payload,
		PartitionKey: partitionKey,
		Headers:      headers,
	}); err != nil {
		r.fail(diag.OriginalChannel, "Failed to publish dead letter, event is lost", err, fields)
		return false
	}

	r.sink.DeadLettered(diag.OriginalChannel, metrics.StatusRouted)
	r.logger.Warn("Event dead-lettered", fields)
	return true
}

func (r *Router) fail(channel, msg string, err error, fields logging.LogFields) {
	r.sink.DeadLettered(channel, metrics.StatusFailed)
	r.logger.Error(msg, err, fields)
}

// Decode parses a dead-letter payload back into its record.
func Decode(payload []byte) (envelope.DeadLetterRecord, error) {
	var record envelope.DeadLetterRecord
	if err := jsoncodec.Unmarshal(payload, &record); err != nil {
		return envelope.DeadLetterRecord{}, err
	}
	return record, nil
}
