package envelope

import (
	"strconv"
	"time"

	"github.com/drblury/eventflow/internal/runtime/metadata"
)

// DeadLetterHeader carries the diagnostics attached to an envelope that
// exhausted delivery.
type DeadLetterHeader struct {
	OriginalChannel string    `json:"originalChannel"`
	FailureReason   string    `json:"failureReason"`
	AttemptCount    int       `json:"attemptCount"`
	FirstAttemptAt  time.Time `json:"firstAttemptAt"`
	LastAttemptAt   time.Time `json:"lastAttemptAt"`
}

// DeadLetterRecord is the message published on the dead-letter channel.
type DeadLetterRecord struct {
	ID       string           `json:"id"`
	Header   DeadLetterHeader `json:"header"`
	Envelope Envelope         `json:"envelope"`
}

// Metadata renders the header as transport headers so operators can filter
// dead letters without decoding the body.
func (h DeadLetterHeader) Metadata() metadata.Metadata {
	md := metadata.New(
		metadata.KeyOriginalChannel, h.OriginalChannel,
		metadata.KeyFailureReason, h.FailureReason,
		metadata.KeyAttemptCount, strconv.Itoa(h.AttemptCount),
	)
	if !h.LastAttemptAt.IsZero() {
		md[metadata.KeyLastAttemptAt] = h.LastAttemptAt.UTC().Format(time.RFC3339Nano)
	}
	return md
}

// DeadLetterHeaderFromMetadata is the inverse of DeadLetterHeader.Metadata.
// Unparseable values are left zero.
func DeadLetterHeaderFromMetadata(md metadata.Metadata) DeadLetterHeader {
	h := DeadLetterHeader{
		OriginalChannel: md.Get(metadata.KeyOriginalChannel),
		FailureReason:   md.Get(metadata.KeyFailureReason),
	}
	if n, err := strconv.Atoi(md.Get(metadata.KeyAttemptCount)); err == nil {
		h.AttemptCount = n
	}
	if t, err := time.Parse(time.RFC3339Nano, md.Get(metadata.KeyLastAttemptAt)); err == nil {
		h.LastAttemptAt = t
	}
	return h
}
