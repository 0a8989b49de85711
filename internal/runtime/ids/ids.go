// Package ids generates the identifiers carried by envelopes and dead-letter
// records.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a random (version 4) UUID string used as envelope id.
func NewEventID() string {
	return uuid.NewString()
}

// IsEventID reports whether s is an RFC 4122 UUID of any version in canonical
// 36 character form.
func IsEventID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	// uuid.Parse also accepts urn and braced forms.
	return len(s) == 36 && id.Variant() == uuid.RFC4122
}

// NewRecordID returns a time-sortable ULID used for dead-letter records so
// operators can order them without parsing payloads.
func NewRecordID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
