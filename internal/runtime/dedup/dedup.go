// Package dedup suppresses repeated publishes of the same logical event within
// a time window. Keys are reserved atomically in a shared store so concurrent
// publishers on different instances agree on the winner.
package dedup

import (
	"context"
	"time"

	"github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/store"
)

// DefaultTTL is how long a deduplication key is remembered when no per-type
// TTL is configured.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "dedup:"

// Reservation is the result of Reserve.
type Reservation struct {
	// Accepted is true when the caller won the key and should publish.
	Accepted bool
	// FirstSeenAt is when the key was first reserved. Zero when unknown.
	FirstSeenAt time.Time
	// Degraded is true when the store failed and the reservation failed open.
	Degraded bool
}

// Option customises a Store.
type Option func(*Store)

// WithTTLs sets per-event-type TTLs.
func WithTTLs(ttls map[string]time.Duration) Option {
	return func(s *Store) {
		for k, v := range ttls {
			if v > 0 {
				s.ttls[k] = v
			}
		}
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock replaces the clock used for first-seen timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store reserves deduplication keys.
type Store struct {
	backend    store.Store
	logger     logging.ServiceLogger
	ttls       map[string]time.Duration
	defaultTTL time.Duration
	now        func() time.Time
}

// New returns a Store over backend.
func New(backend store.Store, logger logging.ServiceLogger, opts ...Option) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Store{
		backend:    backend,
		logger:     logger,
		ttls:       make(map[string]time.Duration),
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTLFor returns the window for eventType.
func (s *Store) TTLFor(eventType string) time.Duration {
	if ttl, ok := s.ttls[eventType]; ok {
		return ttl
	}
	return s.defaultTTL
}

// Reserve atomically claims key for ttl. Exactly one of any number of
// concurrent callers is accepted. A store failure fails open: the publish
// proceeds and the reservation is marked degraded.
func (s *Store) Reserve(ctx context.Context, key string, ttl time.Duration) Reservation {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now().UTC()
	ok, err := s.backend.SetNX(ctx, keyPrefix+key, now.Format(time.RFC3339Nano), ttl)
	if err != nil {
		s.logger.Warn("Deduplication store unavailable, publishing without deduplication", logging.LogFields{
			"dedup_key": key,
			"error":     err.Error(),
		})
		return Reservation{Accepted: true, FirstSeenAt: now, Degraded: true}
	}
	if ok {
		return Reservation{Accepted: true, FirstSeenAt: now}
	}

	res := Reservation{}
	raw, found, err := s.backend.Get(ctx, keyPrefix+key)
	if err == nil && found {
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			res.FirstSeenAt = t
		}
	}
	return res
}

// Release frees key so a later publish of the same event is accepted again.
// Used when a publish ends without reaching the broker.
func (s *Store) Release(ctx context.Context, key string) {
	if err := s.backend.Delete(context.WithoutCancel(ctx), keyPrefix+key); err != nil {
		s.logger.Warn("Failed to release deduplication key", logging.LogFields{
			"dedup_key": key,
			"error":     err.Error(),
		})
	}
}
