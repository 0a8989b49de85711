// Package store provides the small key/value surface shared by the
// deduplication store, the distributed rate limiter and the shared circuit
// breaker. Redis backs it in production; MemoryStore serves tests and
// single-instance deployments.
package store

import (
	"context"
	"time"
)

// Store is an atomic key/value store with per-key expiry. Implementations must
// be safe for concurrent use across goroutines and, for shared backends,
// across processes.
type Store interface {
	// SetNX stores value under key only if the key does not exist. It reports
	// whether the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// IncrBy adds delta to the integer at key and returns the new value. The
	// ttl is applied only when the increment creates the key.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key unconditionally. A zero ttl keeps the key
	// until it is deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes the keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}
