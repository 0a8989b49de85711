package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is an in-process token bucket limiter. Each channel (and partition,
// when configured) gets a bucket refilling at Rate per Window with a burst of
// Rate.
type Local struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocal returns a Local limiter.
func NewLocal(cfg Config) *Local {
	return &Local{config: cfg, now: time.Now, buckets: make(map[string]*rate.Limiter)}
}

// WithClock replaces the clock. Intended for tests.
func (l *Local) WithClock(now func() time.Time) *Local {
	l.now = now
	return l
}

func (l *Local) Acquire(_ context.Context, channel, partitionKey string) Decision {
	limit := l.config.LimitFor(channel)
	if limit.unlimited() {
		return Decision{Allowed: true}
	}

	bucket := l.bucket(l.config.key(channel, partitionKey), limit)
	now := l.now()
	reservation := bucket.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{RetryAfter: limit.Window}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

func (l *Local) bucket(key string, limit Limit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Limit(float64(limit.Rate) / limit.Window.Seconds())
		b = rate.NewLimiter(every, limit.Rate)
		l.buckets[key] = b
	}
	return b
}
