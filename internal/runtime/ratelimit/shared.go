package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/store"
)

// Shared is a sliding-window limiter whose counters live in a store.Store, so
// the limit holds across every publisher instance sharing that store.
type Shared struct {
	store  store.Store
	config Config
	logger logging.ServiceLogger
	now    func() time.Time
}

// NewShared returns a Shared limiter.
func NewShared(s store.Store, cfg Config, logger logging.ServiceLogger) *Shared {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Shared{store: s, config: cfg, logger: logger, now: time.Now}
}

// WithClock replaces the clock. Intended for tests.
func (l *Shared) WithClock(now func() time.Time) *Shared {
	l.now = now
	return l
}

// Acquire counts the event in the current window and estimates the rate as the
// current count plus the previous window's count weighted by how much of it
// still overlaps the sliding window. A refused event is uncounted again.
func (l *Shared) Acquire(ctx context.Context, channel, partitionKey string) Decision {
	limit := l.config.LimitFor(channel)
	if limit.unlimited() {
		return Decision{Allowed: true}
	}

	now := l.now()
	window := limit.Window
	start := now.Truncate(window)
	elapsed := now.Sub(start)
	base := l.config.key(channel, partitionKey)
	currKey := base + ":" + strconv.FormatInt(start.UnixMilli(), 10)
	prevKey := base + ":" + strconv.FormatInt(start.Add(-window).UnixMilli(), 10)

	curr, err := l.store.IncrBy(ctx, currKey, 1, 2*window)
	if err != nil {
		l.failOpen(channel, err)
		return Decision{Allowed: true}
	}
	var prev int64
	raw, found, err := l.store.Get(ctx, prevKey)
	if err != nil {
		l.failOpen(channel, err)
		return Decision{Allowed: true}
	}
	if found {
		prev, _ = strconv.ParseInt(raw, 10, 64)
	}

	weight := float64(window-elapsed) / float64(window)
	estimate := float64(prev)*weight + float64(curr)
	if estimate <= float64(limit.Rate) {
		return Decision{Allowed: true}
	}

	if _, err := l.store.IncrBy(ctx, currKey, -1, 2*window); err != nil {
		l.failOpen(channel, err)
	}
	return Decision{RetryAfter: retryAfter(limit, prev, curr, elapsed)}
}

// retryAfter estimates when the weighted previous window has decayed enough
// for one more event, or when the current window ends if the current count
// alone is at the limit.
func retryAfter(limit Limit, prev, curr int64, elapsed time.Duration) time.Duration {
	window := limit.Window
	untilEnd := window - elapsed
	headroom := int64(limit.Rate) - curr
	if headroom < 0 || prev == 0 {
		return untilEnd
	}
	fraction := 1 - float64(headroom)/float64(prev)
	wait := time.Duration(float64(window)*fraction) - elapsed
	if wait <= 0 {
		wait = time.Millisecond
	}
	if wait > untilEnd {
		return untilEnd
	}
	return wait
}

func (l *Shared) failOpen(channel string, err error) {
	l.logger.Warn("Rate limiter store unavailable, allowing publish", logging.LogFields{
		"channel": channel,
		"error":   err.Error(),
	})
}
