// Package ratelimit caps publish throughput per channel, optionally per
// partition key. Shared counts across every instance through the store;
// Local keeps token buckets in process.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRateLimited matches every *RateLimitedError.
var ErrRateLimited = errors.New("eventflow: rate limited")

// RateLimitedError reports a denied slot the caller could not wait out.
type RateLimitedError struct {
	Channel    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("eventflow: rate limit reached on %s, retry after %s", e.Channel, e.RetryAfter)
}

// Is implements errors.Is for RateLimitedError.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// Limit allows Rate events per Window. A zero Rate means unlimited.
type Limit struct {
	Rate   int
	Window time.Duration
}

func (l Limit) unlimited() bool { return l.Rate <= 0 || l.Window <= 0 }

// Config selects limits per channel.
type Config struct {
	Default      Limit
	Channels     map[string]Limit
	PerPartition bool
}

// LimitFor returns the limit configured for channel.
func (c Config) LimitFor(channel string) Limit {
	if l, ok := c.Channels[channel]; ok {
		return l
	}
	return c.Default
}

func (c Config) key(channel, partitionKey string) string {
	var b strings.Builder
	b.WriteString("ratelimit:")
	b.WriteString(channel)
	if c.PerPartition && partitionKey != "" {
		b.WriteByte(':')
		b.WriteString(partitionKey)
	}
	return b.String()
}

// Decision is the result of Acquire.
type Decision struct {
	Allowed bool
	// RetryAfter hints how long to wait before the next attempt can succeed.
	RetryAfter time.Duration
}

// Limiter decides whether one more event may be published now. Acquire never
// fails: an unavailable backend allows the event.
type Limiter interface {
	Acquire(ctx context.Context, channel, partitionKey string) Decision
}

type unlimited struct{}

// Unlimited returns a Limiter that allows everything.
func Unlimited() Limiter { return unlimited{} }

func (unlimited) Acquire(context.Context, string, string) Decision {
	return Decision{Allowed: true}
}
