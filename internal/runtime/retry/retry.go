// Package retry runs transport attempts with exponential backoff and full
// jitter, consulting the channel's circuit breaker before every attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/drblury/eventflow/internal/runtime/breaker"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	"github.com/drblury/eventflow/internal/runtime/metrics"
)

const (
	DefaultRetries   = 3
	DefaultBaseDelay = 100 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
)

// Policy bounds the attempts for one publish.
type Policy struct {
	// Retries is the number of attempts after the first.
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter picks the actual wait for a backoff ceiling. Defaults to full
	// jitter, a uniform draw from [0, ceiling].
	Jitter func(ceiling time.Duration) time.Duration
}

// DefaultPolicy returns 3 retries starting at 100ms and capped at 30s.
func DefaultPolicy() Policy {
	return Policy{Retries: DefaultRetries, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) withDefaults() Policy {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter == nil {
		p.Jitter = FullJitter
	}
	return p
}

// Backoff returns the wait ceiling after the given zero-based retry:
// BaseDelay * 2^retry, capped at MaxDelay.
func (p Policy) Backoff(retry int) time.Duration {
	p = p.withDefaults()
	delay := p.BaseDelay
	for i := 0; i < retry; i++ {
		if delay >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	return min(delay, p.MaxDelay)
}

// FullJitter returns a uniform duration in [0, ceiling].
func FullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

// Wait records one backoff between attempts.
type Wait struct {
	Ceiling time.Duration
	Actual  time.Duration
}

// Outcome describes how an Execute call ended.
type Outcome struct {
	// Attempts counts every attempt slot used, including slots refused by an
	// open breaker.
	Attempts int
	// TransportAttempts counts calls that actually reached the transport.
	TransportAttempts int
	// Err is the last error; nil on success.
	Err            error
	Waits          []Wait
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
	// CircuitOpen is set when the breaker refused the very first attempt, so
	// nothing was sent.
	CircuitOpen bool
	// Expired is set when the context ended before delivery.
	Expired bool
}

// Succeeded reports whether the last attempt delivered the message.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Permanent reports whether the executor stopped on a non-retryable error.
func (o Outcome) Permanent() bool {
	class := envelope.ClassifyError(o.Err)
	return class == envelope.ClassPermanent || class == envelope.ClassCaller
}

// Attempt performs one transport call. n starts at 1.
type Attempt func(ctx context.Context, n int) error

// Executor runs attempts under a breaker.
type Executor struct {
	breaker breaker.Breaker
	sink    metrics.Sink
	now     func() time.Time
}

// NewExecutor returns an Executor consulting b before each attempt.
func NewExecutor(b breaker.Breaker, sink metrics.Sink) *Executor {
	if sink == nil {
		sink = metrics.Nop()
	}
	return &Executor{breaker: b, sink: sink, now: time.Now}
}

// Execute calls attempt until it succeeds, fails permanently, ctx ends, or
// policy.Retries+1 attempt slots are used. An open breaker consumes a slot
// without calling attempt; if it refuses the first slot Execute returns at
// once with CircuitOpen set.
func (e *Executor) Execute(ctx context.Context, channel string, policy Policy, attempt Attempt) Outcome {
	policy = policy.withDefaults()
	maxAttempts := policy.Retries + 1
	var out Outcome

	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			out.Expired = true
			out.Err = fmt.Errorf("deadline reached before attempt %d: %w", n, err)
			return out
		}
		if n > 1 {
			e.sink.RetryAttempt(channel)
		}
		out.Attempts = n

		done, err := e.breaker.Allow(ctx, channel)
		if err != nil {
			out.Err = err
			if n == 1 {
				out.CircuitOpen = true
				return out
			}
		} else {
			now := e.now()
			if out.FirstAttemptAt.IsZero() {
				out.FirstAttemptAt = now
			}
			out.LastAttemptAt = now
			out.TransportAttempts++

			err = attempt(ctx, n)
			class := envelope.ClassifyError(err)
			done(verdict(ctx, class))
			out.Err = err

			switch {
			case err == nil:
				return out
			case ctx.Err() != nil:
				out.Expired = true
				return out
			case class == envelope.ClassPermanent || class == envelope.ClassCaller:
				return out
			}
		}

		if n == maxAttempts {
			break
		}
		ceiling := policy.Backoff(n - 1)
		actual := min(policy.Jitter(ceiling), ceiling)
		out.Waits = append(out.Waits, Wait{Ceiling: ceiling, Actual: actual})
		if err := sleep(ctx, actual); err != nil {
			out.Expired = true
			out.Err = fmt.Errorf("deadline reached during backoff before attempt %d: %w", n+1, err)
			return out
		}
	}
	return out
}

// verdict maps an attempt's error class onto what the breaker should learn.
// Only broker-health failures count against it; an attempt the caller
// cancelled counts for nothing.
func verdict(ctx context.Context, class envelope.ErrorClass) breaker.Verdict {
	switch class {
	case envelope.ClassTransient:
		return breaker.Failure
	case envelope.ClassExpired:
		if errors.Is(ctx.Err(), context.Canceled) {
			return breaker.Abandoned
		}
		return breaker.Failure
	default:
		return breaker.Success
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
