// Package breaker guards each channel's transport with a circuit breaker.
//
// Two implementations exist. Local keeps one gobreaker state machine per
// channel inside the process, so each publisher instance trips on its own
// observations. Shared keeps the state in the shared store so every instance
// trips, cools down and probes together. Which one runs is a deployment
// choice made through configuration.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/metrics"
	"github.com/drblury/eventflow/internal/runtime/store"
)

// ErrCircuitOpen matches every *CircuitOpenError.
var ErrCircuitOpen = errors.New("eventflow: circuit open")

// CircuitOpenError reports that a channel's breaker refused the call.
type CircuitOpenError struct {
	Channel string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("eventflow: circuit open for channel %s", e.Channel)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// State is a breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name, used by the admin endpoint.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Verdict is what a finished call tells the breaker about its channel.
type Verdict int

const (
	Success Verdict = iota
	Failure
	// Abandoned calls were cut short by their caller and say nothing about
	// the broker.
	Abandoned
)

// Done reports the verdict of an allowed call. It must be called exactly once.
type Done func(Verdict)

// Breaker decides whether a transport attempt on a channel may proceed.
type Breaker interface {
	Allow(ctx context.Context, channel string) (Done, error)
	State(ctx context.Context, channel string) State
}

// Mode selects the breaker implementation.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeShared Mode = "shared"
)

// Settings configure when a breaker trips and how long it stays open.
type Settings struct {
	// FailureThreshold trips the breaker once this many failures occur within
	// Window.
	FailureThreshold uint32
	// FailureRatio trips the breaker when at least MinRequests calls were seen
	// within Window and this share of them failed.
	FailureRatio float64
	MinRequests  uint32
	Window       time.Duration
	// CoolDown is how long the breaker stays open before a probe is allowed.
	CoolDown time.Duration
}

// DefaultSettings trips after 5 failures in 10s or 50% of 20 calls and cools
// down for 30s.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      20,
		Window:           10 * time.Second,
		CoolDown:         30 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.FailureThreshold == 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = d.FailureRatio
	}
	if s.MinRequests == 0 {
		s.MinRequests = d.MinRequests
	}
	if s.Window <= 0 {
		s.Window = d.Window
	}
	if s.CoolDown <= 0 {
		s.CoolDown = d.CoolDown
	}
	return s
}

func (s Settings) tripped(requests, failures uint32) bool {
	if failures >= s.FailureThreshold {
		return true
	}
	return requests >= s.MinRequests && requests > 0 && float64(failures)/float64(requests) >= s.FailureRatio
}

// New builds the breaker for mode. Shared mode requires a store.
func New(mode Mode, settings Settings, st store.Store, sink metrics.Sink, logger logging.ServiceLogger) (Breaker, error) {
	switch mode {
	case ModeLocal, "":
		return NewLocal(settings, sink, logger), nil
	case ModeShared:
		if st == nil {
			return nil, errors.New("eventflow: shared circuit breaker requires a store")
		}
		return NewShared(st, settings, sink, logger), nil
	default:
		return nil, fmt.Errorf("eventflow: unknown circuit breaker mode %q", mode)
	}
}
