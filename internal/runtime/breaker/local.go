package breaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/metrics"
)

// Local keeps one two-step gobreaker per channel. State is per process: two
// instances publishing to a failing broker each trip independently.
type Local struct {
	settings Settings
	sink     metrics.Sink
	logger   logging.ServiceLogger

	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
}

// NewLocal returns a Local breaker.
func NewLocal(settings Settings, sink metrics.Sink, logger logging.ServiceLogger) *Local {
	if sink == nil {
		sink = metrics.Nop()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Local{
		settings: settings.WithDefaults(),
		sink:     sink,
		logger:   logger,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
	}
}

func (l *Local) Allow(_ context.Context, channel string) (Done, error) {
	cb := l.breaker(channel)
	done, err := cb.Allow()
	if err != nil {
		// ErrOpenState and ErrTooManyRequests both mean no call may proceed.
		return nil, &CircuitOpenError{Channel: channel}
	}
	return func(v Verdict) {
		switch v {
		case Success:
			done(true)
		case Failure:
			done(false)
		default:
			// gobreaker has no neutral outcome. A half-open breaker admits
			// nothing until its probe reports, so an abandoned probe reopens it.
			if cb.State() == gobreaker.StateHalfOpen {
				done(false)
			}
		}
	}, nil
}

func (l *Local) State(_ context.Context, channel string) State {
	l.mu.Lock()
	cb, ok := l.breakers[channel]
	l.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return fromGobreaker(cb.State())
}

func (l *Local) breaker(channel string) *gobreaker.TwoStepCircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cb, ok := l.breakers[channel]; ok {
		return cb
	}
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        channel,
		MaxRequests: 1,
		Interval:    l.settings.Window,
		Timeout:     l.settings.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return l.settings.tripped(counts.Requests, counts.TotalFailures)
		},
		OnStateChange: l.onStateChange,
	})
	l.breakers[channel] = cb
	return cb
}

func (l *Local) onStateChange(name string, from, to gobreaker.State) {
	fields := logging.LogFields{
		"channel": name,
		"from":    fromGobreaker(from).String(),
		"to":      fromGobreaker(to).String(),
	}
	if to == gobreaker.StateOpen {
		l.sink.BreakerTrip(name)
		l.logger.Warn("Circuit breaker opened", fields)
		return
	}
	l.logger.Info("Circuit breaker state changed", fields)
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
