package breaker

import (
	"context"
	"strconv"
	"time"

	"github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/metrics"
	"github.com/drblury/eventflow/internal/runtime/store"
)

// Shared keeps breaker state in a store.Store so every instance sees the same
// state per channel:
//
//	breaker:{channel}:open              opened-at in unix millis, present while OPEN or HALF_OPEN
//	breaker:{channel}:probe             claimed by the one instance running the half-open probe
//	breaker:{channel}:{req|fail}:{win}  windowed counters while CLOSED
//
// Tripping uses SetNX on the open key so a trip is recorded exactly once.
type Shared struct {
	store    store.Store
	settings Settings
	sink     metrics.Sink
	logger   logging.ServiceLogger
	now      func() time.Time
}

// NewShared returns a Shared breaker.
func NewShared(st store.Store, settings Settings, sink metrics.Sink, logger logging.ServiceLogger) *Shared {
	if sink == nil {
		sink = metrics.Nop()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Shared{store: st, settings: settings.WithDefaults(), sink: sink, logger: logger, now: time.Now}
}

// WithClock replaces the clock. Intended for tests.
func (s *Shared) WithClock(now func() time.Time) *Shared {
	s.now = now
	return s
}

func openKey(channel string) string  { return "breaker:" + channel + ":open" }
func probeKey(channel string) string { return "breaker:" + channel + ":probe" }

func (s *Shared) counterKeys(channel string, now time.Time) (string, string) {
	win := strconv.FormatInt(now.Truncate(s.settings.Window).UnixMilli(), 10)
	prefix := "breaker:" + channel + ":"
	return prefix + "req:" + win, prefix + "fail:" + win
}

func (s *Shared) openedAt(ctx context.Context, channel string) (time.Time, bool, error) {
	raw, found, err := s.store.Get(ctx, openKey(channel))
	if err != nil || !found {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, true, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *Shared) Allow(ctx context.Context, channel string) (Done, error) {
	openedAt, open, err := s.openedAt(ctx, channel)
	if err != nil {
		s.storeUnavailable(channel, err)
		return func(Verdict) {}, nil
	}
	if !open {
		return s.closedDone(ctx, channel), nil
	}
	if s.now().Before(openedAt.Add(s.settings.CoolDown)) {
		return nil, &CircuitOpenError{Channel: channel}
	}

	claimed, err := s.store.SetNX(ctx, probeKey(channel), strconv.FormatInt(s.now().UnixMilli(), 10), s.settings.CoolDown)
	if err != nil {
		s.storeUnavailable(channel, err)
		return nil, &CircuitOpenError{Channel: channel}
	}
	if !claimed {
		return nil, &CircuitOpenError{Channel: channel}
	}
	return s.probeDone(ctx, channel), nil
}

func (s *Shared) closedDone(ctx context.Context, channel string) Done {
	ctx = context.WithoutCancel(ctx)
	return func(v Verdict) {
		if v == Abandoned {
			return
		}
		reqKey, failKey := s.counterKeys(channel, s.now())
		requests, err := s.store.IncrBy(ctx, reqKey, 1, s.settings.Window)
		if err != nil {
			s.storeUnavailable(channel, err)
			return
		}
		if v == Success {
			return
		}
		failures, err := s.store.IncrBy(ctx, failKey, 1, s.settings.Window)
		if err != nil {
			s.storeUnavailable(channel, err)
			return
		}
		if !s.settings.tripped(uint32(requests), uint32(failures)) {
			return
		}
		won, err := s.store.SetNX(ctx, openKey(channel), strconv.FormatInt(s.now().UnixMilli(), 10), 0)
		if err != nil {
			s.storeUnavailable(channel, err)
			return
		}
		if won {
			_ = s.store.Delete(ctx, reqKey, failKey)
			s.sink.BreakerTrip(channel)
			s.logger.Warn("Circuit breaker opened", logging.LogFields{
				"channel":  channel,
				"from":     StateClosed.String(),
				"to":       StateOpen.String(),
				"failures": failures,
				"requests": requests,
			})
		}
	}
}

func (s *Shared) probeDone(ctx context.Context, channel string) Done {
	ctx = context.WithoutCancel(ctx)
	return func(v Verdict) {
		switch v {
		case Abandoned:
			// Another caller may probe; the breaker stays open.
			if err := s.store.Delete(ctx, probeKey(channel)); err != nil {
				s.storeUnavailable(channel, err)
			}
			return
		case Success:
			if err := s.store.Delete(ctx, openKey(channel), probeKey(channel)); err != nil {
				s.storeUnavailable(channel, err)
				return
			}
			s.logger.Info("Circuit breaker state changed", logging.LogFields{
				"channel": channel,
				"from":    StateHalfOpen.String(),
				"to":      StateClosed.String(),
			})
			return
		}
		if err := s.store.Set(ctx, openKey(channel), strconv.FormatInt(s.now().UnixMilli(), 10), 0); err != nil {
			s.storeUnavailable(channel, err)
			return
		}
		_ = s.store.Delete(ctx, probeKey(channel))
		s.sink.BreakerTrip(channel)
		s.logger.Warn("Circuit breaker opened", logging.LogFields{
			"channel": channel,
			"from":    StateHalfOpen.String(),
			"to":      StateOpen.String(),
		})
	}
}

func (s *Shared) State(ctx context.Context, channel string) State {
	openedAt, open, err := s.openedAt(ctx, channel)
	if err != nil || !open {
		return StateClosed
	}
	if s.now().Before(openedAt.Add(s.settings.CoolDown)) {
		return StateOpen
	}
	return StateHalfOpen
}

func (s *Shared) storeUnavailable(channel string, err error) {
	s.logger.Warn("Circuit breaker store unavailable", logging.LogFields{
		"channel": channel,
		"error":   err.Error(),
	})
}
