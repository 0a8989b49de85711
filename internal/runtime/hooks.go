package runtime

import (
	"time"

	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

// PublishContext provides information about a publish call to hooks.
type PublishContext struct {
	// EventID is the envelope id.
	EventID string
	// EventType is the envelope type.
	EventType string
	// Channel is the destination channel. Empty when validation failed.
	Channel string
	// PartitionKey is the effective partition key.
	PartitionKey string
	// StartedAt is when Publish was called.
	StartedAt time.Time
	// Duration is how long the call took (only set in OnPublishDone and OnPublishError).
	Duration time.Duration
	// Result is the outcome (only set in OnPublishDone and OnPublishError).
	Result PublishResult
}

// PublishHooks defines callbacks for the publish lifecycle.
// All hooks are optional - nil hooks are simply not called.
type PublishHooks struct {
	// OnPublishStart is called once the envelope passed validation.
	OnPublishStart func(ctx PublishContext)

	// OnPublishDone is called when the event reached the broker, now or in an
	// earlier call (Published and Duplicate).
	OnPublishDone func(ctx PublishContext)

	// OnPublishError is called for every other outcome. err is the result
	// error, or a summary when the outcome carries none.
	OnPublishError func(ctx PublishContext, err error)
}

// Merge combines two PublishHooks, creating a new PublishHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h PublishHooks) Merge(other PublishHooks) PublishHooks {
	return PublishHooks{
		OnPublishStart: chainHooks(h.OnPublishStart, other.OnPublishStart),
		OnPublishDone:  chainHooks(h.OnPublishDone, other.OnPublishDone),
		OnPublishError: chainErrorHooks(h.OnPublishError, other.OnPublishError),
	}
}

func chainHooks(a, b func(PublishContext)) func(PublishContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx PublishContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(PublishContext, error)) func(PublishContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx PublishContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h PublishHooks) start(ctx PublishContext) {
	if h.OnPublishStart != nil {
		h.OnPublishStart(ctx)
	}
}

func (h PublishHooks) finish(ctx PublishContext) {
	if ctx.Result.Delivered() {
		if h.OnPublishDone != nil {
			h.OnPublishDone(ctx)
		}
		return
	}
	if h.OnPublishError != nil {
		h.OnPublishError(ctx, ctx.Result.Error())
	}
}

// LoggingHooks returns pre-built hooks that log the publish lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) PublishHooks {
	return PublishHooks{
		OnPublishStart: func(ctx PublishContext) {
			logger.Debug("Publish started", loggingpkg.LogFields{
				"event_id":      ctx.EventID,
				"event_type":    ctx.EventType,
				"channel":       ctx.Channel,
				"partition_key": ctx.PartitionKey,
			})
		},
		OnPublishDone: func(ctx PublishContext) {
			logger.Info("Publish completed", loggingpkg.LogFields{
				"event_id":    ctx.EventID,
				"event_type":  ctx.EventType,
				"channel":     ctx.Channel,
				"outcome":     ctx.Result.Kind.String(),
				"attempts":    ctx.Result.Attempts,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnPublishError: func(ctx PublishContext, err error) {
			logger.Error("Publish failed", err, loggingpkg.LogFields{
				"event_id":    ctx.EventID,
				"event_type":  ctx.EventType,
				"channel":     ctx.Channel,
				"outcome":     ctx.Result.Kind.String(),
				"attempts":    ctx.Result.Attempts,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that forward the lifecycle to simple
// counters keyed by event type and channel.
func MetricsHooks(onStart, onDone, onError func(eventType, channel string)) PublishHooks {
	return PublishHooks{
		OnPublishStart: func(ctx PublishContext) {
			if onStart != nil {
				onStart(ctx.EventType, ctx.Channel)
			}
		},
		OnPublishDone: func(ctx PublishContext) {
			if onDone != nil {
				onDone(ctx.EventType, ctx.Channel)
			}
		},
		OnPublishError: func(ctx PublishContext, err error) {
			if onError != nil {
				onError(ctx.EventType, ctx.Channel)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on failed publishes.
func AlertingHooks(alertFunc func(ctx PublishContext, err error)) PublishHooks {
	return PublishHooks{
		OnPublishError: alertFunc,
	}
}
