package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/transport"
)

const tracerName = "github.com/drblury/eventflow"

// SendFunc performs one transport attempt.
type SendFunc func(ctx context.Context, channel string, msg transport.Message) error

// SendMiddleware wraps every transport attempt, including retries. It must not
// change the payload: retries resend the same bytes.
type SendMiddleware func(next SendFunc) SendFunc

// MiddlewareBuilder constructs a send middleware using the publisher it is
// registered on.
type MiddlewareBuilder func(*Publisher) (SendMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a
// Publisher.
type MiddlewareRegistration struct {
	Name       string
	Middleware SendMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard chain used by NewPublisher.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		AttemptHeaderMiddleware(),
		TracerMiddleware(),
		LogAttemptsMiddleware(nil),
		RecovererMiddleware(),
	}
}

type attemptKey struct{}

func withAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

// AttemptFromContext returns the 1-based attempt number of the send in
// progress, or 0 outside a send.
func AttemptFromContext(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// CorrelationIDMiddleware makes a root event its own correlation id so every
// message on the wire carries one.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(next SendFunc) SendFunc {
			return func(ctx context.Context, channel string, msg transport.Message) error {
				if msg.Headers.Get(metadatapkg.KeyCorrelationID) == "" {
					msg.Headers = msg.Headers.With(metadatapkg.KeyCorrelationID, msg.ID)
				}
				return next(ctx, channel, msg)
			}
		},
	}
}

// AttemptHeaderMiddleware stamps the attempt number on each send.
func AttemptHeaderMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "attempt_header",
		Middleware: func(next SendFunc) SendFunc {
			return func(ctx context.Context, channel string, msg transport.Message) error {
				if n := AttemptFromContext(ctx); n > 0 {
					msg.Headers = msg.Headers.With(metadatapkg.KeyAttempt, strconv.Itoa(n))
				}
				return next(ctx, channel, msg)
			}
		},
	}
}

// TracerMiddleware wraps each attempt in an OpenTelemetry span and injects the
// span context into the message headers.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(next SendFunc) SendFunc {
			tracer := otel.Tracer(tracerName)
			return func(ctx context.Context, channel string, msg transport.Message) error {
				ctx, span := tracer.Start(ctx, "eventflow.send",
					trace.WithSpanKind(trace.SpanKindProducer),
					trace.WithAttributes(
						attribute.String("messaging.destination.name", channel),
						attribute.String("event.id", msg.ID),
						attribute.String("event.type", msg.Headers.Get(metadatapkg.KeyEventType)),
						attribute.Int("attempt", AttemptFromContext(ctx)),
					),
				)
				defer span.End()

				headers := msg.Headers.Clone()
				otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
				msg.Headers = headers

				err := next(ctx, channel, msg)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				return err
			}
		},
	}
}

// LogAttemptsMiddleware logs every attempt at debug level and failures at
// warn level. A nil logger uses the publisher's logger.
func LogAttemptsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_attempts",
		Builder: func(p *Publisher) (SendMiddleware, error) {
			l := logger
			if l == nil {
				l = p.logger
			}
			if l == nil {
				return nil, errors.New("log attempts middleware requires a logger")
			}
			return logAttempts(l), nil
		},
	}
}

func logAttempts(logger loggingpkg.ServiceLogger) SendMiddleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, channel string, msg transport.Message) error {
			started := time.Now()
			fields := loggingpkg.LogFields{
				"event_id":   msg.ID,
				"event_type": msg.Headers.Get(metadatapkg.KeyEventType),
				"channel":    channel,
				"attempt":    AttemptFromContext(ctx),
			}
			logger.Debug("Sending event", fields)

			err := next(ctx, channel, msg)
			if err != nil {
				fields["error"] = err.Error()
				fields["error_class"] = envelope.ClassifyError(err).String()
				fields["duration_ms"] = time.Since(started).Milliseconds()
				logger.Warn("Send attempt failed", fields)
			}
			return err
		}
	}
}

// RecovererMiddleware converts a panicking transport into a retryable error.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Middleware: func(next SendFunc) SendFunc {
			return func(ctx context.Context, channel string, msg transport.Message) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("transport panicked: %v", r)
					}
				}()
				return next(ctx, channel, msg)
			}
		},
	}
}

// RegisterMiddleware appends a middleware to the send chain. The first
// registered middleware is the outermost.
func (p *Publisher) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw SendMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(p)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	p.middlewares = append(p.middlewares, mw)
	p.send = p.buildChain()
	return nil
}

func (p *Publisher) buildChain() SendFunc {
	send := SendFunc(p.sender.Send)
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		send = p.middlewares[i](send)
	}
	return send
}

func (p *Publisher) sendFunc() SendFunc {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	return p.send
}
