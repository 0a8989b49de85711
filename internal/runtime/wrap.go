package runtime

import (
	"context"
	"fmt"

	"github.com/drblury/eventflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

// EventBuilder turns the result of a successful operation into the event to
// publish.
type EventBuilder[T any] func(result T) (envelope.Envelope, envelope.PublishOptions, error)

// AfterSuccess wraps op so that every successful run publishes the event built
// from its result. The publish is asynchronous and goes through the full
// pipeline; its outcome reaches onResult (which may be nil) and never changes
// what the wrapped function returns. A failed op publishes nothing.
//
// A build or validation failure is a programming error in the caller. It is
// logged and reported to onResult as a Rejected result.
func AfterSuccess[T any](p *Publisher, op func(ctx context.Context) (T, error), build EventBuilder[T], onResult func(PublishResult)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		result, err := op(ctx)
		if err != nil {
			return result, err
		}
		if p == nil || build == nil {
			return result, nil
		}

		env, opts, buildErr := build(result)
		if buildErr != nil {
			p.reportRejected(env, fmt.Errorf("build event: %w", buildErr), onResult)
			return result, nil
		}
		if pubErr := p.PublishAsync(ctx, env, opts, onResult); pubErr != nil {
			p.reportRejected(env, pubErr, onResult)
		}
		return result, nil
	}
}

func (p *Publisher) reportRejected(env envelope.Envelope, err error, onResult func(PublishResult)) {
	p.logger.Error("Automatic publish after success was rejected", err, loggingpkg.LogFields{
		"event_id":    env.ID,
		"event_type":  env.Type,
		"error_class": envelope.ClassifyError(err).String(),
	})
	if onResult != nil {
		onResult(PublishResult{Kind: ResultRejected, EventID: env.ID, Reason: err.Error(), Err: err})
	}
}
