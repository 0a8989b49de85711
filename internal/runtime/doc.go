/*
Package runtime provides the reliable publishing core of eventflow.

# Architecture Overview

Every event travels through one pipeline before it reaches a broker:

	validate -> deduplicate -> partition lane -> delay -> ttl check
	         -> rate limit -> breaker + retries -> broker | dead letter

Transports are Watermill publishers behind the transport.Sender interface, so
the pipeline never depends on a particular broker.

# Package Structure

## Service (service.go, admin.go)

The Service wires the configured transport, the shared store (Redis or
memory), the schema registry, deduplication, the rate limiter, the circuit
breaker, the dead-letter router and Prometheus metrics into a Publisher. Its
admin router serves /metrics, /healthz, /breakers and /stats.

## Publisher (publisher.go, lanes.go)

Publish returns a PublishResult for every outcome and an error only for caller
mistakes. PublishAsync schedules the same pipeline in the background; Close
drains it. Events sharing a partition key reach the transport in call order.

## Send middleware (middleware.go)

Composable stages around each transport attempt:
  - CorrelationID: every message carries a correlation id
  - AttemptHeader: the attempt number travels as a header
  - Tracer: OpenTelemetry producer spans and context propagation
  - LogAttempts: debug logging of attempts, warnings on failures
  - Recoverer: panic recovery

## Hooks and wrappers (hooks.go, wrap.go)

PublishHooks observe the publish lifecycle. AfterSuccess publishes an event
once a business operation succeeded without changing its result.

# Sub-packages

  - breaker/: local (gobreaker) and shared (store-backed) circuit breakers
  - channels/: aggregate families and channel naming
  - config/: Service configuration with validation and YAML/env loading
  - deadletter/: dead-letter record routing
  - dedup/: deduplication reservations
  - envelope/: the event envelope, options and error classes
  - errors/: sentinel errors
  - ids/: event and record ids
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: header keys and helpers
  - metrics/: metrics sink and Prometheus implementation
  - ratelimit/: local token bucket and shared sliding window limiters
  - retry/: backoff policy and attempt executor
  - schema/: JSON Schema registry of the event vocabulary
  - store/: shared key/value store (Redis, memory)
  - transport/: builds the configured transport

# Usage Example

	svc := runtime.NewService(cfg, logger, ctx, runtime.ServiceDependencies{})
	defer svc.Close(ctx)

	env, _ := envelope.New("card.activated", "card", cardID, "1.0.0", payload)
	res, err := svc.Publish(ctx, env, envelope.PublishOptions{TTL: time.Minute})
*/
package runtime
