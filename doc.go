// Package eventflow publishes domain events reliably on top of Watermill.
// Every event is an Envelope validated against a versioned JSON Schema,
// deduplicated through a shared store, rate limited per channel, sent through
// a per-channel circuit breaker with bounded retries, and parked on a
// dead-letter channel when it cannot be delivered.
//
// The transport is read from Config (Kafka, RabbitMQ, AWS SNS/SQS, NATS,
// JetStream, HTTP, Redis Streams or Go channels). Redis backs deduplication,
// rate limits and the shared breaker when RedisURL is set; otherwise that
// state lives in process memory.
//
// A minimal setup fills Config, creates a Service and publishes:
//
//	svc := eventflow.NewService(cfg, logger, ctx, eventflow.ServiceDependencies{})
//	defer svc.Close(ctx)
//
//	env, err := eventflow.NewEnvelope("card.activated", "card", cardID, "1.0.0", payload)
//	res, err := svc.Publish(ctx, env, eventflow.PublishOptions{TTL: time.Minute})
//
// Publish returns an error only for caller mistakes such as an unknown event
// type or a payload that breaks its schema. Every other outcome (Published,
// Duplicate, RateLimited, CircuitOpen, Expired, DeadLettered) is a
// PublishResult the caller may log and move on from.
//
// # Publishing after a business operation
//
// AfterSuccess wraps an operation and publishes the event built from its
// result in the background, without changing what the operation returns.
//
// # Middleware and hooks
//
// Send middleware runs around each transport attempt, retries included: the
// default chain sets correlation ids and attempt headers, opens OpenTelemetry
// producer spans, logs attempts and recovers panics. PublishHooks observe the
// publish lifecycle for logging, metrics and alerting.
//
// # Operations
//
// Service.Start serves /metrics, /healthz, /breakers and /stats when
// MetricsEnabled is set. The eventflow command publishes and validates
// envelopes from files and runs the admin server.
package eventflow
