package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventflow/internal/runtime/breaker"
	"github.com/drblury/eventflow/internal/runtime/deadletter"
	"github.com/drblury/eventflow/internal/runtime/dedup"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/internal/runtime/metrics"
	"github.com/drblury/eventflow/internal/runtime/ratelimit"
	"github.com/drblury/eventflow/internal/runtime/retry"
	"github.com/drblury/eventflow/internal/runtime/schema"
	"github.com/drblury/eventflow/internal/runtime/store"
	"github.com/drblury/eventflow/transport"
)

// DefaultPublishTimeout bounds a publish whose options carry no TTL.
const DefaultPublishTimeout = 30 * time.Second

// minRateLimitWait keeps a limiter that reports no RetryAfter from spinning.
const minRateLimitWait = 10 * time.Millisecond

// ResultKind enumerates how a publish ended.
type ResultKind int

const (
	ResultPublished ResultKind = iota + 1
	ResultDuplicate
	ResultRejected
	ResultRateLimited
	ResultCircuitOpen
	ResultExpired
	ResultDeadLettered
)

func (k ResultKind) String() string {
	switch k {
	case ResultPublished:
		return "published"
	case ResultDuplicate:
		return "duplicate"
	case ResultRejected:
		return "rejected"
	case ResultRateLimited:
		return "rate_limited"
	case ResultCircuitOpen:
		return "circuit_open"
	case ResultExpired:
		return "expired"
	case ResultDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// PublishResult describes the outcome of one publish. Only Rejected comes
// with a returned error; every other kind is a normal result the caller may
// log and ignore.
type PublishResult struct {
	Kind             ResultKind
	EventID          string
	Channel          string
	DeduplicationKey string
	// Attempts counts attempt slots used, including slots refused by an open
	// breaker.
	Attempts int
	Reason   string
	Err      error
	// RetryAfter is set for RateLimited.
	RetryAfter time.Duration
	// FirstSeenAt is set for Duplicate when the store knows it.
	FirstSeenAt time.Time
	// Parked reports whether the dead-letter send succeeded for Expired and
	// DeadLettered results.
	Parked bool
}

// Delivered reports whether the event is on the broker, from this call or an
// earlier one.
func (r PublishResult) Delivered() bool {
	return r.Kind == ResultPublished || r.Kind == ResultDuplicate
}

// Error returns the result error, or a summary for failed kinds without one.
func (r PublishResult) Error() error {
	if r.Err != nil || r.Delivered() {
		return r.Err
	}
	return fmt.Errorf("eventflow: publish %s", r.Kind)
}

// PublisherDependencies holds the collaborators of a Publisher. Only Sender
// is required; nil fields fall back to single-instance defaults.
type PublisherDependencies struct {
	Sender   transport.Sender
	Registry *schema.Registry
	Dedup    *dedup.Store
	Limiter  ratelimit.Limiter
	Breaker  breaker.Breaker
	// DeadLetter defaults to a router on the registry's dead-letter channel
	// through Sender.
	DeadLetter *deadletter.Router
	Metrics    metrics.Sink
	Logger     loggingpkg.ServiceLogger
	Hooks      PublishHooks
	// Middlewares are appended after the default send chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
	// RetryPolicy defaults to retry.DefaultPolicy.
	RetryPolicy    *retry.Policy
	DefaultTimeout time.Duration
	Clock          func() time.Time
}

// Publisher runs every event through validation, deduplication, rate
// limiting and the breaker-guarded retry executor, and parks what cannot be
// delivered on the dead-letter channel.
type Publisher struct {
	sender     transport.Sender
	registry   *schema.Registry
	dedup      *dedup.Store
	limiter    ratelimit.Limiter
	breaker    breaker.Breaker
	executor   *retry.Executor
	deadLetter *deadletter.Router
	sink       metrics.Sink
	logger     loggingpkg.ServiceLogger
	hooks      PublishHooks
	policy     retry.Policy
	timeout    time.Duration
	now        func() time.Time
	tracer     trace.Tracer
	lanes      *lanes

	sendMu      sync.RWMutex
	middlewares []SendMiddleware
	send        SendFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	pending  atomic.Int64
}

// NewPublisher wires a Publisher from deps.
func NewPublisher(deps PublisherDependencies) (*Publisher, error) {
	if deps.Sender == nil {
		return nil, errspkg.ErrTransportRequired
	}

	p := &Publisher{
		sender:   deps.Sender,
		registry: deps.Registry,
		dedup:    deps.Dedup,
		limiter:  deps.Limiter,
		breaker:  deps.Breaker,
		sink:     deps.Metrics,
		logger:   deps.Logger,
		hooks:    deps.Hooks,
		timeout:  deps.DefaultTimeout,
		now:      deps.Clock,
		tracer:   otel.Tracer(tracerName),
		lanes:    newLanes(),
	}
	if p.logger == nil {
		p.logger = loggingpkg.NopLogger()
	}
	if p.sink == nil {
		p.sink = metrics.Nop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.timeout <= 0 {
		p.timeout = DefaultPublishTimeout
	}
	if p.registry == nil {
		r, err := schema.Default()
		if err != nil {
			return nil, fmt.Errorf("load schema registry: %w", err)
		}
		p.registry = r
	}
	if p.dedup == nil {
		p.dedup = dedup.New(store.NewMemoryStore(), p.logger)
	}
	if p.limiter == nil {
		p.limiter = ratelimit.Unlimited()
	}
	if p.breaker == nil {
		p.breaker = breaker.NewLocal(breaker.DefaultSettings(), p.sink, p.logger)
	}
	p.deadLetter = deps.DeadLetter
	if p.deadLetter == nil {
		p.deadLetter = deadletter.New(deps.Sender, p.registry.DeadLetterChannel(),
			deadletter.WithMetrics(p.sink),
			deadletter.WithLogger(p.logger),
		)
	}
	p.policy = retry.DefaultPolicy()
	if deps.RetryPolicy != nil {
		p.policy = *deps.RetryPolicy
	}
	p.executor = retry.NewExecutor(p.breaker, p.sink)
	p.send = p.buildChain()

	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = DefaultMiddlewares()
	}
	registrations = append(registrations, deps.Middlewares...)
	for _, reg := range registrations {
		if err := p.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return nil, fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return p, nil
}

// Registry returns the schema registry used for validation.
func (p *Publisher) Registry() *schema.Registry { return p.registry }

// BreakerState reports the breaker state for channel.
func (p *Publisher) BreakerState(ctx context.Context, channel string) breaker.State {
	return p.breaker.State(ctx, channel)
}

// publishCall is one accepted publish on its way to the broker.
type publishCall struct {
	ctx      context.Context
	cancel   context.CancelFunc
	span     trace.Span
	env      envelope.Envelope
	opts     envelope.PublishOptions
	channel  string
	deadline time.Time
	msg      transport.Message
	ticket   *ticket
	info     PublishContext
	// hold is slept before the first attempt. Only synchronous publishes
	// set it; PublishAsync serves the delay with a timer instead.
	hold time.Duration
}

func (c *publishCall) result(kind ResultKind) PublishResult {
	return PublishResult{
		Kind:             kind,
		EventID:          c.env.ID,
		Channel:          c.channel,
		DeduplicationKey: envelope.EffectiveDeduplicationKey(c.env, c.opts),
	}
}

// Publish delivers env. The returned error is non-nil only for caller errors
// (validation, unknown type) and a closed publisher; the result describes
// every other outcome.
//
// Publish blocks the caller for opts.Delay before the first attempt. Use
// PublishAsync to delay without holding a goroutine.
func (p *Publisher) Publish(ctx context.Context, env envelope.Envelope, opts envelope.PublishOptions) (PublishResult, error) {
	if !p.enter() {
		return PublishResult{Kind: ResultRejected, EventID: env.ID, Err: errspkg.ErrPublisherClosed}, errspkg.ErrPublisherClosed
	}
	defer p.leave()

	call, res, err := p.prepare(ctx, env, opts)
	if call == nil {
		return res, err
	}
	call.hold = opts.Delay
	return p.deliver(call), nil
}

// PublishAsync validates and deduplicates env before returning, then delivers
// it in the background. A delay is served by a timer, so no goroutine waits
// it out. callback, when set, receives the final result. Caller errors are
// returned synchronously and never reach callback.
//
// The background work is detached from ctx cancellation; the event's own
// deadline still applies.
func (p *Publisher) PublishAsync(ctx context.Context, env envelope.Envelope, opts envelope.PublishOptions, callback func(PublishResult)) error {
	if !p.enter() {
		return errspkg.ErrPublisherClosed
	}

	call, res, err := p.prepare(context.WithoutCancel(ctx), env, opts)
	if call == nil {
		p.leave()
		if err == nil && callback != nil {
			callback(res)
		}
		return err
	}

	run := func() {
		defer p.leave()
		res := p.deliver(call)
		if callback != nil {
			callback(res)
		}
	}
	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, run)
	} else {
		go run()
	}
	return nil
}

// Close stops accepting publishes and waits for in-flight ones, including
// delayed async publishes, until ctx ends. It does not close the transport.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight publishes: %w", ctx.Err())
	}
}

func (p *Publisher) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	p.pending.Add(1)
	return true
}

func (p *Publisher) leave() {
	p.pending.Add(-1)
	p.inflight.Done()
}

// Pending reports publishes accepted but not yet finished, delayed async
// publishes included.
func (p *Publisher) Pending() int {
	return int(p.pending.Load())
}

// prepare runs the synchronous stages: validation, deduplication, encoding
// and the partition ticket. A nil call means the publish already ended.
func (p *Publisher) prepare(ctx context.Context, env envelope.Envelope, opts envelope.PublishOptions) (*publishCall, PublishResult, error) {
	started := p.now()
	env = env.Clone()

	ctx, span := p.tracer.Start(ctx, "eventflow.publish",
		trace.WithAttributes(
			attribute.String("event.id", env.ID),
			attribute.String("event.type", env.Type),
		),
	)

	validated, err := p.registry.Validate(env, started)
	if err != nil {
		res := PublishResult{Kind: ResultRejected, EventID: env.ID, Reason: err.Error(), Err: err}
		p.sink.Failed("", env.Type, ResultRejected.String())
		p.logger.Warn("Event rejected", loggingpkg.LogFields{
			"event_id":   env.ID,
			"event_type": env.Type,
			"error":      err.Error(),
		})
		p.end(span, PublishContext{EventID: env.ID, EventType: env.Type, StartedAt: started}, res)
		return nil, res, err
	}

	call := &publishCall{
		span:    span,
		env:     env,
		opts:    opts,
		channel: validated.Channel,
		info: PublishContext{
			EventID:      env.ID,
			EventType:    env.Type,
			Channel:      validated.Channel,
			PartitionKey: envelope.EffectivePartitionKey(env, opts),
			StartedAt:    started,
		},
	}
	span.SetAttributes(attribute.String("messaging.destination.name", call.channel))
	p.hooks.start(call.info)

	key := envelope.EffectiveDeduplicationKey(env, opts)
	reservation := p.dedup.Reserve(ctx, key, p.dedup.TTLFor(env.Type))
	if !reservation.Accepted {
		res := call.result(ResultDuplicate)
		res.FirstSeenAt = reservation.FirstSeenAt
		p.sink.Duplicate(call.channel)
		p.logger.Debug("Duplicate event suppressed", loggingpkg.LogFields{
			"event_id":   env.ID,
			"event_type": env.Type,
			"dedup_key":  key,
		})
		p.end(span, call.info, res)
		return nil, res, nil
	}

	payload, err := env.Marshal()
	if err != nil {
		p.dedup.Release(ctx, key)
		res := call.result(ResultRejected)
		res.Err = fmt.Errorf("encode envelope: %w", err)
		res.Reason = res.Err.Error()
		p.end(span, call.info, res)
		return nil, res, res.Err
	}

	call.msg = transport.Message{
		ID:           env.ID,
		Payload:      payload,
		PartitionKey: call.info.PartitionKey,
		Headers:      messageHeaders(env, opts),
	}
	call.deadline = envelope.Deadline(env, opts, started, p.timeout)
	call.ctx, call.cancel = context.WithDeadline(ctx, call.deadline)
	call.ticket = p.lanes.take(call.info.PartitionKey)
	return call, PublishResult{}, nil
}

// deliver runs the stages after preparation: a synchronous delay, partition
// order, TTL check, rate limit, retries and the dead-letter fallback.
func (p *Publisher) deliver(call *publishCall) PublishResult {
	defer call.cancel()
	defer call.ticket.release()

	res := p.attempt(call)
	p.end(call.span, call.info, res)
	return res
}

func (p *Publisher) attempt(call *publishCall) PublishResult {
	if call.hold > 0 {
		if err := sleepCtx(call.ctx, call.hold); err != nil {
			return p.expire(call, retry.Outcome{}, "deadline reached during the requested delay")
		}
	}
	if err := call.ticket.wait(call.ctx); err != nil {
		return p.expire(call, retry.Outcome{}, "deadline reached while waiting for earlier events on the partition")
	}
	if call.ctx.Err() != nil || !p.now().Before(call.deadline) {
		return p.expire(call, retry.Outcome{}, "ttl expired before the first attempt")
	}

	if retryAfter, ok := p.acquire(call); !ok {
		p.dedup.Release(context.WithoutCancel(call.ctx), envelope.EffectiveDeduplicationKey(call.env, call.opts))
		p.sink.RateLimited(call.channel)
		res := call.result(ResultRateLimited)
		res.RetryAfter = retryAfter
		res.Err = &ratelimit.RateLimitedError{Channel: call.channel, RetryAfter: retryAfter}
		res.Reason = res.Err.Error()
		return res
	}

	send := p.sendFunc()
	outcome := p.executor.Execute(call.ctx, call.channel, p.policyFor(call.opts), func(ctx context.Context, n int) error {
		return send(withAttempt(ctx, n), call.channel, call.msg)
	})

	switch {
	case outcome.Succeeded():
		p.sink.Published(call.channel, call.env.Type, outcome.Attempts)
		res := call.result(ResultPublished)
		res.Attempts = outcome.Attempts
		return res
	case outcome.CircuitOpen:
		p.dedup.Release(context.WithoutCancel(call.ctx), envelope.EffectiveDeduplicationKey(call.env, call.opts))
		p.sink.Failed(call.channel, call.env.Type, ResultCircuitOpen.String())
		res := call.result(ResultCircuitOpen)
		res.Attempts = outcome.Attempts
		res.Err = outcome.Err
		res.Reason = outcome.Err.Error()
		return res
	case outcome.Expired:
		return p.expire(call, outcome, outcome.Err.Error())
	default:
		return p.park(call, outcome, ResultDeadLettered, outcome.Err.Error(),
			fmt.Errorf("%w: %w", errspkg.ErrDeadLettered, outcome.Err))
	}
}

func (p *Publisher) expire(call *publishCall, outcome retry.Outcome, reason string) PublishResult {
	return p.park(call, outcome, ResultExpired, reason, fmt.Errorf("%w: %s", errspkg.ErrPublishExpired, reason))
}

func (p *Publisher) park(call *publishCall, outcome retry.Outcome, kind ResultKind, reason string, err error) PublishResult {
	p.sink.Failed(call.channel, call.env.Type, kind.String())
	parked := p.deadLetter.Route(call.ctx, call.env, deadletter.Diagnostics{
		OriginalChannel: call.channel,
		PartitionKey:    call.info.PartitionKey,
		Reason:          reason,
		Attempts:        outcome.Attempts,
		FirstAttemptAt:  outcome.FirstAttemptAt,
		LastAttemptAt:   outcome.LastAttemptAt,
	})
	res := call.result(kind)
	res.Attempts = outcome.Attempts
	res.Reason = reason
	res.Err = err
	res.Parked = parked
	return res
}

// acquire waits for a rate-limit slot as long as the wait ends before the
// deadline.
func (p *Publisher) acquire(call *publishCall) (time.Duration, bool) {
	for {
		decision := p.limiter.Acquire(call.ctx, call.channel, call.info.PartitionKey)
		if decision.Allowed {
			return 0, true
		}
		wait := max(decision.RetryAfter, minRateLimitWait)
		if !p.now().Add(wait).Before(call.deadline) {
			return decision.RetryAfter, false
		}
		if err := sleepCtx(call.ctx, wait); err != nil {
			return decision.RetryAfter, false
		}
	}
}

func (p *Publisher) policyFor(opts envelope.PublishOptions) retry.Policy {
	policy := p.policy
	if opts.Retries != nil {
		policy.Retries = max(*opts.Retries, 0)
	}
	if opts.RetryDelay > 0 {
		policy.BaseDelay = opts.RetryDelay
	}
	return policy
}

func (p *Publisher) end(span trace.Span, info PublishContext, res PublishResult) {
	info.Duration = p.now().Sub(info.StartedAt)
	info.Result = res
	p.sink.ObserveDuration(info.Channel, res.Kind.String(), info.Duration)

	span.SetAttributes(
		attribute.String("eventflow.outcome", res.Kind.String()),
		attribute.Int("eventflow.attempts", res.Attempts),
	)
	if !res.Delivered() {
		span.SetStatus(codes.Error, res.Error().Error())
	}
	span.End()
	p.hooks.finish(info)
}

// messageHeaders renders the envelope identity and routing hints as
// transport headers. Caller metadata cannot override them.
func messageHeaders(env envelope.Envelope, opts envelope.PublishOptions) metadatapkg.Metadata {
	headers := env.Metadata.WithAll(metadatapkg.New(
		metadatapkg.KeyEventID, env.ID,
		metadatapkg.KeyEventType, env.Type,
		metadatapkg.KeyAggregate, env.AggregateName,
		metadatapkg.KeySchemaVersion, env.Version,
		metadatapkg.KeyPartitionKey, envelope.EffectivePartitionKey(env, opts),
		metadatapkg.KeyPriority, opts.Priority.String(),
		metadatapkg.KeyContentType, "application/json",
	))
	if env.CorrelationID != "" {
		headers[metadatapkg.KeyCorrelationID] = env.CorrelationID
	}
	if env.CausationID != "" {
		headers[metadatapkg.KeyCausationID] = env.CausationID
	}
	return headers
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
