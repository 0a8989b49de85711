package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/eventflow/internal/runtime/breaker"
	"github.com/drblury/eventflow/internal/runtime/channels"
	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	"github.com/drblury/eventflow/internal/runtime/deadletter"
	"github.com/drblury/eventflow/internal/runtime/dedup"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	"github.com/drblury/eventflow/internal/runtime/metrics"
	"github.com/drblury/eventflow/internal/runtime/ratelimit"
	"github.com/drblury/eventflow/internal/runtime/schema"
	"github.com/drblury/eventflow/internal/runtime/store"
	transportpkg "github.com/drblury/eventflow/internal/runtime/transport"
)

// adminShutdownTimeout bounds the graceful stop of the admin server.
const adminShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can
// use. Leave fields nil to build them from the configuration.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// Store replaces the Redis or in-memory store backing deduplication, rate
	// limiting and the shared breaker.
	Store    store.Store
	Registry *schema.Registry
	Limiter  ratelimit.Limiter
	Breaker  breaker.Breaker
	// Metrics replaces the Prometheus sink. /metrics then serves only what
	// PrometheusRegistry holds.
	Metrics            metrics.Sink
	PrometheusRegistry *prometheus.Registry
	Hooks              PublishHooks
	// Middlewares are appended after the default send chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
}

// Service wires a transport, the shared store and the publishing pipeline
// from a Config, and serves the admin endpoints.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher *Publisher
	transport transportpkg.Transport
	store     store.Store
	shared    bool
	naming    channels.Naming

	prometheus *metrics.Prometheus
	gatherer   prometheus.Gatherer

	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error

	resourceTracker *resourceTracker
	startedAt       time.Time
}

// NewService constructs a Service for the supplied configuration. It panics
// when the configuration cannot be wired; use TryNewService to handle the
// error instead.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService returning wiring failures as errors.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	cfg := conf.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("Creating event service", loggingpkg.LogFields{
		"pubsub_system": cfg.PubSubSystem,
		"config":        cfg,
	})

	s := &Service{
		Conf:      &cfg,
		Logger:    log,
		naming:    channels.Naming{Namespace: cfg.ChannelNamespace},
		startedAt: time.Now(),
	}
	s.resourceTracker = newResourceTracker(s.pendingPublishes)

	if err := s.wireStore(ctx, deps); err != nil {
		return nil, err
	}

	sink, err := s.wireMetrics(deps)
	if err != nil {
		_ = s.closeAll()
		return nil, err
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		_ = s.closeAll()
		return nil, fmt.Errorf("build transport: %w", err)
	}
	s.transport = tr
	s.closers = append([]io.Closer{tr.Sender}, s.closers...)

	p, err := s.wirePublisher(deps, sink)
	if err != nil {
		_ = s.closeAll()
		return nil, err
	}
	s.publisher = p

	log.Info("Event service ready", loggingpkg.LogFields{
		"transport":           tr.Capabilities.Name,
		"shared_store":        s.shared,
		"breaker_mode":        s.Conf.BreakerMode,
		"dead_letter_channel": p.deadLetter.Channel(),
	})
	return s, nil
}

func (s *Service) wireStore(ctx context.Context, deps ServiceDependencies) error {
	switch {
	case deps.Store != nil:
		s.store = deps.Store
		_, isMemory := deps.Store.(*store.MemoryStore)
		s.shared = !isMemory
	case s.Conf.RedisURL != "":
		client, err := store.Connect(ctx, s.Conf.RedisURL)
		if err != nil {
			return fmt.Errorf("connect shared store: %w", err)
		}
		redisStore := store.NewRedisStore(client, s.Conf.RedisKeyPrefix)
		s.store = redisStore
		s.shared = true
		s.closers = append(s.closers, redisStore)
		if err := redisStore.Ping(ctx); err != nil {
			// Consumers of the store fail open.
			s.Logger.Warn("Shared store unreachable at startup", loggingpkg.LogFields{"error": err.Error()})
		}
	default:
		s.store = store.NewMemoryStore()
	}
	return nil
}

func (s *Service) wireMetrics(deps ServiceDependencies) (metrics.Sink, error) {
	s.gatherer = deps.PrometheusRegistry
	if deps.Metrics != nil {
		if s.gatherer == nil {
			s.gatherer = prometheus.NewRegistry()
		}
		return deps.Metrics, nil
	}

	registry := deps.PrometheusRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
		s.gatherer = registry
	}
	s.prometheus = metrics.NewPrometheus(registry)
	if err := s.prometheus.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return s.prometheus, nil
}

func (s *Service) wirePublisher(deps ServiceDependencies, sink metrics.Sink) (*Publisher, error) {
	cfg := s.Conf

	registry := deps.Registry
	if registry == nil {
		var err error
		registry, err = schema.Default(schema.WithNaming(s.naming), schema.WithClockSkew(cfg.ClockSkew))
		if err != nil {
			return nil, fmt.Errorf("load schema registry: %w", err)
		}
	}

	dedupStore := dedup.New(s.store, s.Logger,
		dedup.WithDefaultTTL(cfg.DedupTTL),
		dedup.WithTTLs(cfg.DedupTTLs),
	)

	limiter := deps.Limiter
	if limiter == nil {
		if s.shared {
			limiter = ratelimit.NewShared(s.store, cfg.RateLimitConfig(), s.Logger)
		} else {
			limiter = ratelimit.NewLocal(cfg.RateLimitConfig())
		}
	}

	br := deps.Breaker
	if br == nil {
		var err error
		br, err = breaker.New(breaker.Mode(strings.ToLower(cfg.BreakerMode)), cfg.BreakerSettings(), s.store, sink, s.Logger)
		if err != nil {
			return nil, err
		}
	}

	policy := cfg.RetryPolicy()
	return NewPublisher(PublisherDependencies{
		Sender:   s.transport.Sender,
		Registry: registry,
		Dedup:    dedupStore,
		Limiter:  limiter,
		Breaker:  br,
		DeadLetter: deadletter.New(s.transport.Sender, registry.DeadLetterChannel(),
			deadletter.WithTimeout(cfg.DeadLetterTimeout),
			deadletter.WithMetrics(sink),
			deadletter.WithLogger(s.Logger),
		),
		Metrics:                   sink,
		Logger:                    s.Logger,
		Hooks:                     deps.Hooks,
		Middlewares:               deps.Middlewares,
		DisableDefaultMiddlewares: deps.DisableDefaultMiddlewares,
		RetryPolicy:               &policy,
		DefaultTimeout:            cfg.PublishTimeout,
	})
}

func (s *Service) pendingPublishes() int {
	if s.publisher == nil {
		return 0
	}
	return s.publisher.Pending()
}

// Publisher returns the wired publisher.
func (s *Service) Publisher() *Publisher { return s.publisher }

// Transport returns the configured sender and its capabilities.
func (s *Service) Transport() transportpkg.Transport { return s.transport }

// Publish forwards to the publisher.
func (s *Service) Publish(ctx context.Context, env envelope.Envelope, opts envelope.PublishOptions) (PublishResult, error) {
	return s.publisher.Publish(ctx, env, opts)
}

// PublishAsync forwards to the publisher.
func (s *Service) PublishAsync(ctx context.Context, env envelope.Envelope, opts envelope.PublishOptions, callback func(PublishResult)) error {
	return s.publisher.PublishAsync(ctx, env, opts, callback)
}

// Start serves the admin endpoints until ctx is cancelled. Without
// MetricsEnabled it only waits for ctx.
func (s *Service) Start(ctx context.Context) error {
	if !s.Conf.MetricsEnabled {
		<-ctx.Done()
		return nil
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Conf.MetricsPort),
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting admin server", loggingpkg.LogFields{"address": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Logger.Error("Admin server failed", err, loggingpkg.LogFields{"address": server.Addr})
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Close drains in-flight publishes, then closes the transport and the shared
// store. It is safe to call more than once.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.publisher != nil {
			if err := s.publisher.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.closeAll(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Service) closeAll() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
