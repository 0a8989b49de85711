package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "EVENTFLOW_"

// configFile mirrors the YAML schema accepted by Load.
type configFile struct {
	Transport struct {
		Name             string   `yaml:"name"`
		KafkaBrokers     []string `yaml:"kafka_brokers"`
		RabbitMQURL      string   `yaml:"rabbitmq_url"`
		NATSURL          string   `yaml:"nats_url"`
		JetStreamStream  string   `yaml:"jetstream_stream"`
		HTTPPublisherURL string   `yaml:"http_publisher_url"`
		AWS              struct {
			Region          string `yaml:"region"`
			AccountID       string `yaml:"account_id"`
			AccessKeyID     string `yaml:"access_key_id"`
			SecretAccessKey string `yaml:"secret_access_key"`
			Endpoint        string `yaml:"endpoint"`
		} `yaml:"aws"`
	} `yaml:"transport"`
	Store struct {
		RedisURL  string `yaml:"redis_url"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"store"`
	Channels struct {
		Namespace string `yaml:"namespace"`
	} `yaml:"channels"`
	Dedup struct {
		TTL     time.Duration            `yaml:"ttl"`
		PerType map[string]time.Duration `yaml:"per_type"`
	} `yaml:"dedup"`
	RateLimit struct {
		Rate         int                  `yaml:"rate"`
		Window       time.Duration        `yaml:"window"`
		PerPartition bool                 `yaml:"per_partition"`
		Channels     map[string]RateLimit `yaml:"channels"`
	} `yaml:"rate_limit"`
	Breaker struct {
		Mode             string        `yaml:"mode"`
		FailureThreshold uint32        `yaml:"failure_threshold"`
		FailureRatio     float64       `yaml:"failure_ratio"`
		MinRequests      uint32        `yaml:"min_requests"`
		Window           time.Duration `yaml:"window"`
		CoolDown         time.Duration `yaml:"cool_down"`
	} `yaml:"breaker"`
	Retry struct {
		MaxRetries      int           `yaml:"max_retries"`
		InitialInterval time.Duration `yaml:"initial_interval"`
		MaxInterval     time.Duration `yaml:"max_interval"`
	} `yaml:"retry"`
	Publish struct {
		Timeout           time.Duration `yaml:"timeout"`
		ClockSkew         time.Duration `yaml:"clock_skew"`
		DeadLetterTimeout time.Duration `yaml:"dead_letter_timeout"`
	} `yaml:"publish"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

func (f configFile) toConfig() Config {
	return Config{
		PubSubSystem:            f.Transport.Name,
		KafkaBrokers:            f.Transport.KafkaBrokers,
		RabbitMQURL:             f.Transport.RabbitMQURL,
		NATSURL:                 f.Transport.NATSURL,
		JetStreamStream:         f.Transport.JetStreamStream,
		HTTPPublisherURL:        f.Transport.HTTPPublisherURL,
		AWSRegion:               f.Transport.AWS.Region,
		AWSAccountID:            f.Transport.AWS.AccountID,
		AWSAccessKeyID:          f.Transport.AWS.AccessKeyID,
		AWSSecretAccessKey:      f.Transport.AWS.SecretAccessKey,
		AWSEndpoint:             f.Transport.AWS.Endpoint,
		RedisURL:                f.Store.RedisURL,
		RedisKeyPrefix:          f.Store.KeyPrefix,
		ChannelNamespace:        f.Channels.Namespace,
		DedupTTL:                f.Dedup.TTL,
		DedupTTLs:               f.Dedup.PerType,
		RateLimit:               f.RateLimit.Rate,
		RateLimitWindow:         f.RateLimit.Window,
		RateLimitPerPartition:   f.RateLimit.PerPartition,
		ChannelRateLimits:       f.RateLimit.Channels,
		BreakerMode:             f.Breaker.Mode,
		BreakerFailureThreshold: f.Breaker.FailureThreshold,
		BreakerFailureRatio:     f.Breaker.FailureRatio,
		BreakerMinRequests:      f.Breaker.MinRequests,
		BreakerWindow:           f.Breaker.Window,
		BreakerCoolDown:         f.Breaker.CoolDown,
		RetryMaxRetries:         f.Retry.MaxRetries,
		RetryInitialInterval:    f.Retry.InitialInterval,
		RetryMaxInterval:        f.Retry.MaxInterval,
		PublishTimeout:          f.Publish.Timeout,
		ClockSkew:               f.Publish.ClockSkew,
		DeadLetterTimeout:       f.Publish.DeadLetterTimeout,
		MetricsEnabled:          f.Metrics.Enabled,
		MetricsPort:             f.Metrics.Port,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// An empty path skips the file. The result is validated.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		cfg = f.toConfig()
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs envErrors

	cfg.PubSubSystem = envOrDefault("TRANSPORT", cfg.PubSubSystem)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.RabbitMQURL = envOrDefault("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.NATSURL = envOrDefault("NATS_URL", cfg.NATSURL)
	cfg.JetStreamStream = envOrDefault("JETSTREAM_STREAM", cfg.JetStreamStream)
	cfg.HTTPPublisherURL = envOrDefault("HTTP_PUBLISHER_URL", cfg.HTTPPublisherURL)
	cfg.AWSRegion = envOrDefault("AWS_REGION", cfg.AWSRegion)
	cfg.AWSAccountID = envOrDefault("AWS_ACCOUNT_ID", cfg.AWSAccountID)
	cfg.AWSAccessKeyID = envOrDefault("AWS_ACCESS_KEY_ID", cfg.AWSAccessKeyID)
	cfg.AWSSecretAccessKey = envOrDefault("AWS_SECRET_ACCESS_KEY", cfg.AWSSecretAccessKey)
	cfg.AWSEndpoint = envOrDefault("AWS_ENDPOINT", cfg.AWSEndpoint)

	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RedisKeyPrefix = envOrDefault("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	cfg.ChannelNamespace = envOrDefault("CHANNEL_NAMESPACE", cfg.ChannelNamespace)

	cfg.DedupTTL = errs.duration("DEDUP_TTL", cfg.DedupTTL)
	cfg.RateLimit = errs.int("RATE_LIMIT", cfg.RateLimit)
	cfg.RateLimitWindow = errs.duration("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	cfg.RateLimitPerPartition = errs.bool("RATE_LIMIT_PER_PARTITION", cfg.RateLimitPerPartition)

	cfg.BreakerMode = strings.ToLower(strings.TrimSpace(envOrDefault("BREAKER_MODE", cfg.BreakerMode)))
	cfg.BreakerFailureThreshold = uint32(errs.int("BREAKER_FAILURE_THRESHOLD", int(cfg.BreakerFailureThreshold)))
	cfg.BreakerCoolDown = errs.duration("BREAKER_COOL_DOWN", cfg.BreakerCoolDown)
	cfg.BreakerWindow = errs.duration("BREAKER_WINDOW", cfg.BreakerWindow)

	cfg.RetryMaxRetries = errs.int("RETRY_MAX_RETRIES", cfg.RetryMaxRetries)
	cfg.RetryInitialInterval = errs.duration("RETRY_INITIAL_INTERVAL", cfg.RetryInitialInterval)
	cfg.RetryMaxInterval = errs.duration("RETRY_MAX_INTERVAL", cfg.RetryMaxInterval)

	cfg.PublishTimeout = errs.duration("PUBLISH_TIMEOUT", cfg.PublishTimeout)
	cfg.MetricsEnabled = errs.bool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsPort = errs.int("METRICS_PORT", cfg.MetricsPort)

	return errs.join()
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(EnvPrefix + name); value != "" {
		return value
	}
	return fallback
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(EnvPrefix + name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// envErrors collects malformed overrides so a typo fails loudly instead of
// silently falling back.
type envErrors []string

func (e *envErrors) int(name string, fallback int) int {
	raw := os.Getenv(EnvPrefix + name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*e = append(*e, EnvPrefix+name)
		return fallback
	}
	return v
}

func (e *envErrors) bool(name string, fallback bool) bool {
	raw := os.Getenv(EnvPrefix + name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*e = append(*e, EnvPrefix+name)
		return fallback
	}
	return v
}

func (e *envErrors) duration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(EnvPrefix + name)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*e = append(*e, EnvPrefix+name)
		return fallback
	}
	return v
}

func (e envErrors) join() error {
	if len(e) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment overrides: %s", strings.Join(e, ", "))
}
