package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChannelStats holds the in-process view of one channel, served by the admin
// endpoint without scraping Prometheus.
type ChannelStats struct {
	Published     uint64    `json:"published"`
	Failed        uint64    `json:"failed"`
	DeadLettered  uint64    `json:"dead_lettered"`
	Retries       uint64    `json:"retries"`
	BreakerTrips  uint64    `json:"breaker_trips"`
	Duplicates    uint64    `json:"duplicates"`
	RateLimited   uint64    `json:"rate_limited"`
	AvgAttempts   float64   `json:"avg_attempts"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Snapshot provides a point-in-time view of every channel.
type Snapshot struct {
	TotalPublished    uint64                   `json:"total_published"`
	TotalDeadLettered uint64                   `json:"total_dead_lettered"`
	Channels          map[string]*ChannelStats `json:"channels"`
	CollectedAt       time.Time                `json:"collected_at"`
}

// Prometheus implements Sink with Prometheus collectors under the eventflow
// namespace.
type Prometheus struct {
	mu       sync.RWMutex
	channels map[string]*ChannelStats

	published    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	retries      *prometheus.CounterVec
	trips        *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	attempts     *prometheus.HistogramVec
	duration     *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventflow",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventflow",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewPrometheus creates the collectors. A nil registerer uses the default
// Prometheus registerer.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		channels:     make(map[string]*ChannelStats),
		registerer:   registerer,
		published:    newCounterVec("events_published", "Events delivered to the broker", "channel", "event_type"),
		failed:       newCounterVec("events_failed", "Publish calls that did not deliver the event", "channel", "event_type", "reason"),
		deadLettered: newCounterVec("events_deadlettered", "Events routed to the dead-letter channel", "channel", "status"),
		retries:      newCounterVec("retry_attempts", "Transport attempts beyond the first", "channel"),
		trips:        newCounterVec("circuit_breaker_trips", "Circuit breaker transitions to open", "channel"),
		duplicates:   newCounterVec("events_duplicate", "Publish calls suppressed as duplicates", "channel"),
		rateLimited:  newCounterVec("events_rate_limited", "Publish calls refused by the rate limiter", "channel"),
		attempts:     newHistogramVec("publish_attempts", "Transport attempts needed to deliver an event", []float64{1, 2, 3, 4, 5, 8}, "channel"),
		duration:     newHistogramVec("publish_duration_seconds", "Duration of publish calls", prometheus.DefBuckets, "channel", "outcome"),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Prometheus) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.published,
		m.failed,
		m.deadLettered,
		m.retries,
		m.trips,
		m.duplicates,
		m.rateLimited,
		m.attempts,
		m.duration,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Prometheus) Published(channel, eventType string, attempts int) {
	m.mu.Lock()
	stats := m.stats(channel)
	stats.Published++
	stats.AvgAttempts = ((stats.AvgAttempts * float64(stats.Published-1)) + float64(attempts)) / float64(stats.Published)
	m.mu.Unlock()

	m.published.WithLabelValues(channel, eventType).Inc()
	m.attempts.WithLabelValues(channel).Observe(float64(attempts))
}

func (m *Prometheus) Failed(channel, eventType, reason string) {
	m.update(channel, func(s *ChannelStats) { s.Failed++ })
	m.failed.WithLabelValues(channel, eventType, reason).Inc()
}

func (m *Prometheus) DeadLettered(channel, status string) {
	if status == StatusRouted {
		m.update(channel, func(s *ChannelStats) { s.DeadLettered++ })
	}
	m.deadLettered.WithLabelValues(channel, status).Inc()
}

func (m *Prometheus) RetryAttempt(channel string) {
	m.update(channel, func(s *ChannelStats) { s.Retries++ })
	m.retries.WithLabelValues(channel).Inc()
}

func (m *Prometheus) BreakerTrip(channel string) {
	m.update(channel, func(s *ChannelStats) { s.BreakerTrips++ })
	m.trips.WithLabelValues(channel).Inc()
}

func (m *Prometheus) Duplicate(channel string) {
	m.update(channel, func(s *ChannelStats) { s.Duplicates++ })
	m.duplicates.WithLabelValues(channel).Inc()
}

func (m *Prometheus) RateLimited(channel string) {
	m.update(channel, func(s *ChannelStats) { s.RateLimited++ })
	m.rateLimited.WithLabelValues(channel).Inc()
}

func (m *Prometheus) ObserveDuration(channel, outcome string, d time.Duration) {
	m.duration.WithLabelValues(channel, outcome).Observe(d.Seconds())
}

// Snapshot returns a copy of the per-channel counters.
func (m *Prometheus) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := Snapshot{
		Channels:    make(map[string]*ChannelStats, len(m.channels)),
		CollectedAt: time.Now(),
	}
	for channel, stats := range m.channels {
		statsCopy := *stats
		snapshot.Channels[channel] = &statsCopy
		snapshot.TotalPublished += stats.Published
		snapshot.TotalDeadLettered += stats.DeadLettered
	}
	return snapshot
}

// Channel returns the counters for one channel, or nil if nothing was recorded.
func (m *Prometheus) Channel(channel string) *ChannelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if stats, ok := m.channels[channel]; ok {
		statsCopy := *stats
		return &statsCopy
	}
	return nil
}

// Reset clears all metrics (useful for testing).
func (m *Prometheus) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.channels = make(map[string]*ChannelStats)
	m.published.Reset()
	m.failed.Reset()
	m.deadLettered.Reset()
	m.retries.Reset()
	m.trips.Reset()
	m.duplicates.Reset()
	m.rateLimited.Reset()
	m.attempts.Reset()
	m.duration.Reset()
}

func (m *Prometheus) update(channel string, fn func(*ChannelStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.stats(channel))
}

// stats returns the mutable entry for channel. Callers hold m.mu.
func (m *Prometheus) stats(channel string) *ChannelStats {
	stats, ok := m.channels[channel]
	if !ok {
		stats = &ChannelStats{}
		m.channels[channel] = stats
	}
	stats.LastUpdatedAt = time.Now()
	return stats
}
