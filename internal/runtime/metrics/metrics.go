// Package metrics emits the publishing pipeline's counters and latency
// histogram. The Sink interface keeps the pipeline independent of the metrics
// backend; Prometheus is the production implementation.
package metrics

import "time"

// Dead-letter statuses reported through Sink.DeadLettered.
const (
	StatusRouted = "routed"
	StatusFailed = "failed"
)

// Sink receives pipeline events. Implementations must be safe for concurrent
// use and must not block.
type Sink interface {
	Published(channel, eventType string, attempts int)
	Failed(channel, eventType, reason string)
	DeadLettered(channel, status string)
	RetryAttempt(channel string)
	BreakerTrip(channel string)
	Duplicate(channel string)
	RateLimited(channel string)
	ObserveDuration(channel, outcome string, d time.Duration)
}

type nopSink struct{}

// Nop returns a Sink that discards everything.
func Nop() Sink { return nopSink{} }

func (nopSink) Published(string, string, int)                 {}
func (nopSink) Failed(string, string, string)                 {}
func (nopSink) DeadLettered(string, string)                   {}
func (nopSink) RetryAttempt(string)                           {}
func (nopSink) BreakerTrip(string)                            {}
func (nopSink) Duplicate(string)                              {}
func (nopSink) RateLimited(string)                            {}
func (nopSink) ObserveDuration(string, string, time.Duration) {}
