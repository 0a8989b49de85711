package metrics

import (
	"sync"
	"time"
)

// Recorder is an in-memory Sink that counts every call by name and channel.
// Tests use it to assert on pipeline behaviour without Prometheus.
type Recorder struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[string]int)}
}

func (r *Recorder) add(name, channel string) {
	r.mu.Lock()
	r.counts[name+"|"+channel]++
	r.mu.Unlock()
}

// Count returns how often name was recorded for channel.
func (r *Recorder) Count(name, channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name+"|"+channel]
}

func (r *Recorder) Published(channel, _ string, _ int) { r.add("published", channel) }
func (r *Recorder) Failed(channel, _, reason string)   { r.add("failed:"+reason, channel) }
func (r *Recorder) DeadLettered(channel, status string) {
	r.add("deadlettered:"+status, channel)
}
func (r *Recorder) RetryAttempt(channel string) { r.add("retry", channel) }
func (r *Recorder) BreakerTrip(channel string)  { r.add("trip", channel) }
func (r *Recorder) Duplicate(channel string)    { r.add("duplicate", channel) }
func (r *Recorder) RateLimited(channel string)  { r.add("ratelimited", channel) }
func (r *Recorder) ObserveDuration(channel, outcome string, _ time.Duration) {
	r.add("duration:"+outcome, channel)
}
