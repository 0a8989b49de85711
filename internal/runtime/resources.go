package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// ResourceUsage is a coarse view of the process and the publisher, reported
// by /healthz.
type ResourceUsage struct {
	CPUPercent       float64 `json:"cpu_percent"`
	HeapBytes        uint64  `json:"heap_bytes"`
	Goroutines       uint64  `json:"goroutines"`
	PendingPublishes int     `json:"pending_publishes"`
}

// resourceTracker samples the Go runtime between health checks. CPU usage is
// the average since the previous sample, so the first call reports zero.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
	pending        func() int
	now            func() time.Time
}

func newResourceTracker(pending func() int) *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{
			{Name: sampleCPU},
			{Name: sampleHeap},
			{Name: sampleGoroutines},
		},
		numCPU:  float64(runtime.NumCPU()),
		pending: pending,
		now:     time.Now,
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := r.now()

	var usage ResourceUsage
	for _, s := range r.samples {
		switch s.Name {
		case sampleCPU:
			if s.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpu := s.Value.Float64()
			if !r.lastSample.IsZero() {
				wall := now.Sub(r.lastSample).Seconds()
				if wall > 0 && r.numCPU > 0 {
					usage.CPUPercent = (cpu - r.lastCPUSeconds) / wall / r.numCPU * 100
				}
			}
			r.lastCPUSeconds = cpu
		case sampleHeap:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.HeapBytes = s.Value.Uint64()
			}
		case sampleGoroutines:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = s.Value.Uint64()
			}
		}
	}
	r.lastSample = now

	if r.pending != nil {
		usage.PendingPublishes = r.pending()
	}
	return usage
}
