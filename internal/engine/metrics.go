package engine

import (
	"sync"
	"time"

	"github.com/desertthunder/spotcore/internal/events"
)

// Metrics accumulates performance samples across logical calls.
type Metrics struct {
	mu       sync.Mutex
	snapshot MetricsSnapshot
}

// MetricsSnapshot is a copy of the accumulated counters.
type MetricsSnapshot struct {
	Calls        int
	Failures     int
	Attempts     int
	Retries      int
	Shared       int
	TotalLatency time.Duration
	MaxLatency   time.Duration
}

// MeanLatency returns the average latency per call.
func (s MetricsSnapshot) MeanLatency() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Calls)
}

// Record adds one sample. failed marks calls that ended in an error.
func (m *Metrics) Record(sample events.Metrics, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.snapshot
	s.Calls++
	if failed {
		s.Failures++
	}
	s.Attempts += sample.Attempts
	s.Retries += sample.Retries
	if sample.Shared {
		s.Shared++
	}
	s.TotalLatency += sample.Latency
	s.MaxLatency = max(s.MaxLatency, sample.Latency)
}

// Snapshot returns the current totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Reset zeroes the counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.snapshot = MetricsSnapshot{}
	m.mu.Unlock()
}
