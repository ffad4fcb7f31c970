package uring

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for a ring and its adapters.
type Metrics struct {
	// Operation counters
	Submissions atomic.Uint64 // Descriptors accepted for submission
	Completions atomic.Uint64 // Completions delivered to callers
	Discarded   atomic.Uint64 // Companion completions absorbed silently
	Timeouts    atomic.Uint64 // Bounded waits that expired
	QueueFull   atomic.Uint64 // Submissions rejected with queue-full
	Errors      atomic.Uint64 // Completions carrying a negative result

	// In-flight tracking
	Inflight    atomic.Int64  // Operations submitted but not completed
	MaxInflight atomic.Int64  // High-water mark of Inflight
	EnterCalls  atomic.Uint64 // Kernel enter syscalls issued

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative submit-to-complete latency
	OpCount        atomic.Uint64 // Operations measured (for averages)

	// Latency histogram buckets (cumulative counts); bucket[i] counts
	// operations with latency <= LatencyBuckets[i].
	LatencyHist [numLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // Instance start timestamp (UnixNano)
	StopTime  atomic.Int64 // Instance stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmission records one accepted submission.
func (m *Metrics) RecordSubmission() {
	m.Submissions.Add(1)
	cur := m.Inflight.Add(1)
	for {
		max := m.MaxInflight.Load()
		if cur <= max {
			break
		}
		if m.MaxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
}

// RecordCompletion records a completion delivered to a caller.
func (m *Metrics) RecordCompletion(latencyNs uint64, success bool) {
	m.Completions.Add(1)
	m.Inflight.Add(-1)
	if !success {
		m.Errors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordDiscarded records a companion completion absorbed without a caller.
func (m *Metrics) RecordDiscarded() {
	m.Discarded.Add(1)
	m.Inflight.Add(-1)
}

// RecordTimeout records a bounded wait expiring.
func (m *Metrics) RecordTimeout() {
	m.Timeouts.Add(1)
}

// RecordQueueFull records a queue-full rejection.
func (m *Metrics) RecordQueueFull() {
	m.QueueFull.Add(1)
}

// RecordEnter records one enter syscall.
func (m *Metrics) RecordEnter() {
	m.EnterCalls.Add(1)
}

// MarkStopped records instance shutdown time.
func (m *Metrics) MarkStopped() {
	m.StopTime.Store(time.Now().UnixNano())
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bound := range LatencyBuckets {
		if latencyNs <= bound {
			m.LatencyHist[i].Add(1)
		}
	}
}

// AverageLatencyNs returns the mean submit-to-complete latency.
func (m *Metrics) AverageLatencyNs() uint64 {
	count := m.OpCount.Load()
	if count == 0 {
		return 0
	}
	return m.TotalLatencyNs.Load() / count
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Submissions    uint64
	Completions    uint64
	Discarded      uint64
	Timeouts       uint64
	QueueFull      uint64
	Errors         uint64
	Inflight       int64
	MaxInflight    int64
	EnterCalls     uint64
	AvgLatencyNs   uint64
	LatencyBuckets [numLatencyBuckets]uint64
	Uptime         time.Duration
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Submissions:  m.Submissions.Load(),
		Completions:  m.Completions.Load(),
		Discarded:    m.Discarded.Load(),
		Timeouts:     m.Timeouts.Load(),
		QueueFull:    m.QueueFull.Load(),
		Errors:       m.Errors.Load(),
		Inflight:     m.Inflight.Load(),
		MaxInflight:  m.MaxInflight.Load(),
		EnterCalls:   m.EnterCalls.Load(),
		AvgLatencyNs: m.AverageLatencyNs(),
	}
	for i := range s.LatencyBuckets {
		s.LatencyBuckets[i] = m.LatencyHist[i].Load()
	}
	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	s.Uptime = time.Duration(stop - m.StartTime.Load())
	return s
}
