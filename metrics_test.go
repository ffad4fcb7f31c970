package uring

import (
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmission()
	m.RecordSubmission()
	m.RecordCompletion(uint64(time.Millisecond), true)
	m.RecordCompletion(uint64(3*time.Millisecond), false)
	m.RecordQueueFull()
	m.RecordTimeout()
	m.RecordDiscarded()
	m.RecordEnter()

	s := m.Snapshot()
	if s.Submissions != 2 {
		t.Errorf("submissions = %d, want 2", s.Submissions)
	}
	if s.Completions != 2 {
		t.Errorf("completions = %d, want 2", s.Completions)
	}
	if s.Errors != 1 {
		t.Errorf("errors = %d, want 1", s.Errors)
	}
	if s.QueueFull != 1 || s.Timeouts != 1 || s.Discarded != 1 || s.EnterCalls != 1 {
		t.Errorf("counters: %+v", s)
	}
	if s.AvgLatencyNs != uint64(2*time.Millisecond) {
		t.Errorf("avg latency = %d, want %d", s.AvgLatencyNs, 2*time.Millisecond)
	}
}

func TestMetricsInflightHighWater(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 5; i++ {
		m.RecordSubmission()
	}
	m.RecordCompletion(1, true)
	m.RecordCompletion(1, true)

	s := m.Snapshot()
	if s.Inflight != 3 {
		t.Errorf("inflight = %d, want 3", s.Inflight)
	}
	if s.MaxInflight != 5 {
		t.Errorf("max inflight = %d, want 5", s.MaxInflight)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmission()
	m.RecordCompletion(uint64(500*time.Nanosecond), true)
	m.RecordSubmission()
	m.RecordCompletion(uint64(5*time.Microsecond), true)

	// Buckets are cumulative: each counts samples at or below its bound.
	s := m.Snapshot()
	if s.LatencyBuckets[0] != 1 {
		t.Errorf("1us bucket = %d, want 1", s.LatencyBuckets[0])
	}
	if s.LatencyBuckets[1] != 2 {
		t.Errorf("10us bucket = %d, want 2", s.LatencyBuckets[1])
	}
	if last := s.LatencyBuckets[len(s.LatencyBuckets)-1]; last != 2 {
		t.Errorf("10s bucket = %d, want 2", last)
	}
}

func TestMetricsZeroAverage(t *testing.T) {
	m := NewMetrics()
	if got := m.AverageLatencyNs(); got != 0 {
		t.Errorf("average with no samples = %d, want 0", got)
	}
}

func TestMetricsUptimeStopsOnMark(t *testing.T) {
	m := NewMetrics()
	m.MarkStopped()
	u := m.Snapshot().Uptime
	time.Sleep(10 * time.Millisecond)
	if m.Snapshot().Uptime != u {
		t.Error("uptime kept growing after MarkStopped")
	}
}
