package uring

import (
	"syscall"
	"time"

	"github.com/ringway/go-uring/internal/logging"
)

// SyncQueue turns one submit+complete round-trip into a synchronous call.
// It supports exactly one in-flight operation: callers must serialize
// externally (typically one SyncQueue per goroutine), since neither the
// queue nor the driver underneath implements mutual exclusion.
type SyncQueue struct {
	ring    Driver
	log     *logging.Logger
	metrics *Metrics

	// broken is set after a correlation mismatch. The single-in-flight
	// invariant was violated, so every later answer would be suspect.
	broken bool
}

// NewSyncQueue wraps a driver in the single-threaded blocking strategy.
func NewSyncQueue(ring Driver) *SyncQueue {
	return &SyncQueue{
		ring:    ring,
		log:     logging.Default(),
		metrics: NewMetrics(),
	}
}

// Metrics returns the queue's counters.
func (q *SyncQueue) Metrics() *Metrics { return q.metrics }

// SubmitAndWait submits d, flushes it, and blocks for exactly one
// completion. A completion that does not carry the submitted correlation
// id is an unrecoverable internal-consistency violation: the queue poisons
// itself instead of guessing.
func (q *SyncQueue) SubmitAndWait(d *Descriptor) (Completion, error) {
	if q.broken {
		return Completion{}, NewError("SUBMIT_WAIT", ErrCodeCorrelation,
			"queue poisoned by an earlier correlation mismatch")
	}

	id, err := q.ring.Submit(d)
	if err != nil {
		if IsQueueFull(err) {
			q.metrics.RecordQueueFull()
		}
		return Completion{}, err
	}
	q.metrics.RecordSubmission()
	start := time.Now()

	if _, err := q.ring.Enter(1, 1, 0); err != nil {
		return Completion{}, err
	}
	q.metrics.RecordEnter()

	c, err := q.nextCompletion()
	if err != nil {
		return Completion{}, err
	}
	if c.UserData != id {
		q.broken = true
		q.log.Error("completion does not match the single in-flight submission",
			"submitted", id, "completed", c.UserData)
		return Completion{}, &Error{
			Op:   "SUBMIT_WAIT",
			ID:   c.UserData,
			Code: ErrCodeCorrelation,
			Msg:  "completion for an operation this queue never submitted",
		}
	}

	latency := uint64(time.Since(start))
	q.metrics.RecordCompletion(latency, c.Res >= 0)
	if c.Res < 0 {
		return c, CompletionError(d.op.String(), id, syscall.Errno(-c.Res))
	}
	return c, nil
}

// SubmitAndWaitTimeout bounds the wait by linking a timeout entry behind
// the primary descriptor. The pair is submitted together and both
// completions are collected: if the timer fired, the primary was cancelled
// by the kernel and the call fails with ErrTimeout instead of surfacing a
// stale result.
func (q *SyncQueue) SubmitAndWaitTimeout(d *Descriptor, timeout time.Duration) (Completion, error) {
	if timeout <= 0 {
		return q.SubmitAndWait(d)
	}
	if q.broken {
		return Completion{}, NewError("SUBMIT_WAIT", ErrCodeCorrelation,
			"queue poisoned by an earlier correlation mismatch")
	}
	// The linked pair needs two adjacent slots; refuse up front rather
	// than strand a half-submitted link.
	if q.ring.SQFree() < 2 {
		q.metrics.RecordQueueFull()
		return Completion{}, ErrQueueFull
	}

	d.Link()
	timer := LinkTimeout(timeout)

	id, err := q.ring.Submit(d)
	if err != nil {
		return Completion{}, err
	}
	timerID, err := q.ring.Submit(timer)
	if err != nil {
		return Completion{}, err
	}
	q.metrics.RecordSubmission()
	start := time.Now()

	if _, err := q.ring.Enter(2, 2, 0); err != nil {
		return Completion{}, err
	}
	q.metrics.RecordEnter()

	var primary, timerDone Completion
	havePrimary, haveTimer := false, false
	for !havePrimary || !haveTimer {
		c, err := q.nextCompletion()
		if err != nil {
			return Completion{}, err
		}
		switch c.UserData {
		case id:
			primary, havePrimary = c, true
		case timerID:
			timerDone, haveTimer = c, true
		default:
			q.broken = true
			return Completion{}, &Error{
				Op:   "SUBMIT_WAIT",
				ID:   c.UserData,
				Code: ErrCodeCorrelation,
				Msg:  "completion for an operation this queue never submitted",
			}
		}
	}

	if timerDone.Res == -int32(syscall.ETIME) {
		// The timer won the race; the kernel cancelled the primary.
		q.metrics.RecordTimeout()
		q.metrics.RecordDiscarded()
		return Completion{}, &Error{
			Op:    d.op.String(),
			ID:    id,
			Code:  ErrCodeTimeout,
			Errno: syscall.ETIME,
			Msg:   "operation cancelled by its linked timeout",
		}
	}

	// Primary finished first; the timer's cancellation completion is
	// absorbed here and never surfaces.
	latency := uint64(time.Since(start))
	q.metrics.RecordCompletion(latency, primary.Res >= 0)
	if primary.Res < 0 {
		return primary, CompletionError(d.op.String(), id, syscall.Errno(-primary.Res))
	}
	return primary, nil
}

// nextCompletion polls the ring, blocking via enter when it is empty.
func (q *SyncQueue) nextCompletion() (Completion, error) {
	for {
		if c, ok := q.ring.PollCompletion(); ok {
			return c, nil
		}
		if _, err := q.ring.Enter(0, 1, 0); err != nil {
			return Completion{}, err
		}
	}
}

// Close releases the underlying ring.
func (q *SyncQueue) Close() error {
	q.metrics.MarkStopped()
	return q.ring.Close()
}
