package uring

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ringway/go-uring/internal/constants"
	"github.com/ringway/go-uring/internal/logging"
)

// WorkQueue is the multi-threaded blocking adapter. Any number of
// goroutines may call Submit or SubmitAndWait concurrently; the queue
// funnels their descriptors through a bounded hand-off channel to a
// dedicated submission goroutine, and a dedicated completion goroutine
// fulfils the per-operation futures. The two loop goroutines are the
// only callers of the underlying Driver, so the driver's no-locking
// contract holds.
type WorkQueue struct {
	ring    Driver
	log     *logging.Logger
	metrics *Metrics

	handoff chan *submission
	quit    chan struct{}

	pendingMu sync.Mutex
	pending   map[uint64]*pendingOp

	closed atomic.Bool
	forced atomic.Bool
	// senders counts Submit calls between their closed-flag check and
	// the hand-off send, so close can drain after the last racing
	// sender has either parked its submission or given up.
	senders   sync.WaitGroup
	subDone   chan struct{}
	compDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// submission is one hand-off unit. A timed operation travels as a
// two-descriptor batch so the linked pair lands in adjacent SQ slots;
// the companion timeout has no future and its completion is discarded.
type submission struct {
	descs []*Descriptor
	futs  []*Future
}

type pendingOp struct {
	fut         *Future
	op          Op
	sentinel    bool
	submittedAt time.Time
}

// WorkQueueConfig tunes the adapter. The zero value picks defaults.
type WorkQueueConfig struct {
	// HandoffCapacity bounds the submission hand-off channel. Callers
	// block when it fills, which is the back-pressure mechanism.
	HandoffCapacity int

	Logger *logging.Logger
}

// NewWorkQueue starts the submission and completion loops over ring.
// The queue owns the ring from here on; Close tears both down.
func NewWorkQueue(ring Driver, cfg *WorkQueueConfig) *WorkQueue {
	capacity := constants.DefaultHandoffCapacity
	log := logging.Default()
	if cfg != nil {
		if cfg.HandoffCapacity > 0 {
			capacity = cfg.HandoffCapacity
		}
		if cfg.Logger != nil {
			log = cfg.Logger
		}
	}
	w := &WorkQueue{
		ring:     ring,
		log:      log,
		metrics:  NewMetrics(),
		handoff:  make(chan *submission, capacity),
		quit:     make(chan struct{}),
		pending:  make(map[uint64]*pendingOp),
		subDone:  make(chan struct{}),
		compDone: make(chan struct{}),
	}
	go w.submissionLoop()
	go w.completionLoop()
	return w
}

// Metrics exposes the queue's counters.
func (w *WorkQueue) Metrics() *Metrics { return w.metrics }

// enqueue hands a submission to the submission loop. The senders group
// brackets the closed-flag check and the send: close waits for it before
// its final drain, so a send that races the shutdown is either received
// by the loop or found parked in the channel and failed there.
func (w *WorkQueue) enqueue(sub *submission) error {
	w.senders.Add(1)
	defer w.senders.Done()
	if w.closed.Load() {
		return NewError("SUBMIT", ErrCodeRingClosed, "work queue is closed")
	}
	select {
	case w.handoff <- sub:
		return nil
	case <-w.subDone:
		return NewError("SUBMIT", ErrCodeRingClosed, "work queue is closed")
	}
}

// Submit hands the descriptor to the submission loop and returns a
// future for its completion. Blocks only when the hand-off channel is
// full.
func (w *WorkQueue) Submit(d *Descriptor) (*Future, error) {
	fut := newFuture()
	sub := &submission{descs: []*Descriptor{d}, futs: []*Future{fut}}
	if err := w.enqueue(sub); err != nil {
		return nil, err
	}
	return fut, nil
}

// SubmitAndWait submits the descriptor and blocks until its completion
// arrives. The returned error follows the SyncQueue convention: nil for
// a non-negative result, a completion error otherwise, with the raw
// completion returned either way once one exists.
func (w *WorkQueue) SubmitAndWait(d *Descriptor) (Completion, error) {
	fut, err := w.Submit(d)
	if err != nil {
		return Completion{}, err
	}
	c, err := fut.Wait()
	if err != nil {
		return c, err
	}
	if c.Res < 0 {
		return c, CompletionError(d.Op().String(), c.UserData, c.Errno())
	}
	return c, nil
}

// SubmitAndWaitTimeout submits the descriptor linked to a timeout entry.
// If the timer fires first the kernel cancels the primary, which then
// completes with -ECANCELED; that is reported as a timeout error. A
// non-positive timeout degenerates to SubmitAndWait.
func (w *WorkQueue) SubmitAndWaitTimeout(d *Descriptor, timeout time.Duration) (Completion, error) {
	if timeout <= 0 {
		return w.SubmitAndWait(d)
	}
	d.Link()
	timer := LinkTimeout(timeout)
	fut := newFuture()
	sub := &submission{
		descs: []*Descriptor{d, timer},
		futs:  []*Future{fut, nil},
	}
	if err := w.enqueue(sub); err != nil {
		return Completion{}, err
	}
	c, err := fut.Wait()
	if err != nil {
		return c, err
	}
	if c.Res == -int32(syscall.ECANCELED) {
		w.metrics.RecordTimeout()
		e := NewErrorWithErrno(d.Op().String(), ErrCodeTimeout, syscall.ETIME)
		e.Msg = "operation timed out"
		e.ID = c.UserData
		return c, e
	}
	if c.Res < 0 {
		return c, CompletionError(d.Op().String(), c.UserData, c.Errno())
	}
	return c, nil
}

// Close performs an orderly shutdown: a no-op sentinel flows through the
// hand-off channel and the ring behind everything already queued, the
// submission loop exits after submitting it, and the completion loop
// exits once the sentinel's completion arrives and the pending table is
// empty. Then the ring is closed. Safe to call more than once.
func (w *WorkQueue) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		sentinel := Nop()
		sentinel.sentinel = true
		fut := newFuture()
		sub := &submission{descs: []*Descriptor{sentinel}, futs: []*Future{fut}}
		select {
		case w.handoff <- sub:
		case <-w.subDone:
		}
		<-w.subDone
		<-w.compDone
		// With subDone closed every racing Submit resolves its send;
		// after that, anything still parked in the channel is ours to
		// fail.
		w.senders.Wait()
		w.drainHandoff()
		w.metrics.MarkStopped()
		w.closeErr = w.ring.Close()
	})
	return w.closeErr
}

// ForceClose abandons in-flight work immediately: every in-flight and
// queued operation has its future failed with a ring-closed error, and
// the ring is torn down once both loops have stopped. The submission
// loop fires a wake-up nop on its way out so a completion loop parked
// inside a blocking enter sees a CQE instead of waiting on a ring nobody
// will feed again.
func (w *WorkQueue) ForceClose() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.forced.Store(true)
		close(w.quit)
		<-w.subDone
		<-w.compDone
		w.senders.Wait()
		w.drainHandoff()
		w.failAllPending()
		w.metrics.MarkStopped()
		w.closeErr = w.ring.Close()
	})
	return w.closeErr
}

// --- submission loop -------------------------------------------------

func (w *WorkQueue) submissionLoop() {
	defer close(w.subDone)
	defer w.drainHandoff()

	free := int(w.ring.SQFree())
	unflushed := uint32(0)
	closing := false

	flush := func() bool {
		if unflushed == 0 {
			return true
		}
		n, err := w.ring.Enter(unflushed, 0, 0)
		if err != nil {
			if !w.forced.Load() {
				w.log.Error("submission flush failed", "error", err)
			}
			w.failAllPending()
			return false
		}
		w.metrics.RecordEnter()
		free += int(n)
		unflushed -= n
		return true
	}

	failBatch := func(sub *submission, err error) {
		for _, fut := range sub.futs {
			if fut != nil {
				fut.fail(err)
			}
		}
	}

	// reserve blocks until n submission slots are free at once. A link
	// chain cannot span two enter calls, so a multi-descriptor batch
	// must never start until every slot it needs exists.
	reserve := func(n int) bool {
		for free < n {
			if !flush() {
				return false
			}
			if free >= n {
				return true
			}
			if _, err := w.ring.Enter(0, 0, EnterSQWait); err != nil {
				if !w.forced.Load() {
					w.log.Error("sq-wait failed", "error", err)
				}
				w.failAllPending()
				return false
			}
			w.metrics.RecordEnter()
			free = int(w.ring.SQFree())
		}
		return true
	}

	// submitBatch places every descriptor of sub into adjacent slots
	// with no flush in between. Returns false when the ring is dead.
	submitBatch := func(sub *submission) bool {
		need := len(sub.descs)
		if need > int(w.ring.SQCapacity()) {
			w.metrics.RecordQueueFull()
			failBatch(sub, NewError("SUBMIT", ErrCodeQueueFull,
				"linked batch larger than the ring"))
			return true
		}
		for {
			if !reserve(need) {
				failBatch(sub, NewError("SUBMIT", ErrCodeRingClosed, "ring closed"))
				return false
			}
			var placed []uint64
			batchOK := true
			for i, d := range sub.descs {
				id, err := w.ring.Submit(d)
				if err != nil {
					if IsQueueFull(err) && len(placed) == 0 {
						// Counter drifted from the ring; resync and
						// retry the whole batch.
						w.metrics.RecordQueueFull()
						free = 0
						batchOK = false
						break
					}
					// A rejected entry mid-chain would leave a dangling
					// link: drop the records already placed so their
					// completions are discarded, and fail the caller.
					for _, pid := range placed {
						w.takePending(pid)
					}
					failBatch(sub, err)
					return true
				}
				free--
				unflushed++
				w.trackPending(id, &pendingOp{
					fut:         sub.futs[i],
					op:          d.Op(),
					sentinel:    d.sentinel,
					submittedAt: time.Now(),
				})
				w.metrics.RecordSubmission()
				placed = append(placed, id)
			}
			if batchOK {
				return true
			}
		}
	}

	for !closing {
		var sub *submission
		select {
		case sub = <-w.handoff:
		case <-w.quit:
			// Forced close: fire one nop so a completion loop parked
			// in a blocking enter wakes up and sees the forced flag.
			if _, err := w.ring.Submit(Nop()); err == nil {
				w.ring.Enter(1, 0, 0)
			}
			return
		}
		for {
			for _, d := range sub.descs {
				if d.sentinel {
					closing = true
				}
			}
			if !submitBatch(sub) {
				return
			}
			if closing {
				break
			}
			// Opportunistic drain: batch whatever else is already
			// queued before paying for the enter syscall.
			if free > 1 {
				select {
				case sub = <-w.handoff:
					continue
				default:
				}
			}
			break
		}
		if !flush() {
			return
		}
	}
}

// drainHandoff fails anything a racing caller managed to enqueue after
// the sentinel. Runs after subDone unblocks new senders.
func (w *WorkQueue) drainHandoff() {
	for {
		select {
		case sub := <-w.handoff:
			for _, fut := range sub.futs {
				if fut != nil {
					fut.fail(NewError("SUBMIT", ErrCodeRingClosed, "work queue is closed"))
				}
			}
		default:
			return
		}
	}
}

// --- completion loop --------------------------------------------------

func (w *WorkQueue) completionLoop() {
	defer close(w.compDone)

	var closer *Future
	closing := false

	for {
		c, ok := w.ring.PollCompletion()
		if !ok {
			if closing && w.pendingLen() == 0 {
				// Sentinel already reaped; nothing can arrive anymore.
				break
			}
			if w.forced.Load() {
				w.failAllPending()
				return
			}
			if _, err := w.ring.Enter(0, 1, 0); err != nil {
				if !w.forced.Load() {
					w.log.Error("completion wait failed", "error", err)
				}
				w.failAllPending()
				return
			}
			w.metrics.RecordEnter()
			continue
		}

		rec := w.takePending(c.UserData)
		if rec == nil {
			if !w.forced.Load() {
				w.log.Warn("completion for unknown correlation id", "id", c.UserData)
			}
			w.metrics.RecordDiscarded()
			continue
		}
		switch {
		case rec.sentinel:
			closer = rec.fut
			closing = true
		case rec.fut != nil:
			latency := time.Since(rec.submittedAt)
			w.metrics.RecordCompletion(uint64(latency.Nanoseconds()), c.Res >= 0)
			rec.fut.complete(c)
		default:
			w.metrics.RecordDiscarded()
		}

		if closing && w.pendingLen() == 0 {
			break
		}
	}
	if closer != nil {
		closer.complete(Completion{})
	}
}

// --- pending table ----------------------------------------------------

func (w *WorkQueue) trackPending(id uint64, rec *pendingOp) {
	w.pendingMu.Lock()
	w.pending[id] = rec
	w.pendingMu.Unlock()
}

func (w *WorkQueue) takePending(id uint64) *pendingOp {
	w.pendingMu.Lock()
	rec := w.pending[id]
	delete(w.pending, id)
	w.pendingMu.Unlock()
	return rec
}

func (w *WorkQueue) pendingLen() int {
	w.pendingMu.Lock()
	n := len(w.pending)
	w.pendingMu.Unlock()
	return n
}

func (w *WorkQueue) failAllPending() {
	w.pendingMu.Lock()
	for id, rec := range w.pending {
		if rec.fut != nil {
			rec.fut.fail(NewError(rec.op.String(), ErrCodeRingClosed, "ring closed with operation in flight"))
		}
		delete(w.pending, id)
	}
	w.pendingMu.Unlock()
}
