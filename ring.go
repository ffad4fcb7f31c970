// Package uring exposes an io_uring submission/completion ring with two
// blocking adapters: a single-threaded synchronous queue and a
// multi-threaded producer/consumer work queue sharing one ring across many
// callers.
package uring

import (
	"unsafe"

	"github.com/ringway/go-uring/internal/constants"
	"github.com/ringway/go-uring/internal/logging"
	"github.com/ringway/go-uring/internal/ringbuf"
	"github.com/ringway/go-uring/internal/uapi"
)

// Enter flags accepted by Ring.Enter.
const (
	// EnterGetEvents blocks the enter call until the requested number of
	// completions is available.
	EnterGetEvents = uapi.EnterGetEvents
	// EnterSQWait blocks the enter call until at least one submission
	// queue slot is free.
	EnterSQWait = uapi.EnterSQWait
)

// Config describes how to open a ring.
type Config struct {
	// Entries is the requested submission queue depth; the kernel rounds
	// it up to a power of two.
	Entries uint32
	// FixedBuffers, when non-zero, pre-registers that many buffers of
	// FixedBufferSize bytes for READ_FIXED/WRITE_FIXED operations.
	FixedBuffers    uint32
	FixedBufferSize uint32
	// Flags are raw setup flags passed through to the kernel.
	Flags uint32
}

// DefaultConfig returns the default ring geometry.
func DefaultConfig() Config {
	return Config{
		Entries:         constants.DefaultEntries,
		FixedBufferSize: constants.DefaultFixedBufferSize,
	}
}

// Ring is the core driver: it owns the kernel ring file descriptor, the
// three shared memory mappings, and the raw submit/enter/poll primitives.
// It is the only component that talks to the kernel.
//
// The driver performs no internal locking. Exactly one goroutine may call
// Submit/Enter concurrently and exactly one may call PollCompletion; the
// adapters impose that discipline. This keeps the driver a thin
// single-writer/single-reader core and pushes concurrency policy up a
// layer.
type Ring struct {
	fd     int
	params uapi.Params

	sq *ringbuf.SubmissionQueue
	cq *ringbuf.CompletionQueue

	// Mappings retained for munmap. cqMem is nil when the kernel exposes
	// both rings through a single mapping (FEAT_SINGLE_MMAP).
	sqMem  []byte
	cqMem  []byte
	sqeMem []byte

	nextID uint64
	bufs   *bufferPool
	log    *logging.Logger
}

// Open sets up a ring, maps the three kernel regions and optionally
// registers a fixed-buffer pool. A setup or mapping failure leaves no
// partially usable ring behind.
func Open(cfg Config) (*Ring, error) {
	if cfg.Entries == 0 {
		cfg.Entries = constants.DefaultEntries
	}
	if cfg.FixedBuffers > 0 && cfg.FixedBufferSize == 0 {
		cfg.FixedBufferSize = constants.DefaultFixedBufferSize
	}

	r := &Ring{
		fd:     -1,
		nextID: constants.CorrelationBase,
		params: uapi.Params{Flags: cfg.Flags},
	}

	fd, err := uapi.Setup(cfg.Entries, &r.params)
	if err != nil {
		return nil, &Error{Op: "SETUP", Code: ErrCodeSetupFailed, Msg: err.Error(), Inner: err}
	}
	r.fd = fd
	r.log = logging.Default().WithRing(fd)

	if err := r.mapRings(); err != nil {
		r.teardown()
		return nil, err
	}

	if cfg.FixedBuffers > 0 {
		pool, err := newBufferPool(fd, cfg.FixedBuffers, cfg.FixedBufferSize)
		if err != nil {
			r.teardown()
			return nil, err
		}
		r.bufs = pool
	}

	r.log.Debug("ring opened",
		"sq_entries", r.params.SQEntries,
		"cq_entries", r.params.CQEntries,
		"fixed_buffers", cfg.FixedBuffers)
	return r, nil
}

// mapRings maps the SQ ring metadata, the CQ ring, and the raw submission
// entry array, honoring the single-mapping feature when the kernel
// reports it.
func (r *Ring) mapRings() error {
	p := &r.params

	sqSize := p.SQOff.Array + p.SQEntries*4
	cqSize := p.CQOff.CQEs + p.CQEntries*uapi.CQEntrySize
	singleMap := p.Features&uapi.FeatSingleMmap != 0
	if singleMap && cqSize > sqSize {
		sqSize = cqSize
	}

	sqMem, err := uapi.Mmap(r.fd, uapi.OffSQRing, int(sqSize))
	if err != nil {
		return &Error{Op: "MMAP_SQ", Code: ErrCodeSetupFailed, Msg: err.Error(), Inner: err}
	}
	r.sqMem = sqMem
	sqBase := unsafe.Pointer(&sqMem[0])

	cqBase := sqBase
	if !singleMap {
		cqMem, err := uapi.Mmap(r.fd, uapi.OffCQRing, int(cqSize))
		if err != nil {
			return &Error{Op: "MMAP_CQ", Code: ErrCodeSetupFailed, Msg: err.Error(), Inner: err}
		}
		r.cqMem = cqMem
		cqBase = unsafe.Pointer(&cqMem[0])
	}

	sqeMem, err := uapi.Mmap(r.fd, uapi.OffSQEs, int(p.SQEntries*uapi.SQEntrySize))
	if err != nil {
		return &Error{Op: "MMAP_SQES", Code: ErrCodeSetupFailed, Msg: err.Error(), Inner: err}
	}
	r.sqeMem = sqeMem

	// Geometry comes from the kernel-reported offsets, not from the
	// requested entry count: the kernel may have rounded it up.
	sqMask := *(*uint32)(unsafe.Add(sqBase, uintptr(p.SQOff.RingMask)))
	sqEntries := *(*uint32)(unsafe.Add(sqBase, uintptr(p.SQOff.RingEntries)))
	r.sq = ringbuf.NewSubmissionQueue(
		(*uint32)(unsafe.Add(sqBase, uintptr(p.SQOff.Head))),
		(*uint32)(unsafe.Add(sqBase, uintptr(p.SQOff.Tail))),
		(*uint32)(unsafe.Add(sqBase, uintptr(p.SQOff.Flags))),
		(*uint32)(unsafe.Add(sqBase, uintptr(p.SQOff.Dropped))),
		unsafe.Add(sqBase, uintptr(p.SQOff.Array)),
		unsafe.Pointer(&sqeMem[0]),
		sqEntries, sqMask)

	cqMask := *(*uint32)(unsafe.Add(cqBase, uintptr(p.CQOff.RingMask)))
	cqEntries := *(*uint32)(unsafe.Add(cqBase, uintptr(p.CQOff.RingEntries)))
	r.cq = ringbuf.NewCompletionQueue(
		(*uint32)(unsafe.Add(cqBase, uintptr(p.CQOff.Head))),
		(*uint32)(unsafe.Add(cqBase, uintptr(p.CQOff.Tail))),
		(*uint32)(unsafe.Add(cqBase, uintptr(p.CQOff.Overflow))),
		unsafe.Add(cqBase, uintptr(p.CQOff.CQEs)),
		cqEntries, cqMask)

	return nil
}

// Submit serializes the descriptor into the next submission slot and
// assigns it a fresh correlation id. The entry is not visible to the
// kernel until Enter flushes it. Fails with ErrQueueFull when every slot
// is occupied; the caller may retry after completions drain.
func (r *Ring) Submit(d *Descriptor) (uint64, error) {
	if r.fd < 0 {
		return 0, NewError("SUBMIT", ErrCodeRingClosed, "ring is closed")
	}
	if err := d.validate(); err != nil {
		return 0, err
	}
	if d.op == OpReadFixed || d.op == OpWriteFixed {
		if err := r.checkFixed(d); err != nil {
			return 0, err
		}
	}
	if r.sq.Full() {
		return 0, ErrQueueFull
	}

	id := r.nextID
	r.nextID++

	var sqe uapi.SQEntry
	d.encode(&sqe, id)
	if !r.sq.Publish(&sqe) {
		return 0, ErrQueueFull
	}
	return id, nil
}

// Enter is the single syscall that both flushes pending submissions to the
// kernel and, when minComplete > 0, blocks until that many completions are
// available. Interrupted syscalls are retried transparently; every other
// error propagates. Returns the number of submissions the kernel accepted.
func (r *Ring) Enter(toSubmit, minComplete uint32, flags uint32) (uint32, error) {
	if minComplete > 0 {
		flags |= uapi.EnterGetEvents
	}
	n, err := uapi.Enter(r.fd, toSubmit, minComplete, flags)
	if err != nil {
		return 0, WrapError("ENTER", err)
	}
	return n, nil
}

// PollCompletion drains one entry from the completion ring, if any.
func (r *Ring) PollCompletion() (Completion, bool) {
	if r.fd < 0 {
		return Completion{}, false
	}
	e, ok := r.cq.TryConsume()
	if !ok {
		return Completion{}, false
	}
	return Completion{UserData: e.UserData, Res: e.Res, Flags: e.Flags}, true
}

// SQCapacity returns the effective submission queue depth.
func (r *Ring) SQCapacity() uint32 {
	if r.fd < 0 {
		return 0
	}
	return r.sq.Capacity()
}

// SQFree returns the number of free submission slots.
func (r *Ring) SQFree() uint32 {
	if r.fd < 0 {
		return 0
	}
	return r.sq.Free()
}

// SQOccupied returns the number of submissions not yet consumed by the
// kernel.
func (r *Ring) SQOccupied() uint32 {
	if r.fd < 0 {
		return 0
	}
	return r.sq.Occupied()
}

// CQOccupied returns the number of completions waiting to be polled.
func (r *Ring) CQOccupied() uint32 {
	if r.fd < 0 {
		return 0
	}
	return r.cq.Occupied()
}

// Fd returns the ring file descriptor, usable as a MsgRing target.
func (r *Ring) Fd() int { return r.fd }

// GetRegisteredBuffer checks a buffer out of the fixed pool. Returns false
// when no pool was configured or the pool is exhausted.
func (r *Ring) GetRegisteredBuffer() (*FixedBuffer, bool) {
	if r.bufs == nil {
		return nil, false
	}
	return r.bufs.get()
}

// ReturnRegisteredBuffer puts a checked-out buffer back. Returning a
// buffer that is not checked out of this ring's pool is an invalid-argument
// error.
func (r *Ring) ReturnRegisteredBuffer(fb *FixedBuffer) error {
	if r.bufs == nil {
		return NewError("RETURN_BUFFER", ErrCodeInvalidArgument, "ring has no fixed buffer pool")
	}
	return r.bufs.put(fb)
}

// checkFixed rejects fixed-buffer operations that reference memory outside
// the registered pool, before any syscall is attempted.
func (r *Ring) checkFixed(d *Descriptor) error {
	if r.bufs == nil {
		return NewError("SUBMIT", ErrCodeInvalidArgument, "fixed operation without a registered pool")
	}
	return r.bufs.checkOwned(d.bufIndex, d.addr, d.length)
}

// Close releases the kernel ring file descriptor and every mapping. The
// instance must not be used afterwards; in particular callers must not
// submit after close.
func (r *Ring) Close() error {
	if r.fd < 0 {
		return nil
	}
	r.log.Debug("ring closing")
	return r.teardown()
}

func (r *Ring) teardown() error {
	var first error
	if r.bufs != nil {
		if err := r.bufs.release(); err != nil && first == nil {
			first = err
		}
		r.bufs = nil
	}
	if r.sqeMem != nil {
		if err := uapi.Munmap(r.sqeMem); err != nil && first == nil {
			first = err
		}
		r.sqeMem = nil
	}
	if r.cqMem != nil {
		if err := uapi.Munmap(r.cqMem); err != nil && first == nil {
			first = err
		}
		r.cqMem = nil
	}
	if r.sqMem != nil {
		if err := uapi.Munmap(r.sqMem); err != nil && first == nil {
			first = err
		}
		r.sqMem = nil
	}
	if r.fd >= 0 {
		if err := uapi.CloseFD(r.fd); err != nil && first == nil {
			first = err
		}
		r.fd = -1
	}
	if first != nil {
		return WrapError("CLOSE", first)
	}
	return nil
}
