// Package ringbuf implements the two circular queues an io_uring instance
// shares with the kernel. Head and tail are plain uint32 words inside the
// mapped region; the side owned by the kernel is always read with acquire
// semantics and the side published to the kernel is always written with a
// release store, because the kernel is a concurrent writer/reader of the
// opposite index regardless of how disciplined user space is.
//
// Both queues are single-writer/single-reader from the user-space side.
// The driver serializes producers on the submission queue and the adapters
// guarantee a single consumer on the completion queue.
package ringbuf

import (
	"sync/atomic"
	"unsafe"

	"github.com/ringway/go-uring/internal/uapi"
)

// SubmissionQueue is the request ring. User space produces at tail, the
// kernel consumes at head.
type SubmissionQueue struct {
	head    *uint32
	tail    *uint32
	flags   *uint32
	dropped *uint32
	array   unsafe.Pointer // uint32 index array
	slots   unsafe.Pointer // SQEntry array
	mask    uint32
	entries uint32
}

// NewSubmissionQueue wires a submission ring over memory the caller has
// already mapped. entries must be a power of two and mask = entries-1.
func NewSubmissionQueue(head, tail, flags, dropped *uint32, array, slots unsafe.Pointer, entries, mask uint32) *SubmissionQueue {
	return &SubmissionQueue{
		head:    head,
		tail:    tail,
		flags:   flags,
		dropped: dropped,
		array:   array,
		slots:   slots,
		mask:    mask,
		entries: entries,
	}
}

// Capacity returns the fixed number of slots in the ring.
func (q *SubmissionQueue) Capacity() uint32 { return q.entries }

// Occupied returns tail-head. The producer owns tail, so a plain read is
// enough there; head advances under the kernel and needs an acquiring load.
func (q *SubmissionQueue) Occupied() uint32 {
	return *q.tail - atomic.LoadUint32(q.head)
}

// Free returns the number of slots available to the producer.
func (q *SubmissionQueue) Free() uint32 { return q.entries - q.Occupied() }

// Full reports whether every slot is occupied.
func (q *SubmissionQueue) Full() bool { return q.Occupied() == q.entries }

// Flags returns the kernel-written SQ flag word (wakeup/overflow bits).
func (q *SubmissionQueue) Flags() uint32 {
	return atomic.LoadUint32(q.flags)
}

// Dropped returns the kernel's count of invalid entries it skipped.
func (q *SubmissionQueue) Dropped() uint32 {
	return atomic.LoadUint32(q.dropped)
}

// Publish copies e into the slot at tail&mask and then advances tail with
// a release store, so the kernel can never observe the new tail before the
// slot contents. Returns false when the ring is full; the tail is left
// untouched so the caller can retry after completions drain.
//
// Single-writer: the caller must hold exclusive submission rights.
func (q *SubmissionQueue) Publish(e *uapi.SQEntry) bool {
	tail := *q.tail
	if tail-atomic.LoadUint32(q.head) >= q.entries {
		return false
	}
	idx := tail & q.mask

	slot := (*uapi.SQEntry)(unsafe.Add(q.slots, uintptr(idx)*uintptr(uapi.SQEntrySize)))
	*slot = *e

	// The index array adds one level of indirection: slot i of the ring
	// points at SQE i. A fancier driver could reorder here; we keep the
	// identity mapping liburing uses for simple submission.
	arrSlot := (*uint32)(unsafe.Add(q.array, uintptr(idx)*4))
	*arrSlot = idx

	atomic.StoreUint32(q.tail, tail+1)
	return true
}

// CompletionQueue is the result ring. The kernel produces at tail, user
// space consumes at head.
type CompletionQueue struct {
	head     *uint32
	tail     *uint32
	overflow *uint32
	slots    unsafe.Pointer // CQEntry array
	mask     uint32
	entries  uint32
}

// NewCompletionQueue wires a completion ring over mapped memory.
func NewCompletionQueue(head, tail, overflow *uint32, slots unsafe.Pointer, entries, mask uint32) *CompletionQueue {
	return &CompletionQueue{
		head:     head,
		tail:     tail,
		overflow: overflow,
		slots:    slots,
		mask:     mask,
		entries:  entries,
	}
}

// Capacity returns the fixed number of slots in the ring.
func (q *CompletionQueue) Capacity() uint32 { return q.entries }

// Occupied returns the number of completions waiting to be consumed. Tail
// advances under the kernel, so it is read with acquire semantics.
func (q *CompletionQueue) Occupied() uint32 {
	return atomic.LoadUint32(q.tail) - *q.head
}

// Overflow returns the kernel's count of completions it could not post.
func (q *CompletionQueue) Overflow() uint32 {
	return atomic.LoadUint32(q.overflow)
}

// TryConsume copies out the entry at head&mask and advances head with a
// release store, which is what tells the kernel the slot may be reused.
// Returns false when the ring is empty.
//
// Single-reader: only one goroutine may consume.
func (q *CompletionQueue) TryConsume() (uapi.CQEntry, bool) {
	head := *q.head
	if head == atomic.LoadUint32(q.tail) {
		return uapi.CQEntry{}, false
	}
	slot := (*uapi.CQEntry)(unsafe.Add(q.slots, uintptr(head&q.mask)*uintptr(uapi.CQEntrySize)))
	e := *slot
	atomic.StoreUint32(q.head, head+1)
	return e, true
}
