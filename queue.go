package uring

import "time"

// Driver is the surface the blocking adapters need from the core ring. It
// is satisfied by *Ring and, under the giouring build tag, by the
// alternate driver; tests substitute an in-process fake.
type Driver interface {
	// Submit serializes a descriptor into the next submission slot and
	// returns its correlation id. Fails with ErrQueueFull when the ring
	// has no free slots.
	Submit(d *Descriptor) (uint64, error)
	// Enter flushes toSubmit pending submissions and, when minComplete
	// is non-zero, blocks for that many completions. Returns the number
	// of submissions the kernel accepted.
	Enter(toSubmit, minComplete uint32, flags uint32) (uint32, error)
	// PollCompletion drains one completion, if any.
	PollCompletion() (Completion, bool)
	// SQCapacity returns the effective submission queue depth.
	SQCapacity() uint32
	// SQFree returns the number of free submission slots.
	SQFree() uint32
	// Close releases the ring.
	Close() error
}

// Queue turns the asynchronous ring into a blocking call interface. Two
// strategies implement it: NewSyncQueue serves one caller at a time on the
// caller's own goroutine; NewWorkQueue shares one ring between many
// concurrent callers via background submission and completion loops. The
// strategy is chosen by explicit construction, not discovered at runtime.
type Queue interface {
	// SubmitAndWait submits one descriptor and blocks until its
	// completion arrives.
	SubmitAndWait(d *Descriptor) (Completion, error)
	// SubmitAndWaitTimeout bounds the wait by racing a linked timeout
	// entry against the operation. An expired wait returns ErrTimeout
	// and the operation is cancelled by the kernel, never left half
	// delivered.
	SubmitAndWaitTimeout(d *Descriptor, timeout time.Duration) (Completion, error)
	// Close shuts the queue down. Whether in-flight work drains first
	// depends on the strategy.
	Close() error
}

var (
	_ Queue = (*SyncQueue)(nil)
	_ Queue = (*WorkQueue)(nil)
)
