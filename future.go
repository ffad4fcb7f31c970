package uring

import "sync"

// Future is the handle a WorkQueue caller blocks on. It is fulfilled
// exactly once by the completion loop, or failed when the ring goes away
// underneath it.
type Future struct {
	done chan struct{}
	once sync.Once
	c    Completion
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(c Completion) {
	f.once.Do(func() {
		f.c = c
		close(f.done)
	})
}

func (f *Future) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the completion arrives. The error is non-nil only
// when the queue could not produce a completion at all (closed ring,
// rejected submission); a kernel-level failure still yields a completion
// whose Res carries the negated errno.
func (f *Future) Wait() (Completion, error) {
	<-f.done
	return f.c, f.err
}
