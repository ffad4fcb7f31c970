package uring

import (
	"sync"
	"syscall"
)

// fakeEntry is one submission held by the fake driver.
type fakeEntry struct {
	id   uint64
	desc *Descriptor
}

// fakeDriver stands in for the kernel in adapter tests. Submissions
// stage in a bounded slice that models SQ occupancy; Enter moves them
// through a configurable handler that decides each completion's result.
// It tolerates the WorkQueue's two-goroutine call pattern, which is
// stricter than the Driver contract requires.
type fakeDriver struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity uint32
	nextID   uint64
	staged   []fakeEntry
	ready    []Completion
	closed   bool

	// handler turns a batch of accepted entries into completions. The
	// default completes everything with res 0 except linked timeout
	// companions, which lose the race and complete with -ECANCELED.
	handler func(batch []fakeEntry) []Completion

	// batches records what each flushing Enter call handed the kernel,
	// so tests can check link chains never straddle two enters.
	batches [][]fakeSubmitted

	submitCalls int
	enterCalls  int
}

// fakeSubmitted is the per-entry shape of one recorded enter batch.
type fakeSubmitted struct {
	op     Op
	linked bool
}

func newFakeDriver(capacity uint32) *fakeDriver {
	f := &fakeDriver{capacity: capacity, nextID: 64}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func defaultFakeHandler(batch []fakeEntry) []Completion {
	out := make([]Completion, 0, len(batch))
	for _, e := range batch {
		res := int32(0)
		if e.desc.Op() == OpLinkTimeout {
			res = -int32(syscall.ECANCELED)
		}
		out = append(out, Completion{UserData: e.id, Res: res})
	}
	return out
}

func (f *fakeDriver) Submit(d *Descriptor) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.closed {
		return 0, NewError("SUBMIT", ErrCodeRingClosed, "ring is closed")
	}
	if err := d.validate(); err != nil {
		return 0, err
	}
	if uint32(len(f.staged)) >= f.capacity {
		return 0, ErrQueueFull
	}
	id := f.nextID
	f.nextID++
	f.staged = append(f.staged, fakeEntry{id: id, desc: d})
	return id, nil
}

func (f *fakeDriver) Enter(toSubmit, minComplete uint32, flags uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enterCalls++
	if f.closed {
		return 0, WrapError("ENTER", syscall.EBADF)
	}

	accepted := uint32(len(f.staged))
	if toSubmit < accepted {
		accepted = toSubmit
	}
	if accepted > 0 {
		batch := f.staged[:accepted]
		rec := make([]fakeSubmitted, len(batch))
		for i, e := range batch {
			rec[i] = fakeSubmitted{op: e.desc.Op(), linked: e.desc.Linked()}
		}
		f.batches = append(f.batches, rec)
		h := f.handler
		if h == nil {
			h = defaultFakeHandler
		}
		f.ready = append(f.ready, h(batch)...)
		f.staged = append(f.staged[:0], f.staged[accepted:]...)
		f.cond.Broadcast()
	}

	for uint32(len(f.ready)) < minComplete {
		if f.closed {
			return accepted, WrapError("ENTER", syscall.EBADF)
		}
		f.cond.Wait()
	}
	return accepted, nil
}

func (f *fakeDriver) PollCompletion() (Completion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ready) == 0 {
		return Completion{}, false
	}
	c := f.ready[0]
	f.ready = f.ready[1:]
	return c, true
}

func (f *fakeDriver) SQCapacity() uint32 { return f.capacity }

func (f *fakeDriver) SQFree() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity - uint32(len(f.staged))
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
	return nil
}

// enterBatches copies the recorded per-enter submission batches.
func (f *fakeDriver) enterBatches() [][]fakeSubmitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]fakeSubmitted, len(f.batches))
	copy(out, f.batches)
	return out
}

// post injects a completion out of band, as the kernel would for an
// operation finishing on its own schedule.
func (f *fakeDriver) post(c Completion) {
	f.mu.Lock()
	f.ready = append(f.ready, c)
	f.cond.Broadcast()
	f.mu.Unlock()
}
