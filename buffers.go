package uring

import (
	"sync"
	"unsafe"

	"github.com/ringway/go-uring/internal/uapi"
)

// FixedBuffer is one slice of the pre-registered pool. Index identifies it
// to the kernel for READ_FIXED/WRITE_FIXED operations.
type FixedBuffer struct {
	Index uint16
	B     []byte
}

// bufferPool is a checkout/return free set over one contiguous anonymous
// mapping registered with the kernel. The reference usage drives it from
// the single submission path, but the pool itself is safe for concurrent
// checkout.
type bufferPool struct {
	mu   sync.Mutex
	mem  []byte
	size uint32
	free []uint16
	out  map[uint16]bool
	fd   int
}

func newBufferPool(ringFd int, count, size uint32) (*bufferPool, error) {
	mem, err := uapi.MmapAnon(int(count * size))
	if err != nil {
		return nil, &Error{Op: "REGISTER_BUFFERS", Code: ErrCodeSetupFailed, Msg: err.Error(), Inner: err}
	}

	iovecs := make([]uapi.Iovec, count)
	for i := uint32(0); i < count; i++ {
		iovecs[i] = uapi.Iovec{
			Base: &mem[i*size],
			Len:  uint64(size),
		}
	}
	if err := uapi.Register(ringFd, uapi.RegisterBuffers, unsafe.Pointer(&iovecs[0]), count); err != nil {
		uapi.Munmap(mem)
		return nil, &Error{Op: "REGISTER_BUFFERS", Code: ErrCodeSetupFailed, Msg: err.Error(), Inner: err}
	}

	p := &bufferPool{
		mem:  mem,
		size: size,
		free: make([]uint16, 0, count),
		out:  make(map[uint16]bool, count),
		fd:   ringFd,
	}
	for i := uint32(0); i < count; i++ {
		p.free = append(p.free, uint16(i))
	}
	return p, nil
}

// get checks out a buffer, or returns false when the pool is exhausted.
func (p *bufferPool) get() (*FixedBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	p.out[idx] = true

	off := uint32(idx) * p.size
	return &FixedBuffer{
		Index: idx,
		B:     p.mem[off : off+p.size : off+p.size],
	}, true
}

// put returns a checked-out buffer to the free set.
func (p *bufferPool) put(fb *FixedBuffer) error {
	if fb == nil {
		return NewError("RETURN_BUFFER", ErrCodeInvalidArgument, "nil buffer")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.out[fb.Index] {
		return NewError("RETURN_BUFFER", ErrCodeInvalidArgument, "buffer is not checked out")
	}
	if len(fb.B) == 0 || &fb.B[0] != &p.mem[uint32(fb.Index)*p.size] {
		return NewError("RETURN_BUFFER", ErrCodeInvalidArgument, "buffer does not belong to this pool")
	}
	delete(p.out, fb.Index)
	p.free = append(p.free, fb.Index)
	return nil
}

// checkOwned verifies that a fixed-buffer operation references a buffer
// currently checked out and that the address range stays inside it.
func (p *bufferPool) checkOwned(index uint16, addr uint64, length uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.out[index] {
		return NewError("SUBMIT", ErrCodeInvalidArgument, "fixed buffer is not checked out")
	}
	start := uint64(uintptr(unsafe.Pointer(&p.mem[uint32(index)*p.size])))
	if addr < start || addr+uint64(length) > start+uint64(p.size) {
		return NewError("SUBMIT", ErrCodeInvalidArgument, "address outside the registered buffer")
	}
	return nil
}

// release unregisters the pool and unmaps its backing store.
func (p *bufferPool) release() error {
	// Closing the ring fd drops the registration too; unregistering first
	// keeps the error visible.
	uapi.Register(p.fd, uapi.UnregisterBuffers, nil, 0)
	if p.mem != nil {
		err := uapi.Munmap(p.mem)
		p.mem = nil
		return err
	}
	return nil
}
