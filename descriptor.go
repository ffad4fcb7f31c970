package uring

import (
	"time"
	"unsafe"

	"github.com/ringway/go-uring/internal/uapi"
)

// Op identifies the kind of I/O a Descriptor requests. The generic 32-bit
// flags word of a submission is interpreted according to this code: open
// flags for OpenAt, a poll event mask for PollAdd, timeout flags for the
// timer operations.
type Op uint8

const (
	OpNop Op = iota
	OpOpenAt
	OpClose
	OpRead
	OpWrite
	OpReadFixed
	OpWriteFixed
	OpPollAdd
	OpPollRemove
	OpEpollCtl
	OpTimeout
	OpLinkTimeout
	OpMsgRing
)

var opNames = [...]string{
	OpNop:         "NOP",
	OpOpenAt:      "OPENAT",
	OpClose:       "CLOSE",
	OpRead:        "READ",
	OpWrite:       "WRITE",
	OpReadFixed:   "READ_FIXED",
	OpWriteFixed:  "WRITE_FIXED",
	OpPollAdd:     "POLL_ADD",
	OpPollRemove:  "POLL_REMOVE",
	OpEpollCtl:    "EPOLL_CTL",
	OpTimeout:     "TIMEOUT",
	OpLinkTimeout: "LINK_TIMEOUT",
	OpMsgRing:     "MSG_RING",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "UNKNOWN"
}

// kernelOpcodes maps the public operation set onto the kernel's table.
var kernelOpcodes = [...]uint8{
	OpNop:         uapi.OpNop,
	OpOpenAt:      uapi.OpOpenat,
	OpClose:       uapi.OpClose,
	OpRead:        uapi.OpRead,
	OpWrite:       uapi.OpWrite,
	OpReadFixed:   uapi.OpReadFixed,
	OpWriteFixed:  uapi.OpWriteFixed,
	OpPollAdd:     uapi.OpPollAdd,
	OpPollRemove:  uapi.OpPollRemove,
	OpEpollCtl:    uapi.OpEpollCtl,
	OpTimeout:     uapi.OpTimeout,
	OpLinkTimeout: uapi.OpLinkTimeout,
	OpMsgRing:     uapi.OpMsgRing,
}

// EpollEvent matches the layout golang.org/x/sys/unix uses for
// struct epoll_event on 64-bit Linux.
type EpollEvent struct {
	Events uint32
	Fd     int32
	Pad    int32
}

// A Descriptor describes one I/O operation. It is built by a caller,
// treated as immutable once handed to a queue, consumed exactly once when
// the driver copies it into a submission slot, and may be discarded
// afterwards. The correlation id is assigned by the driver at submit time,
// never by the caller.
type Descriptor struct {
	op       Op
	fd       int32
	flags    uint8
	opFlags  uint32
	addr     uint64
	addr2    uint64
	offset   uint64
	hasAddr2 bool
	hasOff   bool
	length   uint32
	bufIndex uint16
	sentinel bool

	// Referenced memory kept alive until the kernel is done with it.
	buf  []byte
	path []byte
	ts   *uapi.KernelTimespec
}

// Nop builds a no-op submission. It completes immediately with result 0
// and is also the shutdown sentinel of the multi-threaded adapter.
func Nop() *Descriptor {
	return &Descriptor{op: OpNop, fd: -1}
}

// OpenAt builds an openat(2) submission. Flags and mode follow the POSIX
// open(2) numeric conventions. dirfd may be AtFDCWD.
func OpenAt(dirfd int32, path string, flags uint32, mode uint32) *Descriptor {
	p := make([]byte, len(path)+1)
	copy(p, path)
	d := &Descriptor{
		op:      OpOpenAt,
		fd:      dirfd,
		opFlags: flags,
		length:  mode,
		path:    p,
	}
	d.addr = uint64(uintptr(unsafe.Pointer(&d.path[0])))
	return d
}

// CloseFD builds a close(2) submission for the given file descriptor.
func CloseFD(fd int32) *Descriptor {
	return &Descriptor{op: OpClose, fd: fd}
}

// Read builds a read into buf at the given file offset.
func Read(fd int32, buf []byte, offset uint64) *Descriptor {
	d := &Descriptor{
		op:     OpRead,
		fd:     fd,
		length: uint32(len(buf)),
		buf:    buf,
	}
	if len(buf) > 0 {
		d.addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	d.setOffset(offset)
	return d
}

// Write builds a write of buf at the given file offset.
func Write(fd int32, buf []byte, offset uint64) *Descriptor {
	d := &Descriptor{
		op:     OpWrite,
		fd:     fd,
		length: uint32(len(buf)),
		buf:    buf,
	}
	if len(buf) > 0 {
		d.addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	d.setOffset(offset)
	return d
}

// ReadFixed builds a read into a pre-registered buffer. length must not
// exceed the buffer's capacity; the driver rejects foreign buffers.
func ReadFixed(fd int32, fb *FixedBuffer, length uint32, offset uint64) *Descriptor {
	d := &Descriptor{
		op:       OpReadFixed,
		fd:       fd,
		length:   length,
		bufIndex: fb.Index,
		buf:      fb.B,
	}
	if len(fb.B) > 0 {
		d.addr = uint64(uintptr(unsafe.Pointer(&fb.B[0])))
	}
	d.setOffset(offset)
	return d
}

// WriteFixed builds a write from a pre-registered buffer.
func WriteFixed(fd int32, fb *FixedBuffer, length uint32, offset uint64) *Descriptor {
	d := &Descriptor{
		op:       OpWriteFixed,
		fd:       fd,
		length:   length,
		bufIndex: fb.Index,
		buf:      fb.B,
	}
	if len(fb.B) > 0 {
		d.addr = uint64(uintptr(unsafe.Pointer(&fb.B[0])))
	}
	d.setOffset(offset)
	return d
}

// PollAdd builds a one-shot poll for the given event mask (POLLIN etc.).
func PollAdd(fd int32, events uint32) *Descriptor {
	return &Descriptor{op: OpPollAdd, fd: fd, opFlags: events}
}

// PollRemove cancels a pending PollAdd identified by its correlation id.
func PollRemove(target uint64) *Descriptor {
	return &Descriptor{op: OpPollRemove, fd: -1, addr: target}
}

// EpollCtl builds an epoll_ctl(2) submission: ctlOp is EPOLL_CTL_ADD/MOD/DEL.
func EpollCtl(epfd int32, ctlOp uint32, fd int32, event *EpollEvent) *Descriptor {
	d := &Descriptor{
		op:     OpEpollCtl,
		fd:     epfd,
		length: ctlOp,
	}
	if event != nil {
		d.addr = uint64(uintptr(unsafe.Pointer(event)))
	}
	d.setOffset(uint64(fd))
	return d
}

// Timeout builds a standalone relative timeout entry.
func Timeout(d time.Duration) *Descriptor {
	ts := &uapi.KernelTimespec{
		Sec:  int64(d / time.Second),
		Nsec: int64(d % time.Second),
	}
	desc := &Descriptor{op: OpTimeout, fd: -1, length: 1, ts: ts}
	desc.addr = uint64(uintptr(unsafe.Pointer(ts)))
	return desc
}

// LinkTimeout builds a timeout entry that bounds the submission it is
// linked to. The preceding descriptor must carry the link flag; the kernel
// then cancels whichever of the pair loses the race.
func LinkTimeout(d time.Duration) *Descriptor {
	ts := &uapi.KernelTimespec{
		Sec:  int64(d / time.Second),
		Nsec: int64(d % time.Second),
	}
	desc := &Descriptor{op: OpLinkTimeout, fd: -1, length: 1, ts: ts}
	desc.addr = uint64(uintptr(unsafe.Pointer(ts)))
	return desc
}

// MsgRing posts a synthetic completion carrying res and data into another
// ring, identified by its file descriptor.
func MsgRing(ringFd int32, res uint32, data uint64) *Descriptor {
	d := &Descriptor{op: OpMsgRing, fd: ringFd, length: res}
	d.setOffset(data)
	return d
}

// Op returns the operation code.
func (d *Descriptor) Op() Op { return d.op }

// Link flags this descriptor to execute as a unit with the next submitted
// one. Returns d for chaining.
func (d *Descriptor) Link() *Descriptor {
	d.flags |= uapi.SQEIOLink
	return d
}

// Linked reports whether the link flag is set.
func (d *Descriptor) Linked() bool { return d.flags&uapi.SQEIOLink != 0 }

// SetOffset records an explicit file offset. It fails if the secondary
// address was already set: the two occupy the same wire slot.
func (d *Descriptor) SetOffset(off uint64) error {
	if d.hasAddr2 {
		return NewError("SET_OFFSET", ErrCodeInvalidArgument,
			"offset and secondary address are mutually exclusive")
	}
	d.setOffset(off)
	return nil
}

// SetSecondaryAddr records the secondary address region. It fails if an
// explicit offset was already set.
func (d *Descriptor) SetSecondaryAddr(addr uint64) error {
	if d.hasOff {
		return NewError("SET_ADDR2", ErrCodeInvalidArgument,
			"offset and secondary address are mutually exclusive")
	}
	d.addr2 = addr
	d.hasAddr2 = true
	return nil
}

func (d *Descriptor) setOffset(off uint64) {
	d.offset = off
	d.hasOff = true
}

// validate is the last check before a descriptor reaches a ring slot.
func (d *Descriptor) validate() error {
	if int(d.op) >= len(kernelOpcodes) {
		return NewError("SUBMIT", ErrCodeInvalidArgument, "unknown operation code")
	}
	if d.hasAddr2 && d.hasOff {
		return NewError("SUBMIT", ErrCodeInvalidArgument,
			"offset and secondary address are mutually exclusive")
	}
	switch d.op {
	case OpTimeout, OpLinkTimeout:
		if d.ts == nil {
			return NewError("SUBMIT", ErrCodeInvalidArgument, "timeout without timespec")
		}
	case OpReadFixed, OpWriteFixed:
		if d.buf == nil {
			return NewError("SUBMIT", ErrCodeInvalidArgument, "fixed operation without buffer")
		}
		if d.length > uint32(len(d.buf)) {
			return NewError("SUBMIT", ErrCodeInvalidArgument, "length exceeds fixed buffer")
		}
	}
	return nil
}

// encode serializes the descriptor into a submission slot. correlation is
// the driver-assigned id echoed back by the eventual completion.
func (d *Descriptor) encode(sqe *uapi.SQEntry, correlation uint64) {
	*sqe = uapi.SQEntry{
		Opcode:   kernelOpcodes[d.op],
		Flags:    d.flags,
		Fd:       d.fd,
		Addr:     d.addr,
		Len:      d.length,
		OpFlags:  d.opFlags,
		UserData: correlation,
		BufIndex: d.bufIndex,
	}
	if d.hasAddr2 {
		sqe.Off = d.addr2
	} else {
		sqe.Off = d.offset
	}
}

// AtFDCWD is the POSIX "current working directory" handle for OpenAt.
const AtFDCWD = uapi.AtFDCWD
