package uapi

import "unsafe"

// Params is passed to the setup syscall; the kernel fills in the effective
// entry counts, feature bits and the ring field offsets.
type Params struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        SQRingOffsets
	CQOff        CQRingOffsets
}

// SQRingOffsets locates the submission ring fields inside the SQ mapping.
type SQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

// CQRingOffsets locates the completion ring fields inside the CQ mapping.
type CQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	CQEs        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

// SQEntry is one 64-byte submission slot. The interpretation of OpFlags
// and the Off/Addr2 union depends on Opcode.
type SQEntry struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64 // union { off, addr2 }
	Addr        uint64 // union { addr, splice_off_in }
	Len         uint32
	OpFlags     uint32 // per-opcode flags union
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	_pad        uint64
}

// CQEntry is one 16-byte completion slot.
type CQEntry struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// KernelTimespec matches struct __kernel_timespec used by timeout entries.
type KernelTimespec struct {
	Sec  int64
	Nsec int64
}

// Iovec matches struct iovec for buffer registration.
type Iovec struct {
	Base *byte
	Len  uint64
}

const (
	SQEntrySize = uint32(unsafe.Sizeof(SQEntry{}))
	CQEntrySize = uint32(unsafe.Sizeof(CQEntry{}))
)
