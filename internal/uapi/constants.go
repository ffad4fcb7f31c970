// Package uapi mirrors the io_uring kernel ABI: ring structures, opcodes
// and flag bits from include/uapi/linux/io_uring.h.
package uapi

// Operation codes understood by the submission queue.
const (
	OpNop uint8 = iota
	OpReadv
	OpWritev
	OpFsync
	OpReadFixed
	OpWriteFixed
	OpPollAdd
	OpPollRemove
	OpSyncFileRange
	OpSendmsg
	OpRecvmsg
	OpTimeout
	OpTimeoutRemove
	OpAccept
	OpAsyncCancel
	OpLinkTimeout
	OpConnect
	OpFallocate
	OpOpenat
	OpClose
	OpFilesUpdate
	OpStatx
	OpRead
	OpWrite
	OpFadvise
	OpMadvise
	OpSend
	OpRecv
	OpOpenat2
	OpEpollCtl
	OpSplice
	OpProvideBuffers
	OpRemoveBuffers
	OpTee
	OpShutdown
	OpRenameat
	OpUnlinkat
	OpMkdirat
	OpSymlinkat
	OpLinkat
	OpMsgRing
	OpLast
)

// Submission entry flags.
const (
	SQEFixedFile uint8 = 1 << iota
	SQEIODrain
	SQEIOLink
	SQEIOHardlink
	SQEAsync
	SQEBufferSelect
)

// Setup flags.
const (
	SetupIOPoll uint32 = 1 << iota
	SetupSQPoll
	SetupSQAff
	SetupCQSize
	SetupClamp
	SetupAttachWQ
)

// Enter flags.
const (
	EnterGetEvents uint32 = 1 << iota
	EnterSQWakeup
	EnterSQWait
	EnterExtArg
)

// Feature bits reported in Params.Features after setup.
const (
	FeatSingleMmap uint32 = 1 << iota
	FeatNoDrop
	FeatSubmitStable
	FeatRWCurPos
	FeatCurPersonality
	FeatFastPoll
	FeatPoll32Bits
	FeatSQPollNonfixed
	FeatExtArg
	FeatNativeWorkers
	FeatRsrcTags
)

// SQ ring flags, written by the kernel.
const (
	SQNeedWakeup uint32 = 1 << iota
	SQCQOverflow
)

// mmap offsets selecting which kernel region a mapping covers.
const (
	OffSQRing int64 = 0
	OffCQRing int64 = 0x8000000
	OffSQEs   int64 = 0x10000000
)

// io_uring_register opcodes.
const (
	RegisterBuffers   uintptr = 0
	UnregisterBuffers uintptr = 1
	RegisterFiles     uintptr = 2
	UnregisterFiles   uintptr = 3
)

// AtFDCWD is the POSIX "current working directory" handle for *at calls.
const AtFDCWD int32 = -100
