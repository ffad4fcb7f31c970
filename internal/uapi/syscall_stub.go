//go:build !linux

package uapi

import (
	"errors"
	"unsafe"
)

// ErrUnsupported is returned for every kernel call on platforms without
// io_uring. The ring buffer logic and the adapters still compile and test
// everywhere; only the kernel-facing driver is Linux-only.
var ErrUnsupported = errors.New("io_uring is only available on linux")

func Setup(entries uint32, params *Params) (int, error) {
	return -1, ErrUnsupported
}

func Enter(fd int, toSubmit, minComplete, flags uint32) (uint32, error) {
	return 0, ErrUnsupported
}

func Register(fd int, opcode uintptr, arg unsafe.Pointer, nrArgs uint32) error {
	return ErrUnsupported
}

func Mmap(fd int, offset int64, length int) ([]byte, error) {
	return nil, ErrUnsupported
}

func MmapAnon(length int) ([]byte, error) {
	return nil, ErrUnsupported
}

func Munmap(b []byte) error {
	return ErrUnsupported
}

func CloseFD(fd int) error {
	return ErrUnsupported
}
