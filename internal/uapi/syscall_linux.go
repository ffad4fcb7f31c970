//go:build linux

package uapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Setup issues io_uring_setup(2). The kernel rounds entries up to a power
// of two and writes the effective geometry back into params.
func Setup(entries uint32, params *Params) (int, error) {
	fd, _, errno := syscall.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return -1, fmt.Errorf("io_uring_setup: %w", errno)
	}
	return int(fd), nil
}

// Enter issues io_uring_enter(2), retrying transparently when the syscall
// is interrupted by a signal. The return value is the number of submission
// entries the kernel consumed.
func Enter(fd int, toSubmit, minComplete, flags uint32) (uint32, error) {
	for {
		n, _, errno := syscall.Syscall6(unix.SYS_IO_URING_ENTER,
			uintptr(fd), uintptr(toSubmit), uintptr(minComplete),
			uintptr(flags), 0, 0)
		if errno == 0 {
			return uint32(n), nil
		}
		if errno == unix.EINTR {
			continue
		}
		return 0, errno
	}
}

// Register issues io_uring_register(2).
func Register(fd int, opcode uintptr, arg unsafe.Pointer, nrArgs uint32) error {
	_, _, errno := syscall.Syscall6(unix.SYS_IO_URING_REGISTER,
		uintptr(fd), opcode, uintptr(arg), uintptr(nrArgs), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Mmap maps length bytes of the ring file descriptor at the given region
// offset, shared and pre-populated the way liburing does it.
func Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_POPULATE)
}

// MmapAnon allocates an anonymous page-aligned region, used for the
// fixed-buffer pool backing store.
func MmapAnon(length int) ([]byte, error) {
	return unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// Munmap releases a mapping obtained from Mmap or MmapAnon.
func Munmap(b []byte) error {
	return unix.Munmap(b)
}

// CloseFD closes the ring file descriptor.
func CloseFD(fd int) error {
	return unix.Close(fd)
}
