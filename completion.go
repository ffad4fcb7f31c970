package uring

import (
	"fmt"
	"syscall"
)

// A Completion is the outcome of one submission, produced exclusively by
// the driver when draining the completion ring and consumed exactly once
// by whichever party waits on its correlation id.
type Completion struct {
	// UserData echoes the correlation id assigned at submit time.
	UserData uint64
	// Res is the signed result: a negated errno on failure, otherwise a
	// byte count, a file descriptor, or another operation-specific value.
	Res int32
	// Flags carries kernel-reported completion flags.
	Flags uint32
}

// Err translates a negative result into an errno-backed error. The raw
// value stays available in Res for programmatic inspection.
func (c Completion) Err() error {
	if c.Res >= 0 {
		return nil
	}
	return syscall.Errno(-c.Res)
}

// Errno returns the negated result as an errno, or 0 on success.
func (c Completion) Errno() syscall.Errno {
	if c.Res >= 0 {
		return 0
	}
	return syscall.Errno(-c.Res)
}

func (c Completion) String() string {
	return fmt.Sprintf("completion{id=%d res=%d flags=%#x}", c.UserData, c.Res, c.Flags)
}
