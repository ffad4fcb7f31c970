package uring

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error is a structured ring error with operation context and errno mapping.
type Error struct {
	Op    string        // Operation that failed (e.g., "SETUP", "SUBMIT", "ENTER")
	ID    uint64        // Correlation id (0 if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Kernel errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ID != 0 {
		parts = append(parts, fmt.Sprintf("id=%d", e.ID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", int(e.Errno)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("uring: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("uring: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two structured errors by code.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories.
type ErrorCode string

const (
	ErrCodeSetupFailed        ErrorCode = "ring setup failed"
	ErrCodeQueueFull          ErrorCode = "submission queue full"
	ErrCodeTimeout            ErrorCode = "operation timed out"
	ErrCodeRingClosed         ErrorCode = "ring closed"
	ErrCodeCorrelation        ErrorCode = "correlation mismatch"
	ErrCodeInvalidArgument    ErrorCode = "invalid argument"
	ErrCodeKernelNotSupported ErrorCode = "kernel does not support io_uring"
	ErrCodeIOError            ErrorCode = "I/O error"
)

// Sentinel errors for the common conditions callers branch on.
var (
	// ErrQueueFull is returned by Submit when every SQ slot is occupied.
	// Recoverable: retry after completions drain.
	ErrQueueFull = &Error{Op: "SUBMIT", Code: ErrCodeQueueFull}

	// ErrTimeout distinguishes an expired bounded wait from an I/O
	// failure of the underlying operation, which the kernel has cancelled.
	ErrTimeout = &Error{Code: ErrCodeTimeout}

	// ErrRingClosed is delivered to callers whose operations were in
	// flight when the ring was forcibly closed.
	ErrRingClosed = &Error{Code: ErrCodeRingClosed}
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying a kernel errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// CompletionError converts a negative completion result into a structured
// error at the adapter boundary. The raw errno stays inspectable.
func CompletionError(op string, id uint64, errno syscall.Errno) *Error {
	code := mapErrnoToCode(errno)
	return &Error{Op: op, ID: id, Code: code, Errno: errno, Msg: errno.Error(), Inner: errno}
}

// WrapError wraps an existing error with ring context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			ID:    ue.ID,
			Code:  ue.Code,
			Errno: ue.Errno,
			Msg:   ue.Msg,
			Inner: ue.Inner,
		}
	}

	code := ErrCodeIOError
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		code = mapErrnoToCode(errno)
		return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps kernel errno values to ring error codes.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG, syscall.EFAULT:
		return ErrCodeInvalidArgument
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeKernelNotSupported
	case syscall.ETIME, syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.EBUSY, syscall.EAGAIN:
		return ErrCodeQueueFull
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Errno == errno
	}
	return false
}

// IsTimeout reports whether err represents an expired bounded wait.
func IsTimeout(err error) bool {
	return IsCode(err, ErrCodeTimeout)
}

// IsQueueFull reports whether err is the recoverable queue-full condition.
func IsQueueFull(err error) bool {
	return IsCode(err, ErrCodeQueueFull)
}
