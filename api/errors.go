// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error kinds shared by the address, socket and reactor packages.

package api

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Common errors used across the library.
var (
	ErrClosed                = errors.New("resource is closed")
	ErrUnexpectedSender      = errors.New("datagram from unexpected sender")
	ErrNonBlockingOnBlocking = errors.New("non-blocking operation on blocking socket")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrNotSupported          = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeClosed
	ErrCodeOperationFailure
	ErrCodeInternal
	ErrCodeUnexpectedSender
	ErrCodeNonBlocking
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeClosed:
		return "closed resource"
	case ErrCodeOperationFailure:
		return "operation failure"
	case ErrCodeInternal:
		return "internal inconsistency"
	case ErrCodeUnexpectedSender:
		return "unexpected sender"
	case ErrCodeNonBlocking:
		return "non-blocking operation on blocking socket"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Errno   unix.Errno
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code == ErrCodeOperationFailure {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Errno)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the sentinel matching the code, or the errno for OS failures.
func (e *Error) Unwrap() error {
	switch e.Code {
	case ErrCodeClosed:
		return ErrClosed
	case ErrCodeOperationFailure:
		return e.Errno
	case ErrCodeInternal:
		return ErrInternalInconsistency
	case ErrCodeUnexpectedSender:
		return ErrUnexpectedSender
	case ErrCodeNonBlocking:
		return ErrNonBlockingOnBlocking
	}
	return nil
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Closed reports an operation attempted on an already-closed handle.
func Closed(op string) *Error {
	return NewError(ErrCodeClosed, op+": "+ErrClosed.Error())
}

// Internal reports a violated state invariant.
func Internal(op, detail string) *Error {
	return NewError(ErrCodeInternal, op+": "+detail)
}

// UnexpectedSender reports a datagram whose source did not match the expected peer.
func UnexpectedSender(op string, got, want fmt.Stringer) *Error {
	return NewError(ErrCodeUnexpectedSender, op+": "+ErrUnexpectedSender.Error()).
		WithContext("sender", got.String()).
		WithContext("expected", want.String())
}

// OSError wraps the errno captured at a failing system call. A nil err or one
// that is not an errno is mapped to EIO so the code is always populated.
func OSError(op string, err error) *Error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		errno = unix.EIO
	}
	e := NewError(ErrCodeOperationFailure, op)
	e.Errno = errno
	return e
}

// ShortTransfer reports a send or write that moved fewer bytes than requested.
// It is an operation failure carrying EIO, since no errno was set by the call.
func ShortTransfer(op string, done, want int) *Error {
	e := NewError(ErrCodeOperationFailure, op+": short transfer")
	e.Errno = unix.EIO
	return e.WithContext("done", done).WithContext("requested", want)
}

// CodeOf extracts the ErrorCode from err, or ErrCodeOK for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeOperationFailure
}

// Errno returns the OS error code carried by err, if any.
func Errno(err error) (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
