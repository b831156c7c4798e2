package core

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable error code surfaced to callers across transports.
type ErrorKind string

// Error kinds.
const (
	ErrNotFound      ErrorKind = "NOT_FOUND"
	ErrValidation    ErrorKind = "VALIDATION"
	ErrConflict      ErrorKind = "CONFLICT"
	ErrWaitTimeout   ErrorKind = "WAIT_TIMEOUT"
	ErrWaitCancelled ErrorKind = "WAIT_CANCELLED"
	ErrBackend       ErrorKind = "BACKEND"
	ErrInternal      ErrorKind = "INTERNAL"
)

// Error carries an error kind and a single descriptive message.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NotFound reports a missing entity, snapshot or command.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation reports input that violates a model invariant.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a uniqueness violation.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// WaitTimeout reports a wait that exceeded its deadline.
func WaitTimeout(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrWaitTimeout, Message: fmt.Sprintf(format, args...)}
}

// WaitCancelled reports a wait that was cancelled, superseded or interrupted.
func WaitCancelled(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrWaitCancelled, Message: fmt.Sprintf(format, args...)}
}

// Backend wraps a transactional failure from the graph backend. Callers may
// retry.
func Backend(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrBackend, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Internal reports a programmer error or unexpected state.
func Internal(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInternal, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind of err, or ErrInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsNotFound reports whether err carries the NOT_FOUND kind.
func IsNotFound(err error) bool { return KindOf(err) == ErrNotFound }

// IsValidation reports whether err carries the VALIDATION kind.
func IsValidation(err error) bool { return KindOf(err) == ErrValidation }

// IsConflict reports whether err carries the CONFLICT kind.
func IsConflict(err error) bool { return KindOf(err) == ErrConflict }

// IsWaitTimeout reports whether err carries the WAIT_TIMEOUT kind.
func IsWaitTimeout(err error) bool { return KindOf(err) == ErrWaitTimeout }

// IsWaitCancelled reports whether err carries the WAIT_CANCELLED kind.
func IsWaitCancelled(err error) bool { return KindOf(err) == ErrWaitCancelled }
