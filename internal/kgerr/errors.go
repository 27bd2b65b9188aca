// Package kgerr defines the structured error contract shared by the graph
// store, the vector index and the ingest pipeline.
//
// Every failure surfaced to a caller carries a stable machine-readable code
// plus a human message. No code in this repository exits the process on
// error; reporting is strictly a caller-side concern.
package kgerr

import (
	"errors"
	"fmt"
)

// Code classifies a failure for machine consumption.
type Code string

const (
	// CodeValidation marks malformed or empty input to a public operation.
	// Validation failures are raised before any lock is taken.
	CodeValidation Code = "validation"

	// CodeLock marks a lock that could not be acquired within the retry
	// budget. The operation performed no partial write and may be retried.
	CodeLock Code = "lock_unavailable"

	// CodeStorage marks an underlying I/O failure other than "file absent".
	CodeStorage Code = "storage"

	// CodeNotFound marks a missing relation endpoint, entity, or an undo
	// with no backup available.
	CodeNotFound Code = "not_found"
)

// Error is the structured error returned by all public operations.
//
// The wrapped cause (if any) can be accessed via errors.Unwrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that records cause as the underlying failure.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsLock reports whether err means the lock retry budget was exhausted.
func IsLock(err error) bool { return CodeOf(err) == CodeLock }

// IsStorage reports whether err is an underlying I/O failure.
func IsStorage(err error) bool { return CodeOf(err) == CodeStorage }

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }
