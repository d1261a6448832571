// Package errs provides the unified error type used across sqlexplorer.
//
// Drivers, the connection registry and the comment store wrap their native
// errors into *errs.Error before returning them. The HTTP layer turns an
// error into the user-facing text of an {"error": ...} envelope with
// Message, and callers branch on kinds through the Is* predicates without
// importing driver packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "query timed out", pgErr)
//
//	// In a handler, report the message:
//	writeError(w, errs.Message(err))
package errs

import (
	"context"
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing engine-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, unknown connection, task or object
	ErrKindConnectionFailed         // cannot reach or authenticate to the backend
	ErrKindTimeout                  // context deadline exceeded
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied
	ErrKindCanceled                 // the caller gave up
	ErrKindUnsupported              // engine without a driver
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindCanceled:
		return "canceled"
	case ErrKindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by sqlexplorer subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a formatted message.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// FromContext converts a context error into Canceled or Timeout.
// Other errors are returned unchanged.
func FromContext(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(ErrKindCanceled, "operation canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrKindTimeout, "operation timed out", err)
	}
	return err
}

// Message returns the text shown to end users: the Message of the first
// *Error in the chain, or err.Error() for foreign errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return kindOf(err) == ErrKindPermissionDenied
}

// IsCanceled reports whether err is a cancellation.
func IsCanceled(err error) bool {
	return kindOf(err) == ErrKindCanceled
}

// IsUnsupported reports whether err names an engine without a driver.
func IsUnsupported(err error) bool {
	return kindOf(err) == ErrKindUnsupported
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
