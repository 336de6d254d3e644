package regerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed, independent of any particular
// transport. pkg/httpapi maps each Kind to a status code once, in one
// place, instead of every handler re-deriving it.
type Kind string

const (
	// NotFound means the referenced crate, version, user, token, or
	// webhook does not exist.
	NotFound Kind = "not_found"

	// AlreadyExists means a publish or registration attempted to create
	// something that uniquely already exists (duplicate version, login).
	AlreadyExists Kind = "already_exists"

	// Unauthenticated means no credential was presented.
	Unauthenticated Kind = "unauthenticated"

	// Forbidden means the presented credential was rejected (invalid,
	// revoked, or expired), or is valid but lacks the required ownership
	// or admin privilege.
	Forbidden Kind = "forbidden"

	// Invalid means the request failed validation (malformed name,
	// version, checksum mismatch, malformed wire frame).
	Invalid Kind = "invalid"

	// Conflict means a concurrent mutation lost a race the caller can
	// retry (e.g. optimistic version check).
	Conflict Kind = "conflict"

	// Transient means the failure is expected to clear on retry (network
	// timeout, upstream 5xx, database connection drop).
	Transient Kind = "transient"

	// Fatal means an unexpected internal failure with no defined
	// recovery; logged at error level and surfaced as a 500.
	Fatal Kind = "fatal"
)

// Error pairs a Kind with the underlying cause so both errors.Is(err,
// regerr.NotFound) — via the Kind — and errors.Unwrap chains to the root
// cause keep working.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, regerr.NotFound) work by comparing against a
// bare Kind sentinel in addition to another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(kindSentinel); ok {
		return e.Kind == Kind(k)
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// kindSentinel lets bare Kind values participate in errors.Is without
// requiring callers to construct an *Error just to compare kinds.
type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that chains to cause via Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Of reports the Kind of err if it (or something it wraps) is an *Error,
// and Fatal otherwise — the safe default for an error this package never
// classified.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Is reports whether err's Kind matches kind, without requiring the
// caller to construct a sentinel value first.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kindSentinel(kind))
}
