// Package hooks - errors.go
//
// This file implements the framework error taxonomy. Errors are identified by
// kind (a machine-readable string) rather than by Go type, so external agents
// and HTTP adapters can map them without importing internals.
//
// Propagation policy:
//   - Handler-induced failures (returned errors, panics) never surface to the
//     dispatch caller. They are absorbed and routed to the pluginError hook.
//   - Caller-induced misuse (invalid state transition, waiter timeout, bad
//     arguments) surfaces as the error return of Dispatch. Handlers signal it
//     by wrapping their error with CallerError.
package hooks

import (
	"errors"
	"fmt"
)

// Error kinds, by failure class.
const (
	KindDuplicatePlugin   = "duplicate-plugin"
	KindInvalidTransition = "invalid-transition"
	KindWaitTimeout       = "wait-timeout"
	KindRecursionBound    = "recursion-bound"
	KindBadRequest        = "bad-request"
	KindUnknownPlugin     = "unknown-plugin"
)

// Error is a framework error with a machine-readable kind.
//
// JSON shape:
//
//	{"error": "invalid-transition", "message": "transition idle -> done is not allowed"}
type Error struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a framework error of the given kind.
func NewError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches debugging context and returns the error for chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind string) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// callerError marks an error as caller-induced misuse. The dispatch engine
// returns such errors to the caller instead of routing them to pluginError.
type callerError struct {
	err error
}

func (c *callerError) Error() string { return c.err.Error() }

func (c *callerError) Unwrap() error { return c.err }

// CallerError wraps err so that Dispatch propagates it to the caller.
// Wrapping nil returns nil.
func CallerError(err error) error {
	if err == nil {
		return nil
	}
	return &callerError{err: err}
}

// IsCallerError reports whether err is marked as caller-induced.
func IsCallerError(err error) bool {
	var c *callerError
	return errors.As(err, &c)
}

// unwrapCallerError strips the caller marker, leaving the underlying error.
func unwrapCallerError(err error) error {
	var c *callerError
	if errors.As(err, &c) {
		return c.err
	}
	return err
}
