// Package toolerrors provides the error-kind taxonomy shared by nodes, graphs,
// workflows, and the command dispatcher. A single Error type carries a Kind
// drawn from a closed set so that Node.Result.ErrorType and dispatcher error
// responses both derive from one implementation.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy. Values are wire-stable: they are
// serialized verbatim into Result.ErrorType and command error responses.
type Kind string

const (
	// NodeStopped indicates an operation attempted on a stopped or not-yet-started node.
	NodeStopped Kind = "node_stopped"
	// Timeout indicates an operation exceeded its time budget.
	Timeout Kind = "timeout"
	// Interrupted indicates the caller or user cancelled the operation.
	Interrupted Kind = "interrupted"
	// InvalidRequest indicates missing or invalid parameters, or unresolvable references.
	InvalidRequest Kind = "invalid_request_error"
	// Authentication indicates the upstream rejected credentials.
	Authentication Kind = "authentication_error"
	// Permission indicates insufficient permission, generally upstream.
	Permission Kind = "permission_error"
	// RateLimit indicates an upstream throttle.
	RateLimit Kind = "rate_limit_error"
	// API indicates an upstream 5xx or protocol violation.
	API Kind = "api_error"
	// Network indicates a transport failure reaching upstream.
	Network Kind = "network_error"
	// Process indicates a child process exited non-zero or crashed.
	Process Kind = "process_error"
	// NotImplemented indicates the operation isn't supported by the node variant.
	NotImplemented Kind = "not_implemented"
	// Internal indicates an unexpected exception inside the server.
	Internal Kind = "internal_error"
)

// Error is the structured error carried through Result.Error/ErrorType and
// dispatcher responses. It preserves a cause chain so errors.Is/As continue
// to work across node/graph/workflow boundaries.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf formats a message and constructs an Error of the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a taxonomy kind, preserving it as the cause.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: cause.Error(), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf extracts the taxonomy kind from err, defaulting to Internal for
// errors that were never classified. Unexpected panics recovered by the
// dispatcher should be classified this way.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Internal
}
