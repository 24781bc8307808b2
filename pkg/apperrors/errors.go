// Package apperrors defines the error taxonomy shared by every component
// boundary. Errors surface to callers as structured envelopes
// {kind, message, subcode?, transaction_id} and never as raw server errors.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies a stable error class. Kinds appear in API envelopes,
// logs, and audit entries and must not be renamed.
type Kind string

const (
	KindSessionNotFound  Kind = "SessionNotFound"
	KindSessionClosed    Kind = "SessionClosed"
	KindSessionExpired   Kind = "SessionExpired"
	KindInvalidRequest   Kind = "InvalidRequest"
	KindUnauthorized     Kind = "Unauthorized"
	KindDenied           Kind = "Denied"
	KindToolNotFound     Kind = "ToolNotFound"
	KindToolTimeout      Kind = "ToolTimeout"
	KindToolFailed       Kind = "ToolFailed"
	KindAgentNotFound    Kind = "AgentNotFound"
	KindAgentUnreachable Kind = "AgentUnreachable"
	KindAgentFailed      Kind = "AgentFailed"
	KindOverloaded       Kind = "Overloaded"
	KindTimedOut         Kind = "TimedOut"
	KindConfigError      Kind = "ConfigError"
	KindInternal         Kind = "Internal"
)

// Subcode refines a Denied kind. The set is closed.
type Subcode string

const (
	SubcodeExplicitDeny       Subcode = "ExplicitDeny"
	SubcodeParameterForbidden Subcode = "ParameterForbidden"
	SubcodeRateLimited        Subcode = "RateLimited"
	SubcodeDefaultDeny        Subcode = "DefaultDeny"
	SubcodeNoEligibleAgent    Subcode = "NoEligibleAgent"
)

// Error is the structured error carried across component boundaries.
type Error struct {
	Kind          Kind    `json:"kind"`
	Subcode       Subcode `json:"subcode,omitempty"`
	Message       string  `json:"message"`
	TransactionID string  `json:"transaction_id,omitempty"`

	// Wrapped cause, not serialized.
	cause error
}

func (e *Error) Error() string {
	if e.Subcode != "" {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Subcode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Denied creates a Denied error with a subcode.
func Denied(subcode Subcode, format string, args ...any) *Error {
	return &Error{Kind: KindDenied, Subcode: subcode, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind with a wrapped cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithTransaction returns a copy of the error stamped with a transaction id.
func (e *Error) WithTransaction(txnID string) *Error {
	clone := *e
	clone.TransactionID = txnID
	return &clone
}

// KindOf extracts the Kind from err, or KindInternal if err is not an *Error.
// Returns "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// SubcodeOf extracts the Subcode from err, or "" if absent.
func SubcodeOf(err error) Subcode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Subcode
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError converts any error to an *Error, wrapping unknown errors as
// Internal. Nil stays nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Message: err.Error(), cause: err}
}

// Retriable reports whether the error class is safe to retry inside a single
// invocation. Policy denials and validation failures are never retried.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindAgentUnreachable, KindOverloaded:
		return true
	default:
		return false
	}
}
