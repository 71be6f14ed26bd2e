// Package verr implements the error taxonomy from spec.md §7: a small set
// of codes distinguishing retryable transport failures from first-class
// revert signals, decode bugs, classification conflicts, unreadable token
// metadata, gas pathology, and fatal configuration errors.
package verr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the taxonomy's error classes.
type Code int

const (
	// Transport is an I/O error at the RPC layer; retryable.
	Transport Code = iota
	// Revert means the remote contract reverted; not retryable, a data
	// signal rather than a bug.
	Revert
	// Decode means return bytes were malformed.
	Decode
	// ClassificationConflict means two registry rows claimed mutually
	// exclusive protocols for one vault.
	ClassificationConflict
	// TokenUnreadable means ERC-20 metadata (symbol/name/decimals)
	// couldn't be obtained.
	TokenUnreadable
	// GasPathology means a call exceeded the configured gas budget.
	GasPathology
	// Config means invalid configuration at startup; fatal.
	Config
)

func (c Code) String() string {
	switch c {
	case Transport:
		return "TRANSPORT"
	case Revert:
		return "REVERT"
	case Decode:
		return "DECODE"
	case ClassificationConflict:
		return "CLASSIFICATION_CONFLICT"
	case TokenUnreadable:
		return "TOKEN_UNREADABLE"
	case GasPathology:
		return "GAS_PATHOLOGY"
	case Config:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// Error carries a Code alongside the usual wrapped cause. Config and Decode
// errors keep a pkg/errors stack trace since those are the two codes an
// operator debugs from a log line rather than a retry loop.
type Error struct {
	Code   Code
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.cause)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bare Error with a human-readable reason (no wrapped cause).
func New(code Code, reason string) *Error {
	e := &Error{Code: code, Reason: reason}
	if code == Config || code == Decode {
		e.cause = errors.New(reason)
	}
	return e
}

// Wrap builds an Error around an existing cause, stamping a stack trace for
// Config/Decode so the root cause survives to the log line.
func Wrap(code Code, cause error, reason string) *Error {
	if cause == nil {
		return New(code, reason)
	}
	wrapped := cause
	if code == Config || code == Decode {
		wrapped = errors.WithMessage(errors.WithStack(cause), reason)
	}
	return &Error{Code: code, Reason: reason, cause: wrapped}
}

// CodeOf extracts the Code from err, defaulting to Transport for any error
// that didn't originate from this package — an unclassified failure talking
// to a chain is assumed retryable rather than silently fatal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Transport
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }
