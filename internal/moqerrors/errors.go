// Package moqerrors implements the error taxonomy every moq package
// classifies its failures into. Every Error carries a Kind drawn from a
// fixed set so callers can map session/subscription/group failures to the
// wire error codes and log levels the protocol expects, without inspecting
// error strings.
package moqerrors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies an Error into the taxonomy used for wire-code mapping
// and log-level selection.
type Kind int

const (
	KindUnknown Kind = iota
	KindCancel
	KindTransport
	KindDecode
	KindUnsupported
	KindVersionNegotiationFailed
	KindUnknownALPN
	KindNotFound
	KindUnauthorized
	KindDuplicate
	KindTooMany
	KindMissingKeyframe
	KindTimestampBackwards
	KindTimeOverflow
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindCancel:
		return "cancel"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindUnsupported:
		return "unsupported"
	case KindVersionNegotiationFailed:
		return "version_negotiation_failed"
	case KindUnknownALPN:
		return "unknown_alpn"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindDuplicate:
		return "duplicate"
	case KindTooMany:
		return "too_many"
	case KindMissingKeyframe:
		return "missing_keyframe"
	case KindTimestampBackwards:
		return "timestamp_backwards"
	case KindTimeOverflow:
		return "time_overflow"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// moqError is implemented by Error so the chain can be classified by
// errors.As without callers needing the concrete type.
type moqError interface {
	error
	isMoQ()
}

// Error is the single error type used across the moq packages. Op names
// the failing operation (e.g. "track.append_group", "session.handshake");
// Err is the wrapped cause, if any.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) isMoQ()        {}

// New constructs an Error of the given kind.
func New(op string, kind Kind, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindUnknown with ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return KindUnknown, false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTimeout returns true if err is a KindTimeout Error, a context deadline
// exceeded, or exposes Timeout() bool and returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, KindTimeout) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stderrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsMoQError reports whether err carries an explicit taxonomy Kind.
func IsMoQError(err error) bool {
	if err == nil {
		return false
	}
	var m moqError
	return stderrors.As(err, &m)
}
