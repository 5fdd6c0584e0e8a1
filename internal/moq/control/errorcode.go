package control

import "github.com/alxayo/go-moq/internal/moqerrors"

// ErrorCode is the application error code carried on a transport-level
// session or stream close (spec.md §4.13's failure semantics summary:
// "close the session with a kind-specific code").
type ErrorCode uint64

// Session/stream close codes. 0 is reserved for a clean, non-error close.
const (
	ErrorCodeNone ErrorCode = iota
	ErrorCodeProtocol
	ErrorCodeVersionNegotiationFailed
	ErrorCodeUnknownALPN
	ErrorCodeUnauthorized
	ErrorCodeTooMany
	ErrorCodeInternal
)

// CodeForKind maps a moqerrors.Kind to the wire error code a session or
// stream close should carry. Kinds with no dedicated code map to
// ErrorCodeInternal; this includes KindNotFound, whose code the publisher
// puts in the SUBSCRIBE_DROP it sends for a missing broadcast.
func CodeForKind(k moqerrors.Kind) ErrorCode {
	switch k {
	case moqerrors.KindCancel:
		return ErrorCodeNone
	case moqerrors.KindVersionNegotiationFailed:
		return ErrorCodeVersionNegotiationFailed
	case moqerrors.KindUnknownALPN:
		return ErrorCodeUnknownALPN
	case moqerrors.KindUnauthorized:
		return ErrorCodeUnauthorized
	case moqerrors.KindTooMany:
		return ErrorCodeTooMany
	case moqerrors.KindDecode, moqerrors.KindUnsupported:
		return ErrorCodeProtocol
	default:
		return ErrorCodeInternal
	}
}
