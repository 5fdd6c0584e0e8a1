// Package transport defines the session-transport abstraction the moq
// core runs on (spec.md §6.1): open/accept for uni- and bidirectional
// streams, per-stream priority and finish/abort, and a session-level
// close with an application error code. Concrete implementations live in
// quictransport.go (real QUIC) and wstransport.go (WebSocket polyfill);
// transporttest provides an in-memory pair for unit tests. Grounded on
// alxayo-rtmp-go's net.Conn-based connection handling, generalized from a
// single byte-stream connection to a multi-stream session since MoQ needs
// one control stream plus one uni-stream per group.
package transport

import (
	"context"
	"io"
)

// SendStream is a single unidirectional, or the write half of a
// bidirectional, transport stream.
type SendStream interface {
	io.Writer
	// SetPriority sets the stream's send priority; lower values are sent
	// first when multiple streams are congestion-limited (spec.md §4.11:
	// group streams carry the track's priority).
	SetPriority(priority int)
	// Close finishes the stream cleanly (FIN).
	Close() error
	// CancelWrite aborts the stream with an application error code,
	// signalling the peer's read side that no more data is coming
	// (spec.md §4.11's "on frame-level cancellation, abort the task").
	CancelWrite(code uint64)
}

// ReceiveStream is a single unidirectional, or the read half of a
// bidirectional, transport stream.
type ReceiveStream interface {
	io.Reader
	// CancelRead stops reading and signals the peer's write side with an
	// application error code.
	CancelRead(code uint64)
}

// Stream is a bidirectional transport stream, used for the control
// stream (spec.md §4.13).
type Stream interface {
	SendStream
	ReceiveStream
}

// Session is the transport-level connection a moq session runs over.
type Session interface {
	// OpenUni opens a new unidirectional send stream (used for group
	// delivery, spec.md §4.11).
	OpenUni(ctx context.Context) (SendStream, error)
	// AcceptUni accepts the next unidirectional stream opened by the
	// peer.
	AcceptUni(ctx context.Context) (ReceiveStream, error)
	// OpenBi opens a new bidirectional stream (the control stream).
	OpenBi(ctx context.Context) (Stream, error)
	// AcceptBi accepts the next bidirectional stream opened by the peer.
	AcceptBi(ctx context.Context) (Stream, error)
	// Close tears down the whole session with an application error code
	// and a human-readable reason (spec.md §4.10's cancellation rule).
	Close(code uint64, reason string) error
	// ALPN returns the negotiated application protocol, or "" if the
	// transport doesn't support ALPN (e.g. the WebSocket polyfill), in
	// which case version negotiation happens entirely in SETUP.
	ALPN() string
}
