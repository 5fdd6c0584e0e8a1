package transport

import (
	"context"

	"github.com/quic-go/quic-go"
)

// QUICSession adapts a *quic.Conn into transport.Session (spec.md §6.1).
// It is the transport this module actually ships with: quic-go's native
// stream API already matches open_uni/accept_uni/open_bi/accept_bi almost
// one for one, so this wrapper is thin.
type QUICSession struct {
	conn *quic.Conn
}

// NewQUICSession wraps an already-established QUIC connection (handshake
// complete, so ConnectionState/ALPN is available).
func NewQUICSession(conn *quic.Conn) *QUICSession {
	return &QUICSession{conn: conn}
}

var _ Session = (*QUICSession)(nil)

func (s *QUICSession) OpenUni(ctx context.Context) (SendStream, error) {
	st, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicSendStream{st}, nil
}

func (s *QUICSession) AcceptUni(ctx context.Context) (ReceiveStream, error) {
	st, err := s.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicReceiveStream{st}, nil
}

func (s *QUICSession) OpenBi(ctx context.Context) (Stream, error) {
	st, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{st}, nil
}

func (s *QUICSession) AcceptBi(ctx context.Context) (Stream, error) {
	st, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{st}, nil
}

func (s *QUICSession) Close(code uint64, reason string) error {
	return s.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// ALPN returns the protocol negotiated during the TLS handshake, letting
// session.HandshakeClient/HandshakeServer skip SETUP for dialects that
// bind a version to an ALPN token (spec.md §4.10).
func (s *QUICSession) ALPN() string {
	return s.conn.ConnectionState().TLS.NegotiatedProtocol
}

type quicSendStream struct {
	*quic.SendStream
}

// SetPriority is a no-op: quic-go's stable API schedules a connection's
// streams FIFO per congestion-window slot and does not expose per-stream
// send priority, so callers get best-effort ordering only.
func (s *quicSendStream) SetPriority(int) {}

func (s *quicSendStream) CancelWrite(code uint64) {
	s.SendStream.CancelWrite(quic.StreamErrorCode(code))
}

type quicReceiveStream struct {
	*quic.ReceiveStream
}

func (s *quicReceiveStream) CancelRead(code uint64) {
	s.ReceiveStream.CancelRead(quic.StreamErrorCode(code))
}

type quicStream struct {
	*quic.Stream
}

func (s *quicStream) SetPriority(int) {}

func (s *quicStream) CancelWrite(code uint64) {
	s.Stream.CancelWrite(quic.StreamErrorCode(code))
}

func (s *quicStream) CancelRead(code uint64) {
	s.Stream.CancelRead(quic.StreamErrorCode(code))
}
