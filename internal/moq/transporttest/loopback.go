// Package transporttest provides an in-process pair of transport.Session
// implementations connected by pipes, playing the role the teacher's
// singleConnListener (alxayo-rtmp-go/internal/rtmp/server, test helpers)
// plays for a bare net.Conn: a fake transport so session/publisher/
// subscriber tests exercise real stream semantics without a real QUIC or
// WebSocket connection.
package transporttest

import (
	"context"
	"io"
	"sync"

	"github.com/alxayo/go-moq/internal/moq/transport"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// pipeStream adapts an io.Pipe reader/writer pair into a transport.Stream.
type pipeStream struct {
	r        *io.PipeReader
	w        *io.PipeWriter
	priority int
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *pipeStream) SetPriority(p int)           { s.priority = p }
func (s *pipeStream) Close() error                { return s.w.Close() }
func (s *pipeStream) CancelWrite(code uint64) {
	s.w.CloseWithError(moqerrors.New("transporttest.cancel_write", moqerrors.KindCancel, nil))
}
func (s *pipeStream) CancelRead(code uint64) {
	s.r.CloseWithError(moqerrors.New("transporttest.cancel_read", moqerrors.KindCancel, nil))
}

// Pair holds the two ends of an in-memory session, named after which
// side opened the transport (client dialed, server accepted).
type Pair struct {
	Client *Session
	Server *Session
}

// NewPair creates a connected client/server Session pair. alpn is
// reported by ALPN() on both ends (empty string models a transport with
// no ALPN, forcing version negotiation into SETUP).
func NewPair(alpn string) *Pair {
	uniC2S := make(chan *pipeStream, 64)
	uniS2C := make(chan *pipeStream, 64)
	biC2S := make(chan *pipeStream, 64)
	biS2C := make(chan *pipeStream, 64)

	return &Pair{
		Client: &Session{alpn: alpn, openUni: uniC2S, acceptUni: uniS2C, openBi: biC2S, acceptBi: biS2C},
		Server: &Session{alpn: alpn, openUni: uniS2C, acceptUni: uniC2S, openBi: biS2C, acceptBi: biC2S},
	}
}

// Session is one end of an in-memory transport.Session.
type Session struct {
	alpn string

	mu       sync.Mutex
	closed   bool
	closeErr error

	openUni   chan<- *pipeStream
	acceptUni <-chan *pipeStream
	openBi    chan<- *pipeStream
	acceptBi  <-chan *pipeStream
}

var _ transport.Session = (*Session)(nil)

func (s *Session) ALPN() string { return s.alpn }

func (s *Session) OpenUni(ctx context.Context) (transport.SendStream, error) {
	r, w := io.Pipe()
	local := &pipeStream{w: w}
	remote := &pipeStream{r: r}
	select {
	case s.openUni <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, moqerrors.New("transporttest.open_uni", moqerrors.KindCancel, ctx.Err())
	}
}

func (s *Session) AcceptUni(ctx context.Context) (transport.ReceiveStream, error) {
	select {
	case st := <-s.acceptUni:
		return st, nil
	case <-ctx.Done():
		return nil, moqerrors.New("transporttest.accept_uni", moqerrors.KindCancel, ctx.Err())
	}
}

func (s *Session) OpenBi(ctx context.Context) (transport.Stream, error) {
	localR, remoteW := io.Pipe()
	remoteR, localW := io.Pipe()
	local := &pipeStream{r: localR, w: localW}
	remote := &pipeStream{r: remoteR, w: remoteW}
	select {
	case s.openBi <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, moqerrors.New("transporttest.open_bi", moqerrors.KindCancel, ctx.Err())
	}
}

func (s *Session) AcceptBi(ctx context.Context) (transport.Stream, error) {
	select {
	case st := <-s.acceptBi:
		return st, nil
	case <-ctx.Done():
		return nil, moqerrors.New("transporttest.accept_bi", moqerrors.KindCancel, ctx.Err())
	}
}

func (s *Session) Close(code uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = moqerrors.New("transporttest.close", moqerrors.KindCancel, nil)
	return nil
}
