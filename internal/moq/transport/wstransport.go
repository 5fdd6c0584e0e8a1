package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/alxayo/go-moq/internal/moqerrors"
	"github.com/alxayo/go-moq/internal/wire"
)

// Package doc for the WebSocket transport: spec.md §9 names WebSocket as
// the polyfill transport for browsers without QUIC datagram/stream
// support. gorilla/websocket (the dependency alxayo-rtmp-go's sibling
// pack repo vinq1911-nonchalant already carries for its own ws-FLV
// handler) gives one full-duplex message stream per connection; MoQ
// needs many concurrent uni/bi streams over it, so WSSession multiplexes
// them as length-delimited frames tagged with a stream id, the same way
// HTTP/2 and QUIC multiplex streams over one underlying connection.
//
// Frame layout (one gorilla BinaryMessage per frame):
//
//	VarInt streamID   (low bit: 0 = opened by the client, 1 = opened by the server)
//	byte   op         (0 = data, 1 = close, 2 = cancel)
//	[op==data]:   remaining bytes = payload
//	[op==cancel]: VarInt error code

const (
	wsOpData = iota
	wsOpClose
	wsOpCancel
)

// WSConn is the subset of *websocket.Conn this package depends on, so
// tests can fake it without a real socket.
type WSConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// WSSession adapts a WSConn into transport.Session by multiplexing
// pseudo-streams over it.
type WSSession struct {
	conn     WSConn
	alpn     string
	isServer bool

	writeMu sync.Mutex

	nextID uint64 // local stream id counter, pre-shift; actual id is (nextID<<1)|localBit

	mu        sync.Mutex
	streams   map[uint64]*wsStream
	acceptUni chan *wsStream
	acceptBi  chan *wsStream
	closed    bool
	closeErr  error

	pumpDone chan struct{}
}

var _ Session = (*WSSession)(nil)

// NewWSSession wraps conn. isServer picks which bit of the stream id this
// side uses for locally-opened streams, so ids client and server allocate
// independently never collide. alpn is reported by ALPN() (WebSocket
// carries no TLS ALPN of its own; spec.md §9 expects a caller to pass
// whatever was negotiated via the Sec-WebSocket-Protocol header, if any).
func NewWSSession(conn WSConn, isServer bool, alpn string) *WSSession {
	s := &WSSession{
		conn:      conn,
		alpn:      alpn,
		isServer:  isServer,
		streams:   map[uint64]*wsStream{},
		acceptUni: make(chan *wsStream, 64),
		acceptBi:  make(chan *wsStream, 64),
		pumpDone:  make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *WSSession) ALPN() string { return s.alpn }

func (s *WSSession) localBit() uint64 {
	if s.isServer {
		return 1
	}
	return 0
}

func (s *WSSession) allocID() uint64 {
	n := atomic.AddUint64(&s.nextID, 1) - 1
	return n<<1 | s.localBit()
}

func (s *WSSession) newLocalStream() *wsStream {
	st := &wsStream{
		session: s,
		id:      s.allocID(),
		readCh:  make(chan []byte, 64),
	}
	s.mu.Lock()
	s.streams[st.id] = st
	s.mu.Unlock()
	return st
}

func (s *WSSession) OpenUni(ctx context.Context) (SendStream, error) {
	return s.newLocalStream(), nil
}

func (s *WSSession) OpenBi(ctx context.Context) (Stream, error) {
	return s.newLocalStream(), nil
}

func (s *WSSession) AcceptUni(ctx context.Context) (ReceiveStream, error) {
	select {
	case st := <-s.acceptUni:
		return st, nil
	case <-ctx.Done():
		return nil, moqerrors.New("wstransport.accept_uni", moqerrors.KindCancel, ctx.Err())
	case <-s.pumpDone:
		return nil, moqerrors.New("wstransport.accept_uni", moqerrors.KindTransport, s.closeErr)
	}
}

func (s *WSSession) AcceptBi(ctx context.Context) (Stream, error) {
	select {
	case st := <-s.acceptBi:
		return st, nil
	case <-ctx.Done():
		return nil, moqerrors.New("wstransport.accept_bi", moqerrors.KindCancel, ctx.Err())
	case <-s.pumpDone:
		return nil, moqerrors.New("wstransport.accept_bi", moqerrors.KindTransport, s.closeErr)
	}
}

func (s *WSSession) Close(code uint64, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closeErr
	}
	s.closed = true
	s.closeErr = moqerrors.New("wstransport.close", moqerrors.KindCancel, nil)
	s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage, msg)
	s.writeMu.Unlock()
	return s.conn.Close()
}

// pump is the single reader goroutine required by gorilla/websocket
// (one concurrent reader per connection); it demultiplexes incoming
// frames into the right stream's read channel, discovering a
// remote-opened stream on its first frame.
func (s *WSSession) pump() {
	defer close(s.pumpDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.closeErr = moqerrors.New("wstransport.pump", moqerrors.KindTransport, err)
			for _, st := range s.streams {
				st.closeRead(err)
			}
			s.mu.Unlock()
			return
		}
		s.dispatch(data)
	}
}

func (s *WSSession) dispatch(data []byte) {
	br := byteReader(data)
	id, err := quicvarint.Read(br)
	if err != nil {
		return
	}
	opByte, err := br.ReadByte()
	if err != nil {
		return
	}
	rest := data[br.pos:]

	s.mu.Lock()
	st, ok := s.streams[id]
	if !ok {
		remote := id&1 != s.localBit()
		if !remote {
			s.mu.Unlock()
			return // stray frame referencing an id we never allocated locally
		}
		st = &wsStream{session: s, id: id, readCh: make(chan []byte, 64)}
		s.streams[id] = st
	}
	s.mu.Unlock()

	if !ok {
		select {
		case s.acceptUni <- st:
		default:
			select {
			case s.acceptBi <- st:
			default:
			}
		}
	}

	switch opByte {
	case wsOpData:
		select {
		case st.readCh <- rest:
		default:
		}
	case wsOpClose:
		st.closeRead(io.EOF)
	case wsOpCancel:
		st.closeRead(moqerrors.New("wstransport.remote_cancel", moqerrors.KindCancel, nil))
	}
}

// wsStream is one multiplexed pseudo-stream.
type wsStream struct {
	session *WSSession
	id      uint64

	readMu     sync.Mutex
	readCh     chan []byte
	readBuf    []byte
	readErr    error
	readClosed bool

	priority int
}

var _ Stream = (*wsStream)(nil)

func (st *wsStream) write(op byte, payload []byte) error {
	buf := wire.AppendVarInt(nil, st.id)
	buf = append(buf, op)
	buf = append(buf, payload...)
	st.session.writeMu.Lock()
	defer st.session.writeMu.Unlock()
	return st.session.conn.WriteMessage(websocket.BinaryMessage, buf)
}

func (st *wsStream) Write(p []byte) (int, error) {
	if err := st.write(wsOpData, p); err != nil {
		return 0, moqerrors.New("wstransport.write", moqerrors.KindTransport, err)
	}
	return len(p), nil
}

func (st *wsStream) Read(p []byte) (int, error) {
	for {
		st.readMu.Lock()
		if len(st.readBuf) > 0 {
			n := copy(p, st.readBuf)
			st.readBuf = st.readBuf[n:]
			st.readMu.Unlock()
			return n, nil
		}
		if st.readErr != nil {
			err := st.readErr
			st.readMu.Unlock()
			return 0, err
		}
		st.readMu.Unlock()

		// Block for the next frame without holding readMu, so a
		// concurrent closeRead (which needs it) can still run.
		chunk, ok := <-st.readCh
		if !ok {
			continue
		}
		st.readMu.Lock()
		st.readBuf = chunk
		st.readMu.Unlock()
	}
}

func (st *wsStream) SetPriority(p int) { st.priority = p }

func (st *wsStream) Close() error {
	return st.write(wsOpClose, nil)
}

func (st *wsStream) CancelWrite(code uint64) {
	buf := wire.AppendVarInt(nil, code)
	st.write(wsOpCancel, buf)
}

func (st *wsStream) CancelRead(code uint64) {
	st.closeRead(moqerrors.New("wstransport.cancel_read", moqerrors.KindCancel, nil))
}

func (st *wsStream) closeRead(err error) {
	st.readMu.Lock()
	defer st.readMu.Unlock()
	if st.readClosed {
		return
	}
	st.readClosed = true
	st.readErr = err
	close(st.readCh)
}

// byteReaderImpl adapts a []byte into an io.ByteReader/io.Reader pair for
// quicvarint.Read, tracking how much of it has been consumed so the
// caller can slice off whatever remains as one frame's payload.
type byteReaderImpl struct {
	b   []byte
	pos int
}

func byteReader(b []byte) *byteReaderImpl { return &byteReaderImpl{b: b} }

func (r *byteReaderImpl) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *byteReaderImpl) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
