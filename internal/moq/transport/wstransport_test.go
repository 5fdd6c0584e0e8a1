package transport

import (
	"context"
	"io"
	"testing"
	"time"
)

// fakeWSConn is an in-memory WSConn backed by a channel, standing in for
// a real *websocket.Conn so WSSession's multiplexing can be exercised
// without a network socket.
type fakeWSConn struct {
	out  chan<- []byte
	in   <-chan []byte
	done chan struct{}
}

func newFakeWSPair() (*fakeWSConn, *fakeWSConn) {
	a2b := make(chan []byte, 256)
	b2a := make(chan []byte, 256)
	return &fakeWSConn{out: a2b, in: b2a, done: make(chan struct{})},
		&fakeWSConn{out: b2a, in: a2b, done: make(chan struct{})}
}

func (c *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.out <- buf:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *fakeWSConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 2, b, nil
	case <-c.done:
		return 0, nil, io.EOF
	}
}

func (c *fakeWSConn) Close() error {
	close(c.done)
	return nil
}

func TestWSSessionBiStreamRoundTrip(t *testing.T) {
	connA, connB := newFakeWSPair()
	client := NewWSSession(connA, false, "")
	server := NewWSSession(connB, true, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := client.OpenBi(ctx)
	if err != nil {
		t.Fatalf("OpenBi: %v", err)
	}
	if _, err := st.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	accepted, err := server.AcceptBi(ctx)
	if err != nil {
		t.Fatalf("AcceptBi: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(accepted, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}

	if _, err := accepted.Write([]byte("world")); err != nil {
		t.Fatalf("reply Write: %v", err)
	}
	reply := make([]byte, 5)
	if _, err := io.ReadFull(st, reply); err != nil {
		t.Fatalf("reply ReadFull: %v", err)
	}
	if string(reply) != "world" {
		t.Fatalf("got reply %q", reply)
	}
}

func TestWSSessionUniStreamCloseSignalsEOF(t *testing.T) {
	connA, connB := newFakeWSPair()
	client := NewWSSession(connA, false, "")
	server := NewWSSession(connB, true, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := client.OpenUni(ctx)
	if err != nil {
		t.Fatalf("OpenUni: %v", err)
	}
	if _, err := st.Write([]byte("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	accepted, err := server.AcceptUni(ctx)
	if err != nil {
		t.Fatalf("AcceptUni: %v", err)
	}
	buf, err := io.ReadAll(accepted)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(buf) != "a" {
		t.Fatalf("got %q", buf)
	}
}
