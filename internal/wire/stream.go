package wire

import (
	"bufio"
	"io"

	"github.com/alxayo/go-moq/internal/bufpool"
)

// Sizer lets an encoder precompute the length of a message before
// buffering it, so a length prefix can be written without a temporary
// allocation.
type Sizer interface {
	// Size returns the number of bytes Encode would write.
	Size() int
}

// Encoder is implemented by any wire message that knows how to append
// itself to a byte buffer.
type Encoder interface {
	Encode(buf []byte) []byte
}

// Decoder is implemented by any wire message that knows how to read itself
// from a Reader.
type Decoder interface {
	Decode(r *Reader) error
}

// Stream wraps a transport bidirectional stream with a buffered reader
// (Decode / DecodeMaybe) and a raw writer (Encode / Finish / Abort /
// Closed), matching spec.md's 4.1 "Stream abstraction".
type Stream struct {
	rw     io.ReadWriteCloser
	reader *Reader
	bufr   *bufio.Reader
	closed chan struct{}
}

// NewStream wraps rw.
func NewStream(rw io.ReadWriteCloser) *Stream {
	br := bufio.NewReader(rw)
	return &Stream{
		rw:     rw,
		reader: &Reader{r: br},
		bufr:   br,
		closed: make(chan struct{}),
	}
}

// Encode writes m's wire bytes to the stream immediately. The staging
// buffer comes from bufpool so repeated control/object encodes on a busy
// session don't churn a fresh allocation per message; it returns to the
// pool once Write has copied it out.
func (s *Stream) Encode(m Encoder) error {
	buf := bufpool.Get(128)[:0]
	buf = m.Encode(buf)
	_, err := s.rw.Write(buf)
	bufpool.Put(buf)
	return err
}

// Decode reads and decodes a message, blocking until one full message is
// available or the stream errors.
func (s *Stream) Decode(m Decoder) error {
	return m.Decode(s.reader)
}

// DecodeMaybe attempts to decode a message but returns (false, nil) rather
// than an error if the stream has no buffered bytes left to start a new
// message (used to detect a clean end-of-stream between messages).
func (s *Stream) DecodeMaybe(m Decoder) (bool, error) {
	if _, err := s.bufr.Peek(1); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	if err := m.Decode(s.reader); err != nil {
		return false, err
	}
	return true, nil
}

// Finish closes the write side cleanly.
func (s *Stream) Finish() error {
	return s.rw.Close()
}

// Abort closes the stream abruptly; callers pass the closing error kind
// separately to the transport layer, which maps it to an application error
// code (see internal/moq/control's kind-to-code table).
func (s *Stream) Abort(_ error) error {
	close(s.closed)
	return s.rw.Close()
}

// Closed returns a channel that is closed when Abort has been called.
func (s *Stream) Closed() <-chan struct{} {
	return s.closed
}
