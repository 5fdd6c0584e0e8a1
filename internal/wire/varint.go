// Package wire implements the byte-level codec shared by every MoQ control
// message and data-stream object: QUIC variable-length integers,
// length-prefixed strings/byte-strings, and single-byte booleans. It wraps
// github.com/quic-go/quic-go/quicvarint for the varint primitive, the same
// library the moq reference implementations in the example pack build on.
package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// AppendVarInt appends v to buf as a QUIC variable-length integer.
func AppendVarInt(buf []byte, v uint64) []byte {
	return quicvarint.Append(buf, v)
}

// VarIntLen returns the number of bytes AppendVarInt would write for v.
func VarIntLen(v uint64) int {
	return quicvarint.Len(v)
}

// AppendString appends a varint length prefix followed by the UTF-8 bytes
// of s.
func AppendString(buf []byte, s string) []byte {
	buf = AppendVarInt(buf, uint64(len(s)))
	return append(buf, s...)
}

// AppendBytes appends a varint length prefix followed by b.
func AppendBytes(buf []byte, b []byte) []byte {
	buf = AppendVarInt(buf, uint64(len(b)))
	return append(buf, b...)
}

// AppendBool appends a single-byte boolean (0 or 1).
func AppendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// Reader reads varints and length-prefixed fields from an underlying
// io.Reader, buffering as needed. It is the decode-side counterpart to the
// Append* helpers above.
type Reader struct {
	r quicvarint.Reader
}

// NewReader wraps r for varint-aware reads. If r does not already
// implement quicvarint.Reader (ReadByte + Read), it is wrapped in a
// bufio.Reader.
func NewReader(r io.Reader) *Reader {
	if vr, ok := r.(quicvarint.Reader); ok {
		return &Reader{r: vr}
	}
	return &Reader{r: bufio.NewReader(r)}
}

// ReadVarInt reads one QUIC variable-length integer.
func (r *Reader) ReadVarInt() (uint64, error) {
	return quicvarint.Read(r.r)
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	return r.r.ReadByte()
}

// ReadBool reads a single-byte boolean.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("wire: invalid bool byte %d", b)
	}
}

// ReadBytes reads a varint length prefix then that many bytes.
func (r *Reader) ReadBytes(maxLen uint64) ([]byte, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && n > maxLen {
		return nil, fmt.Errorf("wire: length %d exceeds max %d", n, maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a varint length prefix then that many bytes as a string.
func (r *Reader) ReadString(maxLen uint64) (string, error) {
	b, err := r.ReadBytes(maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
