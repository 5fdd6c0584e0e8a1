package control

import (
	"encoding/binary"
	"io"

	"github.com/alxayo/go-moq/internal/moqerrors"
	"github.com/alxayo/go-moq/internal/wire"
)

// ReadMessage reads one control message: a varint Kind tag followed by a
// uint16 big-endian length and that many payload bytes.
func ReadMessage(r io.Reader) (Kind, []byte, error) {
	wr := wire.NewReader(r)
	k, err := wr.ReadVarInt()
	if err != nil {
		return 0, nil, moqerrors.New("control.read_message", moqerrors.KindDecode, err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, moqerrors.New("control.read_message", moqerrors.KindDecode, err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, moqerrors.New("control.read_message", moqerrors.KindDecode, err)
		}
	}
	return Kind(k), payload, nil
}

// WriteMessage writes kind and payload as a single Write call so the frame
// is atomic even without external serialization (mirrors the teacher
// pack's WriteControlMsg).
func WriteMessage(w io.Writer, kind Kind, payload []byte) error {
	buf := wire.AppendVarInt(make([]byte, 0, wire.VarIntLen(uint64(kind))+2+len(payload)), uint64(kind))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return moqerrors.New("control.write_message", moqerrors.KindTransport, err)
	}
	return nil
}
