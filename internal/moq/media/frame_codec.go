// Package media implements the ordered producer/consumer pair that turns a
// raw frame stream into keyframe-delimited groups and back (spec.md §4.8,
// §4.9), grounded on
// _examples/original_source/rs/hang/src/container/frame.rs's Frame.encode()
// wire shape for the payload encoding, and on the teacher's
// alxayo-rtmp-go/internal/rtmp/conn/conn.go read/write loop + context
// cancellation idiom for the consumer's cooperative scheduling.
package media

import (
	"bytes"
	"io"

	"github.com/alxayo/go-moq/internal/moqerrors"
	"github.com/alxayo/go-moq/internal/wire"
)

// Encode prepends a varint microsecond timestamp to payload (spec.md §4.8:
// "length-prefixed with a varint microsecond timestamp followed by the
// codec bytes").
func Encode(ts int64, payload []byte) []byte {
	buf := wire.AppendVarInt(make([]byte, 0, wire.VarIntLen(uint64(ts))+len(payload)), uint64(ts))
	return append(buf, payload...)
}

// Decode splits an encoded frame payload back into its timestamp and codec
// bytes.
func Decode(b []byte) (ts int64, payload []byte, err error) {
	br := bytes.NewReader(b)
	r := wire.NewReader(br)
	v, rerr := r.ReadVarInt()
	if rerr != nil {
		return 0, nil, moqerrors.New("media.decode", moqerrors.KindDecode, rerr)
	}
	rest := make([]byte, br.Len())
	if _, rerr := io.ReadFull(br, rest); rerr != nil {
		return 0, nil, moqerrors.New("media.decode", moqerrors.KindDecode, rerr)
	}
	return int64(v), rest, nil
}
