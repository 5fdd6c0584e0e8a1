// Package groupwire encodes and decodes the per-group unidirectional
// stream body (spec.md §6.2): a leading GroupType tag, a header
// identifying the track and group, then a sequence of framed objects.
// Shared by internal/moq/publisher (writer) and internal/moq/subscriber
// (reader) so both sides agree on one wire shape. Grounded on
// internal/wire's varint/bytes helpers (already used throughout
// internal/moq/control for the same style of length-prefixed framing),
// generalized from control's single-message framing to a repeating
// stream of framed objects.
package groupwire

import (
	"io"

	"github.com/alxayo/go-moq/internal/moqerrors"
	"github.com/alxayo/go-moq/internal/wire"
)

// GroupStreamType is the only stream type this module emits on a
// unidirectional stream; a distinct tag leaves room for future stream
// kinds (e.g. a datagram-backed group) without breaking framing.
const GroupStreamType = 0

// Header identifies which track and group a uni-stream's objects belong
// to (spec.md §6.2's per-group uni-stream header).
type Header struct {
	TrackAlias  uint64
	GroupID     uint64
	Subgroup    uint64
	HasSubgroup bool
	Priority    uint8
	HasPriority bool
	Flags       uint64
}

// WriteHeader writes the GroupType tag and the group header as one Write
// call.
func WriteHeader(w io.Writer, h Header) error {
	buf := wire.AppendVarInt(nil, GroupStreamType)
	buf = wire.AppendVarInt(buf, h.TrackAlias)
	buf = wire.AppendVarInt(buf, h.GroupID)
	buf = wire.AppendBool(buf, h.HasSubgroup)
	if h.HasSubgroup {
		buf = wire.AppendVarInt(buf, h.Subgroup)
	}
	buf = wire.AppendBool(buf, h.HasPriority)
	if h.HasPriority {
		buf = append(buf, h.Priority)
	}
	buf = wire.AppendVarInt(buf, h.Flags)
	if _, err := w.Write(buf); err != nil {
		return moqerrors.New("groupwire.write_header", moqerrors.KindTransport, err)
	}
	return nil
}

// ReadHeader reads the GroupType tag and group header from r. It returns
// moqerrors.KindUnsupported if the stream's type isn't GroupStreamType.
func ReadHeader(r *wire.Reader) (Header, error) {
	const op = "groupwire.read_header"
	typ, err := r.ReadVarInt()
	if err != nil {
		return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	if typ != GroupStreamType {
		return Header{}, moqerrors.New(op, moqerrors.KindUnsupported, nil)
	}
	var h Header
	if h.TrackAlias, err = r.ReadVarInt(); err != nil {
		return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	if h.GroupID, err = r.ReadVarInt(); err != nil {
		return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	if h.HasSubgroup, err = r.ReadBool(); err != nil {
		return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	if h.HasSubgroup {
		if h.Subgroup, err = r.ReadVarInt(); err != nil {
			return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
		}
	}
	if h.HasPriority, err = r.ReadBool(); err != nil {
		return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	if h.HasPriority {
		b, err := r.ReadByte()
		if err != nil {
			return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
		}
		h.Priority = b
	}
	if h.Flags, err = r.ReadVarInt(); err != nil {
		return Header{}, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	return h, nil
}

// WriteObject writes one { object_id_delta, extensions?, frame_size,
// frame_bytes } entry as a single Write call.
func WriteObject(w io.Writer, objectIDDelta uint64, extensions []byte, frameBytes []byte) error {
	buf := wire.AppendVarInt(nil, objectIDDelta)
	buf = wire.AppendBool(buf, extensions != nil)
	if extensions != nil {
		buf = wire.AppendBytes(buf, extensions)
	}
	buf = wire.AppendVarInt(buf, uint64(len(frameBytes)))
	buf = append(buf, frameBytes...)
	if _, err := w.Write(buf); err != nil {
		return moqerrors.New("groupwire.write_object", moqerrors.KindTransport, err)
	}
	return nil
}

// maxFrameSize bounds a single object's declared size, guarding against a
// corrupt or malicious length prefix forcing an unbounded allocation.
const maxFrameSize = 64 << 20

// ReadObject reads one object entry from r. A clean end of stream at an
// object boundary (no bytes of a new object have been read yet) returns
// io.EOF unwrapped, so callers can distinguish "the group is done" from a
// truncated-mid-object protocol error, which is wrapped as
// moqerrors.KindDecode.
func ReadObject(r *wire.Reader) (objectIDDelta uint64, extensions []byte, frameBytes []byte, err error) {
	const op = "groupwire.read_object"
	if objectIDDelta, err = r.ReadVarInt(); err != nil {
		if err == io.EOF {
			return 0, nil, nil, io.EOF
		}
		return 0, nil, nil, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	hasExt, err := r.ReadBool()
	if err != nil {
		return 0, nil, nil, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	if hasExt {
		if extensions, err = r.ReadBytes(maxFrameSize); err != nil {
			return 0, nil, nil, moqerrors.New(op, moqerrors.KindDecode, err)
		}
	}
	frameBytes, err = r.ReadBytes(maxFrameSize)
	if err != nil {
		return 0, nil, nil, moqerrors.New(op, moqerrors.KindDecode, err)
	}
	return objectIDDelta, extensions, frameBytes, nil
}
