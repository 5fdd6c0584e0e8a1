package control

import (
	"bytes"
	"time"

	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moqerrors"
	"github.com/alxayo/go-moq/internal/wire"
)

const (
	maxPathSegments = 1024
	maxStringLen    = 1 << 16
	maxBytesLen     = 1 << 20
)

func appendPath(buf []byte, p path.Path) []byte {
	segs := p.Segments()
	buf = wire.AppendVarInt(buf, uint64(len(segs)))
	for _, s := range segs {
		buf = wire.AppendString(buf, s)
	}
	return buf
}

func readPath(r *wire.Reader) (path.Path, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return path.Path{}, err
	}
	if n > maxPathSegments {
		return path.Path{}, moqerrors.New("control.read_path", moqerrors.KindTooMany, nil)
	}
	segs := make([]string, n)
	for i := range segs {
		s, err := r.ReadString(maxStringLen)
		if err != nil {
			return path.Path{}, err
		}
		segs[i] = s
	}
	return path.FromSegments(segs), nil
}

func appendOptionalGroup(buf []byte, v uint64, present bool) []byte {
	buf = wire.AppendBool(buf, present)
	if present {
		buf = wire.AppendVarInt(buf, v)
	}
	return buf
}

func readOptionalGroup(r *wire.Reader) (uint64, bool, error) {
	present, err := r.ReadBool()
	if err != nil {
		return 0, false, err
	}
	if !present {
		return 0, false, nil
	}
	v, err := r.ReadVarInt()
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func newReader(payload []byte) *wire.Reader {
	return wire.NewReader(bytes.NewReader(payload))
}

func decodeErr(op string, err error) error {
	return moqerrors.New(op, moqerrors.KindDecode, err)
}

// SetupClient is the first message sent by a MoQ client (spec.md §6.2
// SETUP_CLIENT): an ordered version list (client preference order) plus
// opaque dialect-specific parameters.
type SetupClient struct {
	Versions   []uint64
	Parameters []byte
}

func (m SetupClient) Encode() []byte {
	var buf []byte
	buf = wire.AppendVarInt(buf, uint64(len(m.Versions)))
	for _, v := range m.Versions {
		buf = wire.AppendVarInt(buf, v)
	}
	buf = wire.AppendBytes(buf, m.Parameters)
	return buf
}

func DecodeSetupClient(payload []byte) (SetupClient, error) {
	r := newReader(payload)
	n, err := r.ReadVarInt()
	if err != nil {
		return SetupClient{}, decodeErr("control.setup_client", err)
	}
	if n > maxPathSegments {
		return SetupClient{}, moqerrors.New("control.setup_client", moqerrors.KindTooMany, nil)
	}
	versions := make([]uint64, n)
	for i := range versions {
		v, err := r.ReadVarInt()
		if err != nil {
			return SetupClient{}, decodeErr("control.setup_client", err)
		}
		versions[i] = v
	}
	params, err := r.ReadBytes(maxBytesLen)
	if err != nil {
		return SetupClient{}, decodeErr("control.setup_client", err)
	}
	return SetupClient{Versions: versions, Parameters: params}, nil
}

// SetupServer is the server's response, naming the single negotiated
// version (spec.md §6.2 SETUP_SERVER).
type SetupServer struct {
	Version    uint64
	Parameters []byte
}

func (m SetupServer) Encode() []byte {
	var buf []byte
	buf = wire.AppendVarInt(buf, m.Version)
	buf = wire.AppendBytes(buf, m.Parameters)
	return buf
}

func DecodeSetupServer(payload []byte) (SetupServer, error) {
	r := newReader(payload)
	v, err := r.ReadVarInt()
	if err != nil {
		return SetupServer{}, decodeErr("control.setup_server", err)
	}
	params, err := r.ReadBytes(maxBytesLen)
	if err != nil {
		return SetupServer{}, decodeErr("control.setup_server", err)
	}
	return SetupServer{Version: v, Parameters: params}, nil
}

// AnnouncePlease requests ANNOUNCE messages for broadcasts under prefix.
type AnnouncePlease struct {
	Prefix path.Path
}

func (m AnnouncePlease) Encode() []byte {
	return appendPath(nil, m.Prefix)
}

func DecodeAnnouncePlease(payload []byte) (AnnouncePlease, error) {
	r := newReader(payload)
	p, err := readPath(r)
	if err != nil {
		return AnnouncePlease{}, decodeErr("control.announce_please", err)
	}
	return AnnouncePlease{Prefix: p}, nil
}

// AnnounceInit lists the broadcasts already active under a requested
// prefix at the time ANNOUNCE_PLEASE was answered (older dialect only;
// spec.md §6.2).
type AnnounceInit struct {
	Suffixes []path.Path
}

func (m AnnounceInit) Encode() []byte {
	buf := wire.AppendVarInt(nil, uint64(len(m.Suffixes)))
	for _, s := range m.Suffixes {
		buf = appendPath(buf, s)
	}
	return buf
}

func DecodeAnnounceInit(payload []byte) (AnnounceInit, error) {
	r := newReader(payload)
	n, err := r.ReadVarInt()
	if err != nil {
		return AnnounceInit{}, decodeErr("control.announce_init", err)
	}
	if n > maxPathSegments {
		return AnnounceInit{}, moqerrors.New("control.announce_init", moqerrors.KindTooMany, nil)
	}
	suffixes := make([]path.Path, n)
	for i := range suffixes {
		p, err := readPath(r)
		if err != nil {
			return AnnounceInit{}, decodeErr("control.announce_init", err)
		}
		suffixes[i] = p
	}
	return AnnounceInit{Suffixes: suffixes}, nil
}

// AnnounceActive reports a broadcast becoming available; AnnounceEnded its
// disappearance. Hops counts relay hops traversed (spec.md §6.2).
type AnnounceActive struct {
	Suffix path.Path
	Hops   uint64
}

func (m AnnounceActive) Encode() []byte {
	buf := appendPath(nil, m.Suffix)
	return wire.AppendVarInt(buf, m.Hops)
}

func DecodeAnnounceActive(payload []byte) (AnnounceActive, error) {
	r := newReader(payload)
	p, err := readPath(r)
	if err != nil {
		return AnnounceActive{}, decodeErr("control.announce_active", err)
	}
	hops, err := r.ReadVarInt()
	if err != nil {
		return AnnounceActive{}, decodeErr("control.announce_active", err)
	}
	return AnnounceActive{Suffix: p, Hops: hops}, nil
}

type AnnounceEnded struct {
	Suffix path.Path
	Hops   uint64
}

func (m AnnounceEnded) Encode() []byte {
	buf := appendPath(nil, m.Suffix)
	return wire.AppendVarInt(buf, m.Hops)
}

func DecodeAnnounceEnded(payload []byte) (AnnounceEnded, error) {
	r := newReader(payload)
	p, err := readPath(r)
	if err != nil {
		return AnnounceEnded{}, decodeErr("control.announce_ended", err)
	}
	hops, err := r.ReadVarInt()
	if err != nil {
		return AnnounceEnded{}, decodeErr("control.announce_ended", err)
	}
	return AnnounceEnded{Suffix: p, Hops: hops}, nil
}

// Subscribe requests delivery of a track (spec.md §6.2 SUBSCRIBE).
// StartGroup/EndGroup are present only when HasStartGroup/HasEndGroup.
type Subscribe struct {
	ID            uint64
	Broadcast     path.Path
	Track         string
	Priority      uint8
	Ordered       bool
	MaxLatency    time.Duration
	StartGroup    uint64
	HasStartGroup bool
	EndGroup      uint64
	HasEndGroup   bool
}

func (m Subscribe) Encode() []byte {
	var buf []byte
	buf = wire.AppendVarInt(buf, m.ID)
	buf = appendPath(buf, m.Broadcast)
	buf = wire.AppendString(buf, m.Track)
	buf = append(buf, m.Priority)
	buf = wire.AppendBool(buf, m.Ordered)
	buf = wire.AppendVarInt(buf, uint64(m.MaxLatency.Milliseconds()))
	buf = appendOptionalGroup(buf, m.StartGroup, m.HasStartGroup)
	buf = appendOptionalGroup(buf, m.EndGroup, m.HasEndGroup)
	return buf
}

func DecodeSubscribe(payload []byte) (Subscribe, error) {
	r := newReader(payload)
	var m Subscribe
	var err error
	if m.ID, err = r.ReadVarInt(); err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	if m.Broadcast, err = readPath(r); err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	if m.Track, err = r.ReadString(maxStringLen); err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	b, err := r.ReadByte()
	if err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	m.Priority = b
	if m.Ordered, err = r.ReadBool(); err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	ms, err := r.ReadVarInt()
	if err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	m.MaxLatency = time.Duration(ms) * time.Millisecond
	if m.StartGroup, m.HasStartGroup, err = readOptionalGroup(r); err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	if m.EndGroup, m.HasEndGroup, err = readOptionalGroup(r); err != nil {
		return m, decodeErr("control.subscribe", err)
	}
	return m, nil
}

// SubscribeOK confirms a subscription and echoes the effective delivery
// parameters the publisher applied.
type SubscribeOK struct {
	ID               uint64
	SelectedPriority uint8
}

func (m SubscribeOK) Encode() []byte {
	buf := wire.AppendVarInt(nil, m.ID)
	return append(buf, m.SelectedPriority)
}

func DecodeSubscribeOK(payload []byte) (SubscribeOK, error) {
	r := newReader(payload)
	var m SubscribeOK
	var err error
	if m.ID, err = r.ReadVarInt(); err != nil {
		return m, decodeErr("control.subscribe_ok", err)
	}
	if m.SelectedPriority, err = r.ReadByte(); err != nil {
		return m, decodeErr("control.subscribe_ok", err)
	}
	return m, nil
}

// SubscribeDrop reports per-subscription error or cache-eviction skips
// (spec.md §6.2 SUBSCRIBE_DROP): count groups starting at sequence were
// skipped, with error 0 meaning a clean cache eviction.
type SubscribeDrop struct {
	ID       uint64
	Sequence uint64
	Count    uint64
	Error    uint64
}

func (m SubscribeDrop) Encode() []byte {
	var buf []byte
	buf = wire.AppendVarInt(buf, m.ID)
	buf = wire.AppendVarInt(buf, m.Sequence)
	buf = wire.AppendVarInt(buf, m.Count)
	buf = wire.AppendVarInt(buf, m.Error)
	return buf
}

func DecodeSubscribeDrop(payload []byte) (SubscribeDrop, error) {
	r := newReader(payload)
	var m SubscribeDrop
	var err error
	if m.ID, err = r.ReadVarInt(); err != nil {
		return m, decodeErr("control.subscribe_drop", err)
	}
	if m.Sequence, err = r.ReadVarInt(); err != nil {
		return m, decodeErr("control.subscribe_drop", err)
	}
	if m.Count, err = r.ReadVarInt(); err != nil {
		return m, decodeErr("control.subscribe_drop", err)
	}
	if m.Error, err = r.ReadVarInt(); err != nil {
		return m, decodeErr("control.subscribe_drop", err)
	}
	return m, nil
}

// Unsubscribe cancels a subscription.
type Unsubscribe struct {
	ID uint64
}

func (m Unsubscribe) Encode() []byte {
	return wire.AppendVarInt(nil, m.ID)
}

func DecodeUnsubscribe(payload []byte) (Unsubscribe, error) {
	r := newReader(payload)
	id, err := r.ReadVarInt()
	if err != nil {
		return Unsubscribe{}, decodeErr("control.unsubscribe", err)
	}
	return Unsubscribe{ID: id}, nil
}

// Fetch requests a single group out-of-band of any subscription.
type Fetch struct {
	Broadcast path.Path
	Track     string
	Priority  uint8
	Group     uint64
}

func (m Fetch) Encode() []byte {
	buf := appendPath(nil, m.Broadcast)
	buf = wire.AppendString(buf, m.Track)
	buf = append(buf, m.Priority)
	buf = wire.AppendVarInt(buf, m.Group)
	return buf
}

func DecodeFetch(payload []byte) (Fetch, error) {
	r := newReader(payload)
	var m Fetch
	var err error
	if m.Broadcast, err = readPath(r); err != nil {
		return m, decodeErr("control.fetch", err)
	}
	if m.Track, err = r.ReadString(maxStringLen); err != nil {
		return m, decodeErr("control.fetch", err)
	}
	if m.Priority, err = r.ReadByte(); err != nil {
		return m, decodeErr("control.fetch", err)
	}
	if m.Group, err = r.ReadVarInt(); err != nil {
		return m, decodeErr("control.fetch", err)
	}
	return m, nil
}

// Probe requests the peer send filler traffic at bitrate bits/sec to
// measure available throughput.
type Probe struct {
	Bitrate uint64
}

func (m Probe) Encode() []byte {
	return wire.AppendVarInt(nil, m.Bitrate)
}

func DecodeProbe(payload []byte) (Probe, error) {
	r := newReader(payload)
	bitrate, err := r.ReadVarInt()
	if err != nil {
		return Probe{}, decodeErr("control.probe", err)
	}
	return Probe{Bitrate: bitrate}, nil
}
