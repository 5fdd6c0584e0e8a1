// Package subscriber implements the subscriber half of a running session
// (spec.md §4.12): sending ANNOUNCE_PLEASE for a prefix and mirroring the
// resulting announce/unannounce events into a local Origin, issuing
// SUBSCRIBE for a local consume request and routing accepted group
// uni-streams into the right TrackProducer by request id, and FETCH for
// one-shot reads. Grounded on alxayo-rtmp-go/internal/rtmp/client's
// connect-then-read-loop shape, generalized from one RTMP stream to a
// request-id-multiplexed table of concurrent track subscriptions.
package subscriber

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-moq/internal/moq/control"
	"github.com/alxayo/go-moq/internal/moq/groupwire"
	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/origin"
	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moq/transport"
	"github.com/alxayo/go-moq/internal/moqerrors"
	"github.com/alxayo/go-moq/internal/wire"
)

// Subscriber runs the subscriber half of one session.
type Subscriber struct {
	conn    transport.Session
	control transport.Stream
	writeMu *sync.Mutex
	maxReqs uint64
	log     *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan control.SubscribeOK
	tracks   map[uint64]*model.TrackProducer
	announce map[string]*announceWatch
}

// announceWatch tracks one outstanding AnnouncePlease prefix and the
// local Origin mirroring the peer's matching broadcasts. This
// implementation assumes at most one concurrently outstanding
// AnnouncePlease per session, since the shared control-stream dialect
// built here carries no per-announce correlation id on
// ANNOUNCE_INIT/ACTIVE/ENDED to disambiguate which prefix they answer.
type announceWatch struct {
	prefix path.Path
	origin *origin.Origin
}

// New creates a Subscriber. maxRequestID is the flow-control ceiling
// exchanged at handshake (spec.md §4.12): Subscribe refuses to allocate a
// request id past it.
func New(conn transport.Session, control transport.Stream, writeMu *sync.Mutex, maxRequestID uint64, log *slog.Logger) *Subscriber {
	return &Subscriber{
		conn:     conn,
		control:  control,
		writeMu:  writeMu,
		maxReqs:  maxRequestID,
		log:      log,
		pending:  map[uint64]chan control.SubscribeOK{},
		tracks:   map[uint64]*model.TrackProducer{},
		announce: map[string]*announceWatch{},
	}
}

func (s *Subscriber) writeMessage(kind control.Kind, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return control.WriteMessage(s.control, kind, payload)
}

// HandleMessage dispatches one control message belonging to the
// subscriber half (replies to messages this side originated).
func (s *Subscriber) HandleMessage(kind control.Kind, payload []byte) error {
	switch kind {
	case control.KindSubscribeOK:
		msg, err := control.DecodeSubscribeOK(payload)
		if err != nil {
			return moqerrors.New("subscriber.handle_message", moqerrors.KindDecode, err)
		}
		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		s.mu.Unlock()
		if ok {
			ch <- msg
		}
		return nil
	case control.KindSubscribeDrop:
		msg, err := control.DecodeSubscribeDrop(payload)
		if err != nil {
			return moqerrors.New("subscriber.handle_message", moqerrors.KindDecode, err)
		}
		s.mu.Lock()
		tp, ok := s.tracks[msg.ID]
		ch, pendingOK := s.pending[msg.ID]
		s.mu.Unlock()
		if ok {
			tp.Abort(moqerrors.New("subscriber.subscribe_drop", moqerrors.KindNotFound, nil))
		}
		if pendingOK {
			close(ch)
		}
		return nil
	case control.KindAnnounceInit:
		msg, err := control.DecodeAnnounceInit(payload)
		if err != nil {
			return moqerrors.New("subscriber.handle_message", moqerrors.KindDecode, err)
		}
		s.applyAnnounceInit(msg)
		return nil
	case control.KindAnnounceActive:
		msg, err := control.DecodeAnnounceActive(payload)
		if err != nil {
			return moqerrors.New("subscriber.handle_message", moqerrors.KindDecode, err)
		}
		s.applyAnnounceActive(msg)
		return nil
	case control.KindAnnounceEnded:
		msg, err := control.DecodeAnnounceEnded(payload)
		if err != nil {
			return moqerrors.New("subscriber.handle_message", moqerrors.KindDecode, err)
		}
		s.applyAnnounceEnded(msg)
		return nil
	default:
		return moqerrors.New("subscriber.handle_message", moqerrors.KindUnsupported, nil)
	}
}

// AnnouncePlease sends our interest in prefix and returns the Origin that
// will be kept in sync with the peer's matching broadcasts: active ones
// appear as a PublishBroadcast call, ended ones as UnpublishBroadcast
// (spec.md §4.12). The bulk ANNOUNCE_INIT reply is applied as one atomic
// snapshot before any individual ANNOUNCE_ACTIVE/ENDED is processed.
func (s *Subscriber) AnnouncePlease(prefix path.Path) (*origin.Origin, error) {
	o := origin.New()
	s.mu.Lock()
	s.announce[prefix.String()] = &announceWatch{prefix: prefix, origin: o}
	s.mu.Unlock()

	if err := s.writeMessage(control.KindAnnouncePlease, control.AnnouncePlease{Prefix: prefix}.Encode()); err != nil {
		return nil, moqerrors.New("subscriber.announce_please", moqerrors.KindTransport, err)
	}
	return o, nil
}

func (s *Subscriber) applyAnnounceInit(msg control.AnnounceInit) {
	s.mu.Lock()
	var w *announceWatch
	for _, cand := range s.announce {
		w = cand
		break
	}
	s.mu.Unlock()
	if w == nil {
		return
	}
	for _, suffix := range msg.Suffixes {
		s.publishRemote(w, suffix)
	}
}

func (s *Subscriber) applyAnnounceActive(msg control.AnnounceActive) {
	s.mu.Lock()
	var w *announceWatch
	for _, cand := range s.announce {
		w = cand
		break
	}
	s.mu.Unlock()
	if w == nil {
		return
	}
	s.publishRemote(w, msg.Suffix)
}

func (s *Subscriber) applyAnnounceEnded(msg control.AnnounceEnded) {
	s.mu.Lock()
	var w *announceWatch
	for _, cand := range s.announce {
		w = cand
		break
	}
	s.mu.Unlock()
	if w == nil {
		return
	}
	full := path.Concat(w.prefix, msg.Suffix)
	w.origin.UnpublishBroadcast(full)
}

// publishRemote mirrors a remote broadcast into the local Origin as a
// fresh, empty BroadcastConsumer: it records that the broadcast exists so
// local callers can discover it via Announced(), but its tracks only
// begin carrying real data once a caller issues Consume for one of them
// and routes the accepted group streams in (spec.md §4.12 keeps track
// delivery and announce delivery as separate concerns).
func (s *Subscriber) publishRemote(w *announceWatch, suffix path.Path) {
	full := path.Concat(w.prefix, suffix)
	_, consumer := model.NewBroadcast()
	w.origin.PublishBroadcast(full, consumer)
}

// Consume sends SUBSCRIBE for (broadcast, track) and returns a
// TrackConsumer that will receive frames as accepted group uni-streams
// are routed to it (spec.md §4.12).
func (s *Subscriber) Consume(ctx context.Context, broadcast path.Path, track string, priority uint8, ordered bool, maxLatency time.Duration) (*model.TrackConsumer, error) {
	const op = "subscriber.consume"
	s.mu.Lock()
	if s.nextID >= s.maxReqs {
		s.mu.Unlock()
		return nil, moqerrors.New(op, moqerrors.KindTooMany, nil)
	}
	id := s.nextID
	s.nextID++
	ch := make(chan control.SubscribeOK, 1)
	s.pending[id] = ch
	tp, tc := model.NewTrack(track, priority)
	s.tracks[id] = tp
	s.mu.Unlock()

	err := s.writeMessage(control.KindSubscribe, control.Subscribe{
		ID: id, Broadcast: broadcast, Track: track, Priority: priority,
		Ordered: ordered, MaxLatency: maxLatency,
	}.Encode())
	if err != nil {
		return nil, moqerrors.New(op, moqerrors.KindTransport, err)
	}

	select {
	case _, ok := <-ch:
		if !ok {
			return nil, moqerrors.New(op, moqerrors.KindNotFound, nil)
		}
		return tc, nil
	case <-ctx.Done():
		return nil, moqerrors.New(op, moqerrors.KindCancel, ctx.Err())
	}
}

// Unsubscribe cancels a prior Consume by request id.
func (s *Subscriber) Unsubscribe(id uint64) error {
	s.mu.Lock()
	if tp, ok := s.tracks[id]; ok {
		tp.Close()
		delete(s.tracks, id)
	}
	delete(s.pending, id)
	s.mu.Unlock()
	return s.writeMessage(control.KindUnsubscribe, control.Unsubscribe{ID: id}.Encode())
}

// AcceptGroups runs the uni-stream accept loop, routing each accepted
// group stream to its subscription's TrackProducer by track alias
// (spec.md §4.12's "group stream handling"). Blocks until ctx is
// cancelled or the transport session ends.
func (s *Subscriber) AcceptGroups(ctx context.Context) {
	for {
		rs, err := s.conn.AcceptUni(ctx)
		if err != nil {
			return
		}
		go s.handleGroupStream(ctx, rs)
	}
}

func (s *Subscriber) handleGroupStream(ctx context.Context, rs transport.ReceiveStream) {
	r := wire.NewReader(rs)
	hdr, err := groupwire.ReadHeader(r)
	if err != nil {
		rs.CancelRead(uint64(control.CodeForKind(moqerrors.KindDecode)))
		return
	}

	s.mu.Lock()
	tp, ok := s.tracks[hdr.TrackAlias]
	s.mu.Unlock()
	if !ok {
		rs.CancelRead(uint64(control.CodeForKind(moqerrors.KindNotFound)))
		return
	}

	gp := tp.AppendGroup()
	for {
		_, _, payload, err := groupwire.ReadObject(r)
		if err != nil {
			if err == io.EOF {
				gp.Close()
			} else {
				gp.Abort(err)
			}
			return
		}
		fp := gp.CreateFrame(0, len(payload) > 0, int64(len(payload)))
		fp.WriteChunk(payload)
		fp.Close()
	}
}
