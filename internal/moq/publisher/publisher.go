// Package publisher implements the publisher half of a running session
// (spec.md §4.11): answering ANNOUNCE_PLEASE by watching the local Origin
// and pushing ANNOUNCE_ACTIVE/ANNOUNCE_ENDED, answering SUBSCRIBE by
// opening per-group uni-streams off the requested track's TrackConsumer
// under the "serve at most two groups" policy, answering FETCH with a
// single group, and logging PROBE (no reply is sent). Grounded on
// alxayo-rtmp-go/internal/rtmp/server/hooks's per-connection dispatch-loop
// shape and internal/rtmp/relay's fan-out-to-subscriber idiom, generalized
// from a single video/audio pair to an arbitrary named-track broadcast.
package publisher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alxayo/go-moq/internal/moq/control"
	"github.com/alxayo/go-moq/internal/moq/groupwire"
	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/origin"
	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moq/pqueue"
	"github.com/alxayo/go-moq/internal/moq/transport"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// Publisher runs the publisher half of one session.
type Publisher struct {
	conn    transport.Session
	control transport.Stream
	writeMu *sync.Mutex
	origin  *origin.Scoped
	log     *slog.Logger

	mu   sync.Mutex
	subs map[uint64]*subscription

	// groups is the shared priority queue (spec.md §4.6) ranking every
	// group-serving stream currently open on this connection by
	// (track_priority, sequence); spawnGroup inserts into it and a
	// watcher goroutine pushes each rank change to the stream.
	groups *pqueue.Queue
}

// New creates a Publisher that answers requests against origin (already
// scoped to whatever prefixes the peer is authorized to see), writing and
// reading control messages over control. writeMu must be shared with the
// session's Subscriber half, since both write to the same bidi stream.
func New(conn transport.Session, control transport.Stream, writeMu *sync.Mutex, scoped *origin.Scoped, log *slog.Logger) *Publisher {
	return &Publisher{
		conn:    conn,
		control: control,
		writeMu: writeMu,
		origin:  scoped,
		log:     log,
		subs:    map[uint64]*subscription{},
		groups:  pqueue.New(),
	}
}

// groupSlot tracks one of the (at most two) group-serving tasks a
// subscription keeps alive (spec.md §4.11).
type groupSlot struct {
	sequence uint64
	cancel   context.CancelFunc
}

type subscription struct {
	id         uint64
	trackAlias uint64
	priority   uint8
	tc         *model.TrackConsumer
	cancel     context.CancelFunc

	mu  sync.Mutex
	old *groupSlot
	new *groupSlot
}

// HandleMessage dispatches one control message already read off the
// shared control stream by the session's central read loop (spec.md
// §4.13: one reader per bidi stream; kind determines which half -
// publisher or subscriber - owns it).
func (p *Publisher) HandleMessage(ctx context.Context, kind control.Kind, payload []byte) error {
	switch kind {
	case control.KindAnnouncePlease:
		msg, err := control.DecodeAnnouncePlease(payload)
		if err != nil {
			return moqerrors.New("publisher.handle_message", moqerrors.KindDecode, err)
		}
		go p.runAnnounce(ctx, msg.Prefix)
		return nil
	case control.KindSubscribe:
		msg, err := control.DecodeSubscribe(payload)
		if err != nil {
			return moqerrors.New("publisher.handle_message", moqerrors.KindDecode, err)
		}
		p.handleSubscribe(ctx, msg)
		return nil
	case control.KindUnsubscribe:
		msg, err := control.DecodeUnsubscribe(payload)
		if err != nil {
			return moqerrors.New("publisher.handle_message", moqerrors.KindDecode, err)
		}
		p.handleUnsubscribe(msg)
		return nil
	case control.KindFetch:
		msg, err := control.DecodeFetch(payload)
		if err != nil {
			return moqerrors.New("publisher.handle_message", moqerrors.KindDecode, err)
		}
		go p.handleFetch(ctx, msg)
		return nil
	case control.KindProbe:
		msg, err := control.DecodeProbe(payload)
		if err != nil {
			return moqerrors.New("publisher.handle_message", moqerrors.KindDecode, err)
		}
		p.log.Debug("probe received", "bitrate", msg.Bitrate)
		return nil
	default:
		return moqerrors.New("publisher.handle_message", moqerrors.KindUnsupported, nil)
	}
}

func (p *Publisher) writeMessage(kind control.Kind, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return control.WriteMessage(p.control, kind, payload)
}

// runAnnounce streams the current and future announce/unannounce events
// under prefix to the peer: first the already-active broadcasts as an
// atomic initial snapshot (ANNOUNCE_INIT), then individual updates
// (ANNOUNCE_ACTIVE / ANNOUNCE_ENDED) as the local Origin changes.
func (p *Publisher) runAnnounce(ctx context.Context, prefix path.Path) {
	scoped := p.origin
	next := scoped.Announced()

	var initial []path.Path
	for {
		e, err := next(immediateCtx())
		if err != nil {
			break
		}
		if suffix, ok := e.Path.StripPrefix(prefix); ok && e.Active {
			initial = append(initial, suffix)
		}
	}
	if err := p.writeMessage(control.KindAnnounceInit, control.AnnounceInit{Suffixes: initial}.Encode()); err != nil {
		p.log.Debug("announce_init write failed", "error", err)
		return
	}

	for {
		e, err := next(ctx)
		if err != nil {
			return
		}
		suffix, ok := e.Path.StripPrefix(prefix)
		if !ok {
			continue
		}
		var kind control.Kind
		var payload []byte
		if e.Active {
			kind = control.KindAnnounceActive
			payload = control.AnnounceActive{Suffix: suffix, Hops: 0}.Encode()
		} else {
			kind = control.KindAnnounceEnded
			payload = control.AnnounceEnded{Suffix: suffix, Hops: 0}.Encode()
		}
		if err := p.writeMessage(kind, payload); err != nil {
			p.log.Debug("announce update write failed", "error", err)
			return
		}
	}
}

// immediateCtx returns an already-cancelled context, used to drain
// whatever announce events are already buffered without blocking for new
// ones (mirrors origin.Scoped.Announced's try_announced semantics).
func immediateCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (p *Publisher) handleSubscribe(ctx context.Context, msg control.Subscribe) {
	bc, err := p.origin.ConsumeBroadcast(msg.Broadcast)
	if err != nil {
		// spec.md §4.11: "if missing, respond with a not-found error".
		// The moq-lite dialect carries no dedicated SUBSCRIBE_ERROR
		// message, so rejection is modeled as an immediate
		// SUBSCRIBE_DROP for an id that was never sent a
		// SUBSCRIBE_OK (a documented Open Question decision).
		kind, _ := moqerrors.KindOf(err)
		p.writeMessage(control.KindSubscribeDrop, control.SubscribeDrop{
			ID: msg.ID, Sequence: 0, Count: 0, Error: uint64(control.CodeForKind(kind)),
		}.Encode())
		return
	}

	tc := bc.SubscribeTrack(msg.Track, msg.Priority)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{id: msg.ID, trackAlias: msg.ID, priority: msg.Priority, tc: tc, cancel: cancel}

	p.mu.Lock()
	p.subs[msg.ID] = sub
	p.mu.Unlock()

	if err := p.writeMessage(control.KindSubscribeOK, control.SubscribeOK{ID: msg.ID, SelectedPriority: msg.Priority}.Encode()); err != nil {
		p.log.Debug("subscribe_ok write failed", "error", err)
		cancel()
		return
	}

	go p.runSubscription(subCtx, sub)
}

func (p *Publisher) handleUnsubscribe(msg control.Unsubscribe) {
	p.mu.Lock()
	sub, ok := p.subs[msg.ID]
	if ok {
		delete(p.subs, msg.ID)
	}
	p.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// runSubscription accepts groups from the track in order and applies the
// "serve at most two groups" policy (spec.md §4.11) to each.
func (p *Publisher) runSubscription(ctx context.Context, sub *subscription) {
	defer sub.tc.Release()
	for {
		gc, err := sub.tc.NextGroup(ctx)
		if err != nil || gc == nil {
			return
		}
		p.admitGroup(ctx, sub, gc)
	}
}

func (p *Publisher) admitGroup(ctx context.Context, sub *subscription, gc *model.GroupConsumer) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	s := gc.Sequence()
	if sub.old != nil && s < sub.old.sequence {
		return
	}
	if sub.old != nil {
		sub.old.cancel()
	}
	if sub.new == nil || s >= sub.new.sequence {
		// The incoming group is at least as new as whatever new_group
		// currently is (including the first two arrivals, when
		// new_group doesn't exist yet): new_group is promoted into the
		// now-vacated old_group slot, and the incoming group becomes
		// the new new_group.
		sub.old = sub.new
		sub.new = p.spawnGroup(ctx, sub, gc)
	} else {
		// Newer than old_group but older than new_group: it replaces
		// old_group directly, leaving new_group untouched.
		sub.old = p.spawnGroup(ctx, sub, gc)
	}
}

// spawnGroup opens a uni-stream and serves one group's frames to it,
// returning a slot the caller can cancel to abort the stream early. The
// stream's send priority tracks this group's live rank in the shared
// per-connection queue (spec.md §4.6): how new the group is within its
// track relative to every other group currently being served, recomputed
// on each insert/remove rather than fixed at open time.
func (p *Publisher) spawnGroup(ctx context.Context, sub *subscription, gc *model.GroupConsumer) *groupSlot {
	groupCtx, cancel := context.WithCancel(ctx)
	handle := p.groups.Insert(pqueue.Key{TrackPriority: sub.priority, Sequence: gc.Sequence()})
	go func() {
		defer p.groups.Remove(handle)
		stream, err := p.conn.OpenUni(groupCtx)
		if err != nil {
			return
		}
		if rank, ok := handle.Current(); ok {
			stream.SetPriority(rank)
		}
		go p.trackPriority(handle, stream)
		if err := p.writeGroup(groupCtx, stream, sub, gc); err != nil {
			stream.CancelWrite(uint64(control.CodeForKind(moqerrors.KindCancel)))
			return
		}
		stream.Close()
	}()
	return &groupSlot{sequence: gc.Sequence(), cancel: cancel}
}

// trackPriority pushes handle's rank to stream's send priority each time
// the shared queue's ordering shifts, until handle is removed.
func (p *Publisher) trackPriority(handle *pqueue.Handle, stream transport.SendStream) {
	for {
		rank, present := handle.Next()
		if !present {
			return
		}
		stream.SetPriority(rank)
	}
}

func (p *Publisher) writeGroup(ctx context.Context, stream transport.SendStream, sub *subscription, gc *model.GroupConsumer) error {
	if err := groupwire.WriteHeader(stream, groupwire.Header{
		TrackAlias: sub.trackAlias, GroupID: gc.Sequence(), HasPriority: true, Priority: sub.priority,
	}); err != nil {
		return err
	}
	for {
		fc, err := gc.NextFrame(ctx)
		if err != nil {
			return err
		}
		if fc == nil {
			return nil
		}
		payload, err := fc.ReadAll(ctx)
		if err != nil {
			return err
		}
		// Objects are consecutive, so every object id delta is 0.
		if err := groupwire.WriteObject(stream, 0, nil, payload); err != nil {
			return err
		}
	}
}

// handleFetch serves the single group whose sequence is msg.Group
// directly on a new uni-stream, outside the ordinary subscription
// lifecycle (spec.md §4.12's FETCH being a one-shot request). Group 0
// means group 0; there is no "latest group" fallback.
func (p *Publisher) handleFetch(ctx context.Context, msg control.Fetch) {
	bc, err := p.origin.ConsumeBroadcast(msg.Broadcast)
	if err != nil {
		return
	}
	tc := bc.SubscribeTrack(msg.Track, msg.Priority)
	defer tc.Release()

	gc, ok, err := tc.GetGroup(ctx, msg.Group)
	if err != nil || !ok {
		return
	}
	stream, err := p.conn.OpenUni(ctx)
	if err != nil {
		return
	}
	stream.SetPriority(int(msg.Priority))
	sub := &subscription{trackAlias: 0, priority: msg.Priority}
	if err := p.writeGroup(ctx, stream, sub, gc); err != nil {
		stream.CancelWrite(uint64(control.CodeForKind(moqerrors.KindCancel)))
		return
	}
	stream.Close()
}
