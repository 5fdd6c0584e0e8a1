// Package model implements the Frame/Group/Track/Broadcast producer-
// consumer data model (spec.md §3, §4.3, §4.4), grounded on
// _examples/original_source/rs/moq-lite/src/model/track.rs's state machine
// and on alxayo-rtmp-go/internal/rtmp/media/relay.go's broadcast/fan-out
// idiom, translated from Rust's tokio::sync::watch single-writer/
// many-observer channels into Go's watch cell (see watch.go).
package model

import (
	"context"
	"time"

	"github.com/alxayo/go-moq/internal/moqerrors"
)

// MaxCache is the maximum age a group stays in a track's cache before
// being evicted (spec.md §4.3, §5 Timeouts).
const MaxCache = 30 * time.Second

type cacheEntry struct {
	ingest time.Time
	seq    uint64
	cons   *GroupConsumer
}

// trackState is the mutable snapshot a TrackProducer publishes.
type trackState struct {
	groups       []cacheEntry
	maxSequence  int64 // -1 = none observed yet
	dropSequence int64 // -1 = none evicted yet
	closed       bool
	err          error
}

// Track is the static identity of a track (spec.md §3).
type Track struct {
	Name     string
	Priority uint8
}

// TrackProducer is the exclusive writer of one track's group sequence.
type TrackProducer struct {
	Track
	w       *watch[trackState]
	unused  chan struct{}
	refs    *int32
}

// NewTrack creates a producer/consumer pair for a track.
func NewTrack(name string, priority uint8) (*TrackProducer, *TrackConsumer) {
	w := newWatch(trackState{maxSequence: -1, dropSequence: -1})
	refs := new(int32)
	unused := make(chan struct{})
	p := &TrackProducer{Track: Track{Name: name, Priority: priority}, w: w, unused: unused, refs: refs}
	c := &TrackConsumer{Track: p.Track, w: w, lastSeq: -1, refs: refs, unused: unused}
	*refs = 1
	return p, c
}

// trim evicts head entries older than MaxCache, updating dropSequence to
// the greatest evicted sequence (spec.md §4.3 eviction policy).
func trim(s trackState, now time.Time) trackState {
	cutoff := now.Add(-MaxCache)
	i := 0
	for i < len(s.groups) && s.groups[i].ingest.Before(cutoff) {
		if int64(s.groups[i].seq) > s.dropSequence {
			s.dropSequence = int64(s.groups[i].seq)
		}
		i++
	}
	if i > 0 {
		s.groups = append([]cacheEntry(nil), s.groups[i:]...)
	}
	return s
}

func insertSorted(groups []cacheEntry, e cacheEntry) []cacheEntry {
	i := len(groups)
	for i > 0 && groups[i-1].seq > e.seq {
		i--
	}
	out := make([]cacheEntry, 0, len(groups)+1)
	out = append(out, groups[:i]...)
	out = append(out, e)
	out = append(out, groups[i:]...)
	return out
}

// AppendGroup creates a new group whose sequence is maxSequence+1 (or 0 if
// none yet observed).
func (p *TrackProducer) AppendGroup() *GroupProducer {
	var gp *GroupProducer
	p.w.Update(func(s trackState) trackState {
		if s.closed {
			panic("moq/model: AppendGroup after track closed")
		}
		seq := uint64(0)
		if s.maxSequence >= 0 {
			seq = uint64(s.maxSequence) + 1
		}
		var gc *GroupConsumer
		gp, gc = newGroup(seq)
		now := time.Now()
		s.groups = append(s.groups, cacheEntry{ingest: now, seq: seq, cons: gc})
		s.maxSequence = int64(seq)
		return trim(s, now)
	})
	return gp
}

// CreateGroup returns a producer for sequence only if it becomes the new
// max sequence; otherwise ok is false and the returned producer is nil.
func (p *TrackProducer) CreateGroup(sequence uint64) (gp *GroupProducer, ok bool) {
	p.w.Update(func(s trackState) trackState {
		if s.closed {
			panic("moq/model: CreateGroup after track closed")
		}
		if s.maxSequence >= 0 && int64(sequence) <= s.maxSequence {
			ok = false
			return s
		}
		var gc *GroupConsumer
		gp, gc = newGroup(sequence)
		ok = true
		now := time.Now()
		s.groups = append(s.groups, cacheEntry{ingest: now, seq: sequence, cons: gc})
		s.maxSequence = int64(sequence)
		return trim(s, now)
	})
	return gp, ok
}

// InsertGroup inserts an externally produced group consumer, returning
// whether it becomes the newest.
func (p *TrackProducer) InsertGroup(gc *GroupConsumer) (isNewest bool) {
	p.w.Update(func(s trackState) trackState {
		if s.closed {
			panic("moq/model: InsertGroup after track closed")
		}
		now := time.Now()
		s.groups = insertSorted(s.groups, cacheEntry{ingest: now, seq: gc.Sequence(), cons: gc})
		if s.maxSequence < 0 || int64(gc.Sequence()) > s.maxSequence {
			s.maxSequence = int64(gc.Sequence())
			isNewest = true
		}
		return trim(s, now)
	})
	return isNewest
}

// WriteFrame is a convenience for AppendGroup + a single-frame close.
func (p *TrackProducer) WriteFrame(ts int64, payload []byte) {
	gp := p.AppendGroup()
	fp := gp.CreateFrame(ts, true, int64(len(payload)))
	fp.WriteChunk(payload)
	fp.Close()
	gp.Close()
}

// Close sets the track to a clean terminal state.
func (p *TrackProducer) Close() {
	p.w.Update(func(s trackState) trackState {
		s.closed = true
		return s
	})
}

// Abort sets the track to a terminal error state.
func (p *TrackProducer) Abort(err error) {
	if err == nil {
		err = moqerrors.New("track.abort", moqerrors.KindCancel, nil)
	}
	p.w.Update(func(s trackState) trackState {
		s.closed = true
		s.err = err
		return s
	})
}

// Unused returns a channel closed once every consumer has released its
// reference, the Go analog of spec.md §3's "unused()" future.
func (p *TrackProducer) Unused() <-chan struct{} { return p.unused }

// TrackConsumer reads a track's groups.
type TrackConsumer struct {
	Track
	w       *watch[trackState]
	lastSeq int64
	refs    *int32
	unused  chan struct{}
}

// NextGroup returns the next group in ascending sequence order, skipping
// any evicted before it was observed (spec.md invariant #2/#3). Returns
// (nil, nil) once the producer closes cleanly with nothing left buffered.
func (c *TrackConsumer) NextGroup(ctx context.Context) (*GroupConsumer, error) {
	for {
		s, ch := c.w.Get()
		var next *cacheEntry
		for i := range s.groups {
			if int64(s.groups[i].seq) > c.lastSeq {
				next = &s.groups[i]
				break
			}
		}
		if next != nil {
			c.lastSeq = int64(next.seq)
			return next.cons, nil
		}
		if s.closed {
			return nil, s.err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, moqerrors.New("track.next_group", moqerrors.KindCancel, ctx.Err())
		}
	}
}

// GetGroup returns the group at sequence if still cached; ok=false if it
// has already been evicted (dropSequence >= sequence) or will never exist
// because the track closed before producing it — neither case is an
// error (spec.md §9 Open Questions). Blocks otherwise until the group
// appears, is evicted, or the track closes.
func (c *TrackConsumer) GetGroup(ctx context.Context, sequence uint64) (gc *GroupConsumer, ok bool, err error) {
	for {
		s, ch := c.w.Get()
		if s.dropSequence >= int64(sequence) {
			return nil, false, nil
		}
		for i := range s.groups {
			if s.groups[i].seq == sequence {
				return s.groups[i].cons, true, nil
			}
		}
		if s.closed {
			return nil, false, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, false, moqerrors.New("track.get_group", moqerrors.KindCancel, ctx.Err())
		}
	}
}

// Closed blocks until the track reaches a terminal state and returns its
// status (nil on clean close).
func (c *TrackConsumer) Closed(ctx context.Context) error {
	for {
		s, ch := c.w.Get()
		if s.closed {
			return s.err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return moqerrors.New("track.closed", moqerrors.KindCancel, ctx.Err())
		}
	}
}

// LatestGroup returns the highest-sequence group currently cached,
// without blocking for one to arrive; ok=false if the track has produced
// nothing yet. Used by the HTTP fetch companion's group=latest query
// (spec.md §6.3), which wants a snapshot answer rather than a long poll.
func (c *TrackConsumer) LatestGroup(ctx context.Context) (gc *GroupConsumer, ok bool) {
	s, _ := c.w.Get()
	if s.maxSequence < 0 {
		return nil, false
	}
	for i := range s.groups {
		if s.groups[i].seq == uint64(s.maxSequence) {
			return s.groups[i].cons, true
		}
	}
	return nil, false
}

// Clone returns a new independent cursor starting at the latest known
// group (spec.md §3 Ownership: "cloning yields a new independent reader
// position starting at the latest known group").
func (c *TrackConsumer) Clone() *TrackConsumer {
	s, _ := c.w.Get()
	addRef(c.refs)
	return &TrackConsumer{Track: c.Track, w: c.w, lastSeq: s.maxSequence, refs: c.refs, unused: c.unused}
}

// Release drops this consumer's reference; once every consumer has
// released, the producer's Unused() channel closes.
func (c *TrackConsumer) Release() {
	if releaseRef(c.refs) {
		select {
		case <-c.unused:
		default:
			close(c.unused)
		}
	}
}
