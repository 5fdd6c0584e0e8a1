package model

import (
	"context"

	"github.com/alxayo/go-moq/internal/moqerrors"
)

// groupState is the mutable snapshot a GroupProducer publishes: the
// append-only list of frame consumers plus terminal status.
type groupState struct {
	frames []*FrameConsumer
	closed bool
	err    error
}

// GroupProducer is the exclusive writer of one group (spec.md §3: "a unit
// of independent decode; starts with a keyframe").
type GroupProducer struct {
	sequence uint64
	w        *watch[groupState]
	wroteAny bool
}

func newGroup(sequence uint64) (*GroupProducer, *GroupConsumer) {
	w := newWatch(groupState{})
	return &GroupProducer{sequence: sequence, w: w}, &GroupConsumer{sequence: sequence, w: w}
}

// Sequence returns the group's sequence number.
func (p *GroupProducer) Sequence() uint64 { return p.sequence }

// CreateFrame starts a new frame in this group. declaredSize is the
// up-front total payload size (spec.md §3: "size is declared up front on
// creation"); 0 means unknown. keyframe must be true for the first frame
// of a group (spec.md §3 invariant); this is enforced by the ordered media
// producer (internal/moq/media), not here, since a raw GroupProducer may
// be fed by a non-media caller (e.g. a relayed group).
func (p *GroupProducer) CreateFrame(ts int64, keyframe bool, declaredSize int64) *FrameProducer {
	fp, fc := newFrame(ts, keyframe, declaredSize)
	p.wroteAny = true
	p.w.Update(func(s groupState) groupState {
		if s.closed {
			panic("moq/model: CreateFrame after group closed")
		}
		s.frames = append(s.frames, fc)
		return s
	})
	return fp
}

// Close marks the group complete.
func (p *GroupProducer) Close() {
	p.w.Update(func(s groupState) groupState {
		s.closed = true
		return s
	})
}

// Abort marks the group terminated with an error.
func (p *GroupProducer) Abort(err error) {
	if err == nil {
		err = moqerrors.New("group.abort", moqerrors.KindCancel, nil)
	}
	p.w.Update(func(s groupState) groupState {
		s.closed = true
		s.err = err
		return s
	})
}

// GroupConsumer reads a group's frames in append order.
type GroupConsumer struct {
	sequence uint64
	w        *watch[groupState]
	idx      int
}

// Sequence returns the group's sequence number.
func (c *GroupConsumer) Sequence() uint64 { return c.sequence }

// NextFrame returns the next frame, or (nil, nil) once the group is closed
// and all frames delivered ("further reads return 'no more frames' but not
// an error" — spec.md §3), or an error if aborted or ctx cancelled.
func (c *GroupConsumer) NextFrame(ctx context.Context) (*FrameConsumer, error) {
	for {
		s, ch := c.w.Get()
		if c.idx < len(s.frames) {
			f := s.frames[c.idx]
			c.idx++
			return f, nil
		}
		if s.closed {
			return nil, s.err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, moqerrors.New("group.next_frame", moqerrors.KindCancel, ctx.Err())
		}
	}
}

// Closed blocks until the group reaches a terminal state and returns its
// status (nil on clean close).
func (c *GroupConsumer) Closed(ctx context.Context) error {
	for {
		s, ch := c.w.Get()
		if s.closed {
			return s.err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return moqerrors.New("group.closed", moqerrors.KindCancel, ctx.Err())
		}
	}
}

// MaxTimestamp returns the timestamp of the most recently appended frame.
// The ordered media consumer does not call it; it tracks timestamps of
// its own decoded frames.
func (c *GroupConsumer) MaxTimestamp() (int64, bool) {
	s, _ := c.w.Get()
	if len(s.frames) == 0 {
		return 0, false
	}
	return s.frames[len(s.frames)-1].Timestamp, true
}
