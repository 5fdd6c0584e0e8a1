package model

import (
	"context"

	"github.com/alxayo/go-moq/internal/moqerrors"
)

// frameState is the mutable snapshot a FrameProducer publishes through its
// watch cell. payload is append-only: readers only ever see chunks appended
// so far, in order.
type frameState struct {
	chunks   [][]byte
	length   int64
	closed   bool
	err      error
}

// Frame is the immutable descriptor attached to both ends of a frame
// (spec.md §3): a monotonic-per-producer microsecond timestamp, whether it
// is logically a keyframe, and the declared total payload size (0 if not
// pre-declared).
type Frame struct {
	Timestamp    int64
	Keyframe     bool
	DeclaredSize int64
}

// FrameProducer is the exclusive writer of one frame's payload.
type FrameProducer struct {
	Frame
	w *watch[frameState]
}

// newFrame creates a producer/consumer pair for a frame with the given
// declared size (0 means unknown / streamed).
func newFrame(ts int64, keyframe bool, declaredSize int64) (*FrameProducer, *FrameConsumer) {
	w := newWatch(frameState{})
	fr := Frame{Timestamp: ts, Keyframe: keyframe, DeclaredSize: declaredSize}
	return &FrameProducer{Frame: fr, w: w}, &FrameConsumer{Frame: fr, w: w}
}

// WriteChunk appends bytes to the frame's payload. Writing after Close or
// Abort is a contract violation (spec.md §4.3 "attempting to append after
// close panics").
func (p *FrameProducer) WriteChunk(b []byte) {
	p.w.Update(func(s frameState) frameState {
		if s.closed {
			panic("moq/model: WriteChunk after frame closed")
		}
		cp := append([]byte(nil), b...)
		s.chunks = append(s.chunks, cp)
		s.length += int64(len(cp))
		return s
	})
}

// Close marks the frame complete.
func (p *FrameProducer) Close() {
	p.w.Update(func(s frameState) frameState {
		s.closed = true
		return s
	})
}

// Abort marks the frame terminated with an error.
func (p *FrameProducer) Abort(err error) {
	if err == nil {
		err = moqerrors.New("frame.abort", moqerrors.KindCancel, nil)
	}
	p.w.Update(func(s frameState) frameState {
		s.closed = true
		s.err = err
		return s
	})
}

// FrameConsumer reads a frame's chunks in append order.
type FrameConsumer struct {
	Frame
	w   *watch[frameState]
	idx int
}

// NextChunk returns the next chunk, or (nil, nil) once the frame is closed
// and all chunks have been delivered, or an error if the frame was aborted
// or ctx was cancelled.
func (c *FrameConsumer) NextChunk(ctx context.Context) ([]byte, error) {
	for {
		s, ch := c.w.Get()
		if c.idx < len(s.chunks) {
			chunk := s.chunks[c.idx]
			c.idx++
			return chunk, nil
		}
		if s.closed {
			return nil, s.err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, moqerrors.New("frame.next_chunk", moqerrors.KindCancel, ctx.Err())
		}
	}
}

// ReadAll drains every remaining chunk and concatenates them.
func (c *FrameConsumer) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	for {
		chunk, err := c.NextChunk(ctx)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

// Len returns the number of bytes written so far.
func (c *FrameConsumer) Len() int64 {
	s, _ := c.w.Get()
	return s.length
}
