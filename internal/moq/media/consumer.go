package media

import (
	"context"
	"reflect"
	"time"

	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// decodedFrame is one frame pulled off a group and decoded.
type decodedFrame struct {
	ts      int64
	payload []byte
}

// feed continuously pulls frames off one group in the background and
// buffers them, so the ordered Consumer can observe a pending group's
// running max timestamp (spec.md §4.9 step 1's "buffer until its own
// max_timestamp ≥ max_timestamp + max_latency") without blocking its own
// main loop on that one group.
type feed struct {
	sequence uint64
	gc       *model.GroupConsumer

	mu     chan struct{} // binary semaphore; see lock/unlock below
	frames []decodedFrame
	cursor int // read progress; touched only by the Consumer goroutine
	done   bool
	err    error
	maxTS  int64
	hasTS  bool
	ch     chan struct{}
}

func newFeed(ctx context.Context, gc *model.GroupConsumer) *feed {
	f := &feed{sequence: gc.Sequence(), gc: gc, mu: make(chan struct{}, 1), ch: make(chan struct{})}
	f.mu <- struct{}{}
	go f.pull(ctx)
	return f
}

func (f *feed) lock()   { <-f.mu }
func (f *feed) unlock() { f.mu <- struct{}{} }

func (f *feed) wake() {
	close(f.ch)
	f.ch = make(chan struct{})
}

func (f *feed) pull(ctx context.Context) {
	for {
		fc, err := f.gc.NextFrame(ctx)
		f.lock()
		if err != nil {
			f.done, f.err = true, err
			f.wake()
			f.unlock()
			return
		}
		if fc == nil {
			f.done = true
			f.wake()
			f.unlock()
			return
		}
		f.unlock()

		raw, err := fc.ReadAll(ctx)
		if err == nil {
			var ts int64
			ts, raw, err = Decode(raw)
			f.lock()
			if err != nil {
				f.done, f.err = true, err
				f.wake()
				f.unlock()
				return
			}
			f.frames = append(f.frames, decodedFrame{ts: ts, payload: raw})
			if !f.hasTS || ts > f.maxTS {
				f.maxTS = ts
			}
			f.hasTS = true
			f.wake()
			f.unlock()
			continue
		}
		f.lock()
		f.done, f.err = true, err
		f.wake()
		f.unlock()
		return
	}
}

func (f *feed) take() (decodedFrame, bool) {
	f.lock()
	defer f.unlock()
	if f.cursor < len(f.frames) {
		fr := f.frames[f.cursor]
		f.cursor++
		return fr, true
	}
	return decodedFrame{}, false
}

type feedSnapshot struct {
	maxTS int64
	hasTS bool
	done  bool
	err   error
	ch    chan struct{}
}

func (f *feed) snapshot() feedSnapshot {
	f.lock()
	defer f.unlock()
	return feedSnapshot{maxTS: f.maxTS, hasTS: f.hasTS, done: f.done, err: f.err, ch: f.ch}
}

// groupArrival is what the track-watching goroutine posts for each new
// group (or the track's terminal status).
type groupArrival struct {
	gc  *model.GroupConsumer
	err error
}

// Consumer implements spec.md §4.9's ordered media consumer: it reorders
// groups arriving out of step with playback and lazily skips a group once
// a newer one demonstrates it has already advanced past the latency
// budget.
type Consumer struct {
	track      *model.TrackConsumer
	maxLatency int64 // microseconds

	ctx    context.Context
	cancel context.CancelFunc

	current *feed
	pending []*feed // ascending by sequence

	maxTimestamp int64
	hasTimestamp bool

	trackEnded bool
	trackErr   error

	newGroups chan groupArrival
}

// NewConsumer wraps track, skipping groups whose arrival demonstrates the
// playhead has advanced more than maxLatency past them.
func NewConsumer(track *model.TrackConsumer, maxLatency time.Duration) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		track:      track,
		maxLatency: maxLatency.Microseconds(),
		ctx:        ctx,
		cancel:     cancel,
		newGroups:  make(chan groupArrival, 1),
	}
	go c.pullGroups()
	return c
}

func (c *Consumer) pullGroups() {
	for {
		gc, err := c.track.NextGroup(c.ctx)
		select {
		case c.newGroups <- groupArrival{gc: gc, err: err}:
		case <-c.ctx.Done():
			return
		}
		if err != nil || gc == nil {
			return
		}
	}
}

// Next returns the next frame in playback order, or (0, nil, nil) once the
// track has ended and nothing remains pending.
func (c *Consumer) Next(ctx context.Context) (int64, []byte, error) {
	for {
		if c.current == nil && len(c.pending) > 0 {
			c.current, c.pending = c.pending[0], c.pending[1:]
		}

		if c.current != nil {
			if fr, ok := c.current.take(); ok {
				if !c.hasTimestamp || fr.ts > c.maxTimestamp {
					c.maxTimestamp = fr.ts
				}
				c.hasTimestamp = true
				return fr.ts, fr.payload, nil
			}
		}

		if c.current != nil {
			snap := c.current.snapshot()
			if snap.done {
				if snap.err != nil {
					return 0, nil, snap.err
				}
				c.current = nil
				continue
			}
		}

		if c.hasTimestamp {
			threshold := c.maxTimestamp + c.maxLatency
			skipTo := -1
			for i, pf := range c.pending {
				snap := pf.snapshot()
				if snap.hasTS && snap.maxTS >= threshold {
					skipTo = i
					break
				}
			}
			if skipTo >= 0 {
				c.current = c.pending[skipTo]
				c.pending = append([]*feed(nil), c.pending[skipTo+1:]...)
				continue
			}
		}

		if c.current == nil && len(c.pending) == 0 && c.trackEnded {
			return 0, nil, c.trackErr
		}

		if _, err := c.waitForAny(ctx); err != nil {
			return 0, nil, err
		}
	}
}

// handleArrival applies spec.md §4.9 step 2c: discard if older than the
// oldest pending group, otherwise insert in ascending sequence order.
func (c *Consumer) handleArrival(a groupArrival) {
	if a.err != nil {
		c.trackEnded, c.trackErr = true, a.err
		return
	}
	if a.gc == nil {
		c.trackEnded = true
		return
	}
	if len(c.pending) > 0 && a.gc.Sequence() < c.pending[0].sequence {
		return
	}
	f := newFeed(c.ctx, a.gc)
	i := len(c.pending)
	for i > 0 && c.pending[i-1].sequence > f.sequence {
		i--
	}
	out := make([]*feed, 0, len(c.pending)+1)
	out = append(out, c.pending[:i]...)
	out = append(out, f)
	out = append(out, c.pending[i:]...)
	c.pending = out
}

// waitForAny blocks until one of: a new group arrives, the current feed's
// state changes, any pending feed's state changes, or ctx is done. It
// returns woke=true if anything happened that the caller should re-check.
func (c *Consumer) waitForAny(ctx context.Context) (woke bool, err error) {
	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.newGroups)},
	}
	if c.current != nil {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.current.snapshot().ch)})
	}
	for _, pf := range c.pending {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(pf.snapshot().ch)})
	}

	idx, recv, ok := reflect.Select(cases)
	switch idx {
	case 0:
		return false, moqerrors.New("media.next", moqerrors.KindCancel, ctx.Err())
	case 1:
		if !ok {
			return true, nil
		}
		arrival := recv.Interface().(groupArrival)
		c.handleArrival(arrival)
		return true, nil
	default:
		return true, nil
	}
}

// Close stops the background group-pulling goroutine and releases the
// underlying track consumer.
func (c *Consumer) Close() {
	c.cancel()
	c.track.Release()
}
