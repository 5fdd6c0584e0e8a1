package catalog

import (
	"context"
	"sync"

	"github.com/alxayo/go-moq/internal/moq/model"
)

// Producer guards a Catalog document behind a scoped mutable acquisition
// (spec.md §4.7): callers mutate it via Update, and on release, if
// anything changed, the producer serializes it and writes it as a single-
// frame group on the catalog track.
type Producer struct {
	mu    sync.Mutex
	track *model.TrackProducer
	cur   Catalog
	seq   int64
}

// NewProducer wraps an existing catalog TrackProducer (typically
// broadcast.Catalog()) with an initial document.
func NewProducer(track *model.TrackProducer, initial Catalog) *Producer {
	p := &Producer{track: track, cur: initial}
	p.publish()
	return p
}

// Update calls fn with the current document; if fn returns a catalog that
// differs from the previous one, the new document is published as a
// single-frame group.
func (p *Producer) Update(fn func(Catalog) Catalog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := fn(p.cur)
	if next.Equal(p.cur) {
		return
	}
	p.cur = next
	p.publish()
}

// Current returns the most recently published document.
func (p *Producer) Current() Catalog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

func (p *Producer) publish() {
	b, err := p.cur.Marshal()
	if err != nil {
		panic("moq/catalog: marshal failed: " + err.Error())
	}
	p.track.WriteFrame(p.seq, b)
	p.seq++
}

// Close closes the underlying catalog track.
func (p *Producer) Close() { p.track.Close() }

// Consumer reads the latest catalog snapshot per update (spec.md §4.7:
// "reads the latest group and deserializes a fresh catalog snapshot per
// update; it drops any partial group, because the design is whole-document
// at a time").
type Consumer struct {
	track *model.TrackConsumer
}

// NewConsumer wraps an existing catalog TrackConsumer.
func NewConsumer(track *model.TrackConsumer) *Consumer {
	return &Consumer{track: track}
}

// Next blocks until the next catalog update and returns the parsed
// document. Returns (Catalog{}, false, nil) once the track closes cleanly.
// A group that ends before producing a frame (spec.md §4.7's "drop the
// partial group") is skipped rather than handed to Parse as an empty
// document.
func (c *Consumer) Next(ctx context.Context) (Catalog, bool, error) {
	for {
		group, err := c.track.NextGroup(ctx)
		if err != nil {
			return Catalog{}, false, err
		}
		if group == nil {
			return Catalog{}, false, nil
		}
		b, err := drainWholeDocument(ctx, group)
		if err != nil {
			return Catalog{}, false, err
		}
		if b == nil {
			continue
		}
		cat, err := Parse(b)
		if err != nil {
			return Catalog{}, false, err
		}
		return cat, true, nil
	}
}

// drainWholeDocument reads every frame of group and concatenates their
// payloads; the catalog is always written as a single frame, but this
// tolerates a producer that splits the JSON across chunks within that one
// frame (the usual FrameConsumer.ReadAll behavior already handles that) —
// here we additionally guard against a partial group (more than one frame)
// by only consuming the first, treating anything after as a protocol
// detail the caller does not need.
func drainWholeDocument(ctx context.Context, group *model.GroupConsumer) ([]byte, error) {
	frame, err := group.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	return frame.ReadAll(ctx)
}
