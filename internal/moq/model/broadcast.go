package model

import (
	"fmt"
	"sync"
)

// CatalogTrackName and CatalogTrackPriority are the distinguished catalog
// track's identity, always present in a broadcast (spec.md §4.4).
const (
	CatalogTrackName     = "catalog.json"
	CatalogTrackPriority = 100
)

// BroadcastProducer owns a mapping from track name to TrackProducer, plus
// the catalog track every broadcast carries (spec.md §4.4), grounded on
// alxayo-rtmp-go/internal/rtmp/server/registry.go's Registry/Stream
// pattern (map + RWMutex keyed by name).
type BroadcastProducer struct {
	mu      sync.RWMutex
	tracks  map[string]*TrackProducer
	catalog *TrackProducer
}

// NewBroadcast creates an empty broadcast with its catalog track.
func NewBroadcast() (*BroadcastProducer, *BroadcastConsumer) {
	catalogProd, catalogCons := NewTrack(CatalogTrackName, CatalogTrackPriority)
	bp := &BroadcastProducer{
		tracks:  map[string]*TrackProducer{CatalogTrackName: catalogProd},
		catalog: catalogProd,
	}
	bc := &BroadcastConsumer{
		producer: bp,
		cache:    map[string]*TrackConsumer{CatalogTrackName: catalogCons},
	}
	return bp, bc
}

// Catalog returns the producer for the distinguished catalog track.
func (p *BroadcastProducer) Catalog() *TrackProducer { return p.catalog }

// Publish returns the TrackProducer for name, creating it if no subscriber
// has already caused a pending placeholder to exist for that name (spec.md
// §4.4, §5: "a subscribe_track(name) that arrives before the name is
// registered still resolves to the eventual track's frames" — returning
// the same placeholder producer a prior SubscribeTrack call created is how
// that race is closed, instead of a publisher racing to overwrite it).
func (p *BroadcastProducer) Publish(name string, priority uint8) *TrackProducer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tp, ok := p.tracks[name]; ok {
		return tp
	}
	tp, _ := NewTrack(name, priority)
	p.tracks[name] = tp
	return tp
}

// CreateTrack allocates a new TrackProducer named base+N, incrementing N
// until the name is free (spec.md §4.4 track_name).
func (p *BroadcastProducer) CreateTrack(base string, priority uint8) *TrackProducer {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := p.uniqueNameLocked(base)
	tp, _ := NewTrack(name, priority)
	p.tracks[name] = tp
	return tp
}

func (p *BroadcastProducer) uniqueNameLocked(base string) string {
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s%d", base, n)
		if _, ok := p.tracks[candidate]; !ok {
			return candidate
		}
	}
}

// BroadcastConsumer reads tracks by name, creating a pending placeholder
// if the name is not yet registered.
type BroadcastConsumer struct {
	producer *BroadcastProducer
	mu       sync.Mutex
	cache    map[string]*TrackConsumer
}

// SubscribeTrack returns a TrackConsumer for name, creating a pending
// placeholder pair if the track doesn't exist yet.
func (c *BroadcastConsumer) SubscribeTrack(name string, priority uint8) *TrackConsumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.cache[name]; ok {
		return tc.Clone()
	}

	tp := c.producer.Publish(name, priority)
	tc := consumerFor(tp)
	c.cache[name] = tc
	return tc.Clone()
}

// consumerFor mints a fresh consumer cursor (starting from the oldest
// still-cached group, i.e. a brand new subscriber) against an existing
// producer's watch cell.
func consumerFor(tp *TrackProducer) *TrackConsumer {
	addRef(tp.refs)
	return &TrackConsumer{Track: tp.Track, w: tp.w, lastSeq: -1, refs: tp.refs, unused: tp.unused}
}

// Catalog returns the consumer for the distinguished catalog track.
func (c *BroadcastConsumer) Catalog() *TrackConsumer {
	return c.SubscribeTrack(CatalogTrackName, CatalogTrackPriority)
}
