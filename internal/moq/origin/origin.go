// Package origin implements the namespace registry that maps an absolute
// path to an active broadcast, with announce/unannounce notifications and
// prefix-scoped consumer filtering (spec.md §4.5), grounded on
// alxayo-rtmp-go/internal/rtmp/server/registry.go's map+RWMutex registry
// idiom, generalized from a flat stream-key map to a Path-keyed broadcast
// directory with an announce bus.
package origin

import (
	"context"
	"sort"
	"sync"

	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// Event is one (path, active?) announce record. Active=false means the
// broadcast at Path was unpublished.
type Event struct {
	Path   path.Path
	Active bool
}

type entry struct {
	consumer *model.BroadcastConsumer
	epoch    uint64
}

// Origin is a tree keyed by Path, mapping absolute path to an active
// BroadcastConsumer, plus a bus of announce/unannounce events (spec.md
// §4.5). Updates from a single producer are observed in insertion order by
// every consumer (spec.md invariant #4: alternating active/inactive per
// path).
type Origin struct {
	mu       sync.RWMutex
	entries  map[string]entry
	nextSeq  uint64
	watchers []*watcher
}

type watcher struct {
	mu     sync.Mutex
	events []Event
	ch     chan struct{}
}

func (w *watcher) push(e Event) {
	w.mu.Lock()
	w.events = append(w.events, e)
	close(w.ch)
	w.ch = make(chan struct{})
	w.mu.Unlock()
}

// New creates an empty Origin.
func New() *Origin {
	return &Origin{entries: map[string]entry{}}
}

// PublishBroadcast replaces any existing entry at path with consumer and
// notifies every observer with an "active" event. Calling with the same
// path again publishes a fresh epoch (e.g. a reconnecting publisher),
// implicitly unannouncing then re-announcing so every consumer still sees
// the alternating active/inactive sequence spec.md invariant #4 requires.
func (o *Origin) PublishBroadcast(p path.Path, consumer *model.BroadcastConsumer) {
	o.mu.Lock()
	if _, exists := o.entries[p.String()]; exists {
		o.notifyLocked(Event{Path: p, Active: false})
	}
	o.nextSeq++
	o.entries[p.String()] = entry{consumer: consumer, epoch: o.nextSeq}
	o.notifyLocked(Event{Path: p, Active: true})
	o.mu.Unlock()
}

// UnpublishBroadcast removes the entry at path (e.g. when its producer
// drops) and notifies observers with an "inactive" event.
func (o *Origin) UnpublishBroadcast(p path.Path) {
	o.mu.Lock()
	if _, exists := o.entries[p.String()]; exists {
		delete(o.entries, p.String())
		o.notifyLocked(Event{Path: p, Active: false})
	}
	o.mu.Unlock()
}

func (o *Origin) notifyLocked(e Event) {
	for _, w := range o.watchers {
		w.push(e)
	}
}

// ConsumeBroadcast looks up the broadcast at path.
func (o *Origin) ConsumeBroadcast(p path.Path) (*model.BroadcastConsumer, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[p.String()]
	if !ok {
		return nil, false
	}
	return e.consumer, true
}

// ListAnnounced returns the currently active paths under prefix (every
// path if prefix is empty), sorted lexicographically. Unlike Announced,
// this is a point-in-time snapshot with no subscription — the shape the
// HTTP companion's GET /announced[/<prefix>] needs (spec.md §6.3).
func (o *Origin) ListAnnounced(prefix path.Path) []path.Path {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]path.Path, 0, len(o.entries))
	for k := range o.entries {
		p, err := path.New(k)
		if err != nil {
			continue
		}
		if prefix.Empty() {
			out = append(out, p)
			continue
		}
		if _, ok := p.StripPrefix(prefix); ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Scoped is a view of the Origin filtered to a set of allowed path
// prefixes.
type Scoped struct {
	origin   *Origin
	prefixes []path.Path
}

// ConsumeOnly returns a Scoped handle that only sees paths under any of the
// given prefixes.
func (o *Origin) ConsumeOnly(prefixes []path.Path) *Scoped {
	return &Scoped{origin: o, prefixes: prefixes}
}

func (s *Scoped) allowed(p path.Path) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, prefix := range s.prefixes {
		if _, ok := p.StripPrefix(prefix); ok {
			return true
		}
	}
	return false
}

// ConsumeBroadcast returns the broadcast at p, or an error if p is outside
// this handle's scope.
func (s *Scoped) ConsumeBroadcast(p path.Path) (*model.BroadcastConsumer, error) {
	if !s.allowed(p) {
		return nil, moqerrors.New("origin.consume_broadcast", moqerrors.KindUnauthorized, nil)
	}
	c, ok := s.origin.ConsumeBroadcast(p)
	if !ok {
		return nil, moqerrors.New("origin.consume_broadcast", moqerrors.KindNotFound, nil)
	}
	return c, nil
}

// Announced registers a new watcher scoped to this handle's prefixes and
// returns a function that yields the next matching event. Passing a
// context.Context whose Done channel is already closed before any new
// event is buffered implements try_announced()'s "immediately-available
// events" semantics (spec.md §4.5): the call returns whatever was already
// queued, or the cancellation error if nothing was.
func (s *Scoped) Announced() func(ctx context.Context) (Event, error) {
	s.origin.mu.Lock()
	w := &watcher{ch: make(chan struct{})}
	// Seed with a snapshot of currently-active paths so a consumer
	// attaching after the fact still sees an "active" for everything live
	// (spec.md §4.5: "used to enumerate current state on session start").
	for k, e := range s.origin.entries {
		p, _ := path.New(k)
		_ = e
		if s.allowed(p) {
			w.events = append(w.events, Event{Path: p, Active: true})
		}
	}
	s.origin.watchers = append(s.origin.watchers, w)
	s.origin.mu.Unlock()

	idx := 0
	return func(ctx context.Context) (Event, error) {
		for {
			w.mu.Lock()
			if idx < len(w.events) {
				for idx < len(w.events) {
					e := w.events[idx]
					idx++
					if s.allowed(e.Path) {
						w.mu.Unlock()
						return e, nil
					}
				}
			}
			ch := w.ch
			w.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return Event{}, moqerrors.New("origin.announced", moqerrors.KindCancel, ctx.Err())
			}
		}
	}
}
