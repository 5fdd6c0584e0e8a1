package model

import (
	"context"
	"testing"
	"time"
)

func TestBroadcastCatalogAlwaysPresent(t *testing.T) {
	_, c := NewBroadcast()
	cat := c.Catalog()
	if cat.Name != CatalogTrackName || cat.Priority != CatalogTrackPriority {
		t.Fatalf("catalog track identity = %+v", cat.Track)
	}
}

func TestBroadcastLateProducerResolvesPendingSubscriber(t *testing.T) {
	p, c := NewBroadcast()

	// Subscriber asks for "video" before any publisher creates it.
	sub := c.SubscribeTrack("video", 128)

	// Publisher now publishes the track and writes a frame.
	tp := p.Publish("video", 128)
	tp.WriteFrame(1_000_000, []byte("frame"))
	tp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g, err := sub.NextGroup(ctx)
	if err != nil {
		t.Fatalf("NextGroup after late insert: %v", err)
	}
	if g == nil {
		t.Fatalf("expected a group once the producer attached")
	}
}

func TestBroadcastCreateTrackAutoNames(t *testing.T) {
	p, _ := NewBroadcast()
	t1 := p.CreateTrack("video", 128)
	t2 := p.CreateTrack("video", 128)
	if t1.Name != "video0" || t2.Name != "video1" {
		t.Fatalf("auto-naming = %q, %q; want video0, video1", t1.Name, t2.Name)
	}
}
