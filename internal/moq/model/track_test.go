package model

import (
	"context"
	"testing"
	"time"
)

func assertGroup(t *testing.T, c *TrackConsumer, wantSeq uint64) *GroupConsumer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g, err := c.NextGroup(ctx)
	if err != nil {
		t.Fatalf("NextGroup: unexpected error: %v", err)
	}
	if g == nil {
		t.Fatalf("NextGroup: expected group with sequence %d, got none", wantSeq)
	}
	if g.Sequence() != wantSeq {
		t.Fatalf("NextGroup: want sequence %d, got %d", wantSeq, g.Sequence())
	}
	return g
}

func assertNoGroup(t *testing.T, c *TrackConsumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	g, err := c.NextGroup(ctx)
	if g != nil {
		t.Fatalf("expected no group, got sequence %d", g.Sequence())
	}
	if err == nil {
		t.Fatalf("expected cancellation error for no-group wait")
	}
}

func assertClosed(t *testing.T, c *TrackConsumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Closed(ctx); err != nil {
		t.Fatalf("Closed: unexpected error: %v", err)
	}
}

// S1 — single-track echo: three frames across two keyframe-delimited groups.
func TestTrackS1SingleTrackEcho(t *testing.T) {
	p, c := NewTrack("video", 128)

	g0 := p.AppendGroup()
	f1 := g0.CreateFrame(1_000_000, true, 1)
	f1.WriteChunk([]byte("a"))
	f1.Close()
	f2 := g0.CreateFrame(2_000_000, false, 2)
	f2.WriteChunk([]byte("bb"))
	f2.Close()
	g0.Close()

	g1 := p.AppendGroup()
	f3 := g1.CreateFrame(3_000_000, true, 3)
	f3.WriteChunk([]byte("ccc"))
	f3.Close()
	g1.Close()
	p.Close()

	group0 := assertGroup(t, c, 0)
	ctx := context.Background()
	chunk1, err := group0.NextFrame(ctx)
	if err != nil || chunk1 == nil {
		t.Fatalf("group0 frame1: %v, %v", chunk1, err)
	}
	b1, _ := chunk1.ReadAll(ctx)
	if string(b1) != "a" {
		t.Fatalf("frame1 payload = %q", b1)
	}
	chunk2, err := group0.NextFrame(ctx)
	if err != nil || chunk2 == nil {
		t.Fatalf("group0 frame2: %v, %v", chunk2, err)
	}
	b2, _ := chunk2.ReadAll(ctx)
	if string(b2) != "bb" {
		t.Fatalf("frame2 payload = %q", b2)
	}
	done, err := group0.NextFrame(ctx)
	if done != nil || err != nil {
		t.Fatalf("expected group0 end, got %v, %v", done, err)
	}

	group1 := assertGroup(t, c, 1)
	chunk3, err := group1.NextFrame(ctx)
	if err != nil || chunk3 == nil {
		t.Fatalf("group1 frame1: %v, %v", chunk3, err)
	}
	b3, _ := chunk3.ReadAll(ctx)
	if string(b3) != "ccc" {
		t.Fatalf("frame3 payload = %q", b3)
	}

	assertClosed(t, c)
}

func TestTrackMaxSequenceMonotonic(t *testing.T) {
	p, _ := NewTrack("t", 0)
	p.AppendGroup().Close()
	p.AppendGroup().Close()
	g, ok := p.CreateGroup(5)
	if !ok || g.Sequence() != 5 {
		t.Fatalf("CreateGroup(5): want ok with seq 5, got ok=%v seq=%v", ok, g)
	}
	if _, ok := p.CreateGroup(3); ok {
		t.Fatalf("CreateGroup(3): expected not-newest rejection after max advanced to 5")
	}
}

func TestTrackEvictionUpdatesDropSequence(t *testing.T) {
	p, c := NewTrack("t", 0)
	p.w.Update(func(s trackState) trackState {
		// Simulate an old group ingested long ago.
		gp, gc := newGroup(0)
		gp.Close()
		s.groups = append(s.groups, cacheEntry{ingest: time.Now().Add(-MaxCache - time.Second), seq: 0, cons: gc})
		s.maxSequence = 0
		return s
	})
	// Appending a fresh group triggers trim() and evicts seq 0.
	p.AppendGroup().Close()

	s, _ := p.w.Get()
	if s.dropSequence != 0 {
		t.Fatalf("dropSequence = %d, want 0", s.dropSequence)
	}

	// Consumer catching up sees only the surviving group (seq 1), not 0.
	g := assertGroup(t, c, 1)
	if g.Sequence() != 1 {
		t.Fatalf("expected to skip evicted sequence 0")
	}
}

func TestTrackGetGroupEvicted(t *testing.T) {
	p, c := NewTrack("t", 0)
	p.AppendGroup().Close()
	p.w.Update(func(s trackState) trackState {
		s.dropSequence = 0
		return s
	})
	ctx := context.Background()
	g, ok, err := c.GetGroup(ctx, 0)
	if g != nil || ok || err != nil {
		t.Fatalf("GetGroup(evicted): want nil,false,nil got %v,%v,%v", g, ok, err)
	}
}

func TestTrackCloneStartsAtLatest(t *testing.T) {
	p, c := NewTrack("t", 0)
	p.AppendGroup().Close()
	p.AppendGroup().Close()

	clone := c.Clone()
	p.AppendGroup().Close()
	p.Close()

	// The original cursor, never advanced, sees all three from the start.
	assertGroup(t, c, 0)
	assertGroup(t, c, 1)
	assertGroup(t, c, 2)

	// The clone, taken after two groups existed, only sees the third.
	assertGroup(t, clone, 2)
}

func TestTrackUnusedSignalsOnLastRelease(t *testing.T) {
	p, c := NewTrack("t", 0)
	clone := c.Clone()

	select {
	case <-p.Unused():
		t.Fatalf("Unused fired with consumers still attached")
	default:
	}

	c.Release()
	select {
	case <-p.Unused():
		t.Fatalf("Unused fired with one consumer still attached")
	default:
	}

	clone.Release()
	select {
	case <-p.Unused():
	default:
		t.Fatalf("Unused did not fire after last release")
	}
}
