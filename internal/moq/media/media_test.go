package media

import (
	"context"
	"testing"
	"time"

	"github.com/alxayo/go-moq/internal/moq/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := Encode(123456789, []byte("hello"))
	ts, payload, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ts != 123456789 || string(payload) != "hello" {
		t.Fatalf("round-trip mismatch: ts=%d payload=%q", ts, payload)
	}
}

func TestProducerGroupsByKeyframe(t *testing.T) {
	tp, tc := model.NewTrack("video", 1)
	p := NewProducer(tp)

	if err := p.WriteFrame(0, true, []byte("key0")); err != nil {
		t.Fatalf("WriteFrame key0: %v", err)
	}
	if err := p.WriteFrame(10, false, []byte("delta0")); err != nil {
		t.Fatalf("WriteFrame delta0: %v", err)
	}
	if err := p.WriteFrame(20, true, []byte("key1")); err != nil {
		t.Fatalf("WriteFrame key1: %v", err)
	}
	p.Close()

	ctx := context.Background()
	g0, err := tc.NextGroup(ctx)
	if err != nil || g0 == nil {
		t.Fatalf("NextGroup g0: %v %v", g0, err)
	}
	if g0.Sequence() != 0 {
		t.Fatalf("expected sequence 0, got %d", g0.Sequence())
	}
	var frames [][]byte
	for {
		fc, err := g0.NextFrame(ctx)
		if err != nil {
			t.Fatalf("NextFrame: %v", err)
		}
		if fc == nil {
			break
		}
		raw, err := fc.ReadAll(ctx)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		_, payload, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		frames = append(frames, payload)
	}
	if len(frames) != 2 || string(frames[0]) != "key0" || string(frames[1]) != "delta0" {
		t.Fatalf("unexpected group 0 frames: %v", frames)
	}

	g1, err := tc.NextGroup(ctx)
	if err != nil || g1 == nil {
		t.Fatalf("NextGroup g1: %v %v", g1, err)
	}
	if g1.Sequence() != 1 {
		t.Fatalf("expected sequence 1, got %d", g1.Sequence())
	}
}

func TestProducerRejectsNonKeyframeWithoutOpenGroup(t *testing.T) {
	tp, _ := model.NewTrack("video", 1)
	p := NewProducer(tp)
	if err := p.WriteFrame(0, false, []byte("delta")); err == nil {
		t.Fatalf("expected error writing a non-keyframe with no open group")
	}
}

func TestProducerRejectsBackwardsKeyframeTimestamp(t *testing.T) {
	tp, _ := model.NewTrack("video", 1)
	p := NewProducer(tp)
	if err := p.WriteFrame(100, true, []byte("key0")); err != nil {
		t.Fatalf("WriteFrame key0: %v", err)
	}
	if err := p.WriteFrame(50, true, []byte("key1")); err == nil {
		t.Fatalf("expected error for backwards keyframe timestamp")
	}
}

func TestConsumerEmitsGroupsInOrder(t *testing.T) {
	tp, tc := model.NewTrack("video", 1)
	p := NewProducer(tp)
	if err := p.WriteFrame(0, true, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFrame(1000, true, []byte("b")); err != nil {
		t.Fatal(err)
	}
	p.Close()

	c := NewConsumer(tc, 100*time.Millisecond)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ts, payload, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next 1: %v", err)
	}
	if ts != 0 || string(payload) != "a" {
		t.Fatalf("unexpected first frame: ts=%d payload=%q", ts, payload)
	}

	ts, payload, err = c.Next(ctx)
	if err != nil {
		t.Fatalf("Next 2: %v", err)
	}
	if ts != 1000 || string(payload) != "b" {
		t.Fatalf("unexpected second frame: ts=%d payload=%q", ts, payload)
	}

	ts, payload, err = c.Next(ctx)
	if err != nil {
		t.Fatalf("Next 3: %v", err)
	}
	if payload != nil {
		t.Fatalf("expected nil payload at track end, got %q (ts=%d)", payload, ts)
	}
}

// S4 — latency-bounded skip: G2 stalls (opened, never produces a frame or
// closes); G3 arrives with a frame past max_timestamp + max_latency, so the
// consumer drops G2 and resumes at G3.
func TestConsumerS4LatencyBoundedSkip(t *testing.T) {
	const maxLatency = 100 * time.Millisecond // 100_000 microseconds

	tp, tc := model.NewTrack("video", 1)

	writeGroup := func(ts int64, payload string) {
		gp := tp.AppendGroup()
		fp := gp.CreateFrame(ts, true, 0)
		fp.WriteChunk(Encode(ts, []byte(payload)))
		fp.Close()
		gp.Close()
	}

	writeGroup(0, "g0")       // sequence 0
	writeGroup(50_000, "g1")  // sequence 1, last ts 50ms
	_ = tp.AppendGroup()      // sequence 2 (G2): opened, never closed, no frames
	writeGroup(200_000, "g3") // sequence 3, 200ms > 50ms + 100ms threshold
	writeGroup(210_000, "g4") // sequence 4

	c := NewConsumer(tc, maxLatency)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ts, payload, err := c.Next(ctx)
	if err != nil || string(payload) != "g0" {
		t.Fatalf("expected g0, got ts=%d payload=%q err=%v", ts, payload, err)
	}

	ts, payload, err = c.Next(ctx)
	if err != nil || string(payload) != "g1" {
		t.Fatalf("expected g1, got ts=%d payload=%q err=%v", ts, payload, err)
	}

	ts, payload, err = c.Next(ctx)
	if err != nil {
		t.Fatalf("expected g3 after skipping g2, got err=%v", err)
	}
	if string(payload) != "g3" {
		t.Fatalf("expected g3 (g2 should have been skipped), got ts=%d payload=%q", ts, payload)
	}

	ts, payload, err = c.Next(ctx)
	if err != nil || string(payload) != "g4" {
		t.Fatalf("expected g4, got ts=%d payload=%q err=%v", ts, payload, err)
	}
}
