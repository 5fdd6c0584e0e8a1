package subscriber

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/go-moq/internal/logger"
	"github.com/alxayo/go-moq/internal/moq/control"
	"github.com/alxayo/go-moq/internal/moq/groupwire"
	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moq/transport"
	"github.com/alxayo/go-moq/internal/moq/transporttest"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// openControlPair opens a bidirectional stream over pair, standing in for
// the control stream a real session.Session hands out after SETUP
// negotiation: these tests exercise Subscriber in isolation, so they skip
// the handshake and talk raw control.Kind frames directly, the way
// publisher_test.go's TestAdmitGroupEvictsOldestOnThirdArrival skips
// session setup to test admitGroup directly.
func openControlPair(t *testing.T, pair *transporttest.Pair) (transport.Stream, transport.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var client transport.Stream
	var server transport.Stream
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		client, err = pair.Client.OpenBi(ctx)
		if err != nil {
			t.Errorf("OpenBi: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		server, err = pair.Server.AcceptBi(ctx)
		if err != nil {
			t.Errorf("AcceptBi: %v", err)
		}
	}()
	wg.Wait()
	return client, server
}

func TestConsumeSucceedsOnSubscribeOK(t *testing.T) {
	pair := transporttest.NewPair("")
	var writeMu sync.Mutex
	control1, control2 := openControlPair(t, pair)
	s := New(pair.Client, control1, &writeMu, 10, logger.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		tc  *model.TrackConsumer
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		tc, err := s.Consume(ctx, path.MustNew("rooms/1"), "video", 1, true, time.Second)
		resCh <- result{tc, err}
	}()

	kind, payload, err := control.ReadMessage(control2)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != control.KindSubscribe {
		t.Fatalf("expected KindSubscribe, got %v", kind)
	}
	msg, err := control.DecodeSubscribe(payload)
	if err != nil {
		t.Fatalf("DecodeSubscribe: %v", err)
	}
	if !msg.Broadcast.Equal(path.MustNew("rooms/1")) || msg.Track != "video" {
		t.Fatalf("unexpected subscribe: %+v", msg)
	}

	ok := control.SubscribeOK{ID: msg.ID, SelectedPriority: msg.Priority}
	if err := control.WriteMessage(control2, control.KindSubscribeOK, ok.Encode()); err != nil {
		t.Fatalf("WriteMessage SubscribeOK: %v", err)
	}

	res := <-resCh
	if res.err != nil {
		t.Fatalf("Consume: %v", res.err)
	}
	if res.tc == nil {
		t.Fatal("expected non-nil TrackConsumer")
	}
	res.tc.Release()
}

func TestConsumeFailsOnSubscribeDrop(t *testing.T) {
	pair := transporttest.NewPair("")
	var writeMu sync.Mutex
	control1, control2 := openControlPair(t, pair)
	s := New(pair.Client, control1, &writeMu, 10, logger.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Consume(ctx, path.MustNew("rooms/1"), "video", 1, true, time.Second)
		errCh <- err
	}()

	kind, payload, err := control.ReadMessage(control2)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != control.KindSubscribe {
		t.Fatalf("expected KindSubscribe, got %v", kind)
	}
	msg, err := control.DecodeSubscribe(payload)
	if err != nil {
		t.Fatalf("DecodeSubscribe: %v", err)
	}

	drop := control.SubscribeDrop{ID: msg.ID, Sequence: 0, Count: 0, Error: 1}
	if err := s.HandleMessage(control.KindSubscribeDrop, drop.Encode()); err != nil {
		t.Fatalf("HandleMessage SubscribeDrop: %v", err)
	}

	err = <-errCh
	if err == nil {
		t.Fatal("expected Consume to fail after SUBSCRIBE_DROP")
	}
	if k, ok := moqerrors.KindOf(err); !ok || k != moqerrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestConsumeRefusesPastRequestIDCeiling(t *testing.T) {
	pair := transporttest.NewPair("")
	var writeMu sync.Mutex
	control1, _ := openControlPair(t, pair)
	s := New(pair.Client, control1, &writeMu, 1, logger.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.mu.Lock()
	s.nextID = 1
	s.mu.Unlock()

	_, err := s.Consume(ctx, path.MustNew("rooms/1"), "video", 1, true, time.Second)
	if err == nil {
		t.Fatal("expected error past the request id ceiling")
	}
	if k, ok := moqerrors.KindOf(err); !ok || k != moqerrors.KindTooMany {
		t.Fatalf("expected KindTooMany, got %v", err)
	}
}

func TestUnsubscribeClearsTrackingAndSendsUnsubscribe(t *testing.T) {
	pair := transporttest.NewPair("")
	var writeMu sync.Mutex
	control1, control2 := openControlPair(t, pair)
	s := New(pair.Client, control1, &writeMu, 10, logger.Logger())

	tp, _ := model.NewTrack("video", 1)
	s.mu.Lock()
	s.tracks[5] = tp
	s.pending[5] = make(chan control.SubscribeOK, 1)
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Unsubscribe(5) }()

	kind, payload, err := control.ReadMessage(control2)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != control.KindUnsubscribe {
		t.Fatalf("expected KindUnsubscribe, got %v", kind)
	}
	msg, err := control.DecodeUnsubscribe(payload)
	if err != nil {
		t.Fatalf("DecodeUnsubscribe: %v", err)
	}
	if msg.ID != 5 {
		t.Fatalf("expected id 5, got %d", msg.ID)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	s.mu.Lock()
	_, trackPresent := s.tracks[5]
	_, pendingPresent := s.pending[5]
	s.mu.Unlock()
	if trackPresent || pendingPresent {
		t.Fatal("expected Unsubscribe to clear tracking state")
	}
}

func TestAnnouncePleaseMirrorsRemoteAnnouncements(t *testing.T) {
	pair := transporttest.NewPair("")
	var writeMu sync.Mutex
	control1, control2 := openControlPair(t, pair)
	s := New(pair.Client, control1, &writeMu, 10, logger.Logger())

	o, err := s.AnnouncePlease(path.MustNew("rooms"))
	if err != nil {
		t.Fatalf("AnnouncePlease: %v", err)
	}

	kind, payload, err := control.ReadMessage(control2)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != control.KindAnnouncePlease {
		t.Fatalf("expected KindAnnouncePlease, got %v", kind)
	}
	ap, err := control.DecodeAnnouncePlease(payload)
	if err != nil {
		t.Fatalf("DecodeAnnouncePlease: %v", err)
	}
	if !ap.Prefix.Equal(path.MustNew("rooms")) {
		t.Fatalf("unexpected prefix: %v", ap.Prefix)
	}

	init := control.AnnounceInit{Suffixes: []path.Path{path.MustNew("1")}}
	if err := s.HandleMessage(control.KindAnnounceInit, init.Encode()); err != nil {
		t.Fatalf("HandleMessage AnnounceInit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	next := o.ConsumeOnly(nil).Announced()

	ev, err := next(ctx)
	if err != nil {
		t.Fatalf("Announced: %v", err)
	}
	if !ev.Active || !ev.Path.Equal(path.MustNew("rooms/1")) {
		t.Fatalf("unexpected event: %+v", ev)
	}

	active := control.AnnounceActive{Suffix: path.MustNew("2")}
	if err := s.HandleMessage(control.KindAnnounceActive, active.Encode()); err != nil {
		t.Fatalf("HandleMessage AnnounceActive: %v", err)
	}
	ev, err = next(ctx)
	if err != nil || !ev.Active || !ev.Path.Equal(path.MustNew("rooms/2")) {
		t.Fatalf("unexpected event after AnnounceActive: %+v err=%v", ev, err)
	}

	ended := control.AnnounceEnded{Suffix: path.MustNew("1")}
	if err := s.HandleMessage(control.KindAnnounceEnded, ended.Encode()); err != nil {
		t.Fatalf("HandleMessage AnnounceEnded: %v", err)
	}
	ev, err = next(ctx)
	if err != nil || ev.Active || !ev.Path.Equal(path.MustNew("rooms/1")) {
		t.Fatalf("unexpected event after AnnounceEnded: %+v err=%v", ev, err)
	}
}

// TestHandleGroupStreamRoutesFramesByTrackAlias exercises
// handleGroupStream directly against a fabricated group uni-stream,
// confirming frames land on the TrackProducer keyed by the subscription
// id (spec.md §4.12's "route by track alias").
func TestHandleGroupStreamRoutesFramesByTrackAlias(t *testing.T) {
	pair := transporttest.NewPair("")
	var writeMu sync.Mutex
	control1, _ := openControlPair(t, pair)
	s := New(pair.Client, control1, &writeMu, 10, logger.Logger())

	tp, tc := model.NewTrack("video", 1)
	s.mu.Lock()
	s.tracks[7] = tp
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go s.AcceptGroups(ctx)

	sendStream, err := pair.Server.OpenUni(ctx)
	if err != nil {
		t.Fatalf("OpenUni: %v", err)
	}
	if err := groupwire.WriteHeader(sendStream, groupwire.Header{TrackAlias: 7, GroupID: 0}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := groupwire.WriteObject(sendStream, 0, nil, []byte("hello")); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if err := sendStream.Close(); err != nil {
		t.Fatalf("Close send stream: %v", err)
	}

	gc, err := tc.NextGroup(ctx)
	if err != nil || gc == nil {
		t.Fatalf("NextGroup: %v (group=%v)", err, gc)
	}
	fc, err := gc.NextFrame(ctx)
	if err != nil || fc == nil {
		t.Fatalf("NextFrame: %v (frame=%v)", err, fc)
	}
	data, err := fc.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}
