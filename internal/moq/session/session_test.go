package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/go-moq/internal/moq/transporttest"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

func TestHandshakeVersionNegotiationSuccess(t *testing.T) {
	// S6: client offers [LiteB, LiteA, IetfX]; server supports [LiteA, IetfY].
	// Chosen = LiteA.
	const (
		liteA = 1
		liteB = 2
		ietfX = 3
		ietfY = 4
	)
	pair := transporttest.NewPair("")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientSess, serverSess *Session
	var clientErr, serverErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		clientSess, clientErr = HandshakeClient(ctx, pair.Client, []uint64{liteB, liteA, ietfX}, "client")
	}()
	go func() {
		defer wg.Done()
		serverSess, serverErr = HandshakeServer(ctx, pair.Server, []uint64{liteA, ietfY}, "server")
	}()
	wg.Wait()

	if clientErr != nil || serverErr != nil {
		t.Fatalf("handshake failed: client=%v server=%v", clientErr, serverErr)
	}
	if clientSess.Version() != liteA || serverSess.Version() != liteA {
		t.Fatalf("expected chosen version %d, got client=%d server=%d", liteA, clientSess.Version(), serverSess.Version())
	}
	if clientSess.State() != StateRunning || serverSess.State() != StateRunning {
		t.Fatalf("expected both sessions Running")
	}
}

func TestHandshakeVersionNegotiationFailure(t *testing.T) {
	// S6 failure branch: server supports only [IetfZ], disjoint from the
	// client's offered set -> VersionNegotiationFailed, no streams opened.
	const (
		liteA = 1
		liteB = 2
		ietfX = 3
		ietfZ = 5
	)
	pair := transporttest.NewPair("")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, clientErr = HandshakeClient(ctx, pair.Client, []uint64{liteB, liteA, ietfX}, "client")
	}()
	go func() {
		defer wg.Done()
		_, serverErr = HandshakeServer(ctx, pair.Server, []uint64{ietfZ}, "server")
	}()
	wg.Wait()

	if !moqerrors.Is(serverErr, moqerrors.KindVersionNegotiationFailed) {
		t.Fatalf("expected server KindVersionNegotiationFailed, got %v", serverErr)
	}
	if clientErr == nil {
		t.Fatalf("expected client-side failure once server hung up, got nil")
	}
}

func TestHandshakeSkippedWhenALPNDecisive(t *testing.T) {
	const moqVersion = 42
	ALPNVersions["moq-test"] = moqVersion
	defer delete(ALPNVersions, "moq-test")

	pair := transporttest.NewPair("moq-test")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := HandshakeClient(ctx, pair.Client, []uint64{1}, "client")
	if err != nil {
		t.Fatalf("HandshakeClient: %v", err)
	}
	if s.Version() != moqVersion {
		t.Fatalf("expected version from ALPN, got %d", s.Version())
	}
	if s.Control() != nil {
		t.Fatalf("expected no control stream when ALPN is decisive")
	}
}

func TestHandshakeUnknownALPNIsFatal(t *testing.T) {
	pair := transporttest.NewPair("some-unregistered-alpn")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := HandshakeClient(ctx, pair.Client, []uint64{1}, "client")
	if !moqerrors.Is(err, moqerrors.KindUnknownALPN) {
		t.Fatalf("expected KindUnknownALPN, got %v", err)
	}
}

func TestSessionCloseDerivesCodeFromErrorKind(t *testing.T) {
	pair := transporttest.NewPair("")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientSess *Session
	wg.Add(2)
	go func() {
		defer wg.Done()
		clientSess, _ = HandshakeClient(ctx, pair.Client, []uint64{1}, "client")
	}()
	go func() {
		defer wg.Done()
		HandshakeServer(ctx, pair.Server, []uint64{1}, "server")
	}()
	wg.Wait()

	err := clientSess.Close(moqerrors.New("test", moqerrors.KindUnauthorized, errors.New("boom")))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if clientSess.State() != StateClosed {
		t.Fatalf("expected StateClosed")
	}
	// second close is a no-op
	if err := clientSess.Close(nil); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}
