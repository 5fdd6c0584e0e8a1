package auth

import (
	"testing"
	"time"

	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

func TestIssueThenVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier([]byte("test key set bytes, not a real secret"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	want := Capability{
		Prefixes:     []path.Path{path.MustNew("rooms/1")},
		CanPublish:   true,
		CanSubscribe: true,
	}
	token, err := v.Issue(want)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := v.Verify(token, time.Now())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !got.CanPublish || !got.CanSubscribe {
		t.Fatalf("capability flags lost: %+v", got)
	}
	if !got.Allows(path.MustNew("rooms/1/video")) {
		t.Fatalf("expected prefix to allow a sub-path")
	}
	if got.Allows(path.MustNew("rooms/2")) {
		t.Fatalf("expected prefix to forbid an unrelated path")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	v, err := NewVerifier([]byte("key a"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	token, err := v.Issue(Capability{CanSubscribe: true})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewVerifier([]byte("key b"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	_, err = other.Verify(token, time.Now())
	if err == nil {
		t.Fatal("expected verification under a different key to fail")
	}
	if k, ok := moqerrors.KindOf(err); !ok || k != moqerrors.KindUnauthorized {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v, err := NewVerifier([]byte("key a"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	cap := WithExpiry(Capability{CanSubscribe: true}, time.Now().Add(-time.Minute))
	token, err := v.Issue(cap)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = v.Verify(token, time.Now())
	if err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	v, err := NewVerifier([]byte("key a"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	for _, tok := range []string{"", "no-dot-here", "bad base64.also-bad"} {
		if _, err := v.Verify(tok, time.Now()); err == nil {
			t.Fatalf("expected %q to fail verification", tok)
		}
	}
}

func TestUnscopedCapabilityAllowsEverything(t *testing.T) {
	c := Capability{}
	if !c.Allows(path.MustNew("anything/at/all")) {
		t.Fatal("empty prefix list should allow every path")
	}
}
