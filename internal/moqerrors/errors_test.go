package moqerrors

import (
	"context"
	"errors"
	"testing"
)

func TestKindOfAndIs(t *testing.T) {
	err := New("track.get_group", KindNotFound, nil)
	k, ok := KindOf(err)
	if !ok || k != KindNotFound {
		t.Fatalf("KindOf = %v, %v; want KindNotFound, true", k, ok)
	}
	if !Is(err, KindNotFound) {
		t.Fatalf("Is(err, KindNotFound) = false")
	}
	if Is(err, KindTimeout) {
		t.Fatalf("Is(err, KindTimeout) = true")
	}
}

func TestWrappedKind(t *testing.T) {
	inner := New("decode.subscribe", KindDecode, errors.New("short buffer"))
	wrapped := errors.New("session: " + inner.Error())
	if _, ok := KindOf(wrapped); ok {
		t.Fatalf("plain fmt-wrapped string should not classify as moq error")
	}

	var wrappedErr error = &Error{Op: "session.handle", Kind: KindDecode, Err: inner}
	k, ok := KindOf(wrappedErr)
	if !ok || k != KindDecode {
		t.Fatalf("KindOf(wrappedErr) = %v, %v", k, ok)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(New("fetch", KindTimeout, nil)) {
		t.Fatalf("expected KindTimeout to be a timeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded to be a timeout")
	}
	if IsTimeout(errors.New("other")) {
		t.Fatalf("plain error should not be a timeout")
	}
}

func TestIsMoQError(t *testing.T) {
	if !IsMoQError(New("x", KindCancel, nil)) {
		t.Fatalf("expected IsMoQError true")
	}
	if IsMoQError(errors.New("plain")) {
		t.Fatalf("expected IsMoQError false for plain error")
	}
}
