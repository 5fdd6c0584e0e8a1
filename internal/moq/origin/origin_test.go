package origin

import (
	"context"
	"testing"
	"time"

	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/path"
)

// S3 — origin scope filtering.
func TestOriginS3ScopeFiltering(t *testing.T) {
	o := New()
	_, ax := model.NewBroadcast()
	_, ay := model.NewBroadcast()
	_, cx := model.NewBroadcast()

	o.PublishBroadcast(path.MustNew("a/b/x"), ax)
	o.PublishBroadcast(path.MustNew("a/b/y"), ay)
	o.PublishBroadcast(path.MustNew("c/x"), cx)

	scoped := o.ConsumeOnly([]path.Path{path.MustNew("a/b")})
	next := scoped.Announced()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		e, err := next(ctx)
		if err != nil {
			t.Fatalf("Announced: %v", err)
		}
		if !e.Active {
			t.Fatalf("expected active event, got inactive for %v", e.Path)
		}
		rel, ok := e.Path.StripPrefix(path.MustNew("a/b"))
		if !ok {
			t.Fatalf("event path %v not under scope", e.Path)
		}
		seen[rel.String()] = true
	}
	if !seen["x"] || !seen["y"] {
		t.Fatalf("expected suffixes x and y, got %v", seen)
	}

	o.UnpublishBroadcast(path.MustNew("a/b/x"))
	e, err := next(ctx)
	if err != nil {
		t.Fatalf("Announced after unpublish: %v", err)
	}
	if e.Active {
		t.Fatalf("expected inactive event")
	}
	rel, _ := e.Path.StripPrefix(path.MustNew("a/b"))
	if rel.String() != "x" {
		t.Fatalf("expected unannounce suffix x, got %v", rel)
	}
}

// Invariant #4: alternating active/inactive, never two in a row.
func TestOriginAlternatingAnnounce(t *testing.T) {
	o := New()
	_, bc := model.NewBroadcast()
	p := path.MustNew("live/stream")

	scoped := o.ConsumeOnly(nil)
	next := scoped.Announced()

	o.PublishBroadcast(p, bc)
	o.UnpublishBroadcast(p)
	o.PublishBroadcast(p, bc)
	o.UnpublishBroadcast(p)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []bool{true, false, true, false}
	for _, w := range want {
		e, err := next(ctx)
		if err != nil {
			t.Fatalf("Announced: %v", err)
		}
		if e.Active != w {
			t.Fatalf("want active=%v got %v", w, e.Active)
		}
	}
}

func TestScopedConsumeBroadcastUnauthorized(t *testing.T) {
	o := New()
	_, bc := model.NewBroadcast()
	o.PublishBroadcast(path.MustNew("a/x"), bc)

	scoped := o.ConsumeOnly([]path.Path{path.MustNew("b")})
	if _, err := scoped.ConsumeBroadcast(path.MustNew("a/x")); err == nil {
		t.Fatalf("expected Unauthorized error for out-of-scope path")
	}
}
