package model

import "sync/atomic"

// addRef/releaseRef implement the "zero consumers" accounting spec.md §3
// describes as an "unused" signal: a TrackProducer observes it via a
// reference count on the shared handle rather than a back-pointer to
// itself (spec.md §9 "Cyclic references").

func addRef(refs *int32) {
	atomic.AddInt32(refs, 1)
}

// releaseRef decrements refs and reports whether it reached zero.
func releaseRef(refs *int32) bool {
	return atomic.AddInt32(refs, -1) == 0
}
