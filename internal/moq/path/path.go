// Package path implements the hierarchical, slash-delimited namespace
// identifier used for broadcast locations throughout the origin and
// session layers (spec.md §3, §4.2).
package path

import "strings"

// Path is an ordered sequence of non-empty segments. The zero value is the
// empty path, which is valid.
type Path struct {
	segments []string
}

// New constructs a Path from a slash-separated string, rejecting empty
// segments (a leading, trailing, or doubled slash).
func New(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return Path{}, &segmentError{raw: s}
		}
		segs = append(segs, p)
	}
	return Path{segments: segs}, nil
}

// MustNew is New but panics on error; intended for literal paths in tests
// and static configuration.
func MustNew(s string) Path {
	p, err := New(s)
	if err != nil {
		panic(err)
	}
	return p
}

// FromSegments builds a Path directly from already-split segments, as
// decoded off the wire (spec.md §6.2's "VarInt count + N Strings" form),
// without re-validating each segment for emptiness.
func FromSegments(segs []string) Path {
	return Path{segments: append([]string(nil), segs...)}
}

// Segments returns the path's segments. The returned slice must not be
// mutated by the caller.
func (p Path) Segments() []string { return p.segments }

// Empty reports whether the path has zero segments.
func (p Path) Empty() bool { return len(p.segments) == 0 }

// String renders the path as a slash-joined string.
func (p Path) String() string { return strings.Join(p.segments, "/") }

// Equal reports structural equality over segments.
func (p Path) Equal(o Path) bool {
	if len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// StripPrefix returns the remainder of p after other, and true, if other is
// a prefix of p (including the case other == p, yielding the empty path).
// Returns the zero Path and false if other is not a prefix.
func (p Path) StripPrefix(other Path) (Path, bool) {
	if len(other.segments) > len(p.segments) {
		return Path{}, false
	}
	for i, seg := range other.segments {
		if p.segments[i] != seg {
			return Path{}, false
		}
	}
	return Path{segments: append([]string(nil), p.segments[len(other.segments):]...)}, true
}

// Concat returns a new path consisting of a's segments followed by b's.
// Concatenation is associative: Concat(Concat(a,b),c) == Concat(a,Concat(b,c)).
func Concat(a, b Path) Path {
	segs := make([]string, 0, len(a.segments)+len(b.segments))
	segs = append(segs, a.segments...)
	segs = append(segs, b.segments...)
	return Path{segments: segs}
}

// Absolute joins a base and a suffix with '/', for use in logging.
func Absolute(base, suffix Path) string {
	return Concat(base, suffix).String()
}

// Less provides a lexicographic ordering over segments, usable as a
// sort.Slice comparator.
func Less(a, b Path) bool {
	n := len(a.segments)
	if len(b.segments) < n {
		n = len(b.segments)
	}
	for i := 0; i < n; i++ {
		if a.segments[i] != b.segments[i] {
			return a.segments[i] < b.segments[i]
		}
	}
	return len(a.segments) < len(b.segments)
}

type segmentError struct{ raw string }

func (e *segmentError) Error() string {
	return "path: empty segment in " + e.raw
}
