// Package catalog implements the JSON manifest describing a broadcast's
// available renditions (spec.md §4.7, §6.2), grounded on
// _examples/original_source/rs/hang/src/catalog/{root,video,audio}.rs for
// the exact field shape and round-trip test fixture, and on
// other_examples/8fd825b9_zsiec-prism__internal-distribution-moq_catalog.go.go
// for publishing it as a single-object MoQ track.
package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// DefaultName and DefaultPriority are the catalog track's fixed identity
// (spec.md §4.4, §4.7; mirrors hang/src/catalog/root.rs's DEFAULT_NAME and
// default_track() priority).
const (
	DefaultName     = "catalog.json"
	DefaultPriority = 100
)

// Container is the tagged union of container variants a rendition can use
// (spec.md §6.2's "legacy" | "cmaf" kinds, supplemented from
// hang/src/catalog/video/mod.rs's Container enum).
type Container struct {
	Kind      string `json:"kind"` // "legacy" or "cmaf"
	Timescale uint64 `json:"timescale,omitempty"`
	TrackID   uint64 `json:"trackId,omitempty"`
}

// Legacy returns the container for the "legacy" kind.
func Legacy() Container { return Container{Kind: "legacy"} }

// CMAF returns the container for the "cmaf" kind with the given timescale
// and track id.
func CMAF(timescale, trackID uint64) Container {
	return Container{Kind: "cmaf", Timescale: timescale, TrackID: trackID}
}

// VideoConfig describes one video rendition.
type VideoConfig struct {
	Codec              string    `json:"codec"`
	Description        string    `json:"description,omitempty"` // hex-encoded
	CodedWidth         *int      `json:"codedWidth,omitempty"`
	CodedHeight        *int      `json:"codedHeight,omitempty"`
	DisplayRatioWidth  *int      `json:"displayRatioWidth,omitempty"`
	DisplayRatioHeight *int      `json:"displayRatioHeight,omitempty"`
	Bitrate            *int64    `json:"bitrate,omitempty"`
	Framerate          *float64  `json:"framerate,omitempty"`
	OptimizeForLatency *bool     `json:"optimizeForLatency,omitempty"`
	Container          Container `json:"container"`
	JitterMS           *int      `json:"jitter,omitempty"`
}

// AudioConfig describes one audio rendition.
type AudioConfig struct {
	Codec            string    `json:"codec"`
	SampleRate       int       `json:"sampleRate"`
	NumberOfChannels int       `json:"numberOfChannels"`
	Bitrate          *int64    `json:"bitrate,omitempty"`
	Description      string    `json:"description,omitempty"`
	Container        Container `json:"container"`
	JitterMS         *int      `json:"jitter,omitempty"`
}

// Display describes how a video track should be presented (supplemented
// from hang/src/catalog/video/mod.rs).
type Display struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Video holds the renditions a viewer can choose from. Go's
// encoding/json marshals map[string]V keys in sorted order, which is what
// gives renditions their required key-sorted serialization (spec.md §3,
// §9 "Serialization stability") without an ordered-map library.
type Video struct {
	Renditions map[string]VideoConfig `json:"renditions"`
	Display    *Display               `json:"display,omitempty"`
	Rotation   *int                   `json:"rotation,omitempty"`
	Flip       *bool                  `json:"flip,omitempty"`
}

// Audio holds the audio renditions a viewer can choose from.
type Audio struct {
	Renditions map[string]AudioConfig `json:"renditions"`
}

// User carries broadcaster metadata (supplemented from
// hang/src/catalog/user).
type User struct {
	Name string `json:"name,omitempty"`
}

// Chat references the track carrying chat messages (supplemented from
// hang/src/catalog/chat).
type Chat struct {
	Track TrackRef `json:"track"`
}

// TrackRef names a track and its priority, mirroring moq_lite::Track as
// used by Catalog.preview/chat.
type TrackRef struct {
	Name     string `json:"name"`
	Priority uint8  `json:"priority"`
}

// Catalog is the root manifest document.
type Catalog struct {
	Video   Video     `json:"video"`
	Audio   Audio     `json:"audio"`
	User    *User     `json:"user,omitempty"`
	Chat    *Chat     `json:"chat,omitempty"`
	Preview *TrackRef `json:"preview,omitempty"`
}

// New returns an empty Catalog with initialized rendition maps.
func New() Catalog {
	return Catalog{
		Video: Video{Renditions: map[string]VideoConfig{}},
		Audio: Audio{Renditions: map[string]AudioConfig{}},
	}
}

// Marshal serializes the catalog with key-sorted renditions.
func (c Catalog) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Parse deserializes a Catalog from JSON bytes.
func Parse(b []byte) (Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(b, &c); err != nil {
		return Catalog{}, err
	}
	if c.Video.Renditions == nil {
		c.Video.Renditions = map[string]VideoConfig{}
	}
	if c.Audio.Renditions == nil {
		c.Audio.Renditions = map[string]AudioConfig{}
	}
	return c, nil
}

// Equal reports whether two catalogs serialize identically (spec.md
// invariant #5: "serialize then parse a Catalog → equal Catalog").
func (c Catalog) Equal(o Catalog) bool {
	a, err1 := c.Marshal()
	b, err2 := o.Marshal()
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// NextVideoName returns the next auto-name ("video0", "video1", ...) not
// already present in renditions (supplemented from
// hang/src/catalog/video/mod.rs's create_track).
func (v Video) NextVideoName() string { return nextName(v.Renditions, "video") }

// NextAudioName returns the next auto-name ("audio0", "audio1", ...) not
// already present in renditions.
func (a Audio) NextAudioName() string { return nextName(a.Renditions, "audio") }

func nextName[V any](m map[string]V, base string) string {
	for n := 0; ; n++ {
		candidate := base + strconv.Itoa(n)
		if _, ok := m[candidate]; !ok {
			return candidate
		}
	}
}
