package media

import (
	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// Producer splits a stream of frames into keyframe-delimited groups on a
// track (spec.md §4.8). A keyframe closes the current group (if any) and
// opens a new one; a non-keyframe appends to the current group, which must
// already be open. Successive keyframe timestamps must be non-decreasing.
type Producer struct {
	track       *model.TrackProducer
	current     *model.GroupProducer
	lastKeyTS   int64
	sawKeyframe bool
}

// NewProducer wraps track. The caller retains ownership of track and must
// not write frames to it directly while a Producer is in use.
func NewProducer(track *model.TrackProducer) *Producer {
	return &Producer{track: track}
}

// WriteFrame encodes and appends one frame. ts is a monotonic-per-producer
// microsecond timestamp.
func (p *Producer) WriteFrame(ts int64, keyframe bool, payload []byte) error {
	if keyframe {
		if p.sawKeyframe && ts < p.lastKeyTS {
			return moqerrors.New("media.write_frame", moqerrors.KindTimestampBackwards, nil)
		}
		if p.current != nil {
			p.current.Close()
		}
		p.current = p.track.AppendGroup()
		p.lastKeyTS = ts
		p.sawKeyframe = true
	} else if p.current == nil {
		return moqerrors.New("media.write_frame", moqerrors.KindMissingKeyframe, nil)
	}

	encoded := Encode(ts, payload)
	fp := p.current.CreateFrame(ts, keyframe, int64(len(encoded)))
	fp.WriteChunk(encoded)
	fp.Close()
	return nil
}

// Close closes the current group, if any, and the underlying track.
func (p *Producer) Close() {
	if p.current != nil {
		p.current.Close()
	}
	p.track.Close()
}

// Abort aborts the current group, if any, and the underlying track.
func (p *Producer) Abort(err error) {
	if p.current != nil {
		p.current.Abort(err)
	}
	p.track.Abort(err)
}
