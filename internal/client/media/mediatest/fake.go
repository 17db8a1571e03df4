// Package mediatest has in-memory tracks and capture devices for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
)

var seq atomic.Int64

type Track struct {
	id      string
	kind    domain.MediaKind
	stopped atomic.Bool
	// Level is read by fake analysers.
	Level atomic.Int32
	// source is the track this one was cloned from.
	source *Track
}

func NewTrack(kind domain.MediaKind) *Track {
	return &Track{id: fmt.Sprintf("%s-%d", kind, seq.Add(1)), kind: kind}
}

func (t *Track) ID() string { return t.id }

func (t *Track) Kind() domain.MediaKind { return t.kind }

func (t *Track) Stop() { t.stopped.Store(true) }

func (t *Track) Stopped() bool { return t.stopped.Load() }

func (t *Track) Clone() media.Track {
	c := NewTrack(t.kind)
	c.source = t
	return c
}

// Source returns the original of a clone, or the track itself.
func (t *Track) Source() *Track {
	if t.source != nil {
		return t.source
	}
	return t
}

// Devices answers GetUserMedia from a scripted list of failures. Video
// requests fail with VideoErrs in order; audio fails with AudioErr.
type Devices struct {
	mu        sync.Mutex
	VideoErrs []error
	AudioErr  error
	Calls     []media.Constraints
	Streams   []*media.Stream
}

func (d *Devices) GetUserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, c)
	if c.Video != nil && len(d.VideoErrs) > 0 {
		err := d.VideoErrs[0]
		d.VideoErrs = d.VideoErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if c.Audio && d.AudioErr != nil {
		return nil, d.AudioErr
	}
	s := media.NewStream(fmt.Sprintf("local-%d", seq.Add(1)))
	if c.Audio {
		s.AddTrack(NewTrack(domain.KindAudio))
	}
	if c.Video != nil {
		s.AddTrack(NewTrack(domain.KindVideo))
	}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// Deny builds a capture error with the given platform name.
func Deny(name string) error {
	return &media.DeviceError{Name: name}
}
