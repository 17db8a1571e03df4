// Package media models local and remote tracks and the acquisition policy
// for local capture.
package media

import (
	"sync"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// Track is a single audio or video track. Stop must be safe to call more
// than once.
type Track interface {
	ID() string
	Kind() domain.MediaKind
	Stop()
	// Clone returns an independent track on the same source.
	Clone() Track
}

// Stream is an ordered set of tracks.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

func NewStream(id string, tracks ...Track) *Stream {
	s := &Stream{id: id}
	s.tracks = append(s.tracks, tracks...)
	return s
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// RemoveTrack drops the track with the given id and reports whether it was
// present.
func (s *Stream) RemoveTrack(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t.ID() == id {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// TracksOf returns the tracks of one kind.
func (s *Stream) TracksOf(kind domain.MediaKind) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// First returns the first track of a kind.
func (s *Stream) First(kind domain.MediaKind) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// Stop stops every track.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
