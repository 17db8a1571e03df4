// Package compositor merges each remote peer's audio and video tracks into
// one stream per peer.
package compositor

import (
	"sort"
	"sync"

	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Compositor holds at most one track per kind for each peer. A peer whose
// last track goes away is dropped.
type Compositor struct {
	mu      sync.Mutex
	streams map[domain.PeerID]*media.Stream
}

func New() *Compositor {
	return &Compositor{streams: make(map[domain.PeerID]*media.Stream)}
}

// AttachTrack adds track to the peer's stream, replacing a track of the same
// kind. It returns the peer's stream.
func (c *Compositor) AttachTrack(peer domain.PeerID, track media.Track) *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[peer]
	if !ok {
		s = media.NewStream(string(peer))
		c.streams[peer] = s
	}
	for _, old := range s.TracksOf(track.Kind()) {
		s.RemoveTrack(old.ID())
		log.Debug().Str("module", "client.compositor").Str("peer", string(peer)).Str("track", old.ID()).Msg("track replaced")
	}
	s.AddTrack(track)
	return s
}

// DetachTrack removes the peer's track of the given kind. It reports whether
// the peer still has a stream.
func (c *Compositor) DetachTrack(peer domain.PeerID, kind domain.MediaKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[peer]
	if !ok {
		return false
	}
	for _, t := range s.TracksOf(kind) {
		s.RemoveTrack(t.ID())
	}
	return c.pruneLocked(peer, s)
}

// RemoveTrack removes one specific track, leaving a newer track of the same
// kind alone. It reports whether the peer still has a stream.
func (c *Compositor) RemoveTrack(peer domain.PeerID, trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[peer]
	if !ok {
		return false
	}
	s.RemoveTrack(trackID)
	return c.pruneLocked(peer, s)
}

func (c *Compositor) pruneLocked(peer domain.PeerID, s *media.Stream) bool {
	if s.Len() > 0 {
		return true
	}
	delete(c.streams, peer)
	return false
}

func (c *Compositor) Stream(peer domain.PeerID) (*media.Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[peer]
	return s, ok
}

func (c *Compositor) Peers() []domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.PeerID, 0, len(c.streams))
	for id := range c.streams {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Compositor) Clear() {
	c.mu.Lock()
	c.streams = make(map[domain.PeerID]*media.Stream)
	c.mu.Unlock()
}
