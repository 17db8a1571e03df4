package core

import "github.com/dkeye/VoiceCall/internal/domain"

// PeerSession binds a peer identity and its signaling endpoint.
// This is what a room stores and fans out to.
type PeerSession interface {
	ID() domain.PeerID
	Signal() SignalConnection
}
