package core

import "github.com/dkeye/VoiceCall/internal/domain"

type peerSession struct {
	id     domain.PeerID
	signal SignalConnection
}

func NewPeerSession(id domain.PeerID, signal SignalConnection) PeerSession {
	return &peerSession{id: id, signal: signal}
}

func (p *peerSession) ID() domain.PeerID { return p.id }

func (p *peerSession) Signal() SignalConnection { return p.signal }
