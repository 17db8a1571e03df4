package app

import (
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

type Policy interface {
	OnBackPressure(room domain.RoomName, peer core.PeerSession) BackpressureAction
}

// SimplePolicy kicks any peer that missed a room event.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomName, core.PeerSession) BackpressureAction {
	return KickMember
}
