package call

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type State int

const (
	Idle State = iota
	Outgoing
	Incoming
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Active:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	Idle:     {Outgoing, Incoming},
	Outgoing: {Active, Idle},
	Incoming: {Active, Idle},
	Active:   {Idle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Why a call went back to idle.
const (
	ReasonHangup       = domain.ReasonHangup
	ReasonDeclined     = domain.ReasonDeclined
	ReasonBusy         = domain.ReasonBusy
	ReasonTimeout      = domain.ReasonTimeout
	ReasonDisconnected = domain.ReasonDisconnected
	ReasonRemoteEnd    = "remote-end"
	ReasonRoomClosed   = "room-closed"
	ReasonFailed       = "failed"
)

// Status is a snapshot of the call handed to the listener.
type Status struct {
	State  State
	Remote domain.PeerID
	Kind   domain.CallKind
	// Connecting is set once the call is accepted and until room setup ends.
	Connecting       bool
	VideoEnabled     bool
	VideoUnavailable bool
	// Reason and Err describe the end of a call and are only set on the
	// transition to Idle.
	Reason string
	Err    error
}

// Listener callbacks may be nil. They are never invoked with the phone's lock
// held.
type Listener struct {
	OnStatus func(Status)
	// OnRemoteStream gets a nil stream once the peer's stream is gone.
	OnRemoteStream func(peer domain.PeerID, stream *media.Stream)
	OnSpeaking     func(id string, speaking bool)
}

// callState is the whole mutable state of the current call.
type callState struct {
	state    State
	gen      uint64
	remote   domain.PeerID
	kind     domain.CallKind
	accepted bool
	room     domain.RoomName

	videoEnabled     bool
	videoUnavailable bool

	timer  *time.Timer
	cancel context.CancelFunc
	res    *resources
}

func (cs *callState) to(next State) error {
	if !canTransition(cs.state, next) {
		return fmt.Errorf("illegal transition %s -> %s", cs.state, next)
	}
	cs.state = next
	return nil
}

func (cs *callState) status() Status {
	return Status{
		State:            cs.state,
		Remote:           cs.remote,
		Kind:             cs.kind,
		Connecting:       cs.accepted && cs.state != Active && cs.state != Idle,
		VideoEnabled:     cs.videoEnabled,
		VideoUnavailable: cs.videoUnavailable,
	}
}
