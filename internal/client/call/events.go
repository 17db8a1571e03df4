package call

import (
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

// HandleEvent applies a server pushed frame. It never waits on the network,
// so it is safe to call from the signaling read goroutine.
func (p *Phone) HandleEvent(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeCallOffer:
		p.onOffer(msg)
	case protocol.TypeCallAccept:
		p.onAccept(msg)
	case protocol.TypeCallDecline:
		p.onDecline(msg)
	case protocol.TypeCallEnd:
		p.onEnd(msg)
	case protocol.TypeNewProducer:
		p.onNewProducer(msg)
	case protocol.TypeProducerClosed:
		p.onProducerClosed(msg)
	case protocol.TypePeerLeft:
		p.onPeerLeft(msg)
	case protocol.TypeRoomClosed:
		p.onRoomClosed()
	case protocol.TypePeerJoined, protocol.TypePong:
	default:
		p.logger.Debug().Str("type", msg.Type).Msg("event ignored")
	}
}

func (p *Phone) bind(msg protocol.Message, v any) bool {
	if err := msg.Bind(v); err != nil {
		p.logger.Warn().Err(err).Str("type", msg.Type).Msg("bad event")
		return false
	}
	return true
}

func (p *Phone) onOffer(msg protocol.Message) {
	var sig protocol.CallSignal
	if !p.bind(msg, &sig) || sig.FromID.Validate() != nil {
		return
	}
	kind := sig.CallKind
	if kind != domain.CallVideo {
		kind = domain.CallAudio
	}

	p.mu.Lock()
	if p.cs.state != Idle {
		p.mu.Unlock()
		p.logger.Info().Str("from", string(sig.FromID)).Msg("busy, declining offer")
		p.notice(protocol.TypeCallDecline, sig.FromID, ReasonBusy)()
		return
	}
	p.beginLocked(Incoming, sig.FromID, kind)
	st := p.cs.status()
	p.mu.Unlock()

	p.logger.Info().Str("from", string(sig.FromID)).Str("kind", string(kind)).Msg("incoming call")
	p.emit(st)
}

func (p *Phone) onAccept(msg protocol.Message) {
	var sig protocol.CallSignal
	if !p.bind(msg, &sig) {
		return
	}
	p.mu.Lock()
	if p.cs.state != Outgoing || p.cs.accepted || p.cs.remote != sig.FromID {
		p.mu.Unlock()
		return
	}
	p.acceptLocked()
	st := p.cs.status()
	p.mu.Unlock()

	p.logger.Info().Str("remote", string(sig.FromID)).Msg("call accepted")
	p.emit(st)
}

func (p *Phone) onDecline(msg protocol.Message) {
	var sig protocol.CallSignal
	if !p.bind(msg, &sig) {
		return
	}
	p.mu.Lock()
	if p.cs.state != Outgoing || p.cs.accepted || p.cs.remote != sig.FromID {
		p.mu.Unlock()
		return
	}
	reason, err := ReasonDeclined, domain.ErrCallDeclined
	switch sig.Reason {
	case ReasonBusy:
		reason, err = ReasonBusy, domain.ErrBusy
	case ReasonTimeout:
		reason, err = ReasonTimeout, domain.ErrCallTimeout
	}
	st, res := p.endLocked(reason, err)
	p.mu.Unlock()
	p.finish(st, res, nil)
}

func (p *Phone) onEnd(msg protocol.Message) {
	var sig protocol.CallSignal
	if !p.bind(msg, &sig) {
		return
	}
	p.mu.Lock()
	if p.cs.state == Idle || p.cs.remote != sig.FromID {
		p.mu.Unlock()
		return
	}
	reason := ReasonRemoteEnd
	if sig.Reason == ReasonDisconnected {
		reason = ReasonDisconnected
	}
	st, res := p.endLocked(reason, nil)
	p.mu.Unlock()
	p.finish(st, res, nil)
}

func (p *Phone) onNewProducer(msg protocol.Message) {
	var info protocol.NewProducerEvent
	if !p.bind(msg, &info) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cs.res == nil {
		return
	}
	p.cs.res.enqueue(info)
}

// onProducerClosed drops the consumer and its track before returning.
func (p *Phone) onProducerClosed(msg protocol.Message) {
	var ev protocol.ProducerClosedEvent
	if !p.bind(msg, &ev) {
		return
	}
	p.mu.Lock()
	if p.cs.res == nil {
		p.mu.Unlock()
		return
	}
	res := p.cs.res
	peer, stream, ok := res.dropProducer(ev.ProducerID)
	p.mu.Unlock()
	p.syncMonitor(res)
	if !ok {
		return
	}
	p.logger.Debug().Str("producer", string(ev.ProducerID)).Str("peer", string(peer)).Msg("remote track removed")
	p.emitStream(peer, stream)
}

func (p *Phone) onPeerLeft(msg protocol.Message) {
	var ev protocol.PeerEvent
	if !p.bind(msg, &ev) {
		return
	}
	p.mu.Lock()
	if p.cs.res == nil || ev.PeerID != p.cs.remote {
		p.mu.Unlock()
		return
	}
	st, res := p.endLocked(ReasonDisconnected, nil)
	p.mu.Unlock()
	p.finish(st, res, nil)
}

func (p *Phone) onRoomClosed() {
	p.mu.Lock()
	if p.cs.res == nil {
		p.mu.Unlock()
		return
	}
	st, res := p.endLocked(ReasonRoomClosed, domain.ErrTransportFailure)
	p.mu.Unlock()
	p.finish(st, res, nil)
}
