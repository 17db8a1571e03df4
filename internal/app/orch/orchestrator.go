package orch

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomRegistry
	Policy   app.Policy
	Limiter  *app.RateLimiter
}

// Connect registers a fresh signaling connection. An older connection of the
// same peer is shut down and its room state released.
func (o *Orchestrator) Connect(sess core.PeerSession, cancel context.CancelFunc) {
	old, oldCancel, replaced := o.Registry.BindSignal(sess, cancel)
	metrics.Connections.Inc()
	if !replaced {
		return
	}
	log.Info().Str("module", "orch").Str("peer", string(sess.ID())).Msg("replacing connection")
	o.Rooms.Leave(sess.ID())
	if oldCancel != nil {
		oldCancel()
	}
	old.Signal().Close()
}

// Disconnect runs once the read loop of sess has ended.
func (o *Orchestrator) Disconnect(sess core.PeerSession) {
	metrics.Connections.Dec()
	id := sess.ID()
	if !o.Registry.Unbind(sess) {
		return
	}
	if room, ok := o.Rooms.Leave(id); ok {
		log.Info().Str("module", "orch").Str("peer", string(id)).Str("room", string(room)).Msg("left room on disconnect")
	}
	if partner, ok := o.Registry.Unpair(id); ok {
		o.send(partner, protocol.TypeCallEnd, protocol.CallSignal{FromID: id, Reason: domain.ReasonDisconnected})
		metrics.CallEvents.WithLabelValues("disconnect").Inc()
	}
	if o.Limiter != nil {
		o.Limiter.Forget(id)
	}
}

// OnBackpressure applies the policy to a peer that could not take a room
// event.
func (o *Orchestrator) OnBackpressure(room domain.RoomName, peer core.PeerSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, peer) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("peer", string(peer.ID())).Str("room", string(room)).Msg("kicking slow peer")
		metrics.Kicks.Inc()
		o.Kick(peer)
	case app.NoAction:
	}
}

// Kick stops the peer's pumps and closes the connection; the read loop then
// runs Disconnect.
func (o *Orchestrator) Kick(peer core.PeerSession) {
	o.Registry.Cancel(peer)
	peer.Signal().Close()
}

func (o *Orchestrator) send(to domain.PeerID, typ string, payload any) bool {
	sess, ok := o.Registry.GetSession(to)
	if !ok {
		return false
	}
	frame, err := protocol.Encode(typ, 0, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode")
		return false
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", string(to)).Str("type", typ).Msg("send dropped")
		return false
	}
	return true
}
