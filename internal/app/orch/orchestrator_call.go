package orch

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Offer relays a call offer. The callee must be online.
func (o *Orchestrator) Offer(from, to domain.PeerID, kind domain.CallKind) error {
	if err := to.Validate(); err != nil || from == to {
		return fmt.Errorf("%w: bad callee %q", domain.ErrBadPayload, to)
	}
	if kind != domain.CallAudio && kind != domain.CallVideo {
		return fmt.Errorf("%w: call kind %q", domain.ErrBadPayload, kind)
	}
	if o.Limiter != nil && !o.Limiter.Allow(from) {
		return domain.ErrRateLimited
	}
	// a busy callee still gets the offer and declines it itself
	paired := o.Registry.Pair(from, to)
	if !o.send(to, protocol.TypeCallOffer, protocol.CallSignal{FromID: from, CallKind: kind}) {
		if paired {
			o.Registry.UnpairIf(from, to)
		}
		metrics.CallEvents.WithLabelValues("unavailable").Inc()
		return domain.ErrPeerUnavailable
	}
	metrics.CallEvents.WithLabelValues("offer").Inc()
	log.Info().Str("module", "orch.call").Str("from", string(from)).Str("to", string(to)).Str("kind", string(kind)).Msg("call offered")
	return nil
}

func (o *Orchestrator) Accept(from, to domain.PeerID) {
	if partner, ok := o.Registry.PartnerOf(from); !ok || partner != to {
		log.Warn().Str("module", "orch.call").Str("from", string(from)).Str("to", string(to)).Msg("accept without offer")
		return
	}
	o.send(to, protocol.TypeCallAccept, protocol.CallSignal{FromID: from})
	metrics.CallEvents.WithLabelValues("accept").Inc()
}

func (o *Orchestrator) Decline(from, to domain.PeerID, reason string) {
	if reason == "" {
		reason = domain.ReasonDeclined
	}
	// a busy callee declines an offer it was never paired for
	o.Registry.UnpairIf(from, to)
	o.send(to, protocol.TypeCallDecline, protocol.CallSignal{FromID: from, Reason: reason})
	metrics.CallEvents.WithLabelValues("decline").Inc()
}

func (o *Orchestrator) End(from, to domain.PeerID, reason string) {
	if reason == "" {
		reason = domain.ReasonHangup
	}
	o.Registry.UnpairIf(from, to)
	o.send(to, protocol.TypeCallEnd, protocol.CallSignal{FromID: from, Reason: reason})
	metrics.CallEvents.WithLabelValues("end").Inc()
}
