package signal

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCallOffer(_ context.Context, sess core.PeerSession, msg protocol.Message) (any, error) {
	var req protocol.CallSignal
	if err := msg.Bind(&req); err != nil {
		return nil, err
	}
	if err := ctl.Orch.Offer(sess.ID(), req.ToID, req.CallKind); err != nil {
		return nil, err
	}
	return protocol.Ack{OK: true}, nil
}

// handleCallNotice relays accept, decline and end. None of them is answered.
func (ctl *SignalWSController) handleCallNotice(sess core.PeerSession, msg protocol.Message) {
	var req protocol.CallSignal
	if err := msg.Bind(&req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", msg.Type).Msg("bad call payload")
		return
	}
	if req.ToID.Validate() != nil {
		return
	}
	switch msg.Type {
	case protocol.TypeCallAccept:
		ctl.Orch.Accept(sess.ID(), req.ToID)
	case protocol.TypeCallDecline:
		ctl.Orch.Decline(sess.ID(), req.ToID, req.Reason)
	case protocol.TypeCallEnd:
		ctl.Orch.End(sess.ID(), req.ToID, req.Reason)
	}
}
