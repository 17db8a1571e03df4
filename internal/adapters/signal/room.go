package signal

import (
	"context"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCapabilities(ctx context.Context, sess core.PeerSession, msg protocol.Message) (any, error) {
	var req protocol.RoomRequest
	if err := msg.Bind(&req); err != nil {
		return nil, err
	}
	caps, err := ctl.Orch.Rooms.GetCapabilities(ctx, req.Room)
	if err != nil {
		return nil, err
	}
	return protocol.CapabilitiesResponse{RtpCapabilities: caps}, nil
}

// handleJoin replies from inside the room so that the reply is queued ahead
// of any room event that follows the join.
func (ctl *SignalWSController) handleJoin(ctx context.Context, sess core.PeerSession, msg protocol.Message) {
	var req protocol.RoomRequest
	if err := msg.Bind(&req); err != nil {
		ctl.replyTo(sess, msg, nil, err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, ctl.Settings.RequestTimeout)
	defer cancel()
	started := time.Now()

	// the room lock is held in the callback, so a lost reply is handled
	// after Join returns
	var sendErr error
	_, err := ctl.Orch.Rooms.Join(reqCtx, req.Room, sess, func(existing []domain.ProducerInfo) {
		sendErr = ctl.reply(sess, msg, protocol.JoinResponse{
			Room:              req.Room,
			PeerID:            sess.ID(),
			ExistingProducers: existing,
		}, nil)
	})
	metrics.SignalLatency.WithLabelValues(msg.Type).Observe(time.Since(started).Seconds())
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(sess.ID())).Str("room", string(req.Room)).Msg("join failed")
		ctl.replyTo(sess, msg, nil, err)
		return
	}
	if sendErr != nil {
		ctl.replyDropped(req.Room, sess, msg, sendErr)
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(sess.ID())).Str("room", string(req.Room)).Msg("joined")
}

func (ctl *SignalWSController) handleLeave(_ context.Context, sess core.PeerSession, _ protocol.Message) (any, error) {
	room, ok := ctl.Orch.Rooms.Leave(sess.ID())
	if ok {
		log.Info().Str("module", "signal").Str("peer", string(sess.ID())).Str("room", string(room)).Msg("left")
	}
	return protocol.Ack{OK: ok}, nil
}
