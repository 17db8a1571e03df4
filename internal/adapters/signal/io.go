package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Settings.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(ctl.Settings.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess core.PeerSession, c *WsSignalConn) {
	id := sess.ID()
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(sess)
	}()

	c.conn.SetReadLimit(ctl.Settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("peer", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
			ctl.handleSignal(ctx, sess, data)
		}
	}
}

type requestHandler func(ctx context.Context, sess core.PeerSession, msg protocol.Message) (any, error)

func (ctl *SignalWSController) requestHandlers() map[string]requestHandler {
	return map[string]requestHandler{
		protocol.TypeGetRouterCapabilities: ctl.handleCapabilities,
		protocol.TypeLeaveRoom:             ctl.handleLeave,
		protocol.TypeCreateTransport:       ctl.handleCreateTransport,
		protocol.TypeConnectTransport:      ctl.handleConnectTransport,
		protocol.TypeProduce:               ctl.handleProduce,
		protocol.TypeCloseProducer:         ctl.handleCloseProducer,
		protocol.TypeConsume:               ctl.handleConsume,
		protocol.TypeCallOffer:             ctl.handleCallOffer,
		protocol.TypeWhoAmI:                ctl.handleWhoAmI,
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sess core.PeerSession, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(sess.ID())).Msg("bad json")
		return
	}

	switch msg.Type {
	case protocol.TypeJoinRoom:
		ctl.handleJoin(ctx, sess, msg)
		return
	case protocol.TypeResume:
		ctl.handleResume(ctx, sess, msg)
		return
	case protocol.TypePing:
		ctl.handlePing(sess)
		return
	case protocol.TypeCallAccept, protocol.TypeCallDecline, protocol.TypeCallEnd:
		ctl.handleCallNotice(sess, msg)
		return
	}

	handler, ok := ctl.handlers[msg.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown signal")
		if msg.ID != 0 {
			ctl.replyTo(sess, msg, nil, domain.ErrBadPayload)
		}
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, ctl.Settings.RequestTimeout)
	defer cancel()
	started := time.Now()
	result, err := handler(reqCtx, sess, msg)
	metrics.SignalLatency.WithLabelValues(msg.Type).Observe(time.Since(started).Seconds())
	ctl.replyTo(sess, msg, result, err)
}

// replyTo answers a request outside any room lock and hands a reply lost to
// a full send buffer to the backpressure policy.
func (ctl *SignalWSController) replyTo(sess core.PeerSession, msg protocol.Message, result any, err error) {
	if sendErr := ctl.reply(sess, msg, result, err); sendErr != nil {
		room, _ := ctl.Orch.Rooms.RoomOf(sess.ID())
		ctl.replyDropped(room, sess, msg, sendErr)
	}
}

func (ctl *SignalWSController) replyDropped(room domain.RoomName, sess core.PeerSession, msg protocol.Message, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("peer", string(sess.ID())).Str("type", msg.Type).Uint64("id", msg.ID).Msg("reply dropped")
	if errors.Is(err, ErrBackpressure) {
		ctl.Orch.OnBackpressure(room, sess)
	}
}

// reply answers a request. Events without an id get no reply. It reports
// the send failure, if any.
func (ctl *SignalWSController) reply(sess core.PeerSession, msg protocol.Message, result any, err error) error {
	code := "ok"
	if err != nil {
		code = domain.ErrorCode(err)
	}
	metrics.SignalRequests.WithLabelValues(msg.Type, code).Inc()
	if msg.ID == 0 {
		return nil
	}

	var frame []byte
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("type", msg.Type).Msg("request failed")
		frame, err = protocol.EncodeError(msg.ID, err)
	} else {
		frame, err = protocol.Encode(protocol.TypeResponse, msg.ID, result)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode reply")
		return nil
	}
	return sess.Signal().TrySend(frame)
}

func (ctl *SignalWSController) sendJSON(sess core.PeerSession, typ string, v any) {
	b, err := protocol.Encode(typ, 0, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := sess.Signal().TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("peer", string(sess.ID())).Str("type", typ).Msg("send dropped")
	}
}
