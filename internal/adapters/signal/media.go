package signal

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, sess core.PeerSession, msg protocol.Message) (any, error) {
	var req protocol.CreateTransportRequest
	if err := msg.Bind(&req); err != nil {
		return nil, err
	}
	return ctl.Orch.Rooms.CreateTransport(ctx, sess.ID(), domain.DirectionOf(req.IsSender))
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, sess core.PeerSession, msg protocol.Message) (any, error) {
	var req protocol.ConnectTransportRequest
	if err := msg.Bind(&req); err != nil {
		return nil, err
	}
	if err := ctl.Orch.Rooms.ConnectTransport(ctx, sess.ID(), req.TransportID, req.ConnectParams); err != nil {
		return nil, err
	}
	return protocol.Ack{OK: true}, nil
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, sess core.PeerSession, msg protocol.Message) (any, error) {
	var req protocol.ProduceRequest
	if err := msg.Bind(&req); err != nil {
		return nil, err
	}
	pid, err := ctl.Orch.Rooms.Produce(ctx, sess.ID(), req.TransportID, req.ProduceParams)
	if err != nil {
		return nil, err
	}
	return protocol.ProduceResponse{ProducerID: pid}, nil
}

func (ctl *SignalWSController) handleCloseProducer(_ context.Context, sess core.PeerSession, msg protocol.Message) (any, error) {
	var req protocol.CloseProducerRequest
	if err := msg.Bind(&req); err != nil {
		return nil, err
	}
	if err := ctl.Orch.Rooms.CloseProducer(sess.ID(), req.ProducerID); err != nil {
		return nil, err
	}
	return protocol.Ack{OK: true}, nil
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, sess core.PeerSession, msg protocol.Message) (any, error) {
	var req protocol.ConsumeRequest
	if err := msg.Bind(&req); err != nil {
		return nil, err
	}
	return ctl.Orch.Rooms.Consume(ctx, sess.ID(), req.ProducerID, req.RtpCapabilities)
}

// handleResume is fire and forget; a consumer that is already gone is ignored.
func (ctl *SignalWSController) handleResume(ctx context.Context, sess core.PeerSession, msg protocol.Message) {
	var req protocol.ResumeRequest
	if err := msg.Bind(&req); err != nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, ctl.Settings.RequestTimeout)
	defer cancel()
	ctl.Orch.Rooms.ResumeConsumer(reqCtx, sess.ID(), req.ConsumerID)
}
