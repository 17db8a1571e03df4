package signal

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

func (ctl *SignalWSController) handleWhoAmI(_ context.Context, sess core.PeerSession, _ protocol.Message) (any, error) {
	resp := protocol.WhoAmIResponse{PeerID: sess.ID()}
	if room, ok := ctl.Orch.Rooms.RoomOf(sess.ID()); ok {
		resp.Room = room
	}
	return resp, nil
}
