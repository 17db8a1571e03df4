package orch

import (
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// EvictRoom removes every peer from the room, which releases it. Evicted
// peers keep their signaling connection and are told the room is gone.
func (o *Orchestrator) EvictRoom(name domain.RoomName) int {
	peers := o.Rooms.Peers(name)
	for _, id := range peers {
		o.Rooms.Leave(id)
		o.send(id, protocol.TypeRoomClosed, protocol.RoomRequest{Room: name})
	}
	log.Info().Str("module", "orch").Str("room", string(name)).Int("peers", len(peers)).Msg("room evicted")
	return len(peers)
}
