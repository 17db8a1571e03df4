package signal

import (
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

func (ctl *SignalWSController) handlePing(sess core.PeerSession) {
	ctl.sendJSON(sess, protocol.TypePong, nil)
}
