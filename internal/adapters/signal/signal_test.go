package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/enginetest"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

// fullConn refuses every frame the way a WsSignalConn with a full buffer does.
type fullConn struct {
	mu     sync.Mutex
	sends  int
	closed bool
}

func (c *fullConn) TrySend(core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.closed {
		return ErrClosed
	}
	return ErrBackpressure
}

func (c *fullConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fullConn) state() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends, c.closed
}

func newController() *SignalWSController {
	rooms := app.NewRoomManager(enginetest.New(), 0)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Policy:   app.SimplePolicy{},
		Limiter:  app.NewRateLimiter(0, time.Minute),
	}
	rooms.OnBackpressure(o.OnBackpressure)
	return NewSignalWSController(o, Settings{RequestTimeout: time.Second})
}

func frame(t *testing.T, typ string, id uint64, payload any) []byte {
	t.Helper()
	b, err := protocol.Encode(typ, id, payload)
	require.NoError(t, err)
	return b
}

func TestDroppedJoinReplyKicksPeer(t *testing.T) {
	ctl := newController()
	conn := &fullConn{}
	sess := core.NewPeerSession("alice", conn)
	var cancelled bool
	ctl.Orch.Connect(sess, func() { cancelled = true })

	ctx := context.Background()
	_, err := ctl.Orch.Rooms.GetCapabilities(ctx, "lobby")
	require.NoError(t, err)

	ctl.handleSignal(ctx, sess, frame(t, protocol.TypeJoinRoom, 1, protocol.RoomRequest{Room: "lobby"}))

	sends, closed := conn.state()
	assert.Equal(t, 1, sends)
	assert.True(t, closed)
	assert.True(t, cancelled)
}

func TestDroppedRequestReplyKicksPeer(t *testing.T) {
	ctl := newController()
	conn := &fullConn{}
	sess := core.NewPeerSession("bob", conn)
	var cancelled bool
	ctl.Orch.Connect(sess, func() { cancelled = true })

	ctl.handleSignal(context.Background(), sess, frame(t, protocol.TypeGetRouterCapabilities, 7, protocol.RoomRequest{Room: "lobby"}))

	_, closed := conn.state()
	assert.True(t, closed)
	assert.True(t, cancelled)
}

func TestDroppedEventIsNotAKick(t *testing.T) {
	ctl := newController()
	conn := &fullConn{}
	sess := core.NewPeerSession("carol", conn)
	var cancelled bool
	ctl.Orch.Connect(sess, func() { cancelled = true })

	ctl.handleSignal(context.Background(), sess, frame(t, protocol.TypePing, 0, nil))

	sends, closed := conn.state()
	assert.Equal(t, 1, sends)
	assert.False(t, closed)
	assert.False(t, cancelled)
	_, ok := ctl.Orch.Registry.GetSession(domain.PeerID("carol"))
	assert.True(t, ok)
}
