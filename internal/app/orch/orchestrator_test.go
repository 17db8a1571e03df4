package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/enginetest"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []protocol.Message
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return errors.New("cannot send")
	}
	msg, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) last() protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return protocol.Message{}
	}
	return c.frames[len(c.frames)-1]
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newOrch(limit int) *Orchestrator {
	rooms := app.NewRoomManager(enginetest.New(), 0)
	o := &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Policy:   app.SimplePolicy{},
		Limiter:  app.NewRateLimiter(limit, time.Minute),
	}
	rooms.OnBackpressure(o.OnBackpressure)
	return o
}

func connect(o *Orchestrator, id domain.PeerID) (core.PeerSession, *fakeConn) {
	conn := &fakeConn{}
	sess := core.NewPeerSession(id, conn)
	o.Connect(sess, func() {})
	return sess, conn
}

func TestOfferToOfflinePeer(t *testing.T) {
	o := newOrch(0)
	connect(o, "alice")

	err := o.Offer("alice", "bob", domain.CallAudio)
	assert.ErrorIs(t, err, domain.ErrPeerUnavailable)
	_, ok := o.Registry.PartnerOf("alice")
	assert.False(t, ok)
}

func TestOfferAcceptEnd(t *testing.T) {
	o := newOrch(0)
	_, aliceConn := connect(o, "alice")
	_, bobConn := connect(o, "bob")

	require.NoError(t, o.Offer("alice", "bob", domain.CallVideo))
	msg := bobConn.last()
	require.Equal(t, protocol.TypeCallOffer, msg.Type)
	var offer protocol.CallSignal
	require.NoError(t, msg.Bind(&offer))
	assert.Equal(t, domain.PeerID("alice"), offer.FromID)
	assert.Equal(t, domain.CallVideo, offer.CallKind)

	o.Accept("bob", "alice")
	assert.Equal(t, protocol.TypeCallAccept, aliceConn.last().Type)

	o.End("alice", "bob", "")
	msg = bobConn.last()
	require.Equal(t, protocol.TypeCallEnd, msg.Type)
	var end protocol.CallSignal
	require.NoError(t, msg.Bind(&end))
	assert.Equal(t, domain.ReasonHangup, end.Reason)

	_, ok := o.Registry.PartnerOf("bob")
	assert.False(t, ok)
}

func TestAcceptWithoutOfferIsDropped(t *testing.T) {
	o := newOrch(0)
	_, aliceConn := connect(o, "alice")
	connect(o, "bob")

	o.Accept("bob", "alice")
	assert.Equal(t, protocol.Message{}, aliceConn.last())
}

func TestOfferValidation(t *testing.T) {
	o := newOrch(0)
	connect(o, "alice")
	assert.ErrorIs(t, o.Offer("alice", "alice", domain.CallAudio), domain.ErrBadPayload)
	assert.ErrorIs(t, o.Offer("alice", "", domain.CallAudio), domain.ErrBadPayload)
	assert.ErrorIs(t, o.Offer("alice", "bob", "hologram"), domain.ErrBadPayload)
}

func TestOfferRateLimited(t *testing.T) {
	o := newOrch(1)
	connect(o, "alice")
	connect(o, "bob")
	require.NoError(t, o.Offer("alice", "bob", domain.CallAudio))
	assert.ErrorIs(t, o.Offer("alice", "bob", domain.CallAudio), domain.ErrRateLimited)
}

func TestDisconnectEndsCallAndLeavesRoom(t *testing.T) {
	ctx := context.Background()
	o := newOrch(0)
	alice, _ := connect(o, "alice")
	bob, bobConn := connect(o, "bob")

	room := domain.PrivateRoomName("alice", "bob")
	_, err := o.Rooms.GetCapabilities(ctx, room)
	require.NoError(t, err)
	_, err = o.Rooms.Join(ctx, room, alice, nil)
	require.NoError(t, err)
	_, err = o.Rooms.Join(ctx, room, bob, nil)
	require.NoError(t, err)

	require.NoError(t, o.Offer("alice", "bob", domain.CallAudio))
	o.Accept("bob", "alice")

	o.Disconnect(alice)

	msg := bobConn.last()
	require.Equal(t, protocol.TypeCallEnd, msg.Type)
	var end protocol.CallSignal
	require.NoError(t, msg.Bind(&end))
	assert.Equal(t, domain.ReasonDisconnected, end.Reason)
	assert.Equal(t, []domain.PeerID{"bob"}, o.Rooms.Peers(room))

	_, ok := o.Registry.GetSession("alice")
	assert.False(t, ok)
}

func TestReconnectReplacesOldConnection(t *testing.T) {
	ctx := context.Background()
	o := newOrch(0)
	first, firstConn := connect(o, "alice")
	_, err := o.Rooms.GetCapabilities(ctx, "r1")
	require.NoError(t, err)
	_, err = o.Rooms.Join(ctx, "r1", first, nil)
	require.NoError(t, err)

	second, _ := connect(o, "alice")
	assert.True(t, firstConn.isClosed())
	_, ok := o.Rooms.RoomOf("alice")
	assert.False(t, ok)

	// the old read loop ending must not drop the new connection
	o.Disconnect(first)
	got, ok := o.Registry.GetSession("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestSlowPeerIsKicked(t *testing.T) {
	ctx := context.Background()
	o := newOrch(0)
	alice, _ := connect(o, "alice")
	bobConn := &fakeConn{}
	bob := core.NewPeerSession("bob", bobConn)
	cancelled := false
	o.Connect(bob, func() { cancelled = true })
	_, err := o.Rooms.GetCapabilities(ctx, "r1")
	require.NoError(t, err)
	_, err = o.Rooms.Join(ctx, "r1", bob, nil)
	require.NoError(t, err)

	bobConn.mu.Lock()
	bobConn.full = true
	bobConn.mu.Unlock()

	_, err = o.Rooms.Join(ctx, "r1", alice, nil)
	require.NoError(t, err)
	assert.True(t, bobConn.isClosed())
	assert.True(t, cancelled, "pumps of the kicked peer are stopped")
}

func TestEvictRoom(t *testing.T) {
	ctx := context.Background()
	o := newOrch(0)
	alice, aliceConn := connect(o, "alice")
	_, err := o.Rooms.GetCapabilities(ctx, "r1")
	require.NoError(t, err)
	_, err = o.Rooms.Join(ctx, "r1", alice, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, o.EvictRoom("r1"))
	assert.Equal(t, protocol.TypeRoomClosed, aliceConn.last().Type)
	_, ok := o.Rooms.Info("r1")
	assert.False(t, ok)
}
