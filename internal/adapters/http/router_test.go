package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/enginetest"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:           "test",
		StaticPath:     "./web",
		Secret:         "test-secret",
		ReadLimit:      1 << 16,
		PingPeriod:     time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		SendBuffer:     64,
		RequestTimeout: time.Second,
	}
}

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rooms := app.NewRoomManager(enginetest.New(), 0)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Policy:   app.SimplePolicy{},
		Limiter:  app.NewRateLimiter(0, time.Minute),
	}
	rooms.OnBackpressure(o.OnBackpressure)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, testConfig(), o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  uint64
}

func dial(t *testing.T, srv *httptest.Server, peer string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	header := http.Header{}
	header.Set("Cookie", clientTokenCookie+"="+peer)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) notify(typ string, payload any) {
	frame, err := protocol.Encode(typ, 0, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// request sends a request and returns its reply, skipping events.
func (c *wsClient) request(typ string, payload any) protocol.Message {
	c.seq++
	frame, err := protocol.Encode(typ, c.seq, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
	for {
		msg := c.read()
		if msg.Type == protocol.TypeResponse && msg.ID == c.seq {
			return msg
		}
	}
}

// expect reads until a frame of the given type shows up.
func (c *wsClient) expect(typ string) protocol.Message {
	for {
		msg := c.read()
		if msg.Type == typ {
			return msg
		}
	}
}

func (c *wsClient) read() protocol.Message {
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	msg, err := protocol.Decode(data)
	require.NoError(c.t, err)
	return msg
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"), "client token cookie is issued")
}

func TestSignalRoomFlow(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	var who protocol.WhoAmIResponse
	require.NoError(t, alice.request(protocol.TypeWhoAmI, nil).Bind(&who))
	assert.Equal(t, domain.PeerID("alice"), who.PeerID)

	room := protocol.RoomRequest{Room: "r1"}
	caps := alice.request(protocol.TypeGetRouterCapabilities, room)
	require.Nil(t, caps.Error)
	var capsResp protocol.CapabilitiesResponse
	require.NoError(t, caps.Bind(&capsResp))
	assert.NotEmpty(t, capsResp.RtpCapabilities.Codecs)

	var joined protocol.JoinResponse
	require.NoError(t, alice.request(protocol.TypeJoinRoom, room).Bind(&joined))
	assert.Empty(t, joined.ExistingProducers)

	msg := alice.request(protocol.TypeCreateTransport, protocol.CreateTransportRequest{IsSender: true})
	require.Nil(t, msg.Error)
	var tr domain.TransportInfo
	require.NoError(t, msg.Bind(&tr))
	assert.Equal(t, domain.DirectionSend, tr.Direction)

	msg = alice.request(protocol.TypeProduce, protocol.ProduceRequest{
		TransportID:   tr.ID,
		ProduceParams: enginetest.AudioParams(domain.RoleMic),
	})
	require.Nil(t, msg.Error)
	var produced protocol.ProduceResponse
	require.NoError(t, msg.Bind(&produced))

	bob.request(protocol.TypeGetRouterCapabilities, room)
	require.NoError(t, bob.request(protocol.TypeJoinRoom, room).Bind(&joined))
	require.Len(t, joined.ExistingProducers, 1)
	assert.Equal(t, produced.ProducerID, joined.ExistingProducers[0].ProducerID)

	var peer protocol.PeerEvent
	require.NoError(t, alice.expect(protocol.TypePeerJoined).Bind(&peer))
	assert.Equal(t, domain.PeerID("bob"), peer.PeerID)

	resp, err := http.Get(srv.URL + "/api/rooms/r1")
	require.NoError(t, err)
	var body struct {
		Room  domain.RoomInfo `json:"room"`
		Peers []string        `json:"peers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, []string{"alice", "bob"}, body.Peers)
	assert.Equal(t, 1, body.Room.ProducerCount)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/rooms/r1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	bob.expect(protocol.TypeRoomClosed)

	resp, err = http.Get(srv.URL + "/api/rooms/r1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignalErrorsCarryCodes(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "alice")

	msg := alice.request(protocol.TypeCallOffer, protocol.CallSignal{ToID: "nobody", CallKind: domain.CallAudio})
	require.NotNil(t, msg.Error)
	assert.Equal(t, "peer-unavailable", msg.Error.Code)
	assert.ErrorIs(t, msg.Error, domain.ErrPeerUnavailable)

	msg = alice.request(protocol.TypeCreateTransport, protocol.CreateTransportRequest{IsSender: true})
	require.NotNil(t, msg.Error)
	assert.Equal(t, "peer-not-found", msg.Error.Code)
	assert.ErrorIs(t, msg.Error, domain.ErrPeerNotFound)

	msg = alice.request("teleport", nil)
	require.NotNil(t, msg.Error)
	assert.Equal(t, "bad-payload", msg.Error.Code)
}

func TestSignalCallRelay(t *testing.T) {
	srv, o := newServer(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	require.Eventually(t, func() bool { return o.Registry.Online() == 2 }, time.Second, 5*time.Millisecond)

	msg := alice.request(protocol.TypeCallOffer, protocol.CallSignal{ToID: "bob", CallKind: domain.CallVideo})
	require.Nil(t, msg.Error)

	var offer protocol.CallSignal
	require.NoError(t, bob.expect(protocol.TypeCallOffer).Bind(&offer))
	assert.Equal(t, domain.PeerID("alice"), offer.FromID)
	assert.Equal(t, domain.CallVideo, offer.CallKind)

	bob.notify(protocol.TypeCallAccept, protocol.CallSignal{ToID: "alice"})
	alice.expect(protocol.TypeCallAccept)

	// bob dropping ends the call for alice
	require.NoError(t, bob.conn.Close())
	var end protocol.CallSignal
	require.NoError(t, alice.expect(protocol.TypeCallEnd).Bind(&end))
	assert.Equal(t, domain.ReasonDisconnected, end.Reason)
}

func TestSignalPing(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "alice")
	alice.notify(protocol.TypePing, nil)
	alice.expect(protocol.TypePong)
}
