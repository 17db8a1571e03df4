// Package signaling is the client end of the signaling socket: correlated
// request/reply over a single websocket plus a serial event stream.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	TokenCookie = "ct"

	defaultWriteWait = 10 * time.Second
)

type Options struct {
	// PeerID is sent as the client token cookie. Empty lets the server pick.
	PeerID           domain.PeerID
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
}

type Client struct {
	conn      *websocket.Conn
	writeWait time.Duration
	logger    zerolog.Logger

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu           sync.Mutex
	pending      map[uint64]chan protocol.Message
	onEvent      func(protocol.Message)
	onDisconnect func(error)
	started      bool
	err          error

	done      chan struct{}
	closeOnce sync.Once
}

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	header := http.Header{}
	if opts.PeerID != "" {
		header.Set("Cookie", TokenCookie+"="+string(opts.PeerID))
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrSignalingDisconnected, url, err)
	}
	return New(conn, opts.WriteWait), nil
}

// New wraps an open connection. Nothing is read until Start.
func New(conn *websocket.Conn, writeWait time.Duration) *Client {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return &Client{
		conn:      conn,
		writeWait: writeWait,
		logger:    log.With().Str("module", "client.signaling").Logger(),
		pending:   make(map[uint64]chan protocol.Message),
		done:      make(chan struct{}),
	}
}

// OnEvent sets the handler for server pushed frames. Handlers run one at a
// time on the read goroutine and must not block on a Request.
func (c *Client) OnEvent(fn func(protocol.Message)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnDisconnect is called once when the connection is gone.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// Start begins reading. Register handlers first.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.readLoop()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Request sends a request and decodes the reply data into out (may be nil).
// An error reply is returned as *protocol.Error, which matches the domain
// sentinel of its code under errors.Is.
func (c *Client) Request(ctx context.Context, typ string, payload any, out any) error {
	id := c.seq.Add(1)
	reply := make(chan protocol.Message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := protocol.Encode(typ, id, payload)
	if err != nil {
		return err
	}
	if err := c.write(frame); err != nil {
		return err
	}

	select {
	case msg := <-reply:
		if msg.Error != nil {
			return msg.Error
		}
		if out == nil {
			return nil
		}
		return msg.Bind(out)
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", typ, ctx.Err())
	}
}

// Notify sends a frame that expects no reply.
func (c *Client) Notify(typ string, payload any) error {
	frame, err := protocol.Encode(typ, 0, payload)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Client) write(frame []byte) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignalingDisconnected, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.shutdown(err)
		return fmt.Errorf("%w: %v", domain.ErrSignalingDisconnected, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		if msg.Type == protocol.TypeResponse {
			c.deliver(msg)
			continue
		}
		c.mu.Lock()
		fn := c.onEvent
		c.mu.Unlock()
		if fn == nil {
			c.logger.Debug().Str("type", msg.Type).Msg("event without handler")
			continue
		}
		fn(msg)
	}
}

func (c *Client) deliver(msg protocol.Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Uint64("id", msg.ID).Msg("late reply dropped")
		return
	}
	ch <- msg
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return domain.ErrSignalingDisconnected
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		err := fmt.Errorf("%w: %v", domain.ErrSignalingDisconnected, cause)
		c.mu.Lock()
		c.err = err
		fn := c.onDisconnect
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()

		if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.logger.Warn().Err(cause).Msg("connection lost")
		} else {
			c.logger.Info().Msg("connection closed")
		}
		if fn != nil {
			fn(err)
		}
	})
}

// Close ends the connection. OnDisconnect still fires.
func (c *Client) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
	c.writeMu.Unlock()
	c.shutdown(errors.New("closed by client"))
	return nil
}
