// Package enginetest provides an in-memory SFU engine for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

var ErrInjected = errors.New("injected failure")

// DefaultCapabilities is an opus + VP8 router.
func DefaultCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PreferredPayloadType: 111},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000, PreferredPayloadType: 96},
	}}
}

// Engine hands out routers with sequential ids.
type Engine struct {
	Caps domain.RtpCapabilities

	// FailRouter makes NewRouter fail.
	FailRouter atomic.Bool

	seq atomic.Int64

	mu      sync.Mutex
	routers []*Router
}

var _ core.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{Caps: DefaultCapabilities()}
}

func (e *Engine) next(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

func (e *Engine) NewRouter(context.Context) (core.Router, error) {
	if e.FailRouter.Load() {
		return nil, ErrInjected
	}
	r := &Router{
		engine:    e,
		id:        domain.RouterID(e.next("router")),
		producers: make(map[domain.ProducerID]*Producer),
	}
	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	return r, nil
}

// OpenRouters counts routers not yet closed.
func (e *Engine) OpenRouters() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.routers {
		if !r.closed.Load() {
			n++
		}
	}
	return n
}

type Router struct {
	engine *Engine
	id     domain.RouterID
	closed atomic.Bool

	mu        sync.Mutex
	producers map[domain.ProducerID]*Producer
}

func (r *Router) ID() domain.RouterID { return r.id }

func (r *Router) Capabilities() domain.RtpCapabilities { return r.engine.Caps }

func (r *Router) CanConsume(pid domain.ProducerID, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[pid]
	r.mu.Unlock()
	if !ok {
		return false
	}
	codec, ok := p.params.RtpParameters.PrimaryCodec()
	if !ok {
		return false
	}
	_, ok = caps.Match(codec)
	return ok
}

func (r *Router) CreateTransport(_ context.Context, dir domain.Direction) (core.Transport, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("router %s closed", r.id)
	}
	id := domain.TransportID(r.engine.next("transport"))
	return &Transport{
		router: r,
		id:     id,
		dir:    dir,
		params: domain.HandshakeParams{
			IceParameters: domain.IceParameters{UsernameFragment: "u-" + string(id), Password: "p-" + string(id), IceLite: true},
			IceCandidates: []domain.IceCandidate{{Foundation: "1", Priority: 1, Address: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
			DtlsParameters: domain.DtlsParameters{
				Role:         "auto",
				Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
			},
		},
	}, nil
}

func (r *Router) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	producers := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		producers = append(producers, p)
	}
	r.mu.Unlock()
	for _, p := range producers {
		p.Close()
	}
}

type Transport struct {
	router *Router
	id     domain.TransportID
	dir    domain.Direction
	params domain.HandshakeParams

	Connects atomic.Int32
	closed   atomic.Bool
}

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) Direction() domain.Direction { return t.dir }

func (t *Transport) HandshakeParams() domain.HandshakeParams { return t.params }

func (t *Transport) Connect(context.Context, domain.ConnectParams) error {
	if t.closed.Load() {
		return fmt.Errorf("transport %s closed", t.id)
	}
	t.Connects.Add(1)
	return nil
}

func (t *Transport) Produce(_ context.Context, params domain.ProduceParams) (core.Producer, error) {
	if t.dir != domain.DirectionSend {
		return nil, domain.ErrWrongDirection
	}
	p := &Producer{
		router: t.router,
		id:     domain.ProducerID(t.router.engine.next("producer")),
		params: params,
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, pid domain.ProducerID, _ domain.RtpCapabilities) (core.Consumer, error) {
	if t.dir != domain.DirectionRecv {
		return nil, domain.ErrWrongDirection
	}
	t.router.mu.Lock()
	p, ok := t.router.producers[pid]
	t.router.mu.Unlock()
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	c := &Consumer{
		id:       domain.ConsumerID(t.router.engine.next("consumer")),
		producer: p,
	}
	c.paused.Store(true)
	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
	return c, nil
}

func (t *Transport) Close() { t.closed.Store(true) }

func (t *Transport) Closed() bool { return t.closed.Load() }

type Producer struct {
	router *Router
	id     domain.ProducerID
	params domain.ProduceParams
	closed atomic.Bool

	mu        sync.Mutex
	consumers []*Consumer
}

func (p *Producer) ID() domain.ProducerID { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.params.Kind }

func (p *Producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.router.mu.Lock()
	delete(p.router.producers, p.id)
	p.router.mu.Unlock()

	p.mu.Lock()
	consumers := p.consumers
	p.consumers = nil
	p.mu.Unlock()
	for _, c := range consumers {
		c.producerClosed()
	}
}

type Consumer struct {
	id       domain.ConsumerID
	producer *Producer
	paused   atomic.Bool
	closed   atomic.Bool

	mu      sync.Mutex
	onClose func()
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }

func (c *Consumer) ProducerID() domain.ProducerID { return c.producer.id }

func (c *Consumer) Kind() domain.MediaKind { return c.producer.params.Kind }

func (c *Consumer) RtpParameters() domain.RtpParameters { return c.producer.params.RtpParameters }

func (c *Consumer) Paused() bool { return c.paused.Load() }

func (c *Consumer) Resume(context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("consumer %s closed", c.id)
	}
	c.paused.Store(false)
	return nil
}

func (c *Consumer) Close() { c.closed.Store(true) }

func (c *Consumer) Closed() bool { return c.closed.Load() }

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Consumer) producerClosed() {
	c.closed.Store(true)
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		go fn()
	}
}

// AudioParams is a minimal opus produce request.
func AudioParams(role domain.MediaRole) domain.ProduceParams {
	return domain.ProduceParams{
		Kind:      domain.KindAudio,
		MediaRole: role,
		RtpParameters: domain.RtpParameters{
			Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
			Encodings: []domain.RtpEncoding{{SSRC: 1111}},
		},
	}
}

// VideoParams is a minimal VP8 produce request.
func VideoParams(role domain.MediaRole) domain.ProduceParams {
	return domain.ProduceParams{
		Kind:      domain.KindVideo,
		MediaRole: role,
		RtpParameters: domain.RtpParameters{
			Codecs:    []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
			Encodings: []domain.RtpEncoding{{SSRC: 2222}},
		},
	}
}
