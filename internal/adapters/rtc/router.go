package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/VoiceCall/internal/app/sfu"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

var errRouterClosed = errors.New("router closed")

type router struct {
	id     domain.RouterID
	engine *Engine
	caps   domain.RtpCapabilities
	relays *sfu.RelayManager

	// relay loops live as long as the router
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	closed     bool
	producers  map[domain.ProducerID]*producer
	transports map[domain.TransportID]*transport
}

func (r *router) ID() domain.RouterID { return r.id }

func (r *router) Capabilities() domain.RtpCapabilities { return r.caps }

func (r *router) producer(id domain.ProducerID) (*producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *router) CanConsume(id domain.ProducerID, caps domain.RtpCapabilities) bool {
	p, ok := r.producer(id)
	if !ok {
		return false
	}
	_, ok = caps.Match(p.codec)
	return ok
}

func (r *router) CreateTransport(ctx context.Context, dir domain.Direction) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, errRouterClosed
	}

	t, err := newTransport(ctx, r, dir)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, errRouterClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *router) forgetTransport(id domain.TransportID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *router) forgetProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.cancel()
	log.Debug().Str("module", "rtc").Str("router", string(r.id)).Msg("router closed")
}
