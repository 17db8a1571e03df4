package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type transport struct {
	id     domain.TransportID
	dir    domain.Direction
	router *router
	logger zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   domain.HandshakeParams

	connectOnce sync.Once
	connectErr  error
	// closed once DTLS is up
	ready chan struct{}

	closeOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	producers map[domain.ProducerID]*producer
	consumers map[domain.ConsumerID]*consumer
}

func newTransport(ctx context.Context, r *router, dir domain.Direction) (*transport, error) {
	api := r.engine.api
	id := domain.NewTransportID()
	logger := log.With().Str("module", "rtc").Str("transport", string(id)).Str("direction", string(dir)).Logger()

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.engine.iceServers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}

	timer := time.NewTimer(r.engine.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		logger.Warn().Msg("gathering timed out, using partial candidates")
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}

	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		logger.Debug().Str("dtls_state", s.String()).Msg("DTLS state")
	})

	logger.Info().Int("candidates", len(candidates)).Msg("transport created")
	return &transport{
		id:       id,
		dir:      dir,
		router:   r,
		logger:   logger,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		params: domain.HandshakeParams{
			IceParameters:  iceParamsToDomain(iceParams),
			IceCandidates:  candidatesToDomain(candidates),
			DtlsParameters: dtlsToDomain(dtlsParams),
		},
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		producers: make(map[domain.ProducerID]*producer),
		consumers: make(map[domain.ConsumerID]*consumer),
	}, nil
}

func (t *transport) ID() domain.TransportID { return t.id }

func (t *transport) Direction() domain.Direction { return t.dir }

func (t *transport) HandshakeParams() domain.HandshakeParams { return t.params }

// Connect hands the remote parameters over and starts ICE and DTLS in the
// background. Later calls return the first result.
func (t *transport) Connect(_ context.Context, params domain.ConnectParams) error {
	t.connectOnce.Do(func() { t.connectErr = t.connect(params) })
	return t.connectErr
}

func (t *transport) connect(params domain.ConnectParams) error {
	if params.IceParameters == nil {
		return fmt.Errorf("%w: iceParameters required", domain.ErrBadPayload)
	}
	remoteDTLS, err := dtlsFromDomain(params.DtlsParameters)
	if err != nil {
		return err
	}
	candidates, err := candidatesFromDomain(params.IceCandidates)
	if err != nil {
		return err
	}
	if len(candidates) > 0 {
		if err := t.ice.SetRemoteCandidates(candidates); err != nil {
			return fmt.Errorf("remote candidates: %w", err)
		}
	}
	remoteICE := iceParamsFromDomain(*params.IceParameters)

	go func() {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(t.gatherer, remoteICE, &role); err != nil {
			t.logger.Warn().Err(err).Msg("ICE start failed")
			return
		}
		if err := t.dtls.Start(remoteDTLS); err != nil {
			t.logger.Warn().Err(err).Msg("DTLS start failed")
			return
		}
		select {
		case <-t.done:
		default:
			close(t.ready)
			t.logger.Info().Msg("transport connected")
		}
	}()
	return nil
}

// waitReady blocks until DTLS is up, the transport closes or ctx ends.
func (t *transport) waitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.done:
		return fmt.Errorf("transport %s closed", t.id)
	case <-ctx.Done():
		return fmt.Errorf("transport %s not connected: %w", t.id, ctx.Err())
	}
}

func (t *transport) Produce(ctx context.Context, params domain.ProduceParams) (core.Producer, error) {
	if t.dir != domain.DirectionSend {
		return nil, domain.ErrWrongDirection
	}
	p, err := newProducer(ctx, t, params)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.producers[p.id] = p
	t.mu.Unlock()
	return p, nil
}

func (t *transport) Consume(ctx context.Context, pid domain.ProducerID, caps domain.RtpCapabilities) (core.Consumer, error) {
	if t.dir != domain.DirectionRecv {
		return nil, domain.ErrWrongDirection
	}
	p, ok := t.router.producer(pid)
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	c, err := newConsumer(ctx, t, p, caps)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	return c, nil
}

func (t *transport) forgetProducer(id domain.ProducerID) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *transport) forgetConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *transport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		producers := make([]*producer, 0, len(t.producers))
		for _, p := range t.producers {
			producers = append(producers, p)
		}
		consumers := make([]*consumer, 0, len(t.consumers))
		for _, c := range t.consumers {
			consumers = append(consumers, c)
		}
		t.mu.Unlock()

		for _, c := range consumers {
			c.Close()
		}
		for _, p := range producers {
			p.Close()
		}
		if err := t.dtls.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("dtls stop")
		}
		if err := t.ice.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("ice stop")
		}
		if err := t.gatherer.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("gatherer close")
		}
		t.router.forgetTransport(t.id)
		t.logger.Info().Msg("transport closed")
	})
}
