package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// trackSource adapts a remote track to sfu.PacketSource.
type trackSource struct {
	track *webrtc.TrackRemote
}

func (s trackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

type producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	codec     domain.RtpCodecParameters
	transport *transport
	receiver  *webrtc.RTPReceiver

	closeOnce sync.Once
	mu        sync.Mutex
	consumers map[domain.ConsumerID]*consumer
}

func newProducer(ctx context.Context, t *transport, params domain.ProduceParams) (*producer, error) {
	codec, ok := params.RtpParameters.PrimaryCodec()
	if !ok || len(params.RtpParameters.Encodings) == 0 {
		return nil, fmt.Errorf("%w: rtpParameters need a codec and an encoding", domain.ErrBadPayload)
	}
	if _, ok := t.router.caps.Match(codec); !ok {
		return nil, fmt.Errorf("%w: router cannot carry %s", domain.ErrIncompatibleCapabilities, codec.MimeType)
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}

	receiver, err := t.router.engine.api.NewRTPReceiver(codecType(params.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	enc := params.RtpParameters.Encodings[0]
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				RID:         enc.RID,
				SSRC:        webrtc.SSRC(enc.SSRC),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("receive: %w", err)
	}

	p := &producer{
		id:        domain.NewProducerID(),
		kind:      params.Kind,
		codec:     codec,
		transport: t,
		receiver:  receiver,
		consumers: make(map[domain.ConsumerID]*consumer),
	}
	r := t.router
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
	r.relays.StartRelay(r.ctx, p.id, trackSource{track: receiver.Track()})

	t.logger.Info().Str("producer", string(p.id)).Str("kind", string(p.kind)).Str("codec", codec.MimeType).Msg("producer started")
	return p, nil
}

func (p *producer) ID() domain.ProducerID { return p.id }

func (p *producer) Kind() domain.MediaKind { return p.kind }

func (p *producer) addConsumer(c *consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *producer) forgetConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close stops the relay and invalidates every consumer of the producer.
func (p *producer) Close() {
	p.closeOnce.Do(func() {
		r := p.transport.router
		r.forgetProducer(p.id)
		r.relays.StopRelay(p.id)
		if err := p.receiver.Stop(); err != nil {
			p.transport.logger.Debug().Err(err).Str("producer", string(p.id)).Msg("receiver stop")
		}
		p.transport.forgetProducer(p.id)

		p.mu.Lock()
		consumers := make([]*consumer, 0, len(p.consumers))
		for _, c := range p.consumers {
			consumers = append(consumers, c)
		}
		p.consumers = map[domain.ConsumerID]*consumer{}
		p.mu.Unlock()

		for _, c := range consumers {
			c.producerClosed()
		}
		p.transport.logger.Info().Str("producer", string(p.id)).Msg("producer closed")
	})
}
