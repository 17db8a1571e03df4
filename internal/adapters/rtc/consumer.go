package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

var errConsumerClosed = errors.New("consumer closed")

type consumer struct {
	id        domain.ConsumerID
	producer  *producer
	transport *transport
	track     *webrtc.TrackLocalStaticRTP
	sender    *webrtc.RTPSender
	params    domain.RtpParameters

	paused atomic.Bool
	closed atomic.Bool

	closeOnce sync.Once
	mu        sync.Mutex
	onClose   func()
}

func newConsumer(ctx context.Context, t *transport, p *producer, caps domain.RtpCapabilities) (*consumer, error) {
	entry, ok := caps.Match(p.codec)
	if !ok {
		return nil, domain.ErrIncompatibleCapabilities
	}
	payloadType := p.codec.PayloadType
	if entry.PreferredPayloadType != 0 {
		payloadType = entry.PreferredPayloadType
	}

	id := domain.NewConsumerID()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:    p.codec.MimeType,
		ClockRate:   p.codec.ClockRate,
		Channels:    p.codec.Channels,
		SDPFmtpLine: p.codec.SDPFmtpLine,
	}, string(id), string(p.id))
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.engine.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}

	sendParams := sender.GetParameters()
	encodings := make([]domain.RtpEncoding, 0, len(sendParams.Encodings))
	for _, enc := range sendParams.Encodings {
		encodings = append(encodings, domain.RtpEncoding{SSRC: uint32(enc.SSRC), RID: enc.RID})
	}

	c := &consumer{
		id:        id,
		producer:  p,
		transport: t,
		track:     track,
		sender:    sender,
		params: domain.RtpParameters{
			MID: string(id),
			Codecs: []domain.RtpCodecParameters{{
				MimeType:    p.codec.MimeType,
				PayloadType: payloadType,
				ClockRate:   p.codec.ClockRate,
				Channels:    p.codec.Channels,
				SDPFmtpLine: p.codec.SDPFmtpLine,
			}},
			Encodings: encodings,
		},
	}
	c.paused.Store(true)

	if !t.router.relays.AddSubscriber(p.id, id, track) {
		_ = sender.Stop()
		return nil, domain.ErrProducerNotFound
	}
	p.addConsumer(c)

	go c.start(ctx, sendParams)
	return c, nil
}

// start begins sending once the transport is connected and drains RTCP.
func (c *consumer) start(ctx context.Context, params webrtc.RTPSendParameters) {
	// the request ctx ends with the consume reply; only closing matters here
	if err := c.transport.waitReady(context.WithoutCancel(ctx)); err != nil {
		return
	}
	if c.closed.Load() {
		return
	}
	if err := c.sender.Send(params); err != nil {
		c.transport.logger.Warn().Err(err).Str("consumer", string(c.id)).Msg("sender start failed")
		return
	}
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *consumer) ID() domain.ConsumerID { return c.id }

func (c *consumer) ProducerID() domain.ProducerID { return c.producer.id }

func (c *consumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *consumer) RtpParameters() domain.RtpParameters { return c.params }

func (c *consumer) Paused() bool { return c.paused.Load() }

func (c *consumer) Resume(context.Context) error {
	if c.closed.Load() {
		return errConsumerClosed
	}
	if !c.transport.router.relays.ResumeSubscriber(c.producer.id, c.id) {
		return errConsumerClosed
	}
	c.paused.Store(false)
	return nil
}

func (c *consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *consumer) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.transport.router.relays.MarkSubscriberDelete(c.producer.id, c.id)
		if err := c.sender.Stop(); err != nil {
			c.transport.logger.Debug().Err(err).Str("consumer", string(c.id)).Msg("sender stop")
		}
		c.producer.forgetConsumer(c.id)
		c.transport.forgetConsumer(c.id)
	})
}

func (c *consumer) producerClosed() {
	c.Close()
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		go fn()
	}
}
