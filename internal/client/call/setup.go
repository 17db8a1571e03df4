package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

// runSetup brings the call's room up step by step and then keeps
// subscribing to new producers until the call ends. Every result is applied
// only while gen is still the current call.
func (p *Phone) runSetup(ctx context.Context, gen uint64, room domain.RoomName, kind domain.CallKind, res *resources) {
	logger := p.logger.With().Str("room", string(room)).Uint64("gen", gen).Logger()

	acquired, err := media.Acquire(ctx, p.cfg.Devices, kind.WantsVideo())
	if err != nil {
		p.abort(gen, setupError("acquire media", err))
		return
	}
	if !p.adopt(gen, func(cs *callState) {
		res.local = acquired.Stream
		cs.videoEnabled = acquired.VideoEnabled
		cs.videoUnavailable = acquired.VideoUnavailable
		res.startMonitor(string(p.cfg.Self), acquired.Stream)
	}) {
		acquired.Stream.Stop()
		return
	}
	p.syncMonitor(res)

	var caps protocol.CapabilitiesResponse
	if err := p.request(ctx, protocol.TypeGetRouterCapabilities, protocol.RoomRequest{Room: room}, &caps); err != nil {
		p.abort(gen, setupError("router capabilities", err))
		return
	}
	if err := p.loadDevice(res.device, caps.RtpCapabilities); err != nil {
		p.abort(gen, setupError("load device", err))
		return
	}

	send, err := p.createSendTransport(ctx, res.device)
	if err != nil {
		p.abort(gen, setupError("send transport", err))
		return
	}
	if !p.adopt(gen, func(*callState) { res.send = send }) {
		send.Close()
		return
	}

	recv, err := p.createRecvTransport(ctx, res.device)
	if err != nil {
		p.abort(gen, setupError("recv transport", err))
		return
	}
	if !p.adopt(gen, func(*callState) { res.recv = recv }) {
		recv.Close()
		return
	}

	var joined protocol.JoinResponse
	if err := p.request(ctx, protocol.TypeJoinRoom, protocol.RoomRequest{Room: room}, &joined); err != nil {
		p.abort(gen, setupError("join room", err))
		return
	}
	if !p.adopt(gen, func(*callState) { res.joined = true }) {
		return
	}
	logger.Debug().Int("existing", len(joined.ExistingProducers)).Msg("joined room")

	if err := p.publish(ctx, gen, res, acquired); err != nil {
		p.abort(gen, setupError("publish", err))
		return
	}

	for _, info := range joined.ExistingProducers {
		if err := p.subscribe(ctx, gen, res, info); err != nil {
			p.abort(gen, setupError("subscribe", err))
			return
		}
	}

	p.mu.Lock()
	if !p.currentLocked(gen) {
		p.mu.Unlock()
		return
	}
	if err := p.cs.to(Active); err != nil {
		logger.Error().Err(err).Msg("activate call")
	}
	st := p.cs.status()
	p.mu.Unlock()
	logger.Info().Bool("video", st.VideoEnabled).Msg("call active")
	p.emit(st)

	for {
		select {
		case <-ctx.Done():
			return
		case <-res.wake:
		}
		p.mu.Lock()
		if !p.currentLocked(gen) {
			p.mu.Unlock()
			return
		}
		batch := res.drain()
		p.mu.Unlock()
		for _, info := range batch {
			if err := p.subscribe(ctx, gen, res, info); err != nil {
				logger.Warn().Err(err).Str("producer", string(info.ProducerID)).Msg("subscribe failed")
			}
		}
	}
}

// adopt applies fn to the call if gen is still current.
func (p *Phone) adopt(gen uint64, fn func(cs *callState)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.currentLocked(gen) {
		return false
	}
	fn(&p.cs)
	return true
}

// abort ends the call after a setup failure and tells the remote side.
func (p *Phone) abort(gen uint64, err *SetupError) {
	p.mu.Lock()
	if !p.currentLocked(gen) {
		p.mu.Unlock()
		return
	}
	remote := p.cs.remote
	st, res := p.endLocked(ReasonFailed, err)
	p.mu.Unlock()

	p.logger.Warn().Err(err).Str("category", string(err.Category)).Msg("room setup failed")
	p.finish(st, res, p.notice(protocol.TypeCallEnd, remote, ReasonFailed))
}

func (p *Phone) loadDevice(device Device, caps domain.RtpCapabilities) error {
	if err := caps.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCapabilityMismatch, err)
	}
	if err := device.Load(caps); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCapabilityMismatch, err)
	}
	if !device.CanProduce(domain.KindAudio) {
		return fmt.Errorf("%w: cannot send audio", domain.ErrCapabilityMismatch)
	}
	return nil
}

func (p *Phone) createSendTransport(ctx context.Context, device Device) (SendTransport, error) {
	var info domain.TransportInfo
	if err := p.request(ctx, protocol.TypeCreateTransport, protocol.CreateTransportRequest{IsSender: true}, &info); err != nil {
		return nil, err
	}
	id := info.ID
	return device.CreateSendTransport(info, SendHooks{
		Connect: p.connectHook(id),
		Produce: func(ctx context.Context, params domain.ProduceParams) (domain.ProducerID, error) {
			var resp protocol.ProduceResponse
			err := p.request(ctx, protocol.TypeProduce, protocol.ProduceRequest{TransportID: id, ProduceParams: params}, &resp)
			return resp.ProducerID, err
		},
	})
}

func (p *Phone) createRecvTransport(ctx context.Context, device Device) (RecvTransport, error) {
	var info domain.TransportInfo
	if err := p.request(ctx, protocol.TypeCreateTransport, protocol.CreateTransportRequest{IsSender: false}, &info); err != nil {
		return nil, err
	}
	return device.CreateRecvTransport(info, RecvHooks{Connect: p.connectHook(info.ID)})
}

func (p *Phone) connectHook(id domain.TransportID) ConnectHook {
	return func(ctx context.Context, params domain.ConnectParams) error {
		return p.request(ctx, protocol.TypeConnectTransport, protocol.ConnectTransportRequest{TransportID: id, ConnectParams: params}, nil)
	}
}

// publish sends video first when enabled, then audio.
func (p *Phone) publish(ctx context.Context, gen uint64, res *resources, acquired media.Acquired) error {
	type outgoing struct {
		track media.Track
		role  domain.MediaRole
	}
	var tracks []outgoing
	if acquired.VideoEnabled {
		if t, ok := acquired.Stream.First(domain.KindVideo); ok {
			tracks = append(tracks, outgoing{t, domain.RoleCamera})
		}
	}
	if t, ok := acquired.Stream.First(domain.KindAudio); ok {
		tracks = append(tracks, outgoing{t, domain.RoleMic})
	}

	for _, o := range tracks {
		if ctx.Err() != nil {
			return nil
		}
		producer, err := res.send.Produce(ctx, o.track, o.role)
		if err != nil {
			return err
		}
		if !p.adopt(gen, func(*callState) { res.producers[producer.ID()] = producer }) {
			producer.Close()
			return nil
		}
	}
	return nil
}

// subscribe consumes one remote producer and resumes it once its track is
// in place. A producer that vanished on the way is skipped.
func (p *Phone) subscribe(ctx context.Context, gen uint64, res *resources, info domain.ProducerInfo) error {
	logger := p.logger.With().Str("producer", string(info.ProducerID)).Str("peer", string(info.PeerID)).Logger()

	p.mu.Lock()
	if !p.currentLocked(gen) || res.known(info.ProducerID) {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	var ci domain.ConsumerInfo
	err := p.request(ctx, protocol.TypeConsume, protocol.ConsumeRequest{
		ProducerID:      info.ProducerID,
		RtpCapabilities: res.device.RtpCapabilities(),
	}, &ci)
	if errors.Is(err, domain.ErrProducerNotFound) {
		logger.Debug().Err(domain.ErrConsumeRace).Msg("producer gone before consume")
		return nil
	}
	if err != nil {
		return err
	}

	track, err := res.recv.Consume(ctx, ci)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if !p.currentLocked(gen) {
		p.mu.Unlock()
		track.Stop()
		return nil
	}
	if _, closed := res.closedProducers[info.ProducerID]; closed {
		p.mu.Unlock()
		track.Stop()
		logger.Debug().Err(domain.ErrConsumeRace).Msg("producer closed while consuming")
		return nil
	}
	stream := res.attach(ci, track)
	p.mu.Unlock()
	p.syncMonitor(res)

	p.emitStream(ci.PeerID, stream)
	if err := p.cfg.Signaler.Notify(protocol.TypeResume, protocol.ResumeRequest{ConsumerID: ci.ID}); err != nil {
		logger.Debug().Err(err).Msg("resume not sent")
	}
	return nil
}
