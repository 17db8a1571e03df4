// Package call drives a one-to-one call: offer and answer over signaling,
// room setup on the SFU and teardown.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/client/activity"
	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultOfferTimeout   = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

type Config struct {
	Self     domain.PeerID
	Signaler Signaler
	Devices  media.Devices
	// NewDevice returns a fresh SFU device for each call.
	NewDevice func() Device
	// Analysers enables speaking detection when set.
	Analysers activity.AnalyserFactory
	Listener  Listener

	OfferTimeout     time.Duration
	RequestTimeout   time.Duration
	SpeakingInterval time.Duration
}

type Phone struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	cs      callState
	nextGen uint64
}

func NewPhone(cfg Config) (*Phone, error) {
	if err := cfg.Self.Validate(); err != nil {
		return nil, fmt.Errorf("%w: self: %v", ErrBadConfig, err)
	}
	if cfg.Signaler == nil || cfg.Devices == nil || cfg.NewDevice == nil {
		return nil, fmt.Errorf("%w: signaler, devices and device factory are required", ErrBadConfig)
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = DefaultOfferTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Phone{
		cfg:    cfg,
		logger: log.With().Str("module", "client.call").Str("self", string(cfg.Self)).Logger(),
	}, nil
}

func (p *Phone) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cs.status()
}

// RemoteStream returns the composite stream of a peer in the current call.
func (p *Phone) RemoteStream(peer domain.PeerID) (*media.Stream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cs.res == nil {
		return nil, false
	}
	return p.cs.res.streams.Stream(peer)
}

// Speaking reports the speaking flag of a participant, the local one
// included under the phone's own id.
func (p *Phone) Speaking(id string) (speaking, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cs.res == nil || p.cs.res.monitor == nil {
		return false, false
	}
	return p.cs.res.monitor.Speaking(id)
}

// Call places a call. It returns once the offer is delivered; the answer
// arrives as an event.
func (p *Phone) Call(ctx context.Context, to domain.PeerID, kind domain.CallKind) error {
	if err := to.Validate(); err != nil || to == p.cfg.Self {
		return fmt.Errorf("%w: callee %q", domain.ErrBadPayload, to)
	}
	if kind != domain.CallAudio && kind != domain.CallVideo {
		return fmt.Errorf("%w: call kind %q", domain.ErrBadPayload, kind)
	}

	p.mu.Lock()
	if p.cs.state != Idle {
		p.mu.Unlock()
		return domain.ErrBusy
	}
	gen := p.beginLocked(Outgoing, to, kind)
	st := p.cs.status()
	p.mu.Unlock()
	p.emit(st)
	p.logger.Info().Str("to", string(to)).Str("kind", string(kind)).Msg("calling")

	err := p.request(ctx, protocol.TypeCallOffer, protocol.CallSignal{ToID: to, CallKind: kind}, nil)
	if err == nil {
		return nil
	}

	p.mu.Lock()
	if !p.currentLocked(gen) || p.cs.accepted {
		p.mu.Unlock()
		return err
	}
	st, res := p.endLocked(domain.ErrorCode(err), err)
	p.mu.Unlock()
	p.finish(st, res, nil)
	return err
}

// Accept answers the ringing call and starts room setup.
func (p *Phone) Accept() error {
	p.mu.Lock()
	if p.cs.state != Incoming || p.cs.accepted {
		p.mu.Unlock()
		return ErrNoIncomingCall
	}
	remote := p.cs.remote
	p.acceptLocked()
	st := p.cs.status()
	p.mu.Unlock()

	p.emit(st)
	return p.cfg.Signaler.Notify(protocol.TypeCallAccept, protocol.CallSignal{ToID: remote})
}

// Decline rejects the ringing call.
func (p *Phone) Decline() error {
	p.mu.Lock()
	if p.cs.state != Incoming || p.cs.accepted {
		p.mu.Unlock()
		return ErrNoIncomingCall
	}
	remote := p.cs.remote
	st, res := p.endLocked(ReasonDeclined, nil)
	p.mu.Unlock()

	p.finish(st, res, p.notice(protocol.TypeCallDecline, remote, ReasonDeclined))
	return nil
}

// HangUp ends whatever call is in progress. Calling it when idle does
// nothing.
func (p *Phone) HangUp() {
	p.mu.Lock()
	if p.cs.state == Idle {
		p.mu.Unlock()
		return
	}
	remote := p.cs.remote
	typ, reason := protocol.TypeCallEnd, ReasonHangup
	if p.cs.state == Incoming && !p.cs.accepted {
		typ, reason = protocol.TypeCallDecline, ReasonDeclined
	}
	st, res := p.endLocked(ReasonHangup, nil)
	p.mu.Unlock()

	p.finish(st, res, p.notice(typ, remote, reason))
}

// HandleDisconnect tears the call down when signaling is lost, wherever
// setup happens to be.
func (p *Phone) HandleDisconnect(cause error) {
	p.mu.Lock()
	if p.cs.state == Idle {
		p.mu.Unlock()
		return
	}
	err := cause
	if !errors.Is(err, domain.ErrSignalingDisconnected) {
		err = fmt.Errorf("%w: %v", domain.ErrSignalingDisconnected, cause)
	}
	st, res := p.endLocked(ReasonDisconnected, err)
	p.mu.Unlock()

	p.logger.Warn().Err(cause).Msg("signaling lost, call dropped")
	p.finish(st, res, nil)
}

// beginLocked starts a new call generation and arms the answer timer.
func (p *Phone) beginLocked(state State, remote domain.PeerID, kind domain.CallKind) uint64 {
	p.nextGen++
	gen := p.nextGen
	p.cs = callState{gen: gen, remote: remote, kind: kind}
	if err := p.cs.to(state); err != nil {
		p.logger.Error().Err(err).Msg("begin call")
	}
	p.cs.timer = time.AfterFunc(p.cfg.OfferTimeout, func() { p.expire(gen) })
	return gen
}

func (p *Phone) currentLocked(gen uint64) bool {
	return p.cs.gen == gen && p.cs.state != Idle
}

// acceptLocked marks the call accepted and launches room setup.
func (p *Phone) acceptLocked() {
	p.cs.accepted = true
	if p.cs.timer != nil {
		p.cs.timer.Stop()
		p.cs.timer = nil
	}
	var monitor *activity.Monitor
	if p.cfg.Analysers != nil {
		monitor = activity.NewMonitor(p.cfg.Analysers, activity.Options{
			Interval: p.cfg.SpeakingInterval,
			OnChange: p.speakingChanged,
		})
	}
	res := newResources(p.cfg.NewDevice(), monitor)
	ctx, cancel := context.WithCancel(context.Background())
	p.cs.res = res
	p.cs.cancel = cancel
	p.cs.room = domain.PrivateRoomName(p.cfg.Self, p.cs.remote)
	go p.runSetup(ctx, p.cs.gen, p.cs.room, p.cs.kind, res)
}

// endLocked moves the call to Idle and hands its resources to the caller
// for teardown.
func (p *Phone) endLocked(reason string, err error) (Status, *resources) {
	if p.cs.timer != nil {
		p.cs.timer.Stop()
	}
	if p.cs.cancel != nil {
		p.cs.cancel()
	}
	if terr := p.cs.to(Idle); terr != nil {
		p.logger.Error().Err(terr).Msg("end call")
	}
	st := p.cs.status()
	st.Reason = reason
	st.Err = err
	res := p.cs.res

	p.cs = callState{state: Idle, gen: p.cs.gen, remote: p.cs.remote, kind: p.cs.kind}
	return st, res
}

// finish runs teardown, leaves the room, sends the optional notice to the
// remote side and reports the final status.
func (p *Phone) finish(st Status, res *resources, notice func()) {
	if res != nil {
		for _, peer := range res.teardown(p.logger) {
			p.emitStream(peer, nil)
		}
		if res.joined {
			if err := p.cfg.Signaler.Notify(protocol.TypeLeaveRoom, nil); err != nil {
				p.logger.Debug().Err(err).Msg("leave not sent")
			}
		}
	}
	if notice != nil {
		notice()
	}
	p.logger.Info().Str("remote", string(st.Remote)).Str("reason", st.Reason).AnErr("cause", st.Err).Msg("call ended")
	p.emit(st)
}

func (p *Phone) notice(typ string, to domain.PeerID, reason string) func() {
	return func() {
		if err := p.cfg.Signaler.Notify(typ, protocol.CallSignal{ToID: to, Reason: reason}); err != nil {
			p.logger.Debug().Err(err).Str("type", typ).Msg("notice not sent")
		}
	}
}

func (p *Phone) expire(gen uint64) {
	p.mu.Lock()
	if !p.currentLocked(gen) || p.cs.accepted {
		p.mu.Unlock()
		return
	}
	remote := p.cs.remote
	typ := protocol.TypeCallEnd
	if p.cs.state == Incoming {
		typ = protocol.TypeCallDecline
	}
	st, res := p.endLocked(ReasonTimeout, domain.ErrCallTimeout)
	p.mu.Unlock()

	p.finish(st, res, p.notice(typ, remote, ReasonTimeout))
}

// syncMonitor applies the speaking monitor changes queued under the mutex.
// The monitor lock is taken first so two callers apply ops in queue order.
func (p *Phone) syncMonitor(res *resources) {
	if res == nil || res.monitor == nil {
		return
	}
	res.monitorMu.Lock()
	defer res.monitorMu.Unlock()
	p.mu.Lock()
	ops := res.monitorOps
	res.monitorOps = nil
	p.mu.Unlock()
	res.applyMonitor(ops)
}

func (p *Phone) request(ctx context.Context, typ string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	return p.cfg.Signaler.Request(ctx, typ, payload, out)
}

func (p *Phone) emit(st Status) {
	if fn := p.cfg.Listener.OnStatus; fn != nil {
		fn(st)
	}
}

func (p *Phone) emitStream(peer domain.PeerID, s *media.Stream) {
	if fn := p.cfg.Listener.OnRemoteStream; fn != nil {
		fn(peer, s)
	}
}

func (p *Phone) speakingChanged(id string, speaking bool) {
	if fn := p.cfg.Listener.OnSpeaking; fn != nil {
		fn(id, speaking)
	}
}
