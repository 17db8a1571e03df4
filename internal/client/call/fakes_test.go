package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceCall/internal/app/enginetest"
	"github.com/dkeye/VoiceCall/internal/client/activity"
	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/client/media/mediatest"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/protocol"
)

type fakeDevice struct {
	mu       sync.Mutex
	caps     domain.RtpCapabilities
	failLoad error
	sends    []*fakeSend
	recvs    []*fakeRecv
}

func (d *fakeDevice) Load(caps domain.RtpCapabilities) error {
	if d.failLoad != nil {
		return d.failLoad
	}
	d.mu.Lock()
	d.caps = caps
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) RtpCapabilities() domain.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *fakeDevice) CanProduce(kind domain.MediaKind) bool {
	return d.RtpCapabilities().CanProduce(kind)
}

func (d *fakeDevice) CreateSendTransport(info domain.TransportInfo, hooks SendHooks) (SendTransport, error) {
	if err := hooks.Validate(); err != nil {
		return nil, err
	}
	t := &fakeSend{id: info.ID, hooks: hooks}
	d.mu.Lock()
	d.sends = append(d.sends, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDevice) CreateRecvTransport(info domain.TransportInfo, hooks RecvHooks) (RecvTransport, error) {
	if err := hooks.Validate(); err != nil {
		return nil, err
	}
	t := &fakeRecv{id: info.ID, hooks: hooks}
	d.mu.Lock()
	d.recvs = append(d.recvs, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDevice) transportsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.sends {
		if !t.closed.Load() {
			return false
		}
	}
	for _, t := range d.recvs {
		if !t.closed.Load() {
			return false
		}
	}
	return true
}

func connectParams() domain.ConnectParams {
	return domain.ConnectParams{DtlsParameters: domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	}}
}

type fakeSend struct {
	id        domain.TransportID
	hooks     SendHooks
	connected sync.Once
	closed    atomic.Bool
}

func (t *fakeSend) ID() domain.TransportID { return t.id }

func (t *fakeSend) Produce(ctx context.Context, track media.Track, role domain.MediaRole) (LocalProducer, error) {
	var err error
	t.connected.Do(func() { err = t.hooks.Connect(ctx, connectParams()) })
	if err != nil {
		return nil, err
	}
	params := enginetest.AudioParams(role)
	if track.Kind() == domain.KindVideo {
		params = enginetest.VideoParams(role)
	}
	id, err := t.hooks.Produce(ctx, params)
	if err != nil {
		return nil, err
	}
	return &fakeProducer{id: id, kind: track.Kind()}, nil
}

func (t *fakeSend) Close() { t.closed.Store(true) }

type fakeRecv struct {
	id        domain.TransportID
	hooks     RecvHooks
	connected sync.Once
	closed    atomic.Bool
}

func (t *fakeRecv) ID() domain.TransportID { return t.id }

func (t *fakeRecv) Consume(ctx context.Context, info domain.ConsumerInfo) (media.Track, error) {
	var err error
	t.connected.Do(func() { err = t.hooks.Connect(ctx, connectParams()) })
	if err != nil {
		return nil, err
	}
	return mediatest.NewTrack(info.Kind), nil
}

func (t *fakeRecv) Close() { t.closed.Store(true) }

type fakeProducer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	closed atomic.Bool
}

func (p *fakeProducer) ID() domain.ProducerID { return p.id }

func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }

func (p *fakeProducer) Close() { p.closed.Store(true) }

// scriptSignaler answers requests from a handler and records notices.
type scriptSignaler struct {
	mu       sync.Mutex
	requests []string
	notices  []protocol.Message

	handle func(ctx context.Context, typ string, payload any) (any, error)
}

func (s *scriptSignaler) Request(ctx context.Context, typ string, payload any, out any) error {
	s.mu.Lock()
	s.requests = append(s.requests, typ)
	handle := s.handle
	s.mu.Unlock()

	res, err := handle(ctx, typ, payload)
	if err != nil {
		return err
	}
	if out == nil || res == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *scriptSignaler) Notify(typ string, payload any) error {
	frame, err := protocol.Encode(typ, 0, payload)
	if err != nil {
		return err
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.notices = append(s.notices, msg)
	s.mu.Unlock()
	return nil
}

func (s *scriptSignaler) count(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r == typ {
			n++
		}
	}
	return n
}

func (s *scriptSignaler) noticesOf(typ string) []protocol.CallSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.CallSignal
	for _, m := range s.notices {
		if m.Type != typ {
			continue
		}
		var sig protocol.CallSignal
		_ = m.Bind(&sig)
		out = append(out, sig)
	}
	return out
}

func (s *scriptSignaler) noticeCount(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.notices {
		if m.Type == typ {
			n++
		}
	}
	return n
}

// room answers the setup requests like a server whose room already holds
// the given producers.
type room struct {
	mu       sync.Mutex
	caps     domain.RtpCapabilities
	existing []domain.ProducerInfo
	gone     map[domain.ProducerID]bool
	seq      int
}

func newRoom(existing ...domain.ProducerInfo) *room {
	return &room{caps: enginetest.DefaultCapabilities(), existing: existing, gone: map[domain.ProducerID]bool{}}
}

func (r *room) handle(_ context.Context, typ string, payload any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	switch typ {
	case protocol.TypeCallOffer:
		return protocol.Ack{OK: true}, nil
	case protocol.TypeGetRouterCapabilities:
		return protocol.CapabilitiesResponse{RtpCapabilities: r.caps}, nil
	case protocol.TypeCreateTransport:
		req := payload.(protocol.CreateTransportRequest)
		return domain.TransportInfo{
			ID:        domain.TransportID(fmt.Sprintf("t-%d", r.seq)),
			Direction: domain.DirectionOf(req.IsSender),
		}, nil
	case protocol.TypeConnectTransport:
		return protocol.Ack{OK: true}, nil
	case protocol.TypeProduce:
		req := payload.(protocol.ProduceRequest)
		return protocol.ProduceResponse{ProducerID: domain.ProducerID(fmt.Sprintf("local-%s", req.Kind))}, nil
	case protocol.TypeJoinRoom:
		return protocol.JoinResponse{ExistingProducers: r.existing}, nil
	case protocol.TypeConsume:
		req := payload.(protocol.ConsumeRequest)
		if r.gone[req.ProducerID] {
			return nil, domain.ErrProducerNotFound
		}
		info := r.lookup(req.ProducerID)
		return domain.ConsumerInfo{
			ID:         domain.ConsumerID("c-" + string(req.ProducerID)),
			ProducerID: req.ProducerID,
			PeerID:     info.PeerID,
			Kind:       info.Kind,
			MediaRole:  info.MediaRole,
		}, nil
	}
	return nil, fmt.Errorf("%w: unexpected %s", domain.ErrBadPayload, typ)
}

func (r *room) lookup(pid domain.ProducerID) domain.ProducerInfo {
	for _, p := range r.existing {
		if p.ProducerID == pid {
			return p
		}
	}
	return domain.ProducerInfo{ProducerID: pid, PeerID: "bob", Kind: domain.KindAudio}
}

func (r *room) add(info domain.ProducerInfo) {
	r.mu.Lock()
	r.existing = append(r.existing, info)
	r.mu.Unlock()
}

type recorder struct {
	mu       sync.Mutex
	statuses []Status
	streams  map[domain.PeerID]*media.Stream
}

func newRecorder() *recorder {
	return &recorder{streams: map[domain.PeerID]*media.Stream{}}
}

func (r *recorder) listener() Listener {
	return Listener{
		OnStatus: func(s Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
		OnRemoteStream: func(peer domain.PeerID, s *media.Stream) {
			r.mu.Lock()
			if s == nil {
				delete(r.streams, peer)
			} else {
				r.streams[peer] = s
			}
			r.mu.Unlock()
		},
	}
}

func (r *recorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) stream(peer domain.PeerID) (*media.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[peer]
	return s, ok
}

func event(typ string, payload any) protocol.Message {
	frame, err := protocol.Encode(typ, 0, payload)
	if err != nil {
		panic(err)
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		panic(err)
	}
	return msg
}

// levelAnalysers reads the level of the original track behind each clone.
type levelAnalysers struct {
	mu   sync.Mutex
	made []*levelAnalyser
}

func (f *levelAnalysers) NewAnalyser(t media.Track) (activity.Analyser, error) {
	a := &levelAnalyser{track: t.(*mediatest.Track)}
	f.mu.Lock()
	f.made = append(f.made, a)
	f.mu.Unlock()
	return a, nil
}

func (f *levelAnalysers) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.made {
		if !a.closed.Load() {
			n++
		}
	}
	return n
}

type levelAnalyser struct {
	track  *mediatest.Track
	closed atomic.Bool
}

func (a *levelAnalyser) ByteFrequencyData(dst []uint8) {
	level := uint8(a.track.Source().Level.Load())
	for i := range dst {
		dst[i] = level
	}
}

func (a *levelAnalyser) Close() { a.closed.Store(true) }
