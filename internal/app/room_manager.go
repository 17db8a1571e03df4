package app

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// DefaultIdleRoomTimeout bounds how long a room nobody joined keeps its
// router.
const DefaultIdleRoomTimeout = 30 * time.Second

// BackpressureHandler is told about peers whose send buffer was full while
// a room event was being delivered. It runs with no room lock held.
type BackpressureHandler func(room domain.RoomName, peer core.PeerSession)

// RoomManager is the Room Registry. Lock order: mu, then a room's mu.
type RoomManager struct {
	engine      core.Engine
	maxPeers    int
	idleTimeout time.Duration

	onBackpressure BackpressureHandler

	mu    sync.RWMutex
	rooms map[domain.RoomName]*room
	peers map[domain.PeerID]domain.RoomName
}

var _ core.RoomRegistry = (*RoomManager)(nil)

// NewRoomManager creates a registry backed by engine. maxPeers <= 0 means
// rooms are unbounded.
func NewRoomManager(engine core.Engine, maxPeers int) *RoomManager {
	return &RoomManager{
		engine:      engine,
		maxPeers:    maxPeers,
		idleTimeout: DefaultIdleRoomTimeout,
		rooms:       make(map[domain.RoomName]*room),
		peers:       make(map[domain.PeerID]domain.RoomName),
	}
}

// SetIdleTimeout changes how long a room may stay without ever being joined
// before it is released. Call before serving.
func (m *RoomManager) SetIdleTimeout(d time.Duration) {
	if d > 0 {
		m.idleTimeout = d
	}
}

// OnBackpressure sets the handler for slow peers. Call before serving.
func (m *RoomManager) OnBackpressure(h BackpressureHandler) { m.onBackpressure = h }

func (m *RoomManager) reportDropped(name domain.RoomName, dropped []core.PeerSession) {
	if m.onBackpressure == nil || len(dropped) == 0 {
		return
	}
	seen := make(map[domain.PeerID]struct{}, len(dropped))
	for _, p := range dropped {
		if _, ok := seen[p.ID()]; ok {
			continue
		}
		seen[p.ID()] = struct{}{}
		m.onBackpressure(name, p)
	}
}

// getOrCreate returns the live room for name.
func (m *RoomManager) getOrCreate(name domain.RoomName) *room {
	m.mu.RLock()
	r, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok && !r.closed.Load() {
		return r
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok = m.rooms[name]; ok && !r.closed.Load() {
		return r
	}
	r = newRoom(name)
	metrics.Rooms.Inc()
	m.rooms[name] = r
	r.idle = time.AfterFunc(m.idleTimeout, func() { m.reapIdle(r) })
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	return r
}

// reapIdle releases r when its idle timer fires and nobody is in it. Rooms
// that were joined are released by the last Leave instead.
func (m *RoomManager) reapIdle(r *room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[r.name] != r {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() || len(r.peers) > 0 {
		return
	}
	r.release()
	delete(m.rooms, r.name)
	metrics.Rooms.Dec()
	log.Info().Str("module", "app.rooms").Str("room", string(r.name)).Dur("idle", m.idleTimeout).Msg("unused room reaped")
}

// GetCapabilities creates the room and its router on first use.
func (m *RoomManager) GetCapabilities(ctx context.Context, name domain.RoomName) (domain.RtpCapabilities, error) {
	if err := name.Validate(); err != nil {
		return domain.RtpCapabilities{}, fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	for {
		r := m.getOrCreate(name)
		r.mu.Lock()
		if r.closed.Load() {
			r.mu.Unlock()
			continue
		}
		if r.router == nil {
			router, err := m.engine.NewRouter(ctx)
			if err != nil {
				r.mu.Unlock()
				return domain.RtpCapabilities{}, fmt.Errorf("new router for %s: %w", name, err)
			}
			r.router = router
			log.Info().Str("module", "app.rooms").Str("room", string(name)).Str("router", string(router.ID())).Msg("router ready")
		}
		caps := r.router.Capabilities()
		r.mu.Unlock()
		return caps, nil
	}
}

// Join moves peer into the room, leaving any room it was in before.
func (m *RoomManager) Join(
	_ context.Context,
	name domain.RoomName,
	peer core.PeerSession,
	onJoined func([]domain.ProducerInfo),
) ([]domain.ProducerInfo, error) {
	id := peer.ID()

	m.mu.Lock()
	var dropped []core.PeerSession
	prev, hadPrev := m.peers[id]
	hadPrev = hadPrev && prev != name
	if hadPrev {
		dropped = m.leaveLocked(id)
	}
	snapshot, joinDropped, err := m.joinLocked(name, peer, onJoined)
	m.mu.Unlock()

	if hadPrev {
		m.reportDropped(prev, dropped)
		log.Info().Str("module", "app.rooms").Str("peer", string(id)).Str("from_room", string(prev)).Msg("left previous room on join")
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("peer", string(id)).Str("room", string(name)).Msg("join rejected")
		return nil, err
	}
	m.reportDropped(name, joinDropped)
	log.Info().Str("module", "app.rooms").Str("peer", string(id)).Str("room", string(name)).Int("existing_producers", len(snapshot)).Msg("peer joined")
	return snapshot, nil
}

func (m *RoomManager) joinLocked(
	name domain.RoomName,
	peer core.PeerSession,
	onJoined func([]domain.ProducerInfo),
) ([]domain.ProducerInfo, []core.PeerSession, error) {
	r, ok := m.rooms[name]
	if !ok {
		return nil, nil, domain.ErrRoomNotReady
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() || r.router == nil {
		return nil, nil, domain.ErrRoomNotReady
	}
	id := peer.ID()
	if _, ok := r.peers[id]; ok {
		snapshot := r.snapshotFor(id)
		if onJoined != nil {
			onJoined(snapshot)
		}
		return snapshot, nil, nil
	}
	if m.maxPeers > 0 && len(r.peers) >= m.maxPeers {
		return nil, nil, domain.ErrRoomFull
	}
	r.peers[id] = newPeerState(peer)
	m.peers[id] = name
	metrics.Peers.Inc()

	snapshot := r.snapshotFor(id)
	if onJoined != nil {
		onJoined(snapshot)
	}
	dropped := r.emit(id, protocol.TypePeerJoined, protocol.PeerEvent{PeerID: id})
	return snapshot, dropped, nil
}

// Leave releases everything the peer owns and deletes its room once empty.
func (m *RoomManager) Leave(id domain.PeerID) (domain.RoomName, bool) {
	m.mu.Lock()
	name, ok := m.peers[id]
	var dropped []core.PeerSession
	if ok {
		dropped = m.leaveLocked(id)
	}
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	m.reportDropped(name, dropped)
	log.Info().Str("module", "app.rooms").Str("peer", string(id)).Str("room", string(name)).Msg("peer left")
	return name, true
}

func (m *RoomManager) leaveLocked(id domain.PeerID) []core.PeerSession {
	name := m.peers[id]
	delete(m.peers, id)
	r, ok := m.rooms[name]
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := r.removePeer(id)
	if len(r.peers) == 0 {
		r.release()
		delete(m.rooms, name)
		metrics.Rooms.Dec()
	}
	return dropped
}

// lookup finds the room and state of a joined peer and locks the room.
// The caller must unlock r.mu.
func (m *RoomManager) lookup(id domain.PeerID) (*room, *peerState, error) {
	m.mu.RLock()
	name, ok := m.peers[id]
	var r *room
	if ok {
		r = m.rooms[name]
	}
	m.mu.RUnlock()
	if r == nil {
		return nil, nil, fmt.Errorf("%w: %s has not joined a room", domain.ErrPeerNotFound, id)
	}
	r.mu.Lock()
	ps, ok := r.peers[id]
	if !ok || r.closed.Load() {
		r.mu.Unlock()
		return nil, nil, domain.ErrPeerNotFound
	}
	return r, ps, nil
}

// CreateTransport allocates a transport for the peer. A second transport of
// the same direction replaces the first.
func (m *RoomManager) CreateTransport(ctx context.Context, id domain.PeerID, dir domain.Direction) (domain.TransportInfo, error) {
	r, _, err := m.lookup(id)
	if err != nil {
		return domain.TransportInfo{}, err
	}
	router := r.router
	r.mu.Unlock()

	t, err := router.CreateTransport(ctx, dir)
	if err != nil {
		return domain.TransportInfo{}, fmt.Errorf("%w: create transport: %v", domain.ErrTransportFailure, err)
	}

	r, ps, err := m.lookup(id)
	if err != nil {
		t.Close()
		return domain.TransportInfo{}, err
	}
	var dropped []core.PeerSession
	if old, ok := ps.byDir[dir]; ok {
		dropped = r.closeTransport(ps, old)
	}
	ps.transports[t.ID()] = t
	ps.byDir[dir] = t.ID()
	r.mu.Unlock()

	m.reportDropped(r.name, dropped)
	log.Info().Str("module", "app.rooms").Str("peer", string(id)).Str("transport", string(t.ID())).Str("direction", string(dir)).Msg("transport created")
	return domain.TransportInfo{ID: t.ID(), Direction: dir, HandshakeParams: t.HandshakeParams()}, nil
}

func (m *RoomManager) transport(id domain.PeerID, tid domain.TransportID) (*room, core.Transport, error) {
	r, ps, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	defer r.mu.Unlock()
	t, ok := ps.transports[tid]
	if !ok {
		return nil, nil, domain.ErrTransportNotFound
	}
	return r, t, nil
}

func (m *RoomManager) ConnectTransport(ctx context.Context, id domain.PeerID, tid domain.TransportID, params domain.ConnectParams) error {
	_, t, err := m.transport(id, tid)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, params); err != nil {
		return fmt.Errorf("%w: connect %s: %v", domain.ErrTransportFailure, tid, err)
	}
	log.Info().Str("module", "app.rooms").Str("peer", string(id)).Str("transport", string(tid)).Msg("transport connected")
	return nil
}

// Produce publishes a track on the peer's send transport and announces it
// to everyone else in the room.
func (m *RoomManager) Produce(ctx context.Context, id domain.PeerID, tid domain.TransportID, params domain.ProduceParams) (domain.ProducerID, error) {
	if !params.Kind.Valid() {
		return "", fmt.Errorf("%w: kind %q", domain.ErrBadPayload, params.Kind)
	}
	_, t, err := m.transport(id, tid)
	if err != nil {
		return "", err
	}
	if t.Direction() != domain.DirectionSend {
		return "", domain.ErrWrongDirection
	}

	producer, err := t.Produce(ctx, params)
	if err != nil {
		return "", fmt.Errorf("produce on %s: %w", tid, err)
	}

	r, ps, err := m.lookup(id)
	if err != nil {
		producer.Close()
		return "", err
	}
	if _, ok := ps.transports[tid]; !ok {
		r.mu.Unlock()
		producer.Close()
		return "", domain.ErrTransportNotFound
	}
	info := domain.ProducerInfo{
		ProducerID: producer.ID(),
		MediaRole:  params.MediaRole,
		PeerID:     id,
		Kind:       producer.Kind(),
	}
	r.producers[producer.ID()] = &producerEntry{
		producer:    producer,
		transportID: tid,
		info:        info,
		consumers:   make(map[domain.ConsumerID]domain.PeerID),
	}
	ps.producers[producer.ID()] = struct{}{}
	metrics.Producers.Inc()
	dropped := r.emit(id, protocol.TypeNewProducer, info)
	r.mu.Unlock()

	m.reportDropped(r.name, dropped)
	log.Info().Str("module", "app.rooms").Str("peer", string(id)).Str("producer", string(producer.ID())).Str("kind", string(info.Kind)).Str("role", string(info.MediaRole)).Msg("producer created")
	return producer.ID(), nil
}

// CloseProducer unpublishes one of the peer's own producers.
func (m *RoomManager) CloseProducer(id domain.PeerID, pid domain.ProducerID) error {
	r, ps, err := m.lookup(id)
	if err != nil {
		return err
	}
	if _, ok := ps.producers[pid]; !ok {
		r.mu.Unlock()
		return domain.ErrProducerNotFound
	}
	dropped := r.closeProducer(pid)
	r.mu.Unlock()
	m.reportDropped(r.name, dropped)
	return nil
}

// Consume subscribes the peer to a producer of another peer. The consumer
// starts paused.
func (m *RoomManager) Consume(ctx context.Context, id domain.PeerID, pid domain.ProducerID, caps domain.RtpCapabilities) (domain.ConsumerInfo, error) {
	r, ps, err := m.lookup(id)
	if err != nil {
		return domain.ConsumerInfo{}, err
	}
	entry, ok := r.producers[pid]
	if !ok {
		r.mu.Unlock()
		return domain.ConsumerInfo{}, domain.ErrProducerNotFound
	}
	info := entry.info
	if !r.router.CanConsume(pid, caps) {
		r.mu.Unlock()
		return domain.ConsumerInfo{}, domain.ErrIncompatibleCapabilities
	}
	tid, ok := ps.byDir[domain.DirectionRecv]
	if !ok {
		r.mu.Unlock()
		return domain.ConsumerInfo{}, domain.ErrNoRecvTransport
	}
	t := ps.transports[tid]
	r.mu.Unlock()

	consumer, err := t.Consume(ctx, pid, caps)
	if err != nil {
		return domain.ConsumerInfo{}, fmt.Errorf("consume %s: %w", pid, err)
	}

	r, ps, err = m.lookup(id)
	if err != nil {
		consumer.Close()
		return domain.ConsumerInfo{}, err
	}
	entry, ok = r.producers[pid]
	if !ok {
		r.mu.Unlock()
		consumer.Close()
		return domain.ConsumerInfo{}, domain.ErrProducerNotFound
	}
	if _, ok := ps.transports[tid]; !ok {
		r.mu.Unlock()
		consumer.Close()
		return domain.ConsumerInfo{}, domain.ErrNoRecvTransport
	}
	ps.consumers[consumer.ID()] = &consumerEntry{consumer: consumer, transportID: tid, producerID: pid}
	entry.consumers[consumer.ID()] = id
	metrics.Consumers.Inc()
	r.mu.Unlock()

	cid := consumer.ID()
	consumer.OnProducerClose(func() { m.dropConsumer(r, id, cid) })

	log.Info().Str("module", "app.rooms").Str("peer", string(id)).Str("producer", string(pid)).Str("consumer", string(cid)).Msg("consumer created")
	return domain.ConsumerInfo{
		ID:            cid,
		ProducerID:    pid,
		PeerID:        info.PeerID,
		Kind:          consumer.Kind(),
		MediaRole:     info.MediaRole,
		RtpParameters: consumer.RtpParameters(),
	}, nil
}

// dropConsumer handles the engine telling us a consumer lost its producer.
// Usually the registry already removed it.
func (m *RoomManager) dropConsumer(r *room, id domain.PeerID, cid domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.peers[id]; ok {
		if _, ok := ps.consumers[cid]; ok {
			r.closeConsumer(ps, cid)
			log.Debug().Str("module", "app.rooms").Str("peer", string(id)).Str("consumer", string(cid)).Msg("consumer dropped after producer close")
		}
	}
}

// ResumeConsumer never fails: a consumer can vanish with its producer at any
// time, so a miss is only logged.
func (m *RoomManager) ResumeConsumer(ctx context.Context, id domain.PeerID, cid domain.ConsumerID) {
	r, ps, err := m.lookup(id)
	if err != nil {
		log.Debug().Err(err).Str("module", "app.rooms").Str("peer", string(id)).Str("consumer", string(cid)).Msg("resume: no peer")
		return
	}
	ce, ok := ps.consumers[cid]
	r.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "app.rooms").Str("peer", string(id)).Str("consumer", string(cid)).Msg("resume: consumer gone")
		return
	}
	if err := ce.consumer.Resume(ctx); err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("peer", string(id)).Str("consumer", string(cid)).Msg("resume failed")
	}
}

func (m *RoomManager) RoomOf(id domain.PeerID) (domain.RoomName, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.peers[id]
	return name, ok
}

func (m *RoomManager) Peers(name domain.RoomName) []domain.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PeerID, 0)
	for id, rn := range m.peers {
		if rn == name {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (m *RoomManager) Info(name domain.RoomName) (domain.RoomInfo, bool) {
	m.mu.RLock()
	r, ok := m.rooms[name]
	m.mu.RUnlock()
	if !ok {
		return domain.RoomInfo{}, false
	}
	return r.info(), true
}

func (m *RoomManager) List() []domain.RoomInfo {
	m.mu.RLock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.info())
	}
	slices.SortFunc(out, func(a, b domain.RoomInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
