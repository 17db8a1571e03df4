package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/dkeye/VoiceCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

type producerEntry struct {
	producer    core.Producer
	transportID domain.TransportID
	info        domain.ProducerInfo
	// consumer id -> subscribing peer
	consumers map[domain.ConsumerID]domain.PeerID
}

type consumerEntry struct {
	consumer    core.Consumer
	transportID domain.TransportID
	producerID  domain.ProducerID
}

// peerState is everything one peer owns inside a room.
type peerState struct {
	session    core.PeerSession
	transports map[domain.TransportID]core.Transport
	byDir      map[domain.Direction]domain.TransportID
	producers  map[domain.ProducerID]struct{}
	consumers  map[domain.ConsumerID]*consumerEntry
}

func newPeerState(s core.PeerSession) *peerState {
	return &peerState{
		session:    s,
		transports: make(map[domain.TransportID]core.Transport),
		byDir:      make(map[domain.Direction]domain.TransportID),
		producers:  make(map[domain.ProducerID]struct{}),
		consumers:  make(map[domain.ConsumerID]*consumerEntry),
	}
}

// room serializes every mutation of one room, and the enqueueing of the
// events derived from it, under mu.
type room struct {
	name domain.RoomName

	mu        sync.Mutex
	router    core.Router
	peers     map[domain.PeerID]*peerState
	producers map[domain.ProducerID]*producerEntry

	// set once, under mu, when the room is released
	closed atomic.Bool
	// releases the room if nobody joins it in time
	idle *time.Timer
}

func newRoom(name domain.RoomName) *room {
	return &room{
		name:      name,
		peers:     make(map[domain.PeerID]*peerState),
		producers: make(map[domain.ProducerID]*producerEntry),
	}
}

// broadcast sends frame to every peer but except. Caller holds mu.
func (r *room) broadcast(except domain.PeerID, frame core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for id, ps := range r.peers {
		if id == except {
			continue
		}
		if err := ps.session.Signal().TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, ps.session)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.room").Str("room", string(r.name)).Str("from", string(except)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *room) emit(except domain.PeerID, typ string, payload any) []core.PeerSession {
	frame, err := protocol.Encode(typ, 0, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.room").Str("type", typ).Msg("encode event")
		return nil
	}
	return r.broadcast(except, frame).Dropped
}

// snapshotFor lists the live producers of every peer other than id.
func (r *room) snapshotFor(id domain.PeerID) []domain.ProducerInfo {
	out := make([]domain.ProducerInfo, 0, len(r.producers))
	for _, p := range r.producers {
		if p.info.PeerID == id {
			continue
		}
		out = append(out, p.info)
	}
	return out
}

// closeProducer closes a producer and every consumer fed by it, then tells
// the rest of the room. Caller holds mu.
func (r *room) closeProducer(id domain.ProducerID) []core.PeerSession {
	entry, ok := r.producers[id]
	if !ok {
		return nil
	}
	delete(r.producers, id)
	for cid, subscriber := range entry.consumers {
		if ps, ok := r.peers[subscriber]; ok {
			if ce, ok := ps.consumers[cid]; ok {
				ce.consumer.Close()
				delete(ps.consumers, cid)
				metrics.Consumers.Dec()
			}
		}
	}
	owner := entry.info.PeerID
	if ps, ok := r.peers[owner]; ok {
		delete(ps.producers, id)
	}
	entry.producer.Close()
	metrics.Producers.Dec()

	log.Info().Str("module", "app.room").Str("room", string(r.name)).Str("peer", string(owner)).Str("producer", string(id)).Msg("producer closed")
	return r.emit(owner, protocol.TypeProducerClosed, protocol.ProducerClosedEvent{ProducerID: id, PeerID: owner})
}

// closeConsumer drops one consumer. Caller holds mu.
func (r *room) closeConsumer(ps *peerState, id domain.ConsumerID) {
	ce, ok := ps.consumers[id]
	if !ok {
		return
	}
	delete(ps.consumers, id)
	if p, ok := r.producers[ce.producerID]; ok {
		delete(p.consumers, id)
	}
	ce.consumer.Close()
	metrics.Consumers.Dec()
}

// closeTransport closes a transport along with whatever runs over it.
// Caller holds mu.
func (r *room) closeTransport(ps *peerState, id domain.TransportID) []core.PeerSession {
	t, ok := ps.transports[id]
	if !ok {
		return nil
	}
	var dropped []core.PeerSession
	for pid := range ps.producers {
		if p, ok := r.producers[pid]; ok && p.transportID == id {
			dropped = append(dropped, r.closeProducer(pid)...)
		}
	}
	for cid, ce := range ps.consumers {
		if ce.transportID == id {
			r.closeConsumer(ps, cid)
		}
	}
	delete(ps.transports, id)
	if ps.byDir[t.Direction()] == id {
		delete(ps.byDir, t.Direction())
	}
	t.Close()
	return dropped
}

// removePeer releases everything the peer owns. Caller holds mu.
func (r *room) removePeer(id domain.PeerID) []core.PeerSession {
	ps, ok := r.peers[id]
	if !ok {
		return nil
	}
	var dropped []core.PeerSession
	for pid := range ps.producers {
		dropped = append(dropped, r.closeProducer(pid)...)
	}
	for cid := range ps.consumers {
		r.closeConsumer(ps, cid)
	}
	for tid := range ps.transports {
		dropped = append(dropped, r.closeTransport(ps, tid)...)
	}
	delete(r.peers, id)
	metrics.Peers.Dec()
	dropped = append(dropped, r.emit(id, protocol.TypePeerLeft, protocol.PeerEvent{PeerID: id})...)
	return dropped
}

// release closes the router of an empty room. Caller holds mu.
func (r *room) release() {
	r.closed.Store(true)
	if r.idle != nil {
		r.idle.Stop()
	}
	if r.router != nil {
		r.router.Close()
		r.router = nil
	}
	log.Info().Str("module", "app.room").Str("room", string(r.name)).Msg("room released")
}

func (r *room) info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RoomInfo{
		Name:          r.name,
		PeerCount:     len(r.peers),
		ProducerCount: len(r.producers),
		Ready:         r.router != nil,
	}
}
