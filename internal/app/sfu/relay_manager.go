package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// RelayManager owns one Relay per producer.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.ProducerID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.ProducerID]*Relay),
	}
}

// StartRelay creates a new Relay for the given producer and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, pid domain.ProducerID, src PacketSource) {
	logger := log.With().
		Str("module", "relay").
		Str("producer", string(pid)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[pid]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[pid] = relay
	m.mu.Unlock()

	logger.Debug().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
}

// AddSubscriber attaches a paused OutTrack for consumer cid to the relay of
// pid. It reports false when the producer has no relay.
func (m *RelayManager) AddSubscriber(pid domain.ProducerID, cid domain.ConsumerID, sink PacketSink) bool {
	m.mu.RLock()
	relay, ok := m.relays[pid]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(cid, NewPausedOutTrack(sink))
	return true
}

// ResumeSubscriber starts forwarding to a paused consumer.
func (m *RelayManager) ResumeSubscriber(pid domain.ProducerID, cid domain.ConsumerID) bool {
	ot, ok := m.outTrack(pid, cid)
	if !ok {
		return false
	}
	ot.MarkOk()
	return ot.GetState() == TrackStateOk
}

// MarkSubscriberDelete marks a consumer's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(pid domain.ProducerID, cid domain.ConsumerID) {
	if ot, ok := m.outTrack(pid, cid); ok {
		ot.MarkDelete()
	}
}

func (m *RelayManager) outTrack(pid domain.ProducerID, cid domain.ConsumerID) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[pid]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return relay.outTrack(cid)
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(pid domain.ProducerID) {
	m.mu.Lock()
	relay, ok := m.relays[pid]
	if ok {
		delete(m.relays, pid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// HasRelay reports whether a relay exists for pid.
func (m *RelayManager) HasRelay(pid domain.ProducerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[pid]
	return ok
}
