package app

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.PeerSession
	Cancel  context.CancelFunc
}

// Registry tracks online signaling connections and who is in a call with
// whom.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]*sessionEntry
	// symmetric: calls[a] == b iff calls[b] == a
	calls map[domain.PeerID]domain.PeerID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.PeerID]*sessionEntry),
		calls:    make(map[domain.PeerID]domain.PeerID),
	}
}

// BindSignal registers a connection for the peer. A connection already bound
// to the same id is returned so the caller can shut it down.
func (r *Registry) BindSignal(sess core.PeerSession, cancel context.CancelFunc) (core.PeerSession, context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := sess.ID()
	old, replaced := r.sessions[id]
	r.sessions[id] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Bool("replaced", replaced).Msg("bound signal")
	if replaced {
		return old.Session, old.Cancel, true
	}
	return nil, nil, false
}

func (r *Registry) GetSession(id domain.PeerID) (core.PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes the peer if sess is still its current connection. It
// reports whether anything was removed.
func (r *Registry) Unbind(sess core.PeerSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := sess.ID()
	e, ok := r.sessions[id]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("unbind session")
	return true
}

// Cancel stops the pumps of sess if it is still the bound connection of
// its peer.
func (r *Registry) Cancel(sess core.PeerSession) bool {
	id := sess.ID()
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || e.Session != sess {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("canceled session")
	return true
}

func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Pair records a call between a and b unless b is already in a call with
// someone else. Any previous call of a is dropped.
func (r *Registry) Pair(a, b domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.calls[b]; ok && other != a {
		return false
	}
	r.unpairLocked(a)
	r.calls[a] = b
	r.calls[b] = a
	log.Debug().Str("module", "app.registry").Str("a", string(a)).Str("b", string(b)).Msg("call paired")
	return true
}

// Unpair forgets the call of id and returns the former partner.
func (r *Registry) Unpair(id domain.PeerID) (domain.PeerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unpairLocked(id)
}

// UnpairIf forgets the call only if id is paired with partner.
func (r *Registry) UnpairIf(id, partner domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls[id] != partner {
		return false
	}
	r.unpairLocked(id)
	return true
}

func (r *Registry) unpairLocked(id domain.PeerID) (domain.PeerID, bool) {
	other, ok := r.calls[id]
	if !ok {
		return "", false
	}
	delete(r.calls, id)
	if r.calls[other] == id {
		delete(r.calls, other)
	}
	return other, true
}

func (r *Registry) PartnerOf(id domain.PeerID) (domain.PeerID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	other, ok := r.calls[id]
	return other, ok
}
