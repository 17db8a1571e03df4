package call

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceCall/internal/client/activity"
	"github.com/dkeye/VoiceCall/internal/client/compositor"
	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog"
)

type remoteConsumer struct {
	id         domain.ConsumerID
	producerID domain.ProducerID
	peer       domain.PeerID
	kind       domain.MediaKind
	track      media.Track
}

// monitorOp is a speaking monitor change decided under the phone mutex and
// applied after it is released. A nil stream stops the loop.
type monitorOp struct {
	id     string
	stream *media.Stream
}

// resources are the media handles of one call. Fields are guarded by the
// phone's mutex while the call is current; teardown owns them afterwards.
type resources struct {
	device  Device
	monitor *activity.Monitor
	streams *compositor.Compositor

	// monitorOps is guarded by the phone mutex. monitorMu keeps the
	// application of queued ops in queue order.
	monitorOps []monitorOp
	monitorMu  sync.Mutex
	released   atomic.Bool

	local  *media.Stream
	send   SendTransport
	recv   RecvTransport
	joined bool

	producers       map[domain.ProducerID]LocalProducer
	consumers       map[domain.ConsumerID]*remoteConsumer
	byProducer      map[domain.ProducerID]domain.ConsumerID
	closedProducers map[domain.ProducerID]struct{}

	// new-producer events waiting for the setup goroutine
	pending []domain.ProducerInfo
	wake    chan struct{}

	once sync.Once
}

func newResources(device Device, monitor *activity.Monitor) *resources {
	return &resources{
		device:          device,
		monitor:         monitor,
		streams:         compositor.New(),
		producers:       make(map[domain.ProducerID]LocalProducer),
		consumers:       make(map[domain.ConsumerID]*remoteConsumer),
		byProducer:      make(map[domain.ProducerID]domain.ConsumerID),
		closedProducers: make(map[domain.ProducerID]struct{}),
		wake:            make(chan struct{}, 1),
	}
}

func (r *resources) enqueue(info domain.ProducerInfo) {
	r.pending = append(r.pending, info)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *resources) drain() []domain.ProducerInfo {
	out := r.pending
	r.pending = nil
	return out
}

func (r *resources) known(pid domain.ProducerID) bool {
	if _, ok := r.closedProducers[pid]; ok {
		return true
	}
	_, ok := r.byProducer[pid]
	return ok
}

func (r *resources) startMonitor(id string, s *media.Stream) {
	if r.monitor != nil && s != nil {
		r.monitorOps = append(r.monitorOps, monitorOp{id: id, stream: s})
	}
}

func (r *resources) stopMonitor(id string) {
	if r.monitor != nil {
		r.monitorOps = append(r.monitorOps, monitorOp{id: id})
	}
}

// applyMonitor runs ops taken from the queue. It must not be called with the
// phone mutex held: Monitor.Stop waits for a running OnChange callback.
func (r *resources) applyMonitor(ops []monitorOp) {
	for _, op := range ops {
		if op.stream == nil {
			r.monitor.Stop(op.id)
			continue
		}
		if r.released.Load() {
			continue
		}
		r.monitor.Start(op.id, op.stream)
		// teardown may have snapshotted the loops before this start
		if r.released.Load() {
			r.monitor.Stop(op.id)
		}
	}
}

// attach records a bound consumer and returns the peer's composite stream. A
// consumer of the same peer and kind is replaced and its track stopped.
func (r *resources) attach(info domain.ConsumerInfo, track media.Track) *media.Stream {
	for cid, c := range r.consumers {
		if c.peer != info.PeerID || c.kind != info.Kind {
			continue
		}
		c.track.Stop()
		delete(r.consumers, cid)
		delete(r.byProducer, c.producerID)
	}
	r.consumers[info.ID] = &remoteConsumer{
		id:         info.ID,
		producerID: info.ProducerID,
		peer:       info.PeerID,
		kind:       info.Kind,
		track:      track,
	}
	r.byProducer[info.ProducerID] = info.ID
	stream := r.streams.AttachTrack(info.PeerID, track)
	if info.Kind == domain.KindAudio {
		r.stopMonitor(string(info.PeerID))
	}
	r.startMonitor(string(info.PeerID), stream)
	return stream
}

// dropProducer removes the consumer fed by pid. It returns the affected peer
// and its stream, nil when the stream is gone.
func (r *resources) dropProducer(pid domain.ProducerID) (domain.PeerID, *media.Stream, bool) {
	r.closedProducers[pid] = struct{}{}
	cid, ok := r.byProducer[pid]
	if !ok {
		return "", nil, false
	}
	c := r.consumers[cid]
	delete(r.byProducer, pid)
	delete(r.consumers, cid)
	c.track.Stop()

	id := string(c.peer)
	if !r.streams.RemoveTrack(c.peer, c.track.ID()) {
		r.stopMonitor(id)
		return c.peer, nil, true
	}
	stream, _ := r.streams.Stream(c.peer)
	if c.kind == domain.KindAudio {
		r.stopMonitor(id)
		r.startMonitor(id, stream)
	}
	return c.peer, stream, true
}

// teardown releases everything in order and reports the peers whose remote
// streams went away. Later calls do nothing.
func (r *resources) teardown(logger zerolog.Logger) []domain.PeerID {
	var gone []domain.PeerID
	r.once.Do(func() {
		r.released.Store(true)
		swallow(logger, "activity monitor", func() {
			if r.monitor != nil {
				r.monitor.StopAll()
			}
		})
		if r.local != nil {
			swallow(logger, "local media", r.local.Stop)
		}
		for _, p := range r.producers {
			swallow(logger, "producer", p.Close)
		}
		for _, c := range r.consumers {
			swallow(logger, "consumer track", c.track.Stop)
		}
		if r.send != nil {
			swallow(logger, "send transport", r.send.Close)
		}
		if r.recv != nil {
			swallow(logger, "recv transport", r.recv.Close)
		}

		gone = r.streams.Peers()
		r.streams.Clear()
		r.producers = make(map[domain.ProducerID]LocalProducer)
		r.consumers = make(map[domain.ConsumerID]*remoteConsumer)
		r.byProducer = make(map[domain.ProducerID]domain.ConsumerID)
		r.closedProducers = make(map[domain.ProducerID]struct{})
		r.pending = nil
		logger.Debug().Int("remote_peers", len(gone)).Msg("call resources released")
	})
	return gone
}

func swallow(logger zerolog.Logger, what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn().Interface("panic", rec).Str("step", what).Msg("teardown step failed")
		}
	}()
	fn()
}
