// Package activity derives a speaking flag per participant from the audio
// energy of their stream.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	MaxInterval      = 20 * time.Millisecond
	DefaultThreshold = 12.0
	defaultBins      = 128
)

// Analyser exposes the frequency-domain magnitudes of a track, 0..255 per
// bin.
type Analyser interface {
	ByteFrequencyData(dst []uint8)
	Close()
}

type AnalyserFactory interface {
	NewAnalyser(track media.Track) (Analyser, error)
}

type Options struct {
	Interval  time.Duration
	Threshold float64
	// OnChange receives edges only, from the sampling goroutine.
	OnChange func(id string, speaking bool)
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	speaking bool
}

type Monitor struct {
	factory   AnalyserFactory
	interval  time.Duration
	threshold float64
	onChange  func(string, bool)
	logger    zerolog.Logger

	mu    sync.Mutex
	loops map[string]*loop
}

func NewMonitor(factory AnalyserFactory, opts Options) *Monitor {
	if opts.Interval <= 0 || opts.Interval > MaxInterval {
		opts.Interval = MaxInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Monitor{
		factory:   factory,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		onChange:  opts.OnChange,
		logger:    log.With().Str("module", "client.activity").Logger(),
		loops:     make(map[string]*loop),
	}
}

// Start begins sampling the stream's first audio track. It does nothing if
// id is already monitored or the stream has no audio. The analysed track is
// a clone; the caller's track is never stopped here.
func (m *Monitor) Start(id string, stream *media.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loops[id]; ok {
		return
	}
	track, ok := stream.First(domain.KindAudio)
	if !ok {
		return
	}
	clone := track.Clone()
	analyser, err := m.factory.NewAnalyser(clone)
	if err != nil {
		clone.Stop()
		m.logger.Warn().Err(err).Str("id", id).Msg("analyser unavailable")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	m.loops[id] = l
	go m.run(ctx, id, l, analyser, clone)
}

func (m *Monitor) run(ctx context.Context, id string, l *loop, analyser Analyser, clone media.Track) {
	defer func() {
		analyser.Close()
		clone.Stop()
		close(l.done)
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	bins := make([]uint8, defaultBins)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			analyser.ByteFrequencyData(bins)
			speaking := Energy(bins) > m.threshold

			l.mu.Lock()
			changed := speaking != l.speaking
			l.speaking = speaking
			l.mu.Unlock()
			if changed && ctx.Err() == nil && m.onChange != nil {
				m.onChange(id, speaking)
			}
		}
	}
}

// Stop cancels the loop for id and waits until its resources are released.
func (m *Monitor) Stop(id string) {
	m.mu.Lock()
	l, ok := m.loops[id]
	delete(m.loops, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

func (m *Monitor) StopAll() {
	m.mu.Lock()
	loops := m.loops
	m.loops = make(map[string]*loop)
	m.mu.Unlock()
	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

// Speaking reports the current flag for id; ok is false when id is not
// monitored.
func (m *Monitor) Speaking(id string) (speaking, ok bool) {
	m.mu.Lock()
	l, ok := m.loops[id]
	m.mu.Unlock()
	if !ok {
		return false, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speaking, true
}

func (m *Monitor) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[id]
	return ok
}

// Energy is the mean bin magnitude.
func Energy(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}
