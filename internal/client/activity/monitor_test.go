package activity

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/client/media/mediatest"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type fakeAnalyser struct {
	track  *mediatest.Track
	closed atomic.Bool
}

func (a *fakeAnalyser) ByteFrequencyData(dst []uint8) {
	level := uint8(a.track.Source().Level.Load())
	for i := range dst {
		dst[i] = level
	}
}

func (a *fakeAnalyser) Close() { a.closed.Store(true) }

type fakeFactory struct {
	mu        sync.Mutex
	analysers []*fakeAnalyser
	fail      bool
}

func (f *fakeFactory) NewAnalyser(t media.Track) (Analyser, error) {
	if f.fail {
		return nil, errors.New("no audio context")
	}
	a := &fakeAnalyser{track: t.(*mediatest.Track)}
	f.mu.Lock()
	f.analysers = append(f.analysers, a)
	f.mu.Unlock()
	return a, nil
}

type edges struct {
	mu  sync.Mutex
	got []bool
}

func (e *edges) record(_ string, speaking bool) {
	e.mu.Lock()
	e.got = append(e.got, speaking)
	e.mu.Unlock()
}

func (e *edges) snapshot() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.got...)
}

func TestEdgeTriggered(t *testing.T) {
	f := &fakeFactory{}
	e := &edges{}
	m := NewMonitor(f, Options{Interval: 2 * time.Millisecond, OnChange: e.record})

	mic := mediatest.NewTrack(domain.KindAudio)
	m.Start("alice", media.NewStream("s", mic))

	mic.Level.Store(200)
	require.Eventually(t, func() bool { s, _ := m.Speaking("alice"); return s }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mic.Level.Store(0)
	require.Eventually(t, func() bool { s, _ := m.Speaking("alice"); return !s }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []bool{true, false}, e.snapshot(), "one callback per transition")
	m.Stop("alice")
}

func TestStopReleasesCloneOnly(t *testing.T) {
	f := &fakeFactory{}
	m := NewMonitor(f, Options{Interval: time.Millisecond})
	mic := mediatest.NewTrack(domain.KindAudio)
	m.Start("alice", media.NewStream("s", mic))
	require.True(t, m.Running("alice"))

	m.Stop("alice")
	require.Len(t, f.analysers, 1)
	a := f.analysers[0]
	assert.True(t, a.closed.Load())
	assert.True(t, a.track.Stopped(), "clone is stopped")
	assert.False(t, mic.Stopped(), "original is untouched")
	_, ok := m.Speaking("alice")
	assert.False(t, ok)
	m.Stop("alice")
}

func TestStartIsNoOpWithoutAudioOrTwice(t *testing.T) {
	f := &fakeFactory{}
	m := NewMonitor(f, Options{})
	assert.Equal(t, MaxInterval, m.interval)

	m.Start("cam", media.NewStream("s", mediatest.NewTrack(domain.KindVideo)))
	assert.False(t, m.Running("cam"))

	s := media.NewStream("s", mediatest.NewTrack(domain.KindAudio))
	m.Start("alice", s)
	m.Start("alice", s)
	assert.Len(t, f.analysers, 1)
	m.StopAll()
	assert.False(t, m.Running("alice"))
}

func TestAnalyserFailureIsNotFatal(t *testing.T) {
	m := NewMonitor(&fakeFactory{fail: true}, Options{})
	m.Start("alice", media.NewStream("s", mediatest.NewTrack(domain.KindAudio)))
	assert.False(t, m.Running("alice"))
}

func TestEnergy(t *testing.T) {
	assert.Equal(t, 0.0, Energy(nil))
	assert.Equal(t, 15.0, Energy([]uint8{10, 20}))
}
