package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource chan *rtp.Packet

func (s chanSource) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-s
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

type recordingSink struct {
	mu   sync.Mutex
	seqs []uint16
	fail bool
}

func (s *recordingSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("closed pipe")
	}
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seqs)
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq, PayloadType: 111}, Payload: []byte{0x1}}
}

func TestPausedSubscriberGetsNothingUntilResumed(t *testing.T) {
	m := NewRelayManager()
	src := make(chanSource)
	m.StartRelay(context.Background(), "p1", src)

	sink := &recordingSink{}
	require.True(t, m.AddSubscriber("p1", "c1", sink))

	src <- packet(1)
	src <- packet(2)
	assert.Equal(t, 0, sink.count())

	require.True(t, m.ResumeSubscriber("p1", "c1"))
	src <- packet(3)
	src <- packet(4)
	assert.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)

	m.StopRelay("p1")
	assert.False(t, m.HasRelay("p1"))
	assert.False(t, m.ResumeSubscriber("p1", "c1"))
	close(src)
}

func TestDeletedSubscriberIsNotResumed(t *testing.T) {
	m := NewRelayManager()
	src := make(chanSource)
	m.StartRelay(context.Background(), "p1", src)
	defer close(src)

	sink := &recordingSink{}
	require.True(t, m.AddSubscriber("p1", "c1", sink))
	m.MarkSubscriberDelete("p1", "c1")
	assert.False(t, m.ResumeSubscriber("p1", "c1"))
}

func TestAddSubscriberWithoutRelay(t *testing.T) {
	m := NewRelayManager()
	assert.False(t, m.AddSubscriber("nope", "c1", &recordingSink{}))
}

func TestFailingSinkIsDropped(t *testing.T) {
	src := make(chanSource)
	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(src, cancel)
	logger := zerolog.Nop()
	go relay.loop(ctx, &logger)

	good := &recordingSink{}
	bad := &recordingSink{fail: true}
	relay.AddOutTrack("good", NewOutTrack(good))
	relay.AddOutTrack("bad", NewOutTrack(bad))

	src <- packet(1)
	src <- packet(2)

	assert.Eventually(t, func() bool { return relay.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	close(src)
	<-relay.done
	assert.Equal(t, 0, relay.Subscribers(), "source end deletes every out track")
	assert.GreaterOrEqual(t, good.count(), 1)
}

func TestOutTrackStates(t *testing.T) {
	ot := NewPausedOutTrack(&recordingSink{})
	assert.Equal(t, TrackStateMuted, ot.GetState())
	assert.True(t, ot.MarkOk())
	ot.MarkMuted()
	assert.Equal(t, TrackStateMuted, ot.GetState())
	ot.MarkDelete()
	assert.False(t, ot.MarkOk())
	ot.MarkMuted()
	assert.Equal(t, TrackStateDelete, ot.GetState())
}
