package rtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceCall/internal/domain"
)

func TestRouterCapabilities(t *testing.T) {
	e, err := NewEngine(Config{UDPPortMin: 40000, UDPPortMax: 40100})
	require.NoError(t, err)

	r, err := e.NewRouter(context.Background())
	require.NoError(t, err)
	defer r.Close()

	caps := r.Capabilities()
	require.NoError(t, caps.Validate())
	assert.True(t, caps.CanProduce(domain.KindAudio))
	assert.True(t, caps.CanProduce(domain.KindVideo))

	_, ok := caps.Match(domain.RtpCodecParameters{MimeType: "audio/opus", ClockRate: 48000, Channels: 2})
	assert.True(t, ok)

	assert.False(t, r.CanConsume("missing", caps))
}

func TestClosedRouterRefusesTransports(t *testing.T) {
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	r, err := e.NewRouter(context.Background())
	require.NoError(t, err)

	r.Close()
	r.Close()
	_, err = r.CreateTransport(context.Background(), domain.DirectionSend)
	assert.ErrorIs(t, err, errRouterClosed)
}

func TestCandidateConversion(t *testing.T) {
	in := []domain.IceCandidate{{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "192.0.2.1",
		Protocol:   "udp",
		Port:       40001,
		Type:       "host",
	}}
	out, err := candidatesFromDomain(in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, webrtc.ICEProtocolUDP, out[0].Protocol)
	assert.Equal(t, webrtc.ICECandidateTypeHost, out[0].Typ)
	assert.Equal(t, in, candidatesToDomain(out))

	_, err = candidatesFromDomain([]domain.IceCandidate{{Protocol: "sctp", Type: "host"}})
	assert.ErrorIs(t, err, domain.ErrBadPayload)
}

func TestDTLSConversion(t *testing.T) {
	_, err := dtlsFromDomain(domain.DtlsParameters{})
	assert.ErrorIs(t, err, domain.ErrBadPayload)

	p, err := dtlsFromDomain(domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
	})
	require.NoError(t, err)
	assert.Equal(t, webrtc.DTLSRoleClient, p.Role)

	p, err = dtlsFromDomain(domain.DtlsParameters{Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}}})
	require.NoError(t, err)
	assert.Equal(t, webrtc.DTLSRoleAuto, p.Role)
}
