package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateRoomNameIsSymmetric(t *testing.T) {
	a := PrivateRoomName("alice", "bob")
	b := PrivateRoomName("bob", "alice")
	assert.Equal(t, a, b)
	assert.Equal(t, RoomName("call:alice+bob"), a)
	assert.NotEqual(t, a, PrivateRoomName("alice", "carol"))
}

func TestRoomNameValidate(t *testing.T) {
	assert.ErrorIs(t, RoomName("").Validate(), ErrRoomNameEmpty)
	long := make([]byte, MaxRoomNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, RoomName(long).Validate(), ErrRoomNameTooLong)
	assert.NoError(t, RoomName("r1").Validate())
}

func TestCapabilitiesValidate(t *testing.T) {
	good := RtpCapabilities{Codecs: []RtpCodecCapability{
		{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: KindVideo, MimeType: "video/VP8", ClockRate: 90000},
	}}
	require.NoError(t, good.Validate())

	assert.ErrorIs(t, RtpCapabilities{}.Validate(), ErrCapabilityMismatch)

	wrongKind := RtpCapabilities{Codecs: []RtpCodecCapability{{Kind: KindVideo, MimeType: "audio/opus", ClockRate: 48000}}}
	assert.ErrorIs(t, wrongKind.Validate(), ErrCapabilityMismatch)

	noClock := RtpCapabilities{Codecs: []RtpCodecCapability{{Kind: KindAudio, MimeType: "audio/opus"}}}
	assert.ErrorIs(t, noClock.Validate(), ErrCapabilityMismatch)
}

func TestCapabilitiesMatch(t *testing.T) {
	caps := RtpCapabilities{Codecs: []RtpCodecCapability{
		{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}

	_, ok := caps.Match(RtpCodecParameters{MimeType: "audio/OPUS", ClockRate: 48000, Channels: 2})
	assert.True(t, ok)

	_, ok = caps.Match(RtpCodecParameters{MimeType: "audio/opus", ClockRate: 48000, Channels: 1})
	assert.False(t, ok)

	_, ok = caps.Match(RtpCodecParameters{MimeType: "video/VP8", ClockRate: 90000})
	assert.False(t, ok)

	assert.True(t, caps.CanProduce(KindAudio))
	assert.False(t, caps.CanProduce(KindVideo))
}

func TestErrorCodesSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("consume: %w", ErrIncompatibleCapabilities)
	code := ErrorCode(wrapped)
	assert.Equal(t, "incompatible-capabilities", code)
	assert.True(t, errors.Is(ErrorFromCode(code), ErrIncompatibleCapabilities))

	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
	assert.Nil(t, ErrorFromCode("no-such-code"))
}
