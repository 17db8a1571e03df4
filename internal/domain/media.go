package domain

import (
	"fmt"
	"strings"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// MediaRole is an application tag on a producer ("mic", "camera", ...).
type MediaRole string

const (
	RoleMic    MediaRole = "mic"
	RoleCamera MediaRole = "camera"
)

// Direction of a transport. Fixed at creation.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func DirectionOf(isSender bool) Direction {
	if isSender {
		return DirectionSend
	}
	return DirectionRecv
}

type RtpCodecCapability struct {
	Kind                 MediaKind `json:"kind"`
	MimeType             string    `json:"mimeType"`
	ClockRate            uint32    `json:"clockRate"`
	Channels             uint16    `json:"channels,omitempty"`
	PreferredPayloadType uint8     `json:"preferredPayloadType,omitempty"`
	SDPFmtpLine          string    `json:"sdpFmtpLine,omitempty"`
}

// RtpCapabilities is the capability descriptor of a room's router, and also
// what a client device reports back when it subscribes.
type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

func (c RtpCapabilities) Validate() error {
	if len(c.Codecs) == 0 {
		return fmt.Errorf("%w: no codecs", ErrCapabilityMismatch)
	}
	for _, codec := range c.Codecs {
		if !codec.Kind.Valid() {
			return fmt.Errorf("%w: codec %q has kind %q", ErrCapabilityMismatch, codec.MimeType, codec.Kind)
		}
		if !strings.HasPrefix(strings.ToLower(codec.MimeType), string(codec.Kind)+"/") {
			return fmt.Errorf("%w: mime type %q does not match kind %q", ErrCapabilityMismatch, codec.MimeType, codec.Kind)
		}
		if codec.ClockRate == 0 {
			return fmt.Errorf("%w: codec %q has no clock rate", ErrCapabilityMismatch, codec.MimeType)
		}
	}
	return nil
}

// Match returns the capability entry that can carry the given codec.
func (c RtpCapabilities) Match(codec RtpCodecParameters) (RtpCodecCapability, bool) {
	for _, entry := range c.Codecs {
		if !strings.EqualFold(entry.MimeType, codec.MimeType) || entry.ClockRate != codec.ClockRate {
			continue
		}
		if entry.Kind == KindAudio && entry.Channels != 0 && codec.Channels != 0 && entry.Channels != codec.Channels {
			continue
		}
		return entry, true
	}
	return RtpCodecCapability{}, false
}

// CanProduce reports whether at least one codec of the kind is available.
func (c RtpCapabilities) CanProduce(kind MediaKind) bool {
	for _, codec := range c.Codecs {
		if codec.Kind == kind {
			return true
		}
	}
	return false
}

type RtpCodecParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
}

type RtpEncoding struct {
	SSRC uint32 `json:"ssrc"`
	RID  string `json:"rid,omitempty"`
}

type RtpParameters struct {
	MID       string               `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters `json:"codecs"`
	Encodings []RtpEncoding        `json:"encodings"`
}

// PrimaryCodec is the codec the stream is sent with.
func (p RtpParameters) PrimaryCodec() (RtpCodecParameters, bool) {
	if len(p.Codecs) == 0 {
		return RtpCodecParameters{}, false
	}
	return p.Codecs[0], true
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// HandshakeParams is what a freshly created transport hands to the client.
type HandshakeParams struct {
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

// ConnectParams is what the client sends back to connect a transport.
type ConnectParams struct {
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
	IceParameters  *IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []IceCandidate `json:"iceCandidates,omitempty"`
}

type ProduceParams struct {
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
	MediaRole     MediaRole     `json:"mediaRole"`
}

type TransportInfo struct {
	ID        TransportID `json:"id"`
	Direction Direction   `json:"direction"`
	HandshakeParams
}

type ConsumerInfo struct {
	ID            ConsumerID    `json:"consumerId"`
	ProducerID    ProducerID    `json:"producerId"`
	PeerID        PeerID        `json:"peerId"`
	Kind          MediaKind     `json:"kind"`
	MediaRole     MediaRole     `json:"mediaRole"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}
