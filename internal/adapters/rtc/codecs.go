package rtc

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type codec struct {
	kind   domain.MediaKind
	params webrtc.RTPCodecParameters
}

var defaultCodecs = []codec{
	{
		kind: domain.KindAudio,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
	},
	{
		kind: domain.KindVideo,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		},
	},
	{
		kind: domain.KindVideo,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		},
	},
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func registerCodecs(m *webrtc.MediaEngine, codecs []codec) error {
	for _, c := range codecs {
		if err := m.RegisterCodec(c.params, codecType(c.kind)); err != nil {
			return fmt.Errorf("register %s: %w", c.params.MimeType, err)
		}
	}
	return nil
}

// capabilities is the router capability descriptor for the codec table.
func capabilities(codecs []codec) domain.RtpCapabilities {
	out := domain.RtpCapabilities{Codecs: make([]domain.RtpCodecCapability, 0, len(codecs))}
	for _, c := range codecs {
		out.Codecs = append(out.Codecs, domain.RtpCodecCapability{
			Kind:                 c.kind,
			MimeType:             c.params.MimeType,
			ClockRate:            c.params.ClockRate,
			Channels:             c.params.Channels,
			PreferredPayloadType: uint8(c.params.PayloadType),
			SDPFmtpLine:          c.params.SDPFmtpLine,
		})
	}
	return out
}
