package media

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// VideoPresets are tried in order until one succeeds.
var VideoPresets = []VideoConstraints{
	{Width: 1280, Height: 720, FrameRate: 30},
	{Width: 640, Height: 480, FrameRate: 24},
	{FacingMode: "user"},
	{},
}

type Acquired struct {
	Stream       *Stream
	VideoEnabled bool
	// VideoUnavailable is set when video was wanted but only audio could
	// be captured.
	VideoUnavailable bool
}

// Acquire captures local media. With wantVideo it walks VideoPresets and
// settles for audio only when no preset works.
func Acquire(ctx context.Context, devices Devices, wantVideo bool) (Acquired, error) {
	logger := log.With().Str("module", "client.media").Logger()

	if wantVideo {
	presets:
		for i := range VideoPresets {
			preset := VideoPresets[i]
			stream, err := devices.GetUserMedia(ctx, Constraints{Audio: true, Video: &preset})
			if err == nil {
				logger.Debug().Int("preset", i).Msg("captured audio and video")
				return Acquired{Stream: stream, VideoEnabled: true}, nil
			}
			if ctx.Err() != nil {
				return Acquired{}, ctx.Err()
			}
			switch deviceErrorName(err) {
			case Overconstrained, NotFound, NotReadable:
				logger.Debug().Err(err).Int("preset", i).Msg("video preset failed")
			case NotAllowed:
				// camera denied; the microphone may still be allowed
				logger.Info().Err(err).Msg("video not allowed, trying audio only")
				break presets
			default:
				return Acquired{}, classify(err)
			}
		}
	}

	stream, err := devices.GetUserMedia(ctx, Constraints{Audio: true})
	if err != nil {
		return Acquired{}, classify(err)
	}
	if wantVideo {
		logger.Warn().Msg("video unavailable, continuing audio only")
	}
	return Acquired{Stream: stream, VideoUnavailable: wantVideo}, nil
}

func classify(err error) error {
	if deviceErrorName(err) == NotAllowed {
		return fmt.Errorf("%w: %v", domain.ErrMediaPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
}
