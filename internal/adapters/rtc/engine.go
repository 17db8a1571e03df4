// Package rtc implements the SFU engine on top of pion's ORTC API: one
// ICE+DTLS transport per direction, an RTPReceiver per producer and an
// RTPSender per consumer, with RTP fanned out by sfu.RelayManager.
package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/sfu"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers    []string
	UDPPortMin    uint16
	UDPPortMax    uint16
	GatherTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		GatherTimeout: 2 * time.Second,
	}
}

type Engine struct {
	api           *webrtc.API
	iceServers    []webrtc.ICEServer
	gatherTimeout time.Duration
	codecs        []codec
}

var _ core.Engine = (*Engine)(nil)

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m, defaultCodecs); err != nil {
		return nil, err
	}

	s := webrtc.SettingEngine{}
	s.SetLite(true)
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := s.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}

	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		if url != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
		}
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultConfig().GatherTimeout
	}

	log.Info().Str("module", "rtc").Int("ice_servers", len(servers)).Uint16("udp_min", cfg.UDPPortMin).Uint16("udp_max", cfg.UDPPortMax).Msg("engine ready")
	return &Engine{
		api:           webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)),
		iceServers:    servers,
		gatherTimeout: cfg.GatherTimeout,
		codecs:        defaultCodecs,
	}, nil
}

func (e *Engine) NewRouter(context.Context) (core.Router, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &router{
		id:         domain.NewRouterID(),
		engine:     e,
		caps:       capabilities(e.codecs),
		relays:     sfu.NewRelayManager(),
		ctx:        ctx,
		cancel:     cancel,
		producers:  make(map[domain.ProducerID]*producer),
		transports: make(map[domain.TransportID]*transport),
	}
	log.Debug().Str("module", "rtc").Str("router", string(r.id)).Msg("router created")
	return r, nil
}
