// Package media implements the relay engine on top of pion/webrtc.
package media

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/relay"
)

// Config controls how peer connections are built.
type Config struct {
	ICEServers []webrtc.ICEServer
	// PublicIPs are advertised as host candidates when the server sits behind
	// a 1:1 NAT.
	PublicIPs  []string
	UDPPortMin uint16
	UDPPortMax uint16
	// PLIInterval is how often publishers are asked for a keyframe.
	PLIInterval time.Duration
}

// Engine builds receiver and sender peer connections that share one codec
// and interceptor setup.
type Engine struct {
	api      *webrtc.API
	pcConfig webrtc.Configuration
	log      *zap.Logger
}

// NewEngine prepares the pion API.
func NewEngine(cfg Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}
	if cfg.PLIInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(cfg.PLIInterval))
		if err != nil {
			return nil, fmt.Errorf("failed to create PLI interceptor: %w", err)
		}
		registry.Add(pli)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("invalid UDP port range: %w", err)
		}
	}
	if len(cfg.PublicIPs) > 0 {
		settingEngine.SetNAT1To1IPs(cfg.PublicIPs, webrtc.ICECandidateTypeHost)
	}
	settingEngine.SetICETimeouts(
		5*time.Second,  // disconnected
		25*time.Second, // failed
		2*time.Second,  // keep-alive
	)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)

	return &Engine{
		api: api,
		pcConfig: webrtc.Configuration{
			ICEServers:         cfg.ICEServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
			BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		},
		log: log.Named("media"),
	}, nil
}

// NewPeer creates a peer connection for the given relay kind.
func (e *Engine) NewPeer(kind relay.Kind) (relay.Peer, error) {
	pc, err := e.api.NewPeerConnection(e.pcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peer{
		kind: kind,
		pc:   pc,
		log:  e.log.With(zap.Stringer("kind", kind)),
	}
	if kind == relay.KindReceiver {
		p.stream = newStream(pc)
		pc.OnTrack(p.handleTrack)
	}
	return p, nil
}
