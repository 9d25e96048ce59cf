package main

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/roomrelay/internal/config"
)

func TestBuildICEServers(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.WebRTCConfig
		want []webrtc.ICEServer
	}{
		{
			name: "stun only",
			cfg:  config.WebRTCConfig{ICEServers: "stun:a:3478, stun:b:3478"},
			want: []webrtc.ICEServer{{URLs: []string{"stun:a:3478", "stun:b:3478"}}},
		},
		{
			name: "turn gets credentials",
			cfg: config.WebRTCConfig{
				ICEServers:  "stun:a:3478,turn:t:3478?transport=udp,turns:t:5349",
				ICEUsername: "alice",
				ICEPassword: "secret",
			},
			want: []webrtc.ICEServer{
				{URLs: []string{"stun:a:3478"}},
				{URLs: []string{"turn:t:3478?transport=udp", "turns:t:5349"}, Username: "alice", Credential: "secret"},
			},
		},
		{name: "none", cfg: config.WebRTCConfig{}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, buildICEServers(tt.cfg))
		})
	}
}

func TestEmbeddedTURNURL(t *testing.T) {
	tests := []struct {
		name     string
		turnIP   string
		publicIP string
		want     string
	}{
		{name: "turn address wins", turnIP: "203.0.113.5", publicIP: "198.51.100.1", want: "turn:203.0.113.5:3478?transport=udp"},
		{name: "falls back to public ip", publicIP: "198.51.100.1", want: "turn:198.51.100.1:3478?transport=udp"},
		{name: "ipv6", turnIP: "2001:db8::1", want: "turn:[2001:db8::1]:3478?transport=udp"},
		{name: "unknown address", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.TURN.PublicAddress = tt.turnIP
			cfg.WebRTC.PublicIP = tt.publicIP
			require.Equal(t, tt.want, embeddedTURNURL(cfg))
		})
	}
}
