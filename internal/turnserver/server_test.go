package turnserver

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/pion/turn/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		Port:         0,
		Realm:        "roomrelay",
		PublicIP:     "127.0.0.1",
		Users:        map[string]string{"alice": "secret"},
		Threads:      1,
		RelayPortMin: 50000,
		RelayPortMax: 50100,
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no realm", mutate: func(c *Config) { c.Realm = "" }},
		{name: "no users", mutate: func(c *Config) { c.Users = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	req := require.New(t)
	srv, err := New(testConfig(), zap.NewNop())
	req.NoError(err)
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4000}

	key, ok := srv.authenticate("alice", "roomrelay", src)
	req.True(ok)
	req.Equal(turn.GenerateAuthKey("alice", "roomrelay", "secret"), key)

	_, ok = srv.authenticate("mallory", "roomrelay", src)
	req.False(ok)
}

func TestStartAllocateStop(t *testing.T) {
	req := require.New(t)
	srv, err := New(testConfig(), zap.NewNop())
	req.NoError(err)
	req.Equal("stopped", srv.Stats().State)

	// Given a running server
	req.NoError(srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	req.Error(srv.Start(context.Background()))
	req.Equal("idle", srv.Stats().State)
	serverAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Addr().(*net.UDPAddr).Port))

	// When a client allocates a relay
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	req.NoError(err)
	defer conn.Close()
	client, err := turn.NewClient(&turn.ClientConfig{
		STUNServerAddr: serverAddr,
		TURNServerAddr: serverAddr,
		Conn:           conn,
		Username:       "alice",
		Password:       "secret",
		Realm:          "roomrelay",
	})
	req.NoError(err)
	defer client.Close()
	req.NoError(client.Listen())
	relayConn, err := client.Allocate()
	req.NoError(err)
	defer relayConn.Close()

	// Then the allocation is counted and uses the advertised address
	req.Equal(1, srv.Stats().ActiveAllocations)
	req.Equal("active", srv.Stats().State)
	relayAddr := relayConn.LocalAddr().(*net.UDPAddr)
	req.True(relayAddr.IP.Equal(net.IPv4(127, 0, 0, 1)))
	req.GreaterOrEqual(relayAddr.Port, 50000)
	req.LessOrEqual(relayAddr.Port, 50100)

	req.NoError(srv.Stop())
	req.Nil(srv.Addr())
	req.NoError(srv.Stop())
}
