// Package turnserver runs an embedded TURN relay so that clients behind
// restrictive NATs can still reach the media relays.
package turnserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/turn/v4"
	"go.uber.org/zap"
)

// Config describes the listener and the long-term credentials.
type Config struct {
	Port     int
	Realm    string
	PublicIP string
	// Users maps user names to passwords.
	Users        map[string]string
	Threads      int
	RelayPortMin uint16
	RelayPortMax uint16
}

type Stats struct {
	ActiveAllocations int           `json:"activeAllocations"`
	Uptime            time.Duration `json:"uptime"`
	State             string        `json:"state"`
}

// Server wraps a pion TURN server with start/stop bookkeeping.
type Server struct {
	cfg  Config
	keys map[string][]byte
	log  *zap.Logger

	mu        sync.RWMutex
	server    *turn.Server
	conns     []net.PacketConn
	startTime time.Time
}

// New validates cfg and precomputes the auth keys. Nothing is bound until
// Start.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Realm == "" {
		return nil, errors.New("turn realm is required")
	}
	if len(cfg.Users) == 0 {
		return nil, errors.New("turn needs at least one user")
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if !reusePortSupported && cfg.Threads > 1 {
		log.Warn("SO_REUSEPORT unavailable, using a single TURN listener", zap.Int("requested", cfg.Threads))
		cfg.Threads = 1
	}

	keys := make(map[string][]byte, len(cfg.Users))
	for user, pass := range cfg.Users {
		keys[user] = turn.GenerateAuthKey(user, cfg.Realm, pass)
	}
	return &Server{cfg: cfg, keys: keys, log: log.Named("turn")}, nil
}

func (s *Server) authenticate(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	key, ok := s.keys[username]
	if !ok {
		s.log.Debug("Unknown TURN user", zap.String("user", username), zap.Stringer("src", srcAddr))
	}
	return key, ok
}

func (s *Server) relayGenerator() (*turn.RelayAddressGeneratorPortRange, error) {
	ip := net.ParseIP(s.cfg.PublicIP)
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}
	gen := &turn.RelayAddressGeneratorPortRange{
		RelayAddress: ip,        // advertised to clients
		Address:      "0.0.0.0", // bound locally
		MinPort:      s.cfg.RelayPortMin,
		MaxPort:      s.cfg.RelayPortMax,
	}
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay address range: %w", err)
	}
	return gen, nil
}

// listen binds one UDP socket per thread. Binding is retried briefly since a
// previous instance may still hold the port.
func (s *Server) listen(ctx context.Context) ([]net.PacketConn, error) {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(s.cfg.Port))
	lc := listenConfig()

	var conns []net.PacketConn
	bind := func() error {
		conn, err := lc.ListenPacket(ctx, "udp4", addr)
		if err != nil {
			s.log.Warn("TURN bind failed, retrying", zap.String("addr", addr), zap.Error(err))
			return err
		}
		conns = append(conns, conn)
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 100 * time.Millisecond
	ebo.MaxElapsedTime = 3 * time.Second
	for i := 0; i < s.cfg.Threads; i++ {
		ebo.Reset()
		if err := backoff.Retry(bind, backoff.WithContext(ebo, ctx)); err != nil {
			closeConns(conns)
			return nil, fmt.Errorf("failed to allocate UDP listener at %s: %w", addr, err)
		}
	}
	return conns, nil
}

// Start binds the listeners and begins serving allocations.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("TURN server is already running")
	}

	gen, err := s.relayGenerator()
	if err != nil {
		return err
	}
	conns, err := s.listen(ctx)
	if err != nil {
		return err
	}

	configs := make([]turn.PacketConnConfig, len(conns))
	for i, conn := range conns {
		configs[i] = turn.PacketConnConfig{PacketConn: conn, RelayAddressGenerator: gen}
	}
	srv, err := turn.NewServer(turn.ServerConfig{
		Realm:             s.cfg.Realm,
		AuthHandler:       s.authenticate,
		PacketConnConfigs: configs,
	})
	if err != nil {
		closeConns(conns)
		return fmt.Errorf("failed to create TURN server: %w", err)
	}

	s.server = srv
	s.conns = conns
	s.startTime = time.Now()
	s.log.Info("TURN server started",
		zap.Stringer("addr", conns[0].LocalAddr()), zap.Int("listeners", len(conns)), zap.String("realm", s.cfg.Realm))
	return nil
}

// Stop closes the server. It is a no-op when the server is not running.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	s.conns = nil
	if err != nil {
		return fmt.Errorf("failed to close TURN server: %w", err)
	}
	s.log.Info("TURN server stopped")
	return nil
}

// Addr is the first listener's local address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[0].LocalAddr()
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return Stats{State: "stopped"}
	}
	st := Stats{
		ActiveAllocations: s.server.AllocationCount(),
		Uptime:            time.Since(s.startTime),
		State:             "idle",
	}
	if st.ActiveAllocations > 0 {
		st.State = "active"
	}
	return st
}

func closeConns(conns []net.PacketConn) {
	for _, c := range conns {
		_ = c.Close()
	}
}
