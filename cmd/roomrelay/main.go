package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/api"
	"github.com/mikeyg42/roomrelay/internal/audit"
	"github.com/mikeyg42/roomrelay/internal/config"
	"github.com/mikeyg42/roomrelay/internal/logging"
	"github.com/mikeyg42/roomrelay/internal/media"
	"github.com/mikeyg42/roomrelay/internal/relay"
	"github.com/mikeyg42/roomrelay/internal/rooms"
	"github.com/mikeyg42/roomrelay/internal/sfu"
	sig "github.com/mikeyg42/roomrelay/internal/signal"
	"github.com/mikeyg42/roomrelay/internal/turnserver"
)

func main() {
	envFile := flag.String("env", "", "optional env file to load before reading the environment")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) (err error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}

	log, restoreLog, err := logging.Install(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer restoreLog()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := newAuditRecorder(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, recorder.Close(flushCtx))
	}()

	var turn *turnserver.Server
	if cfg.TURN.Enabled {
		turn, err = startTURN(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, turn.Stop()) }()
	}

	iceConfig := cfg.WebRTC
	if turn != nil {
		if u := embeddedTURNURL(cfg); u != "" {
			iceConfig.ICEServers += "," + u
		}
	}
	iceServers := buildICEServers(iceConfig)
	var publicIPs []string
	if cfg.WebRTC.PublicIP != "" {
		publicIPs = []string{cfg.WebRTC.PublicIP}
	}
	engine, err := media.NewEngine(media.Config{
		ICEServers:  iceServers,
		PublicIPs:   publicIPs,
		UDPPortMin:  uint16(cfg.WebRTC.UDPPortMin),
		UDPPortMax:  uint16(cfg.WebRTC.UDPPortMax),
		PLIInterval: cfg.WebRTC.PLIInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}

	roomReg := rooms.NewRegistry(log)
	relays := relay.NewRegistry(engine, roomReg, relay.Config{
		HandshakeTimeout:   cfg.Session.HandshakeTimeout,
		CandidateQueueSize: cfg.Session.CandidateQueueSize,
	}, log)
	hub := sig.NewHub(log)
	sessions := sfu.New(sfu.Config{
		MailboxSize:        cfg.Session.MailboxSize,
		CandidateQueueSize: cfg.Session.CandidateQueueSize,
	}, roomReg, relays, hub, recorder, log)

	var turnStatus api.TURNStatus
	if turn != nil {
		turnStatus = turn
	}
	server := api.NewServer(api.Options{
		Addr:              cfg.Addr(),
		AllowedOrigins:    cfg.Origins(),
		ICEServers:        iceServers,
		ConnectRate:       cfg.Session.ConnectRate,
		ConnectRateWindow: cfg.Session.ConnectRateWindow,
	}, hub, sessions, roomReg, turnStatus, log)
	serveErr := server.StartInBackground()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(serr))
	}
	if cerr := sessions.Close(); cerr != nil {
		log.Warn("Some relays failed to close", zap.Error(cerr))
	}
	log.Info("Program stopped cleanly")
	return nil
}

func newAuditRecorder(ctx context.Context, cfg *config.Config, log *zap.Logger) (*audit.Recorder, error) {
	if cfg.AuditDSN == "" {
		return audit.NewRecorder(audit.NewLogSink(log), 1024, log), nil
	}
	sink, err := audit.NewPostgresSink(ctx, cfg.AuditDSN, log)
	if err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	return audit.NewRecorder(sink, 1024, log), nil
}

func startTURN(ctx context.Context, cfg *config.Config, log *zap.Logger) (*turnserver.Server, error) {
	users, err := cfg.TURN.Credentials()
	if err != nil {
		return nil, err
	}
	publicIP := cfg.TURN.PublicAddress
	if publicIP == "" {
		publicIP = cfg.WebRTC.PublicIP
	}
	turn, err := turnserver.New(turnserver.Config{
		Port:         cfg.TURN.Port,
		Realm:        cfg.TURN.Realm,
		PublicIP:     publicIP,
		Users:        users,
		Threads:      cfg.TURN.Threads,
		RelayPortMin: uint16(cfg.TURN.RelayPortMin),
		RelayPortMax: uint16(cfg.TURN.RelayPortMax),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("turn server: %w", err)
	}
	if err := turn.Start(ctx); err != nil {
		return nil, fmt.Errorf("turn server: %w", err)
	}
	return turn, nil
}

// embeddedTURNURL is the URL clients use to reach the embedded TURN server,
// or "" when no public address is configured.
func embeddedTURNURL(cfg *config.Config) string {
	host := cfg.TURN.PublicAddress
	if host == "" {
		host = cfg.WebRTC.PublicIP
	}
	if host == "" {
		return ""
	}
	return "turn:" + net.JoinHostPort(host, strconv.Itoa(cfg.TURN.Port)) + "?transport=udp"
}

// buildICEServers attaches the configured credentials to TURN URLs only;
// STUN servers take none.
func buildICEServers(cfg config.WebRTCConfig) []webrtc.ICEServer {
	var stun, turn []string
	for _, u := range cfg.URLs() {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			turn = append(turn, u)
		} else {
			stun = append(stun, u)
		}
	}

	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   cfg.ICEUsername,
			Credential: cfg.ICEPassword,
		})
	}
	return servers
}
