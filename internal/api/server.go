// Package api provides the HTTP server: the signaling WebSocket endpoint and
// a small JSON API for health, statistics and ICE configuration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/rooms"
	"github.com/mikeyg42/roomrelay/internal/sfu"
	"github.com/mikeyg42/roomrelay/internal/signal"
	"github.com/mikeyg42/roomrelay/internal/turnserver"
)

// Orchestrator is the part of the session server the API reads from.
type Orchestrator interface {
	signal.Handler
	Snapshot() sfu.Stats
}

// RoomLister lists live rooms.
type RoomLister interface {
	Summaries() []rooms.Summary
}

// TURNStatus reports on the embedded TURN server.
type TURNStatus interface {
	Stats() turnserver.Stats
}

// Options configures the HTTP server.
type Options struct {
	Addr string
	// AllowedOrigins restricts WebSocket and CORS origins. Empty allows any.
	AllowedOrigins    []string
	ICEServers        []webrtc.ICEServer
	ConnectRate       int
	ConnectRateWindow time.Duration
}

// Server is an HTTP API server
type Server struct {
	httpServer *http.Server
	hub        *signal.Hub
	sessions   Orchestrator
	rooms      RoomLister
	turn       TURNStatus
	opts       Options
	limiter    *ConnectLimiter
	upgrader   websocket.Upgrader
	log        *zap.Logger

	// ctx ends every WebSocket session on shutdown; hijacked connections are
	// not tracked by http.Server.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server. turn may be nil.
func NewServer(opts Options, hub *signal.Hub, sessions Orchestrator, roomList RoomLister, turn TURNStatus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ConnectRate < 1 {
		opts.ConnectRate = 30
	}
	if opts.ConnectRateWindow <= 0 {
		opts.ConnectRateWindow = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		hub:      hub,
		sessions: sessions,
		rooms:    roomList,
		turn:     turn,
		opts:     opts,
		limiter:  NewConnectLimiter(opts.ConnectRate, opts.ConnectRateWindow, log.Named("api")),
		log:      log.Named("api"),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.limiter.Middleware(s.handleWebSocket))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/ice-servers", s.handleICEServers)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.opts.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			if len(s.opts.AllowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Debug("WebSocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.hub.Serve(s.ctx, ws, r.RemoteAddr, s.sessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	sfu.Stats
	Connections int               `json:"connections"`
	TURN        *turnserver.Stats `json:"turn,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stats:       s.sessions.Snapshot(),
		Connections: s.hub.Connections(),
	}
	if s.turn != nil {
		st := s.turn.Stats()
		resp.TURN = &st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	summaries := s.rooms.Summaries()
	if summaries == nil {
		summaries = []rooms.Summary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rooms": summaries})
}

func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	servers := s.opts.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to encode response", zap.Error(err))
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.log.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// StartInBackground starts the server in a goroutine. Errors other than a
// clean shutdown are sent on the returned channel.
func (s *Server) StartInBackground() <-chan error {
	errc := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown ends every WebSocket session and then drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server")
	s.cancel()
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}
