// Package sfu drives the offer/answer handshakes between clients and the
// server's relays, and cleans up after participants that leave.
package sfu

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/audit"
	"github.com/mikeyg42/roomrelay/internal/fault"
	"github.com/mikeyg42/roomrelay/internal/relay"
	"github.com/mikeyg42/roomrelay/internal/rooms"
	"github.com/mikeyg42/roomrelay/internal/signal"
)

// ErrBusy is returned when a participant's event queue is full.
var ErrBusy = errors.New("participant event queue is full")

// Notifier delivers messages to clients. *signal.Hub satisfies it.
type Notifier interface {
	Unicast(participantID, method string, payload any) error
	Broadcast(roomID, exceptID, method string, payload any)
	JoinGroup(participantID, roomID string)
	LeaveGroup(participantID, roomID string)
}

// Auditor records session events. *audit.Recorder satisfies it.
type Auditor interface {
	Record(audit.Event)
}

// Config sizes the per-participant queues.
type Config struct {
	MailboxSize        int
	CandidateQueueSize int
}

// Stats is a consistent view of rooms and relays.
type Stats struct {
	Rooms    rooms.Stats `json:"rooms"`
	Relays   relay.Stats `json:"relays"`
	Sessions int         `json:"sessions"`
}

// Server implements signal.Handler on top of the room and relay registries.
type Server struct {
	cfg    Config
	rooms  *rooms.Registry
	relays *relay.Registry
	notify Notifier
	audit  Auditor
	log    *zap.Logger

	// topology is held while a participant is removed from both registries
	// and while Snapshot reads them.
	topology sync.RWMutex

	mu       sync.Mutex
	sessions map[string]*session
}

var _ signal.Handler = (*Server)(nil)

type nopAuditor struct{}

func (nopAuditor) Record(audit.Event) {}

// New wires a server. auditor may be nil.
func New(cfg Config, roomReg *rooms.Registry, relays *relay.Registry, notifier Notifier, auditor Auditor, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if cfg.MailboxSize < 1 {
		cfg.MailboxSize = 256
	}
	if cfg.CandidateQueueSize < 1 {
		cfg.CandidateQueueSize = 32
	}
	return &Server{
		cfg:      cfg,
		rooms:    roomReg,
		relays:   relays,
		notify:   notifier,
		audit:    auditor,
		log:      log.Named("sfu"),
		sessions: make(map[string]*session),
	}
}

func (s *Server) Connected(participantID, remoteAddr string) {
	sess := newSession(participantID, remoteAddr, s.cfg.MailboxSize, s.cfg.CandidateQueueSize)
	s.mu.Lock()
	s.sessions[participantID] = sess
	s.mu.Unlock()
	go sess.run()
}

// Disconnected runs departure immediately; it does not wait behind queued
// events, which are discarded.
func (s *Server) Disconnected(participantID string) {
	s.mu.Lock()
	sess := s.sessions[participantID]
	delete(s.sessions, participantID)
	s.mu.Unlock()

	remote := ""
	if sess != nil {
		sess.stop()
		remote = sess.remote
	}
	s.depart(participantID, remote)
}

func (s *Server) Join(participantID string, req signal.JoinRequest) error {
	return s.enqueue(participantID, func(sess *session) { s.handleJoin(sess, req) })
}

func (s *Server) PublishOffer(participantID string, req signal.PublishOffer) error {
	return s.enqueue(participantID, func(sess *session) { s.handlePublishOffer(sess, req) })
}

func (s *Server) PublishCandidate(participantID string, req signal.CandidateMessage) error {
	return s.enqueue(participantID, func(sess *session) { s.handlePublishCandidate(sess, req) })
}

func (s *Server) SubscribeOffer(participantID string, req signal.SubscribeOffer) error {
	return s.enqueue(participantID, func(sess *session) { s.handleSubscribeOffer(sess, req) })
}

func (s *Server) SubscribeCandidate(participantID string, req signal.SubscribeCandidate) error {
	return s.enqueue(participantID, func(sess *session) { s.handleSubscribeCandidate(sess, req) })
}

// Snapshot returns room and relay counts that never show a participant
// half-departed.
func (s *Server) Snapshot() Stats {
	s.topology.RLock()
	st := Stats{Rooms: s.rooms.Stats(), Relays: s.relays.Stats()}
	s.topology.RUnlock()

	s.mu.Lock()
	st.Sessions = len(s.sessions)
	s.mu.Unlock()
	return st
}

// Close departs every participant and closes any relay left behind.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for id, sess := range sessions {
		sess.stop()
		s.depart(id, sess.remote)
	}
	return s.relays.CloseAll()
}

func (s *Server) session(participantID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[participantID]
}

func (s *Server) enqueue(participantID string, ev func(*session)) error {
	sess := s.session(participantID)
	if sess == nil {
		return fault.Errorf(fault.NotFound, "enqueue", "participant %s has no session", participantID)
	}
	if !sess.post(ev) {
		s.log.Warn("Dropping message, event queue full", zap.String("participant", participantID))
		return ErrBusy
	}
	return nil
}

// post runs ev on the owner's session. Engine callbacks use it so that their
// effects are ordered with the owner's messages.
func (s *Server) post(participantID string, ev func(*session)) {
	sess := s.session(participantID)
	if sess == nil || !sess.post(ev) {
		s.log.Debug("Dropping relay event", zap.String("participant", participantID))
	}
}

func (s *Server) unicast(participantID, method string, payload any) {
	if err := s.notify.Unicast(participantID, method, payload); err != nil {
		s.log.Debug("Delivery failed",
			zap.String("participant", participantID), zap.String("method", method), zap.Error(err))
	}
}

// depart removes the participant from its room and closes every relay that
// references it, then tells the rest of the room. Close failures are
// reported but never stop the rest of the cleanup.
func (s *Server) depart(participantID, remote string) {
	s.topology.Lock()
	roomID, inRoom := s.rooms.Leave(participantID)
	released := s.relays.Detach(participantID)
	s.topology.Unlock()

	log := s.log.With(zap.String("participant", participantID), zap.String("room", roomID))
	if err := released.Close(); err != nil {
		log.Warn("Some relays failed to close", zap.Error(err))
	}

	if !inRoom {
		log.Debug("Participant left before joining a room", zap.Int("relays", released.Len()))
		return
	}

	s.notify.LeaveGroup(participantID, roomID)
	s.notify.Broadcast(roomID, participantID, signal.MethodParticipantLeft,
		signal.ParticipantLeft{ParticipantID: participantID})
	s.audit.Record(audit.Event{
		Action:        audit.ActionLeave,
		Result:        audit.ResultSuccess,
		RoomID:        roomID,
		ParticipantID: participantID,
		RemoteAddr:    remote,
	})
	log.Info("Participant left", zap.Int("relays", released.Len()))
}
