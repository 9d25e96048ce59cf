package sfu

import (
	"errors"

	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/audit"
	"github.com/mikeyg42/roomrelay/internal/fault"
	"github.com/mikeyg42/roomrelay/internal/relay"
	"github.com/mikeyg42/roomrelay/internal/rooms"
	"github.com/mikeyg42/roomrelay/internal/signal"
)

func (s *Server) handleJoin(sess *session, req signal.JoinRequest) {
	id := sess.id
	log := s.log.With(zap.String("participant", id), zap.String("room", req.RoomID))

	if current, ok := s.rooms.RoomOf(id); ok && current != req.RoomID {
		log.Info("Switching rooms", zap.String("from", current))
		s.depart(id, sess.remote)
		sess.resetEarly()
	}

	// A departure that already ran must not be followed by a membership it
	// never saw. Disconnected stops the session before taking topology.
	s.topology.Lock()
	if sess.ctx.Err() != nil {
		s.topology.Unlock()
		log.Debug("Join discarded, participant disconnected")
		return
	}
	snap, added, err := s.rooms.Join(id, req.RoomID, req.DisplayName)
	if err == nil {
		s.notify.JoinGroup(id, req.RoomID)
	}
	s.topology.Unlock()
	if err != nil {
		log.Warn("Join rejected", zap.Error(err))
		return
	}

	s.unicast(id, signal.MethodJoinedRoom, signal.JoinedRoom{
		ParticipantID: id,
		RoomID:        req.RoomID,
		DisplayName:   snap.Self.DisplayName,
	})
	s.unicast(id, signal.MethodAllUsers, signal.AllUsers{Users: snap.Others})

	if added {
		// Disconnected may have run since the membership was written; its
		// participantLeft must not be followed by an entry notice.
		if sess.ctx.Err() == nil {
			s.notify.Broadcast(req.RoomID, id, signal.MethodParticipantEntered, signal.ParticipantEntered{
				ParticipantID: id,
				DisplayName:   snap.Self.DisplayName,
				Publishing:    snap.Self.Publishing,
			})
		}
		s.audit.Record(audit.Event{
			Action:        audit.ActionJoin,
			Result:        audit.ResultSuccess,
			RoomID:        req.RoomID,
			ParticipantID: id,
			RemoteAddr:    sess.remote,
		})
	}
	log.Info("Participant joined", zap.Int("others", len(snap.Others)), zap.Bool("rejoin", !added))
}

func (s *Server) handlePublishOffer(sess *session, req signal.PublishOffer) {
	id := sess.id

	roomID, ok := s.rooms.RoomOf(id)
	if !ok || roomID != req.RoomID {
		s.publishFailed(sess, req.RoomID, fault.Errorf(fault.NotFound, "publish", "not joined to room %s", req.RoomID))
		return
	}

	if s.relays.Receiver(id) != nil {
		// A re-publish replaces the stream; senders fed by the old one go too.
		s.rooms.DropPublishedStream(id)
		if err := s.relays.CloseAllSendersOwnedBy(id); err != nil {
			s.log.Warn("Failed to close senders of replaced stream", zap.String("participant", id), zap.Error(err))
		}
	}

	r, err := s.relays.EnsureReceiver(id, s.hooks())
	if errors.Is(err, relay.ErrNotAdmitted) {
		return
	}
	if err != nil {
		s.publishFailed(sess, roomID, err)
		return
	}
	s.flushEarly(sess, publishKey, r)

	answer, err := r.Negotiate(req.SDP)
	if err != nil {
		s.abandon(sess, r, roomID, err)
		return
	}
	if !s.relays.IsCurrent(r) {
		r.Close()
		return
	}

	s.unicast(id, signal.MethodPublishAnswer, signal.PublishAnswer{SDP: answer})
	s.audit.Record(audit.Event{
		Action:        audit.ActionPublish,
		Result:        audit.ResultSuccess,
		RoomID:        roomID,
		ParticipantID: id,
		RemoteAddr:    sess.remote,
	})
	s.log.Info("Publish answered", r.Fields()...)
}

func (s *Server) handleSubscribeOffer(sess *session, req signal.SubscribeOffer) {
	sub, pub := sess.id, req.PublisherID

	fail := func(err error) { s.subscribeFailed(sess, req.RoomID, pub, err) }
	if pub == sub {
		fail(fault.Errorf(fault.ProtocolState, "subscribe", "cannot subscribe to own stream"))
		return
	}
	roomID, ok := s.rooms.RoomOf(sub)
	if !ok || roomID != req.RoomID {
		fail(fault.Errorf(fault.NotFound, "subscribe", "not joined to room %s", req.RoomID))
		return
	}
	if pubRoom, ok := s.rooms.RoomOf(pub); !ok || pubRoom != roomID {
		fail(fault.Errorf(fault.NotFound, "subscribe", "participant %s is not in room %s", pub, roomID))
		return
	}

	r, err := s.relays.CreateSender(pub, sub, s.hooks())
	if errors.Is(err, relay.ErrNotAdmitted) {
		fail(fault.Errorf(fault.NotFound, "subscribe", "participant %s left", pub))
		return
	}
	if err != nil {
		fail(err)
		return
	}
	s.flushEarly(sess, pub, r)

	answer, err := r.Negotiate(req.SDP)
	if err != nil {
		s.abandon(sess, r, roomID, err)
		return
	}
	if !s.relays.IsCurrent(r) {
		r.Close()
		return
	}

	s.unicast(sub, signal.MethodSubscribeAnswer, signal.SubscribeAnswer{PublisherID: pub, SDP: answer})
	s.audit.Record(audit.Event{
		Action:        audit.ActionSubscribe,
		Result:        audit.ResultSuccess,
		RoomID:        roomID,
		ParticipantID: sub,
		PeerID:        pub,
		RemoteAddr:    sess.remote,
	})
	s.log.Info("Subscribe answered", r.Fields()...)
}

func (s *Server) handlePublishCandidate(sess *session, req signal.CandidateMessage) {
	r := s.relays.Receiver(sess.id)
	if r == nil {
		if sess.queueEarly(publishKey, req.Candidate) {
			s.log.Debug("Early publish candidate dropped", zap.String("participant", sess.id))
		}
		return
	}
	if err := r.AddCandidate(req.Candidate); err != nil {
		s.log.Debug("Publish candidate not applied", append(r.Fields(), zap.Error(err))...)
	}
}

func (s *Server) handleSubscribeCandidate(sess *session, req signal.SubscribeCandidate) {
	r := s.relays.Sender(req.PublisherID, sess.id)
	if r == nil {
		if !s.sameRoom(sess.id, req.PublisherID) {
			s.log.Debug("Subscribe candidate for absent publisher dropped",
				zap.String("participant", sess.id), zap.String("publisher", req.PublisherID))
			return
		}
		if sess.queueEarly(req.PublisherID, req.Candidate) {
			s.log.Debug("Early subscribe candidate dropped",
				zap.String("participant", sess.id), zap.String("publisher", req.PublisherID))
		}
		return
	}
	if err := r.AddCandidate(req.Candidate); err != nil {
		s.log.Debug("Subscribe candidate not applied", append(r.Fields(), zap.Error(err))...)
	}
}

// hooks routes relay engine events onto the owning participant's session.
func (s *Server) hooks() relay.Hooks {
	return relay.Hooks{
		Candidate: func(r *relay.Relay, c relay.Candidate) {
			s.post(r.Owner(), func(*session) { s.forwardCandidate(r, c) })
		},
		Media: func(r *relay.Relay, m rooms.Media) {
			s.post(r.Owner(), func(*session) { s.handleMedia(r, m) })
		},
		State: func(r *relay.Relay, st relay.ConnectionState) {
			if st != relay.StateFailed {
				return
			}
			s.post(r.Owner(), func(sess *session) {
				s.failRelay(sess, r, "connection failed")
			})
		},
		Expired: func(r *relay.Relay) {
			s.post(r.Owner(), func(sess *session) {
				s.failRelay(sess, r, "handshake timed out")
			})
		},
		Admit: s.stillWanted,
	}
}

func (s *Server) forwardCandidate(r *relay.Relay, c relay.Candidate) {
	if !s.relays.IsCurrent(r) {
		return
	}
	if r.Kind() == relay.KindReceiver {
		s.unicast(r.Owner(), signal.MethodPublishCandidate, signal.CandidateMessage{Candidate: c})
		return
	}
	s.unicast(r.Owner(), signal.MethodSubscribeCandidate, signal.SubscribeCandidate{
		PublisherID: r.Publisher(),
		Candidate:   c,
	})
}

func (s *Server) handleMedia(r *relay.Relay, m rooms.Media) {
	if !s.relays.IsCurrent(r) {
		return
	}
	pub := r.Publisher()
	ps, err := s.rooms.RecordPublishedStream(pub, m)
	if err != nil {
		s.log.Debug("Media arrived after departure", zap.String("participant", pub), zap.Error(err))
		return
	}
	self, _, _ := s.rooms.Member(pub)
	s.notify.Broadcast(ps.RoomID, pub, signal.MethodParticipantEntered, signal.ParticipantEntered{
		ParticipantID: pub,
		DisplayName:   self.DisplayName,
		Publishing:    true,
	})
	s.log.Info("Stream published",
		zap.String("participant", pub), zap.String("room", ps.RoomID), zap.String("stream", m.StreamID()))
}

func (s *Server) failRelay(sess *session, r *relay.Relay, reason string) {
	if !s.relays.IsCurrent(r) {
		return
	}
	roomID, _ := s.rooms.RoomOf(sess.id)
	s.abandon(sess, r, roomID, fault.Errorf(fault.Adapter, r.Kind().String(), "%s", reason))
}

// abandon closes a relay whose handshake or transport failed and tells the
// participant that negotiated it. A relay that was closed underneath the
// handshake (departure, supersede) is dropped silently.
func (s *Server) abandon(sess *session, r *relay.Relay, roomID string, cause error) {
	remote := sess.remote
	sess.takeEarly(earlyKey(r))
	if errors.Is(cause, relay.ErrClosed) {
		s.log.Debug("Discarding handshake result of closed relay", r.Fields()...)
		return
	}

	current := s.relays.IsCurrent(r)
	if err := s.relays.CloseRelay(r); err != nil {
		s.log.Warn("Failed to close abandoned relay", append(r.Fields(), zap.Error(err))...)
	}
	if !current {
		return
	}

	s.log.Warn("Handshake failed", append(r.Fields(), zap.Error(cause))...)
	if r.Kind() == relay.KindReceiver {
		s.rooms.DropPublishedStream(r.Publisher())
		if err := s.relays.CloseAllSendersOwnedBy(r.Publisher()); err != nil {
			s.log.Warn("Failed to close senders of failed stream", zap.String("participant", r.Publisher()), zap.Error(err))
		}
		s.sendFailure(r.Owner(), signal.MethodPublishFailed, "", cause)
		s.recordFailure(audit.ActionPublish, roomID, r.Owner(), "", remote, cause)
		return
	}
	s.sendFailure(r.Owner(), signal.MethodSubscribeFailed, r.Publisher(), cause)
	s.recordFailure(audit.ActionSubscribe, roomID, r.Owner(), r.Publisher(), remote, cause)
}

// stillWanted guards against a departure that ran between the registry
// lookups and the relay's registration. The relay registry calls it under
// its lock, so a departure either sees the relay in Detach or the relay is
// refused here.
func (s *Server) stillWanted(r *relay.Relay) bool {
	if _, ok := s.rooms.RoomOf(r.Owner()); !ok {
		return false
	}
	if r.Kind() == relay.KindSender {
		_, ok := s.rooms.PublishedStream(r.Publisher())
		return ok
	}
	return true
}

// earlyKey names the early-candidate buffer a relay drains.
func earlyKey(r *relay.Relay) string {
	if r.Kind() == relay.KindReceiver {
		return publishKey
	}
	return r.Publisher()
}

func (s *Server) sameRoom(a, b string) bool {
	roomA, ok := s.rooms.RoomOf(a)
	if !ok {
		return false
	}
	roomB, ok := s.rooms.RoomOf(b)
	return ok && roomA == roomB
}

func (s *Server) flushEarly(sess *session, key string, r *relay.Relay) {
	for _, c := range sess.takeEarly(key) {
		if err := r.AddCandidate(c); err != nil {
			s.log.Debug("Early candidate not applied", append(r.Fields(), zap.Error(err))...)
		}
	}
}

func (s *Server) publishFailed(sess *session, roomID string, err error) {
	s.log.Info("Publish refused", zap.String("participant", sess.id), zap.Error(err))
	s.sendFailure(sess.id, signal.MethodPublishFailed, "", err)
	s.recordFailure(audit.ActionPublish, roomID, sess.id, "", sess.remote, err)
}

func (s *Server) subscribeFailed(sess *session, roomID, publisherID string, err error) {
	s.log.Info("Subscribe refused",
		zap.String("participant", sess.id), zap.String("publisher", publisherID), zap.Error(err))
	sess.takeEarly(publisherID)
	s.sendFailure(sess.id, signal.MethodSubscribeFailed, publisherID, err)
	s.recordFailure(audit.ActionSubscribe, roomID, sess.id, publisherID, sess.remote, err)
}

func (s *Server) sendFailure(participantID, method, publisherID string, err error) {
	s.unicast(participantID, method, signal.HandshakeFailed{
		PublisherID: publisherID,
		Code:        fault.Code(err),
		Reason:      err.Error(),
	})
}

func (s *Server) recordFailure(action audit.Action, roomID, participantID, peerID, remote string, err error) {
	s.audit.Record(audit.Event{
		Action:        action,
		Result:        audit.ResultFailure,
		RoomID:        roomID,
		ParticipantID: participantID,
		PeerID:        peerID,
		RemoteAddr:    remote,
		Detail:        err.Error(),
	})
}
