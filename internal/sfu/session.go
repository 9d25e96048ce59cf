package sfu

import (
	"context"
	"slices"

	"github.com/mikeyg42/roomrelay/internal/relay"
)

// maxEarlyKeys bounds how many distinct handshakes may buffer candidates
// before their relay exists.
const maxEarlyKeys = 32

// publishKey is the early-candidate key for the participant's own receiver.
const publishKey = ""

// session serializes everything that happens to one participant: its inbound
// messages and the engine events of the relays it negotiates.
type session struct {
	id     string
	remote string

	ctx    context.Context
	cancel context.CancelFunc
	events chan func(*session)
	done   chan struct{}

	// Only touched on the session goroutine. earlyOrder lists early's keys,
	// oldest first.
	early      map[string]*relay.CandidateQueue
	earlyOrder []string
	earlySize  int
}

func newSession(id, remote string, mailbox, earlySize int) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        id,
		remote:    remote,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan func(*session), mailbox),
		done:      make(chan struct{}),
		early:     make(map[string]*relay.CandidateQueue),
		earlySize: earlySize,
	}
}

func (s *session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if s.ctx.Err() != nil {
				return
			}
			ev(s)
		}
	}
}

// post queues ev without blocking. It fails when the mailbox is full or the
// session has stopped.
func (s *session) post(ev func(*session)) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// stop discards queued events. An event already running finishes on its own.
func (s *session) stop() {
	s.cancel()
}

// queueEarly buffers a candidate whose relay does not exist yet. When every
// key is taken the oldest handshake's buffer is evicted. It reports whether
// any earlier candidate was dropped.
func (s *session) queueEarly(key string, c relay.Candidate) (dropped bool) {
	q, ok := s.early[key]
	if !ok {
		if len(s.earlyOrder) >= maxEarlyKeys {
			oldest := s.earlyOrder[0]
			s.earlyOrder = s.earlyOrder[1:]
			delete(s.early, oldest)
			dropped = true
		}
		q = relay.NewCandidateQueue(s.earlySize)
		s.early[key] = q
		s.earlyOrder = append(s.earlyOrder, key)
	}
	return q.Push(c) || dropped
}

// takeEarly returns and forgets the candidates buffered under key.
func (s *session) takeEarly(key string) []relay.Candidate {
	q, ok := s.early[key]
	if !ok {
		return nil
	}
	delete(s.early, key)
	s.earlyOrder = slices.DeleteFunc(s.earlyOrder, func(k string) bool { return k == key })
	return q.Drain()
}

func (s *session) resetEarly() {
	s.early = make(map[string]*relay.CandidateQueue)
	s.earlyOrder = nil
}
