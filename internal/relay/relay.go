package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/fault"
	"github.com/mikeyg42/roomrelay/internal/rooms"
)

// ErrClosed is returned by operations on a relay that has been closed.
var ErrClosed = errors.New("relay closed")

// Phase is the offer/answer progress of a relay.
type Phase int

const (
	PhaseCreated Phase = iota + 1
	PhaseRemoteDescriptionSet
	PhaseLocalDescriptionCreated
	PhaseStable
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseRemoteDescriptionSet:
		return "remote-description-set"
	case PhaseLocalDescriptionCreated:
		return "local-description-created"
	case PhaseStable:
		return "stable"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Hooks receive a relay's engine events. Each hook gets the relay it fired
// for so that the receiver can tell a superseded relay from the current one.
type Hooks struct {
	Candidate func(*Relay, Candidate)
	Media     func(*Relay, rooms.Media)
	State     func(*Relay, ConnectionState)
	// Expired fires if the relay has not connected within the handshake
	// timeout.
	Expired func(*Relay)
	// Admit, when set, is asked under the registry lock whether a new relay
	// may still be registered. It must not call back into the registry.
	Admit func(*Relay) bool
}

// Relay is a server-side peer connection together with its handshake state.
// Receivers carry media from a publisher into the server; senders carry a
// published stream out to one subscriber.
type Relay struct {
	id         string
	kind       Kind
	publisher  string
	subscriber string
	peer       Peer
	log        *zap.Logger

	mu        sync.Mutex
	phase     Phase
	connected bool
	pending   *CandidateQueue
	timer     *time.Timer

	closeOnce sync.Once
	closeErr  error
}

func newRelay(kind Kind, publisher, subscriber string, peer Peer, queueSize int, log *zap.Logger) *Relay {
	r := &Relay{
		id:         uuid.NewString(),
		kind:       kind,
		publisher:  publisher,
		subscriber: subscriber,
		peer:       peer,
		phase:      PhaseCreated,
		pending:    NewCandidateQueue(queueSize),
	}
	r.log = log.With(r.Fields()...)
	return r
}

func (r *Relay) ID() string         { return r.id }
func (r *Relay) Kind() Kind         { return r.kind }
func (r *Relay) Publisher() string  { return r.publisher }
func (r *Relay) Subscriber() string { return r.subscriber }

// Owner is the participant that negotiates this relay: the publisher for a
// receiver, the subscriber for a sender.
func (r *Relay) Owner() string {
	if r.kind == KindSender {
		return r.subscriber
	}
	return r.publisher
}

// Phase returns the current handshake phase.
func (r *Relay) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Closed reports whether Close has been called.
func (r *Relay) Closed() bool { return r.Phase() == PhaseClosed }

// Fields returns the log fields identifying the relay.
func (r *Relay) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("relay", r.id),
		zap.Stringer("kind", r.kind),
		zap.String("publisher", r.publisher),
	}
	if r.subscriber != "" {
		fields = append(fields, zap.String("subscriber", r.subscriber))
	}
	return fields
}

// Negotiate applies a remote offer and returns the local answer, walking the
// relay from Created to Stable. Candidates queued while the relay was in
// Created are applied once the offer is in place.
func (r *Relay) Negotiate(offer Description) (Description, error) {
	if err := r.applyOffer(offer); err != nil {
		return Description{}, err
	}
	return r.answer()
}

func (r *Relay) applyOffer(offer Description) error {
	if offer.Type != "offer" {
		return fault.Errorf(fault.ProtocolState, "apply offer", "expected an offer, got %q", offer.Type)
	}
	if err := r.expect(PhaseCreated, "apply offer"); err != nil {
		return err
	}

	if err := r.peer.SetRemoteDescription(offer); err != nil {
		return fault.New(fault.Adapter, "set remote description", err)
	}

	queued, err := r.advance(PhaseRemoteDescriptionSet, "apply offer", true)
	if err != nil {
		return err
	}
	for _, c := range queued {
		if err := r.peer.AddRemoteCandidate(c); err != nil {
			r.log.Warn("Queued candidate rejected", zap.Error(err))
		}
	}
	if len(queued) > 0 {
		r.log.Debug("Applied queued candidates", zap.Int("count", len(queued)))
	}
	return nil
}

func (r *Relay) answer() (Description, error) {
	if err := r.expect(PhaseRemoteDescriptionSet, "create answer"); err != nil {
		return Description{}, err
	}

	answer, err := r.peer.CreateAnswer()
	if err != nil {
		return Description{}, fault.New(fault.Adapter, "create answer", err)
	}
	if _, err := r.advance(PhaseLocalDescriptionCreated, "create answer", false); err != nil {
		return Description{}, err
	}

	if err := r.peer.SetLocalDescription(answer); err != nil {
		return Description{}, fault.New(fault.Adapter, "set local description", err)
	}
	if _, err := r.advance(PhaseStable, "set local description", false); err != nil {
		return Description{}, err
	}
	return answer, nil
}

// AddCandidate applies a remote candidate, or queues it if the offer has not
// been applied yet. Overflowing the queue drops the oldest candidate and is
// reported as a protocol error.
func (r *Relay) AddCandidate(c Candidate) error {
	r.mu.Lock()
	switch r.phase {
	case PhaseClosed:
		r.mu.Unlock()
		return fault.New(fault.ProtocolState, "add candidate", ErrClosed)
	case PhaseCreated:
		dropped := r.pending.Push(c)
		r.mu.Unlock()
		if dropped {
			return fault.Errorf(fault.ProtocolState, "add candidate", "early candidate queue full, oldest dropped")
		}
		return nil
	}
	r.mu.Unlock()

	if err := r.peer.AddRemoteCandidate(c); err != nil {
		return fault.New(fault.Adapter, "add candidate", err)
	}
	return nil
}

// Close tears the relay down. It is safe to call more than once; only the
// first call reaches the engine.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.phase = PhaseClosed
		if r.timer != nil {
			r.timer.Stop()
		}
		r.pending.Drain()
		r.mu.Unlock()

		if err := r.peer.Close(); err != nil {
			r.closeErr = fault.New(fault.Adapter, "close "+r.kind.String(), err)
		}
		r.log.Debug("Relay closed")
	})
	return r.closeErr
}

func (r *Relay) expect(want Phase, op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.phase {
	case want:
		return nil
	case PhaseClosed:
		return fault.New(fault.ProtocolState, op, ErrClosed)
	default:
		return fault.Errorf(fault.ProtocolState, op, "relay is %s", r.phase)
	}
}

// advance moves to next unless the relay was closed while the engine call
// was in flight.
func (r *Relay) advance(next Phase, op string, drain bool) ([]Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseClosed {
		return nil, fault.New(fault.ProtocolState, op, ErrClosed)
	}
	r.phase = next
	if drain {
		return r.pending.Drain(), nil
	}
	return nil, nil
}

func (r *Relay) attach(h Hooks, timeout time.Duration) {
	r.peer.OnCandidate(func(c Candidate) {
		if r.Closed() || h.Candidate == nil {
			return
		}
		h.Candidate(r, c)
	})
	r.peer.OnMedia(func(m rooms.Media) {
		if r.Closed() || h.Media == nil {
			return
		}
		h.Media(r, m)
	})
	r.peer.OnStateChange(func(s ConnectionState) {
		if s == StateConnected {
			r.markConnected()
		}
		if r.Closed() || h.State == nil {
			return
		}
		h.State(r, s)
	})

	if timeout <= 0 || h.Expired == nil {
		return
	}
	r.mu.Lock()
	r.timer = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		live := !r.connected && r.phase != PhaseClosed
		r.mu.Unlock()
		if live {
			h.Expired(r)
		}
	})
	r.mu.Unlock()
}

func (r *Relay) markConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return
	}
	r.connected = true
	if r.timer != nil {
		r.timer.Stop()
	}
}
