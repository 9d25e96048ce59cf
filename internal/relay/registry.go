package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/fault"
	"github.com/mikeyg42/roomrelay/internal/rooms"
)

// ErrNoSuchPublishedStream is returned when subscribing to a participant that
// has no media yet.
var ErrNoSuchPublishedStream = errors.New("no such published stream")

// ErrNotAdmitted is returned when Hooks.Admit refused a freshly created relay,
// typically because a participant it references has departed.
var ErrNotAdmitted = errors.New("relay no longer wanted")

// StreamSource looks up published streams. *rooms.Registry satisfies it.
type StreamSource interface {
	PublishedStream(participantID string) (rooms.PublishedStream, bool)
}

// Config tunes relay creation.
type Config struct {
	HandshakeTimeout   time.Duration
	CandidateQueueSize int
}

// Stats counts live relays.
type Stats struct {
	Receivers int `json:"receivers"`
	Senders   int `json:"senders"`
}

// Registry holds every live relay. Senders are indexed both by publisher and
// by subscriber so that either side's departure finds them. The lock is never
// held while the engine is called.
type Registry struct {
	engine  Engine
	streams StreamSource
	cfg     Config
	log     *zap.Logger

	mu           sync.Mutex
	receivers    map[string]*Relay
	byPublisher  map[string]map[string]*Relay
	bySubscriber map[string]map[string]*Relay
}

// NewRegistry returns an empty registry creating peers through engine.
func NewRegistry(engine Engine, streams StreamSource, cfg Config, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		engine:       engine,
		streams:      streams,
		cfg:          cfg,
		log:          log.Named("relay"),
		receivers:    make(map[string]*Relay),
		byPublisher:  make(map[string]map[string]*Relay),
		bySubscriber: make(map[string]map[string]*Relay),
	}
}

// EnsureReceiver creates a fresh receiver for participantID. A previous
// receiver for the same participant is closed first.
func (g *Registry) EnsureReceiver(participantID string, h Hooks) (*Relay, error) {
	if err := g.CloseReceiver(participantID); err != nil {
		g.log.Warn("Failed to close superseded receiver",
			zap.String("participant", participantID), zap.Error(err))
	}

	peer, err := g.engine.NewPeer(KindReceiver)
	if err != nil {
		return nil, fault.New(fault.Adapter, "create receiver", err)
	}
	r := newRelay(KindReceiver, participantID, "", peer, g.cfg.CandidateQueueSize, g.log)
	r.attach(h, g.cfg.HandshakeTimeout)

	g.mu.Lock()
	if h.Admit != nil && !h.Admit(r) {
		g.mu.Unlock()
		return nil, g.reject(r, "register receiver")
	}
	raced := g.receivers[participantID]
	g.receivers[participantID] = r
	g.mu.Unlock()

	if raced != nil {
		g.closeAll([]*Relay{raced})
	}
	r.log.Debug("Receiver created")
	return r, nil
}

// CreateSender creates a relay forwarding publisherID's published stream to
// subscriberID. Without a published stream nothing is created and the error
// wraps ErrNoSuchPublishedStream. An existing sender for the same pair is
// superseded.
func (g *Registry) CreateSender(publisherID, subscriberID string, h Hooks) (*Relay, error) {
	ps, ok := g.streams.PublishedStream(publisherID)
	if !ok {
		return nil, fault.New(fault.NotFound, "create sender", ErrNoSuchPublishedStream)
	}

	peer, err := g.engine.NewPeer(KindSender)
	if err != nil {
		return nil, fault.New(fault.Adapter, "create sender", err)
	}
	if err := peer.Forward(ps.Media); err != nil {
		if cerr := peer.Close(); cerr != nil {
			g.log.Warn("Failed to close unused sender peer", zap.Error(cerr))
		}
		return nil, fault.New(fault.Adapter, "forward published stream", err)
	}

	r := newRelay(KindSender, publisherID, subscriberID, peer, g.cfg.CandidateQueueSize, g.log)
	r.attach(h, g.cfg.HandshakeTimeout)

	g.mu.Lock()
	if h.Admit != nil && !h.Admit(r) {
		g.mu.Unlock()
		return nil, g.reject(r, "register sender")
	}
	old := g.removeSenderLocked(publisherID, subscriberID)
	putIndex(g.byPublisher, publisherID, subscriberID, r)
	putIndex(g.bySubscriber, subscriberID, publisherID, r)
	g.mu.Unlock()

	if old != nil {
		g.closeAll([]*Relay{old})
	}
	r.log.Debug("Sender created", zap.String("stream", ps.Media.StreamID()))
	return r, nil
}

// Receiver returns the participant's current receiver or nil.
func (g *Registry) Receiver(participantID string) *Relay {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.receivers[participantID]
}

// Sender returns the current sender for the pair or nil.
func (g *Registry) Sender(publisherID, subscriberID string) *Relay {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byPublisher[publisherID][subscriberID]
}

// IsCurrent reports whether r is still the registered relay for its slot.
func (g *Registry) IsCurrent(r *Relay) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.kind == KindReceiver {
		return g.receivers[r.publisher] == r
	}
	return g.byPublisher[r.publisher][r.subscriber] == r
}

// CloseRelay unregisters r if it is still current and closes it.
func (g *Registry) CloseRelay(r *Relay) error {
	g.mu.Lock()
	switch r.kind {
	case KindReceiver:
		if g.receivers[r.publisher] == r {
			delete(g.receivers, r.publisher)
		}
	case KindSender:
		if g.byPublisher[r.publisher][r.subscriber] == r {
			g.removeSenderLocked(r.publisher, r.subscriber)
		}
	}
	g.mu.Unlock()
	return r.Close()
}

// CloseReceiver closes the participant's receiver, if any.
func (g *Registry) CloseReceiver(participantID string) error {
	g.mu.Lock()
	r := g.receivers[participantID]
	delete(g.receivers, participantID)
	g.mu.Unlock()

	if r == nil {
		return nil
	}
	return g.closeAll([]*Relay{r})
}

// CloseAllSendersOwnedBy closes every sender forwarding publisherID's stream.
func (g *Registry) CloseAllSendersOwnedBy(publisherID string) error {
	g.mu.Lock()
	senders := g.detachByPublisherLocked(publisherID)
	g.mu.Unlock()
	return g.closeAll(senders)
}

// CloseAllSendersTargeting closes every sender delivering to subscriberID.
func (g *Registry) CloseAllSendersTargeting(subscriberID string) error {
	g.mu.Lock()
	senders := g.detachBySubscriberLocked(subscriberID)
	g.mu.Unlock()
	return g.closeAll(senders)
}

// Released is the set of relays detached for a departing participant.
type Released struct {
	registry *Registry
	Receiver *Relay
	Senders  []*Relay
}

// Detach unregisters, in one step, the participant's receiver and every
// sender it publishes to or subscribes from. The relays stay open until
// Released.Close is called.
func (g *Registry) Detach(participantID string) Released {
	g.mu.Lock()
	defer g.mu.Unlock()

	rel := Released{registry: g, Receiver: g.receivers[participantID]}
	delete(g.receivers, participantID)
	owned := g.detachByPublisherLocked(participantID)
	targeting := g.detachBySubscriberLocked(participantID)
	rel.Senders = lo.Uniq(append(owned, targeting...))
	return rel
}

// Close closes every released relay, attempting all of them even when some
// fail.
func (rel Released) Close() error {
	relays := rel.Senders
	if rel.Receiver != nil {
		relays = append([]*Relay{rel.Receiver}, relays...)
	}
	if rel.registry == nil {
		return closeRelays(relays)
	}
	return rel.registry.closeAll(relays)
}

// Len returns the number of released relays.
func (rel Released) Len() int {
	n := len(rel.Senders)
	if rel.Receiver != nil {
		n++
	}
	return n
}

// CloseAll closes every relay. Used at shutdown.
func (g *Registry) CloseAll() error {
	g.mu.Lock()
	relays := lo.Values(g.receivers)
	for _, subs := range g.byPublisher {
		relays = append(relays, lo.Values(subs)...)
	}
	g.receivers = make(map[string]*Relay)
	g.byPublisher = make(map[string]map[string]*Relay)
	g.bySubscriber = make(map[string]map[string]*Relay)
	g.mu.Unlock()

	return g.closeAll(relays)
}

// Stats counts live relays.
func (g *Registry) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Stats{Receivers: len(g.receivers)}
	for _, subs := range g.byPublisher {
		st.Senders += len(subs)
	}
	return st
}

// reject closes a relay that was never registered.
func (g *Registry) reject(r *Relay, op string) error {
	if err := r.Close(); err != nil {
		g.log.Warn("Failed to close refused relay", append(r.Fields(), zap.Error(err))...)
	}
	return fault.New(fault.NotFound, op, ErrNotAdmitted)
}

func (g *Registry) closeAll(relays []*Relay) error {
	err := closeRelays(relays)
	if err != nil {
		g.log.Warn("Relay close reported errors", zap.Int("relays", len(relays)), zap.Error(err))
	}
	return err
}

func closeRelays(relays []*Relay) error {
	var err error
	for _, r := range relays {
		err = multierr.Append(err, r.Close())
	}
	return err
}

func (g *Registry) removeSenderLocked(publisherID, subscriberID string) *Relay {
	r := g.byPublisher[publisherID][subscriberID]
	if r == nil {
		return nil
	}
	deleteIndex(g.byPublisher, publisherID, subscriberID)
	deleteIndex(g.bySubscriber, subscriberID, publisherID)
	return r
}

func (g *Registry) detachByPublisherLocked(publisherID string) []*Relay {
	subs := g.byPublisher[publisherID]
	out := lo.Values(subs)
	for sub := range subs {
		deleteIndex(g.bySubscriber, sub, publisherID)
	}
	delete(g.byPublisher, publisherID)
	return out
}

func (g *Registry) detachBySubscriberLocked(subscriberID string) []*Relay {
	pubs := g.bySubscriber[subscriberID]
	out := lo.Values(pubs)
	for pub := range pubs {
		deleteIndex(g.byPublisher, pub, subscriberID)
	}
	delete(g.bySubscriber, subscriberID)
	return out
}

func putIndex(idx map[string]map[string]*Relay, outer, inner string, r *Relay) {
	m, ok := idx[outer]
	if !ok {
		m = make(map[string]*Relay)
		idx[outer] = m
	}
	m[inner] = r
}

func deleteIndex(idx map[string]map[string]*Relay, outer, inner string) {
	m, ok := idx[outer]
	if !ok {
		return
	}
	delete(m, inner)
	if len(m) == 0 {
		delete(idx, outer)
	}
}
