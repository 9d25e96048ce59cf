// Package relaytest provides in-memory stand-ins for the media engine.
package relaytest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mikeyg42/roomrelay/internal/relay"
	"github.com/mikeyg42/roomrelay/internal/rooms"
)

// Media is a fake published stream handle.
type Media string

func (m Media) StreamID() string { return string(m) }

// Engine hands out scriptable peers and remembers every one it created.
type Engine struct {
	mu    sync.Mutex
	peers []*Peer
	// FailNewPeer makes the next NewPeer call fail.
	FailNewPeer error
}

// NewEngine returns an empty fake engine.
func NewEngine() *Engine { return &Engine{} }

func (e *Engine) NewPeer(kind relay.Kind) (relay.Peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.FailNewPeer; err != nil {
		e.FailNewPeer = nil
		return nil, err
	}
	p := &Peer{Kind: kind, Index: len(e.peers)}
	e.peers = append(e.peers, p)
	return p, nil
}

// Peers returns every peer created so far.
func (e *Engine) Peers() []*Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Peer(nil), e.peers...)
}

// Last returns the most recently created peer of the given kind.
func (e *Engine) Last(kind relay.Kind) *Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.peers) - 1; i >= 0; i-- {
		if e.peers[i].Kind == kind {
			return e.peers[i]
		}
	}
	return nil
}

// Peer records what the relay asked of it and lets tests fire callbacks.
type Peer struct {
	Kind  relay.Kind
	Index int

	mu          sync.Mutex
	remote      *relay.Description
	local       *relay.Description
	candidates  []relay.Candidate
	forwarded   []rooms.Media
	closeCalls  int
	onCandidate func(relay.Candidate)
	onMedia     func(rooms.Media)
	onState     func(relay.ConnectionState)

	// Error injection.
	FailRemote error
	FailAnswer error
	FailClose  error
	// Gate, when set, blocks SetRemoteDescription until it is closed.
	Gate chan struct{}
}

var errBadSDP = errors.New("fake: empty sdp")

func (p *Peer) SetRemoteDescription(d relay.Description) error {
	p.mu.Lock()
	gate := p.Gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailRemote != nil {
		return p.FailRemote
	}
	if d.SDP == "" {
		return errBadSDP
	}
	p.remote = &d
	return nil
}

func (p *Peer) CreateAnswer() (relay.Description, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailAnswer != nil {
		return relay.Description{}, p.FailAnswer
	}
	return relay.Description{Type: "answer", SDP: fmt.Sprintf("answer-%s-%d", p.Kind, p.Index)}, nil
}

func (p *Peer) SetLocalDescription(d relay.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *Peer) AddRemoteCandidate(c relay.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("fake: candidate before remote description")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) Forward(m rooms.Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forwarded = append(p.forwarded, m)
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	return p.FailClose
}

func (p *Peer) OnCandidate(f func(relay.Candidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = f
}

func (p *Peer) OnMedia(f func(rooms.Media)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMedia = f
}

func (p *Peer) OnStateChange(f func(relay.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = f
}

// EmitCandidate fires the candidate callback.
func (p *Peer) EmitCandidate(c relay.Candidate) {
	p.mu.Lock()
	f := p.onCandidate
	p.mu.Unlock()
	if f != nil {
		f(c)
	}
}

// EmitMedia fires the media callback.
func (p *Peer) EmitMedia(m rooms.Media) {
	p.mu.Lock()
	f := p.onMedia
	p.mu.Unlock()
	if f != nil {
		f(m)
	}
}

// EmitState fires the state callback.
func (p *Peer) EmitState(s relay.ConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	if f != nil {
		f(s)
	}
}

// CloseCalls reports how many times Close was called.
func (p *Peer) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Candidates returns the remote candidates applied so far.
func (p *Peer) Candidates() []relay.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]relay.Candidate(nil), p.candidates...)
}

// Forwarded returns the media attached through Forward.
func (p *Peer) Forwarded() []rooms.Media {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rooms.Media(nil), p.forwarded...)
}

// Remote returns the applied remote description.
func (p *Peer) Remote() (relay.Description, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return relay.Description{}, false
	}
	return *p.remote, true
}

// Local returns the applied local description.
func (p *Peer) Local() (relay.Description, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return relay.Description{}, false
	}
	return *p.local, true
}

// Cand builds a candidate with the given line.
func Cand(line string) relay.Candidate {
	return relay.Candidate{Candidate: line}
}

// Offer builds an offer description.
func Offer(sdp string) relay.Description {
	return relay.Description{Type: "offer", SDP: sdp}
}
