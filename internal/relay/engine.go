// Package relay owns the server-side peer connections of a selective
// forwarding unit: one receiver per publishing participant and one sender per
// (publisher, subscriber) pair.
package relay

import (
	"github.com/mikeyg42/roomrelay/internal/rooms"
)

//go:generate mockgen -destination=relaytest/mocks.go -package=relaytest . Engine,Peer

// Kind tells a receiver from a sender.
type Kind int

const (
	KindReceiver Kind = iota + 1
	KindSender
)

func (k Kind) String() string {
	switch k {
	case KindReceiver:
		return "receiver"
	case KindSender:
		return "sender"
	default:
		return "unknown"
	}
}

// Description is an SDP offer or answer.
type Description struct {
	Type string `json:"type" validate:"required,oneof=offer answer pranswer rollback"`
	SDP  string `json:"sdp" validate:"required"`
}

// Candidate is a trickled ICE candidate in browser form.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ConnectionState is the transport state the engine reports for a peer.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota + 1
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine creates peers. It is the only way the relay package touches media.
type Engine interface {
	NewPeer(kind Kind) (Peer, error)
}

// Peer is one server-side peer connection. Callbacks may fire on any
// goroutine and must not block.
type Peer interface {
	SetRemoteDescription(Description) error
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	AddRemoteCandidate(Candidate) error
	// Forward attaches a published stream's media to a sender peer. It must
	// be called before the remote offer is applied.
	Forward(rooms.Media) error
	Close() error

	OnCandidate(func(Candidate))
	// OnMedia fires once, when every track announced in the remote offer has
	// arrived on a receiver peer.
	OnMedia(func(rooms.Media))
	OnStateChange(func(ConnectionState))
}
