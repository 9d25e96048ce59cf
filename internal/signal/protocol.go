package signal

import (
	"github.com/mikeyg42/roomrelay/internal/relay"
	"github.com/mikeyg42/roomrelay/internal/rooms"
)

// Client to server methods. Every message is a JSON-RPC 2.0 notification
// (or request, if the client wants an acknowledgement) with one of these
// method names.
const (
	MethodJoin               = "join"
	MethodPublishOffer       = "publishOffer"
	MethodPublishCandidate   = "publishCandidate"
	MethodSubscribeOffer     = "subscribeOffer"
	MethodSubscribeCandidate = "subscribeCandidate"
)

// Server to client methods. publishCandidate and subscribeCandidate are used
// in both directions.
const (
	MethodJoinedRoom         = "joinedRoom"
	MethodAllUsers           = "allUsers"
	MethodPublishAnswer      = "publishAnswer"
	MethodSubscribeAnswer    = "subscribeAnswer"
	MethodParticipantEntered = "participantEntered"
	MethodParticipantLeft    = "participantLeft"
	MethodPublishFailed      = "publishFailed"
	MethodSubscribeFailed    = "subscribeFailed"
)

type JoinRequest struct {
	RoomID      string `json:"roomId" validate:"required,max=128"`
	DisplayName string `json:"displayName" validate:"max=64"`
}

type PublishOffer struct {
	RoomID      string            `json:"roomId" validate:"required,max=128"`
	DisplayName string            `json:"displayName" validate:"max=64"`
	SDP         relay.Description `json:"sdp"`
}

// CandidateMessage carries a trickled candidate for the publish handshake.
type CandidateMessage struct {
	Candidate relay.Candidate `json:"candidate"`
}

type SubscribeOffer struct {
	PublisherID string            `json:"publisherId" validate:"required,max=64"`
	RoomID      string            `json:"roomId" validate:"required,max=128"`
	SDP         relay.Description `json:"sdp"`
}

// SubscribeCandidate is tagged with the publisher whose sender relay the
// candidate belongs to.
type SubscribeCandidate struct {
	PublisherID string          `json:"publisherId" validate:"required,max=64"`
	Candidate   relay.Candidate `json:"candidate"`
}

type JoinedRoom struct {
	ParticipantID string `json:"participantId"`
	RoomID        string `json:"roomId"`
	DisplayName   string `json:"displayName"`
}

type AllUsers struct {
	Users []rooms.Participant `json:"users"`
}

type PublishAnswer struct {
	SDP relay.Description `json:"sdp"`
}

type SubscribeAnswer struct {
	PublisherID string            `json:"publisherId"`
	SDP         relay.Description `json:"sdp"`
}

type ParticipantEntered struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Publishing    bool   `json:"publishing"`
}

type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
}

// HandshakeFailed reports a publish or subscribe attempt that will not
// complete. PublisherID is set for subscribe failures.
type HandshakeFailed struct {
	PublisherID string `json:"publisherId,omitempty"`
	Code        string `json:"code"`
	Reason      string `json:"reason"`
}
