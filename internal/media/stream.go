package media

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

var errStreamEnded = errors.New("stream ended")

type forwardedTrack struct {
	local *webrtc.TrackLocalStaticRTP
	ssrc  uint32 // publisher-side SSRC, used for keyframe requests
}

// Stream is the set of local tracks a receiver feeds from one publisher.
// Senders attach these tracks to forward the publisher's media.
type Stream struct {
	id string
	pc *webrtc.PeerConnection

	mu     sync.RWMutex
	tracks []forwardedTrack
	ended  bool
}

func newStream(pc *webrtc.PeerConnection) *Stream {
	return &Stream{id: uuid.NewString(), pc: pc}
}

// StreamID identifies the stream.
func (s *Stream) StreamID() string { return s.id }

// RequestKeyframe asks the publisher to send a keyframe on ssrc.
func (s *Stream) RequestKeyframe(ssrc uint32) error {
	s.mu.RLock()
	ended := s.ended
	s.mu.RUnlock()
	if ended {
		return errStreamEnded
	}
	return s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
}

func (s *Stream) add(local *webrtc.TrackLocalStaticRTP, ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, forwardedTrack{local: local, ssrc: ssrc})
}

func (s *Stream) snapshot() []forwardedTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended {
		return nil
	}
	return append([]forwardedTrack(nil), s.tracks...)
}

func (s *Stream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}
