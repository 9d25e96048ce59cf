package media

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/relay"
	"github.com/mikeyg42/roomrelay/internal/rooms"
)

type peer struct {
	kind relay.Kind
	pc   *webrtc.PeerConnection
	log  *zap.Logger

	// receiver only
	stream *Stream

	mu        sync.Mutex
	expected  int
	arrived   int
	announced bool
	onMedia   func(rooms.Media)
}

func (p *peer) SetRemoteDescription(d relay.Description) error {
	sdpType := webrtc.NewSDPType(d.Type)
	if sdpType == webrtc.SDPTypeOffer {
		summary, err := inspectOffer(d.SDP)
		if err != nil {
			return err
		}
		if p.kind == relay.KindReceiver {
			if summary.sending == 0 {
				return &SDPValidationError{Field: "Media", Message: "offer publishes no audio or video"}
			}
			p.mu.Lock()
			p.expected = summary.sending
			p.mu.Unlock()
		}
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: d.SDP})
}

func (p *peer) CreateAnswer() (relay.Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return relay.Description{}, err
	}
	return relay.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *peer) SetLocalDescription(d relay.Description) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP})
}

func (p *peer) AddRemoteCandidate(c relay.Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *peer) Forward(m rooms.Media) error {
	if p.kind != relay.KindSender {
		return errors.New("forward on a receiver peer")
	}
	s, ok := m.(*Stream)
	if !ok {
		return fmt.Errorf("unsupported media handle %T", m)
	}
	tracks := s.snapshot()
	if len(tracks) == 0 {
		return fmt.Errorf("stream %s has no tracks", s.StreamID())
	}

	for _, t := range tracks {
		sender, err := p.pc.AddTrack(t.local)
		if err != nil {
			return fmt.Errorf("failed to add track %s: %w", t.local.ID(), err)
		}
		go p.relayFeedback(sender, s, t.ssrc)
	}
	return nil
}

func (p *peer) Close() error {
	if p.stream != nil {
		p.stream.end()
	}
	return p.pc.Close()
}

func (p *peer) OnCandidate(f func(relay.Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		cand := c.ToJSON()
		f(relay.Candidate{
			Candidate:        cand.Candidate,
			SDPMid:           cand.SDPMid,
			SDPMLineIndex:    cand.SDPMLineIndex,
			UsernameFragment: cand.UsernameFragment,
		})
	})
}

func (p *peer) OnMedia(f func(rooms.Media)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMedia = f
}

func (p *peer) OnStateChange(f func(relay.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Debug("Peer connection state changed", zap.Stringer("state", s))
		if mapped, ok := connectionState(s); ok {
			f(mapped)
		}
	})
}

func (p *peer) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	p.log.Info("Received track",
		zap.String("track", remote.ID()),
		zap.Stringer("track_kind", remote.Kind()),
		zap.Uint32("ssrc", uint32(remote.SSRC())))

	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), p.stream.StreamID())
	if err != nil {
		p.log.Error("Failed to create local track", zap.Error(err))
		return
	}
	p.stream.add(local, uint32(remote.SSRC()))
	go p.forwardRTP(remote, local)

	p.mu.Lock()
	p.arrived++
	ready := !p.announced && p.expected > 0 && p.arrived >= p.expected
	if ready {
		p.announced = true
	}
	f := p.onMedia
	p.mu.Unlock()

	if ready && f != nil {
		f(p.stream)
	}
}

func (p *peer) forwardRTP(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Recovered from panic in forwarding loop", zap.Any("panic", r))
		}
	}()

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Debug("Track read stopped", zap.String("track", remote.ID()), zap.Error(err))
			}
			return
		}

		stripExtensions(pkt)
		if err := local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			p.log.Debug("Track write failed", zap.String("track", local.ID()), zap.Error(err))
		}
	}
}

// stripExtensions removes header extensions. Their ids are negotiated per
// peer connection and would be wrong on the subscriber side.
func stripExtensions(pkt *rtp.Packet) {
	pkt.Extension = false
	pkt.Extensions = nil
}

// relayFeedback reads RTCP from a subscriber and turns keyframe requests into
// PLIs towards the publisher.
func (p *peer) relayFeedback(sender *webrtc.RTPSender, s *Stream, ssrc uint32) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if err := s.RequestKeyframe(ssrc); err != nil {
					p.log.Debug("Keyframe request failed", zap.Error(err))
				}
			}
		}
	}
}

func connectionState(s webrtc.PeerConnectionState) (relay.ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return relay.StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return relay.StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return relay.StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return relay.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return relay.StateClosed, true
	default:
		return 0, false
	}
}
