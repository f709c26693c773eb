package callsync

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MediaTrack is an opaque sendable track. The pion-backed peer expects a
// webrtc.TrackLocal.
type MediaTrack interface{}

// PeerEvents are the callbacks a peer connection fires into the engine.
type PeerEvents struct {
	OnICECandidate func(candidate json.RawMessage)
	OnConnected    func()
	OnDisconnected func()
}

// PeerConnection abstracts the WebRTC peer so the engine can be exercised
// without real network negotiation.
type PeerConnection interface {
	// CreateOffer builds an offer and installs it as the local description.
	CreateOffer() (sdp string, err error)
	// CreateAnswer installs the remote offer and builds the local answer.
	CreateAnswer(remoteOffer string) (sdp string, err error)
	// AcceptAnswer installs the remote answer.
	AcceptAnswer(sdp string) error
	AddICECandidate(candidate json.RawMessage) error
	// SignalingStateStable reports whether a new offer may be sent now.
	SignalingStateStable() bool
	ReplaceAudioTrack(track MediaTrack) error
	ReplaceVideoTrack(track MediaTrack) error
	Close() error
}

// PeerFactory builds a peer connection wired to the given callbacks.
type PeerFactory func(events PeerEvents) (PeerConnection, error)

// NewPionFactory returns a PeerFactory backed by pion/webrtc using the given
// STUN servers.
func NewPionFactory(stunServers []string) PeerFactory {
	return func(events PeerEvents) (PeerConnection, error) {
		cfg := webrtc.Configuration{}
		if len(stunServers) > 0 {
			cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
		}

		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || events.OnICECandidate == nil {
				return
			}
			data, err := json.Marshal(c.ToJSON())
			if err != nil {
				return
			}
			events.OnICECandidate(data)
		})

		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			switch s {
			case webrtc.PeerConnectionStateConnected:
				if events.OnConnected != nil {
					events.OnConnected()
				}
			case webrtc.PeerConnectionStateDisconnected,
				webrtc.PeerConnectionStateFailed,
				webrtc.PeerConnectionStateClosed:
				if events.OnDisconnected != nil {
					events.OnDisconnected()
				}
			}
		})

		return &pionPeer{pc: pc}, nil
	}
}

type pionPeer struct {
	pc          *webrtc.PeerConnection
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
}

func (p *pionPeer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPeer) CreateAnswer(remoteOffer string) (string, error) {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteOffer,
	})
	if err != nil {
		return "", err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *pionPeer) AcceptAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeer) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

func (p *pionPeer) SignalingStateStable() bool {
	return p.pc.SignalingState() == webrtc.SignalingStateStable
}

func (p *pionPeer) ReplaceAudioTrack(track MediaTrack) error {
	return p.replaceTrack(&p.audioSender, track)
}

func (p *pionPeer) ReplaceVideoTrack(track MediaTrack) error {
	return p.replaceTrack(&p.videoSender, track)
}

func (p *pionPeer) replaceTrack(sender **webrtc.RTPSender, track MediaTrack) error {
	if track == nil {
		if *sender != nil {
			return (*sender).ReplaceTrack(nil)
		}
		return nil
	}

	local, ok := track.(webrtc.TrackLocal)
	if !ok {
		return fmt.Errorf("track %T is not a webrtc.TrackLocal", track)
	}

	if *sender == nil {
		s, err := p.pc.AddTrack(local)
		if err != nil {
			return err
		}
		*sender = s
		return nil
	}
	return (*sender).ReplaceTrack(local)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
