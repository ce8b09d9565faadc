// Package pion implements the engine capability surface on pion/webrtc.
package pion

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
)

const defaultSTUNServer = "stun:stun.l.google.com:19302"

type Engine struct {
	logger zerolog.Logger
	api    *webrtc.API
	config webrtc.Configuration
}

type Config struct {
	Logger *zerolog.Logger
	// STUNServers overrides the default public STUN server.
	STUNServers []string
}

func NewEngine(cfg Config) (*Engine, error) {
	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = []string{defaultSTUNServer}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	return &Engine{
		logger: cfg.Logger.With().Str("component", "pion-engine").Logger(),
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stun}},
		},
	}, nil
}

func (e *Engine) NewPeerConnection(cb engine.Callbacks) (engine.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || cb.OnICECandidate == nil {
			return
		}
		cb.OnICECandidate(candidate.ToJSON().Candidate)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if cb.OnTrack == nil {
			return
		}
		rt := &RemoteTrack{track: track}
		rt.enabled.Store(true)
		cb.OnTrack(rt)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if cb.OnICEConnectionStateChange == nil {
			return
		}
		cb.OnICEConnectionStateChange(mapICEState(state))
	})
	pc.OnNegotiationNeeded(func() {
		if cb.OnRenegotiationNeeded != nil {
			cb.OnRenegotiationNeeded()
		}
	})

	return &peerConnection{pc: pc}, nil
}

func mapICEState(state webrtc.ICEConnectionState) engine.ICEConnectionState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return engine.ICEChecking
	case webrtc.ICEConnectionStateConnected:
		return engine.ICEConnected
	case webrtc.ICEConnectionStateCompleted:
		return engine.ICECompleted
	case webrtc.ICEConnectionStateDisconnected:
		return engine.ICEDisconnected
	case webrtc.ICEConnectionStateFailed:
		return engine.ICEFailed
	case webrtc.ICEConnectionStateClosed:
		return engine.ICEClosed
	default:
		return engine.ICENew
	}
}

type peerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *peerConnection) CreateOffer(_ context.Context) (engine.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return engine.SessionDescription{}, err
	}
	return engine.SessionDescription{Type: engine.SDPOffer, SDP: offer.SDP}, nil
}

func (p *peerConnection) CreateAnswer(_ context.Context) (engine.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return engine.SessionDescription{}, err
	}
	return engine.SessionDescription{Type: engine.SDPAnswer, SDP: answer.SDP}, nil
}

func (p *peerConnection) SetLocalDescription(desc engine.SessionDescription) error {
	return p.pc.SetLocalDescription(toPionSDP(desc))
}

func (p *peerConnection) SetRemoteDescription(desc engine.SessionDescription) error {
	return p.pc.SetRemoteDescription(toPionSDP(desc))
}

func toPionSDP(desc engine.SessionDescription) webrtc.SessionDescription {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == engine.SDPAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}
}

func (p *peerConnection) AddICECandidate(candidate string) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (p *peerConnection) AddTrack(track engine.LocalTrack) error {
	lt, ok := track.(*LocalTrack)
	if !ok {
		return fmt.Errorf("track %s was not created by this engine", track.ID())
	}
	sender, err := p.pc.AddTrack(lt.rtp)
	if err != nil {
		return err
	}
	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(buf); rtcpErr != nil {
				return
			}
		}
	}()
	return nil
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

// RemoteTrack wraps a received pion track. The enabled flag is a pure
// rendering gate consulted by whoever plays the track; it never feeds back
// into negotiation or the remote peer.
type RemoteTrack struct {
	track   *webrtc.TrackRemote
	enabled atomic.Bool
}

func (t *RemoteTrack) ID() string { return t.track.ID() }

func (t *RemoteTrack) Kind() engine.TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return engine.TrackVideo
	}
	return engine.TrackAudio
}

func (t *RemoteTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *RemoteTrack) Enabled() bool           { return t.enabled.Load() }

// Track exposes the underlying pion track to the rendering layer.
func (t *RemoteTrack) Track() *webrtc.TrackRemote { return t.track }
