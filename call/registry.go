package call

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
	"github.com/sammcarthur07/CloudCounter-sub003/model"
)

type engineEventKind int

const (
	evCandidate engineEventKind = iota
	evTrack
	evICEState
	evRenegotiationNeeded
)

// engineEvent marshals an engine callback onto the room actor goroutine.
type engineEvent struct {
	peerID    string
	kind      engineEventKind
	candidate string
	track     engine.RemoteTrack
	state     engine.ICEConnectionState
}

// TrackHandler is the UI boundary. Callbacks fire on the room actor
// goroutine and must not block.
type TrackHandler interface {
	RemoteTrackAvailable(peerID string, track engine.RemoteTrack)
	RemoteTrackRemoved(peerID string)
}

// registry owns exactly one link per remote peer. Every mutating method
// runs on the session's actor goroutine, which is what makes the
// single-writer discipline over the link map hold.
type registry struct {
	roomID      string
	selfID      string
	eng         engine.Engine
	localTracks []engine.LocalTrack
	handler     TrackHandler
	media       *MediaControls
	logger      zerolog.Logger

	links map[string]*link
	// Peers whose track arrival was announced to the UI. Guarantees exactly
	// one RemoteTrackRemoved per announced peer.
	announced map[string]bool

	engineEvents chan engineEvent
	outbound     chan model.SignalMessage
}

func newRegistry(roomID, selfID string, eng engine.Engine, localTracks []engine.LocalTrack,
	handler TrackHandler, media *MediaControls, logger zerolog.Logger,
) *registry {
	return &registry{
		roomID:       roomID,
		selfID:       selfID,
		eng:          eng,
		localTracks:  localTracks,
		handler:      handler,
		media:        media,
		logger:       logger.With().Str("component", "registry").Logger(),
		links:        make(map[string]*link),
		announced:    make(map[string]bool),
		engineEvents: make(chan engineEvent, 64),
		outbound:     make(chan model.SignalMessage, 64),
	}
}

// initiates implements the deterministic tie-break: the lexicographically
// lower participant id creates the offer, so both sides never offer at once.
func (r *registry) initiates(peerID string) bool {
	return r.selfID < peerID
}

func (r *registry) onParticipantJoined(ctx context.Context, peerID string) {
	if peerID == r.selfID {
		return
	}
	if _, ok := r.links[peerID]; ok {
		// Signal raced ahead of the presence event and the link already
		// exists; nothing to start.
		return
	}
	l := r.createLink(ctx, peerID, r.initiates(peerID))
	l.start(ctx, r.selfID, r.localTracks)
	r.logger.Debug().Str("peerID", peerID).Msg("peer joined, link created")
}

// onParticipantLeft destroys the peer's link. Idempotent: a second call for
// the same peer finds nothing and does nothing.
func (r *registry) onParticipantLeft(peerID string) {
	l, ok := r.links[peerID]
	if !ok {
		return
	}
	r.teardown(peerID, l)
}

func (r *registry) onSignal(ctx context.Context, msg model.SignalMessage) {
	if msg.SenderID == r.selfID || msg.SenderID == "" {
		return
	}
	l, ok := r.links[msg.SenderID]
	if !ok {
		// Presence and signaling are independent streams; a signal may beat
		// the joined event. Only an initiating (lower-id) remote can be
		// ahead of us here, so the on-demand link is a responder.
		l = r.createLink(ctx, msg.SenderID, false)
		l.start(ctx, r.selfID, r.localTracks)
		r.logger.Debug().Str("peerID", msg.SenderID).Msg("link created on demand for early signal")
	}
	if alive := l.handleSignal(ctx, r.selfID, msg); !alive {
		r.teardown(msg.SenderID, l)
	}
}

func (r *registry) onEngineEvent(ev engineEvent) {
	l, ok := r.links[ev.peerID]
	if !ok {
		// Stale callback from a torn-down connection.
		return
	}

	switch ev.kind {
	case evCandidate:
		// Candidates go out immediately regardless of link state; the
		// receiver buffers them if its remote description is not set yet.
		r.enqueue(model.SignalMessage{
			Type:       model.SignalICECandidate,
			SenderID:   r.selfID,
			ReceiverID: ev.peerID,
			Candidate:  ev.candidate,
		})
	case evTrack:
		r.media.attachRemoteTrack(ev.peerID, ev.track)
		r.announced[ev.peerID] = true
		if r.handler != nil {
			r.handler.RemoteTrackAvailable(ev.peerID, ev.track)
		}
		r.logger.Debug().Str("peerID", ev.peerID).Str("kind", string(ev.track.Kind())).Msg("remote track available")
	case evICEState:
		if ev.state.Terminal() {
			r.logger.Debug().
				Str("peerID", ev.peerID).
				Str("state", string(ev.state)).
				Msg("transport gone, tearing link down")
			r.teardown(ev.peerID, l)
		}
	case evRenegotiationNeeded:
		// Track sets are fixed for the life of a link; mute toggles flip
		// enabled flags instead of renegotiating.
		r.logger.Trace().Str("peerID", ev.peerID).Msg("renegotiation request ignored")
	}
}

// teardown discards all state for one peer and tells the UI its track is
// gone. Failures here never leak to other peers' links.
func (r *registry) teardown(peerID string, l *link) {
	l.close()
	delete(r.links, peerID)
	r.media.detachPeer(peerID)
	if r.announced[peerID] {
		delete(r.announced, peerID)
		if r.handler != nil {
			r.handler.RemoteTrackRemoved(peerID)
		}
	}
	r.logger.Debug().Str("peerID", peerID).Msg("link destroyed")
}

func (r *registry) closeAll() {
	for peerID, l := range r.links {
		r.teardown(peerID, l)
	}
}

func (r *registry) createLink(ctx context.Context, peerID string, initiator bool) *link {
	post := func(ev engineEvent) {
		select {
		case r.engineEvents <- ev:
		case <-ctx.Done():
		}
	}
	pc, err := r.eng.NewPeerConnection(engine.Callbacks{
		OnICECandidate: func(candidate string) {
			post(engineEvent{peerID: peerID, kind: evCandidate, candidate: candidate})
		},
		OnTrack: func(track engine.RemoteTrack) {
			post(engineEvent{peerID: peerID, kind: evTrack, track: track})
		},
		OnICEConnectionStateChange: func(state engine.ICEConnectionState) {
			post(engineEvent{peerID: peerID, kind: evICEState, state: state})
		},
		OnRenegotiationNeeded: func() {
			post(engineEvent{peerID: peerID, kind: evRenegotiationNeeded})
		},
	})
	if err != nil {
		// A dead stand-in keeps the registry invariant (one link per peer)
		// while the immediate close path reports the failure.
		r.logger.Error().Err(err).Str("peerID", peerID).Msg("failed to create peer connection")
		l := newLink(peerID, initiator, nopPeerConnection{}, r.enqueue, r.logger)
		l.state = StateClosed
		r.links[peerID] = l
		return l
	}

	l := newLink(peerID, initiator, pc, r.enqueue, r.logger)
	r.links[peerID] = l
	return l
}

// enqueue hands a message to the outbound pump. Best-effort: when the pump
// is saturated the message is dropped, which the protocol tolerates.
func (r *registry) enqueue(msg model.SignalMessage) {
	select {
	case r.outbound <- msg:
	default:
		r.logger.Warn().
			Str("type", msg.Type).
			Str("receiverID", msg.ReceiverID).
			Msg("outbound queue full, signal dropped")
	}
}

// nopPeerConnection stands in when the engine refused to create a real one.
type nopPeerConnection struct{}

func (nopPeerConnection) CreateOffer(context.Context) (engine.SessionDescription, error) {
	return engine.SessionDescription{}, nil
}
func (nopPeerConnection) CreateAnswer(context.Context) (engine.SessionDescription, error) {
	return engine.SessionDescription{}, nil
}
func (nopPeerConnection) SetLocalDescription(engine.SessionDescription) error  { return nil }
func (nopPeerConnection) SetRemoteDescription(engine.SessionDescription) error { return nil }
func (nopPeerConnection) AddICECandidate(string) error                         { return nil }
func (nopPeerConnection) AddTrack(engine.LocalTrack) error                     { return nil }
func (nopPeerConnection) Close() error                                         { return nil }
