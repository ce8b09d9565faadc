package call

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
	"github.com/sammcarthur07/CloudCounter-sub003/model"
)

// LinkState is the lifecycle of one peer link.
type LinkState int

const (
	StateIdle LinkState = iota
	StateNegotiatingLocal
	StateNegotiatingRemote
	StateConnected
	StateClosing
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiatingLocal:
		return "negotiating-local"
	case StateNegotiatingRemote:
		return "negotiating-remote"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// link drives offer/answer/candidate exchange with one remote peer. All
// methods run on the owning registry's goroutine; the engine's callbacks are
// marshalled back onto it as engineEvents before they reach the link.
type link struct {
	peerID    string
	initiator bool
	state     LinkState
	pc        engine.PeerConnection

	// Candidates that arrived before the remote description. Flushed in
	// arrival order once the description is set.
	remoteDescSet bool
	earlyCands    []string

	send   func(msg model.SignalMessage)
	logger zerolog.Logger
}

func newLink(peerID string, initiator bool, pc engine.PeerConnection,
	send func(msg model.SignalMessage), logger zerolog.Logger,
) *link {
	return &link{
		peerID:    peerID,
		initiator: initiator,
		state:     StateIdle,
		pc:        pc,
		send:      send,
		logger: logger.With().
			Str("peerID", peerID).
			Bool("initiator", initiator).
			Logger(),
	}
}

// start kicks off negotiation. The initiator produces and sends the offer;
// the responder stays idle until one arrives.
func (l *link) start(ctx context.Context, selfID string, tracks []engine.LocalTrack) {
	if l.state != StateIdle {
		return
	}
	for _, track := range tracks {
		if err := l.pc.AddTrack(track); err != nil {
			l.fail(err, "failed to attach local track")
			return
		}
	}
	if !l.initiator {
		return
	}

	offer, err := l.pc.CreateOffer(ctx)
	if err != nil {
		l.fail(err, "failed to create offer")
		return
	}
	if err = l.pc.SetLocalDescription(offer); err != nil {
		l.fail(err, "failed to set local offer")
		return
	}
	l.state = StateNegotiatingLocal
	l.send(model.SignalMessage{
		Type:       model.SignalOffer,
		SenderID:   selfID,
		ReceiverID: l.peerID,
		SDP:        offer.SDP,
		Timestamp:  time.Now().UTC(),
	})
	l.logger.Debug().Msg("offer sent")
}

// handleSignal feeds one inbound message into the machine. It returns false
// when the message put the link into closing state.
func (l *link) handleSignal(ctx context.Context, selfID string, msg model.SignalMessage) bool {
	if l.state == StateClosing || l.state == StateClosed {
		l.logger.Debug().Str("type", msg.Type).Msg("signal ignored, link is down")
		return true
	}

	switch msg.Type {
	case model.SignalOffer:
		return l.handleOffer(ctx, selfID, msg)
	case model.SignalAnswer:
		return l.handleAnswer(msg)
	case model.SignalICECandidate:
		return l.handleCandidate(msg)
	default:
		l.logger.Warn().Str("type", msg.Type).Msg("unknown signal type")
		return true
	}
}

func (l *link) handleOffer(ctx context.Context, selfID string, msg model.SignalMessage) bool {
	if l.initiator {
		// Both sides never initiate: the lower id offers. An offer here
		// means a confused or stale sender.
		l.logger.Warn().Msg("unexpected offer on initiator link, ignoring")
		return true
	}
	l.state = StateNegotiatingRemote

	if err := l.pc.SetRemoteDescription(engine.SessionDescription{Type: engine.SDPOffer, SDP: msg.SDP}); err != nil {
		l.fail(err, "failed to set remote offer")
		return false
	}
	l.remoteDescSet = true
	l.flushEarlyCandidates()

	answer, err := l.pc.CreateAnswer(ctx)
	if err != nil {
		l.fail(err, "failed to create answer")
		return false
	}
	if err = l.pc.SetLocalDescription(answer); err != nil {
		l.fail(err, "failed to set local answer")
		return false
	}
	l.send(model.SignalMessage{
		Type:       model.SignalAnswer,
		SenderID:   selfID,
		ReceiverID: l.peerID,
		SDP:        answer.SDP,
		Timestamp:  time.Now().UTC(),
	})
	// Answer exchange is a single round-trip: once the local answer is
	// applied nothing else is awaited.
	l.state = StateConnected
	l.logger.Debug().Msg("answer sent, link connected")
	return true
}

func (l *link) handleAnswer(msg model.SignalMessage) bool {
	if !l.initiator {
		l.logger.Warn().Msg("unexpected answer on responder link, ignoring")
		return true
	}
	if err := l.pc.SetRemoteDescription(engine.SessionDescription{Type: engine.SDPAnswer, SDP: msg.SDP}); err != nil {
		l.fail(err, "failed to set remote answer")
		return false
	}
	l.remoteDescSet = true
	l.flushEarlyCandidates()
	l.state = StateConnected
	l.logger.Debug().Msg("answer applied, link connected")
	return true
}

func (l *link) handleCandidate(msg model.SignalMessage) bool {
	if !l.remoteDescSet {
		l.earlyCands = append(l.earlyCands, msg.Candidate)
		l.logger.Trace().Int("buffered", len(l.earlyCands)).Msg("candidate buffered before remote description")
		return true
	}
	if err := l.pc.AddICECandidate(msg.Candidate); err != nil {
		// Candidate loss only degrades path quality; the link stays up.
		l.logger.Error().Err(err).Msg("failed to add ice candidate")
	}
	return true
}

func (l *link) flushEarlyCandidates() {
	for _, candidate := range l.earlyCands {
		if err := l.pc.AddICECandidate(candidate); err != nil {
			l.logger.Error().Err(err).Msg("failed to add buffered ice candidate")
		}
	}
	if n := len(l.earlyCands); n > 0 {
		l.logger.Debug().Int("count", n).Msg("buffered candidates flushed")
	}
	l.earlyCands = nil
}

// fail logs a negotiation error and tears the link down. There is no retry:
// the peer comes back only through a fresh presence-joined event.
func (l *link) fail(err error, msg string) {
	l.logger.Error().Err(err).Str("state", l.state.String()).Msg(msg)
	l.close()
}

// close is idempotent.
func (l *link) close() {
	if l.state == StateClosed {
		return
	}
	l.state = StateClosing
	if err := l.pc.Close(); err != nil {
		l.logger.Error().Err(err).Msg("failed to close peer connection")
	}
	l.state = StateClosed
	l.logger.Debug().Msg("link closed")
}
