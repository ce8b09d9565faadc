// Package call implements the peer-to-peer call core: presence tracking,
// one connection state machine per remote peer, and the two independent
// mute models, all fed by a store-and-forward relay.
package call

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
	"github.com/sammcarthur07/CloudCounter-sub003/model"
	"github.com/sammcarthur07/CloudCounter-sub003/relay"
)

var (
	ErrConfig     = errors.New("invalid session config")
	ErrJoinFailed = errors.New("unable to join call")
)

type Config struct {
	Relay    relay.Relay
	Engine   engine.Engine
	RoomID   string
	SelfID   string
	SelfName string

	// LocalTracks are shared read-only across every peer link. Only the
	// session's MediaControls mutates their enabled flags.
	LocalTracks []engine.LocalTrack

	// Handler receives track lifecycle callbacks. Optional.
	Handler TrackHandler

	// OnSelfMediaChange is invoked after a self mute/unmute so the caller
	// can mirror the state to peers out of band. Optional.
	OnSelfMediaChange func(state SelfMediaState)

	Logger *zerolog.Logger
}

// Session is one participant's membership in one room. All negotiation for
// the room runs on a single actor goroutine owned by the session.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	reg   *registry
	media *MediaControls

	cancel    context.CancelFunc
	done      chan struct{}
	leaveOnce sync.Once
	leaveErr  error
}

// Join registers presence, subscribes to both relay streams, and starts the
// room actor. The returned session must be closed with Leave.
func Join(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Relay == nil || cfg.Engine == nil || cfg.RoomID == "" || cfg.SelfID == "" {
		return nil, ErrConfig
	}
	logger := cfg.Logger.With().
		Str("component", "call-session").
		Str("roomID", cfg.RoomID).
		Str("selfID", cfg.SelfID).
		Logger()

	media := newMediaControls(cfg.LocalTracks, cfg.OnSelfMediaChange, logger)
	reg := newRegistry(cfg.RoomID, cfg.SelfID, cfg.Engine, cfg.LocalTracks, cfg.Handler, media, logger)

	if err := cfg.Relay.Join(ctx, cfg.RoomID, cfg.SelfID, cfg.SelfName); err != nil {
		return nil, errors.Join(ErrJoinFailed, err)
	}

	// Subscriptions live until Leave, detached from the join ctx.
	runCtx, cancel := context.WithCancel(context.Background())
	snapshots, err := cfg.Relay.SubscribeActiveParticipants(runCtx, cfg.RoomID)
	if err != nil {
		cancel()
		_ = cfg.Relay.Leave(ctx, cfg.RoomID, cfg.SelfID)
		return nil, errors.Join(ErrJoinFailed, err)
	}
	signals, err := cfg.Relay.SubscribeSignals(runCtx, cfg.RoomID, cfg.SelfID)
	if err != nil {
		cancel()
		_ = cfg.Relay.Leave(ctx, cfg.RoomID, cfg.SelfID)
		return nil, errors.Join(ErrJoinFailed, err)
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
		reg:    reg,
		media:  media,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx, snapshots, signals)
	go s.pumpOutbound(runCtx)

	logger.Debug().Msg("session joined")
	return s, nil
}

// run is the room actor: the only goroutine that mutates the registry.
// Presence snapshots, inbound signals, and engine callbacks all funnel into
// this loop, which serializes them.
func (s *Session) run(ctx context.Context, snapshots <-chan model.Snapshot, signals <-chan model.SignalMessage) {
	defer func() {
		s.reg.closeAll()
		close(s.done)
		s.logger.Debug().Msg("session actor stopped")
	}()

	tracker := NewTracker()
runLoop:
	for {
		select {
		case <-ctx.Done():
			break runLoop

		case snap, ok := <-snapshots:
			if !ok {
				break runLoop
			}
			for _, ev := range tracker.Apply(snap) {
				switch ev.Kind {
				case PeerJoined:
					s.reg.onParticipantJoined(ctx, ev.PeerID)
				case PeerLeft:
					s.reg.onParticipantLeft(ev.PeerID)
				}
			}

		case msg, ok := <-signals:
			if !ok {
				break runLoop
			}
			s.reg.onSignal(ctx, msg)

		case ev := <-s.reg.engineEvents:
			s.reg.onEngineEvent(ev)
		}
	}
}

// pumpOutbound drains the registry's outbound queue into the relay,
// preserving per-receiver write order.
func (s *Session) pumpOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.reg.outbound:
			if err := s.cfg.Relay.SendSignal(ctx, s.cfg.RoomID, msg); err != nil && ctx.Err() == nil {
				// Relay I/O is best-effort; the protocol tolerates loss.
				s.logger.Error().Err(err).
					Str("type", msg.Type).
					Str("receiverID", msg.ReceiverID).
					Msg("failed to send signal")
			}
		}
	}
}

// Leave cancels both subscriptions, closes every link, and marks this
// participant inactive on the relay. Idempotent and safe to call even if
// negotiation never completed.
func (s *Session) Leave(ctx context.Context) error {
	s.leaveOnce.Do(func() {
		s.cancel()
		<-s.done
		s.leaveErr = s.cfg.Relay.Leave(ctx, s.cfg.RoomID, s.cfg.SelfID)
		s.logger.Debug().Msg("session left")
	})
	return s.leaveErr
}

// Media exposes the mute/visibility coordinator.
func (s *Session) Media() *MediaControls {
	return s.media
}

// RemoteTracks returns the current remote track handles keyed by peer id.
// Safe to call concurrently with negotiation.
func (s *Session) RemoteTracks() map[string][]engine.RemoteTrack {
	return s.media.remoteTrackSnapshot()
}
