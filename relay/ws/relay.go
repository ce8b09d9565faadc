// Package ws implements the relay contract over a websocket connection to
// a relayd instance. One connection serves one (room, participant) pair;
// the server owns the presence table and mailboxes.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
	relaypkg "github.com/sammcarthur07/CloudCounter-sub003/relay"
)

const defaultWriteDeadline = 5 * time.Second

// ErrScope is returned when a caller passes a room or participant id other
// than the one this connection was dialed for.
var ErrScope = errors.New("relay connection is scoped to another room or participant")

type Config struct {
	// URL is the relayd base URL, e.g. ws://localhost:8888.
	URL    string
	RoomID string
	UserID string
	Logger *zerolog.Logger
}

type Relay struct {
	cfg    Config
	logger zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	snapshots chan model.Snapshot
	signals   chan model.SignalMessage

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to relayd. The connection must be released with Close; the
// server treats the disconnect as a graceful leave.
func Dial(ctx context.Context, cfg Config) (*Relay, error) {
	endpoint := fmt.Sprintf("%s/relay/room/%s/user/%s", cfg.URL, cfg.RoomID, cfg.UserID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	r := &Relay{
		cfg: cfg,
		logger: cfg.Logger.With().
			Str("component", "ws-relay").
			Str("roomID", cfg.RoomID).
			Str("userID", cfg.UserID).
			Logger(),
		conn:      conn,
		snapshots: make(chan model.Snapshot, 1),
		signals:   make(chan model.SignalMessage, 64),
		done:      make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	return err
}

func (r *Relay) readLoop() {
	defer func() {
		_ = r.Close()
	}()
	for {
		var env model.Envelope
		if err := r.conn.ReadJSON(&env); err != nil {
			select {
			case <-r.done:
			default:
				r.logger.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}
		switch env.Kind {
		case model.EnvelopeSnapshot:
			if env.Snapshot == nil {
				continue
			}
			// Keep only the latest snapshot if the consumer lags.
			select {
			case r.snapshots <- *env.Snapshot:
				continue
			default:
			}
			select {
			case <-r.snapshots:
			default:
			}
			select {
			case r.snapshots <- *env.Snapshot:
			default:
			}
		case model.EnvelopeSignal:
			if env.Signal == nil {
				continue
			}
			select {
			case r.signals <- *env.Signal:
			case <-r.done:
				return
			}
		default:
			r.logger.Warn().Str("kind", env.Kind).Msg("unexpected envelope from server")
		}
	}
}

func (r *Relay) writeEnvelope(env model.Envelope) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return r.conn.WriteJSON(&env)
}

func (r *Relay) checkScope(roomID, userID string) error {
	if roomID != r.cfg.RoomID {
		return ErrScope
	}
	if userID != "" && userID != r.cfg.UserID {
		return ErrScope
	}
	return nil
}

func (r *Relay) Join(_ context.Context, roomID, userID, userName string) error {
	if err := r.checkScope(roomID, userID); err != nil {
		return err
	}
	if err := r.writeEnvelope(model.Envelope{Kind: model.EnvelopeJoin, UserName: userName}); err != nil {
		return errors.Join(relaypkg.ErrJoin, err)
	}
	return nil
}

func (r *Relay) Leave(_ context.Context, roomID, userID string) error {
	if err := r.checkScope(roomID, userID); err != nil {
		return err
	}
	if err := r.writeEnvelope(model.Envelope{Kind: model.EnvelopeLeave}); err != nil {
		return errors.Join(relaypkg.ErrLeave, err)
	}
	return nil
}

func (r *Relay) Rejoin(_ context.Context, roomID, userID, userName string) error {
	if err := r.checkScope(roomID, userID); err != nil {
		return err
	}
	if err := r.writeEnvelope(model.Envelope{Kind: model.EnvelopeRejoin, UserName: userName}); err != nil {
		return errors.Join(relaypkg.ErrJoin, err)
	}
	return nil
}

func (r *Relay) SendSignal(_ context.Context, roomID string, msg model.SignalMessage) error {
	if err := r.checkScope(roomID, ""); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := r.writeEnvelope(model.Envelope{Kind: model.EnvelopeSignal, Signal: &msg}); err != nil {
		return errors.Join(relaypkg.ErrSend, err)
	}
	return nil
}

func (r *Relay) SubscribeActiveParticipants(ctx context.Context, roomID string) (<-chan model.Snapshot, error) {
	if err := r.checkScope(roomID, ""); err != nil {
		return nil, err
	}
	out := make(chan model.Snapshot)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case snap := <-r.snapshots:
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				case <-r.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Relay) SubscribeSignals(ctx context.Context, roomID, userID string) (<-chan model.SignalMessage, error) {
	if err := r.checkScope(roomID, userID); err != nil {
		return nil, err
	}
	out := make(chan model.SignalMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case msg := <-r.signals:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-r.done:
					return
				}
			}
		}
	}()
	return out, nil
}
