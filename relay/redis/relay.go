// Package redis implements the relay contract on a shared Redis instance:
// a presence hash per room, a pub/sub channel for set-change notifications,
// and one mailbox list per participant consumed with BLPOP so every message
// is delivered at most once.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
	relaypkg "github.com/sammcarthur07/CloudCounter-sub003/relay"
)

const (
	// defaultKeyTTL keeps abandoned rooms from accumulating forever.
	defaultKeyTTL = 24 * time.Hour

	defaultPopTimeout = 5 * time.Second
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Logger   *zerolog.Logger
}

type Relay struct {
	logger zerolog.Logger
	rdb    *redis.Client
}

func NewRelay(ctx context.Context, cfg Config) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Relay{
		logger: cfg.Logger.With().Str("component", "redis-relay").Logger(),
		rdb:    rdb,
	}, nil
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}

func presenceKey(roomID string) string {
	return "call:room:" + roomID + ":presence"
}

func mailboxKey(roomID, userID string) string {
	return "call:room:" + roomID + ":mbox:" + userID
}

func (r *Relay) readRecord(ctx context.Context, roomID, userID string) (*model.PresenceRecord, error) {
	raw, err := r.rdb.HGet(ctx, presenceKey(roomID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec model.PresenceRecord
	if err = json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("corrupt presence record for %s: %w", userID, err)
	}
	return &rec, nil
}

func (r *Relay) writeRecord(ctx context.Context, roomID string, rec *model.PresenceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := presenceKey(roomID)
	if err = r.rdb.HSet(ctx, key, rec.UserID, raw).Err(); err != nil {
		return err
	}
	r.rdb.Expire(ctx, key, defaultKeyTTL)
	// Wake presence subscribers; payload is irrelevant, they re-read the hash.
	return r.rdb.Publish(ctx, key, rec.UserID).Err()
}

func (r *Relay) Join(ctx context.Context, roomID, userID, userName string) error {
	rec, err := r.readRecord(ctx, roomID, userID)
	if err != nil {
		return errors.Join(relaypkg.ErrJoin, err)
	}
	now := time.Now().UTC()
	if rec == nil {
		rec = &model.PresenceRecord{
			UserID:   userID,
			JoinedAt: now,
		}
	}
	rec.UserName = userName
	rec.IsActive = true
	rec.LastHeartbeat = now
	if err = r.writeRecord(ctx, roomID, rec); err != nil {
		return errors.Join(relaypkg.ErrJoin, err)
	}
	return nil
}

func (r *Relay) Leave(ctx context.Context, roomID, userID string) error {
	rec, err := r.readRecord(ctx, roomID, userID)
	if err != nil {
		return errors.Join(relaypkg.ErrLeave, err)
	}
	if rec == nil || !rec.IsActive {
		return nil
	}
	now := time.Now().UTC()
	rec.IsActive = false
	rec.LeftAt = &now
	if err = r.writeRecord(ctx, roomID, rec); err != nil {
		return errors.Join(relaypkg.ErrLeave, err)
	}
	return nil
}

func (r *Relay) Rejoin(ctx context.Context, roomID, userID, userName string) error {
	rec, err := r.readRecord(ctx, roomID, userID)
	if err != nil {
		return errors.Join(relaypkg.ErrJoin, err)
	}
	if rec == nil {
		return r.Join(ctx, roomID, userID, userName)
	}
	now := time.Now().UTC()
	rec.UserName = userName
	rec.IsActive = true
	rec.ReturnedAt = &now
	rec.LastHeartbeat = now
	if err = r.writeRecord(ctx, roomID, rec); err != nil {
		return errors.Join(relaypkg.ErrJoin, err)
	}
	return nil
}

func (r *Relay) SendSignal(ctx context.Context, roomID string, msg model.SignalMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(&msg)
	if err != nil {
		return errors.Join(relaypkg.ErrSend, err)
	}
	key := mailboxKey(roomID, msg.ReceiverID)
	if err = r.rdb.RPush(ctx, key, raw).Err(); err != nil {
		return errors.Join(relaypkg.ErrSend, err)
	}
	r.rdb.Expire(ctx, key, defaultKeyTTL)
	return nil
}

func (r *Relay) activeSnapshot(ctx context.Context, roomID string) (model.Snapshot, error) {
	snap := model.Snapshot{RoomID: roomID}
	all, err := r.rdb.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return snap, err
	}
	for userID, raw := range all {
		var rec model.PresenceRecord
		if err = json.Unmarshal([]byte(raw), &rec); err != nil {
			r.logger.Error().Err(err).
				Str("roomID", roomID).
				Str("userID", userID).
				Msg("skipping corrupt presence record")
			continue
		}
		if rec.IsActive {
			snap.Active = append(snap.Active, rec)
		}
	}
	return snap, nil
}

func (r *Relay) SubscribeActiveParticipants(ctx context.Context, roomID string) (<-chan model.Snapshot, error) {
	sub := r.rdb.Subscribe(ctx, presenceKey(roomID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan model.Snapshot)
	go func() {
		defer func() {
			_ = sub.Close()
			close(out)
		}()

		emit := func() bool {
			snap, err := r.activeSnapshot(ctx, roomID)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				r.logger.Error().Err(err).Str("roomID", roomID).Msg("failed to read presence hash")
				return true
			}
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Relay) SubscribeSignals(ctx context.Context, roomID, userID string) (<-chan model.SignalMessage, error) {
	key := mailboxKey(roomID, userID)
	out := make(chan model.SignalMessage)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			res, err := r.rdb.BLPop(ctx, defaultPopTimeout, key).Result()
			if errors.Is(err, redis.Nil) {
				continue // timed out empty, poll again
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Error().Err(err).Str("userID", userID).Msg("mailbox pop failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			// BLPop returns [key, value].
			var msg model.SignalMessage
			if err = json.Unmarshal([]byte(res[1]), &msg); err != nil {
				r.logger.Error().Err(err).Str("userID", userID).Msg("dropping corrupt signal")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
