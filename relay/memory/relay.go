// Package memory implements the relay contract in process memory. It backs
// unit tests and is the state relayd serves to websocket clients.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
)

type Relay struct {
	logger zerolog.Logger
	mu     sync.Mutex
	rooms  map[string]*room

	now func() time.Time
}

type room struct {
	id        string
	records   map[string]*model.PresenceRecord
	mailboxes map[string]*mailbox
	watchers  map[int]*watcher
	nextWatch int
}

// mailbox buffers point-to-point messages for one participant until its
// subscriber drains them. Popped messages are gone: at-most-once delivery.
type mailbox struct {
	queue  []model.SignalMessage
	notify chan struct{}
}

// watcher receives coalesced presence snapshots. The channel holds only the
// latest snapshot; intermediate states may be skipped but the final one is
// always delivered.
type watcher struct {
	ch chan model.Snapshot
}

func NewRelay(logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "memory-relay").Logger(),
		rooms:  make(map[string]*room),
		now:    time.Now,
	}
}

func (r *Relay) getRoom(roomID string) *room {
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			id:        roomID,
			records:   make(map[string]*model.PresenceRecord),
			mailboxes: make(map[string]*mailbox),
			watchers:  make(map[int]*watcher),
		}
		r.rooms[roomID] = rm
	}
	return rm
}

func (r *Relay) Join(_ context.Context, roomID, userID, userName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.getRoom(roomID)
	now := r.now()
	rec, ok := rm.records[userID]
	if !ok {
		rm.records[userID] = &model.PresenceRecord{
			UserID:        userID,
			UserName:      userName,
			JoinedAt:      now,
			IsActive:      true,
			LastHeartbeat: now,
		}
		r.notifyWatchers(rm)
		return nil
	}

	wasActive := rec.IsActive
	rec.UserName = userName
	rec.IsActive = true
	rec.LastHeartbeat = now
	if !wasActive {
		r.notifyWatchers(rm)
	}
	return nil
}

func (r *Relay) Leave(_ context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.getRoom(roomID)
	rec, ok := rm.records[userID]
	if !ok || !rec.IsActive {
		return nil
	}
	now := r.now()
	rec.IsActive = false
	rec.LeftAt = &now
	r.notifyWatchers(rm)
	return nil
}

func (r *Relay) Rejoin(ctx context.Context, roomID, userID, userName string) error {
	r.mu.Lock()

	rm := r.getRoom(roomID)
	rec, ok := rm.records[userID]
	if !ok {
		r.mu.Unlock()
		return r.Join(ctx, roomID, userID, userName)
	}

	wasActive := rec.IsActive
	now := r.now()
	rec.IsActive = true
	rec.ReturnedAt = &now
	rec.LastHeartbeat = now
	if !wasActive {
		r.notifyWatchers(rm)
	}
	r.mu.Unlock()
	return nil
}

func (r *Relay) SendSignal(_ context.Context, roomID string, msg model.SignalMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.getRoom(roomID)
	mb := rm.getMailbox(msg.ReceiverID)
	mb.queue = append(mb.queue, msg)
	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return nil
}

func (rm *room) getMailbox(userID string) *mailbox {
	mb, ok := rm.mailboxes[userID]
	if !ok {
		mb = &mailbox{notify: make(chan struct{}, 1)}
		rm.mailboxes[userID] = mb
	}
	return mb
}

// ActiveSnapshot returns the current active participant set. Used by relayd's
// REST surface and to seed new presence subscriptions.
func (r *Relay) ActiveSnapshot(roomID string) model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.getRoom(roomID))
}

func (r *Relay) snapshotLocked(rm *room) model.Snapshot {
	snap := model.Snapshot{RoomID: rm.id}
	for _, rec := range rm.records {
		if rec.IsActive {
			snap.Active = append(snap.Active, *rec)
		}
	}
	return snap
}

// notifyWatchers pushes the current snapshot to every watcher, replacing any
// undelivered older one. Callers must hold r.mu.
func (r *Relay) notifyWatchers(rm *room) {
	snap := r.snapshotLocked(rm)
	for _, w := range rm.watchers {
		select {
		case w.ch <- snap:
			continue
		default:
		}
		// Slot occupied by a stale snapshot: replace it.
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- snap:
		default:
		}
	}
}

func (r *Relay) SubscribeActiveParticipants(ctx context.Context, roomID string) (<-chan model.Snapshot, error) {
	r.mu.Lock()
	rm := r.getRoom(roomID)
	w := &watcher{ch: make(chan model.Snapshot, 1)}
	id := rm.nextWatch
	rm.nextWatch++
	rm.watchers[id] = w
	w.ch <- r.snapshotLocked(rm)
	r.mu.Unlock()

	out := make(chan model.Snapshot)
	go func() {
		defer func() {
			r.mu.Lock()
			delete(rm.watchers, id)
			r.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-w.ch:
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Relay) SubscribeSignals(ctx context.Context, roomID, userID string) (<-chan model.SignalMessage, error) {
	r.mu.Lock()
	rm := r.getRoom(roomID)
	mb := rm.getMailbox(userID)
	r.mu.Unlock()

	out := make(chan model.SignalMessage)
	go func() {
		defer close(out)
		for {
			r.mu.Lock()
			pending := mb.queue
			mb.queue = nil
			r.mu.Unlock()

			for _, msg := range pending {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-mb.notify:
			}
		}
	}()
	return out, nil
}
