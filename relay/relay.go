// Package relay defines the store-and-forward relay contract used to
// exchange presence and negotiation messages between call participants.
// Everything the relay does is best-effort over an unreliable store:
// callers treat every error as retryable.
package relay

import (
	"context"
	"errors"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
)

var (
	ErrJoin   = errors.New("unable to join room")
	ErrLeave  = errors.New("unable to leave room")
	ErrSend   = errors.New("unable to send signal")
	ErrClosed = errors.New("relay is closed")
)

// Relay is typed access to the shared store acting as presence table and
// per-participant signaling mailbox.
type Relay interface {
	// Join upserts an active presence record. Idempotent: joining while
	// already active refreshes heartbeat without duplicating the record.
	Join(ctx context.Context, roomID, userID, userName string) error

	// Leave marks the record inactive and stamps leftAt. The record is
	// never deleted.
	Leave(ctx context.Context, roomID, userID string) error

	// Rejoin re-activates an existing record and stamps returnedAt. If no
	// record exists it falls back to Join.
	Rejoin(ctx context.Context, roomID, userID, userName string) error

	// SendSignal appends a point-to-point message to the receiver's mailbox.
	SendSignal(ctx context.Context, roomID string, msg model.SignalMessage) error

	// SubscribeActiveParticipants pushes a full snapshot of active records
	// whenever the active set changes, starting with the current one. The
	// channel closes when ctx is cancelled.
	SubscribeActiveParticipants(ctx context.Context, roomID string) (<-chan model.Snapshot, error)

	// SubscribeSignals pushes each message addressed to userID exactly
	// once; a delivered message is deleted from the relay and never
	// redelivered. The channel closes when ctx is cancelled.
	SubscribeSignals(ctx context.Context, roomID, userID string) (<-chan model.SignalMessage, error)
}
