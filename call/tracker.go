package call

import (
	"github.com/sammcarthur07/CloudCounter-sub003/model"
)

// Presence event kinds emitted by the Tracker.
const (
	PeerJoined = "joined"
	PeerLeft   = "left"
)

type PresenceEvent struct {
	Kind     string
	PeerID   string
	UserName string
}

// Tracker converts the relay's full-snapshot presence stream into discrete
// joined/left events. The diff is on participant-id set membership, so a
// record whose heartbeat merely refreshed produces no event.
//
// Not safe for concurrent use; the room actor is its only caller.
type Tracker struct {
	known map[string]model.PresenceRecord
}

func NewTracker() *Tracker {
	return &Tracker{known: make(map[string]model.PresenceRecord)}
}

// Apply diffs snap against the previously seen snapshot and returns one
// event per membership transition. Left events come first so a consumer
// tears down stale links before dialing new ones.
func (t *Tracker) Apply(snap model.Snapshot) []PresenceEvent {
	current := make(map[string]model.PresenceRecord, len(snap.Active))
	for _, rec := range snap.Active {
		current[rec.UserID] = rec
	}

	var events []PresenceEvent
	for id := range t.known {
		if _, ok := current[id]; !ok {
			events = append(events, PresenceEvent{Kind: PeerLeft, PeerID: id})
		}
	}
	for id, rec := range current {
		if _, ok := t.known[id]; !ok {
			events = append(events, PresenceEvent{Kind: PeerJoined, PeerID: id, UserName: rec.UserName})
		}
	}

	t.known = current
	return events
}
