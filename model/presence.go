package model

import "time"

// PresenceRecord is one (room, participant) row in the relay's presence
// table. Records are upserted, never deleted, so leave/return history
// survives reconnects.
type PresenceRecord struct {
	UserID        string     `json:"userId"`
	UserName      string     `json:"userName"`
	JoinedAt      time.Time  `json:"joinedAt"`
	IsActive      bool       `json:"isActive"`
	LeftAt        *time.Time `json:"leftAt,omitempty"`
	ReturnedAt    *time.Time `json:"returnedAt,omitempty"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
}

// Snapshot is the full set of active presence records for a room at some
// point in time. The relay pushes a fresh snapshot on every set change;
// consumers diff consecutive snapshots themselves.
type Snapshot struct {
	RoomID string           `json:"roomId"`
	Active []PresenceRecord `json:"active"`
}

// ParticipantIDs returns the active participant id set.
func (s Snapshot) ParticipantIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Active))
	for _, rec := range s.Active {
		ids[rec.UserID] = struct{}{}
	}
	return ids
}

// Contains reports whether userID is active in this snapshot.
func (s Snapshot) Contains(userID string) bool {
	for _, rec := range s.Active {
		if rec.UserID == userID {
			return true
		}
	}
	return false
}
