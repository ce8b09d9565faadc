package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
)

func snapshotOf(ids ...string) model.Snapshot {
	snap := model.Snapshot{RoomID: "R1"}
	for _, id := range ids {
		snap.Active = append(snap.Active, model.PresenceRecord{
			UserID:        id,
			UserName:      "user-" + id,
			IsActive:      true,
			JoinedAt:      time.Unix(100, 0),
			LastHeartbeat: time.Unix(100, 0),
		})
	}
	return snap
}

func eventCounts(events []PresenceEvent) (joined, left map[string]int) {
	joined = make(map[string]int)
	left = make(map[string]int)
	for _, ev := range events {
		switch ev.Kind {
		case PeerJoined:
			joined[ev.PeerID]++
		case PeerLeft:
			left[ev.PeerID]++
		}
	}
	return joined, left
}

func TestTrackerEmitsJoinedPerTransition(t *testing.T) {
	tr := NewTracker()

	joined, left := eventCounts(tr.Apply(snapshotOf("A")))
	assert.Equal(t, map[string]int{"A": 1}, joined)
	assert.Empty(t, left)

	joined, left = eventCounts(tr.Apply(snapshotOf("A", "B")))
	assert.Equal(t, map[string]int{"B": 1}, joined)
	assert.Empty(t, left)

	joined, left = eventCounts(tr.Apply(snapshotOf("B")))
	assert.Empty(t, joined)
	assert.Equal(t, map[string]int{"A": 1}, left)
}

func TestTrackerIgnoresHeartbeatOnlyUpdates(t *testing.T) {
	tr := NewTracker()
	require.NotEmpty(t, tr.Apply(snapshotOf("A", "B")))

	// Same membership, fresher records: must not produce left+joined noise.
	refreshed := snapshotOf("A", "B")
	for i := range refreshed.Active {
		refreshed.Active[i].LastHeartbeat = time.Unix(999, 0)
	}
	assert.Empty(t, tr.Apply(refreshed))
}

func TestTrackerRejoinCycle(t *testing.T) {
	tr := NewTracker()

	var totalJoined, totalLeft int
	sequence := []model.Snapshot{
		snapshotOf("A"),
		snapshotOf("A", "B"),
		snapshotOf("A"),      // B leaves
		snapshotOf("A", "B"), // B returns
		snapshotOf("A"),      // B leaves again
	}
	for _, snap := range sequence {
		joined, left := eventCounts(tr.Apply(snap))
		totalJoined += joined["B"]
		totalLeft += left["B"]
	}

	// One joined per inactive->active transition, one left per
	// active->inactive. No duplicates, no missed transitions.
	assert.Equal(t, 2, totalJoined)
	assert.Equal(t, 2, totalLeft)
}

func TestTrackerDuplicateSnapshotIsQuiet(t *testing.T) {
	tr := NewTracker()
	tr.Apply(snapshotOf("A", "B", "C"))
	assert.Empty(t, tr.Apply(snapshotOf("A", "B", "C")))
	assert.Empty(t, tr.Apply(snapshotOf("C", "B", "A"))) // order never matters
}

func TestTrackerLeftBeforeJoined(t *testing.T) {
	tr := NewTracker()
	tr.Apply(snapshotOf("A"))

	events := tr.Apply(snapshotOf("B"))
	require.Len(t, events, 2)
	assert.Equal(t, PeerLeft, events[0].Kind)
	assert.Equal(t, "A", events[0].PeerID)
	assert.Equal(t, PeerJoined, events[1].Kind)
	assert.Equal(t, "B", events[1].PeerID)
}
