package memory

import (
	"context"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestRelay() *Relay {
	logger := zerolog.Nop()
	return NewRelay(&logger)
}

func receiveSnapshot(t *testing.T, ch <-chan model.Snapshot) model.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for snapshot")
		return model.Snapshot{}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	require.NoError(t, r.Join(ctx, "R1", "A", "Alice"))
	require.NoError(t, r.Join(ctx, "R1", "A", "Alice"))

	snap := r.ActiveSnapshot("R1")
	require.Len(t, snap.Active, 1, "duplicate join must not create a second record")
	assert.Equal(t, "A", snap.Active[0].UserID)
	assert.Equal(t, "Alice", snap.Active[0].UserName)
	assert.True(t, snap.Active[0].IsActive)
}

func TestLeavePreservesRecord(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	require.NoError(t, r.Join(ctx, "R1", "A", "Alice"))
	require.NoError(t, r.Leave(ctx, "R1", "A"))

	assert.Empty(t, r.ActiveSnapshot("R1").Active)

	// The record still exists: rejoin reactivates it with returnedAt set.
	require.NoError(t, r.Rejoin(ctx, "R1", "A", "Alice"))
	snap := r.ActiveSnapshot("R1")
	require.Len(t, snap.Active, 1)
	assert.NotNil(t, snap.Active[0].LeftAt)
	assert.NotNil(t, snap.Active[0].ReturnedAt)
	assert.False(t, snap.Active[0].JoinedAt.IsZero())
}

func TestRejoinWithoutRecordFallsBackToJoin(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	require.NoError(t, r.Rejoin(ctx, "R1", "A", "Alice"))

	snap := r.ActiveSnapshot("R1")
	require.Len(t, snap.Active, 1)
	assert.Nil(t, snap.Active[0].ReturnedAt)
}

func TestPresenceSubscriptionPushesOnSetChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay()

	snapshots, err := r.SubscribeActiveParticipants(ctx, "R1")
	require.NoError(t, err)

	assert.Empty(t, receiveSnapshot(t, snapshots).Active, "initial snapshot is empty")

	require.NoError(t, r.Join(ctx, "R1", "A", "Alice"))
	require.Eventually(t, func() bool {
		select {
		case snap := <-snapshots:
			return snap.Contains("A")
		default:
			return false
		}
	}, waitFor, tick)

	require.NoError(t, r.Leave(ctx, "R1", "A"))
	require.Eventually(t, func() bool {
		select {
		case snap := <-snapshots:
			return !snap.Contains("A")
		default:
			return false
		}
	}, waitFor, tick)
}

func TestSubscriptionChannelClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestRelay()

	snapshots, err := r.SubscribeActiveParticipants(ctx, "R1")
	require.NoError(t, err)
	receiveSnapshot(t, snapshots)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-snapshots:
			return !ok
		default:
			return false
		}
	}, waitFor, tick, "channel must close after cancellation")
}

func TestMailboxDeliversExactlyOnce(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	// Messages sent before anyone subscribes are buffered, not lost.
	msg1 := model.SignalMessage{Type: model.SignalOffer, SenderID: "A", ReceiverID: "B", SDP: "sdp-1"}
	msg2 := model.SignalMessage{Type: model.SignalICECandidate, SenderID: "A", ReceiverID: "B", Candidate: "cand-1"}
	require.NoError(t, r.SendSignal(ctx, "R1", msg1))
	require.NoError(t, r.SendSignal(ctx, "R1", msg2))

	subCtx, subCancel := context.WithCancel(ctx)
	signals, err := r.SubscribeSignals(subCtx, "R1", "B")
	require.NoError(t, err)

	got1 := <-signals
	got2 := <-signals
	assert.Equal(t, "sdp-1", got1.SDP)
	assert.Equal(t, "cand-1", got2.Candidate)
	assert.False(t, got1.Timestamp.IsZero(), "relay stamps messages on write")
	subCancel()

	// A fresh subscription sees nothing: delivery consumed the messages.
	ctx2, cancel2 := context.WithCancel(ctx)
	defer cancel2()
	signals2, err := r.SubscribeSignals(ctx2, "R1", "B")
	require.NoError(t, err)
	select {
	case msg, ok := <-signals2:
		if ok {
			t.Fatalf("message redelivered: %s", spew.Sdump(msg))
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMailboxIsPointToPoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay()

	require.NoError(t, r.SendSignal(ctx, "R1", model.SignalMessage{
		Type: model.SignalOffer, SenderID: "A", ReceiverID: "B", SDP: "for-b",
	}))

	signalsC, err := r.SubscribeSignals(ctx, "R1", "C")
	require.NoError(t, err)
	select {
	case msg := <-signalsC:
		t.Fatalf("C received B's message: %s", spew.Sdump(msg))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSenderOrderPreservedPerReceiver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay()

	for i := 0; i < 10; i++ {
		require.NoError(t, r.SendSignal(ctx, "R1", model.SignalMessage{
			Type:       model.SignalICECandidate,
			SenderID:   "A",
			ReceiverID: "B",
			Candidate:  string(rune('a' + i)),
		}))
	}

	signals, err := r.SubscribeSignals(ctx, "R1", "B")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		msg := <-signals
		assert.Equal(t, string(rune('a'+i)), msg.Candidate)
	}
}
