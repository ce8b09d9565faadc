package call

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
	"github.com/sammcarthur07/CloudCounter-sub003/relay/memory"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func TestTwoSessionsNegotiateOverMemoryRelay(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	rl := memory.NewRelay(&logger)

	engA := &fakeEngine{}
	engB := &fakeEngine{}
	handlerA := &recordingHandler{}

	sessA, err := Join(ctx, Config{
		Relay:    rl,
		Engine:   engA,
		RoomID:   "R1",
		SelfID:   "A",
		SelfName: "Alice",
		Handler:  handlerA,
		Logger:   &logger,
	})
	require.NoError(t, err)

	sessB, err := Join(ctx, Config{
		Relay:    rl,
		Engine:   engB,
		RoomID:   "R1",
		SelfID:   "B",
		SelfName: "Bob",
		Logger:   &logger,
	})
	require.NoError(t, err)

	// Exactly one connection per side and one offer/answer round trip:
	// A (lower id) offered, B answered.
	require.Eventually(t, func() bool {
		return engA.count() == 1 && engB.count() == 1 &&
			engA.pc(0).remote().Type == engine.SDPAnswer &&
			engB.pc(0).remote().Type == engine.SDPOffer
	}, waitFor, tick, "offer/answer exchange did not complete")
	assert.Equal(t, 1, engA.count(), "one state machine per peer pair")

	// A locally discovered candidate reaches B through the relay.
	engA.pc(0).cb.OnICECandidate("cand-a1")
	require.Eventually(t, func() bool {
		cands := engB.pc(0).appliedCandidates()
		return len(cands) == 1 && cands[0] == "cand-a1"
	}, waitFor, tick, "candidate was not delivered")

	// Remote track arrival surfaces at A's UI boundary.
	engA.pc(0).cb.OnTrack(newFakeTrack("b-audio", engine.TrackAudio))
	require.Eventually(t, func() bool {
		return len(handlerA.availablePeers()) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"B"}, handlerA.availablePeers())
	require.Eventually(t, func() bool {
		return len(sessA.RemoteTracks()["B"]) == 1
	}, waitFor, tick)

	// B leaving tears down A's link and fires exactly one removal.
	require.NoError(t, sessB.Leave(ctx))
	require.Eventually(t, func() bool {
		return engA.pc(0).closed() == 1
	}, waitFor, tick, "A did not close the link after B left")
	assert.Equal(t, []string{"B"}, handlerA.removedPeers())
	assert.Empty(t, sessA.RemoteTracks())

	// Leave is idempotent.
	require.NoError(t, sessB.Leave(ctx))
	require.NoError(t, sessA.Leave(ctx))
	require.NoError(t, sessA.Leave(ctx))
}

func TestSessionRejectsIncompleteConfig(t *testing.T) {
	logger := zerolog.Nop()
	rl := memory.NewRelay(&logger)

	_, err := Join(context.Background(), Config{Relay: rl, Logger: &logger})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLeaveBeforeAnyPeerIsSafe(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	rl := memory.NewRelay(&logger)

	sess, err := Join(ctx, Config{
		Relay:  rl,
		Engine: &fakeEngine{},
		RoomID: "R1",
		SelfID: "solo",
		Logger: &logger,
	})
	require.NoError(t, err)
	require.NoError(t, sess.Leave(ctx))

	snap := rl.ActiveSnapshot("R1")
	assert.Empty(t, snap.Active)
}
