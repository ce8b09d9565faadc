package call

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
)

func TestSelfMuteTogglesOnlyMatchingLocalTracks(t *testing.T) {
	audio := newFakeTrack("local-audio", engine.TrackAudio)
	video := newFakeTrack("local-video", engine.TrackVideo)
	m := newMediaControls([]engine.LocalTrack{audio, video}, nil, zerolog.Nop())

	m.SetSelfAudio(false)
	assert.False(t, audio.Enabled())
	assert.True(t, video.Enabled())
	assert.Equal(t, SelfMediaState{AudioEnabled: false, VideoEnabled: true}, m.SelfState())

	m.SetSelfVideo(false)
	m.SetSelfAudio(true)
	assert.True(t, audio.Enabled())
	assert.False(t, video.Enabled())
}

func TestSelfMuteChangeHookFires(t *testing.T) {
	var states []SelfMediaState
	audio := newFakeTrack("local-audio", engine.TrackAudio)
	m := newMediaControls([]engine.LocalTrack{audio}, func(s SelfMediaState) {
		states = append(states, s)
	}, zerolog.Nop())

	m.SetSelfAudio(false)
	m.SetSelfAudio(true)

	assert.Equal(t, []SelfMediaState{
		{AudioEnabled: false, VideoEnabled: true},
		{AudioEnabled: true, VideoEnabled: true},
	}, states)
}

func TestSuppressionAffectsOnlyTargetPeer(t *testing.T) {
	localAudio := newFakeTrack("local-audio", engine.TrackAudio)
	m := newMediaControls([]engine.LocalTrack{localAudio}, nil, zerolog.Nop())

	audioA := newFakeTrack("a-audio", engine.TrackAudio)
	audioB := newFakeTrack("b-audio", engine.TrackAudio)
	m.attachRemoteTrack("peerA", audioA)
	m.attachRemoteTrack("peerB", audioB)

	m.SetRemoteAudioSuppressed("peerA", true)

	// Suppressing A's audio must not touch B's track or the local track.
	assert.False(t, audioA.Enabled())
	assert.True(t, audioB.Enabled())
	assert.True(t, localAudio.Enabled())
	assert.Equal(t, SelfMediaState{AudioEnabled: true, VideoEnabled: true}, m.SelfState())
}

func TestSelfMuteDoesNotTouchSuppression(t *testing.T) {
	localAudio := newFakeTrack("local-audio", engine.TrackAudio)
	m := newMediaControls([]engine.LocalTrack{localAudio}, nil, zerolog.Nop())
	m.SetRemoteAudioSuppressed("peerA", true)

	m.SetSelfAudio(false)

	assert.Equal(t, PeerSuppressionState{AudioSuppressed: true}, m.Suppression("peerA"))
	assert.Equal(t, PeerSuppressionState{}, m.Suppression("peerB"))
}

func TestSuppressionAppliedToLateTrack(t *testing.T) {
	m := newMediaControls(nil, nil, zerolog.Nop())

	// Suppress before any track exists: a no-op now, effective later.
	m.SetRemoteVideoSuppressed("peerA", true)

	video := newFakeTrack("a-video", engine.TrackVideo)
	audio := newFakeTrack("a-audio", engine.TrackAudio)
	m.attachRemoteTrack("peerA", video)
	m.attachRemoteTrack("peerA", audio)

	assert.False(t, video.Enabled())
	assert.True(t, audio.Enabled(), "audio suppression was never requested")
}

func TestSuppressionSurvivesTrackLifecycle(t *testing.T) {
	m := newMediaControls(nil, nil, zerolog.Nop())
	m.SetRemoteAudioSuppressed("peerA", true)

	first := newFakeTrack("a-audio-1", engine.TrackAudio)
	m.attachRemoteTrack("peerA", first)
	assert.False(t, first.Enabled())

	// Peer drops and returns with a new track: the stored choice still holds.
	m.detachPeer("peerA")
	second := newFakeTrack("a-audio-2", engine.TrackAudio)
	m.attachRemoteTrack("peerA", second)
	assert.False(t, second.Enabled())
}

func TestRemoteTrackSnapshotIsACopy(t *testing.T) {
	m := newMediaControls(nil, nil, zerolog.Nop())
	m.attachRemoteTrack("peerA", newFakeTrack("a-audio", engine.TrackAudio))

	snap := m.remoteTrackSnapshot()
	delete(snap, "peerA")

	assert.Len(t, m.remoteTrackSnapshot(), 1)
}
