package call

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
)

// SelfMediaState is what this participant transmits to everyone. It is
// distinct from per-peer suppression: conflating the two is the bug class
// the split types exist to prevent.
type SelfMediaState struct {
	AudioEnabled bool
	VideoEnabled bool
}

// PeerSuppressionState is this device's private choice not to render one
// remote peer's media. It is never transmitted and never touches the
// negotiation layer.
type PeerSuppressionState struct {
	AudioSuppressed bool
	VideoSuppressed bool
}

// MediaControls owns both mute models. Self state toggles the shared local
// tracks on the engine; suppression state toggles only the local rendering
// gate of one peer's remote tracks. The two are stored and applied through
// separate paths on purpose.
type MediaControls struct {
	logger zerolog.Logger

	mu          sync.Mutex
	localTracks []engine.LocalTrack
	self        SelfMediaState
	onSelf      func(state SelfMediaState)

	// Suppression outlives track handles: state set before a track arrives
	// is applied when it does.
	suppression  map[string]PeerSuppressionState
	remoteTracks map[string][]engine.RemoteTrack
}

func newMediaControls(localTracks []engine.LocalTrack, onSelf func(SelfMediaState), logger zerolog.Logger) *MediaControls {
	return &MediaControls{
		logger:       logger.With().Str("component", "media-controls").Logger(),
		localTracks:  localTracks,
		self:         SelfMediaState{AudioEnabled: true, VideoEnabled: true},
		onSelf:       onSelf,
		suppression:  make(map[string]PeerSuppressionState),
		remoteTracks: make(map[string][]engine.RemoteTrack),
	}
}

// SetSelfAudio toggles the local audio tracks without renegotiation. The
// registered change hook is invoked so the application layer can mirror the
// state to peers out of band.
func (m *MediaControls) SetSelfAudio(enabled bool) {
	m.setSelf(engine.TrackAudio, enabled)
}

// SetSelfVideo toggles the local video tracks without renegotiation.
func (m *MediaControls) SetSelfVideo(enabled bool) {
	m.setSelf(engine.TrackVideo, enabled)
}

func (m *MediaControls) setSelf(kind engine.TrackKind, enabled bool) {
	m.mu.Lock()
	if kind == engine.TrackAudio {
		m.self.AudioEnabled = enabled
	} else {
		m.self.VideoEnabled = enabled
	}
	state := m.self
	hook := m.onSelf
	for _, track := range m.localTracks {
		if track.Kind() == kind {
			track.SetEnabled(enabled)
		}
	}
	m.mu.Unlock()

	m.logger.Debug().
		Str("kind", string(kind)).
		Bool("enabled", enabled).
		Msg("self media state changed")
	if hook != nil {
		hook(state)
	}
}

// SelfState returns the current self-broadcast state.
func (m *MediaControls) SelfState() SelfMediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// SetRemoteAudioSuppressed stops or resumes local playback of peerID's
// audio. A no-op for peers with no current track; the stored state applies
// when one arrives.
func (m *MediaControls) SetRemoteAudioSuppressed(peerID string, suppressed bool) {
	m.setSuppressed(peerID, engine.TrackAudio, suppressed)
}

// SetRemoteVideoSuppressed stops or resumes local rendering of peerID's
// video.
func (m *MediaControls) SetRemoteVideoSuppressed(peerID string, suppressed bool) {
	m.setSuppressed(peerID, engine.TrackVideo, suppressed)
}

func (m *MediaControls) setSuppressed(peerID string, kind engine.TrackKind, suppressed bool) {
	m.mu.Lock()
	state := m.suppression[peerID]
	if kind == engine.TrackAudio {
		state.AudioSuppressed = suppressed
	} else {
		state.VideoSuppressed = suppressed
	}
	m.suppression[peerID] = state
	for _, track := range m.remoteTracks[peerID] {
		if track.Kind() == kind {
			track.SetEnabled(!suppressed)
		}
	}
	m.mu.Unlock()

	m.logger.Debug().
		Str("peerID", peerID).
		Str("kind", string(kind)).
		Bool("suppressed", suppressed).
		Msg("remote suppression changed")
}

// Suppression returns the stored suppression state for peerID.
func (m *MediaControls) Suppression(peerID string) PeerSuppressionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suppression[peerID]
}

// attachRemoteTrack records a newly arrived track and applies any
// suppression chosen before it existed.
func (m *MediaControls) attachRemoteTrack(peerID string, track engine.RemoteTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.remoteTracks[peerID] = append(m.remoteTracks[peerID], track)
	state := m.suppression[peerID]
	switch track.Kind() {
	case engine.TrackAudio:
		track.SetEnabled(!state.AudioSuppressed)
	case engine.TrackVideo:
		track.SetEnabled(!state.VideoSuppressed)
	}
}

// remoteTrackSnapshot copies the current remote track handles for
// concurrent reads by the UI boundary.
func (m *MediaControls) remoteTrackSnapshot() map[string][]engine.RemoteTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]engine.RemoteTrack, len(m.remoteTracks))
	for peerID, tracks := range m.remoteTracks {
		out[peerID] = append([]engine.RemoteTrack(nil), tracks...)
	}
	return out
}

// detachPeer drops the peer's track handles. Suppression state is kept: it
// is independent of track lifecycle and applies again if the peer returns.
func (m *MediaControls) detachPeer(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.remoteTracks, peerID)
}
