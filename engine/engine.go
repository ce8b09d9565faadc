// Package engine declares the capability surface the call core consumes
// from the underlying media/transport implementation. The core drives
// offer/answer/candidate exchange through it and never touches codecs, NAT
// traversal, or rendering.
package engine

import "context"

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType
	SDP  string
}

// ICEConnectionState mirrors the transport's connection lifecycle.
type ICEConnectionState string

const (
	ICENew          ICEConnectionState = "new"
	ICEChecking     ICEConnectionState = "checking"
	ICEConnected    ICEConnectionState = "connected"
	ICECompleted    ICEConnectionState = "completed"
	ICEDisconnected ICEConnectionState = "disconnected"
	ICEFailed       ICEConnectionState = "failed"
	ICEClosed       ICEConnectionState = "closed"
)

// Terminal reports whether the state means the transport is gone for good.
// The core treats a terminal state like a remote leave: full teardown, no
// automatic reconnect.
func (s ICEConnectionState) Terminal() bool {
	switch s {
	case ICEDisconnected, ICEFailed, ICEClosed:
		return true
	}
	return false
}

// LocalTrack is a capture track shared read-only across peer connections.
// Only the mute coordinator flips its enabled flag; disabling suppresses
// transmission without renegotiation.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
}

// RemoteTrack is a received media track handed to the UI boundary. Its
// enabled flag gates local rendering only; flipping it is invisible to the
// remote side.
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
}

// Callbacks are fired by the engine from its own goroutines. Consumers must
// hand them off to their own scheduling discipline.
type Callbacks struct {
	OnICECandidate             func(candidate string)
	OnTrack                    func(track RemoteTrack)
	OnICEConnectionStateChange func(state ICEConnectionState)
	OnRenegotiationNeeded      func()
}

// PeerConnection is one negotiable transport toward a single remote peer.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(candidate string) error
	AddTrack(track LocalTrack) error
	Close() error
}

// Engine creates peer connections. One engine instance is shared by every
// link in a room.
type Engine interface {
	NewPeerConnection(cb Callbacks) (PeerConnection, error)
}
