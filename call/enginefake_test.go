package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
)

// fakeEngine records every peer connection it hands out so tests can poke
// their callbacks and inspect applied descriptions and candidates.
type fakeEngine struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (e *fakeEngine) NewPeerConnection(cb engine.Callbacks) (engine.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := &fakePC{cb: cb, id: len(e.pcs)}
	e.pcs = append(e.pcs, pc)
	return pc, nil
}

func (e *fakeEngine) pc(i int) *fakePC {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pcs[i]
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pcs)
}

type fakePC struct {
	mu sync.Mutex

	id int
	cb engine.Callbacks

	localDesc   engine.SessionDescription
	remoteDesc  engine.SessionDescription
	candidates  []string
	localTracks []engine.LocalTrack
	closeCount  int

	failOffer  bool
	failAnswer bool
	failRemote bool
}

func (p *fakePC) CreateOffer(context.Context) (engine.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOffer {
		return engine.SessionDescription{}, errors.New("offer rejected")
	}
	return engine.SessionDescription{Type: engine.SDPOffer, SDP: fmt.Sprintf("offer-sdp-%d", p.id)}, nil
}

func (p *fakePC) CreateAnswer(context.Context) (engine.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAnswer {
		return engine.SessionDescription{}, errors.New("answer rejected")
	}
	return engine.SessionDescription{Type: engine.SDPAnswer, SDP: fmt.Sprintf("answer-sdp-%d", p.id)}, nil
}

func (p *fakePC) SetLocalDescription(desc engine.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localDesc = desc
	return nil
}

func (p *fakePC) SetRemoteDescription(desc engine.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRemote {
		return errors.New("remote description rejected")
	}
	p.remoteDesc = desc
	return nil
}

func (p *fakePC) AddICECandidate(candidate string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePC) AddTrack(track engine.LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localTracks = append(p.localTracks, track)
	return nil
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	return nil
}

func (p *fakePC) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func (p *fakePC) remote() engine.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc
}

func (p *fakePC) closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

// fakeTrack implements both track interfaces for mute tests.
type fakeTrack struct {
	id      string
	kind    engine.TrackKind
	mu      sync.Mutex
	enabled bool
}

func newFakeTrack(id string, kind engine.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() engine.TrackKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// recordingHandler captures UI boundary callbacks.
type recordingHandler struct {
	mu        sync.Mutex
	available []string
	removed   []string
}

func (h *recordingHandler) RemoteTrackAvailable(peerID string, _ engine.RemoteTrack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = append(h.available, peerID)
}

func (h *recordingHandler) RemoteTrackRemoved(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, peerID)
}

func (h *recordingHandler) removedPeers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.removed...)
}

func (h *recordingHandler) availablePeers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.available...)
}
