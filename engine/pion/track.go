package pion

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/sammcarthur07/CloudCounter-sub003/engine"
)

// LocalTrack is a capture track shared by every peer connection in a room.
// Disabling it drops outgoing packets at the write gate, so mute takes
// effect immediately and without renegotiation.
type LocalTrack struct {
	kind    engine.TrackKind
	rtp     *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
}

// NewLocalTrack creates an RTP track for the given kind using the default
// codec for that kind (Opus for audio, VP8 for video).
func NewLocalTrack(kind engine.TrackKind, id, streamID string) (*LocalTrack, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case engine.TrackAudio:
		capability = webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		}
	case engine.TrackVideo:
		capability = webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}
	default:
		return nil, fmt.Errorf("unknown track kind %q", kind)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	lt := &LocalTrack{kind: kind, rtp: track}
	lt.enabled.Store(true)
	return lt, nil
}

func (t *LocalTrack) ID() string             { return t.rtp.ID() }
func (t *LocalTrack) Kind() engine.TrackKind { return t.kind }

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *LocalTrack) Enabled() bool           { return t.enabled.Load() }

// WriteRTP forwards one packet from the capture pipeline. Packets written
// while the track is disabled are silently dropped.
func (t *LocalTrack) WriteRTP(packet *rtp.Packet) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.rtp.WriteRTP(packet)
}
