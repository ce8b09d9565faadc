package model

import "time"

// Signal message types exchanged during negotiation.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice_candidate"
)

// SignalMessage is one point-to-point negotiation message. The relay
// delivers it to ReceiverID exactly once and deletes it afterwards;
// ordering across senders is not guaranteed.
type SignalMessage struct {
	Type       string    `json:"type"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	SDP        string    `json:"sdp,omitempty"`
	Candidate  string    `json:"candidate,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Envelope frame kinds used on the relayd websocket.
const (
	EnvelopeJoin     = "join"
	EnvelopeRejoin   = "rejoin"
	EnvelopeLeave    = "leave"
	EnvelopeSignal   = "signal"
	EnvelopeSnapshot = "snapshot"
)

// Envelope is the framing used between a websocket relay client and relayd.
// Client to server: join, rejoin, leave, signal.
// Server to client: snapshot, signal.
type Envelope struct {
	Kind     string         `json:"kind"`
	UserName string         `json:"userName,omitempty"`
	Signal   *SignalMessage `json:"signal,omitempty"`
	Snapshot *Snapshot      `json:"snapshot,omitempty"`
}
