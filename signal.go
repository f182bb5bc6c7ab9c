// Package callkit implements the peer-connection negotiation and media-state
// orchestration engine of a multi-party call. It sits between a signaling
// relay (message transport) and the WebRTC transport capability, and drives
// the multi-phase handshake, renegotiation and teardown for each remote peer.
package callkit

import (
	"time"

	"github.com/google/uuid"
)

// MessageType enumerates the closed set of relay protocol messages. Routing
// switches over these constants; anything outside the set is dropped by the
// router before it reaches an orchestrator.
type MessageType string

const (
	MsgInitiate        MessageType = "initiate"
	MsgInitiateAck     MessageType = "initiate-ack"
	MsgOffer           MessageType = "offer"
	MsgOfferAck        MessageType = "offer-ack"
	MsgAnswer          MessageType = "answer"
	MsgAnswerAck       MessageType = "answer-ack"
	MsgICECandidate    MessageType = "ice-candidate"
	MsgICECandidateAck MessageType = "ice-candidate-ack"
	MsgICEComplete     MessageType = "ice-complete"
	MsgICECompleteAck  MessageType = "ice-complete-ack"
	MsgDisconnect      MessageType = "disconnect"
	MsgMediaState      MessageType = "media-state"

	// MsgHeartbeat is relay-level liveness traffic. It is deduplicated like
	// everything else but exempt from verbose tracing.
	MsgHeartbeat MessageType = "heartbeat"
)

func (t MessageType) Valid() bool {
	switch t {
	case MsgInitiate, MsgInitiateAck, MsgOffer, MsgOfferAck, MsgAnswer,
		MsgAnswerAck, MsgICECandidate, MsgICECandidateAck, MsgICEComplete,
		MsgICECompleteAck, MsgDisconnect, MsgMediaState, MsgHeartbeat:
		return true
	}
	return false
}

// Ack returns the acknowledgement type paired with t, if the protocol
// defines one. Acks exist purely for diagnosability and queue-drain signals;
// a missing ack is never a failure by itself.
func (t MessageType) Ack() (MessageType, bool) {
	switch t {
	case MsgInitiate:
		return MsgInitiateAck, true
	case MsgOffer:
		return MsgOfferAck, true
	case MsgAnswer:
		return MsgAnswerAck, true
	case MsgICECandidate:
		return MsgICECandidateAck, true
	case MsgICEComplete:
		return MsgICECompleteAck, true
	}
	return "", false
}

// MediaState is the last known audio/video enablement of a peer, exchanged
// both over the relay (media-state messages) and the control data channel.
type MediaState struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// SignalMessage is the wire unit exchanged over the relay. Immutable once
// sent; the receiver derives its dedup identity rather than trusting ID.
type SignalMessage struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded webrtc.ICECandidateInit
	Media     *MediaState `json:"media,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"` // unix milliseconds, sender clock
}

// NewSignalMessage stamps a fresh message with an id and the sender clock.
func NewSignalMessage(t MessageType, from, to string) SignalMessage {
	return SignalMessage{
		ID:        uuid.NewString(),
		Type:      t,
		From:      from,
		To:        to,
		Timestamp: time.Now().UnixMilli(),
	}
}

type (
	// Handler receives every deduplicated relay message.
	Handler func(msg SignalMessage)

	// HandlerID identifies a registered handler for removal.
	HandlerID int64
)

// Relay is the consumed signaling capability. Implementations own delivery
// and reconnection; the engine only guarantees idempotent, ordered
// processing of whatever the relay hands over.
type Relay interface {
	Send(msg SignalMessage) error
	AddHandler(fn Handler) HandlerID
	RemoveHandler(id HandlerID)
	Close() error
}
