package datachannel

import (
	"encoding/json"
	"fmt"
)

// EnvelopeType tags an out-of-band data channel message. Types outside the
// reserved set are delivered to the unhandled hook as generic application
// messages.
type EnvelopeType string

const (
	TypeMediaState  EnvelopeType = "mediaState"
	TypeScreenShare EnvelopeType = "screenShare"
	TypeDisconnect  EnvelopeType = "disconnect"
	TypeWhiteboard  EnvelopeType = "whiteboard"
)

// Envelope is the single wire shape for control messages. Fields are
// populated according to Type; unknown extra fields survive round trips in
// Payload for application messages.
type Envelope struct {
	Type EnvelopeType `json:"type"`

	// mediaState
	Audio *bool `json:"audio,omitempty"`
	Video *bool `json:"video,omitempty"`

	// screenShare; empty means the share stopped
	ScreenID string `json:"screenId,omitempty"`

	// disconnect
	Sender string `json:"sender,omitempty"`

	// whiteboard and application messages
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (env Envelope) Encode() ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	return json.Marshal(env)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("error while decoding envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("envelope has no type")
	}
	return env, nil
}

// MediaStateEnvelope reports the local audio/video enablement, sent to every
// connected peer ahead of SDP renegotiation for instant UI feedback.
func MediaStateEnvelope(audio, video bool) Envelope {
	return Envelope{Type: TypeMediaState, Audio: &audio, Video: &video}
}

// ScreenShareEnvelope announces the correlation id of an upcoming
// screen-share stream, or the end of the share when id is empty.
func ScreenShareEnvelope(id string) Envelope {
	return Envelope{Type: TypeScreenShare, ScreenID: id}
}

// DisconnectEnvelope notifies the remote side of a graceful hang-up.
func DisconnectEnvelope(sender string) Envelope {
	return Envelope{Type: TypeDisconnect, Sender: sender}
}
