package callkit

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

type PeerConnectionOption = func(*PeerConnection) error

// WithHandshakeTimeouts overrides how long an initiation may wait for its
// ack and how long an unconnected session may linger before being
// abandoned.
func WithHandshakeTimeouts(ack, connected time.Duration) PeerConnectionOption {
	return func(pc *PeerConnection) error {
		if ack <= 0 || connected <= 0 {
			return errors.New("handshake timeouts must be positive")
		}
		pc.initiateAckTimeout = ack
		pc.connectedTimeout = connected
		return nil
	}
}

// WithRenegotiationTimeout overrides how long a renegotiation round may
// wait for its answer before a fresh round is allowed.
func WithRenegotiationTimeout(d time.Duration) PeerConnectionOption {
	return func(pc *PeerConnection) error {
		if d <= 0 {
			return errors.New("renegotiation timeout must be positive")
		}
		pc.renegotiationTimeout = d
		return nil
	}
}

func WithControlChannelInit(init *webrtc.DataChannelInit) PeerConnectionOption {
	return func(pc *PeerConnection) error {
		pc.controlInit = init
		return nil
	}
}
