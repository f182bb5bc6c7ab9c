package callkit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClientClosed       = errors.New("client is closed")
	ErrPeerExists         = errors.New("peer connection already exists")
	ErrPeerNotFound       = errors.New("peer connection does not exist")
	ErrInvalidPhase       = errors.New("message not valid in current phase")
	ErrRenegotiationBusy  = errors.New("renegotiation already in flight")
	ErrRelayNotConfigured = errors.New("no relay configured")
)

// ErrorCause classifies transport errors surfaced to the UI collaborator.
// Device-related causes never touch peer state; ice-failed tears the peer
// down.
type ErrorCause string

const (
	CausePermissionDenied ErrorCause = "permission-denied"
	CauseDeviceBusy       ErrorCause = "device-busy"
	CauseDeviceMissing    ErrorCause = "device-missing"
	CauseUnsupported      ErrorCause = "unsupported"
	CauseICEFailed        ErrorCause = "ice-failed"
)

// NegotiationError marks a malformed description or a message received in
// the wrong phase. The peer is torn down and the user must re-initiate;
// there is no automatic retry.
type NegotiationError struct {
	PeerID string
	Phase  Phase
	Msg    MessageType
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed for peer %s (phase=%s, msg=%s): %v", e.PeerID, e.Phase, e.Msg, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransportError carries a cause classification for ICE and device
// failures.
type TransportError struct {
	PeerID string
	Cause  ErrorCause
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for peer %s (cause=%s): %v", e.PeerID, e.Cause, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClassifyDeviceError maps a capture/track acquisition failure onto the
// cause taxonomy by inspecting the error text. Unknown failures come back
// as unsupported.
func ClassifyDeviceError(err error) ErrorCause {
	if err == nil {
		return ""
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "permission") || strings.Contains(text, "denied"):
		return CausePermissionDenied
	case strings.Contains(text, "busy") || strings.Contains(text, "in use"):
		return CauseDeviceBusy
	case strings.Contains(text, "not found") || strings.Contains(text, "no such device") || strings.Contains(text, "missing"):
		return CauseDeviceMissing
	default:
		return CauseUnsupported
	}
}
