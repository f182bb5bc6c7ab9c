package callkit

import (
	"time"

	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
)

const (
	H264PayloadType    webrtc.PayloadType = 102
	H264RTXPayloadType webrtc.PayloadType = 103
	VP8PayloadType     webrtc.PayloadType = 96
	VP8RTXPayloadType  webrtc.PayloadType = 97
	OpusPayloadType    webrtc.PayloadType = 111
)

const (
	// initiateAckTimeout bounds how long an initiation may wait for its ack
	// before the attempt is abandoned and cleaned up.
	initiateAckTimeout = 10 * time.Second

	// connectedTimeout bounds how long an unconnected session may take to
	// reach connected before it is abandoned.
	connectedTimeout = 30 * time.Second

	// renegotiationTimeout bounds how long a renegotiation round may wait
	// for its answer before a fresh round is allowed on the session.
	renegotiationTimeout = 15 * time.Second

	// dedupFlushInterval is how often the router clears its processed-message
	// identity cache to bound memory.
	dedupFlushInterval = 10 * time.Second

	// controlChannelLabel is the data channel carrying media-state,
	// screen-share, disconnect, whiteboard and application envelopes. Only
	// the initiator of the current negotiation round creates it.
	controlChannelLabel = "control"

	// LocalPeerID is the sentinel peer id under which local stream registry
	// entries are keyed.
	LocalPeerID = "local"

	// screenStreamPrefix is the out-of-band stream-id prefix announced ahead
	// of a screen-share track. It is the highest-priority classifier rule.
	screenStreamPrefix = "screen:"
)

type NACKGeneratorOptions []nack.GeneratorOption

var (
	NACKGeneratorLowLatency NACKGeneratorOptions = []nack.GeneratorOption{nack.GeneratorSize(256), nack.GeneratorSkipLastN(2), nack.GeneratorMaxNacksPerPacket(1), nack.GeneratorInterval(10 * time.Millisecond)}
	NACKGeneratorDefault    NACKGeneratorOptions = []nack.GeneratorOption{nack.GeneratorSize(512), nack.GeneratorSkipLastN(5), nack.GeneratorMaxNacksPerPacket(2), nack.GeneratorInterval(50 * time.Millisecond)}
)

type NACKResponderOptions []nack.ResponderOption

var (
	NACKResponderLowLatency NACKResponderOptions = []nack.ResponderOption{nack.ResponderSize(256)}
	NACKResponderDefault    NACKResponderOptions = []nack.ResponderOption{nack.ResponderSize(1024)}
)

type TWCCSenderInterval time.Duration

const (
	TWCCIntervalLowLatency = TWCCSenderInterval(100 * time.Millisecond)
	TWCCIntervalDefault    = TWCCSenderInterval(200 * time.Millisecond)
)

type RTCPReportInterval time.Duration

const (
	RTCPReportIntervalLowLatency = RTCPReportInterval(1 * time.Second)
	RTCPReportIntervalDefault    = RTCPReportInterval(3 * time.Second)
)
