package callkit

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// ClientConfig is the declarative form of the client options, loadable from
// JSON. Zero-value fields contribute no option.
type ClientConfig struct {
	Name string `json:"name"`

	// Media configuration
	H264 *H264Config `json:"h264,omitempty"`
	VP8  *VP8Config  `json:"vp8,omitempty"`
	Opus *OpusConfig `json:"opus,omitempty"`

	// Interceptor configurations
	NACK        *NACKPreset        `json:"nack,omitempty"`
	RTCPReports *RTCPReportsPreset `json:"rtcp_reports,omitempty"`
	TWCC        *TWCCPreset        `json:"twcc,omitempty"`

	// Feature flags
	SimulcastExtensions bool `json:"simulcast_extensions,omitempty"`
	TWCCHeaderExtension bool `json:"twcc_header_extension,omitempty"`
}

type H264Config struct {
	ClockRate uint32 `json:"clock_rate"`
}

type VP8Config struct {
	ClockRate uint32 `json:"clock_rate"`
}

type OpusConfig struct {
	SampleRate    uint32 `json:"sample_rate"`
	ChannelLayout uint16 `json:"channel_layout"`
}

type NACKPreset string
type RTCPReportsPreset string
type TWCCPreset string

const (
	NACKLowLatency NACKPreset = "low_latency"
	NACKDefault    NACKPreset = "default"

	RTCPReportsLowLatency RTCPReportsPreset = "low_latency"
	RTCPReportsDefault    RTCPReportsPreset = "default"

	TWCCLowLatency TWCCPreset = "low_latency"
	TWCCDefault    TWCCPreset = "default"
)

var (
	nackGeneratorPresets = map[NACKPreset]NACKGeneratorOptions{
		NACKLowLatency: NACKGeneratorLowLatency,
		NACKDefault:    NACKGeneratorDefault,
	}

	nackResponderPresets = map[NACKPreset]NACKResponderOptions{
		NACKLowLatency: NACKResponderLowLatency,
		NACKDefault:    NACKResponderDefault,
	}

	rtcpReportsPresets = map[RTCPReportsPreset]RTCPReportInterval{
		RTCPReportsLowLatency: RTCPReportIntervalLowLatency,
		RTCPReportsDefault:    RTCPReportIntervalDefault,
	}

	twccPresets = map[TWCCPreset]TWCCSenderInterval{
		TWCCLowLatency: TWCCIntervalLowLatency,
		TWCCDefault:    TWCCIntervalDefault,
	}
)

type optionBuilder struct {
	options []ClientOption
}

func (ob *optionBuilder) add(option ClientOption) *optionBuilder {
	if option != nil {
		ob.options = append(ob.options, option)
	}
	return ob
}

func (c *ClientConfig) ToOptions() []ClientOption {
	builder := &optionBuilder{}

	return builder.
		add(c.h264Option()).
		add(c.vp8Option()).
		add(c.opusOption()).
		add(c.nackOption()).
		add(c.rtcpReportsOption()).
		add(c.twccOption()).
		add(c.simulcastOption()).
		add(c.twccHeaderOption()).
		options
}

func (c *ClientConfig) h264Option() ClientOption {
	if c.H264 == nil {
		return nil
	}
	return WithH264MediaEngine(c.H264.ClockRate)
}

func (c *ClientConfig) vp8Option() ClientOption {
	if c.VP8 == nil {
		return nil
	}
	return WithVP8MediaEngine(c.VP8.ClockRate)
}

func (c *ClientConfig) opusOption() ClientOption {
	if c.Opus == nil {
		return nil
	}
	return WithOpusMediaEngine(c.Opus.SampleRate, c.Opus.ChannelLayout)
}

func (c *ClientConfig) nackOption() ClientOption {
	if c.NACK == nil {
		return nil
	}

	generator, generatorExists := nackGeneratorPresets[*c.NACK]
	responder, responderExists := nackResponderPresets[*c.NACK]

	if !generatorExists || !responderExists {
		return nil
	}

	return WithNACKInterceptor(generator, responder)
}

func (c *ClientConfig) rtcpReportsOption() ClientOption {
	if c.RTCPReports == nil {
		return nil
	}

	interval, exists := rtcpReportsPresets[*c.RTCPReports]
	if !exists {
		return nil
	}

	return WithRTCPReportsInterceptor(interval)
}

func (c *ClientConfig) twccOption() ClientOption {
	if c.TWCC == nil {
		return nil
	}

	interval, exists := twccPresets[*c.TWCC]
	if !exists {
		return nil
	}

	return WithTWCCSenderInterceptor(interval)
}

func (c *ClientConfig) simulcastOption() ClientOption {
	if !c.SimulcastExtensions {
		return nil
	}
	return WithSimulcastExtensionHeaders()
}

func (c *ClientConfig) twccHeaderOption() ClientOption {
	if !c.TWCCHeaderExtension {
		return nil
	}
	return WithTWCCHeaderExtensionSender()
}

// PeerConnectionConfig is the declarative form of the per-peer options.
type PeerConnectionConfig struct {
	InitiateAckTimeout time.Duration `json:"initiate_ack_timeout,omitempty"`
	ConnectedTimeout   time.Duration `json:"connected_timeout,omitempty"`

	ControlChannel *DataChannelSpec `json:"control_channel,omitempty"`
}

type DataChannelSpec struct {
	ID                *uint16 `json:"id,omitempty"`
	Ordered           *bool   `json:"ordered,omitempty"`
	Protocol          *string `json:"protocol,omitempty"`
	Negotiated        *bool   `json:"negotiated,omitempty"`
	MaxPacketLifeTime *uint16 `json:"max_packet_life_time,omitempty"`
	MaxRetransmits    *uint16 `json:"max_retransmits,omitempty"`
}

type pcOptionBuilder struct {
	options []PeerConnectionOption
}

func (ob *pcOptionBuilder) add(option PeerConnectionOption) *pcOptionBuilder {
	if option != nil {
		ob.options = append(ob.options, option)
	}
	return ob
}

func (c *PeerConnectionConfig) ToOptions() []PeerConnectionOption {
	builder := &pcOptionBuilder{}

	return builder.
		add(c.withTimeouts()).
		add(c.withControlChannel()).
		options
}

func (c *PeerConnectionConfig) withTimeouts() PeerConnectionOption {
	if c.InitiateAckTimeout <= 0 && c.ConnectedTimeout <= 0 {
		return nil
	}

	ack, connected := c.InitiateAckTimeout, c.ConnectedTimeout
	if ack <= 0 {
		ack = initiateAckTimeout
	}
	if connected <= 0 {
		connected = connectedTimeout
	}
	return WithHandshakeTimeouts(ack, connected)
}

func (c *PeerConnectionConfig) withControlChannel() PeerConnectionOption {
	if c.ControlChannel == nil {
		return nil
	}

	return WithControlChannelInit(&webrtc.DataChannelInit{
		Ordered:           c.ControlChannel.Ordered,
		MaxPacketLifeTime: c.ControlChannel.MaxPacketLifeTime,
		MaxRetransmits:    c.ControlChannel.MaxRetransmits,
		Protocol:          c.ControlChannel.Protocol,
		Negotiated:        c.ControlChannel.Negotiated,
		ID:                c.ControlChannel.ID,
	})
}
