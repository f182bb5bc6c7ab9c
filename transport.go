package callkit

import (
	"github.com/pion/webrtc/v4"

	"github.com/openmeet/callkit/pkg/datachannel"
	"github.com/openmeet/callkit/pkg/streams"
)

// RemoteTrack describes an inbound track together with whatever metadata
// the transport reported. Fields the transport cannot know stay zero and
// the corresponding classifier rules simply never match.
type RemoteTrack struct {
	ID          string
	StreamID    string
	Media       streams.Kind // audio or video; screen is decided by the classifier
	Label       string
	ContentHint string
	Width       int
	Height      int
	FrameRate   float64

	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// Transport is the consumed RTC capability: offer/answer creation,
// description and candidate plumbing, track attach/detach, data channels
// and change notifications. Candidate gathering and codec negotiation live
// behind it; the orchestrator never looks inside.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	CreateDataChannel(label string, init *webrtc.DataChannelInit) (datachannel.Lower, error)

	OnICECandidate(fn func(candidate *webrtc.ICECandidate))
	OnTrack(fn func(remote RemoteTrack))
	OnDataChannel(fn func(lower datachannel.Lower))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	OnICEConnectionStateChange(fn func(state webrtc.ICEConnectionState))

	GetStats() webrtc.StatsReport
	Close() error
}

// pionTransport backs Transport with a *webrtc.PeerConnection.
type pionTransport struct {
	pc *webrtc.PeerConnection
}

func newPionTransport(api *webrtc.API, config webrtc.Configuration) (*pionTransport, error) {
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}
	return &pionTransport{pc: pc}, nil
}

func (t *pionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *pionTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(desc)
}

func (t *pionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *pionTransport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *pionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *pionTransport) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return t.pc.AddTrack(track)
}

func (t *pionTransport) RemoveTrack(sender *webrtc.RTPSender) error {
	return t.pc.RemoveTrack(sender)
}

func (t *pionTransport) CreateDataChannel(label string, init *webrtc.DataChannelInit) (datachannel.Lower, error) {
	return t.pc.CreateDataChannel(label, init)
}

func (t *pionTransport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

func (t *pionTransport) OnTrack(fn func(RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		media := streams.Video
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			media = streams.Audio
		}
		fn(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Media:    media,
			Label:    track.ID(),
			Track:    track,
			Receiver: receiver,
		})
	})
}

func (t *pionTransport) OnDataChannel(fn func(datachannel.Lower)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(dc)
	})
}

func (t *pionTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(fn)
}

func (t *pionTransport) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	t.pc.OnICEConnectionStateChange(fn)
}

func (t *pionTransport) GetStats() webrtc.StatsReport {
	return t.pc.GetStats()
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}
