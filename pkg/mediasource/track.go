// Package mediasource manages local outbound tracks (microphone, camera,
// screen capture). A single track can be bound as a sender to any number of
// peer connections at once; stopping it is one terminal action, owned by
// the stream registry rather than any individual peer connection.
package mediasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Attacher is the slice of the transport capability needed to bind a local
// track.
type Attacher interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
}

type track struct {
	codecCapability *webrtc.RTPCodecCapability
	priority        Priority
	rtpPassthrough  bool
}

type Track struct {
	*track
	label    string
	streamID string
	local    webrtc.TrackLocal
	sample   *webrtc.TrackLocalStaticSample
	rtpLocal *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

func CreateTrack(ctx context.Context, label, streamID string, options ...TrackOption) (*Track, error) {
	ctx2, cancel2 := context.WithCancel(ctx)

	t := &Track{
		track:    &track{},
		label:    label,
		streamID: streamID,
		senders:  make(map[string]*webrtc.RTPSender),
		ctx:      ctx2,
		cancel:   cancel2,
	}

	for _, option := range options {
		if err := option(t.track); err != nil {
			cancel2()
			return nil, err
		}
	}

	if t.codecCapability == nil {
		cancel2()
		return nil, errors.New("no track capabilities given")
	}

	if t.rtpPassthrough {
		local, err := webrtc.NewTrackLocalStaticRTP(*t.codecCapability, label, streamID)
		if err != nil {
			cancel2()
			return nil, err
		}
		t.rtpLocal, t.local = local, local
	} else {
		local, err := webrtc.NewTrackLocalStaticSample(*t.codecCapability, label, streamID)
		if err != nil {
			cancel2()
			return nil, err
		}
		t.sample, t.local = local, local
	}

	return t, nil
}

func (t *Track) ID() string       { return t.label }
func (t *Track) StreamID() string { return t.streamID }

func (t *Track) GetPriority() Priority { return t.priority }

// Kind derives audio/video from the codec mime type.
func (t *Track) Kind() webrtc.RTPCodecType {
	if strings.HasPrefix(t.codecCapability.MimeType, "audio/") {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Bind attaches the track to one peer connection as a sender. Binding an
// already-bound peer is an error; binding a stopped track is an error.
func (t *Track) Bind(peerID string, pc Attacher) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return errors.New("track is stopped")
	}
	if _, exists := t.senders[peerID]; exists {
		return fmt.Errorf("track already bound to peer '%s'", peerID)
	}

	sender, err := pc.AddTrack(t.local)
	if err != nil {
		return err
	}
	t.senders[peerID] = sender

	go t.rtpSenderLoop(sender)

	return nil
}

// Unbind detaches the track's sender from one peer connection. The track
// keeps running for every other bound peer.
func (t *Track) Unbind(peerID string, pc Attacher) error {
	t.mu.Lock()
	sender, exists := t.senders[peerID]
	delete(t.senders, peerID)
	t.mu.Unlock()

	if !exists {
		return nil
	}
	return pc.RemoveTrack(sender)
}

// BoundPeers lists the peer ids currently receiving this track.
func (t *Track) BoundPeers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers := make([]string, 0, len(t.senders))
	for peerID := range t.senders {
		peers = append(peers, peerID)
	}
	return peers
}

func (t *Track) rtpSenderLoop(sender *webrtc.RTPSender) {
	// THIS IS NEEDED AS interceptors (pion) doesnt work
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			rtcpBuf := make([]byte, 1500)
			if _, _, err := sender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}
}

func (t *Track) WriteSample(sample media.Sample) error {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()

	if stopped {
		return errors.New("track is stopped")
	}
	if t.sample == nil {
		return errors.New("track is rtp passthrough")
	}
	return t.sample.WriteSample(sample)
}

// WriteRTP forwards one pre-packetized packet on a passthrough source.
func (t *Track) WriteRTP(packet *rtp.Packet) error {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()

	if stopped {
		return errors.New("track is stopped")
	}
	if t.rtpLocal == nil {
		return errors.New("track is not rtp passthrough")
	}
	return t.rtpLocal.WriteRTP(packet)
}

// Stop terminally releases the track. Safe to call more than once; only the
// first call does anything.
func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil
	}
	t.stopped = true
	t.cancel()
	return nil
}
