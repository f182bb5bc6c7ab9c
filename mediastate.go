package callkit

import (
	"github.com/pion/logging"
	"github.com/pion/sdp/v3"

	"github.com/openmeet/callkit/pkg/datachannel"
	"github.com/openmeet/callkit/pkg/streams"
)

// mediaSync fans local media toggles out to connected peers over the
// control channel, ahead of the slower SDP renegotiation round trip, and
// applies the peer's announcements to the UI-visible state the moment they
// arrive.
type mediaSync struct {
	client *Client
	log    logging.LeveledLogger
}

// broadcastLocal ships the current local audio/video state to every peer.
// Control channel first; the relay carries it for peers whose channel has
// not opened yet.
func (s *mediaSync) broadcastLocal(state MediaState) {
	for _, pc := range s.client.peers() {
		pc.mu.Lock()
		control, phase := pc.control, pc.phase
		pc.mu.Unlock()

		if phase.terminal() || phase == PhaseIdle {
			continue
		}

		if control != nil {
			if err := control.SendEnvelope(datachannel.MediaStateEnvelope(state.Audio, state.Video)); err == nil {
				continue
			}
		}

		msg := NewSignalMessage(MsgMediaState, s.client.localID, pc.peerID)
		msg.Media = &MediaState{Audio: state.Audio, Video: state.Video}
		if err := s.client.router.Send(msg); err != nil {
			s.log.Debugf("media state to %s not delivered: %v", pc.peerID, err)
		}
	}
}

// announceScreen tells every peer the correlation id of the upcoming
// screen-share stream (or its end when id is empty), before any track
// arrives, so the classifier can match on it.
func (s *mediaSync) announceScreen(screenID string) {
	for _, pc := range s.client.peers() {
		pc.mu.Lock()
		control := pc.control
		pc.mu.Unlock()

		if control == nil {
			continue
		}
		if err := control.SendEnvelope(datachannel.ScreenShareEnvelope(screenID)); err != nil {
			s.log.Debugf("screen announcement to %s not delivered: %v", pc.peerID, err)
		}
	}
}

// applyRemote records a peer's announced state and updates the UI-visible
// registry immediately. video=false eagerly clears the remote video slot
// instead of waiting for the track-ended event, avoiding a stale-frame
// flash.
func (s *mediaSync) applyRemote(pc *PeerConnection, state MediaState) {
	pc.mu.Lock()
	pc.remoteMedia = state
	pc.explicitVideoOff = !state.Video
	pc.mu.Unlock()

	s.client.bus.publish(MediaEvent{PeerID: pc.peerID, State: state})

	if state.Video {
		return
	}

	key := streams.Key{Direction: streams.Remote, Kind: streams.Video, PeerID: pc.peerID}
	if s.client.registry.Has(key) {
		if err := s.client.registry.Clear(key); err != nil {
			s.log.Warnf("error while clearing video entry for %s: %v", pc.peerID, err)
		}
		s.client.bus.publish(TrackEvent{PeerID: pc.peerID, Media: streams.Video, Enabled: false})
	}
}

// inspectOffer applies the offer-without-video rule before the description
// is set. An offer with no video section is only authoritative "video off"
// when an explicit mediaState{video:false} was previously received;
// otherwise it is assumed to be an audio-only renegotiation and the
// existing video stream is preserved. Called with pc.mu held; the returned
// func carries the registry clear and its events and must run after the
// lock is dropped, so a subscriber reading peer state cannot block the
// orchestrator.
func (s *mediaSync) inspectOffer(pc *PeerConnection, rawSDP string) func() {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(rawSDP)); err != nil {
		s.log.Debugf("offer from %s did not parse for media inspection: %v", pc.peerID, err)
		return nil
	}

	for _, media := range parsed.MediaDescriptions {
		if media.MediaName.Media == "video" {
			return nil
		}
	}

	if !pc.explicitVideoOff {
		s.log.Debugf("offer from %s has no video section but no explicit video-off was seen, preserving stream", pc.peerID)
		return nil
	}

	return func() {
		key := streams.Key{Direction: streams.Remote, Kind: streams.Video, PeerID: pc.peerID}
		if !s.client.registry.Has(key) {
			return
		}
		if err := s.client.registry.Clear(key); err != nil {
			s.log.Warnf("error while clearing video entry for %s: %v", pc.peerID, err)
		}
		s.client.bus.publish(TrackEvent{PeerID: pc.peerID, Media: streams.Video, Enabled: false})
	}
}
