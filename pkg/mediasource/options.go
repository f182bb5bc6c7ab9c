package mediasource

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityDefault
	PriorityHigh
)

type TrackOption = func(*track) error

func WithH264Track(clockrate uint32) TrackOption {
	return func(track *track) error {
		if track.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media source")
		}
		track.codecCapability = &webrtc.RTPCodecCapability{}
		track.codecCapability.MimeType = webrtc.MimeTypeH264
		track.codecCapability.ClockRate = clockrate
		track.codecCapability.Channels = 0

		return nil
	}
}

func WithVP8Track(clockrate uint32) TrackOption {
	return func(track *track) error {
		if track.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media source")
		}
		track.codecCapability = &webrtc.RTPCodecCapability{}
		track.codecCapability.MimeType = webrtc.MimeTypeVP8
		track.codecCapability.ClockRate = clockrate
		track.codecCapability.Channels = 0

		return nil
	}
}

func WithOpusTrack(samplerate uint32, channelLayout uint16) TrackOption {
	return func(track *track) error {
		if track.codecCapability != nil {
			return errors.New("multiple tracks are not supported on single media source")
		}
		track.codecCapability = &webrtc.RTPCodecCapability{}
		track.codecCapability.MimeType = webrtc.MimeTypeOpus
		track.codecCapability.ClockRate = samplerate
		track.codecCapability.Channels = channelLayout

		return nil
	}
}

// WithRTPPassthrough makes the source accept pre-packetized RTP through
// WriteRTP instead of encoded samples.
func WithRTPPassthrough() TrackOption {
	return func(track *track) error {
		track.rtpPassthrough = true
		return nil
	}
}

func WithPriority(level Priority) TrackOption {
	return func(track *track) error {
		track.priority = level
		return nil
	}
}
