package callkit

import (
	"strings"

	"github.com/pion/logging"

	"github.com/openmeet/callkit/pkg/streams"
)

// TrackClass is the classifier verdict for an inbound video track.
type TrackClass string

const (
	ClassCamera TrackClass = "camera"
	ClassScreen TrackClass = "screen"
)

// classifyHints carries the per-peer out-of-band knowledge the rules read:
// the screen-share correlation id announced over the control channel and
// the stream id of the peer's already-known camera stream.
type classifyHints struct {
	AnnouncedScreenID string
	CameraStreamID    string
}

// trackClassifier decides camera vs screen through an ordered rule chain.
// Priority order is authoritative; rules further down can disagree with the
// winner, in which case the disagreement is logged and otherwise ignored.
type trackClassifier struct {
	log logging.LeveledLogger
}

type classifyRule struct {
	name  string
	apply func(remote RemoteTrack, hints classifyHints) (TrackClass, bool)
}

var classifyRules = []classifyRule{
	{
		// Out-of-band stream-id prefix agreed over the control channel
		// before the track arrives.
		name: "stream-prefix",
		apply: func(remote RemoteTrack, _ classifyHints) (TrackClass, bool) {
			if strings.HasPrefix(remote.StreamID, screenStreamPrefix) {
				return ClassScreen, true
			}
			return "", false
		},
	},
	{
		// A screenShare announcement whose correlation id matches.
		name: "announcement",
		apply: func(remote RemoteTrack, hints classifyHints) (TrackClass, bool) {
			if hints.AnnouncedScreenID != "" && remote.StreamID == hints.AnnouncedScreenID {
				return ClassScreen, true
			}
			return "", false
		},
	},
	{
		name: "content-hint",
		apply: func(remote RemoteTrack, _ classifyHints) (TrackClass, bool) {
			if remote.ContentHint == "detail" {
				return ClassScreen, true
			}
			return "", false
		},
	},
	{
		name: "label-keyword",
		apply: func(remote RemoteTrack, _ classifyHints) (TrackClass, bool) {
			label := strings.ToLower(remote.Label)
			for _, keyword := range []string{"screen", "display", "window", "monitor", "desktop"} {
				if strings.Contains(label, keyword) {
					return ClassScreen, true
				}
			}
			return "", false
		},
	},
	{
		// A second video stream that is not the known camera stream is a
		// screen share; the camera stream itself is a camera track.
		name: "stream-mismatch",
		apply: func(remote RemoteTrack, hints classifyHints) (TrackClass, bool) {
			if hints.CameraStreamID == "" {
				return "", false
			}
			if remote.StreamID != hints.CameraStreamID {
				return ClassScreen, true
			}
			return ClassCamera, true
		},
	},
	{
		// Capture settings: desktop captures tend to be very wide or to run
		// at unusually high frame rates.
		name: "settings",
		apply: func(remote RemoteTrack, _ classifyHints) (TrackClass, bool) {
			if remote.Height > 0 && float64(remote.Width)/float64(remote.Height) >= 1.9 {
				return ClassScreen, true
			}
			if remote.FrameRate >= 40 {
				return ClassScreen, true
			}
			return "", false
		},
	},
}

// Classify routes an inbound track to camera or screen. Audio tracks are
// always camera-side (microphone). Video defaults to camera when no rule
// matches.
func (c *trackClassifier) Classify(remote RemoteTrack, hints classifyHints) TrackClass {
	if remote.Media == streams.Audio {
		return ClassCamera
	}

	winner := ClassCamera
	winnerRule := ""
	for _, rule := range classifyRules {
		class, matched := rule.apply(remote, hints)
		if !matched {
			continue
		}
		if winnerRule == "" {
			winner, winnerRule = class, rule.name
			continue
		}
		if class != winner {
			c.log.Debugf("classifier rules disagree on track %s: %s says %s, %s says %s (keeping %s)",
				remote.ID, winnerRule, winner, rule.name, class, winner)
		}
	}
	return winner
}
