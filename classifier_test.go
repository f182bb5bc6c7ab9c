package callkit

import (
	"testing"

	"github.com/pion/logging"

	"github.com/openmeet/callkit/pkg/streams"
)

func newTestClassifier() *trackClassifier {
	return &trackClassifier{log: logging.NewDefaultLoggerFactory().NewLogger("test")}
}

func TestClassifyAudioIsAlwaysCamera(t *testing.T) {
	classifier := newTestClassifier()

	remote := RemoteTrack{ID: "mic", StreamID: "screen:abc", Media: streams.Audio, Label: "screen capture"}
	if got := classifier.Classify(remote, classifyHints{}); got != ClassCamera {
		t.Fatalf("audio classified as %s", got)
	}
}

func TestClassifyRules(t *testing.T) {
	classifier := newTestClassifier()

	tests := []struct {
		name   string
		remote RemoteTrack
		hints  classifyHints
		want   TrackClass
	}{
		{
			name:   "stream prefix wins",
			remote: RemoteTrack{StreamID: "screen:abc-123", Media: streams.Video},
			want:   ClassScreen,
		},
		{
			name:   "announcement correlation id",
			remote: RemoteTrack{StreamID: "stream-42", Media: streams.Video},
			hints:  classifyHints{AnnouncedScreenID: "stream-42"},
			want:   ClassScreen,
		},
		{
			name:   "content hint detail",
			remote: RemoteTrack{StreamID: "s", Media: streams.Video, ContentHint: "detail"},
			want:   ClassScreen,
		},
		{
			name:   "label keyword",
			remote: RemoteTrack{StreamID: "s", Media: streams.Video, Label: "Primary Monitor"},
			want:   ClassScreen,
		},
		{
			name:   "second stream next to known camera",
			remote: RemoteTrack{StreamID: "other-stream", Media: streams.Video},
			hints:  classifyHints{CameraStreamID: "camera-stream"},
			want:   ClassScreen,
		},
		{
			name:   "known camera stream stays camera",
			remote: RemoteTrack{StreamID: "camera-stream", Media: streams.Video},
			hints:  classifyHints{CameraStreamID: "camera-stream"},
			want:   ClassCamera,
		},
		{
			name:   "ultrawide settings",
			remote: RemoteTrack{StreamID: "s", Media: streams.Video, Width: 2560, Height: 1080},
			want:   ClassScreen,
		},
		{
			name:   "high frame rate settings",
			remote: RemoteTrack{StreamID: "s", Media: streams.Video, FrameRate: 60},
			want:   ClassScreen,
		},
		{
			name:   "plain camera track",
			remote: RemoteTrack{StreamID: "s", Media: streams.Video, Label: "FaceTime HD", Width: 1280, Height: 720, FrameRate: 30},
			want:   ClassCamera,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifier.Classify(tt.remote, tt.hints); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyPriorityIsAuthoritative(t *testing.T) {
	classifier := newTestClassifier()

	// The stream-mismatch rule would say camera (known camera stream), but
	// the higher-priority content hint says screen.
	remote := RemoteTrack{StreamID: "camera-stream", Media: streams.Video, ContentHint: "detail"}
	hints := classifyHints{CameraStreamID: "camera-stream"}

	if got := classifier.Classify(remote, hints); got != ClassScreen {
		t.Fatalf("lower-priority rule overrode the winner: %s", got)
	}
}

func TestClassifyScreenShareWhileCameraActive(t *testing.T) {
	classifier := newTestClassifier()

	// A peer already sending camera video starts a screen share announced
	// out of band. Both tracks must keep their own slots.
	hints := classifyHints{AnnouncedScreenID: "screen:xyz", CameraStreamID: "cam-1"}

	camera := RemoteTrack{StreamID: "cam-1", Media: streams.Video}
	share := RemoteTrack{StreamID: "screen:xyz", Media: streams.Video}

	if got := classifier.Classify(camera, hints); got != ClassCamera {
		t.Fatalf("camera track classified as %s", got)
	}
	if got := classifier.Classify(share, hints); got != ClassScreen {
		t.Fatalf("screen track classified as %s", got)
	}
}
