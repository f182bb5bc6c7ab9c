package mediasource

import (
	"context"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

func TestCreateTrackRequiresCodec(t *testing.T) {
	if _, err := CreateTrack(context.Background(), "camera", "stream-1"); err == nil {
		t.Fatal("track created without codec capabilities")
	}
}

func TestCreateTrackRejectsSecondCodec(t *testing.T) {
	_, err := CreateTrack(context.Background(), "camera", "stream-1",
		WithVP8Track(90000), WithH264Track(90000))
	if err == nil {
		t.Fatal("two codecs accepted on one source")
	}
}

func TestTrackKindFromMime(t *testing.T) {
	video, err := CreateTrack(context.Background(), "camera", "stream-1", WithVP8Track(90000))
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if video.Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("VP8 track kind = %s", video.Kind())
	}

	audio, err := CreateTrack(context.Background(), "microphone", "stream-1", WithOpusTrack(48000, 2))
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if audio.Kind() != webrtc.RTPCodecTypeAudio {
		t.Fatalf("opus track kind = %s", audio.Kind())
	}
}

func TestStopIsTerminalAndIdempotent(t *testing.T) {
	track, err := CreateTrack(context.Background(), "camera", "stream-1", WithVP8Track(90000))
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	if err := track.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := track.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if err := track.Bind("peer", nil); err == nil {
		t.Fatal("stopped track accepted a bind")
	}
}

func TestRTPPassthroughTrack(t *testing.T) {
	track, err := CreateTrack(context.Background(), "relay", "stream-1",
		WithVP8Track(90000), WithRTPPassthrough())
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	if err := track.WriteRTP(&rtp.Packet{}); err != nil {
		t.Fatalf("WriteRTP failed: %v", err)
	}
	if err := track.WriteSample(media.Sample{Data: []byte{0}, Duration: time.Second / 30}); err == nil {
		t.Fatal("passthrough track accepted a sample")
	}

	plain, err := CreateTrack(context.Background(), "camera", "stream-1", WithVP8Track(90000))
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if err := plain.WriteRTP(&rtp.Packet{}); err == nil {
		t.Fatal("sample track accepted an rtp packet")
	}
}

func TestTracksRegistry(t *testing.T) {
	tracks := CreateTracks(context.Background())

	track, err := tracks.CreateTrack("camera", "stream-1", WithVP8Track(90000))
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	if _, err := tracks.CreateTrack("camera", "stream-2", WithVP8Track(90000)); err == nil {
		t.Fatal("duplicate label accepted")
	}

	got, err := tracks.GetTrack("camera")
	if err != nil {
		t.Fatalf("GetTrack failed: %v", err)
	}
	if got != track {
		t.Fatal("registry returned the wrong track")
	}

	tracks.RemoveTrack("camera")
	if _, err := tracks.GetTrack("camera"); err == nil {
		t.Fatal("removed track still retrievable")
	}

	// Removal does not stop the source; the stream registry owns that.
	if err := track.WriteSample(media.Sample{Data: []byte{0}, Duration: time.Second / 30}); err != nil {
		t.Fatalf("track stopped by registry removal: %v", err)
	}
}
