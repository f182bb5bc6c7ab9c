package mediasource

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
)

// Tracks is the registry of local sources keyed by label (for example
// "microphone", "camera", "screen").
type Tracks struct {
	tracks map[string]*Track
	mu     sync.RWMutex
	ctx    context.Context
}

func CreateTracks(ctx context.Context) *Tracks {
	return &Tracks{
		tracks: make(map[string]*Track),
		ctx:    ctx,
	}
}

func (tracks *Tracks) CreateTrack(label, streamID string, options ...TrackOption) (*Track, error) {
	tracks.mu.Lock()
	defer tracks.mu.Unlock()

	if _, exists := tracks.tracks[label]; exists {
		return nil, fmt.Errorf("track with id = '%s' already exists", label)
	}

	track, err := CreateTrack(tracks.ctx, label, streamID, options...)
	if err != nil {
		return nil, err
	}

	tracks.tracks[label] = track
	return track, nil
}

func (tracks *Tracks) GetTrack(label string) (*Track, error) {
	tracks.mu.RLock()
	defer tracks.mu.RUnlock()

	track, exists := tracks.tracks[label]
	if !exists {
		return nil, errors.New("track does not exist")
	}
	return track, nil
}

// RemoveTrack drops a source from the registry without stopping it; the
// stream registry owns the terminal Stop.
func (tracks *Tracks) RemoveTrack(label string) {
	tracks.mu.Lock()
	defer tracks.mu.Unlock()

	delete(tracks.tracks, label)
}

func (tracks *Tracks) Tracks() iter.Seq2[string, *Track] {
	return func(yield func(string, *Track) bool) {
		tracks.mu.RLock()
		defer tracks.mu.RUnlock()

		for label, track := range tracks.tracks {
			if !yield(label, track) {
				return
			}
		}
	}
}
