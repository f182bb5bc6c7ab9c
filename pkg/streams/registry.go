// Package streams owns the local and remote media-track references of a
// call, keyed by (direction, kind, peer). The registry is the single source
// of truth for "does peer X currently have audio/video/screen", and it owns
// the terminal Stop of any track it holds: a local track attached to many
// peer connections is stopped here exactly once, never by an individual
// peer connection.
package streams

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type Direction string

const (
	Local  Direction = "local"
	Remote Direction = "remote"
)

type Kind string

const (
	Audio  Kind = "audio"
	Video  Kind = "video"
	Screen Kind = "screen"
)

// Key addresses one registry slot. Local entries use the owning client's
// sentinel peer id.
type Key struct {
	Direction Direction
	Kind      Kind
	PeerID    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Direction, k.Kind, k.PeerID)
}

// Entry is one held track reference. Stop, when non-nil, releases the
// underlying capture or receiver; it is invoked by the registry when the
// slot is cleared and must be safe to call once.
type Entry struct {
	StreamID string
	TrackID  string
	Stop     func() error
}

// Listener observes registry mutations. entry is nil when the slot was
// cleared.
type Listener func(key Key, entry *Entry)

type ListenerID int64

// Registry is the flat (direction, kind, peer) stream table.
type Registry struct {
	mu        sync.RWMutex
	entries   map[Key]*Entry
	listeners map[ListenerID]Listener
	nextID    atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[Key]*Entry),
		listeners: make(map[ListenerID]Listener),
	}
}

func (r *Registry) AddListener(fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ListenerID(r.nextID.Add(1))
	r.listeners[id] = fn
	return id
}

func (r *Registry) RemoveListener(id ListenerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.listeners, id)
}

// Set stores an entry, stopping and replacing whatever the slot held
// before. Every mutation notifies the listeners.
func (r *Registry) Set(key Key, entry *Entry) error {
	r.mu.Lock()
	prev := r.entries[key]
	if entry == nil {
		delete(r.entries, key)
	} else {
		r.entries[key] = entry
	}
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	var err error
	if prev != nil && prev.Stop != nil && (entry == nil || prev != entry) {
		err = prev.Stop()
	}

	for _, fn := range listeners {
		fn(key, entry)
	}
	return err
}

// Clear empties a slot, stopping the held track first so hardware capture
// is never orphaned.
func (r *Registry) Clear(key Key) error {
	return r.Set(key, nil)
}

// ClearPeer releases every slot of one remote peer. Used on teardown.
func (r *Registry) ClearPeer(peerID string) error {
	r.mu.RLock()
	keys := make([]Key, 0, 4)
	for key := range r.entries {
		if key.PeerID == peerID {
			keys = append(keys, key)
		}
	}
	r.mu.RUnlock()

	var err error
	for _, key := range keys {
		if cerr := r.Clear(key); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Registry) Get(key Key) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[key]
	return entry, exists
}

// Has reports whether the slot currently holds a track.
func (r *Registry) Has(key Key) bool {
	_, exists := r.Get(key)
	return exists
}

// Peers returns the remote peer ids currently holding at least one entry.
func (r *Registry) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	peers := make([]string, 0, len(r.entries))
	for key := range r.entries {
		if key.Direction != Remote {
			continue
		}
		if _, ok := seen[key.PeerID]; ok {
			continue
		}
		seen[key.PeerID] = struct{}{}
		peers = append(peers, key.PeerID)
	}
	return peers
}

func (r *Registry) snapshotListenersLocked() []Listener {
	listeners := make([]Listener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}
