package streams

import (
	"sync"
	"testing"
)

func TestSetReplacesAndStopsPrevious(t *testing.T) {
	registry := NewRegistry()
	key := Key{Direction: Remote, Kind: Video, PeerID: "bob"}

	var mu sync.Mutex
	var stops []string
	stopper := func(id string) func() error {
		return func() error {
			mu.Lock()
			stops = append(stops, id)
			mu.Unlock()
			return nil
		}
	}

	if err := registry.Set(key, &Entry{StreamID: "one", Stop: stopper("one")}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := registry.Set(key, &Entry{StreamID: "two", Stop: stopper("two")}); err != nil {
		t.Fatalf("replacing Set failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stops) != 1 || stops[0] != "one" {
		t.Fatalf("expected previous entry stopped exactly once, got %v", stops)
	}

	entry, exists := registry.Get(key)
	if !exists || entry.StreamID != "two" {
		t.Fatalf("slot does not hold the replacement: %+v", entry)
	}
}

func TestClearStopsHeldTrack(t *testing.T) {
	registry := NewRegistry()
	key := Key{Direction: Local, Kind: Audio, PeerID: "local"}

	var stopped int
	if err := registry.Set(key, &Entry{Stop: func() error { stopped++; return nil }}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := registry.Clear(key); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if stopped != 1 {
		t.Fatalf("held track stopped %d times, want 1", stopped)
	}
	if registry.Has(key) {
		t.Fatal("slot still occupied after Clear")
	}
}

func TestClearPeerReleasesEverySlot(t *testing.T) {
	registry := NewRegistry()

	for _, kind := range []Kind{Audio, Video, Screen} {
		if err := registry.Set(Key{Direction: Remote, Kind: kind, PeerID: "bob"}, &Entry{StreamID: "s"}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := registry.Set(Key{Direction: Remote, Kind: Video, PeerID: "carol"}, &Entry{StreamID: "c"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := registry.ClearPeer("bob"); err != nil {
		t.Fatalf("ClearPeer failed: %v", err)
	}

	for _, kind := range []Kind{Audio, Video, Screen} {
		if registry.Has(Key{Direction: Remote, Kind: kind, PeerID: "bob"}) {
			t.Fatalf("bob still holds a %s slot", kind)
		}
	}
	if !registry.Has(Key{Direction: Remote, Kind: Video, PeerID: "carol"}) {
		t.Fatal("ClearPeer leaked into another peer")
	}
}

func TestListenersObserveMutations(t *testing.T) {
	registry := NewRegistry()
	key := Key{Direction: Remote, Kind: Video, PeerID: "bob"}

	type notification struct {
		key     Key
		cleared bool
	}

	var mu sync.Mutex
	var seen []notification
	id := registry.AddListener(func(key Key, entry *Entry) {
		mu.Lock()
		seen = append(seen, notification{key: key, cleared: entry == nil})
		mu.Unlock()
	})

	_ = registry.Set(key, &Entry{StreamID: "s"})
	_ = registry.Clear(key)

	registry.RemoveListener(id)
	_ = registry.Set(key, &Entry{StreamID: "again"})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("listener saw %d notifications, want 2", len(seen))
	}
	if seen[0].cleared || !seen[1].cleared {
		t.Fatalf("notification order wrong: %+v", seen)
	}
	if seen[0].key != key {
		t.Fatalf("notification carried wrong key: %+v", seen[0].key)
	}
}

func TestPeersListsRemoteOnly(t *testing.T) {
	registry := NewRegistry()

	_ = registry.Set(Key{Direction: Remote, Kind: Video, PeerID: "bob"}, &Entry{})
	_ = registry.Set(Key{Direction: Remote, Kind: Audio, PeerID: "bob"}, &Entry{})
	_ = registry.Set(Key{Direction: Local, Kind: Video, PeerID: "local"}, &Entry{})

	peers := registry.Peers()
	if len(peers) != 1 || peers[0] != "bob" {
		t.Fatalf("Peers() = %v, want [bob]", peers)
	}
}
