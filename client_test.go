package callkit

import (
	"sync"
	"testing"
	"time"

	"github.com/openmeet/callkit/pkg/streams"
)

func TestRouteIgnoresMessagesForOthers(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	alice, _ := newTestClient(t, hub, "alice")

	outsider := hub.Attach()
	defer outsider.Close()

	if err := outsider.Send(NewSignalMessage(MsgInitiate, "bob", "carol")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := alice.Peer("bob"); err == nil {
		t.Fatal("a message addressed to someone else created a session")
	}
}

func TestRouteIgnoresNonInitiateFromUnknownPeer(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	alice, _ := newTestClient(t, hub, "alice")

	outsider := hub.Attach()
	defer outsider.Close()

	offer := NewSignalMessage(MsgOffer, "bob", "alice")
	offer.SDP = testOfferSDP
	if err := outsider.Send(offer); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := alice.Peer("bob"); err == nil {
		t.Fatal("an offer from an unknown peer created a session")
	}
}

func TestInitiateFromUnknownPeerCreatesSession(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	alice, _ := newTestClient(t, hub, "alice")

	outsider := hub.Attach()
	defer outsider.Close()

	if err := outsider.Send(NewSignalMessage(MsgInitiate, "bob", "alice")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitFor(t, "responding session", func() bool { return phaseOf(alice, "bob") == PhaseResponding })
}

func TestMediaStateReachesPeerOverRelay(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	alice, _ := newTestClient(t, hub, "alice")
	bob, _ := newTestClient(t, hub, "bob")

	alicePC, err := alice.ensurePeer("bob")
	if err != nil {
		t.Fatalf("ensurePeer failed: %v", err)
	}
	alicePC.mu.Lock()
	alicePC.phase = PhaseConnected
	alicePC.mu.Unlock()

	if _, err := bob.ensurePeer("alice"); err != nil {
		t.Fatalf("ensurePeer failed: %v", err)
	}

	var mu sync.Mutex
	var states []MediaState
	bob.Subscribe(EventMedia, func(ev Event) {
		mu.Lock()
		states = append(states, ev.(MediaEvent).State)
		mu.Unlock()
	})

	// No control channel is open, so the announcement falls back to the
	// relay path.
	alice.sync.broadcastLocal(MediaState{Audio: true, Video: false})

	waitFor(t, "media state delivered", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if !states[0].Audio || states[0].Video {
		t.Fatalf("media state mangled in transit: %+v", states[0])
	}
}

func TestPublishAudioReplacesExistingTrack(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	alice, _ := newTestClient(t, hub, "alice")

	var mu sync.Mutex
	var errorsSeen int
	alice.Subscribe(EventError, func(Event) {
		mu.Lock()
		errorsSeen++
		mu.Unlock()
	})

	first, err := alice.PublishAudio()
	if err != nil {
		t.Fatalf("PublishAudio failed: %v", err)
	}
	second, err := alice.PublishAudio()
	if err != nil {
		t.Fatalf("repeated PublishAudio failed: %v", err)
	}
	if second == first {
		t.Fatal("repeated publish returned the replaced track")
	}

	// The registry swap stops the replaced source.
	if err := first.Bind("peer", nil); err == nil {
		t.Fatal("replaced track still accepts binds")
	}

	key := streams.Key{Direction: streams.Local, Kind: streams.Audio, PeerID: LocalPeerID}
	entry, exists := alice.registry.Get(key)
	if !exists || entry.TrackID != second.ID() {
		t.Fatalf("local audio slot does not hold the replacement: %+v", entry)
	}

	mu.Lock()
	defer mu.Unlock()
	if errorsSeen != 0 {
		t.Fatalf("replacement misreported %d device errors", errorsSeen)
	}
}

func TestConnectToSelfIsRejected(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	alice, _ := newTestClient(t, hub, "alice")

	if err := alice.Connect("alice"); err == nil {
		t.Fatal("self-connect accepted")
	}
}

func TestRegistryMutationsReachTheBus(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()

	alice, _ := newTestClient(t, hub, "alice")

	var mu sync.Mutex
	var events []StreamEvent
	alice.Subscribe(EventStream, func(ev Event) {
		mu.Lock()
		events = append(events, ev.(StreamEvent))
		mu.Unlock()
	})

	key := streams.Key{Direction: streams.Remote, Kind: streams.Video, PeerID: "bob"}
	if err := alice.registry.Set(key, &streams.Entry{StreamID: "bob-stream"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := alice.registry.Clear(key); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("bus saw %d stream events, want 2", len(events))
	}
	if !events[0].Added || events[0].StreamID != "bob-stream" {
		t.Fatalf("add notification wrong: %+v", events[0])
	}
	if events[1].Added {
		t.Fatalf("clear notification wrong: %+v", events[1])
	}
}
