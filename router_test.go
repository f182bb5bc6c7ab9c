package callkit

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/logging"
)

// stubRelay delivers synchronously so router tests are deterministic.
type stubRelay struct {
	mu       sync.Mutex
	handlers map[HandlerID]Handler
	nextID   int64
	sent     []SignalMessage
}

func newStubRelay() *stubRelay {
	return &stubRelay{handlers: make(map[HandlerID]Handler)}
}

func (r *stubRelay) Send(msg SignalMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *stubRelay) AddHandler(fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := HandlerID(r.nextID)
	r.handlers[id] = fn
	return id
}

func (r *stubRelay) RemoveHandler(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

func (r *stubRelay) Close() error { return nil }

// inject pushes a message through the relay as if it arrived from the
// network.
func (r *stubRelay) inject(msg SignalMessage) {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, fn := range r.handlers {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func newTestRouter(t *testing.T, relay Relay) *Router {
	t.Helper()
	router := NewRouter(context.Background(), relay, logging.NewDefaultLoggerFactory().NewLogger("test"))
	t.Cleanup(func() { _ = router.Close() })
	return router
}

func TestRouterSuppressesRedelivery(t *testing.T) {
	relay := newStubRelay()
	router := newTestRouter(t, relay)

	var mu sync.Mutex
	var delivered []SignalMessage
	router.AddHandler(func(msg SignalMessage) {
		mu.Lock()
		delivered = append(delivered, msg)
		mu.Unlock()
	})

	msg := NewSignalMessage(MsgOffer, "alice", "bob")
	msg.SDP = "v=0"

	relay.inject(msg)
	relay.inject(msg)
	relay.inject(msg)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("redelivered message reached handlers %d times, want 1", len(delivered))
	}
}

func TestRouterFansOutToAllHandlers(t *testing.T) {
	relay := newStubRelay()
	router := newTestRouter(t, relay)

	var mu sync.Mutex
	counts := make(map[int]int)
	for i := 0; i < 3; i++ {
		i := i
		router.AddHandler(func(SignalMessage) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})
	}

	relay.inject(NewSignalMessage(MsgInitiate, "alice", "bob"))

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		if counts[i] != 1 {
			t.Fatalf("handler %d saw %d messages, want 1", i, counts[i])
		}
	}
}

func TestRouterRemoveHandler(t *testing.T) {
	relay := newStubRelay()
	router := newTestRouter(t, relay)

	var mu sync.Mutex
	var calls int
	id := router.AddHandler(func(SignalMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	relay.inject(NewSignalMessage(MsgInitiate, "alice", "bob"))
	router.RemoveHandler(id)
	relay.inject(NewSignalMessage(MsgInitiate, "carol", "bob"))

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("removed handler called %d times, want 1", calls)
	}
}

func TestRouterDropsUnknownTypes(t *testing.T) {
	relay := newStubRelay()
	router := newTestRouter(t, relay)

	var mu sync.Mutex
	var calls int
	router.AddHandler(func(SignalMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	relay.inject(SignalMessage{Type: "bogus", From: "alice", To: "bob"})

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("unknown type reached handlers %d times", calls)
	}
}

func TestMessageIdentity(t *testing.T) {
	base := func(t MessageType) SignalMessage {
		return SignalMessage{Type: t, From: "alice", To: "bob", Timestamp: 1000}
	}

	t.Run("offer identity includes content and timestamp", func(t *testing.T) {
		a := base(MsgOffer)
		a.SDP = "sdp-one"
		b := base(MsgOffer)
		b.SDP = "sdp-one"
		if messageIdentity(a) != messageIdentity(b) {
			t.Fatal("identical offers produced different identities")
		}

		c := base(MsgOffer)
		c.SDP = "sdp-two"
		if messageIdentity(a) == messageIdentity(c) {
			t.Fatal("offers with different SDP collided")
		}

		d := base(MsgOffer)
		d.SDP = "sdp-one"
		d.Timestamp = 2000
		if messageIdentity(a) == messageIdentity(d) {
			t.Fatal("renegotiation offer with identical SDP collided with the earlier round")
		}
	})

	t.Run("media state collapses on literal values", func(t *testing.T) {
		a := base(MsgMediaState)
		a.Media = &MediaState{Audio: true, Video: false}
		b := base(MsgMediaState)
		b.Media = &MediaState{Audio: true, Video: false}
		b.Timestamp = 9999
		if messageIdentity(a) != messageIdentity(b) {
			t.Fatal("identical media states produced different identities")
		}

		c := base(MsgMediaState)
		c.Media = &MediaState{Audio: true, Video: true}
		if messageIdentity(a) == messageIdentity(c) {
			t.Fatal("different media states collided")
		}
	})

	t.Run("bookkeeping collapses on type and direction", func(t *testing.T) {
		for _, typ := range []MessageType{
			MsgInitiate, MsgInitiateAck, MsgOfferAck, MsgAnswerAck,
			MsgICECandidateAck, MsgICEComplete, MsgICECompleteAck, MsgDisconnect,
		} {
			a := base(typ)
			b := base(typ)
			b.Timestamp = 9999
			if messageIdentity(a) != messageIdentity(b) {
				t.Fatalf("%s identity varies with timestamp", typ)
			}
		}
	})

	t.Run("candidates key on timestamp", func(t *testing.T) {
		a := base(MsgICECandidate)
		b := base(MsgICECandidate)
		b.Timestamp = 1001
		if messageIdentity(a) == messageIdentity(b) {
			t.Fatal("distinct candidates collided")
		}

		c := base(MsgICECandidate)
		if messageIdentity(a) != messageIdentity(c) {
			t.Fatal("redelivered candidate produced a different identity")
		}
	})

	t.Run("direction matters", func(t *testing.T) {
		a := base(MsgInitiate)
		b := SignalMessage{Type: MsgInitiate, From: "bob", To: "alice", Timestamp: 1000}
		if messageIdentity(a) == messageIdentity(b) {
			t.Fatal("opposite directions collided")
		}
	})
}

func TestHeartbeatIsDeduplicatedButRouted(t *testing.T) {
	relay := newStubRelay()
	router := newTestRouter(t, relay)

	var mu sync.Mutex
	var calls int
	router.AddHandler(func(SignalMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	beat := SignalMessage{Type: MsgHeartbeat, From: "alice", To: "bob", Timestamp: 5}
	relay.inject(beat)
	relay.inject(beat)

	later := beat
	later.Timestamp = 6
	relay.inject(later)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("heartbeats delivered %d times, want 2", calls)
	}
}
