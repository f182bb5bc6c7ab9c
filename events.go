package callkit

import (
	"sync"
	"sync/atomic"

	"github.com/openmeet/callkit/pkg/streams"
)

// EventKind keys subscriptions on the bus. Events are the only outward
// surface towards the UI collaborator; no single-slot callbacks exist.
type EventKind string

const (
	EventConnection EventKind = "connection"
	EventTrack      EventKind = "track"
	EventStream     EventKind = "stream"
	EventMedia      EventKind = "media"
	EventError      EventKind = "error"
	EventMessage    EventKind = "message"
)

// Event is implemented by every published payload.
type Event interface {
	Kind() EventKind
	Peer() string
}

// ConnectionEvent reports a phase change of one peer session.
type ConnectionEvent struct {
	PeerID    string
	Phase     Phase
	Connected bool
}

func (ConnectionEvent) Kind() EventKind { return EventConnection }
func (e ConnectionEvent) Peer() string  { return e.PeerID }

// TrackEvent reports a local or remote track being enabled or disabled.
type TrackEvent struct {
	PeerID  string
	Media   streams.Kind
	Enabled bool
}

func (TrackEvent) Kind() EventKind { return EventTrack }
func (e TrackEvent) Peer() string  { return e.PeerID }

// StreamEvent mirrors a stream registry mutation.
type StreamEvent struct {
	PeerID    string
	Direction streams.Direction
	Media     streams.Kind
	StreamID  string
	Added     bool
}

func (StreamEvent) Kind() EventKind { return EventStream }
func (e StreamEvent) Peer() string  { return e.PeerID }

// MediaEvent reports the remote peer's announced audio/video state.
type MediaEvent struct {
	PeerID string
	State  MediaState
}

func (MediaEvent) Kind() EventKind { return EventMedia }
func (e MediaEvent) Peer() string  { return e.PeerID }

// ErrorEvent surfaces classified negotiation and transport failures.
// Timeouts never produce one.
type ErrorEvent struct {
	PeerID  string
	Message string
	Cause   ErrorCause
}

func (ErrorEvent) Kind() EventKind { return EventError }
func (e ErrorEvent) Peer() string  { return e.PeerID }

// MessageEvent delivers whiteboard and generic application payloads
// received over the control channel.
type MessageEvent struct {
	PeerID string
	Data   []byte
}

func (MessageEvent) Kind() EventKind { return EventMessage }
func (e MessageEvent) Peer() string  { return e.PeerID }

type SubscriptionID int64

// Bus is the typed publish/subscribe registry. Multiple subscribers per
// kind are supported; delivery is synchronous and the order across
// subscribers is not guaranteed.
type Bus struct {
	mu    sync.RWMutex
	subs  map[EventKind]map[SubscriptionID]func(Event)
	kinds map[SubscriptionID]EventKind
	next  atomic.Int64
}

func NewBus() *Bus {
	return &Bus{
		subs:  make(map[EventKind]map[SubscriptionID]func(Event)),
		kinds: make(map[SubscriptionID]EventKind),
	}
}

func (b *Bus) Subscribe(kind EventKind, fn func(Event)) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := SubscriptionID(b.next.Add(1))
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[SubscriptionID]func(Event))
	}
	b.subs[kind][id] = fn
	b.kinds[id] = kind
	return id
}

func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind, exists := b.kinds[id]
	if !exists {
		return
	}
	delete(b.kinds, id)
	delete(b.subs[kind], id)
}

func (b *Bus) publish(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[ev.Kind()]))
	for _, fn := range b.subs[ev.Kind()] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
