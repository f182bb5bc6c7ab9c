package callkit

import (
	"errors"
	"sync"
	"sync/atomic"
)

// MemoryHub connects in-process relays, one per participant. Messages sent
// through any attached relay are delivered to the handlers of every other
// relay on the hub. Delivery is asynchronous through a per-relay ordered
// queue: a handler may send through its own relay without deadlocking, and
// messages towards one endpoint never overtake each other.
type MemoryHub struct {
	mu     sync.Mutex
	relays map[*MemoryRelay]struct{}
	closed bool
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{relays: make(map[*MemoryRelay]struct{})}
}

// Attach creates one relay endpoint on the hub.
func (h *MemoryHub) Attach() *MemoryRelay {
	relay := &MemoryRelay{
		hub:      h,
		handlers: make(map[HandlerID]Handler),
		queue:    make(chan SignalMessage, 64),
		done:     make(chan struct{}),
	}
	go relay.pump()

	h.mu.Lock()
	h.relays[relay] = struct{}{}
	h.mu.Unlock()

	return relay
}

func (h *MemoryHub) broadcast(from *MemoryRelay, msg SignalMessage) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub is closed")
	}
	targets := make([]*MemoryRelay, 0, len(h.relays))
	for relay := range h.relays {
		if relay != from {
			targets = append(targets, relay)
		}
	}
	h.mu.Unlock()

	for _, relay := range targets {
		relay.enqueue(msg)
	}
	return nil
}

func (h *MemoryHub) detach(relay *MemoryRelay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.relays, relay)
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	relays := make([]*MemoryRelay, 0, len(h.relays))
	for relay := range h.relays {
		relays = append(relays, relay)
	}
	h.closed = true
	h.relays = make(map[*MemoryRelay]struct{})
	h.mu.Unlock()

	for _, relay := range relays {
		_ = relay.Close()
	}
	return nil
}

// MemoryRelay is one endpoint on a MemoryHub.
type MemoryRelay struct {
	hub *MemoryHub

	mu       sync.Mutex
	handlers map[HandlerID]Handler
	nextID   atomic.Int64
	closed   bool

	queue chan SignalMessage
	done  chan struct{}
}

func (r *MemoryRelay) Send(msg SignalMessage) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return errors.New("relay is closed")
	}
	return r.hub.broadcast(r, msg)
}

func (r *MemoryRelay) AddHandler(fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := HandlerID(r.nextID.Add(1))
	r.handlers[id] = fn
	return id
}

func (r *MemoryRelay) RemoveHandler(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
}

func (r *MemoryRelay) enqueue(msg SignalMessage) {
	select {
	case r.queue <- msg:
	case <-r.done:
	}
}

func (r *MemoryRelay) pump() {
	for {
		select {
		case <-r.done:
			return
		case msg := <-r.queue:
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
	}
}

func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.handlers = make(map[HandlerID]Handler)
	r.mu.Unlock()

	close(r.done)
	r.hub.detach(r)
	return nil
}
