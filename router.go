package callkit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// Router sits between the relay and the per-peer orchestrators. It assigns
// a stable identity to every inbound message and guarantees at-most-once
// delivery per registered handler for each logical message, whatever the
// relay redelivers. The identity cache is flushed on a fixed interval to
// bound memory.
type Router struct {
	relay Relay
	log   logging.LeveledLogger

	mu       sync.Mutex
	handlers map[HandlerID]Handler
	seen     map[string]struct{}
	nextID   atomic.Int64

	relayHandler HandlerID
	closeOnce    sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewRouter(ctx context.Context, relay Relay, log logging.LeveledLogger) *Router {
	ctx2, cancel2 := context.WithCancel(ctx)

	r := &Router{
		relay:    relay,
		log:      log,
		handlers: make(map[HandlerID]Handler),
		seen:     make(map[string]struct{}),
		ctx:      ctx2,
		cancel:   cancel2,
	}

	r.relayHandler = relay.AddHandler(r.route)
	go r.flushLoop()

	return r
}

// Send forwards a message to the relay untouched.
func (r *Router) Send(msg SignalMessage) error {
	if msg.Type != MsgHeartbeat {
		r.log.Debugf("send %s -> %s (type=%s)", msg.From, msg.To, msg.Type)
	}
	return r.relay.Send(msg)
}

func (r *Router) AddHandler(fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := HandlerID(r.nextID.Add(1))
	r.handlers[id] = fn
	return id
}

func (r *Router) RemoveHandler(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
}

func (r *Router) route(msg SignalMessage) {
	if !msg.Type.Valid() {
		r.log.Warnf("dropping message with unknown type '%s' from %s", msg.Type, msg.From)
		return
	}

	identity := messageIdentity(msg)

	r.mu.Lock()
	if _, duplicate := r.seen[identity]; duplicate {
		r.mu.Unlock()
		if msg.Type != MsgHeartbeat {
			r.log.Debugf("suppressing duplicate %s from %s", msg.Type, msg.From)
		}
		return
	}
	r.seen[identity] = struct{}{}
	handlers := make([]Handler, 0, len(r.handlers))
	for _, fn := range r.handlers {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	if msg.Type != MsgHeartbeat {
		r.log.Tracef("route %s from %s (id=%s)", msg.Type, msg.From, msg.ID)
	}

	for _, fn := range handlers {
		fn(msg)
	}
}

func (r *Router) flushLoop() {
	ticker := time.NewTicker(dedupFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			r.seen = make(map[string]struct{})
			r.mu.Unlock()
		}
	}
}

func (r *Router) Close() error {
	r.closeOnce.Do(func() {
		r.relay.RemoveHandler(r.relayHandler)
		r.cancel()
	})
	return nil
}

// messageIdentity derives the dedup identity of a message. Construction
// differs by type: offers and answers include a content hash and the sender
// timestamp so renegotiation rounds with identical SDP never collide;
// media-state collapses on its literal values because identical states are
// idempotent; handshake bookkeeping collapses on (type, from, to); the
// rest keys on the sender timestamp.
func messageIdentity(msg SignalMessage) string {
	switch msg.Type {
	case MsgOffer, MsgAnswer:
		return fmt.Sprintf("%s|%s|%s|%d|%d", msg.Type, msg.From, msg.To, contentHash(msg.SDP), msg.Timestamp)

	case MsgMediaState:
		audio, video := false, false
		if msg.Media != nil {
			audio, video = msg.Media.Audio, msg.Media.Video
		}
		return fmt.Sprintf("%s|%s|%s|%t|%t", msg.Type, msg.From, msg.To, audio, video)

	case MsgInitiate, MsgInitiateAck, MsgOfferAck, MsgAnswerAck,
		MsgICECandidateAck, MsgICEComplete, MsgICECompleteAck, MsgDisconnect:
		return fmt.Sprintf("%s|%s|%s", msg.Type, msg.From, msg.To)

	default:
		return fmt.Sprintf("%s|%s|%s|%d", msg.Type, msg.From, msg.To, msg.Timestamp)
	}
}

// contentHash computes a 4-byte hash of an SDP body. Identification only;
// does not need to be reversible.
func contentHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
