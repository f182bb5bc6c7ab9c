package callkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// WebsocketRelay carries signal messages over a WebSocket connection to a
// signaling server. Messages are JSON on the wire; the server is expected
// to fan them out to every participant of the room.
type WebsocketRelay struct {
	conn *websocket.Conn
	log  logging.LeveledLogger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[HandlerID]Handler
	nextID   atomic.Int64

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// DialWebsocketRelay connects to a signaling server. Extra headers carry
// auth tokens when the server requires them.
func DialWebsocketRelay(ctx context.Context, url string, header http.Header, options ...WebsocketRelayOption) (*WebsocketRelay, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to signaling server: %w", err)
	}
	return NewWebsocketRelay(ctx, conn, options...)
}

// NewWebsocketRelay adopts an established connection, for example one
// accepted server-side through an upgrader.
func NewWebsocketRelay(ctx context.Context, conn *websocket.Conn, options ...WebsocketRelayOption) (*WebsocketRelay, error) {
	ctx2, cancel2 := context.WithCancel(ctx)

	r := &WebsocketRelay{
		conn:     conn,
		log:      logging.NewDefaultLoggerFactory().NewLogger("relay"),
		handlers: make(map[HandlerID]Handler),
		ctx:      ctx2,
		cancel:   cancel2,
	}

	for _, option := range options {
		if err := option(r); err != nil {
			cancel2()
			return nil, err
		}
	}

	go r.readPump()
	return r, nil
}

type WebsocketRelayOption = func(*WebsocketRelay) error

func WithWebsocketLogger(log logging.LeveledLogger) WebsocketRelayOption {
	return func(r *WebsocketRelay) error {
		if log == nil {
			return errors.New("logger must not be nil")
		}
		r.log = log
		return nil
	}
}

// Send writes one message. Writes are serialized; gorilla connections do
// not support concurrent writers.
func (r *WebsocketRelay) Send(msg SignalMessage) error {
	select {
	case <-r.ctx.Done():
		return errors.New("relay is closed")
	default:
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteJSON(msg)
}

func (r *WebsocketRelay) AddHandler(fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := HandlerID(r.nextID.Add(1))
	r.handlers[id] = fn
	return id
}

func (r *WebsocketRelay) RemoveHandler(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
}

func (r *WebsocketRelay) readPump() {
	defer r.cancel()

	for {
		var msg SignalMessage
		if err := r.conn.ReadJSON(&msg); err != nil {
			if r.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Warnf("signaling connection dropped: %v", err)
			}
			return
		}

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

func (r *WebsocketRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()

		r.writeMu.Lock()
		werr := r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = werr
		}

		if cerr := r.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
