package datachannel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

type stubLower struct {
	label string

	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	onMessage func(msg webrtc.DataChannelMessage)
	onOpen    func()
	onClose   func()
}

func (l *stubLower) Label() string { return l.label }

func (l *stubLower) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, data)
	return nil
}

func (l *stubLower) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *stubLower) OnMessage(fn func(msg webrtc.DataChannelMessage)) { l.onMessage = fn }
func (l *stubLower) OnOpen(fn func())                                 { l.onOpen = fn }
func (l *stubLower) OnClose(fn func())                                { l.onClose = fn }

func (l *stubLower) receive(t *testing.T, env Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	l.onMessage(webrtc.DataChannelMessage{Data: data})
}

func TestEnvelopeDispatchByType(t *testing.T) {
	lower := &stubLower{label: "control"}
	channel, err := Wrap(context.Background(), lower)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	var mu sync.Mutex
	var states []Envelope
	channel.OnEnvelope(TypeMediaState, func(env Envelope) {
		mu.Lock()
		states = append(states, env)
		mu.Unlock()
	})

	lower.receive(t, MediaStateEnvelope(true, false))

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 1 {
		t.Fatalf("handler called %d times, want 1", len(states))
	}
	env := states[0]
	if env.Audio == nil || !*env.Audio || env.Video == nil || *env.Video {
		t.Fatalf("media state not preserved: %+v", env)
	}
}

func TestUnhandledEnvelopesHitFallback(t *testing.T) {
	lower := &stubLower{label: "control"}
	channel, err := Wrap(context.Background(), lower)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	var mu sync.Mutex
	var fallback []Envelope
	channel.OnEnvelope(TypeMediaState, func(Envelope) {})
	channel.OnUnhandled(func(env Envelope) {
		mu.Lock()
		fallback = append(fallback, env)
		mu.Unlock()
	})

	payload, _ := json.Marshal(map[string]int{"x": 1})
	lower.receive(t, Envelope{Type: TypeWhiteboard, Payload: payload})
	lower.receive(t, MediaStateEnvelope(true, true))

	mu.Lock()
	defer mu.Unlock()
	if len(fallback) != 1 {
		t.Fatalf("fallback saw %d envelopes, want 1", len(fallback))
	}
	if fallback[0].Type != TypeWhiteboard {
		t.Fatalf("fallback saw wrong type: %s", fallback[0].Type)
	}
}

func TestUndecodableDataIsDropped(t *testing.T) {
	lower := &stubLower{label: "control"}
	channel, err := Wrap(context.Background(), lower)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	var called bool
	channel.OnUnhandled(func(Envelope) { called = true })

	lower.onMessage(webrtc.DataChannelMessage{Data: []byte("{not json")})
	lower.onMessage(webrtc.DataChannelMessage{Data: []byte(`{"audio":true}`)}) // no type

	if called {
		t.Fatal("undecodable data reached a handler")
	}
}

func TestSendEnvelopeWritesWire(t *testing.T) {
	lower := &stubLower{label: "control"}
	channel, err := Wrap(context.Background(), lower)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	if err := channel.SendEnvelope(ScreenShareEnvelope("screen:abc")); err != nil {
		t.Fatalf("SendEnvelope failed: %v", err)
	}

	lower.mu.Lock()
	defer lower.mu.Unlock()
	if len(lower.sent) != 1 {
		t.Fatalf("%d frames written, want 1", len(lower.sent))
	}

	decoded, err := DecodeEnvelope(lower.sent[0])
	if err != nil {
		t.Fatalf("wire frame does not decode: %v", err)
	}
	if decoded.Type != TypeScreenShare || decoded.ScreenID != "screen:abc" {
		t.Fatalf("round trip lost data: %+v", decoded)
	}
}

func TestChannelsRegistryRejectsDuplicates(t *testing.T) {
	channels := CreateChannels(context.Background())

	first, _ := Wrap(context.Background(), &stubLower{label: "control"})
	second, _ := Wrap(context.Background(), &stubLower{label: "control"})

	if err := channels.Add(first); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := channels.Add(second); err == nil {
		t.Fatal("duplicate label accepted")
	}

	got, err := channels.Get("control")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != first {
		t.Fatal("registry returned the wrong channel")
	}
}

func TestReadySignalsOpen(t *testing.T) {
	lower := &stubLower{label: "control"}
	channel, err := Wrap(context.Background(), lower)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	select {
	case <-channel.Ready():
		t.Fatal("channel reported ready before opening")
	default:
	}

	lower.onOpen()
	lower.onOpen() // redelivered open must not panic

	select {
	case <-channel.Ready():
	default:
		t.Fatal("channel not ready after open")
	}
}
