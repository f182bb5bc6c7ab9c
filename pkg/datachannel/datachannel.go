// Package datachannel wraps WebRTC data channels with the typed envelope
// protocol used for out-of-band call messages: media state, screen-share
// announcements, disconnect notices, whiteboard payloads and generic
// application messages.
package datachannel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Lower is the minimal surface of *webrtc.DataChannel the wrapper needs.
// Kept as an interface so the negotiation engine can be exercised without a
// live SCTP association.
type Lower interface {
	Label() string
	Send(data []byte) error
	Close() error
	OnMessage(fn func(msg webrtc.DataChannelMessage))
	OnOpen(fn func())
	OnClose(fn func())
}

type Channel struct {
	label string
	lower Lower
	init  *webrtc.DataChannelInit
	log   logging.LeveledLogger

	mu       sync.RWMutex
	handlers map[EnvelopeType][]func(Envelope)
	fallback []func(Envelope)

	open     chan struct{}
	openOnce sync.Once
	ctx      context.Context
}

// Create opens a new channel on the peer connection. Only the initiator of
// the current negotiation round calls this; the responder receives the
// channel through the transport's announcement callback and uses Wrap.
func Create(ctx context.Context, label string, pc interface {
	CreateDataChannel(label string, init *webrtc.DataChannelInit) (Lower, error)
}, options ...Option) (*Channel, error) {
	channel := &Channel{
		label: label,
		log:   logging.NewDefaultLoggerFactory().NewLogger("datachannel"),
		ctx:   ctx,
	}

	for _, option := range options {
		if err := option(channel); err != nil {
			return nil, err
		}
	}

	lower, err := pc.CreateDataChannel(label, channel.init)
	if err != nil {
		return nil, fmt.Errorf("error while creating data channel '%s': %w", label, err)
	}
	channel.lower = lower

	return channel.wire(), nil
}

// Wrap adopts an announced channel on the responding side.
func Wrap(ctx context.Context, lower Lower, options ...Option) (*Channel, error) {
	channel := &Channel{
		label: lower.Label(),
		lower: lower,
		log:   logging.NewDefaultLoggerFactory().NewLogger("datachannel"),
		ctx:   ctx,
	}

	for _, option := range options {
		if err := option(channel); err != nil {
			return nil, err
		}
	}

	return channel.wire(), nil
}

func (channel *Channel) wire() *Channel {
	channel.open = make(chan struct{})
	channel.lower.OnOpen(func() {
		channel.log.Debugf("data channel open (label=%s)", channel.label)
		channel.openOnce.Do(func() { close(channel.open) })
	})
	channel.lower.OnClose(func() {
		channel.log.Debugf("data channel closed (label=%s)", channel.label)
	})
	channel.lower.OnMessage(func(msg webrtc.DataChannelMessage) {
		channel.dispatch(msg.Data)
	})
	return channel
}

func (channel *Channel) dispatch(data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		channel.log.Warnf("dropping undecodable envelope on '%s': %v", channel.label, err)
		return
	}

	channel.mu.RLock()
	handlers := append([]func(Envelope){}, channel.handlers[env.Type]...)
	if len(handlers) == 0 {
		handlers = append(handlers, channel.fallback...)
	}
	channel.mu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}
}

func (channel *Channel) Label() string { return channel.label }

// Ready is closed once the channel has opened.
func (channel *Channel) Ready() <-chan struct{} { return channel.open }

// SendEnvelope serializes and sends one envelope. Callers treat this as
// best-effort next to the slower SDP renegotiation path.
func (channel *Channel) SendEnvelope(env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return channel.lower.Send(data)
}

// OnEnvelope registers a handler for one envelope type.
func (channel *Channel) OnEnvelope(t EnvelopeType, fn func(Envelope)) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	if channel.handlers == nil {
		channel.handlers = make(map[EnvelopeType][]func(Envelope))
	}
	channel.handlers[t] = append(channel.handlers[t], fn)
}

// OnUnhandled registers a catch-all for envelope types without a dedicated
// handler (whiteboard and generic application messages end up here).
func (channel *Channel) OnUnhandled(fn func(Envelope)) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	channel.fallback = append(channel.fallback, fn)
}

func (channel *Channel) Close() error {
	return channel.lower.Close()
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

type Channels struct {
	channels map[string]*Channel
	mu       sync.RWMutex
	ctx      context.Context
}

func CreateChannels(ctx context.Context) *Channels {
	return &Channels{
		channels: map[string]*Channel{},
		ctx:      ctx,
	}
}

func (channels *Channels) Add(channel *Channel) error {
	channels.mu.Lock()
	defer channels.mu.Unlock()

	if _, exists := channels.channels[channel.Label()]; exists {
		return fmt.Errorf("data channel with label = '%s' already exists", channel.Label())
	}
	channels.channels[channel.Label()] = channel
	return nil
}

func (channels *Channels) Get(label string) (*Channel, error) {
	channels.mu.RLock()
	defer channels.mu.RUnlock()

	channel, exists := channels.channels[label]
	if !exists {
		return nil, errors.New("data channel does not exist")
	}
	return channel, nil
}

func (channels *Channels) Remove(label string) {
	channels.mu.Lock()
	defer channels.mu.Unlock()

	delete(channels.channels, label)
}

func (channels *Channels) Channels() iter.Seq2[string, *Channel] {
	return func(yield func(string, *Channel) bool) {
		channels.mu.RLock()
		defer channels.mu.RUnlock()

		for label, channel := range channels.channels {
			if !yield(label, channel) {
				return
			}
		}
	}
}

func (channels *Channels) Close() error {
	channels.mu.Lock()
	defer channels.mu.Unlock()

	var err error
	for _, channel := range channels.channels {
		if cerr := channel.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	channels.channels = map[string]*Channel{}
	return err
}
