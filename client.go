package callkit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"

	"github.com/openmeet/callkit/pkg/mediasource"
	"github.com/openmeet/callkit/pkg/streams"
)

// Client is the session arena: it owns the router, the stream registry,
// the event bus and every per-peer orchestrator, and is handed explicitly
// to collaborators instead of living in a mutable global slot. One Client
// per signaling identity; Close releases everything and the Client refuses
// further use.
type Client struct {
	localID string

	mediaEngine         *webrtc.MediaEngine
	settingsEngine      *webrtc.SettingEngine
	interceptorRegistry *interceptor.Registry
	api                 *webrtc.API
	rtcConfig           webrtc.Configuration
	codecsConfigured    bool

	router     *Router
	registry   *streams.Registry
	bus        *Bus
	sources    *mediasource.Tracks
	sync       *mediaSync
	classifier *trackClassifier

	transportFactory func() (Transport, error)
	pcOptions        []PeerConnectionOption

	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger

	mu         sync.RWMutex
	pcs        map[string]*PeerConnection
	localMedia MediaState
	screenID   string
	closed     bool

	routerHandler HandlerID
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewClient(ctx context.Context, localID string, relay Relay, options ...ClientOption) (*Client, error) {
	if localID == "" {
		return nil, errors.New("local id must not be empty")
	}
	if relay == nil {
		return nil, ErrRelayNotConfigured
	}

	ctx2, cancel2 := context.WithCancel(ctx)

	c := &Client{
		localID:             localID,
		mediaEngine:         &webrtc.MediaEngine{},
		settingsEngine:      &webrtc.SettingEngine{},
		interceptorRegistry: &interceptor.Registry{},
		registry:            streams.NewRegistry(),
		bus:                 NewBus(),
		pcs:                 make(map[string]*PeerConnection),
		loggerFactory:       logging.NewDefaultLoggerFactory(),
		ctx:                 ctx2,
		cancel:              cancel2,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			cancel2()
			return nil, err
		}
	}

	c.log = c.loggerFactory.NewLogger("callkit")
	c.sources = mediasource.CreateTracks(ctx2)
	c.classifier = &trackClassifier{log: c.loggerFactory.NewLogger("classifier")}
	c.sync = &mediaSync{client: c, log: c.loggerFactory.NewLogger("mediasync")}

	if !c.codecsConfigured {
		if err := c.mediaEngine.RegisterDefaultCodecs(); err != nil {
			cancel2()
			return nil, err
		}
	}

	c.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(c.mediaEngine),
		webrtc.WithInterceptorRegistry(c.interceptorRegistry),
		webrtc.WithSettingEngine(*c.settingsEngine),
	)

	// ICE servers come from the environment unless an explicit
	// configuration option was given.
	if c.rtcConfig.ICEServers == nil {
		c.rtcConfig = GetFullRTCConfiguration()
	}

	if c.transportFactory == nil {
		c.transportFactory = func() (Transport, error) {
			return newPionTransport(c.api, c.rtcConfig)
		}
	}

	c.router = NewRouter(ctx2, relay, c.loggerFactory.NewLogger("router"))
	c.routerHandler = c.router.AddHandler(c.route)

	c.registry.AddListener(func(key streams.Key, entry *streams.Entry) {
		event := StreamEvent{
			PeerID:    key.PeerID,
			Direction: key.Direction,
			Media:     key.Kind,
			Added:     entry != nil,
		}
		if entry != nil {
			event.StreamID = entry.StreamID
		}
		c.bus.publish(event)
	})

	return c, nil
}

func (c *Client) LocalID() string { return c.localID }

// Registry exposes the stream table; consumers must treat it as the single
// source of truth for which media a peer currently has.
func (c *Client) Registry() *streams.Registry { return c.registry }

func (c *Client) Subscribe(kind EventKind, fn func(Event)) SubscriptionID {
	return c.bus.Subscribe(kind, fn)
}

func (c *Client) Unsubscribe(id SubscriptionID) {
	c.bus.Unsubscribe(id)
}

// Connect starts (or resumes) a session towards one remote peer.
func (c *Client) Connect(peerID string) error {
	if peerID == c.localID {
		return errors.New("cannot connect to self")
	}

	pc, err := c.ensurePeer(peerID)
	if err != nil {
		return err
	}
	return pc.connect()
}

// Disconnect tears a session down as the initiator of the teardown.
func (c *Client) Disconnect(peerID string) error {
	c.mu.RLock()
	pc, exists := c.pcs[peerID]
	c.mu.RUnlock()

	if !exists {
		return ErrPeerNotFound
	}
	return pc.disconnect()
}

func (c *Client) Peer(peerID string) (*PeerConnection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pc, exists := c.pcs[peerID]
	if !exists {
		return nil, ErrPeerNotFound
	}
	return pc, nil
}

func (c *Client) PeerConnections() iter.Seq2[string, *PeerConnection] {
	return func(yield func(string, *PeerConnection) bool) {
		for _, pc := range c.peers() {
			if !yield(pc.peerID, pc) {
				return
			}
		}
	}
}

func (c *Client) ensurePeer(peerID string) (*PeerConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if pc, exists := c.pcs[peerID]; exists {
		return pc, nil
	}

	pc, err := createPeerConnection(c.ctx, peerID, c, c.pcOptions...)
	if err != nil {
		return nil, fmt.Errorf("error while creating peer connection for '%s': %w", peerID, err)
	}
	c.pcs[peerID] = pc
	return pc, nil
}

func (c *Client) removePeer(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pcs, peerID)
}

func (c *Client) peers() []*PeerConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peers := make([]*PeerConnection, 0, len(c.pcs))
	for _, pc := range c.pcs {
		peers = append(peers, pc)
	}
	return peers
}

// route is the router handler: messages addressed to this client reach the
// matching orchestrator; an initiate from an unknown peer creates one.
func (c *Client) route(msg SignalMessage) {
	if msg.From == c.localID {
		return
	}
	if msg.To != "" && msg.To != c.localID {
		return
	}
	if msg.Type == MsgHeartbeat {
		return
	}

	c.mu.RLock()
	pc, exists := c.pcs[msg.From]
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return
	}

	if !exists {
		if msg.Type != MsgInitiate {
			c.log.Debugf("ignoring %s from unknown peer %s", msg.Type, msg.From)
			return
		}
		var err error
		if pc, err = c.ensurePeer(msg.From); err != nil {
			c.log.Warnf("error while creating session for %s: %v", msg.From, err)
			return
		}
	}

	pc.handleMessage(msg)
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

// PublishAudio creates (or replaces) the local microphone track, attaches
// it to every peer and triggers a renegotiation round. The media-state
// announcement goes out ahead of SDP.
func (c *Client) PublishAudio(options ...mediasource.TrackOption) (*mediasource.Track, error) {
	if len(options) == 0 {
		options = []mediasource.TrackOption{mediasource.WithOpusTrack(48000, 2)}
	}
	return c.publish("microphone", c.localID, streams.Audio, options)
}

// PublishVideo creates (or replaces) the local camera track.
func (c *Client) PublishVideo(options ...mediasource.TrackOption) (*mediasource.Track, error) {
	if len(options) == 0 {
		options = []mediasource.TrackOption{mediasource.WithVP8Track(90000)}
	}
	return c.publish("camera", c.localID, streams.Video, options)
}

// PublishScreen starts a screen share. The correlation id is announced to
// every peer over the control channel before the track can possibly
// arrive, so remote classifiers match on it.
func (c *Client) PublishScreen(options ...mediasource.TrackOption) (*mediasource.Track, error) {
	if len(options) == 0 {
		options = []mediasource.TrackOption{mediasource.WithVP8Track(90000)}
	}

	screenID := screenStreamPrefix + uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.screenID = screenID
	c.mu.Unlock()

	c.sync.announceScreen(screenID)
	return c.publish("screen", screenID, streams.Screen, options)
}

func (c *Client) publish(label, streamID string, kind streams.Kind, options []mediasource.TrackOption) (*mediasource.Track, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClientClosed
	}

	// A publish of an already-published label replaces the source: the old
	// track is unbound and dropped, the registry swap below performs the
	// terminal stop.
	if old, gerr := c.sources.GetTrack(label); gerr == nil {
		for _, pc := range c.peers() {
			if uerr := old.Unbind(pc.peerID, pc.transport); uerr != nil {
				c.log.Debugf("error while unbinding previous %s from %s: %v", label, pc.peerID, uerr)
			}
		}
		c.sources.RemoveTrack(label)
	}

	track, err := c.sources.CreateTrack(label, streamID, options...)
	if err != nil {
		// Device and capture failures are surfaced with a cause and never
		// touch peer state.
		c.bus.publish(ErrorEvent{PeerID: LocalPeerID, Message: err.Error(), Cause: ClassifyDeviceError(err)})
		return nil, err
	}

	if rerr := c.registry.Set(
		streams.Key{Direction: streams.Local, Kind: kind, PeerID: LocalPeerID},
		&streams.Entry{StreamID: streamID, TrackID: track.ID(), Stop: track.Stop},
	); rerr != nil {
		c.log.Warnf("error while replacing local %s entry: %v", kind, rerr)
	}

	for _, pc := range c.peers() {
		if berr := track.Bind(pc.peerID, pc.transport); berr != nil {
			c.log.Warnf("error while binding %s to %s: %v", label, pc.peerID, berr)
		}
	}

	c.updateLocalMedia(kind, true)
	c.bus.publish(TrackEvent{PeerID: LocalPeerID, Media: kind, Enabled: true})
	c.renegotiateAll()

	return track, nil
}

// UnpublishAudio stops the microphone track everywhere.
func (c *Client) UnpublishAudio() error {
	return c.unpublish("microphone", streams.Audio)
}

// UnpublishVideo stops the camera track everywhere. Remote sides clear
// their video slot on the media-state message before the renegotiation
// lands.
func (c *Client) UnpublishVideo() error {
	return c.unpublish("camera", streams.Video)
}

// UnpublishScreen ends the screen share and withdraws the announcement.
func (c *Client) UnpublishScreen() error {
	c.mu.Lock()
	c.screenID = ""
	c.mu.Unlock()

	c.sync.announceScreen("")
	return c.unpublish("screen", streams.Screen)
}

func (c *Client) unpublish(label string, kind streams.Kind) error {
	track, err := c.sources.GetTrack(label)
	if err != nil {
		return err
	}

	c.updateLocalMedia(kind, false)

	for _, pc := range c.peers() {
		if uerr := track.Unbind(pc.peerID, pc.transport); uerr != nil {
			c.log.Warnf("error while unbinding %s from %s: %v", label, pc.peerID, uerr)
		}
	}

	// Clearing the slot performs the terminal stop; the registry owns it.
	if cerr := c.registry.Clear(streams.Key{Direction: streams.Local, Kind: kind, PeerID: LocalPeerID}); cerr != nil {
		c.log.Warnf("error while clearing local %s entry: %v", kind, cerr)
	}
	c.sources.RemoveTrack(label)

	c.bus.publish(TrackEvent{PeerID: LocalPeerID, Media: kind, Enabled: false})
	c.renegotiateAll()

	return nil
}

func (c *Client) updateLocalMedia(kind streams.Kind, enabled bool) {
	c.mu.Lock()
	switch kind {
	case streams.Audio:
		c.localMedia.Audio = enabled
	case streams.Video:
		c.localMedia.Video = enabled
	default:
		c.mu.Unlock()
		return
	}
	state := c.localMedia
	c.mu.Unlock()

	c.sync.broadcastLocal(state)
}

// renegotiateAll starts an offer round towards every connected peer. The
// side whose local media changed is the offerer of that round.
func (c *Client) renegotiateAll() {
	for _, pc := range c.peers() {
		if err := pc.forceRenegotiation(); err != nil {
			c.log.Warnf("error while renegotiating with %s: %v", pc.peerID, err)
		}
	}
}

// LocalMediaState reports the current local toggle state.
func (c *Client) LocalMediaState() MediaState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localMedia
}

func (c *Client) hasLocalSources() bool {
	for range c.sources.Tracks() {
		return true
	}
	return false
}

func (c *Client) bindSources(pc *PeerConnection) {
	for _, track := range c.sources.Tracks() {
		if err := track.Bind(pc.peerID, pc.transport); err != nil && !isAlreadyBound(err) {
			c.log.Warnf("error while binding %s to %s: %v", track.ID(), pc.peerID, err)
		}
	}
}

func (c *Client) unbindSources(pc *PeerConnection) {
	for _, track := range c.sources.Tracks() {
		if err := track.Unbind(pc.peerID, pc.transport); err != nil {
			c.log.Debugf("error while unbinding %s from %s: %v", track.ID(), pc.peerID, err)
		}
	}
}

func isAlreadyBound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already bound")
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

// Close tears down every peer session, stops every local track and
// releases the router. The Client refuses further use afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var err error
	for _, pc := range c.peers() {
		if derr := pc.disconnect(); derr != nil {
			err = multierr.Append(err, derr)
		}
	}

	for _, kind := range []streams.Kind{streams.Audio, streams.Video, streams.Screen} {
		key := streams.Key{Direction: streams.Local, Kind: kind, PeerID: LocalPeerID}
		if c.registry.Has(key) {
			if cerr := c.registry.Clear(key); cerr != nil {
				err = multierr.Append(err, cerr)
			}
		}
	}

	c.router.RemoveHandler(c.routerHandler)
	if rerr := c.router.Close(); rerr != nil {
		err = multierr.Append(err, rerr)
	}
	c.cancel()

	return err
}
