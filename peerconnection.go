package callkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"

	"github.com/openmeet/callkit/pkg/datachannel"
	"github.com/openmeet/callkit/pkg/streams"
)

// Phase is the negotiation state of one peer session. It only advances
// forward along the documented transitions; no phase is skipped when an
// acknowledgement is required.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitiating   Phase = "initiating"
	PhaseResponding   Phase = "responding"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseDisconnected Phase = "disconnected"
	PhaseFailed       Phase = "failed"
)

func (p Phase) terminal() bool {
	return p == PhaseDisconnected || p == PhaseFailed
}

// PeerConnection is the per-peer orchestrator. Exactly one instance exists
// per remote id; its phase is checked under the session lock before any
// asynchronous step starts, which keeps per-peer transitions linear.
type PeerConnection struct {
	peerID string
	client *Client

	mu                  sync.Mutex
	phase               Phase
	transport           Transport
	channels            *datachannel.Channels
	control             *datachannel.Channel
	remoteMedia         MediaState
	explicitVideoOff    bool
	pendingCandidates   []webrtc.ICECandidateInit
	remoteScreenShareID string
	pendingAck          bool
	renegotiating       bool
	queuedRenegotiation bool
	graceful            bool

	initiateTimer    *time.Timer
	connectTimer     *time.Timer
	renegotiateTimer *time.Timer

	initiateAckTimeout   time.Duration
	connectedTimeout     time.Duration
	renegotiationTimeout time.Duration
	controlInit          *webrtc.DataChannelInit

	log logging.LeveledLogger

	closeTransportOnce sync.Once
	releaseOnce        sync.Once
	ctx                context.Context
	cancel             context.CancelFunc
}

func createPeerConnection(ctx context.Context, peerID string, client *Client, options ...PeerConnectionOption) (*PeerConnection, error) {
	ctx2, cancel2 := context.WithCancel(ctx)

	pc := &PeerConnection{
		peerID:             peerID,
		client:             client,
		phase:              PhaseIdle,
		channels:           datachannel.CreateChannels(ctx2),
		initiateAckTimeout:   initiateAckTimeout,
		connectedTimeout:     connectedTimeout,
		renegotiationTimeout: renegotiationTimeout,
		log:                  client.loggerFactory.NewLogger("peer"),
		ctx:                  ctx2,
		cancel:               cancel2,
	}

	for _, option := range options {
		if err := option(pc); err != nil {
			cancel2()
			return nil, err
		}
	}

	transport, err := client.transportFactory()
	if err != nil {
		cancel2()
		return nil, err
	}
	pc.transport = transport

	return pc.onICECandidate().onTrack().onDataChannel().onConnectionStateChange(), nil
}

func (pc *PeerConnection) PeerID() string { return pc.peerID }

func (pc *PeerConnection) Phase() Phase {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.phase
}

// RemoteMediaState is the last state announced by the peer.
func (pc *PeerConnection) RemoteMediaState() MediaState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remoteMedia
}

func (pc *PeerConnection) Done() <-chan struct{} {
	return pc.ctx.Done()
}

// connect starts a negotiation round as the initiator. A peer already
// responding to an inbound initiation ignores the call: first message wins
// and no pair ever gets two initiators.
func (pc *PeerConnection) connect() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.phase != PhaseIdle {
		pc.log.Debugf("connect to %s ignored in phase %s", pc.peerID, pc.phase)
		return nil
	}

	pc.phase = PhaseInitiating
	pc.pendingAck = true
	pc.armInitiateTimerLocked()
	pc.armConnectTimerLocked()

	return pc.client.router.Send(NewSignalMessage(MsgInitiate, pc.client.localID, pc.peerID))
}

// handleMessage dispatches one deduplicated relay message. The switch is
// exhaustive over the protocol set; heartbeats never reach this point.
func (pc *PeerConnection) handleMessage(msg SignalMessage) {
	switch msg.Type {
	case MsgInitiate:
		pc.handleInitiate()
	case MsgInitiateAck:
		pc.handleInitiateAck()
	case MsgOffer:
		pc.handleOffer(msg)
	case MsgAnswer:
		pc.handleAnswer(msg)
	case MsgICECandidate:
		pc.handleCandidate(msg)
	case MsgICEComplete:
		pc.ack(MsgICEComplete)
		pc.log.Debugf("peer %s finished candidate gathering", pc.peerID)
	case MsgDisconnect:
		pc.handleRemoteDisconnect()
	case MsgMediaState:
		if msg.Media != nil {
			pc.client.sync.applyRemote(pc, *msg.Media)
		}
	case MsgOfferAck, MsgAnswerAck, MsgICECandidateAck, MsgICECompleteAck:
		// Diagnosability only; absence of an ack never fails a session.
		pc.log.Tracef("ack %s from %s", msg.Type, msg.From)
	}
}

func (pc *PeerConnection) handleInitiate() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	switch pc.phase {
	case PhaseIdle:
		pc.phase = PhaseResponding
		pc.armConnectTimerLocked()
		pc.sendLocked(NewSignalMessage(MsgInitiateAck, pc.client.localID, pc.peerID))

	case PhaseInitiating:
		// Glare: both sides initiated in the same tick. The lower id keeps
		// the initiator role; the higher id yields and responds.
		if pc.client.localID < pc.peerID {
			pc.log.Debugf("initiation glare with %s, keeping initiator role", pc.peerID)
			return
		}
		pc.log.Debugf("initiation glare with %s, yielding to responder role", pc.peerID)
		pc.stopInitiateTimerLocked()
		pc.pendingAck = false
		pc.phase = PhaseResponding
		pc.sendLocked(NewSignalMessage(MsgInitiateAck, pc.client.localID, pc.peerID))

	case PhaseResponding:
		// Redelivered initiate that slipped past dedup; the ack is
		// idempotent.
		pc.sendLocked(NewSignalMessage(MsgInitiateAck, pc.client.localID, pc.peerID))

	default:
		pc.log.Debugf("ignoring initiate from %s in phase %s", pc.peerID, pc.phase)
	}
}

func (pc *PeerConnection) handleInitiateAck() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.phase != PhaseInitiating {
		pc.log.Debugf("ignoring initiate-ack from %s in phase %s", pc.peerID, pc.phase)
		return
	}

	pc.pendingAck = false
	pc.stopInitiateTimerLocked()
	pc.phase = PhaseConnecting

	if err := pc.sendOfferLocked(true); err != nil {
		pc.failLocked(&NegotiationError{PeerID: pc.peerID, Phase: pc.phase, Msg: MsgInitiateAck, Err: err})
	}
}

// sendOfferLocked runs one offering round: the initiator of the round
// creates the control channel on the first round, binds local sources,
// creates and applies the offer and ships it over the relay.
func (pc *PeerConnection) sendOfferLocked(firstRound bool) error {
	if firstRound {
		if err := pc.createControlChannelLocked(); err != nil {
			return fmt.Errorf("error while creating control channel: %w", err)
		}
	}

	pc.bindLocalSourcesLocked()

	offer, err := pc.transport.CreateOffer()
	if err != nil {
		return fmt.Errorf("error while creating offer: %w", err)
	}
	if err := pc.transport.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("error while setting local sdp: %w", err)
	}

	msg := NewSignalMessage(MsgOffer, pc.client.localID, pc.peerID)
	msg.SDP = offer.SDP
	return pc.sendErrLocked(msg)
}

func (pc *PeerConnection) handleOffer(msg SignalMessage) {
	pc.mu.Lock()

	pc.ackLocked(MsgOffer)

	var deferred func()
	switch pc.phase {
	case PhaseResponding:
		pc.phase = PhaseConnecting
		if !pc.client.hasLocalSources() {
			// Nothing to send back yet; once the user publishes media this
			// side becomes the offerer of a fresh round.
			pc.queuedRenegotiation = true
		}
		var err error
		if deferred, err = pc.answerLocked(msg); err != nil {
			pc.failLocked(&NegotiationError{PeerID: pc.peerID, Phase: pc.phase, Msg: MsgOffer, Err: err})
		}

	case PhaseConnected:
		// Renegotiation round initiated by the peer; the session stays
		// connected throughout.
		var err error
		if deferred, err = pc.answerLocked(msg); err != nil {
			pc.failLocked(&NegotiationError{PeerID: pc.peerID, Phase: pc.phase, Msg: MsgOffer, Err: err})
		}

	case PhaseIdle:
		pc.log.Warnf("ignoring offer from %s with no session", pc.peerID)

	default:
		pc.failLocked(&NegotiationError{
			PeerID: pc.peerID,
			Phase:  pc.phase,
			Msg:    MsgOffer,
			Err:    ErrInvalidPhase,
		})
	}
	pc.mu.Unlock()

	// The video clear and its events run without the session lock;
	// subscribers may read peer state from their handlers.
	if deferred != nil {
		deferred()
	}
}

func (pc *PeerConnection) answerLocked(msg SignalMessage) (func(), error) {
	deferred := pc.client.sync.inspectOffer(pc, msg.SDP)

	if err := pc.transport.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  msg.SDP,
	}); err != nil {
		return nil, fmt.Errorf("error while setting remote offer: %w", err)
	}

	pc.drainCandidatesLocked()
	pc.bindLocalSourcesLocked()

	answer, err := pc.transport.CreateAnswer()
	if err != nil {
		return nil, fmt.Errorf("error while creating answer: %w", err)
	}
	if err := pc.transport.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("error while setting local sdp: %w", err)
	}

	reply := NewSignalMessage(MsgAnswer, pc.client.localID, pc.peerID)
	reply.SDP = answer.SDP
	return deferred, pc.sendErrLocked(reply)
}

func (pc *PeerConnection) handleAnswer(msg SignalMessage) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	switch pc.phase {
	case PhaseConnecting, PhaseConnected:
		if err := pc.transport.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  msg.SDP,
		}); err != nil {
			pc.failLocked(&NegotiationError{PeerID: pc.peerID, Phase: pc.phase, Msg: MsgAnswer, Err: err})
			return
		}
		pc.drainCandidatesLocked()
		pc.ackLocked(MsgAnswer)
		pc.renegotiating = false
		pc.stopRenegotiateTimerLocked()
		if pc.phase == PhaseConnecting {
			pc.becomeConnectedLocked()
		}

	default:
		pc.log.Warnf("ignoring answer from %s in phase %s", pc.peerID, pc.phase)
	}
}

func (pc *PeerConnection) handleCandidate(msg SignalMessage) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
		pc.log.Warnf("dropping malformed candidate from %s: %v", pc.peerID, err)
		return
	}

	// Candidates that arrive before the remote description are queued and
	// acked immediately so the sender does not retry; the queue drains in
	// arrival order once the description lands.
	if pc.transport == nil || !pc.transport.HasRemoteDescription() {
		pc.pendingCandidates = append(pc.pendingCandidates, init)
		pc.ackLocked(MsgICECandidate)
		return
	}

	pc.drainCandidatesLocked()
	if err := pc.transport.AddICECandidate(init); err != nil {
		pc.log.Warnf("error while adding candidate from %s: %v", pc.peerID, err)
	}
	pc.ackLocked(MsgICECandidate)
}

func (pc *PeerConnection) drainCandidatesLocked() {
	for _, init := range pc.pendingCandidates {
		if err := pc.transport.AddICECandidate(init); err != nil {
			pc.log.Warnf("error while applying queued candidate from %s: %v", pc.peerID, err)
		}
	}
	pc.pendingCandidates = nil
}

// forceRenegotiation starts a fresh offer round on a connected session.
// Rounds are serialized per peer: a second call while one is in flight is a
// no-op until the first completes.
func (pc *PeerConnection) forceRenegotiation() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.phase != PhaseConnected {
		pc.queuedRenegotiation = true
		return nil
	}
	if pc.renegotiating {
		pc.log.Debugf("renegotiation with %s already in flight", pc.peerID)
		return nil
	}

	pc.renegotiating = true
	pc.queuedRenegotiation = false
	if err := pc.sendOfferLocked(false); err != nil {
		pc.renegotiating = false
		return err
	}
	pc.armRenegotiateTimerLocked()
	return nil
}

// disconnect is the initiator side of teardown: notify the peer, close the
// transport handle and release everything. The transport handle is closed
// at most once even when teardown fires from several code paths.
func (pc *PeerConnection) disconnect() error {
	pc.mu.Lock()
	if pc.phase.terminal() {
		pc.mu.Unlock()
		return nil
	}
	pc.graceful = true
	if pc.control != nil {
		if err := pc.control.SendEnvelope(datachannel.DisconnectEnvelope(pc.client.localID)); err != nil {
			pc.log.Debugf("disconnect envelope to %s not delivered: %v", pc.peerID, err)
		}
	}
	pc.sendLocked(NewSignalMessage(MsgDisconnect, pc.client.localID, pc.peerID))
	pc.mu.Unlock()

	return pc.teardown(PhaseDisconnected, true)
}

// handleRemoteDisconnect is the passive side: release local bookkeeping
// only and let the transport's own state-change callback reflect closure.
// Closing the handle here would race the initiator's close.
func (pc *PeerConnection) handleRemoteDisconnect() {
	pc.mu.Lock()
	if pc.phase.terminal() {
		pc.mu.Unlock()
		return
	}
	pc.graceful = true
	pc.mu.Unlock()

	if err := pc.teardown(PhaseDisconnected, false); err != nil {
		pc.log.Warnf("error while releasing peer %s: %v", pc.peerID, err)
	}
}

// teardown releases timers, registry entries and channels; when
// closeTransport is set it also closes the transport handle. Idempotent.
func (pc *PeerConnection) teardown(final Phase, closeTransport bool) error {
	var err error

	pc.releaseOnce.Do(func() {
		pc.mu.Lock()
		pc.stopInitiateTimerLocked()
		pc.stopConnectTimerLocked()
		pc.stopRenegotiateTimerLocked()
		pc.phase = final
		pc.pendingCandidates = nil
		pc.renegotiating = false
		pc.cancel()
		pc.mu.Unlock()

		if cerr := pc.channels.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		if cerr := pc.client.registry.ClearPeer(pc.peerID); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		pc.client.unbindSources(pc)
		pc.client.removePeer(pc.peerID)

		pc.client.bus.publish(ConnectionEvent{PeerID: pc.peerID, Phase: final, Connected: false})
	})

	if closeTransport {
		pc.closeTransportOnce.Do(func() {
			if cerr := pc.transport.Close(); cerr != nil {
				err = multierr.Append(err, cerr)
			}
		})
	}

	return err
}

// failLocked escalates a negotiation failure: the error is surfaced and the
// session torn down with no automatic retry. Called with the lock held.
func (pc *PeerConnection) failLocked(err *NegotiationError) {
	pc.log.Errorf("%v", err)
	pc.mu.Unlock()
	defer pc.mu.Lock()

	pc.client.bus.publish(ErrorEvent{PeerID: pc.peerID, Message: err.Error()})
	if terr := pc.teardown(PhaseFailed, true); terr != nil {
		pc.log.Warnf("error while tearing down peer %s: %v", pc.peerID, terr)
	}
}

func (pc *PeerConnection) becomeConnectedLocked() {
	pc.phase = PhaseConnected
	pc.stopInitiateTimerLocked()
	pc.stopConnectTimerLocked()

	queued := pc.queuedRenegotiation
	pc.queuedRenegotiation = false

	pc.mu.Unlock()
	pc.client.bus.publish(ConnectionEvent{PeerID: pc.peerID, Phase: PhaseConnected, Connected: true})
	if queued {
		if err := pc.forceRenegotiation(); err != nil {
			pc.log.Warnf("queued renegotiation with %s failed: %v", pc.peerID, err)
		}
	}
	pc.mu.Lock()
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func (pc *PeerConnection) onICECandidate() *PeerConnection {
	pc.transport.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			pc.send(NewSignalMessage(MsgICEComplete, pc.client.localID, pc.peerID))
			return
		}

		data, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			pc.log.Warnf("error while encoding candidate: %v", err)
			return
		}
		msg := NewSignalMessage(MsgICECandidate, pc.client.localID, pc.peerID)
		msg.Candidate = string(data)
		pc.send(msg)
	})
	return pc
}

func (pc *PeerConnection) onTrack() *PeerConnection {
	pc.transport.OnTrack(func(remote RemoteTrack) {
		pc.handleTrack(remote)
	})
	return pc
}

func (pc *PeerConnection) handleTrack(remote RemoteTrack) {
	pc.mu.Lock()
	hints := classifyHints{AnnouncedScreenID: pc.remoteScreenShareID}
	if entry, exists := pc.client.registry.Get(streams.Key{Direction: streams.Remote, Kind: streams.Video, PeerID: pc.peerID}); exists {
		hints.CameraStreamID = entry.StreamID
	}
	pc.mu.Unlock()

	class := pc.client.classifier.Classify(remote, hints)

	kind := remote.Media
	if class == ClassScreen {
		kind = streams.Screen
	}

	key := streams.Key{Direction: streams.Remote, Kind: kind, PeerID: pc.peerID}
	if err := pc.client.registry.Set(key, &streams.Entry{StreamID: remote.StreamID, TrackID: remote.ID}); err != nil {
		pc.log.Warnf("error while storing track for %s: %v", pc.peerID, err)
	}

	pc.client.bus.publish(TrackEvent{PeerID: pc.peerID, Media: kind, Enabled: true})
}

func (pc *PeerConnection) onDataChannel() *PeerConnection {
	pc.transport.OnDataChannel(func(lower datachannel.Lower) {
		channel, err := datachannel.Wrap(pc.ctx, lower, datachannel.WithLogger(pc.log))
		if err != nil {
			pc.log.Warnf("error while adopting channel '%s' from %s: %v", lower.Label(), pc.peerID, err)
			return
		}
		pc.adoptChannel(channel)
	})
	return pc
}

func (pc *PeerConnection) onConnectionStateChange() *PeerConnection {
	pc.transport.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		pc.log.Debugf("peer %s connection state changed to %s", pc.peerID, state)

		switch state {
		case webrtc.PeerConnectionStateConnected:
			pc.mu.Lock()
			if pc.phase == PhaseConnecting {
				pc.becomeConnectedLocked()
			}
			pc.mu.Unlock()

		case webrtc.PeerConnectionStateFailed:
			pc.mu.Lock()
			graceful := pc.graceful
			pc.mu.Unlock()
			if !graceful {
				pc.client.bus.publish(ErrorEvent{
					PeerID:  pc.peerID,
					Message: fmt.Sprintf("transport failed for peer %s", pc.peerID),
					Cause:   CauseICEFailed,
				})
			}
			if err := pc.teardown(PhaseFailed, true); err != nil {
				pc.log.Warnf("error while tearing down peer %s: %v", pc.peerID, err)
			}

		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			// Expected after a graceful remote disconnect; local bookkeeping
			// is already released, the handle belongs to whoever initiated.
			if err := pc.teardown(PhaseDisconnected, false); err != nil {
				pc.log.Warnf("error while releasing peer %s: %v", pc.peerID, err)
			}
		}
	})
	return pc
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func (pc *PeerConnection) createControlChannelLocked() error {
	channel, err := datachannel.Create(pc.ctx, controlChannelLabel, pc.transport,
		datachannel.WithDataChannelInit(pc.controlInit), datachannel.WithLogger(pc.log))
	if err != nil {
		return err
	}
	pc.wireChannelLocked(channel)
	return pc.channels.Add(channel)
}

func (pc *PeerConnection) adoptChannel(channel *datachannel.Channel) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if channel.Label() == controlChannelLabel {
		pc.wireChannelLocked(channel)
	}
	if err := pc.channels.Add(channel); err != nil {
		pc.log.Warnf("duplicate channel '%s' from %s", channel.Label(), pc.peerID)
	}
}

func (pc *PeerConnection) wireChannelLocked(channel *datachannel.Channel) {
	pc.control = channel

	channel.OnEnvelope(datachannel.TypeMediaState, func(env datachannel.Envelope) {
		state := MediaState{}
		if env.Audio != nil {
			state.Audio = *env.Audio
		}
		if env.Video != nil {
			state.Video = *env.Video
		}
		pc.client.sync.applyRemote(pc, state)
	})

	channel.OnEnvelope(datachannel.TypeScreenShare, func(env datachannel.Envelope) {
		pc.handleScreenShare(env.ScreenID)
	})

	channel.OnEnvelope(datachannel.TypeDisconnect, func(env datachannel.Envelope) {
		pc.handleRemoteDisconnect()
	})

	channel.OnUnhandled(func(env datachannel.Envelope) {
		data, err := env.Encode()
		if err != nil {
			return
		}
		pc.client.bus.publish(MessageEvent{PeerID: pc.peerID, Data: data})
	})
}

func (pc *PeerConnection) handleScreenShare(screenID string) {
	pc.mu.Lock()
	pc.remoteScreenShareID = screenID
	pc.mu.Unlock()

	if screenID != "" {
		return
	}

	key := streams.Key{Direction: streams.Remote, Kind: streams.Screen, PeerID: pc.peerID}
	if pc.client.registry.Has(key) {
		if err := pc.client.registry.Clear(key); err != nil {
			pc.log.Warnf("error while clearing screen entry for %s: %v", pc.peerID, err)
		}
		pc.client.bus.publish(TrackEvent{PeerID: pc.peerID, Media: streams.Screen, Enabled: false})
	}
}

func (pc *PeerConnection) bindLocalSourcesLocked() {
	pc.client.bindSources(pc)
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func (pc *PeerConnection) armInitiateTimerLocked() {
	pc.stopInitiateTimerLocked()
	pc.initiateTimer = time.AfterFunc(pc.initiateAckTimeout, pc.onInitiateTimeout)
}

func (pc *PeerConnection) armConnectTimerLocked() {
	pc.stopConnectTimerLocked()
	pc.connectTimer = time.AfterFunc(pc.connectedTimeout, pc.onConnectTimeout)
}

func (pc *PeerConnection) armRenegotiateTimerLocked() {
	pc.stopRenegotiateTimerLocked()
	pc.renegotiateTimer = time.AfterFunc(pc.renegotiationTimeout, pc.onRenegotiateTimeout)
}

func (pc *PeerConnection) stopInitiateTimerLocked() {
	if pc.initiateTimer != nil {
		pc.initiateTimer.Stop()
		pc.initiateTimer = nil
	}
}

func (pc *PeerConnection) stopConnectTimerLocked() {
	if pc.connectTimer != nil {
		pc.connectTimer.Stop()
		pc.connectTimer = nil
	}
}

func (pc *PeerConnection) stopRenegotiateTimerLocked() {
	if pc.renegotiateTimer != nil {
		pc.renegotiateTimer.Stop()
		pc.renegotiateTimer = nil
	}
}

// Timeouts are the expected outcome of an unreachable peer: cleanup is
// silent, no error event is emitted.
func (pc *PeerConnection) onInitiateTimeout() {
	pc.mu.Lock()
	expired := pc.phase == PhaseInitiating && pc.pendingAck
	pc.mu.Unlock()

	if !expired {
		return
	}
	pc.log.Infof("initiation to %s not acknowledged within %s, abandoning", pc.peerID, pc.initiateAckTimeout)
	if err := pc.teardown(PhaseDisconnected, true); err != nil {
		pc.log.Warnf("error while abandoning peer %s: %v", pc.peerID, err)
	}
}

// A renegotiation answer that never arrives must not wedge future rounds
// on an otherwise healthy session.
func (pc *PeerConnection) onRenegotiateTimeout() {
	pc.mu.Lock()
	stuck := pc.renegotiating && !pc.phase.terminal()
	if stuck {
		pc.renegotiating = false
	}
	pc.mu.Unlock()

	if stuck {
		pc.log.Warnf("renegotiation with %s got no answer within %s, allowing a fresh round", pc.peerID, pc.renegotiationTimeout)
	}
}

func (pc *PeerConnection) onConnectTimeout() {
	pc.mu.Lock()
	expired := pc.phase != PhaseConnected && !pc.phase.terminal()
	pc.mu.Unlock()

	if !expired {
		return
	}
	pc.log.Infof("session with %s did not connect within %s, abandoning", pc.peerID, pc.connectedTimeout)
	if err := pc.teardown(PhaseDisconnected, true); err != nil {
		pc.log.Warnf("error while abandoning peer %s: %v", pc.peerID, err)
	}
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func (pc *PeerConnection) ack(t MessageType) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.ackLocked(t)
}

func (pc *PeerConnection) ackLocked(t MessageType) {
	ackType, exists := t.Ack()
	if !exists {
		return
	}
	pc.sendLocked(NewSignalMessage(ackType, pc.client.localID, pc.peerID))
}

func (pc *PeerConnection) send(msg SignalMessage) {
	if err := pc.client.router.Send(msg); err != nil {
		pc.log.Warnf("error while sending %s to %s: %v", msg.Type, msg.To, err)
	}
}

func (pc *PeerConnection) sendLocked(msg SignalMessage) {
	pc.send(msg)
}

func (pc *PeerConnection) sendErrLocked(msg SignalMessage) error {
	return pc.client.router.Send(msg)
}
