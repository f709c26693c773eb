// Package callsync runs one participant's side of a two-party call: peer
// discovery over presence events, offer/answer negotiation with glare
// avoidance, ICE relay and mic/cam state.
package callsync

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/studyroom/backend/internal/channel"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

// State is the call lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sender is the outbound half of the session channel.
type Sender interface {
	Send(eventType string, payload interface{}) error
}

// Engine drives one participant's call state.
type Engine struct {
	selfID  int64
	sender  Sender
	logger  loggers.Logger
	newPeer PeerFactory
	media   MediaSource

	mu    sync.Mutex
	state State
	// peerID is the discovered counterpart. It survives a hang-up so the
	// next call can start without waiting for a fresh presence event.
	peerID int64
	pc     PeerConnection

	// pendingNegotiate marks a negotiation wish that could not run yet,
	// either because signaling was not stable or because no peer was known.
	// It runs once the exchange settles or presence discovers a peer.
	pendingNegotiate bool

	// iceQueue buffers remote candidates that arrive before the remote
	// description. The queue flushes exactly once.
	iceQueue  []json.RawMessage
	remoteSet bool

	micOn      bool
	camOn      bool
	audioTrack MediaTrack
	videoTrack MediaTrack

	// audioAttached and videoAttached record whether the current peer
	// connection has ever carried a track of that kind. Attaching the first
	// track on a live connection needs a fresh offer; swapping does not.
	audioAttached bool
	videoAttached bool

	peerMedia map[int64]models.MediaState
	subs      []*channel.Subscription

	// OnStateChange, if set, fires on every lifecycle transition.
	OnStateChange func(State)
}

// NewEngine creates a call engine. newPeer builds the underlying peer
// connection on demand; media provides tracks lazily when a device turns on.
func NewEngine(selfID int64, sender Sender, newPeer PeerFactory, media MediaSource, logger loggers.Logger) *Engine {
	return &Engine{
		selfID:    selfID,
		sender:    sender,
		logger:    logger,
		newPeer:   newPeer,
		media:     media,
		peerMedia: make(map[int64]models.MediaState),
	}
}

// Bind subscribes the engine to call events on the channel.
func (e *Engine) Bind(ch *channel.Channel) {
	e.mu.Lock()
	for _, sub := range e.subs {
		sub.Cancel()
	}
	e.subs = []*channel.Subscription{
		ch.Subscribe(models.EventPresence, e.handlePresence),
		ch.Subscribe(models.EventPresenceJoin, e.handlePresenceJoin),
		ch.Subscribe(models.EventPresenceLeave, e.handlePresenceLeave),
		ch.Subscribe(models.EventMediaState, e.handleMediaState),
		ch.Subscribe(models.EventMediaStateSnapshot, e.handleMediaSnapshot),
		ch.Subscribe(models.EventWebRTCOffer, e.handleOffer),
		ch.Subscribe(models.EventWebRTCAnswer, e.handleAnswer),
		ch.Subscribe(models.EventWebRTCICE, e.handleICE),
		ch.Subscribe(models.EventWebRTCError, e.handleSignalError),
	}
	e.mu.Unlock()
}

// Unbind cancels all channel subscriptions.
func (e *Engine) Unbind() {
	e.mu.Lock()
	for _, sub := range e.subs {
		sub.Cancel()
	}
	e.subs = nil
	e.mu.Unlock()
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PeerID returns the discovered counterpart, 0 if none yet.
func (e *Engine) PeerID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerID
}

// PeerMedia returns the last known mic/cam state of a participant.
func (e *Engine) PeerMedia(userID int64) models.MediaState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerMedia[userID]
}

// Call starts negotiation with the discovered peer. Before any peer is known
// the wish is parked and runs once presence discovers one.
func (e *Engine) Call() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return fmt.Errorf("call: engine closed")
	}

	if e.pc == nil {
		if err := e.createPeerLocked(); err != nil {
			return err
		}
	}
	return e.negotiateLocked()
}

// HangUp tears down the peer connection and releases the local tracks. The
// discovered peer ID is kept so a later Call dials the same counterpart.
func (e *Engine) HangUp() {
	e.mu.Lock()
	e.teardownLocked(StateIdle)
	micWasOn, camWasOn := e.micOn, e.camOn
	e.micOn, e.camOn = false, false
	e.audioTrack, e.videoTrack = nil, nil
	e.mu.Unlock()

	if e.media != nil {
		if err := e.media.Stop(); err != nil {
			e.logger.Warnf("call: release tracks: %v", err)
		}
	}

	if micWasOn || camWasOn {
		off := false
		if err := e.sender.Send(models.EventMediaToggle, models.MediaTogglePayload{
			MicEnabled: &off,
			CamEnabled: &off,
		}); err != nil {
			e.logger.Warnf("call: media off notification failed: %v", err)
		}
	}
}

// Close shuts the engine down for good.
func (e *Engine) Close() {
	e.Unbind()
	e.mu.Lock()
	e.teardownLocked(StateClosed)
	e.mu.Unlock()
	if e.media != nil {
		e.media.Close()
	}
}

// ToggleMic flips the microphone. The audio track is acquired on first use
// and swapped in or out of the live connection; attaching the connection's
// first audio track renegotiates.
func (e *Engine) ToggleMic() (bool, error) {
	return e.toggle(&e.micOn, &e.audioTrack, &e.audioAttached, e.acquireAudio, func(pc PeerConnection, t MediaTrack) error {
		return pc.ReplaceAudioTrack(t)
	}, func(on bool) models.MediaTogglePayload {
		return models.MediaTogglePayload{MicEnabled: &on}
	})
}

// ToggleCam flips the camera.
func (e *Engine) ToggleCam() (bool, error) {
	return e.toggle(&e.camOn, &e.videoTrack, &e.videoAttached, e.acquireVideo, func(pc PeerConnection, t MediaTrack) error {
		return pc.ReplaceVideoTrack(t)
	}, func(on bool) models.MediaTogglePayload {
		return models.MediaTogglePayload{CamEnabled: &on}
	})
}

func (e *Engine) acquireAudio() (MediaTrack, error) { return e.media.Audio() }
func (e *Engine) acquireVideo() (MediaTrack, error) { return e.media.Video() }

func (e *Engine) toggle(
	flag *bool,
	track *MediaTrack,
	attached *bool,
	acquire func() (MediaTrack, error),
	replace func(PeerConnection, MediaTrack) error,
	payload func(bool) models.MediaTogglePayload,
) (bool, error) {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return false, fmt.Errorf("call: engine closed")
	}

	on := !*flag
	if on && *track == nil {
		t, err := acquire()
		if err != nil {
			e.mu.Unlock()
			return false, fmt.Errorf("call: acquire device: %w", err)
		}
		*track = t
	}
	*flag = on

	if e.pc != nil {
		var err error
		if on {
			err = replace(e.pc, *track)
		} else {
			err = replace(e.pc, nil)
		}
		if err != nil {
			*flag = !on
			e.mu.Unlock()
			return !on, fmt.Errorf("call: swap track: %w", err)
		}
		if on && !*attached {
			// First track of this kind on the connection adds a transceiver,
			// which the remote side only learns about through a new offer.
			*attached = true
			if err := e.negotiateLocked(); err != nil {
				e.logger.Errorf("call: renegotiate after track attach: %v", err)
			}
		}
	}
	e.mu.Unlock()

	if err := e.sender.Send(models.EventMediaToggle, payload(on)); err != nil {
		e.logger.Warnf("call: media toggle notification failed: %v", err)
	}
	return on, nil
}

// createPeerLocked builds the peer connection and wires its callbacks.
func (e *Engine) createPeerLocked() error {
	pc, err := e.newPeer(PeerEvents{
		OnICECandidate: e.sendICECandidate,
		OnConnected:    func() { e.setState(StateConnected) },
		OnDisconnected: e.peerDropped,
	})
	if err != nil {
		return fmt.Errorf("call: create peer connection: %w", err)
	}

	e.pc = pc
	e.remoteSet = false
	e.iceQueue = nil
	e.pendingNegotiate = false
	e.audioAttached = false
	e.videoAttached = false

	if e.micOn && e.audioTrack != nil {
		if err := pc.ReplaceAudioTrack(e.audioTrack); err != nil {
			e.logger.Warnf("call: attach audio track: %v", err)
		} else {
			e.audioAttached = true
		}
	}
	if e.camOn && e.videoTrack != nil {
		if err := pc.ReplaceVideoTrack(e.videoTrack); err != nil {
			e.logger.Warnf("call: attach video track: %v", err)
		} else {
			e.videoAttached = true
		}
	}
	return nil
}

// negotiateLocked sends an offer if a peer is known and signaling is stable;
// otherwise the wish is parked until discovery or the in-flight exchange
// settles.
func (e *Engine) negotiateLocked() error {
	if e.peerID == 0 || !e.pc.SignalingStateStable() {
		e.pendingNegotiate = true
		return nil
	}

	sdp, err := e.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("call: create offer: %w", err)
	}

	e.stateLocked(StateNegotiating)
	if err := e.sender.Send(models.EventWebRTCOffer, models.SignalPayload{
		ToUserID: e.peerID,
		SDP:      sdp,
	}); err != nil {
		return fmt.Errorf("call: send offer: %w", err)
	}
	return nil
}

func (e *Engine) handleOffer(frame []byte) {
	var signal models.SignalPayload
	if err := channel.DecodePayload(frame, &signal); err != nil || signal.SDP == "" {
		e.logger.Warnf("call: dropping malformed offer")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return
	}
	if e.peerID == 0 {
		e.peerID = signal.FromUserID
	}

	if e.pc == nil {
		if err := e.createPeerLocked(); err != nil {
			e.logger.Errorf("call: %v", err)
			return
		}
	}

	sdp, err := e.pc.CreateAnswer(signal.SDP)
	if err != nil {
		e.logger.Errorf("call: answer offer: %v", err)
		return
	}
	e.remoteSet = true
	e.flushICELocked()
	e.stateLocked(StateNegotiating)

	if err := e.sender.Send(models.EventWebRTCAnswer, models.SignalPayload{
		ToUserID: signal.FromUserID,
		SDP:      sdp,
	}); err != nil {
		e.logger.Errorf("call: send answer: %v", err)
	}
}

func (e *Engine) handleAnswer(frame []byte) {
	var signal models.SignalPayload
	if err := channel.DecodePayload(frame, &signal); err != nil || signal.SDP == "" {
		e.logger.Warnf("call: dropping malformed answer")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil {
		return
	}
	if err := e.pc.AcceptAnswer(signal.SDP); err != nil {
		e.logger.Errorf("call: accept answer: %v", err)
		return
	}
	e.remoteSet = true
	e.flushICELocked()

	if e.pendingNegotiate {
		e.pendingNegotiate = false
		if err := e.negotiateLocked(); err != nil {
			e.logger.Errorf("call: parked renegotiation: %v", err)
		}
	}
}

func (e *Engine) handleICE(frame []byte) {
	var signal models.SignalPayload
	if err := channel.DecodePayload(frame, &signal); err != nil || len(signal.Candidate) == 0 {
		e.logger.Warnf("call: dropping malformed candidate")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil {
		return
	}
	if !e.remoteSet {
		e.iceQueue = append(e.iceQueue, signal.Candidate)
		return
	}
	if err := e.pc.AddICECandidate(signal.Candidate); err != nil {
		e.logger.Warnf("call: add candidate: %v", err)
	}
}

// flushICELocked drains queued candidates into the peer connection. Runs at
// most once per connection; candidates arriving afterwards apply directly.
func (e *Engine) flushICELocked() {
	for _, candidate := range e.iceQueue {
		if err := e.pc.AddICECandidate(candidate); err != nil {
			e.logger.Warnf("call: add queued candidate: %v", err)
		}
	}
	e.iceQueue = nil
}

func (e *Engine) handleSignalError(frame []byte) {
	var payload models.WebRTCErrorPayload
	if err := channel.DecodePayload(frame, &payload); err != nil {
		return
	}
	e.logger.Warnf("call: signaling error: %s", payload.Error)

	if payload.Error == "target_offline" {
		e.mu.Lock()
		e.teardownLocked(StateIdle)
		e.mu.Unlock()
	}
}

func (e *Engine) handlePresence(frame []byte) {
	var payload models.PresencePayload
	if err := channel.DecodePayload(frame, &payload); err != nil {
		return
	}

	e.mu.Lock()
	if e.peerID == 0 {
		for _, id := range payload.Users {
			if id != e.selfID {
				e.peerID = id
				break
			}
		}
		e.retryParkedLocked()
	}
	e.mu.Unlock()
}

func (e *Engine) handlePresenceJoin(frame []byte) {
	var payload models.PresenceUserPayload
	if err := channel.DecodePayload(frame, &payload); err != nil {
		return
	}

	e.mu.Lock()
	if e.peerID == 0 && payload.UserID != e.selfID {
		e.peerID = payload.UserID
		e.retryParkedLocked()
	}
	e.mu.Unlock()
}

// retryParkedLocked runs a negotiation that was parked before any peer was
// known. It is a no-op while discovery has not happened or no call started.
func (e *Engine) retryParkedLocked() {
	if e.peerID == 0 || !e.pendingNegotiate || e.pc == nil {
		return
	}
	e.pendingNegotiate = false
	if err := e.negotiateLocked(); err != nil {
		e.logger.Errorf("call: deferred negotiation: %v", err)
	}
}

func (e *Engine) handlePresenceLeave(frame []byte) {
	var payload models.PresenceUserPayload
	if err := channel.DecodePayload(frame, &payload); err != nil {
		return
	}

	e.mu.Lock()
	delete(e.peerMedia, payload.UserID)
	if payload.UserID == e.peerID {
		// The counterpart is gone for real; forget them and drop the call.
		e.peerID = 0
		if e.state != StateClosed {
			e.teardownLocked(StateIdle)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) handleMediaState(frame []byte) {
	var payload models.MediaStateBroadcast
	if err := channel.DecodePayload(frame, &payload); err != nil {
		return
	}

	e.mu.Lock()
	e.peerMedia[payload.UserID] = models.MediaState{Mic: payload.Mic, Cam: payload.Cam}
	e.mu.Unlock()
}

func (e *Engine) handleMediaSnapshot(frame []byte) {
	var payload models.MediaStateSnapshot
	if err := channel.DecodePayload(frame, &payload); err != nil {
		return
	}

	e.mu.Lock()
	e.peerMedia = make(map[int64]models.MediaState, len(payload.Status))
	for id, st := range payload.Status {
		e.peerMedia[id] = st
	}
	e.mu.Unlock()
}

func (e *Engine) sendICECandidate(candidate json.RawMessage) {
	e.mu.Lock()
	peerID := e.peerID
	e.mu.Unlock()
	if peerID == 0 {
		return
	}

	if err := e.sender.Send(models.EventWebRTCICE, models.SignalPayload{
		ToUserID:  peerID,
		Candidate: candidate,
	}); err != nil {
		e.logger.Warnf("call: send candidate: %v", err)
	}
}

func (e *Engine) peerDropped() {
	e.mu.Lock()
	if e.state == StateClosed || e.pc == nil {
		e.mu.Unlock()
		return
	}
	e.teardownLocked(StateIdle)
	e.mu.Unlock()
}

func (e *Engine) teardownLocked(next State) {
	if e.pc != nil {
		e.pc.Close()
		e.pc = nil
	}
	e.iceQueue = nil
	e.remoteSet = false
	e.pendingNegotiate = false
	e.audioAttached = false
	e.videoAttached = false
	e.stateLocked(next)
}

func (e *Engine) setState(next State) {
	e.mu.Lock()
	e.stateLocked(next)
	e.mu.Unlock()
}

func (e *Engine) stateLocked(next State) {
	if e.state == next {
		return
	}
	e.state = next
	if e.OnStateChange != nil {
		// Callbacks run inline; they must not call back into the engine.
		e.OnStateChange(next)
	}
}
