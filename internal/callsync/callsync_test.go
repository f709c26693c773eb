package callsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

type sentEvent struct {
	eventType string
	payload   interface{}
}

type fakeSender struct {
	fail bool
	sent []sentEvent
}

func (s *fakeSender) Send(eventType string, payload interface{}) error {
	if s.fail {
		return errors.New("connection lost")
	}
	s.sent = append(s.sent, sentEvent{eventType, payload})
	return nil
}

func (s *fakeSender) ofType(eventType string) []sentEvent {
	var out []sentEvent
	for _, ev := range s.sent {
		if ev.eventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// fakePeer tracks the signaling exchange without any real negotiation.
type fakePeer struct {
	events     PeerEvents
	stable     bool
	offers     int
	candidates []string
	audioSwaps []MediaTrack
	videoSwaps []MediaTrack
	closed     bool
}

func newFakePeer() *fakePeer {
	return &fakePeer{stable: true}
}

func (p *fakePeer) CreateOffer() (string, error) {
	p.offers++
	p.stable = false
	return fmt.Sprintf("offer-%d", p.offers), nil
}

func (p *fakePeer) CreateAnswer(remoteOffer string) (string, error) {
	p.stable = true
	return "answer-to-" + remoteOffer, nil
}

func (p *fakePeer) AcceptAnswer(string) error {
	p.stable = true
	return nil
}

func (p *fakePeer) AddICECandidate(candidate json.RawMessage) error {
	p.candidates = append(p.candidates, string(candidate))
	return nil
}

func (p *fakePeer) SignalingStateStable() bool { return p.stable }

func (p *fakePeer) ReplaceAudioTrack(t MediaTrack) error {
	p.audioSwaps = append(p.audioSwaps, t)
	return nil
}

func (p *fakePeer) ReplaceVideoTrack(t MediaTrack) error {
	p.videoSwaps = append(p.videoSwaps, t)
	return nil
}

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

type fakeMedia struct {
	audioAcquired int
	videoAcquired int
	released      int
	fail          bool
}

func (m *fakeMedia) Audio() (MediaTrack, error) {
	if m.fail {
		return nil, errors.New("no device")
	}
	m.audioAcquired++
	return "audio-track", nil
}

func (m *fakeMedia) Video() (MediaTrack, error) {
	if m.fail {
		return nil, errors.New("no device")
	}
	m.videoAcquired++
	return "video-track", nil
}

func (m *fakeMedia) Stop() error {
	m.released++
	return nil
}

func (m *fakeMedia) Close() error { return nil }

func newTestEngine(sender *fakeSender) (*Engine, *fakePeer, *fakeMedia) {
	peer := newFakePeer()
	media := &fakeMedia{}
	factory := func(events PeerEvents) (PeerConnection, error) {
		peer.events = events
		return peer, nil
	}
	return NewEngine(1, sender, factory, media, loggers.NewNop()), peer, media
}

func presenceFrame(t *testing.T, users ...int64) []byte {
	t.Helper()
	frame, err := models.EncodeFrame(models.EventPresence, models.PresencePayload{Users: users})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return frame
}

func signalFrame(t *testing.T, eventType string, signal models.SignalPayload) []byte {
	t.Helper()
	frame, err := models.EncodeFrame(eventType, signal)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return frame
}

func TestPeerDiscoveryFromPresence(t *testing.T) {
	engine, _, _ := newTestEngine(&fakeSender{})

	if engine.PeerID() != 0 {
		t.Fatalf("peer before presence = %d, want 0", engine.PeerID())
	}

	engine.handlePresence(presenceFrame(t, 1, 2))
	if engine.PeerID() != 2 {
		t.Errorf("peer after presence = %d, want 2", engine.PeerID())
	}

	// Later presence frames do not steal an already discovered peer.
	engine.handlePresence(presenceFrame(t, 1, 3, 2))
	if engine.PeerID() != 2 {
		t.Errorf("peer rediscovered = %d, want 2", engine.PeerID())
	}
}

func TestCallSendsOneOffer(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)

	engine.handlePresence(presenceFrame(t, 1, 2))
	if err := engine.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if engine.State() != StateNegotiating {
		t.Errorf("state = %v, want negotiating", engine.State())
	}
	offers := sender.ofType(models.EventWebRTCOffer)
	if len(offers) != 1 {
		t.Fatalf("sent %d offers, want 1", len(offers))
	}
	if offers[0].payload.(models.SignalPayload).ToUserID != 2 {
		t.Errorf("offer target = %+v, want user 2", offers[0].payload)
	}
	if peer.offers != 1 {
		t.Errorf("peer created %d offers, want 1", peer.offers)
	}
}

func TestCallBeforeDiscoveryWaitsForPeer(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)

	engine.ToggleMic()
	if err := engine.Call(); err != nil {
		t.Fatalf("Call before discovery: %v", err)
	}
	if got := len(sender.ofType(models.EventWebRTCOffer)); got != 0 {
		t.Fatalf("sent %d offers with no peer known, want 0", got)
	}

	// Discovery through a join event runs the parked negotiation.
	join, err := models.EncodeFrame(models.EventPresenceJoin, models.PresenceUserPayload{UserID: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	engine.handlePresenceJoin(join)

	offers := sender.ofType(models.EventWebRTCOffer)
	if len(offers) != 1 {
		t.Fatalf("sent %d offers after discovery, want 1", len(offers))
	}
	if offers[0].payload.(models.SignalPayload).ToUserID != 2 {
		t.Errorf("offer target = %+v, want user 2", offers[0].payload)
	}
	if peer.offers != 1 {
		t.Errorf("peer created %d offers, want 1", peer.offers)
	}
	if len(peer.audioSwaps) != 1 || peer.audioSwaps[0] != MediaTrack("audio-track") {
		t.Errorf("audio track not carried into the deferred call: %v", peer.audioSwaps)
	}
}

func TestPresenceListRunsParkedNegotiation(t *testing.T) {
	sender := &fakeSender{}
	engine, _, _ := newTestEngine(sender)

	if err := engine.Call(); err != nil {
		t.Fatalf("Call before discovery: %v", err)
	}
	engine.handlePresence(presenceFrame(t, 1, 3))

	offers := sender.ofType(models.EventWebRTCOffer)
	if len(offers) != 1 {
		t.Fatalf("sent %d offers after presence list, want 1", len(offers))
	}
	if offers[0].payload.(models.SignalPayload).ToUserID != 3 {
		t.Errorf("offer target = %+v, want user 3", offers[0].payload)
	}
}

func TestGlareParksSecondOffer(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	if err := engine.Call(); err != nil {
		t.Fatalf("first Call: %v", err)
	}
	// Signaling is no longer stable; a second wish must not produce a
	// second wire offer.
	if err := engine.Call(); err != nil {
		t.Fatalf("second Call: %v", err)
	}

	if got := len(sender.ofType(models.EventWebRTCOffer)); got != 1 {
		t.Fatalf("sent %d offers during glare, want 1", got)
	}
	if peer.offers != 1 {
		t.Fatalf("peer created %d offers during glare, want 1", peer.offers)
	}

	// The parked negotiation runs once the answer settles the exchange.
	engine.handleAnswer(signalFrame(t, models.EventWebRTCAnswer, models.SignalPayload{
		FromUserID: 2,
		SDP:        "answer-sdp",
	}))

	if got := len(sender.ofType(models.EventWebRTCOffer)); got != 2 {
		t.Errorf("sent %d offers after settling, want 2", got)
	}
}

func TestFirstTrackAttachRenegotiates(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)

	// Answering an inbound offer brings the connection up with no local
	// tracks and signaling back to stable.
	engine.handleOffer(signalFrame(t, models.EventWebRTCOffer, models.SignalPayload{
		FromUserID: 2,
		SDP:        "their-offer",
	}))
	peer.events.OnConnected()

	on, err := engine.ToggleMic()
	if err != nil || !on {
		t.Fatalf("ToggleMic = (%v, %v), want (true, nil)", on, err)
	}
	if len(peer.audioSwaps) != 1 || peer.audioSwaps[0] != MediaTrack("audio-track") {
		t.Fatalf("audio swaps = %v, want the acquired track", peer.audioSwaps)
	}

	// The remote side only learns about the new transceiver through a
	// fresh offer.
	offers := sender.ofType(models.EventWebRTCOffer)
	if len(offers) != 1 {
		t.Fatalf("sent %d offers after first track attach, want 1", len(offers))
	}
	if offers[0].payload.(models.SignalPayload).ToUserID != 2 {
		t.Errorf("offer target = %+v, want user 2", offers[0].payload)
	}

	// Muting and unmuting swaps the existing sender; no further offers.
	engine.ToggleMic()
	engine.ToggleMic()
	if got := len(sender.ofType(models.EventWebRTCOffer)); got != 1 {
		t.Errorf("sent %d offers after mute cycle, want 1", got)
	}
}

func TestTrackAttachDuringOfferWaitsForAnswer(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	if err := engine.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}

	// An offer is in flight; attaching the first track must not race it
	// with a second one.
	engine.ToggleMic()
	if got := len(sender.ofType(models.EventWebRTCOffer)); got != 1 {
		t.Fatalf("sent %d offers while one was in flight, want 1", got)
	}
	if peer.offers != 1 {
		t.Fatalf("peer created %d offers while one was in flight, want 1", peer.offers)
	}

	engine.handleAnswer(signalFrame(t, models.EventWebRTCAnswer, models.SignalPayload{
		FromUserID: 2,
		SDP:        "answer-sdp",
	}))

	if got := len(sender.ofType(models.EventWebRTCOffer)); got != 2 {
		t.Errorf("sent %d offers after the answer settled, want 2", got)
	}
}

func TestInboundOfferAnswered(t *testing.T) {
	sender := &fakeSender{}
	engine, _, _ := newTestEngine(sender)

	engine.handleOffer(signalFrame(t, models.EventWebRTCOffer, models.SignalPayload{
		FromUserID: 5,
		SDP:        "their-offer",
	}))

	// The offer also discovers the peer.
	if engine.PeerID() != 5 {
		t.Errorf("peer after inbound offer = %d, want 5", engine.PeerID())
	}
	if engine.State() != StateNegotiating {
		t.Errorf("state = %v, want negotiating", engine.State())
	}

	answers := sender.ofType(models.EventWebRTCAnswer)
	if len(answers) != 1 {
		t.Fatalf("sent %d answers, want 1", len(answers))
	}
	answer := answers[0].payload.(models.SignalPayload)
	if answer.ToUserID != 5 || answer.SDP != "answer-to-their-offer" {
		t.Errorf("answer = %+v", answer)
	}
}

func TestInboundOfferKeepsKnownPeer(t *testing.T) {
	sender := &fakeSender{}
	engine, _, _ := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	engine.handleOffer(signalFrame(t, models.EventWebRTCOffer, models.SignalPayload{
		FromUserID: 5,
		SDP:        "their-offer",
	}))

	// The answer goes back to the offerer, but the discovered counterpart
	// stays put.
	answers := sender.ofType(models.EventWebRTCAnswer)
	if len(answers) != 1 || answers[0].payload.(models.SignalPayload).ToUserID != 5 {
		t.Fatalf("answers = %+v, want one to user 5", answers)
	}
	if engine.PeerID() != 2 {
		t.Errorf("peer after offer from a third user = %d, want 2", engine.PeerID())
	}
}

func TestICEQueueFlushedOnceInOrder(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	if err := engine.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}

	// Candidates arriving before the answer are queued, not applied.
	for i := 1; i <= 3; i++ {
		engine.handleICE(signalFrame(t, models.EventWebRTCICE, models.SignalPayload{
			FromUserID: 2,
			Candidate:  json.RawMessage(fmt.Sprintf(`{"candidate":"c%d"}`, i)),
		}))
	}
	if len(peer.candidates) != 0 {
		t.Fatalf("candidates applied before remote description: %v", peer.candidates)
	}

	engine.handleAnswer(signalFrame(t, models.EventWebRTCAnswer, models.SignalPayload{
		FromUserID: 2,
		SDP:        "answer-sdp",
	}))

	if len(peer.candidates) != 3 {
		t.Fatalf("flushed %d candidates, want 3", len(peer.candidates))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if peer.candidates[i] != fmt.Sprintf(`{"candidate":"%s"}`, want) {
			t.Errorf("candidate[%d] = %s, want %s", i, peer.candidates[i], want)
		}
	}

	// Later candidates apply directly; the queue never flushes twice.
	engine.handleICE(signalFrame(t, models.EventWebRTCICE, models.SignalPayload{
		FromUserID: 2,
		Candidate:  json.RawMessage(`{"candidate":"late"}`),
	}))
	if len(peer.candidates) != 4 {
		t.Errorf("have %d candidates after late arrival, want 4", len(peer.candidates))
	}
}

func TestToggleMicLazyAcquire(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, media := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	on, err := engine.ToggleMic()
	if err != nil || !on {
		t.Fatalf("ToggleMic = (%v, %v), want (true, nil)", on, err)
	}
	if media.audioAcquired != 1 {
		t.Errorf("audio acquired %d times, want 1", media.audioAcquired)
	}

	// Off and on again reuses the track.
	engine.ToggleMic()
	engine.ToggleMic()
	if media.audioAcquired != 1 {
		t.Errorf("audio acquired %d times after re-toggle, want 1", media.audioAcquired)
	}

	toggles := sender.ofType(models.EventMediaToggle)
	if len(toggles) != 3 {
		t.Fatalf("sent %d media toggles, want 3", len(toggles))
	}

	// With a live connection the track is swapped in and out.
	if err := engine.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(peer.audioSwaps) != 1 || peer.audioSwaps[0] != MediaTrack("audio-track") {
		t.Errorf("track not attached on connect: %v", peer.audioSwaps)
	}
	engine.ToggleMic()
	if len(peer.audioSwaps) != 2 || peer.audioSwaps[1] != nil {
		t.Errorf("track not detached on mute: %v", peer.audioSwaps)
	}
}

func TestToggleCamDeviceFailure(t *testing.T) {
	sender := &fakeSender{}
	engine, _, media := newTestEngine(sender)
	media.fail = true

	on, err := engine.ToggleCam()
	if err == nil || on {
		t.Fatalf("ToggleCam with no device = (%v, %v), want error", on, err)
	}
	if len(sender.ofType(models.EventMediaToggle)) != 0 {
		t.Error("media toggle announced despite device failure")
	}
}

func TestHangUpKeepsPeer(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	engine.ToggleMic()
	if err := engine.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}
	peer.events.OnConnected()
	if engine.State() != StateConnected {
		t.Fatalf("state = %v, want connected", engine.State())
	}

	engine.HangUp()

	if !peer.closed {
		t.Error("peer connection not closed on hang-up")
	}
	if engine.State() != StateIdle {
		t.Errorf("state after hang-up = %v, want idle", engine.State())
	}
	if engine.PeerID() != 2 {
		t.Errorf("peer forgotten on hang-up: %d, want 2", engine.PeerID())
	}

	// Media flags were announced off.
	toggles := sender.ofType(models.EventMediaToggle)
	last := toggles[len(toggles)-1].payload.(models.MediaTogglePayload)
	if last.MicEnabled == nil || *last.MicEnabled || last.CamEnabled == nil || *last.CamEnabled {
		t.Errorf("hang-up toggle = %+v, want both off", last)
	}
}

func TestHangUpReleasesTracks(t *testing.T) {
	sender := &fakeSender{}
	engine, _, media := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	engine.ToggleMic()
	engine.ToggleCam()
	if err := engine.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}

	engine.HangUp()

	if media.released != 1 {
		t.Errorf("media source released %d times, want 1", media.released)
	}

	// The next toggle acquires a fresh track instead of reviving the old one.
	engine.ToggleMic()
	if media.audioAcquired != 2 {
		t.Errorf("audio acquired %d times after hang-up, want 2", media.audioAcquired)
	}
}

func TestPeerLeaveDropsCall(t *testing.T) {
	sender := &fakeSender{}
	engine, peer, _ := newTestEngine(sender)
	engine.handlePresence(presenceFrame(t, 1, 2))

	if err := engine.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}
	peer.events.OnConnected()

	leave, err := models.EncodeFrame(models.EventPresenceLeave, models.PresenceUserPayload{UserID: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	engine.handlePresenceLeave(leave)

	if engine.State() != StateIdle {
		t.Errorf("state after peer left = %v, want idle", engine.State())
	}
	if engine.PeerID() != 0 {
		t.Errorf("departed peer still remembered: %d", engine.PeerID())
	}
	if !peer.closed {
		t.Error("peer connection not closed after peer left")
	}
}

func TestMediaStateTracking(t *testing.T) {
	engine, _, _ := newTestEngine(&fakeSender{})

	snapshot, err := models.EncodeFrame(models.EventMediaStateSnapshot, models.MediaStateSnapshot{
		Status: map[int64]models.MediaState{2: {Mic: true}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	engine.handleMediaSnapshot(snapshot)

	if st := engine.PeerMedia(2); !st.Mic || st.Cam {
		t.Errorf("peer media after snapshot = %+v, want mic on", st)
	}

	update, err := models.EncodeFrame(models.EventMediaState, models.MediaStateBroadcast{
		UserID: 2, Mic: true, Cam: true,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	engine.handleMediaState(update)

	if st := engine.PeerMedia(2); !st.Mic || !st.Cam {
		t.Errorf("peer media after update = %+v, want both on", st)
	}
}
