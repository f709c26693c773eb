package websocket

import (
	"encoding/json"
	"testing"

	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

type memMessageStore struct {
	nextID int64
	saved  []*models.Message
}

func (s *memMessageStore) Create(msg *models.Message) error {
	s.nextID++
	msg.ID = s.nextID
	s.saved = append(s.saved, msg)
	return nil
}

type memBoardStore struct {
	boards map[int64][]models.StrokeAction
}

func (s *memBoardStore) Load(sessionID int64) ([]models.StrokeAction, error) {
	return s.boards[sessionID], nil
}

func (s *memBoardStore) Save(sessionID int64, actions []models.StrokeAction) error {
	s.boards[sessionID] = actions
	return nil
}

type memDocumentStore struct {
	docs map[int64]string
}

func (s *memDocumentStore) Load(sessionID int64) (string, error) {
	return s.docs[sessionID], nil
}

func (s *memDocumentStore) Save(sessionID int64, text string) error {
	s.docs[sessionID] = text
	return nil
}

func newTestHub() (*Hub, *memBoardStore, *memDocumentStore) {
	boards := &memBoardStore{boards: make(map[int64][]models.StrokeAction)}
	docs := &memDocumentStore{docs: make(map[int64]string)}
	hub := NewHub(nil, &memMessageStore{}, boards, docs, loggers.NewNop(), nil)
	return hub, boards, docs
}

func newTestClient(room *Room, userID int64, username string) *Client {
	return &Client{
		room:     room,
		send:     make(chan []byte, 64),
		userID:   userID,
		username: username,
	}
}

// nextFrame pops one queued frame and decodes it into a generic map.
func nextFrame(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame map[string]interface{}
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("undecodable frame %q: %v", raw, err)
		}
		return frame
	default:
		t.Fatal("expected a queued frame, got none")
		return nil
	}
}

func nextFrameOfType(t *testing.T, c *Client, eventType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 16; i++ {
		select {
		case raw := <-c.send:
			var frame map[string]interface{}
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("undecodable frame %q: %v", raw, err)
			}
			if frame["type"] == eventType {
				return frame
			}
		default:
			t.Fatalf("no %s frame queued", eventType)
		}
	}
	t.Fatalf("no %s frame within 16 frames", eventType)
	return nil
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func testStroke(x, y float64) models.StrokeAction {
	return models.StrokeAction{
		Type:      "stroke",
		Points:    []models.Point{{X: x, Y: y}, {X: x + 1, Y: y + 1}},
		Color:     "#000000",
		LineWidth: 2,
		Mode:      models.StrokeModeDraw,
	}
}

func TestRoomLateJoinCatchUp(t *testing.T) {
	hub, _, _ := newTestHub()
	room, err := hub.Room(7)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}

	first := newTestClient(room, 1, "alice")
	room.attach(first)
	drain(first)

	for i := 0; i < 3; i++ {
		room.appendSketch(first, testStroke(float64(i), float64(i)))
	}
	room.setDocument(first, "shared notes")
	drain(first)

	late := newTestClient(room, 2, "bob")
	room.attach(late)

	presence := nextFrame(t, late)
	if presence["type"] != models.EventPresence {
		t.Fatalf("first frame = %v, want presence", presence["type"])
	}
	users := presence["users"].([]interface{})
	if len(users) != 2 {
		t.Errorf("presence lists %d users, want 2", len(users))
	}

	media := nextFrame(t, late)
	if media["type"] != models.EventMediaStateSnapshot {
		t.Fatalf("second frame = %v, want media_state_snapshot", media["type"])
	}

	sketch := nextFrame(t, late)
	if sketch["type"] != models.EventSketchSync {
		t.Fatalf("third frame = %v, want sketch_sync", sketch["type"])
	}
	if actions := sketch["content"].([]interface{}); len(actions) != 3 {
		t.Errorf("sketch_sync carries %d actions, want 3", len(actions))
	}

	editor := nextFrame(t, late)
	if editor["type"] != models.EventEditorSync {
		t.Fatalf("fourth frame = %v, want editor_sync", editor["type"])
	}
	if editor["content"] != "shared notes" {
		t.Errorf("editor_sync content = %q, want %q", editor["content"], "shared notes")
	}

	// A stroke drawn after the snapshot reaches the late joiner incrementally.
	room.appendSketch(first, testStroke(9, 9))
	update := nextFrameOfType(t, late, models.EventSketchUpdate)
	if update["user"].(map[string]interface{})["username"] != "alice" {
		t.Errorf("sketch_update missing originator")
	}
}

func TestRoomSketchClear(t *testing.T) {
	hub, boards, _ := newTestHub()
	room, err := hub.Room(3)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}

	a := newTestClient(room, 1, "alice")
	b := newTestClient(room, 2, "bob")
	room.attach(a)
	room.attach(b)
	drain(a)
	drain(b)

	room.appendSketch(a, testStroke(1, 1))
	room.clearSketch(b)

	cleared := nextFrameOfType(t, a, models.EventSketchCleared)
	if cleared["user"].(map[string]interface{})["username"] != "bob" {
		t.Errorf("sketch_cleared missing clearing user")
	}

	room.mu.Lock()
	n := len(room.sketch)
	room.mu.Unlock()
	if n != 0 {
		t.Errorf("sketch log has %d actions after clear, want 0", n)
	}
	if got := boards.boards[3]; len(got) != 0 {
		t.Errorf("persisted board has %d actions after clear, want 0", len(got))
	}

	// Strokes drawn after a clear start a fresh log.
	room.appendSketch(a, testStroke(5, 5))
	room.mu.Lock()
	n = len(room.sketch)
	room.mu.Unlock()
	if n != 1 {
		t.Errorf("sketch log has %d actions, want 1", n)
	}
}

func TestRoomDocumentDeltas(t *testing.T) {
	hub, _, _ := newTestHub()
	room, err := hub.Room(5)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}

	a := newTestClient(room, 1, "alice")
	b := newTestClient(room, 2, "bob")
	room.attach(a)
	room.attach(b)
	drain(a)
	drain(b)

	room.applyDocumentDelta(a, models.PositionalDelta{Offset: 0, Length: 0, Text: "Hello"})
	room.applyDocumentDelta(b, models.PositionalDelta{Offset: 5, Length: 0, Text: " world"})
	room.applyDocumentDelta(a, models.PositionalDelta{Offset: 5, Length: 6, Text: " there"})

	room.mu.Lock()
	doc := room.document
	room.mu.Unlock()
	if doc != "Hello there" {
		t.Errorf("document = %q, want %q", doc, "Hello there")
	}

	// Both participants see every delta, in application order.
	for _, c := range []*Client{a, b} {
		texts := []string{"Hello", " world", " there"}
		for _, want := range texts {
			frame := nextFrameOfType(t, c, models.EventEditorUpdate)
			content := frame["content"].(map[string]interface{})
			if content["text"] != want {
				t.Errorf("delta text = %v, want %q", content["text"], want)
			}
		}
	}
}

func TestRoomPresenceJoinLeave(t *testing.T) {
	hub, _, _ := newTestHub()
	room, err := hub.Room(11)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}

	a := newTestClient(room, 1, "alice")
	room.attach(a)
	drain(a)

	b := newTestClient(room, 2, "bob")
	room.attach(b)

	join := nextFrameOfType(t, a, models.EventPresenceJoin)
	if join["user_id"].(float64) != 2 {
		t.Errorf("presence_join user_id = %v, want 2", join["user_id"])
	}

	// A second socket of the same user does not announce another join.
	b2 := newTestClient(room, 2, "bob")
	room.attach(b2)
	drain(a)
	room.detach(b2)
	select {
	case raw := <-a.send:
		var frame map[string]interface{}
		json.Unmarshal(raw, &frame)
		if frame["type"] == models.EventPresenceLeave {
			t.Errorf("presence_leave broadcast while user still had a socket")
		}
	default:
	}

	room.detach(b)
	leave := nextFrameOfType(t, a, models.EventPresenceLeave)
	if leave["user_id"].(float64) != 2 {
		t.Errorf("presence_leave user_id = %v, want 2", leave["user_id"])
	}
}

func TestRoomMediaToggle(t *testing.T) {
	hub, _, _ := newTestHub()
	room, err := hub.Room(13)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}

	a := newTestClient(room, 1, "alice")
	b := newTestClient(room, 2, "bob")
	room.attach(a)
	room.attach(b)
	drain(a)
	drain(b)

	on := true
	room.toggleMedia(a, models.MediaTogglePayload{MicEnabled: &on})

	state := nextFrameOfType(t, b, models.EventMediaState)
	if state["mic"] != true || state["cam"] != false {
		t.Errorf("media_state = mic:%v cam:%v, want mic:true cam:false", state["mic"], state["cam"])
	}

	// Toggling the camera leaves the mic untouched.
	room.toggleMedia(a, models.MediaTogglePayload{CamEnabled: &on})
	state = nextFrameOfType(t, b, models.EventMediaState)
	if state["mic"] != true || state["cam"] != true {
		t.Errorf("media_state = mic:%v cam:%v, want both true", state["mic"], state["cam"])
	}

	// The user's media flags are forced off when their last socket drops.
	room.detach(a)
	state = nextFrameOfType(t, b, models.EventMediaState)
	if state["mic"] != false || state["cam"] != false {
		t.Errorf("media_state after leave = mic:%v cam:%v, want both false", state["mic"], state["cam"])
	}
}

func TestRoomRelaySignal(t *testing.T) {
	hub, _, _ := newTestHub()
	room, err := hub.Room(17)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}

	a := newTestClient(room, 1, "alice")
	b := newTestClient(room, 2, "bob")
	room.attach(a)
	room.attach(b)
	drain(a)
	drain(b)

	ok := room.relaySignal(models.EventWebRTCOffer, a, models.SignalPayload{
		ToUserID: 2,
		SDP:      "v=0 offer",
	})
	if !ok {
		t.Fatal("relay to online user reported failure")
	}

	offer := nextFrameOfType(t, b, models.EventWebRTCOffer)
	if offer["from_user_id"].(float64) != 1 {
		t.Errorf("relayed offer from_user_id = %v, want 1", offer["from_user_id"])
	}
	if offer["sdp"] != "v=0 offer" {
		t.Errorf("relayed offer sdp = %v", offer["sdp"])
	}

	// The offer is targeted; the sender does not receive a copy.
	select {
	case raw := <-a.send:
		var frame map[string]interface{}
		json.Unmarshal(raw, &frame)
		if frame["type"] == models.EventWebRTCOffer {
			t.Error("offer echoed back to sender")
		}
	default:
	}

	if room.relaySignal(models.EventWebRTCOffer, a, models.SignalPayload{ToUserID: 99, SDP: "x"}) {
		t.Error("relay to absent user reported success")
	}
}

func TestRoomPersistsOnRelease(t *testing.T) {
	hub, boards, docs := newTestHub()
	room, err := hub.Room(21)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}

	a := newTestClient(room, 1, "alice")
	room.attach(a)
	drain(a)

	room.appendSketch(a, testStroke(2, 2))
	room.setDocument(a, "kept")
	drain(a)

	room.detach(a)

	if got := boards.boards[21]; len(got) != 1 {
		t.Errorf("persisted board has %d actions, want 1", len(got))
	}
	if docs.docs[21] != "kept" {
		t.Errorf("persisted document = %q, want %q", docs.docs[21], "kept")
	}

	// The hub forgets released rooms; a fresh join warms from the store.
	hub.mu.Lock()
	_, stillThere := hub.rooms[21]
	hub.mu.Unlock()
	if stillThere {
		t.Error("empty room not released from hub")
	}

	room2, err := hub.Room(21)
	if err != nil {
		t.Fatalf("Room after release: %v", err)
	}
	room2.mu.Lock()
	doc := room2.document
	n := len(room2.sketch)
	room2.mu.Unlock()
	if doc != "kept" || n != 1 {
		t.Errorf("rewarmed room = (%q, %d actions), want (%q, 1)", doc, n, "kept")
	}
}
