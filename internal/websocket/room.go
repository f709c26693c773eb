package websocket

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/studyroom/backend/internal/models"
)

// envelope wraps a frame for cross-instance fan-out. To == 0 means broadcast
// to every participant; otherwise deliver to all sockets of that user only.
type envelope struct {
	To    int64           `json:"to,omitempty"`
	Frame json.RawMessage `json:"frame"`
}

// Room holds the live state of one session: connected clients, the sketch
// action log, the shared document and per-user media flags. All mutations and
// the broadcasts they trigger happen under one lock so every participant
// observes the same order.
type Room struct {
	hub       *Hub
	sessionID int64

	mu      sync.Mutex
	clients map[*Client]bool
	byUser  map[int64]map[*Client]bool

	sketch   []models.StrokeAction
	document string
	media    map[int64]models.MediaState

	closed bool
	done   chan struct{}
}

func newRoom(hub *Hub, sessionID int64) (*Room, error) {
	sketch, err := hub.boardRepo.Load(sessionID)
	if err != nil {
		return nil, err
	}
	document, err := hub.docRepo.Load(sessionID)
	if err != nil {
		return nil, err
	}

	room := &Room{
		hub:       hub,
		sessionID: sessionID,
		clients:   make(map[*Client]bool),
		byUser:    make(map[int64]map[*Client]bool),
		sketch:    sketch,
		document:  document,
		media:     make(map[int64]models.MediaState),
		done:      make(chan struct{}),
	}

	if hub.redis != nil {
		go room.redisPump()
	}

	return room, nil
}

// redisPump routes frames published by any server instance to this instance's
// local connections.
func (r *Room) redisPump() {
	pubsub := r.hub.redis.SubscribeToSession(r.sessionID)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.hub.logger.Warnf("session %d: dropping malformed fanout frame: %v", r.sessionID, err)
				continue
			}
			r.deliverLocal(env.To, env.Frame)
		case <-r.done:
			return
		}
	}
}

// attach registers a client and pushes the late-joiner catch-up frames:
// presence, media snapshot, full sketch log and full document.
func (r *Room) attach(c *Client) {
	r.mu.Lock()
	r.clients[c] = true
	bucket, ok := r.byUser[c.userID]
	if !ok {
		bucket = make(map[*Client]bool)
		r.byUser[c.userID] = bucket
	}
	bucket[c] = true
	if _, ok := r.media[c.userID]; !ok {
		r.media[c.userID] = models.MediaState{}
	}

	if r.hub.redis != nil {
		if err := r.hub.redis.AddPresence(r.sessionID, c.userID); err != nil {
			r.hub.logger.Warnf("session %d: presence add failed: %v", r.sessionID, err)
		}
	}

	c.enqueueFrame(models.EventPresence, models.PresencePayload{Users: r.presenceUsersLocked()})
	c.enqueueFrame(models.EventMediaStateSnapshot, models.MediaStateSnapshot{Status: r.mediaSnapshotLocked()})
	c.enqueueFrame(models.EventSketchSync, models.SketchSyncPayload{Content: r.sketchSnapshotLocked()})
	c.enqueueFrame(models.EventEditorSync, models.EditorTextPayload{Content: r.document})

	r.broadcastLocked(models.EventPresenceJoin, models.PresenceUserPayload{UserID: c.userID})
	r.mu.Unlock()

	if r.hub.metrics != nil {
		r.hub.metrics.ActiveConnections.Inc()
	}
}

// detach unregisters a client. When the user's last socket drops their
// presence is withdrawn and any live media flags are forced off; when the
// room's last socket drops the room is persisted and released.
func (r *Room) detach(c *Client) {
	r.mu.Lock()
	if !r.clients[c] {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	close(c.send)

	userGone := false
	if bucket, ok := r.byUser[c.userID]; ok {
		delete(bucket, c)
		if len(bucket) == 0 {
			delete(r.byUser, c.userID)
			userGone = true
		}
	}

	if userGone {
		if r.hub.redis != nil {
			if err := r.hub.redis.RemovePresence(r.sessionID, c.userID); err != nil {
				r.hub.logger.Warnf("session %d: presence remove failed: %v", r.sessionID, err)
			}
		}
		r.broadcastLocked(models.EventPresenceLeave, models.PresenceUserPayload{UserID: c.userID})

		if st := r.media[c.userID]; st.Mic || st.Cam {
			r.media[c.userID] = models.MediaState{}
			r.broadcastLocked(models.EventMediaState, models.MediaStateBroadcast{UserID: c.userID})
		}
		delete(r.media, c.userID)
	}

	empty := len(r.clients) == 0
	r.mu.Unlock()

	if r.hub.metrics != nil {
		r.hub.metrics.ActiveConnections.Dec()
	}

	if empty {
		r.hub.releaseRoom(r)
	}
}

// shutdown persists the room state and stops the fan-out pump. The caller has
// already removed the room from the hub.
func (r *Room) shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	sketch := r.sketchSnapshotLocked()
	document := r.document
	r.mu.Unlock()

	if err := r.hub.boardRepo.Save(r.sessionID, sketch); err != nil {
		r.hub.logger.Errorf("session %d: failed to persist board: %v", r.sessionID, err)
	}
	if err := r.hub.docRepo.Save(r.sessionID, document); err != nil {
		r.hub.logger.Errorf("session %d: failed to persist document: %v", r.sessionID, err)
	}
	if r.hub.redis != nil {
		if err := r.hub.redis.ClearPresence(r.sessionID); err != nil {
			r.hub.logger.Warnf("session %d: presence clear failed: %v", r.sessionID, err)
		}
	}
}

// Event application. Each method mutates state and broadcasts under the same
// lock so receivers always observe mutations in application order.

func (r *Room) appendChat(from *Client, content string) error {
	msg := &models.Message{
		SessionID: r.sessionID,
		UserID:    from.userID,
		Username:  from.username,
		Content:   content,
	}
	if err := r.hub.msgRepo.Create(msg); err != nil {
		return err
	}

	r.mu.Lock()
	r.broadcastLocked(models.EventChatMessage, models.ChatBroadcast{
		ID:        msg.ID,
		User:      from.username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	r.mu.Unlock()
	return nil
}

func (r *Room) appendSketch(from *Client, action models.StrokeAction) {
	r.mu.Lock()
	r.sketch = append(r.sketch, action)
	r.broadcastLocked(models.EventSketchUpdate, models.SketchUpdateBroadcast{
		User:    &models.UserRef{ID: from.userID, Username: from.username},
		Content: action,
	})
	r.mu.Unlock()
}

func (r *Room) clearSketch(from *Client) {
	r.mu.Lock()
	r.sketch = []models.StrokeAction{}
	r.broadcastLocked(models.EventSketchCleared, models.ClearedBroadcast{User: models.UserRef{ID: from.userID, Username: from.username}})
	r.mu.Unlock()

	// Clears are persisted immediately; a crash must not resurrect the board.
	if err := r.hub.boardRepo.Save(r.sessionID, []models.StrokeAction{}); err != nil {
		r.hub.logger.Errorf("session %d: failed to persist board clear: %v", r.sessionID, err)
	}
}

func (r *Room) sendSketchSnapshot(to *Client) {
	r.mu.Lock()
	snapshot := r.sketchSnapshotLocked()
	r.mu.Unlock()
	to.enqueueFrame(models.EventSketchSync, models.SketchSyncPayload{Content: snapshot})
}

func (r *Room) applyDocumentDelta(from *Client, delta models.PositionalDelta) {
	r.mu.Lock()
	r.document = models.ApplyDelta(r.document, delta)
	r.broadcastLocked(models.EventEditorUpdate, models.EditorUpdateBroadcast{
		User:    models.UserRef{ID: from.userID, Username: from.username},
		Content: delta,
	})
	r.mu.Unlock()
}

func (r *Room) setDocument(from *Client, text string) {
	r.mu.Lock()
	r.document = text
	r.broadcastLocked(models.EventEditorSet, models.EditorTextBroadcast{
		User:    models.UserRef{ID: from.userID, Username: from.username},
		Content: text,
	})
	r.mu.Unlock()
}

func (r *Room) clearDocument(from *Client) {
	r.mu.Lock()
	r.document = ""
	r.broadcastLocked(models.EventEditorCleared, models.ClearedBroadcast{User: models.UserRef{ID: from.userID, Username: from.username}})
	r.mu.Unlock()

	if err := r.hub.docRepo.Save(r.sessionID, ""); err != nil {
		r.hub.logger.Errorf("session %d: failed to persist document clear: %v", r.sessionID, err)
	}
}

func (r *Room) sendDocumentSnapshot(to *Client) {
	r.mu.Lock()
	document := r.document
	r.mu.Unlock()
	to.enqueueFrame(models.EventEditorSync, models.EditorTextPayload{Content: document})
}

func (r *Room) sendPresence(to *Client) {
	r.mu.Lock()
	users := r.presenceUsersLocked()
	r.mu.Unlock()
	to.enqueueFrame(models.EventPresence, models.PresencePayload{Users: users})
}

func (r *Room) toggleMedia(from *Client, toggle models.MediaTogglePayload) {
	r.mu.Lock()
	st := r.media[from.userID]
	if toggle.MicEnabled != nil {
		st.Mic = *toggle.MicEnabled
	}
	if toggle.CamEnabled != nil {
		st.Cam = *toggle.CamEnabled
	}
	r.media[from.userID] = st
	r.broadcastLocked(models.EventMediaState, models.MediaStateBroadcast{
		UserID: from.userID,
		Mic:    st.Mic,
		Cam:    st.Cam,
	})
	r.mu.Unlock()
}

// relaySignal forwards a WebRTC frame to every socket of the target user.
// Returns false if the target is not connected.
func (r *Room) relaySignal(eventType string, from *Client, signal models.SignalPayload) bool {
	forwarded := models.SignalPayload{
		FromUserID: from.userID,
		SDP:        signal.SDP,
		Candidate:  signal.Candidate,
	}
	frame, err := models.EncodeFrame(eventType, forwarded)
	if err != nil {
		r.hub.logger.Errorf("session %d: failed to encode signal relay: %v", r.sessionID, err)
		return false
	}

	r.mu.Lock()
	_, online := r.byUser[signal.ToUserID]
	r.mu.Unlock()
	if !online && r.hub.redis != nil {
		if users, err := r.hub.redis.GetPresence(r.sessionID); err == nil {
			for _, id := range users {
				if id == signal.ToUserID {
					online = true
					break
				}
			}
		}
	}
	if !online {
		return false
	}

	r.send(signal.ToUserID, frame)
	return true
}

// Fan-out plumbing.

func (r *Room) broadcastLocked(eventType string, payload interface{}) {
	frame, err := models.EncodeFrame(eventType, payload)
	if err != nil {
		r.hub.logger.Errorf("session %d: failed to encode %s frame: %v", r.sessionID, eventType, err)
		return
	}
	if r.hub.metrics != nil {
		r.hub.metrics.EventsBroadcast.WithLabelValues(eventType).Inc()
	}
	r.sendLocked(0, frame)
}

// send routes a frame either through Redis (reaching every instance) or
// directly to local connections. Callers must not hold r.mu.
func (r *Room) send(to int64, frame []byte) {
	if r.publishEnvelope(to, frame) {
		return
	}
	r.mu.Lock()
	r.deliverLocalLocked(to, frame)
	r.mu.Unlock()
}

// sendLocked is the variant for callers already holding r.mu.
func (r *Room) sendLocked(to int64, frame []byte) {
	if r.publishEnvelope(to, frame) {
		return
	}
	r.deliverLocalLocked(to, frame)
}

// publishEnvelope pushes the frame through Redis. Returns false when the
// frame still needs local delivery (no Redis, or publish failed).
func (r *Room) publishEnvelope(to int64, frame []byte) bool {
	if r.hub.redis == nil {
		return false
	}
	env, err := json.Marshal(envelope{To: to, Frame: frame})
	if err != nil {
		r.hub.logger.Errorf("session %d: failed to encode fanout envelope: %v", r.sessionID, err)
		return true
	}
	if err := r.hub.redis.PublishSessionEvent(r.sessionID, env); err != nil {
		r.hub.logger.Warnf("session %d: redis publish failed, delivering locally: %v", r.sessionID, err)
		return false
	}
	return true
}

// deliverLocal is the entry point for frames arriving from the fan-out pump.
func (r *Room) deliverLocal(to int64, frame []byte) {
	r.mu.Lock()
	r.deliverLocalLocked(to, frame)
	r.mu.Unlock()
}

func (r *Room) deliverLocalLocked(to int64, frame []byte) {
	start := time.Now()

	var targets []*Client
	if to == 0 {
		targets = make([]*Client, 0, len(r.clients))
		for c := range r.clients {
			targets = append(targets, c)
		}
	} else {
		for c := range r.byUser[to] {
			targets = append(targets, c)
		}
	}

	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			// Slow consumer; drop the socket rather than stalling the room.
			r.hub.logger.Warnf("session %d: dropping slow client %d", r.sessionID, c.userID)
			c.conn.Close()
		}
	}

	if r.hub.metrics != nil {
		r.hub.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}
}

// Snapshot helpers. Callers hold r.mu unless noted.

func (r *Room) sketchSnapshotLocked() []models.StrokeAction {
	out := make([]models.StrokeAction, len(r.sketch))
	copy(out, r.sketch)
	return out
}

func (r *Room) mediaSnapshotLocked() map[int64]models.MediaState {
	out := make(map[int64]models.MediaState, len(r.media))
	for id, st := range r.media {
		out[id] = st
	}
	return out
}

// presenceUsersLocked prefers the Redis presence set so participants spread
// across instances still see each other.
func (r *Room) presenceUsersLocked() []int64 {
	if r.hub.redis != nil {
		users, err := r.hub.redis.GetPresence(r.sessionID)
		if err == nil {
			sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
			return users
		}
		r.hub.logger.Warnf("session %d: presence read failed, using local set: %v", r.sessionID, err)
	}
	return r.presenceLocked()
}

func (r *Room) presenceLocked() []int64 {
	users := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}
