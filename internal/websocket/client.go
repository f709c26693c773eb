package websocket

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/studyroom/backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 65536 // 64KB; stroke batches can be large
)

// Client is one WebSocket connection of one participant in one room.
type Client struct {
	room     *Room
	conn     *websocket.Conn
	send     chan []byte
	userID   int64
	username string

	validate *validator.Validate

	// simple token-bucket rate limiter
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
}

// NewClient creates a new WebSocket client
func NewClient(room *Room, conn *websocket.Conn, userID int64, username string, validate *validator.Validate) *Client {
	return &Client{
		room:         room,
		conn:         conn,
		send:         make(chan []byte, 256),
		userID:       userID,
		username:     username,
		validate:     validate,
		tokens:       50,
		maxTokens:    50,
		refillPeriod: time.Second,
		lastRefill:   time.Now(),
	}
}

// ReadPump pumps messages from the WebSocket connection into the room
func (c *Client) ReadPump() {
	defer func() {
		c.room.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.room.hub.logger.Warnf("websocket error for user %d: %v", c.userID, err)
			}
			break
		}

		// Token bucket: refill proportional to elapsed time, drop when empty.
		now := time.Now()
		elapsed := now.Sub(c.lastRefill)
		if elapsed >= c.refillPeriod {
			add := int(elapsed / c.refillPeriod * 10)
			c.tokens += add
			if c.tokens > c.maxTokens {
				c.tokens = c.maxTokens
			}
			c.lastRefill = now
		}

		if c.tokens <= 0 {
			c.enqueueFrame(models.EventWebRTCError, models.WebRTCErrorPayload{Error: "rate_limited"})
			continue
		}
		c.tokens--

		c.handleMessage(message)
	}
}

// WritePump pumps frames from the room to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The room closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound frame. Unparsable frames are dropped;
// the connection stays up.
func (c *Client) handleMessage(data []byte) {
	eventType, err := models.DecodeFrameType(data)
	if err != nil {
		c.room.hub.logger.Warnf("user %d: dropping malformed frame: %v", c.userID, err)
		return
	}

	if m := c.room.hub.metrics; m != nil {
		m.EventsReceived.WithLabelValues(eventType).Inc()
	}

	switch eventType {
	case models.EventChatMessage:
		c.handleChat(data)

	case models.EventSketchGet:
		c.room.sendSketchSnapshot(c)

	case models.EventSketchUpdate:
		c.handleSketchUpdate(data)

	case models.EventSketchClear:
		c.room.clearSketch(c)

	case models.EventEditorGet:
		c.room.sendDocumentSnapshot(c)

	case models.EventEditorUpdate:
		c.handleEditorUpdate(data)

	case models.EventEditorSet:
		c.handleEditorSet(data)

	case models.EventEditorClear:
		c.room.clearDocument(c)

	case models.EventPresenceGet:
		c.room.sendPresence(c)

	case models.EventMediaToggle:
		c.handleMediaToggle(data)

	case models.EventWebRTCOffer, models.EventWebRTCAnswer, models.EventWebRTCICE:
		c.handleSignal(eventType, data)

	default:
		c.room.hub.logger.Debugf("user %d: unknown event type %q", c.userID, eventType)
	}
}

func (c *Client) handleChat(data []byte) {
	var payload models.ChatSendPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Content == "" {
		return
	}

	if err := c.room.appendChat(c, payload.Content); err != nil {
		c.room.hub.logger.Errorf("user %d: failed to store chat message: %v", c.userID, err)
	}
}

func (c *Client) handleSketchUpdate(data []byte) {
	var payload models.SketchUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if err := c.validate.Struct(payload.Content); err != nil {
		c.room.hub.logger.Warnf("user %d: rejecting invalid stroke: %v", c.userID, err)
		return
	}

	c.room.appendSketch(c, payload.Content)
}

func (c *Client) handleEditorUpdate(data []byte) {
	var payload models.EditorUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if err := c.validate.Struct(payload.Content); err != nil {
		c.room.hub.logger.Warnf("user %d: rejecting invalid delta: %v", c.userID, err)
		return
	}

	c.room.applyDocumentDelta(c, payload.Content)
}

func (c *Client) handleEditorSet(data []byte) {
	var payload models.EditorTextPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	c.room.setDocument(c, payload.Content)
}

func (c *Client) handleMediaToggle(data []byte) {
	var payload models.MediaTogglePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	c.room.toggleMedia(c, payload)
}

func (c *Client) handleSignal(eventType string, data []byte) {
	var payload models.SignalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	if payload.ToUserID == 0 {
		c.enqueueFrame(models.EventWebRTCError, models.WebRTCErrorPayload{Error: "invalid_" + eventType})
		return
	}
	if eventType == models.EventWebRTCICE && len(payload.Candidate) == 0 {
		c.enqueueFrame(models.EventWebRTCError, models.WebRTCErrorPayload{Error: "invalid_ice"})
		return
	}
	if (eventType == models.EventWebRTCOffer || eventType == models.EventWebRTCAnswer) && payload.SDP == "" {
		c.enqueueFrame(models.EventWebRTCError, models.WebRTCErrorPayload{Error: "invalid_" + eventType})
		return
	}

	if !c.room.relaySignal(eventType, c, payload) {
		c.enqueueFrame(models.EventWebRTCError, models.WebRTCErrorPayload{Error: "target_offline"})
	}
}

// enqueueFrame queues one frame to this connection only.
func (c *Client) enqueueFrame(eventType string, payload interface{}) {
	frame, err := models.EncodeFrame(eventType, payload)
	if err != nil {
		c.room.hub.logger.Errorf("user %d: failed to encode %s frame: %v", c.userID, eventType, err)
		return
	}

	select {
	case c.send <- frame:
	default:
		// Client's send channel is full, skip
	}
}
