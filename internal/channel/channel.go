// Package channel implements the client side of the session event channel:
// one WebSocket carrying every realtime event of a session as flat JSON
// frames with a "type" discriminator.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

// State is the lifecycle state of a Channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotOpen is returned by Send when the channel is not open.
var ErrNotOpen = errors.New("channel: not open")

// Handler receives the raw frame of one event. Frames are dispatched
// sequentially from a single reader goroutine; handlers must not block.
type Handler func(frame []byte)

// Subscription cancels a handler registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Channel is one session's event connection. It does not reconnect on its
// own; when the connection drops the owner dials again and the server's
// catch-up frames bring local state back in sync.
type Channel struct {
	url    string
	dialer *websocket.Dialer
	logger loggers.Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	handlers map[string]map[int64]Handler
	nextID   int64
	readDone chan struct{}

	// OnClose, if set, runs once per connection after the read loop exits
	// for any reason other than an explicit Close.
	OnClose func(err error)
}

// New creates a channel for the given WebSocket URL, e.g.
// "ws://localhost:8080/ws/sessions/42?token=...".
func New(url string, logger loggers.Logger) *Channel {
	return &Channel{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger:   logger,
		state:    StateDisconnected,
		handlers: make(map[string]map[int64]Handler),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the session endpoint. Calling Connect while connecting or
// open is a no-op; after a drop or Close it establishes a fresh connection.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateOpen:
		c.mu.Unlock()
		return nil
	case StateClosing:
		c.mu.Unlock()
		return errors.New("channel: closing")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while the dial was in flight.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return errors.New("channel: closed during connect")
	}
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("channel: dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.state = StateOpen
	done := make(chan struct{})
	c.readDone = done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	return nil
}

// Send writes one event frame. A failed send only returns an error here; the
// channel stays as it is and no frame is queued for retry.
func (c *Channel) Send(eventType string, payload interface{}) error {
	frame, err := models.EncodeFrame(eventType, payload)
	if err != nil {
		return fmt.Errorf("channel: encode %s: %w", eventType, err)
	}

	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = conn.WriteMessage(websocket.TextMessage, frame)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("channel: send %s: %w", eventType, err)
	}
	return nil
}

// Subscribe registers a handler for one event type. Multiple handlers per
// type are allowed; each receives every matching frame.
func (c *Channel) Subscribe(eventType string, h Handler) *Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	bucket, ok := c.handlers[eventType]
	if !ok {
		bucket = make(map[int64]Handler)
		c.handlers[eventType] = bucket
	}
	bucket[id] = h
	c.mu.Unlock()

	return &Subscription{cancel: func() {
		c.mu.Lock()
		if bucket, ok := c.handlers[eventType]; ok {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(c.handlers, eventType)
			}
		}
		c.mu.Unlock()
	}}
}

// Close tears the channel down. Handlers are unregistered before the socket
// closes so no event fires on a closed channel. Safe to call repeatedly.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosing || (c.state == StateDisconnected && c.conn == nil) {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.handlers = make(map[string]map[int64]Handler)
	conn := c.conn
	c.conn = nil
	done := c.readDone
	c.mu.Unlock()

	var err error
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = conn.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return err
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			explicit := c.state == StateClosing
			if !explicit && c.conn == conn {
				c.conn = nil
				c.state = StateDisconnected
			}
			onClose := c.OnClose
			c.mu.Unlock()

			if !explicit {
				c.logger.Warnf("channel: connection lost: %v", err)
				if onClose != nil {
					onClose(err)
				}
			}
			return
		}

		eventType, err := models.DecodeFrameType(frame)
		if err != nil {
			c.logger.Warnf("channel: dropping malformed frame: %v", err)
			continue
		}

		c.mu.Lock()
		bucket := c.handlers[eventType]
		hs := make([]Handler, 0, len(bucket))
		for _, h := range bucket {
			hs = append(hs, h)
		}
		c.mu.Unlock()

		for _, h := range hs {
			h(frame)
		}
	}
}

// DecodePayload unmarshals a frame into a typed payload struct.
func DecodePayload(frame []byte, out interface{}) error {
	return json.Unmarshal(frame, out)
}
