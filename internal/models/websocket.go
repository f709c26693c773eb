package models

import (
	"encoding/json"
	"time"
)

// Event types carried over the session channel. Every frame is a flat JSON
// object with a "type" discriminator; the remaining fields are the payload.
const (
	// client -> server
	EventChatMessage = "chat_message"
	EventSketchGet   = "sketch_get"
	EventSketchClear = "sketch_clear"
	EventEditorGet   = "editor_get"
	EventEditorSet   = "editor_set"
	EventEditorClear = "editor_clear"
	EventPresenceGet = "presence_get"
	EventMediaToggle = "media_toggle"

	// both directions
	EventSketchUpdate = "sketch_update"
	EventEditorUpdate = "editor_update"
	EventWebRTCOffer  = "webrtc_offer"
	EventWebRTCAnswer = "webrtc_answer"
	EventWebRTCICE    = "webrtc_ice"

	// server -> client
	EventSketchSync         = "sketch_sync"
	EventSketchCleared      = "sketch_cleared"
	EventEditorSync         = "editor_sync"
	EventEditorCleared      = "editor_cleared"
	EventPresence           = "presence"
	EventPresenceJoin       = "presence_join"
	EventPresenceLeave      = "presence_leave"
	EventMediaState         = "media_state"
	EventMediaStateSnapshot = "media_state_snapshot"
	EventWebRTCError        = "webrtc_error"
)

// UserRef identifies the originator of a broadcast frame.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ChatSendPayload is the client->server chat frame.
type ChatSendPayload struct {
	Content string `json:"content"`
}

// ChatBroadcast is the server->client chat frame.
type ChatBroadcast struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SketchUpdatePayload struct {
	Content StrokeAction `json:"content"`
}

type SketchUpdateBroadcast struct {
	User    *UserRef     `json:"user,omitempty"`
	Content StrokeAction `json:"content"`
}

type SketchSyncPayload struct {
	Content []StrokeAction `json:"content"`
}

type EditorUpdatePayload struct {
	Content PositionalDelta `json:"content"`
}

type EditorUpdateBroadcast struct {
	User    UserRef         `json:"user"`
	Content PositionalDelta `json:"content"`
}

type EditorTextPayload struct {
	Content string `json:"content"`
}

type EditorTextBroadcast struct {
	User    UserRef `json:"user"`
	Content string  `json:"content"`
}

// ClearedBroadcast announces that a user wiped the board or document.
type ClearedBroadcast struct {
	User UserRef `json:"user"`
}

type PresencePayload struct {
	Users []int64 `json:"users"`
}

type PresenceUserPayload struct {
	UserID int64 `json:"user_id"`
}

// MediaTogglePayload uses pointers so a toggle of one device leaves the other
// untouched.
type MediaTogglePayload struct {
	MicEnabled *bool `json:"micEnabled,omitempty"`
	CamEnabled *bool `json:"camEnabled,omitempty"`
}

type MediaState struct {
	Mic bool `json:"mic"`
	Cam bool `json:"cam"`
}

type MediaStateBroadcast struct {
	UserID int64 `json:"user_id"`
	Mic    bool  `json:"mic"`
	Cam    bool  `json:"cam"`
}

type MediaStateSnapshot struct {
	Status map[int64]MediaState `json:"status"`
}

// SignalPayload carries WebRTC offer/answer/ICE frames. The candidate is
// relayed opaquely; only the two peers interpret it.
type SignalPayload struct {
	ToUserID   int64           `json:"to_user_id,omitempty"`
	FromUserID int64           `json:"from_user_id,omitempty"`
	SDP        string          `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

type WebRTCErrorPayload struct {
	Error string `json:"error"`
}
