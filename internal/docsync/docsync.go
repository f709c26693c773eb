// Package docsync mirrors a session's shared document. Local edits apply
// immediately and are published as positional deltas; remote deltas apply as
// they arrive. Echoes of our own edits are skipped, so each edit lands in the
// mirror exactly once.
package docsync

import (
	"fmt"
	"sync"

	"github.com/studyroom/backend/internal/channel"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

// Origin says which side produced a change.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginLocal {
		return "local"
	}
	return "remote"
}

// Change describes one applied mutation.
type Change struct {
	Origin Origin
	// Delta is set for incremental edits; nil for full replacements.
	Delta *models.PositionalDelta
	// Text is the document after the change.
	Text string
}

// Sender is the outbound half of the session channel.
type Sender interface {
	Send(eventType string, payload interface{}) error
}

// Engine mirrors one session's document for one participant.
type Engine struct {
	selfID int64
	sender Sender
	logger loggers.Logger

	mu   sync.Mutex
	text string
	subs []*channel.Subscription

	// OnApply, if set, runs after every applied change.
	OnApply func(Change)
}

// NewEngine creates a document engine. selfID is the participant's user ID;
// broadcasts tagged with it are echoes and are not re-applied.
func NewEngine(selfID int64, sender Sender, logger loggers.Logger) *Engine {
	return &Engine{
		selfID: selfID,
		sender: sender,
		logger: logger,
	}
}

// Bind subscribes the engine to document events on the channel.
func (e *Engine) Bind(ch *channel.Channel) {
	e.mu.Lock()
	for _, sub := range e.subs {
		sub.Cancel()
	}
	e.subs = []*channel.Subscription{
		ch.Subscribe(models.EventEditorUpdate, e.handleUpdate),
		ch.Subscribe(models.EventEditorSet, e.handleSet),
		ch.Subscribe(models.EventEditorSync, e.handleSync),
		ch.Subscribe(models.EventEditorCleared, e.handleCleared),
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

// ApplyLocal applies an edit to the mirror and publishes it. The local apply
// sticks even when the publish fails; a later resync squares the mirror with
// the server.
func (e *Engine) ApplyLocal(delta models.PositionalDelta) error {
	e.mu.Lock()
	e.text = models.ApplyDelta(e.text, delta)
	text := e.text
	e.mu.Unlock()
	e.notify(Change{Origin: OriginLocal, Delta: &delta, Text: text})

	if err := e.sender.Send(models.EventEditorUpdate, models.EditorUpdatePayload{Content: delta}); err != nil {
		return fmt.Errorf("document: publish edit: %w", err)
	}
	return nil
}

// SetText replaces the whole document and publishes the replacement.
func (e *Engine) SetText(text string) error {
	e.mu.Lock()
	e.text = text
	e.mu.Unlock()
	e.notify(Change{Origin: OriginLocal, Text: text})

	if err := e.sender.Send(models.EventEditorSet, models.EditorTextPayload{Content: text}); err != nil {
		return fmt.Errorf("document: publish replacement: %w", err)
	}
	return nil
}

// Clear empties the document and publishes the clear.
func (e *Engine) Clear() error {
	e.mu.Lock()
	e.text = ""
	e.mu.Unlock()
	e.notify(Change{Origin: OriginLocal, Text: ""})

	if err := e.sender.Send(models.EventEditorClear, struct{}{}); err != nil {
		return fmt.Errorf("document: publish clear: %w", err)
	}
	return nil
}

// RequestSync asks the server for the full document. The reply replaces the
// mirror wholesale; it is the recovery path after a reconnect.
func (e *Engine) RequestSync() error {
	if err := e.sender.Send(models.EventEditorGet, struct{}{}); err != nil {
		return fmt.Errorf("document: request sync: %w", err)
	}
	return nil
}

// Text returns the current mirror contents.
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

func (e *Engine) handleUpdate(frame []byte) {
	var payload models.EditorUpdateBroadcast
	if err := channel.DecodePayload(frame, &payload); err != nil {
		e.logger.Warnf("document: dropping undecodable update: %v", err)
		return
	}
	if payload.User.ID == e.selfID {
		// Echo of an edit already applied locally.
		return
	}

	e.mu.Lock()
	e.text = models.ApplyDelta(e.text, payload.Content)
	text := e.text
	e.mu.Unlock()
	e.notify(Change{Origin: OriginRemote, Delta: &payload.Content, Text: text})
}

func (e *Engine) handleSet(frame []byte) {
	var payload models.EditorTextBroadcast
	if err := channel.DecodePayload(frame, &payload); err != nil {
		e.logger.Warnf("document: dropping undecodable replacement: %v", err)
		return
	}
	if payload.User.ID == e.selfID {
		return
	}

	e.mu.Lock()
	e.text = payload.Content
	e.mu.Unlock()
	e.notify(Change{Origin: OriginRemote, Text: payload.Content})
}

func (e *Engine) handleSync(frame []byte) {
	var payload models.EditorTextPayload
	if err := channel.DecodePayload(frame, &payload); err != nil {
		e.logger.Warnf("document: dropping undecodable sync: %v", err)
		return
	}

	// Sync frames are authoritative regardless of who triggered them.
	e.mu.Lock()
	e.text = payload.Content
	e.mu.Unlock()
	e.notify(Change{Origin: OriginRemote, Text: payload.Content})
}

func (e *Engine) handleCleared(frame []byte) {
	var payload models.ClearedBroadcast
	if err := channel.DecodePayload(frame, &payload); err != nil {
		e.logger.Warnf("document: dropping undecodable clear: %v", err)
		return
	}
	if payload.User.ID == e.selfID {
		return
	}

	e.mu.Lock()
	e.text = ""
	e.mu.Unlock()
	e.notify(Change{Origin: OriginRemote, Text: ""})
}

func (e *Engine) notify(change Change) {
	if e.OnApply != nil {
		e.OnApply(change)
	}
}
