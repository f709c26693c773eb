// Package sketchsync mirrors a session's shared sketch board. The board is an
// append-only log of stroke actions; every mutation flows through the server
// so all participants replay the log in the same order.
package sketchsync

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/studyroom/backend/internal/channel"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

// Sender is the outbound half of the session channel.
type Sender interface {
	Send(eventType string, payload interface{}) error
}

// Engine mirrors one session's sketch log.
type Engine struct {
	sender   Sender
	logger   loggers.Logger
	validate *validator.Validate

	mu   sync.Mutex
	log  []models.StrokeAction
	subs []*channel.Subscription

	// OnChange, if set, fires after every log mutation.
	OnChange func()
}

// NewEngine creates a sketch engine.
func NewEngine(sender Sender, logger loggers.Logger) *Engine {
	return &Engine{
		sender:   sender,
		logger:   logger,
		validate: validator.New(),
	}
}

// Bind subscribes the engine to sketch events on the channel.
func (e *Engine) Bind(ch *channel.Channel) {
	e.mu.Lock()
	for _, sub := range e.subs {
		sub.Cancel()
	}
	e.subs = []*channel.Subscription{
		ch.Subscribe(models.EventSketchUpdate, e.handleUpdate),
		ch.Subscribe(models.EventSketchSync, e.handleSync),
		ch.Subscribe(models.EventSketchCleared, e.handleCleared),
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

// AddStroke sends a stroke to the session. The local log is not touched; the
// stroke lands when the server's broadcast comes back, so every participant,
// the author included, applies actions in the same order.
func (e *Engine) AddStroke(action models.StrokeAction) error {
	if err := e.validate.Struct(action); err != nil {
		return fmt.Errorf("sketch: invalid stroke: %w", err)
	}
	if err := e.sender.Send(models.EventSketchUpdate, models.SketchUpdatePayload{Content: action}); err != nil {
		return fmt.Errorf("sketch: send stroke: %w", err)
	}
	return nil
}

// Clear asks the session to wipe the board. The local log empties when the
// cleared broadcast arrives.
func (e *Engine) Clear() error {
	if err := e.sender.Send(models.EventSketchClear, struct{}{}); err != nil {
		return fmt.Errorf("sketch: send clear: %w", err)
	}
	return nil
}

// RequestSync asks the server for the full log. The reply replaces local
// state wholesale; it is the recovery path after a reconnect.
func (e *Engine) RequestSync() error {
	if err := e.sender.Send(models.EventSketchGet, struct{}{}); err != nil {
		return fmt.Errorf("sketch: request sync: %w", err)
	}
	return nil
}

// Actions returns a snapshot of the log.
func (e *Engine) Actions() []models.StrokeAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.StrokeAction, len(e.log))
	copy(out, e.log)
	return out
}

func (e *Engine) handleUpdate(frame []byte) {
	var payload models.SketchUpdatePayload
	if err := channel.DecodePayload(frame, &payload); err != nil {
		e.logger.Warnf("sketch: dropping undecodable update: %v", err)
		return
	}

	e.mu.Lock()
	e.log = append(e.log, payload.Content)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) handleSync(frame []byte) {
	var payload models.SketchSyncPayload
	if err := channel.DecodePayload(frame, &payload); err != nil {
		e.logger.Warnf("sketch: dropping undecodable sync: %v", err)
		return
	}

	e.mu.Lock()
	e.log = payload.Content
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) handleCleared(frame []byte) {
	e.mu.Lock()
	e.log = nil
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) notify() {
	if e.OnChange != nil {
		e.OnChange()
	}
}
