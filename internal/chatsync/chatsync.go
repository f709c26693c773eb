// Package chatsync keeps a local chat transcript in step with the session
// channel. Sends are optimistic: the entry appears locally at once and is
// reconciled when the server's broadcast echo arrives.
package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studyroom/backend/internal/channel"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

// Sender is the outbound half of the session channel.
type Sender interface {
	Send(eventType string, payload interface{}) error
}

// Fallback stores a message over REST when the channel send fails.
type Fallback interface {
	SendMessage(ctx context.Context, sessionID int64, content string) (*models.Message, error)
	GetMessages(ctx context.Context, sessionID int64) ([]models.Message, error)
}

// Entry is one transcript line. Pending entries exist locally only and carry
// a LocalID until the broadcast echo confirms them.
type Entry struct {
	LocalID   string
	ID        int64
	Username  string
	Content   string
	CreatedAt time.Time
	Pending   bool
}

// Engine owns one session's transcript.
type Engine struct {
	sessionID int64
	username  string
	sender    Sender
	fallback  Fallback
	logger    loggers.Logger

	mu      sync.Mutex
	entries []Entry
	sub     *channel.Subscription

	// OnChange, if set, fires after every transcript mutation.
	OnChange func()
}

// NewEngine creates a chat engine for one session.
func NewEngine(sessionID int64, username string, sender Sender, fallback Fallback, logger loggers.Logger) *Engine {
	return &Engine{
		sessionID: sessionID,
		username:  username,
		sender:    sender,
		fallback:  fallback,
		logger:    logger,
	}
}

// Bind subscribes the engine to chat broadcasts on the channel.
func (e *Engine) Bind(ch *channel.Channel) {
	e.mu.Lock()
	if e.sub != nil {
		e.sub.Cancel()
	}
	e.sub = ch.Subscribe(models.EventChatMessage, e.handleFrame)
	e.mu.Unlock()
}

// Unbind cancels the broadcast subscription.
func (e *Engine) Unbind() {
	e.mu.Lock()
	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
	e.mu.Unlock()
}

// SendMessage appends an optimistic entry and pushes the message out. When
// the channel send fails the message is stored over REST instead and the
// optimistic entry is replaced with the stored row. Either way the transcript
// ends up with exactly one entry for the message.
func (e *Engine) SendMessage(ctx context.Context, content string) error {
	localID := uuid.New().String()

	e.mu.Lock()
	e.entries = append(e.entries, Entry{
		LocalID:   localID,
		Username:  e.username,
		Content:   content,
		CreatedAt: time.Now(),
		Pending:   true,
	})
	e.mu.Unlock()
	e.notify()

	sendErr := e.sender.Send(models.EventChatMessage, models.ChatSendPayload{Content: content})
	if sendErr == nil {
		return nil
	}
	e.logger.Warnf("chat: channel send failed, falling back to REST: %v", sendErr)

	msg, err := e.fallback.SendMessage(ctx, e.sessionID, content)
	if err != nil {
		e.removeLocal(localID)
		e.notify()
		return fmt.Errorf("chat: message not delivered: %w", err)
	}

	e.mu.Lock()
	for i := range e.entries {
		if e.entries[i].LocalID == localID {
			e.entries[i] = entryFromMessage(*msg)
			break
		}
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// Resync replaces the transcript with the server's history. Pending entries
// survive at the tail; they are still waiting for their echo or were sent
// while offline.
func (e *Engine) Resync(ctx context.Context) error {
	history, err := e.fallback.GetMessages(ctx, e.sessionID)
	if err != nil {
		return fmt.Errorf("chat: resync: %w", err)
	}

	e.mu.Lock()
	var pending []Entry
	for _, entry := range e.entries {
		if !entry.Pending {
			continue
		}
		if containsMessage(history, entry) {
			continue
		}
		pending = append(pending, entry)
	}

	e.entries = make([]Entry, 0, len(history)+len(pending))
	for _, msg := range history {
		e.entries = append(e.entries, entryFromMessage(msg))
	}
	e.entries = append(e.entries, pending...)
	e.mu.Unlock()
	e.notify()
	return nil
}

// Entries returns a snapshot of the transcript.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// handleFrame reconciles a broadcast with the transcript. An echo of our own
// message confirms the oldest pending entry with matching content; anything
// else appends.
func (e *Engine) handleFrame(frame []byte) {
	var msg models.ChatBroadcast
	if err := channel.DecodePayload(frame, &msg); err != nil {
		e.logger.Warnf("chat: dropping undecodable broadcast: %v", err)
		return
	}

	entry := Entry{
		ID:        msg.ID,
		Username:  msg.User,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}

	e.mu.Lock()
	reconciled := false
	if msg.User == e.username {
		for i := range e.entries {
			if e.entries[i].Pending && e.entries[i].Content == msg.Content {
				e.entries[i] = entry
				reconciled = true
				break
			}
		}
	}
	if !reconciled {
		e.entries = append(e.entries, entry)
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) removeLocal(localID string) {
	e.mu.Lock()
	for i := range e.entries {
		if e.entries[i].LocalID == localID {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

func (e *Engine) notify() {
	if e.OnChange != nil {
		e.OnChange()
	}
}

func entryFromMessage(msg models.Message) Entry {
	return Entry{
		ID:        msg.ID,
		Username:  msg.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func containsMessage(history []models.Message, entry Entry) bool {
	for _, msg := range history {
		if msg.Username == entry.Username && msg.Content == entry.Content {
			return true
		}
	}
	return false
}
