package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

type fakeSender struct {
	fail bool
	sent []interface{}
}

func (s *fakeSender) Send(eventType string, payload interface{}) error {
	if s.fail {
		return errors.New("connection lost")
	}
	s.sent = append(s.sent, payload)
	return nil
}

type fakeFallback struct {
	fail    bool
	nextID  int64
	stored  []*models.Message
	history []models.Message
}

func (f *fakeFallback) SendMessage(_ context.Context, sessionID int64, content string) (*models.Message, error) {
	if f.fail {
		return nil, errors.New("api unreachable")
	}
	f.nextID++
	msg := &models.Message{
		ID:        f.nextID,
		SessionID: sessionID,
		Username:  "alice",
		Content:   content,
		CreatedAt: time.Now(),
	}
	f.stored = append(f.stored, msg)
	return msg, nil
}

func (f *fakeFallback) GetMessages(context.Context, int64) ([]models.Message, error) {
	if f.fail {
		return nil, errors.New("api unreachable")
	}
	return f.history, nil
}

func newTestEngine(sender *fakeSender, fallback *fakeFallback) *Engine {
	return NewEngine(42, "alice", sender, fallback, loggers.NewNop())
}

func echoFrame(t *testing.T, id int64, user, content string) []byte {
	t.Helper()
	frame, err := models.EncodeFrame(models.EventChatMessage, models.ChatBroadcast{
		ID:        id,
		User:      user,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return frame
}

func TestSendMessageOptimisticThenEcho(t *testing.T) {
	sender := &fakeSender{}
	engine := newTestEngine(sender, &fakeFallback{})

	if err := engine.SendMessage(context.Background(), "hi all"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	entries := engine.Entries()
	if len(entries) != 1 {
		t.Fatalf("transcript has %d entries, want 1", len(entries))
	}
	if !entries[0].Pending || entries[0].ID != 0 {
		t.Errorf("optimistic entry = %+v, want pending without server ID", entries[0])
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sender saw %d frames, want 1", len(sender.sent))
	}

	engine.handleFrame(echoFrame(t, 7, "alice", "hi all"))

	entries = engine.Entries()
	if len(entries) != 1 {
		t.Fatalf("transcript has %d entries after echo, want 1", len(entries))
	}
	if entries[0].Pending || entries[0].ID != 7 {
		t.Errorf("reconciled entry = %+v, want confirmed with ID 7", entries[0])
	}
}

func TestEchoReconcilesOldestPending(t *testing.T) {
	engine := newTestEngine(&fakeSender{}, &fakeFallback{})
	ctx := context.Background()

	engine.SendMessage(ctx, "same text")
	engine.SendMessage(ctx, "same text")

	engine.handleFrame(echoFrame(t, 1, "alice", "same text"))

	entries := engine.Entries()
	if len(entries) != 2 {
		t.Fatalf("transcript has %d entries, want 2", len(entries))
	}
	if entries[0].Pending {
		t.Error("oldest entry still pending after echo")
	}
	if !entries[1].Pending {
		t.Error("newest entry reconciled out of order")
	}
}

func TestRemoteMessagesAppend(t *testing.T) {
	engine := newTestEngine(&fakeSender{}, &fakeFallback{})

	engine.handleFrame(echoFrame(t, 1, "bob", "hello"))
	engine.handleFrame(echoFrame(t, 2, "carol", "hey"))

	entries := engine.Entries()
	if len(entries) != 2 {
		t.Fatalf("transcript has %d entries, want 2", len(entries))
	}
	if entries[0].Username != "bob" || entries[1].Username != "carol" {
		t.Errorf("entries out of order: %+v", entries)
	}
}

func TestSendFallsBackToRest(t *testing.T) {
	sender := &fakeSender{fail: true}
	fallback := &fakeFallback{}
	engine := newTestEngine(sender, fallback)

	if err := engine.SendMessage(context.Background(), "offline note"); err != nil {
		t.Fatalf("SendMessage with fallback: %v", err)
	}

	if len(fallback.stored) != 1 {
		t.Fatalf("fallback stored %d messages, want 1", len(fallback.stored))
	}

	entries := engine.Entries()
	if len(entries) != 1 {
		t.Fatalf("transcript has %d entries, want exactly 1", len(entries))
	}
	if entries[0].Pending || entries[0].ID != 1 {
		t.Errorf("fallback entry = %+v, want confirmed with stored ID", entries[0])
	}
}

func TestSendFailureRemovesOptimisticEntry(t *testing.T) {
	engine := newTestEngine(&fakeSender{fail: true}, &fakeFallback{fail: true})

	if err := engine.SendMessage(context.Background(), "lost"); err == nil {
		t.Fatal("SendMessage succeeded with both paths down")
	}

	if entries := engine.Entries(); len(entries) != 0 {
		t.Errorf("transcript has %d entries after total failure, want 0", len(entries))
	}
}

func TestResyncKeepsUnconfirmedPending(t *testing.T) {
	fallback := &fakeFallback{
		history: []models.Message{
			{ID: 1, Username: "bob", Content: "first"},
			{ID: 2, Username: "alice", Content: "second"},
		},
	}
	engine := newTestEngine(&fakeSender{}, fallback)
	ctx := context.Background()

	// One message that made it to the server, one that did not.
	engine.SendMessage(ctx, "second")
	engine.SendMessage(ctx, "third")

	if err := engine.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	entries := engine.Entries()
	if len(entries) != 3 {
		t.Fatalf("transcript has %d entries, want 3", len(entries))
	}
	if entries[0].Content != "first" || entries[1].Content != "second" {
		t.Errorf("history not in server order: %+v", entries[:2])
	}
	if entries[1].Pending {
		t.Error("entry present in history still marked pending")
	}
	if entries[2].Content != "third" || !entries[2].Pending {
		t.Errorf("unconfirmed entry dropped by resync: %+v", entries[2])
	}
}
