package sketchsync

import (
	"bytes"
	"errors"
	"testing"

	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/models"
)

type fakeSender struct {
	fail   bool
	events []string
}

func (s *fakeSender) Send(eventType string, payload interface{}) error {
	if s.fail {
		return errors.New("connection lost")
	}
	s.events = append(s.events, eventType)
	return nil
}

func stroke(x, y float64) models.StrokeAction {
	return models.StrokeAction{
		Type:      "stroke",
		Points:    []models.Point{{X: x, Y: y}, {X: x + 10, Y: y + 10}},
		Color:     "#ff0000",
		LineWidth: 3,
		Mode:      models.StrokeModeDraw,
	}
}

func updateFrame(t *testing.T, action models.StrokeAction) []byte {
	t.Helper()
	frame, err := models.EncodeFrame(models.EventSketchUpdate, models.SketchUpdatePayload{Content: action})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return frame
}

func TestAddStrokeSendsWithoutLocalApply(t *testing.T) {
	sender := &fakeSender{}
	engine := NewEngine(sender, loggers.NewNop())

	if err := engine.AddStroke(stroke(1, 1)); err != nil {
		t.Fatalf("AddStroke: %v", err)
	}
	if len(sender.events) != 1 || sender.events[0] != models.EventSketchUpdate {
		t.Errorf("sent events = %v, want one sketch_update", sender.events)
	}

	// The log fills from the broadcast echo, not from the local call.
	if n := len(engine.Actions()); n != 0 {
		t.Errorf("log has %d actions before echo, want 0", n)
	}

	engine.handleUpdate(updateFrame(t, stroke(1, 1)))
	if n := len(engine.Actions()); n != 1 {
		t.Errorf("log has %d actions after echo, want 1", n)
	}
}

func TestAddStrokeRejectsInvalid(t *testing.T) {
	sender := &fakeSender{}
	engine := NewEngine(sender, loggers.NewNop())

	bad := models.StrokeAction{Type: "scribble", Points: []models.Point{{X: 1, Y: 1}}}
	if err := engine.AddStroke(bad); err == nil {
		t.Fatal("invalid stroke accepted")
	}
	if len(sender.events) != 0 {
		t.Errorf("invalid stroke was sent: %v", sender.events)
	}
}

func TestSyncReplacesLog(t *testing.T) {
	engine := NewEngine(&fakeSender{}, loggers.NewNop())

	engine.handleUpdate(updateFrame(t, stroke(1, 1)))
	engine.handleUpdate(updateFrame(t, stroke(2, 2)))

	snapshot := []models.StrokeAction{stroke(50, 50)}
	frame, err := models.EncodeFrame(models.EventSketchSync, models.SketchSyncPayload{Content: snapshot})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	engine.handleSync(frame)

	actions := engine.Actions()
	if len(actions) != 1 {
		t.Fatalf("log has %d actions after sync, want 1", len(actions))
	}
	if actions[0].Points[0].X != 50 {
		t.Errorf("sync did not replace the log: %+v", actions[0])
	}
}

func TestClearEmptiesOnBroadcast(t *testing.T) {
	sender := &fakeSender{}
	engine := NewEngine(sender, loggers.NewNop())

	engine.handleUpdate(updateFrame(t, stroke(1, 1)))

	if err := engine.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	// Clearing is not local; the log waits for the broadcast.
	if n := len(engine.Actions()); n != 1 {
		t.Errorf("log has %d actions before cleared broadcast, want 1", n)
	}

	engine.handleCleared(nil)
	if n := len(engine.Actions()); n != 0 {
		t.Errorf("log has %d actions after cleared broadcast, want 0", n)
	}

	// Strokes after a clear build a fresh log.
	engine.handleUpdate(updateFrame(t, stroke(3, 3)))
	if n := len(engine.Actions()); n != 1 {
		t.Errorf("log has %d actions after post-clear stroke, want 1", n)
	}
}

func TestReplayDeterministic(t *testing.T) {
	actions := []models.StrokeAction{
		stroke(5, 5),
		{
			Type:      "stroke",
			Points:    []models.Point{{X: 8, Y: 8}, {X: 20, Y: 8}},
			LineWidth: 4,
			Mode:      models.StrokeModeErase,
		},
		stroke(12, 3),
	}

	a := Replay(actions, 32, 32)
	b := Replay(actions, 32, 32)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("replaying the same log produced different pixels")
	}
}

func TestReplayDrawAndErase(t *testing.T) {
	draw := []models.StrokeAction{{
		Type:      "stroke",
		Points:    []models.Point{{X: 4, Y: 16}, {X: 28, Y: 16}},
		Color:     "#ff0000",
		LineWidth: 4,
		Mode:      models.StrokeModeDraw,
	}}

	img := Replay(draw, 32, 32)
	r, _, _, _ := img.At(16, 16).RGBA()
	if r>>8 != 0xff {
		t.Fatalf("drawn pixel red channel = %#x, want 0xff", r>>8)
	}

	erased := append(draw, models.StrokeAction{
		Type:      "stroke",
		Points:    []models.Point{{X: 4, Y: 16}, {X: 28, Y: 16}},
		LineWidth: 6,
		Mode:      models.StrokeModeErase,
	})

	img = Replay(erased, 32, 32)
	r, g, b, _ := img.At(16, 16).RGBA()
	if r>>8 != 0xff || g>>8 != 0xff || b>>8 != 0xff {
		t.Errorf("erased pixel = (%#x,%#x,%#x), want white", r>>8, g>>8, b>>8)
	}

	// An empty log renders the bare canvas.
	blank := Replay(nil, 8, 8)
	if !bytes.Equal(blank.Pix, Replay([]models.StrokeAction{}, 8, 8).Pix) {
		t.Error("empty log rendering not stable")
	}
}
