package models

import (
	"encoding/json"
	"testing"
)

func TestEncodeFrameFlattensPayload(t *testing.T) {
	frame, err := EncodeFrame(EventPresenceJoin, PresenceUserPayload{UserID: 9})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if decoded["type"] != EventPresenceJoin {
		t.Errorf("type = %v, want %s", decoded["type"], EventPresenceJoin)
	}
	if decoded["user_id"].(float64) != 9 {
		t.Errorf("user_id = %v, want 9 at the top level", decoded["user_id"])
	}
	if _, nested := decoded["payload"]; nested {
		t.Error("payload nested instead of flattened")
	}
}

func TestEncodeFrameNilPayload(t *testing.T) {
	frame, err := EncodeFrame(EventSketchClear, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if string(frame) != `{"type":"sketch_clear"}` {
		t.Errorf("frame = %s", frame)
	}
}

func TestEncodeFrameRejectsNonObject(t *testing.T) {
	if _, err := EncodeFrame(EventChatMessage, "just a string"); err == nil {
		t.Error("non-object payload accepted")
	}
}

func TestDecodeFrameType(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    string
		wantErr bool
	}{
		{"valid", `{"type":"chat_message","content":"hi"}`, EventChatMessage, false},
		{"missing type", `{"content":"hi"}`, "", true},
		{"not json", `{oops`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrameType([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}
