package models

import (
	"encoding/json"
	"fmt"
)

// EncodeFrame serializes a channel frame: the payload's fields flattened into
// one JSON object with the "type" discriminator injected alongside them.
func EncodeFrame(eventType string, payload interface{}) ([]byte, error) {
	fields := map[string]json.RawMessage{}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload must encode to a JSON object: %w", err)
		}
	}

	typ, err := json.Marshal(eventType)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ

	return json.Marshal(fields)
}

// DecodeFrameType extracts the "type" discriminator from a raw frame.
func DecodeFrameType(frame []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("frame has no type")
	}
	return head.Type, nil
}
