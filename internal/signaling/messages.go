package signaling

import (
	"encoding/json"
	"errors"
	"strings"
)

// errorEvent is the in-band reply for malformed inbound payloads. The sender
// stays connected after receiving it.
type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const eventError = "error"

const invalidMessageText = "Invalid message format"

// parsePayload validates the wire envelope: a JSON object carrying at least a
// non-empty `type` string. Everything else is opaque signaling content that is
// relayed verbatim.
func parsePayload(data []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	t, ok := payload["type"].(string)
	if !ok || strings.TrimSpace(t) == "" {
		return nil, errors.New("payload missing type")
	}
	return payload, nil
}
