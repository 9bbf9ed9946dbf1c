package broker

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	NewCrisis    = "new-crisis"
	CrisisUpdate = "crisis-update"
	Ping         = "ping"
)

var (
	// ErrMalformedFrame is raised when an inbound frame is not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMissingTopic is raised when an inbound frame carries no topic.
	ErrMissingTopic = errors.New("frame has no topic")
)

var nullPayload = json.RawMessage("null")

// Message is the wire frame format.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wireMessage accepts the field aliases used by older peers.
type wireMessage struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Data    json.RawMessage `json:"data"`
}

// Decode parses an inbound frame. The topic is read from "type", falling back
// to "topic"; the payload from "payload", falling back to "data". A frame
// without a payload decodes to a JSON null payload.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	msg := Message{Type: w.Type, Payload: w.Payload}
	if msg.Type == "" {
		msg.Type = w.Topic
	}
	if msg.Type == "" {
		return Message{}, ErrMissingTopic
	}
	if len(msg.Payload) == 0 {
		msg.Payload = w.Data
	}
	if len(msg.Payload) == 0 {
		msg.Payload = nullPayload
	}
	return msg, nil
}

// Encode builds a frame for topic carrying payload. A json.RawMessage or
// []byte payload must already be valid JSON and is embedded as is.
func Encode(topic string, payload interface{}) ([]byte, error) {
	if topic == "" {
		return nil, ErrMissingTopic
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedFrame)
	}
	return json.Marshal(Message{Type: topic, Payload: raw})
}

// PingFrame returns the keep-alive frame sent while a connection is open.
func PingFrame() []byte {
	return []byte(`{"type":"ping"}`)
}
