package broker

import (
	"encoding/json"
	"time"
)

// Handler handles an event received on a topic.
type Handler func(Event) error

// Event is the event passed to Handler.
type Event struct {
	Topic      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Unmarshal decodes the event payload into v.
func (e Event) Unmarshal(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
