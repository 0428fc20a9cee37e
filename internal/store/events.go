// ABOUTME: Agent event log types shared by the agent pool, gateway and listeners
// ABOUTME: Provides Event with a typed kind and a JSON payload

package store

import (
	"encoding/json"
	"time"
)

// EventType categorizes an agent event
type EventType string

const (
	EventMessageIn    EventType = "message_in"
	EventMessageOut   EventType = "message_out"
	EventParsedItem   EventType = "parsed_item"
	EventStatusChange EventType = "status_change"
	EventError        EventType = "error"
)

// Event is one entry in the agent event stream.
// It is pushed to listeners and appended to the event log.
type Event struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	AgentName string          `json:"agent_name"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Clone returns a copy that does not share the payload buffer.
func (e *Event) Clone() *Event {
	out := *e
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &out
}
