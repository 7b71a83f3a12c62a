package domain

import (
	"encoding/json"
	"time"
)

// EventType names the realtime events the assigner reacts to.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventConversationClosed  EventType = "conversation.closed"
	EventPresenceChanged     EventType = "presence.changed"
	EventAssignmentUpdated   EventType = "assignment.updated"
)

// Event is the single typed envelope for realtime delivery. Channel scopes
// ordering: events are reordered by Timestamp within a channel, never across
// channels.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int64           `json:"version,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope fields the ordering buffer keys on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "event id is required"}
	}
	if e.Channel == "" {
		return &ValidationError{Field: "channel", Reason: "event channel is required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "event timestamp is required"}
	}
	return nil
}

// PresencePayload is the payload of a presence.changed event.
type PresencePayload struct {
	CandidateID string   `json:"candidate_id"`
	Presence    Presence `json:"presence"`
}
