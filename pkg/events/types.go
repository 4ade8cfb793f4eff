package events

import (
	"strings"
	"time"
)

// Type classifies events for routing.
type Type string

const (
	// TypeInbound marks a message arriving from a channel. Notify-only:
	// losing one costs the sender a retry, nothing more.
	TypeInbound Type = "inbound"
	// TypeOutbound marks a reply to be delivered. Persisted to the
	// outbox before anyone is notified.
	TypeOutbound Type = "outbound"
	// TypeStatus marks internal lifecycle notices. Notify-only.
	TypeStatus Type = "status"
)

// Event is a typed, timestamped message flowing through the bus.
// Immutable once created.
type Event struct {
	Type      Type              `json:"type"`
	SessionID string            `json:"session_id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Record is the outbox filename backing this event. Set by the bus
	// for outbound events, empty otherwise. Not serialized: the file
	// cannot know its own future name.
	Record string `json:"-"`
}

// NewEvent creates an event stamped with the current UTC time.
func NewEvent(t Type, sessionID, content, source string, metadata map[string]string) Event {
	return Event{
		Type:      t,
		SessionID: sessionID,
		Content:   content,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// sanitizeID makes a session id safe to embed in a filename.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '-'
		}
		return r
	}, id)
}
