// Package event carries session and channel lifecycle events to observers.
// Events are immutable once published and retained in a bounded ring so a
// late-joining subscriber can see recent history.
package event

import (
	"time"

	"github.com/agent-relay/backend/internal/ident"
)

// Type tags an event. Dispatch sites switch over these; adding a type means
// updating every switch.
type Type string

const (
	TypeStateChanged    Type = "state:changed"
	TypeSessionCreated  Type = "session:created"
	TypeSessionDeleted  Type = "session:deleted"
	TypeChannelCreated  Type = "channel:created"
	TypeChannelDeleted  Type = "channel:deleted"
	TypeChannelJoined   Type = "channel:joined"
	TypeChannelLeft     Type = "channel:left"
	TypeMessagePosted   Type = "message:posted"
	TypeStatus          Type = "status"
	TypeTemplatesLoaded Type = "templates:loaded"
)

// Event is one broadcast record. SessionID is nil for channel-only events.
type Event struct {
	Type      Type             `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	SessionID *ident.SessionID `json:"sessionId,omitempty"`
	Channel   string           `json:"channel,omitempty"`
	Payload   any              `json:"payload,omitempty"`
}

// StateChangedPayload names both ends of an applied transition.
type StateChangedPayload struct {
	OldState string `json:"oldState"`
	NewState string `json:"newState"`
	Reason   string `json:"reason,omitempty"`
}

// MessagePayload is a chat message routed through a channel.
type MessagePayload struct {
	Agent   string `json:"agent,omitempty"`
	Content string `json:"content"`
}

// New builds an event stamped with the current UTC time.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

// ForSession attaches a session id.
func (e Event) ForSession(id ident.SessionID) Event {
	e.SessionID = &id
	return e
}

// InChannel attaches a channel name.
func (e Event) InChannel(name string) Event {
	e.Channel = name
	return e
}

// With attaches a payload.
func (e Event) With(payload any) Event {
	e.Payload = payload
	return e
}
