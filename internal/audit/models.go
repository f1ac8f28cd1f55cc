package audit

import "time"

// Event is one append-only audit record. Events are never updated or deleted.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`
	// IPAddress is the operator's client IP, or the provider's for callback-driven events.
	IPAddress   string `json:"ip_address,omitempty"`

	CallID     string `json:"call_id,omitempty"`
	OverrideID string `json:"override_id,omitempty"`

	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted  EventType = "call_started"
	EventTypeCallCanceled EventType = "call_canceled"
	EventTypeOverrideSet  EventType = "routing_override_set"
	// EventTypeOverride is written when an inbound call is routed by an override.
	EventTypeOverride EventType = "routing_override"
)

func (t EventType) valid() bool {
	switch t {
	case EventTypeCallStarted, EventTypeCallCanceled, EventTypeOverrideSet, EventTypeOverride:
		return true
	}
	return false
}

// Actor identifies who caused an event.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
