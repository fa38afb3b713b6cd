package kafka

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a triage event on the topic.
type EventType string

const (
	EventAlertResolved    EventType = "alert.resolved"
	EventLogsCleared      EventType = "logs.cleared"
	EventSessionTeardown  EventType = "session.teardown"
	EventUserCreated      EventType = "user.created"
	EventUserRoleChanged  EventType = "user.role_changed"
	EventAnalysisComplete EventType = "analysis.completed"
)

// Event is the JSON payload published for every triage decision.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor,omitempty"`
	ActorRole  string            `json:"actor_role,omitempty"`
	Target     string            `json:"target,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(typ EventType, actor, actorRole, target string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Actor:      actor,
		ActorRole:  actorRole,
		Target:     target,
		OccurredAt: time.Now().UTC(),
	}
}

// With returns a copy of the event with an extra attribute.
func (e Event) With(key, value string) Event {
	attrs := make(map[string]string, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

// Publisher emits triage events. *Producer is the Kafka implementation.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
