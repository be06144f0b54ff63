package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	// Run lifecycle events
	EventTypeRunCreated   EventType = "run.created"
	EventTypeRunPaused    EventType = "run.paused"
	EventTypeRunResumed   EventType = "run.resumed"
	EventTypeRunCancelled EventType = "run.cancelled"
	EventTypeRunCompleted EventType = "run.completed"

	// Step instance events
	EventTypeStepCompleted  EventType = "step.completed"
	EventTypeStepSkipped    EventType = "step.skipped"
	EventTypeStepReassigned EventType = "step.reassigned"

	// Template events
	EventTypeWorkflowReordered  EventType = "workflow.reordered"
	EventTypeWorkflowDuplicated EventType = "workflow.duplicated"
)

// Event is the envelope published for every committed state change.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	OrgID     string         `json:"org_id"`
	Subject   string         `json:"subject"` // id of the entity the event is about
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
}

// NewEvent creates a new event with generated ID and timestamp
func NewEvent(eventType EventType, orgID, subject string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		OrgID:     orgID,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
	}
}

// Publisher delivers events to downstream collaborators.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }
func (NopPublisher) Close() error                          { return nil }
