package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the attempt lifecycle events emitted by this service
type EventType string

const (
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptResumed   EventType = "attempt.resumed"
	EventAttemptFlagged   EventType = "attempt.flagged"
	EventAttemptCompleted EventType = "attempt.completed"
	EventAttemptAbandoned EventType = "attempt.abandoned"
	EventAttemptExpired   EventType = "attempt.expired"
)

const (
	eventSource  = "attempt-tracking-service"
	eventVersion = "1.0"
)

// AttemptEvent is the envelope for all outbound attempt events
type AttemptEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      AttemptEventData       `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AttemptEventData is the attempt snapshot carried by every event
type AttemptEventData struct {
	SessionID       string    `json:"sessionId"`
	FormID          string    `json:"formId"`
	StudentID       *string   `json:"studentId,omitempty"`
	AssignmentID    *string   `json:"assignmentId,omitempty"`
	InteractionType string    `json:"interactionType"`
	Status          string    `json:"status"`
	AttemptNumber   int       `json:"attemptNumber"`
	ResumeCount     int       `json:"resumeCount"`
	FocusLossCount  int       `json:"focusLossCount"`
	TimeSpent       int       `json:"timeSpent"`
	ResponseID      *string   `json:"responseId,omitempty"`
	Reasons         []string  `json:"reasons,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// NewAttemptEvent builds an event envelope with a fresh id
func NewAttemptEvent(eventType EventType, data AttemptEventData) *AttemptEvent {
	return &AttemptEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    eventSource,
		Version:   eventVersion,
		Data:      data,
	}
}

// GenerateEventID returns a unique event id
func GenerateEventID() string {
	return uuid.NewString()
}
