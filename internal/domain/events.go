package domain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event represents a domain event
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
	// AggregateID returns the ID of the record that produced this event
	AggregateID() RecordID
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"occurred_at"`
	Aggregate RecordID  `json:"aggregate_id"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType string, aggregateID RecordID) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Aggregate: aggregateID,
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() RecordID { return e.Aggregate }

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes domain events
type EventHandler func(event Event)

// EventDispatcher manages event subscriptions and publishing.
// Delivery is synchronous and best-effort; handlers must not block.
type EventDispatcher struct {
	mu          sync.RWMutex
	handlers    map[string][]EventHandler
	allHandlers []EventHandler // handlers for all events
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allHandlers = append(d.allHandlers, handler)
}

// Publish dispatches an event to all registered handlers
func (d *EventDispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, h := range d.handlers[event.EventType()] {
		h(event)
	}
	for _, h := range d.allHandlers {
		h(event)
	}
}

// -----------------------------------------------------------------------------
// Grading Events
// -----------------------------------------------------------------------------

// Event type names
const (
	EventGradePublished     = "grade.published"
	EventSubmissionReceived = "submission.received"
	EventContentGenerated   = "content.generated"
)

// GradePublishedEvent is published when an instructor finalizes a grade
type GradePublishedEvent struct {
	BaseEvent
	SubmissionID RecordID `json:"submission_id"`
	StudentID    RecordID `json:"student_id"`
	InstanceID   RecordID `json:"instance_id"`
	FinalScore   int      `json:"final_score"`
}

// NewGradePublishedEvent creates a new grade published event
func NewGradePublishedEvent(p *ExerciseProgress, finalScore int) GradePublishedEvent {
	return GradePublishedEvent{
		BaseEvent:    NewBaseEvent(EventGradePublished, p.ID),
		SubmissionID: p.ID,
		StudentID:    p.Key.StudentID,
		InstanceID:   p.Key.InstanceID,
		FinalScore:   finalScore,
	}
}

// SubmissionReceivedEvent is published when a student submits for grading
type SubmissionReceivedEvent struct {
	BaseEvent
	StudentID  RecordID `json:"student_id"`
	InstanceID RecordID `json:"instance_id"`
	AIScore    int      `json:"ai_score"`
	Fallback   bool     `json:"fallback"`
}

// NewSubmissionReceivedEvent creates a new submission received event
func NewSubmissionReceivedEvent(p *ExerciseProgress, aiScore int, fallback bool) SubmissionReceivedEvent {
	return SubmissionReceivedEvent{
		BaseEvent:  NewBaseEvent(EventSubmissionReceived, p.ID),
		StudentID:  p.Key.StudentID,
		InstanceID: p.Key.InstanceID,
		AIScore:    aiScore,
		Fallback:   fallback,
	}
}

// ContentGeneratedEvent is published when new exercise content is drafted
type ContentGeneratedEvent struct {
	BaseEvent
	ContentID  RecordID `json:"content_id"`
	Version    int      `json:"version"`
	TokensUsed int      `json:"tokens_used"`
}

// NewContentGeneratedEvent creates a new content generated event
func NewContentGeneratedEvent(c *ExerciseContent) ContentGeneratedEvent {
	return ContentGeneratedEvent{
		BaseEvent:  NewBaseEvent(EventContentGenerated, c.InstanceID),
		ContentID:  c.ID,
		Version:    c.Version,
		TokensUsed: c.TokensUsed,
	}
}

// DecodeEvent rebuilds a typed event from its JSON form.
func DecodeEvent(eventType string, data []byte) (Event, error) {
	var (
		event Event
		err   error
	)
	switch eventType {
	case EventGradePublished:
		var e GradePublishedEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventSubmissionReceived:
		var e SubmissionReceivedEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventContentGenerated:
		var e ContentGeneratedEvent
		err = json.Unmarshal(data, &e)
		event = e
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidInput, eventType, err)
	}
	return event, nil
}
