package services

import (
	"sync"
	"time"

	"github.com/docmesh/docmesh/pkg/observability"
)

// Event kinds emitted by the collaboration services
const (
	EventOperationApplied  = "operation_applied"
	EventOperationRejected = "operation_rejected"
	EventConflictDetected  = "conflict_detected"
	EventCursorUpdated     = "cursor_updated"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTypingUpdated     = "typing_updated"
	EventStatusChanged     = "status_changed"
	EventViewportUpdated   = "viewport_updated"
	EventUserFollow        = "user_follow"
	EventDocumentSaved     = "document_saved"
	EventSessionCreated    = "session_created"
	EventSessionClosed     = "session_closed"
)

// Event is the payload passed to subscribers
type Event struct {
	Type      string
	SessionID string
	UserID    string
	Data      interface{}
	Timestamp time.Time
}

// EventHandler receives events. Handlers run synchronously on the
// emitter's goroutine and must not block.
type EventHandler func(Event)

// EventBus is a mapping from event kind to subscriber list with
// synchronous dispatch.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   observability.Logger
}

// NewEventBus creates an empty event bus
func NewEventBus(logger observability.Logger) *EventBus {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &EventBus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event kind
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit dispatches the event to every subscriber of its kind
func (b *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked", map[string]interface{}{
						"event_type": event.Type,
						"session_id": event.SessionID,
						"panic":      r,
					})
				}
			}()
			handler(event)
		}()
	}
}
