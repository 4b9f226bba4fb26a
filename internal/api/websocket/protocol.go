package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/docmesh/docmesh/pkg/models"
)

// Message types accepted from clients
const (
	MessageOperation       = "operation"
	MessageCursor          = "cursor"
	MessageSelection       = "selection"
	MessagePresence        = "presence"
	MessageFollow          = "follow"
	MessageDocumentRequest = "document_request"
	MessageUndo            = "undo"
	MessageRedo            = "redo"
)

// Message types sent to clients
const (
	MessageDocumentResponse     = "document_response"
	MessageConflictNotification = "conflict_notification"
	MessageError                = "error"
	MessageParticipantJoined    = "participant_joined"
	MessageParticipantLeft      = "participant_left"
)

// Error codes carried in error payloads
const (
	CodeSessionBusy      = "session_busy"
	CodeOperationTimeout = "operation_timeout"
	CodePermissionDenied = "permission_denied"
	CodeValidationFailed = "validation_failed"
	CodeSessionNotFound  = "session_not_found"
	CodeInternalError    = "internal_error"
)

// Envelope frames every message on the wire
type Envelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId"`
}

// NewEnvelope frames a payload with a fresh message ID and timestamp
func NewEnvelope(msgType, from string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		From:      from,
		Timestamp: models.NowMillis(),
		MessageID: uuid.New().String(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal message payload")
		}
		env.Data = data
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return errors.New("message has no payload")
	}
	return errors.Wrapf(json.Unmarshal(e.Data, v), "failed to decode %s payload", e.Type)
}

// OperationPayload wraps a document edit
type OperationPayload struct {
	Operation *models.Operation `json:"operation"`
}

// CursorPayload wraps a cursor move or selection change
type CursorPayload struct {
	Cursor *models.CursorPosition `json:"cursor"`
}

// PresencePayload carries an explicit status change
type PresencePayload struct {
	Status models.ParticipantStatus `json:"status"`
	Typing *bool                    `json:"typing,omitempty"`
}

// FollowPayload asks to track another participant's position. An empty
// target stops following.
type FollowPayload struct {
	Target string `json:"target"`
}

// DocumentResponsePayload is the full state push used for initial load
// and for resynchronization after a rejected operation.
type DocumentResponsePayload struct {
	DocumentState    *models.DocumentState `json:"documentState"`
	OperationHistory []*models.Operation   `json:"operationHistory"`
}

// ConflictPayload notifies the originating client that its operation
// collided and how the collision was resolved.
type ConflictPayload struct {
	ConflictID string                      `json:"conflictId"`
	Conflicts  []models.ConflictAnnotation `json:"conflicts"`
}

// ErrorPayload reports a rejected message back to its sender
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ParticipantPayload announces membership changes
type ParticipantPayload struct {
	Participant *models.Participant `json:"participant"`
}
