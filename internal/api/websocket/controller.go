package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/docmesh/docmesh/pkg/models"
	"github.com/docmesh/docmesh/pkg/observability"
	"github.com/docmesh/docmesh/pkg/services"
)

const (
	// historyLimit caps the operation history sent with a document push
	historyLimit = 100

	// rescheduleDelay spaces out queue drains so a chatty session cannot
	// starve the scheduler
	rescheduleDelay = 10 * time.Millisecond

	// queueCapFactor times MaxConcurrentOperations bounds the per-session
	// backlog before clients see session_busy
	queueCapFactor = 10
)

// ClientConn is the controller's view of a connected client
type ClientConn interface {
	ConnectionID() string
	Send(env *Envelope) error
}

// JoinRequest identifies who is connecting and to which session
type JoinRequest struct {
	SessionID  string
	DocumentID string
	UserID     string
	Username   string
	Role       models.ParticipantRole
}

// CollaborationContext is the per-connection session binding
type CollaborationContext struct {
	ConnectionID string
	SessionID    string
	DocumentID   string
	UserID       string
	Username     string
	Role         models.ParticipantRole
	Permissions  models.ParticipantPermissions
}

type queuedOperation struct {
	op       *models.Operation
	connID   string
	userID   string
	enqueued time.Time
}

// Controller routes client messages into the session services. Edits go
// through a per-session FIFO queue with a single drainer, so concurrent
// submissions serialize without blocking the read pumps. Cursor and
// presence traffic bypasses the queue entirely.
type Controller struct {
	logger   observability.Logger
	metrics  observability.MetricsClient
	sessions *services.SessionService
	presence *services.PresenceService
	settings models.SessionSettings

	mu         sync.Mutex
	contexts   map[string]*CollaborationContext
	bySession  map[string]map[string]ClientConn
	queues     map[string][]*queuedOperation
	processing map[string]bool
}

// NewController wires the message router to the collaboration services
func NewController(sessions *services.SessionService, presence *services.PresenceService,
	settings models.SessionSettings, logger observability.Logger, metrics observability.MetricsClient) *Controller {

	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Controller{
		logger:     logger,
		metrics:    metrics,
		sessions:   sessions,
		presence:   presence,
		settings:   settings,
		contexts:   make(map[string]*CollaborationContext),
		bySession:  make(map[string]map[string]ClientConn),
		queues:     make(map[string][]*queuedOperation),
		processing: make(map[string]bool),
	}
}

// Initialize joins (or creates) the requested session and pushes the
// full document state to the new client. Returning an error means the
// connection must be dropped.
func (c *Controller) Initialize(ctx context.Context, conn ClientConn, join JoinRequest) error {
	role := join.Role
	if role == "" {
		role = models.RoleEditor
	}
	participant := &models.Participant{
		UserID:   join.UserID,
		Username: join.Username,
		Role:     role,
	}

	sessionID := join.SessionID
	err := c.sessions.JoinSession(sessionID, participant)
	if errors.Is(err, services.ErrSessionNotFound) {
		if role != models.RoleOwner && role != models.RoleAdmin {
			return err
		}
		sessionID, err = c.sessions.CreateSessionWithID(ctx, join.SessionID, join.DocumentID, nil, participant)
	}
	if err != nil {
		return err
	}

	c.presence.Join(sessionID, join.UserID)

	joined, err := c.sessions.Participant(sessionID, join.UserID)
	if err != nil {
		return err
	}

	cc := &CollaborationContext{
		ConnectionID: conn.ConnectionID(),
		SessionID:    sessionID,
		DocumentID:   join.DocumentID,
		UserID:       join.UserID,
		Username:     join.Username,
		Role:         joined.Role,
		Permissions:  joined.Permissions,
	}

	c.mu.Lock()
	c.contexts[conn.ConnectionID()] = cc
	if c.bySession[sessionID] == nil {
		c.bySession[sessionID] = make(map[string]ClientConn)
	}
	c.bySession[sessionID][conn.ConnectionID()] = conn
	c.mu.Unlock()

	if err := c.sendDocument(conn, sessionID); err != nil {
		return err
	}

	if env, err := NewEnvelope(MessageParticipantJoined, join.UserID, ParticipantPayload{Participant: joined}); err == nil {
		c.broadcast(sessionID, conn.ConnectionID(), env)
	}
	return nil
}

// HandleMessage dispatches one inbound envelope for an initialized connection
func (c *Controller) HandleMessage(ctx context.Context, conn ClientConn, env *Envelope) {
	c.mu.Lock()
	cc := c.contexts[conn.ConnectionID()]
	c.mu.Unlock()
	if cc == nil {
		c.sendErrorTo(conn, "connection not initialized", CodeSessionNotFound)
		return
	}

	switch env.Type {
	case MessageOperation:
		c.handleOperation(conn, cc, env)
	case MessageCursor, MessageSelection:
		c.handleCursor(conn, cc, env)
	case MessagePresence:
		c.handlePresence(conn, cc, env)
	case MessageFollow:
		c.handleFollow(conn, cc, env)
	case MessageDocumentRequest:
		if err := c.sendDocument(conn, cc.SessionID); err != nil {
			c.logger.Warn("Document push failed", map[string]interface{}{
				"connection_id": cc.ConnectionID,
				"error":         err.Error(),
			})
		}
	case MessageUndo:
		c.handleReplay(ctx, conn, cc, c.sessions.Undo, services.ErrNothingToUndo)
	case MessageRedo:
		c.handleReplay(ctx, conn, cc, c.sessions.Redo, services.ErrNothingToRedo)
	default:
		c.sendErrorTo(conn, "unknown message type "+env.Type, CodeValidationFailed)
	}
}

func (c *Controller) handleOperation(conn ClientConn, cc *CollaborationContext, env *Envelope) {
	if !cc.Permissions.CanEdit {
		c.sendErrorTo(conn, "user lacks edit permission", CodePermissionDenied)
		return
	}

	var payload OperationPayload
	if err := env.Decode(&payload); err != nil || payload.Operation == nil {
		c.sendErrorTo(conn, "operation payload missing or malformed", CodeValidationFailed)
		return
	}

	op := payload.Operation
	op.Metadata.UserID = cc.UserID
	op.Metadata.SessionID = cc.SessionID
	if op.Metadata.OperationID == "" {
		op.Metadata.OperationID = models.NewOperationID()
	}
	if op.Metadata.Timestamp == 0 {
		op.Metadata.Timestamp = models.NowMillis()
	}

	c.mu.Lock()
	if len(c.queues[cc.SessionID]) >= c.settings.MaxConcurrentOperations*queueCapFactor {
		c.mu.Unlock()
		c.sendErrorTo(conn, "session operation queue is full", CodeSessionBusy)
		c.metrics.IncrementCounter("operations_rejected_backpressure_total", 1)
		return
	}
	c.queues[cc.SessionID] = append(c.queues[cc.SessionID], &queuedOperation{
		op:       op,
		connID:   cc.ConnectionID,
		userID:   cc.UserID,
		enqueued: time.Now(),
	})
	c.mu.Unlock()

	c.scheduleProcessing(cc.SessionID)
}

// scheduleProcessing starts a drainer for the session unless one is
// already running
func (c *Controller) scheduleProcessing(sessionID string) {
	c.mu.Lock()
	if c.processing[sessionID] || len(c.queues[sessionID]) == 0 {
		c.mu.Unlock()
		return
	}
	c.processing[sessionID] = true
	c.mu.Unlock()

	go c.processQueue(sessionID)
}

func (c *Controller) processQueue(sessionID string) {
	c.mu.Lock()
	queue := c.queues[sessionID]
	batchSize := c.settings.MaxConcurrentOperations
	if batchSize <= 0 || batchSize > len(queue) {
		batchSize = len(queue)
	}
	batch := queue[:batchSize]
	c.queues[sessionID] = append([]*queuedOperation(nil), queue[batchSize:]...)
	c.mu.Unlock()

	for _, item := range batch {
		origin := c.connection(sessionID, item.connID)

		if waited := time.Since(item.enqueued); waited > c.settings.OperationTimeout {
			c.logger.Warn("Operation expired in queue", map[string]interface{}{
				"session_id":   sessionID,
				"operation_id": item.op.Metadata.OperationID,
				"waited":       waited.String(),
			})
			if origin != nil {
				c.sendErrorTo(origin, services.ErrOperationTimeout.Error(), CodeOperationTimeout)
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.settings.OperationTimeout)
		result, err := c.sessions.ApplyOperation(ctx, sessionID, item.op, item.userID)
		cancel()

		if err != nil || result == nil || !result.Success {
			if origin != nil {
				message := "operation rejected"
				if err != nil {
					message = err.Error()
				}
				c.sendErrorTo(origin, message, errorCode(err))
				// Resynchronize the rejected client so it can rebase
				if pushErr := c.sendDocument(origin, sessionID); pushErr != nil {
					c.logger.Debug("Resync push failed", map[string]interface{}{
						"session_id": sessionID,
						"error":      pushErr.Error(),
					})
				}
			}
			continue
		}

		if len(result.Conflicts) > 0 && origin != nil {
			payload := ConflictPayload{
				ConflictID: result.AppliedOperations[0].Metadata.OperationID,
				Conflicts:  result.Conflicts,
			}
			if env, envErr := NewEnvelope(MessageConflictNotification, "", payload); envErr == nil {
				_ = origin.Send(env)
			}
		}

		applied := result.AppliedOperations[0]
		if env, envErr := NewEnvelope(MessageOperation, item.userID, OperationPayload{Operation: applied}); envErr == nil {
			c.broadcast(sessionID, item.connID, env)
		}
	}

	c.mu.Lock()
	c.processing[sessionID] = false
	remaining := len(c.queues[sessionID])
	c.mu.Unlock()

	if remaining > 0 {
		time.AfterFunc(rescheduleDelay, func() { c.scheduleProcessing(sessionID) })
	}
}

// handleCursor serves both cursor moves and selection changes. These
// never enter the operation queue; the presence throttle decides
// whether the update propagates.
func (c *Controller) handleCursor(conn ClientConn, cc *CollaborationContext, env *Envelope) {
	var payload CursorPayload
	if err := env.Decode(&payload); err != nil || payload.Cursor == nil {
		c.sendErrorTo(conn, "cursor payload missing or malformed", CodeValidationFailed)
		return
	}

	cursor := payload.Cursor
	cursor.UserID = cc.UserID
	if cursor.Timestamp == 0 {
		cursor.Timestamp = models.NowMillis()
	}
	if cursor.Color == "" {
		cursor.Color = models.GenerateUserColor(cc.UserID)
	}

	// Presence owns cursor state; the session service mirrors accepted
	// updates off the event bus.
	if !c.presence.UpdateCursor(cc.SessionID, cc.UserID, cursor) {
		return
	}

	if env, err := NewEnvelope(env.Type, cc.UserID, CursorPayload{Cursor: cursor}); err == nil {
		c.broadcast(cc.SessionID, cc.ConnectionID, env)
	}
}

// handleFollow starts or stops tracking another participant. A target
// who is not present in the session is refused silently.
func (c *Controller) handleFollow(conn ClientConn, cc *CollaborationContext, env *Envelope) {
	var payload FollowPayload
	if err := env.Decode(&payload); err != nil {
		c.sendErrorTo(conn, "follow payload malformed", CodeValidationFailed)
		return
	}

	if !c.presence.Follow(cc.SessionID, cc.UserID, payload.Target) {
		return
	}

	if env, err := NewEnvelope(MessageFollow, cc.UserID, payload); err == nil {
		c.broadcast(cc.SessionID, cc.ConnectionID, env)
	}
}

func (c *Controller) handlePresence(conn ClientConn, cc *CollaborationContext, env *Envelope) {
	var payload PresencePayload
	if err := env.Decode(&payload); err != nil {
		c.sendErrorTo(conn, "presence payload malformed", CodeValidationFailed)
		return
	}

	if payload.Typing != nil {
		c.presence.SetTyping(cc.SessionID, cc.UserID, *payload.Typing)
	}
	if payload.Status != "" {
		c.presence.UpdateStatus(cc.SessionID, cc.UserID, payload.Status)
	}

	if env, err := NewEnvelope(MessagePresence, cc.UserID, payload); err == nil {
		c.broadcast(cc.SessionID, cc.ConnectionID, env)
	}
}

// handleReplay runs an undo or redo. The resulting operation originates
// on the server, so every connection in the session receives it,
// including the one that asked.
func (c *Controller) handleReplay(ctx context.Context, conn ClientConn, cc *CollaborationContext,
	replay func(context.Context, string, string) (*services.SynchronizationResult, error), empty error) {

	if !cc.Permissions.CanEdit {
		c.sendErrorTo(conn, "user lacks edit permission", CodePermissionDenied)
		return
	}

	result, err := replay(ctx, cc.SessionID, cc.UserID)
	if errors.Is(err, empty) {
		return
	}
	if err != nil || !result.Success {
		message := "replay rejected"
		if err != nil {
			message = err.Error()
		}
		c.sendErrorTo(conn, message, errorCode(err))
		return
	}

	applied := result.AppliedOperations[0]
	if env, envErr := NewEnvelope(MessageOperation, cc.UserID, OperationPayload{Operation: applied}); envErr == nil {
		c.broadcast(cc.SessionID, "", env)
	}
}

// Disconnect removes the connection's session binding and, when this
// was the user's last connection, leaves the session.
func (c *Controller) Disconnect(conn ClientConn) {
	c.mu.Lock()
	cc := c.contexts[conn.ConnectionID()]
	delete(c.contexts, conn.ConnectionID())

	lastForUser := false
	if cc != nil {
		if peers, ok := c.bySession[cc.SessionID]; ok {
			delete(peers, conn.ConnectionID())
			if len(peers) == 0 {
				delete(c.bySession, cc.SessionID)
				delete(c.queues, cc.SessionID)
			}
		}
		lastForUser = true
		for connID, other := range c.contexts {
			if connID != conn.ConnectionID() && other.SessionID == cc.SessionID && other.UserID == cc.UserID {
				lastForUser = false
				break
			}
		}
	}
	c.mu.Unlock()

	if cc == nil || !lastForUser {
		return
	}

	c.presence.Leave(cc.SessionID, cc.UserID)
	if err := c.sessions.LeaveSession(context.Background(), cc.SessionID, cc.UserID); err != nil {
		c.logger.Warn("Leave session failed", map[string]interface{}{
			"session_id": cc.SessionID,
			"user_id":    cc.UserID,
			"error":      err.Error(),
		})
	}

	payload := ParticipantPayload{Participant: &models.Participant{
		UserID:   cc.UserID,
		Username: cc.Username,
		Role:     cc.Role,
	}}
	if env, err := NewEnvelope(MessageParticipantLeft, cc.UserID, payload); err == nil {
		c.broadcast(cc.SessionID, "", env)
	}
}

// sendDocument pushes current document state plus recent history to one
// client. Never broadcast.
func (c *Controller) sendDocument(conn ClientConn, sessionID string) error {
	state, history, err := c.sessions.DocumentResponse(sessionID, historyLimit)
	if err != nil {
		return err
	}
	env, err := NewEnvelope(MessageDocumentResponse, "", DocumentResponsePayload{
		DocumentState:    state,
		OperationHistory: history,
	})
	if err != nil {
		return err
	}
	return conn.Send(env)
}

// broadcast delivers env to every connection in the session except
// exceptConnID. Pass an empty exceptConnID to reach everyone.
func (c *Controller) broadcast(sessionID, exceptConnID string, env *Envelope) {
	c.mu.Lock()
	peers := make([]ClientConn, 0, len(c.bySession[sessionID]))
	for connID, conn := range c.bySession[sessionID] {
		if connID == exceptConnID {
			continue
		}
		peers = append(peers, conn)
	}
	c.mu.Unlock()

	for _, peer := range peers {
		_ = peer.Send(env)
	}
}

// connection returns the live connection for connID, or nil when it is
// already gone
func (c *Controller) connection(sessionID, connID string) ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peers, ok := c.bySession[sessionID]; ok {
		return peers[connID]
	}
	return nil
}

func (c *Controller) sendErrorTo(conn ClientConn, message, code string) {
	env, err := NewEnvelope(MessageError, "", ErrorPayload{Error: message, Code: code})
	if err != nil {
		return
	}
	_ = conn.Send(env)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, services.ErrValidationFailed):
		return CodeValidationFailed
	case errors.Is(err, services.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, services.ErrSessionFull), errors.Is(err, services.ErrSessionBusy):
		return CodeSessionBusy
	case errors.Is(err, services.ErrOperationTimeout):
		return CodeOperationTimeout
	default:
		return CodeInternalError
	}
}

func initErrorCode(err error) string {
	return errorCode(err)
}
