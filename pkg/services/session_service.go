package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/docmesh/docmesh/pkg/models"
	"github.com/docmesh/docmesh/pkg/ot"
	"github.com/docmesh/docmesh/pkg/repository"
)

// SynchronizationResult reports the outcome of applying one operation or
// a batch. Rejected operations never mutate document state.
type SynchronizationResult struct {
	Success            bool                        `json:"success"`
	AppliedOperations  []*models.Operation         `json:"appliedOperations"`
	RejectedOperations []*models.Operation         `json:"rejectedOperations"`
	Conflicts          []models.ConflictAnnotation `json:"conflicts"`
	NewDocumentState   *models.DocumentState       `json:"newDocumentState,omitempty"`
}

// sessionRecord is the per-session shared mutable state. Its mutex is the
// serialization point: at most one operation application runs per session.
type sessionRecord struct {
	mu      sync.Mutex
	session *models.CollaborationSession
	clock   models.VectorClock
	dirty   bool
}

// SessionService owns the live sessions: per-session document state,
// causal tracking, history, and event fan-out. Operation application is
// serialized per session.
type SessionService struct {
	BaseService

	store     repository.DocumentStore
	kernel    *ot.Kernel
	conflicts *ConflictResolutionService
	history   *HistoryService
	bus       *EventBus
	defaults  models.SessionSettings

	mu       sync.RWMutex
	sessions map[string]*sessionRecord

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSessionService creates the session state manager and starts its
// auto-sync loop.
func NewSessionService(config ServiceConfig, store repository.DocumentStore, kernel *ot.Kernel,
	conflicts *ConflictResolutionService, history *HistoryService, bus *EventBus,
	defaults models.SessionSettings) *SessionService {

	s := &SessionService{
		BaseService: NewBaseService(config),
		store:       store,
		kernel:      kernel,
		conflicts:   conflicts,
		history:     history,
		bus:         bus,
		defaults:    defaults,
		sessions:    make(map[string]*sessionRecord),
		stopCh:      make(chan struct{}),
	}

	// The presence tracker owns cursor_updated. Mirror accepted updates
	// into the session state that snapshots and exports read.
	bus.Subscribe(EventCursorUpdated, func(event Event) {
		cursor, ok := event.Data.(*models.CursorPosition)
		if !ok {
			return
		}
		copied := *cursor
		_ = s.UpdateCursor(event.SessionID, event.UserID, &copied)
	})

	go s.autoSyncLoop()
	return s
}

// CreateSession binds a document to a new session owned by owner. A nil
// initial state loads the document from the store, falling back to an
// empty document when none exists.
func (s *SessionService) CreateSession(ctx context.Context, documentID string, initial *models.DocumentState, owner *models.Participant) (string, error) {
	return s.createSession(ctx, models.NewSessionID(), documentID, initial, owner)
}

// CreateSessionWithID creates a session under a caller-chosen ID, used
// when a client targets a session that does not exist yet.
func (s *SessionService) CreateSessionWithID(ctx context.Context, sessionID, documentID string, initial *models.DocumentState, owner *models.Participant) (string, error) {
	if sessionID == "" {
		sessionID = models.NewSessionID()
	}
	return s.createSession(ctx, sessionID, documentID, initial, owner)
}

func (s *SessionService) createSession(ctx context.Context, sessionID, documentID string, initial *models.DocumentState, owner *models.Participant) (string, error) {
	if initial == nil {
		loaded, err := s.store.LoadDocument(ctx, documentID)
		switch {
		case err == nil:
			initial = loaded
		case errors.Is(err, repository.ErrDocumentNotFound):
			initial = models.NewDocumentState(documentID, "", owner.UserID)
		default:
			return "", errors.Wrap(err, "failed to load document for new session")
		}
	}

	fillParticipantDefaults(owner)
	owner.JoinedAt = time.Now()
	owner.LastSeen = owner.JoinedAt
	owner.Status = models.StatusActive

	record := &sessionRecord{
		session: &models.CollaborationSession{
			SessionID:     sessionID,
			DocumentID:    documentID,
			Participants:  map[string]*models.Participant{owner.UserID: owner},
			DocumentState: initial,
			Cursors:       make(map[string]*models.CursorPosition),
			Created:       time.Now(),
			LastActivity:  time.Now(),
			Settings:      s.defaults,
		},
		clock: models.VectorClock{owner.UserID: 0},
	}

	s.mu.Lock()
	s.sessions[sessionID] = record
	s.mu.Unlock()

	s.Logger().Info("Session created", map[string]interface{}{
		"session_id":  sessionID,
		"document_id": documentID,
		"owner":       owner.UserID,
	})
	s.Metrics().IncrementCounter("sessions_created_total", 1)
	s.bus.Emit(Event{Type: EventSessionCreated, SessionID: sessionID, UserID: owner.UserID})

	return sessionID, nil
}

// JoinSession adds a participant. Rejoins are idempotent and refresh
// lastSeen and status.
func (s *SessionService) JoinSession(sessionID string, participant *models.Participant) error {
	record, err := s.record(sessionID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	session := record.session

	if existing, ok := session.Participants[participant.UserID]; ok {
		existing.LastSeen = time.Now()
		existing.Status = models.StatusActive
		record.mu.Unlock()
		return nil
	}

	if len(session.Participants) >= session.Settings.MaxParticipants {
		record.mu.Unlock()
		return ErrSessionFull
	}

	fillParticipantDefaults(participant)
	participant.JoinedAt = time.Now()
	participant.LastSeen = participant.JoinedAt
	participant.Status = models.StatusActive
	session.Participants[participant.UserID] = participant
	session.LastActivity = time.Now()
	record.mu.Unlock()

	s.bus.Emit(Event{Type: EventParticipantJoined, SessionID: sessionID, UserID: participant.UserID, Data: participant})
	return nil
}

// LeaveSession removes a participant and their cursor. The session is
// torn down when the last participant leaves.
func (s *SessionService) LeaveSession(ctx context.Context, sessionID, userID string) error {
	record, err := s.record(sessionID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	session := record.session
	delete(session.Participants, userID)
	delete(session.Cursors, userID)
	empty := len(session.Participants) == 0
	record.mu.Unlock()

	s.bus.Emit(Event{Type: EventParticipantLeft, SessionID: sessionID, UserID: userID})

	if empty {
		s.closeSession(ctx, sessionID, record)
	}
	return nil
}

// ApplyOperation validates, transforms, and applies one operation to the
// session's document, then records history and emits events. Only one
// application runs per session at a time.
func (s *SessionService) ApplyOperation(ctx context.Context, sessionID string, op *models.Operation, userID string) (*SynchronizationResult, error) {
	return s.applyOperation(ctx, sessionID, op, userID, true)
}

func (s *SessionService) applyOperation(ctx context.Context, sessionID string, op *models.Operation, userID string, recordUndo bool) (*SynchronizationResult, error) {
	started := time.Now()

	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	session := record.session

	participant, ok := session.Participants[userID]
	if !ok || !participant.Permissions.CanEdit {
		return nil, ErrPermissionDenied
	}

	if validation := ot.Validate(op); !validation.Valid {
		return s.reject(sessionID, op, NewValidationError(validation.Errors))
	}

	if op.Metadata.DocumentVersion == 0 {
		op.Metadata.DocumentVersion = session.DocumentState.Version
	}
	op.Metadata.SessionID = sessionID

	// The concurrent set and the transform tie-break judge causality on
	// the clock the client sent; the merged session clock is stamped onto
	// the committed operation afterwards.
	concurrent := concurrentHistory(session.OperationHistory, op)
	transformed := s.kernel.TransformAgainst(op, concurrent)

	clock := record.clock.Clone()
	clock.Merge(op.Metadata.VectorClock)
	clock.Increment(userID)
	transformed.Metadata.VectorClock = clock.Clone()

	preState := session.DocumentState
	transformed.Metadata.DocumentVersion = preState.Version

	newState, err := ot.Apply(transformed, preState)
	if err != nil {
		return s.reject(sessionID, transformed, errors.Wrap(err, "apply failed"))
	}

	// A rejected operation must not advance the session clock.
	record.clock = clock

	if len(transformed.Conflicts) > 0 {
		s.resolveConflicts(sessionID, session, transformed, concurrent)
	}

	session.OperationHistory = append(session.OperationHistory, transformed)
	session.DocumentState = newState
	session.LastActivity = time.Now()
	record.dirty = true

	if recordUndo && session.Settings.EnableOperationHistory {
		s.history.RecordOperation(sessionID, transformed, preState, newState)
	}

	if session.Settings.CompressionEnabled && len(session.OperationHistory) > session.Settings.MaxHistorySize {
		before := len(session.OperationHistory)
		session.OperationHistory = CompressOperations(session.OperationHistory)
		s.Logger().Debug("Compressed operation history", map[string]interface{}{
			"session_id": sessionID,
			"before":     before,
			"after":      len(session.OperationHistory),
		})
	}

	if err := s.store.AppendOperations(ctx, session.DocumentID, transformed); err != nil {
		s.Logger().Warn("Failed to persist operation", map[string]interface{}{
			"session_id":   sessionID,
			"operation_id": transformed.Metadata.OperationID,
			"error":        err.Error(),
		})
	}

	s.Metrics().RecordTimer("operation_apply_duration", time.Since(started), map[string]string{
		"type": string(transformed.Type),
	})
	s.bus.Emit(Event{Type: EventOperationApplied, SessionID: sessionID, UserID: userID, Data: transformed})

	return &SynchronizationResult{
		Success:           true,
		AppliedOperations: []*models.Operation{transformed},
		Conflicts:         transformed.Conflicts,
		NewDocumentState:  newState.Clone(),
	}, nil
}

// reject must be called with the record lock held
func (s *SessionService) reject(sessionID string, op *models.Operation, cause error) (*SynchronizationResult, error) {
	s.Metrics().IncrementCounter("operations_rejected_total", 1)
	s.bus.Emit(Event{Type: EventOperationRejected, SessionID: sessionID, UserID: op.Metadata.UserID, Data: op})

	return &SynchronizationResult{
		Success:            false,
		RejectedOperations: []*models.Operation{op},
		Conflicts:          op.Conflicts,
	}, cause
}

// concurrentHistory selects the committed operations the incoming op must
// be transformed against: those applied at or after the op's base version,
// from other users, that the op's clock does not already account for.
func concurrentHistory(history []*models.Operation, op *models.Operation) []*models.Operation {
	var concurrent []*models.Operation
	for _, committed := range history {
		if committed.Metadata.DocumentVersion < op.Metadata.DocumentVersion {
			continue
		}
		if committed.Metadata.UserID == op.Metadata.UserID {
			continue
		}
		if len(op.Metadata.VectorClock) > 0 &&
			committed.Metadata.VectorClock.HappensBefore(op.Metadata.VectorClock) {
			// The client had already observed this operation.
			continue
		}
		concurrent = append(concurrent, committed)
	}
	return concurrent
}

// ConflictEvent is the payload of conflict_detected events
type ConflictEvent struct {
	Conflicts      []models.ConflictAnnotation
	ResolutionTime time.Duration
}

// resolveConflicts runs the resolver for each annotated collision so the
// session's resolution history and statistics stay current. The transform
// already fixed the document outcome; resolution records the decision.
func (s *SessionService) resolveConflicts(sessionID string, session *models.CollaborationSession, transformed *models.Operation, concurrent []*models.Operation) {
	started := time.Now()

	roles := make(map[string]models.ParticipantRole, len(session.Participants))
	for id, participant := range session.Participants {
		roles[id] = participant.Role
	}

	byID := make(map[string]*models.Operation, len(concurrent))
	for _, other := range concurrent {
		byID[other.Metadata.OperationID] = other
	}

	for _, conflict := range transformed.Conflicts {
		other, ok := byID[conflict.OperationID]
		if !ok {
			continue
		}
		s.conflicts.Resolve(sessionID, other, transformed, session.Settings.ConflictResolutionStrategy, roles)
	}

	s.Metrics().IncrementCounter("conflicts_detected_total", float64(len(transformed.Conflicts)))
	s.bus.Emit(Event{
		Type:      EventConflictDetected,
		SessionID: sessionID,
		UserID:    transformed.Metadata.UserID,
		Data: ConflictEvent{
			Conflicts:      transformed.Conflicts,
			ResolutionTime: time.Since(started),
		},
	})
}

// SynchronizeOperations applies a batch in causal order: happens-before
// first, then timestamp, userId, operationId.
func (s *SessionService) SynchronizeOperations(ctx context.Context, sessionID string, ops []*models.Operation) (*SynchronizationResult, error) {
	sorted := append([]*models.Operation(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Metadata.VectorClock.HappensBefore(b.Metadata.VectorClock) {
			return true
		}
		if b.Metadata.VectorClock.HappensBefore(a.Metadata.VectorClock) {
			return false
		}
		if a.Metadata.Timestamp != b.Metadata.Timestamp {
			return a.Metadata.Timestamp < b.Metadata.Timestamp
		}
		if a.Metadata.UserID != b.Metadata.UserID {
			return a.Metadata.UserID < b.Metadata.UserID
		}
		return a.Metadata.OperationID < b.Metadata.OperationID
	})

	combined := &SynchronizationResult{Success: true}
	for _, op := range sorted {
		result, err := s.ApplyOperation(ctx, sessionID, op, op.Metadata.UserID)
		if err != nil && result == nil {
			return nil, err
		}
		combined.AppliedOperations = append(combined.AppliedOperations, result.AppliedOperations...)
		combined.RejectedOperations = append(combined.RejectedOperations, result.RejectedOperations...)
		combined.Conflicts = append(combined.Conflicts, result.Conflicts...)
		if result.NewDocumentState != nil {
			combined.NewDocumentState = result.NewDocumentState
		}
		if !result.Success {
			combined.Success = false
		}
	}
	return combined, nil
}

// UpdateCursor stores a cursor position in the session state. The
// presence service owns the cursor_updated event; this keeps the copy
// that snapshots and state reads see.
func (s *SessionService) UpdateCursor(sessionID, userID string, cursor *models.CursorPosition) error {
	record, err := s.record(sessionID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	session := record.session
	participant, ok := session.Participants[userID]
	if !ok {
		record.mu.Unlock()
		return ErrPermissionDenied
	}

	cursor.UserID = userID
	cursor.Color = participant.Color
	if cursor.Timestamp == 0 {
		cursor.Timestamp = models.NowMillis()
	}
	session.Cursors[userID] = cursor
	session.LastActivity = time.Now()
	record.mu.Unlock()
	return nil
}

// GetStateSnapshot deep-copies the session state
func (s *SessionService) GetStateSnapshot(sessionID, description string) (*models.Snapshot, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	return s.history.CreateSnapshot(record.session, record.clock, description, false), nil
}

// CreateAutoSnapshot records a timer-driven snapshot
func (s *SessionService) CreateAutoSnapshot(sessionID string) (*models.Snapshot, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	return s.history.CreateSnapshot(record.session, record.clock, "", true), nil
}

// RestoreFromSnapshot rewinds document state, history, clock, and cursors
// to the snapshot. The snapshot checksum must match its content.
func (s *SessionService) RestoreFromSnapshot(sessionID string, snapshot *models.Snapshot) error {
	if snapshot == nil || snapshot.DocumentState == nil {
		return ErrInvalidSnapshot
	}
	if models.Checksum(snapshot.DocumentState.Content) != snapshot.DocumentState.Checksum {
		return ErrInvalidSnapshot
	}

	record, err := s.record(sessionID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	session := record.session
	session.DocumentState = snapshot.DocumentState.Clone()
	if snapshot.HistoryLength < len(session.OperationHistory) {
		session.OperationHistory = session.OperationHistory[:snapshot.HistoryLength]
	}
	record.clock = snapshot.VectorClock.Clone()
	session.Cursors = make(map[string]*models.CursorPosition, len(snapshot.Cursors))
	for id, cursor := range snapshot.Cursors {
		copied := *cursor
		session.Cursors[id] = &copied
	}
	session.LastActivity = time.Now()
	record.dirty = true
	record.mu.Unlock()

	s.history.ResetStacks(sessionID)

	s.Logger().Info("Session restored from snapshot", map[string]interface{}{
		"session_id":  sessionID,
		"snapshot_id": snapshot.SnapshotID,
	})
	return nil
}

// Undo reverses the user's most recent operation. The inverse flows
// through normal application, so it is re-transformed against any
// concurrent edits committed since the original.
func (s *SessionService) Undo(ctx context.Context, sessionID, userID string) (*SynchronizationResult, error) {
	return s.replayFromStack(ctx, sessionID, userID, s.history.Undo)
}

// Redo re-applies the user's most recently undone operation
func (s *SessionService) Redo(ctx context.Context, sessionID, userID string) (*SynchronizationResult, error) {
	return s.replayFromStack(ctx, sessionID, userID, s.history.Redo)
}

func (s *SessionService) replayFromStack(ctx context.Context, sessionID, userID string, pop func(string, string) (*models.Operation, error)) (*SynchronizationResult, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	participant, ok := record.session.Participants[userID]
	canEdit := ok && participant.Permissions.CanEdit
	version := record.session.DocumentState.Version
	record.mu.Unlock()

	if !canEdit {
		return nil, ErrPermissionDenied
	}

	op, err := pop(sessionID, userID)
	if err != nil {
		return nil, err
	}
	// The stack stamps the op with the version its original produced, so
	// the transform sees every concurrent edit committed since then. A
	// node recorded without state falls back to the current version.
	if op.Metadata.DocumentVersion == 0 {
		op.Metadata.DocumentVersion = version
	}

	return s.applyOperation(ctx, sessionID, op, userID, false)
}

// DocumentResponse returns the state and recent history sent to joiners
func (s *SessionService) DocumentResponse(sessionID string, historyLimit int) (*models.DocumentState, []*models.Operation, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	session := record.session
	history := session.OperationHistory
	if historyLimit > 0 && len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	out := make([]*models.Operation, len(history))
	for i, op := range history {
		out[i] = op.Clone()
	}
	return session.DocumentState.Clone(), out, nil
}

// Participant returns a copy of one participant
func (s *SessionService) Participant(sessionID, userID string) (*models.Participant, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	participant, ok := record.session.Participants[userID]
	if !ok {
		return nil, ErrPermissionDenied
	}
	copied := *participant
	return &copied, nil
}

// SessionInfo is a read-only view of a session's headline state
type SessionInfo struct {
	SessionID        string
	DocumentID       string
	ParticipantCount int
	Version          int64
	OperationCount   int
	Created          time.Time
	LastActivity     time.Time
	Settings         models.SessionSettings
}

// Info returns headline state for one session
func (s *SessionService) Info(sessionID string) (*SessionInfo, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	session := record.session
	return &SessionInfo{
		SessionID:        session.SessionID,
		DocumentID:       session.DocumentID,
		ParticipantCount: len(session.Participants),
		Version:          session.DocumentState.Version,
		OperationCount:   len(session.OperationHistory),
		Created:          session.Created,
		LastActivity:     session.LastActivity,
		Settings:         session.Settings,
	}, nil
}

// SessionIDs lists the live sessions
func (s *SessionService) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Participants returns a copy of the session's participant map
func (s *SessionService) Participants(sessionID string) (map[string]*models.Participant, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	out := make(map[string]*models.Participant, len(record.session.Participants))
	for id, participant := range record.session.Participants {
		copied := *participant
		out[id] = &copied
	}
	return out, nil
}

// Export assembles the final session state for archival
func (s *SessionService) Export(sessionID string, metrics SessionMetricsProvider) (*models.SessionExport, error) {
	record, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()

	session := record.session
	history := make([]*models.Operation, len(session.OperationHistory))
	for i, op := range session.OperationHistory {
		history[i] = op.Clone()
	}
	participants := make(map[string]*models.Participant, len(session.Participants))
	for id, participant := range session.Participants {
		copied := *participant
		participants[id] = &copied
	}

	export := &models.SessionExport{
		SessionID:    sessionID,
		DocumentID:   session.DocumentID,
		Content:      session.DocumentState.Content,
		Checksum:     session.DocumentState.Checksum,
		History:      history,
		Participants: participants,
		ExportedAt:   time.Now(),
	}

	// The provider reads session state through this service, so it must
	// run after the record lock is released.
	record.mu.Unlock()

	if metrics != nil {
		export.Metrics = metrics.SessionMetrics(sessionID)
	}
	return export, nil
}

// SessionMetricsProvider supplies metrics for exports; implemented by the
// lifecycle manager.
type SessionMetricsProvider interface {
	SessionMetrics(sessionID string) models.SessionMetrics
}

// Close stops the auto-sync loop
func (s *SessionService) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *SessionService) record(sessionID string) (*sessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return record, nil
}

// closeSession persists final state and drops all per-session storage
func (s *SessionService) closeSession(ctx context.Context, sessionID string, record *sessionRecord) {
	record.mu.Lock()
	doc := record.session.DocumentState.Clone()
	record.mu.Unlock()

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		s.Logger().Warn("Failed to persist document on session close", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.history.ClearSession(sessionID)
	s.conflicts.ClearSession(sessionID)

	s.Logger().Info("Session closed", map[string]interface{}{"session_id": sessionID})
	s.bus.Emit(Event{Type: EventSessionClosed, SessionID: sessionID})
}

// autoSyncLoop saves dirty sessions whose last activity is older than the
// auto-save interval, emitting document_saved.
func (s *SessionService) autoSyncLoop() {
	interval := s.defaults.SyncInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.autoSyncPass()
		}
	}
}

func (s *SessionService) autoSyncPass() {
	s.mu.RLock()
	records := make(map[string]*sessionRecord, len(s.sessions))
	for id, record := range s.sessions {
		records[id] = record
	}
	s.mu.RUnlock()

	for sessionID, record := range records {
		record.mu.Lock()
		due := record.dirty && time.Since(record.session.LastActivity) > record.session.Settings.AutoSaveInterval
		var doc *models.DocumentState
		if due {
			doc = record.session.DocumentState.Clone()
			record.dirty = false
		}
		record.mu.Unlock()

		if !due {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.store.SaveDocument(ctx, doc)
		cancel()
		if err != nil {
			s.Logger().Warn("Auto-save failed", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			record.mu.Lock()
			record.dirty = true
			record.mu.Unlock()
			continue
		}

		s.bus.Emit(Event{Type: EventDocumentSaved, SessionID: sessionID, Data: doc.Version})
	}
}

func fillParticipantDefaults(p *models.Participant) {
	if p.Color == "" {
		p.Color = models.GenerateUserColor(p.UserID)
	}
	if p.Role == "" {
		p.Role = models.RoleEditor
	}
	if (p.Permissions == models.ParticipantPermissions{}) {
		p.Permissions = models.PermissionsForRole(p.Role)
	}
}
