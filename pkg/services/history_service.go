package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/docmesh/docmesh/pkg/models"
	"github.com/docmesh/docmesh/pkg/ot"
)

// History limits
const (
	DefaultUndoDepth     = 50
	MaxSnapshots         = 50
	MaxAutoSnapshots     = 10
	OperationMergeWindow = 5 * time.Second
)

// HistoryNode is one entry in a session's history log: the applied
// operation, its computed inverse, and references to the states around it.
type HistoryNode struct {
	Operation   *models.Operation     `json:"operation"`
	Inverse     *models.Operation     `json:"inverse,omitempty"`
	Before      *models.DocumentState `json:"-"`
	After       *models.DocumentState `json:"-"`
	Timestamp   time.Time             `json:"timestamp"`
	UserID      string                `json:"userId"`
	Description string                `json:"description"`
	Tags        []string              `json:"tags,omitempty"`
	Importance  string                `json:"importance"`
}

type undoRedoState struct {
	undo []*HistoryNode
	redo []*HistoryNode
}

type sessionHistory struct {
	nodes     []*HistoryNode
	users     map[string]*undoRedoState
	snapshots []*models.Snapshot
}

// HistoryService keeps per-session history logs, bounded per-user
// undo/redo stacks, and snapshots.
type HistoryService struct {
	BaseService

	undoDepth int

	mu       sync.Mutex
	sessions map[string]*sessionHistory
}

// NewHistoryService creates the history manager
func NewHistoryService(config ServiceConfig) *HistoryService {
	return &HistoryService{
		BaseService: NewBaseService(config),
		undoDepth:   DefaultUndoDepth,
		sessions:    make(map[string]*sessionHistory),
	}
}

func (s *HistoryService) session(sessionID string) *sessionHistory {
	h, ok := s.sessions[sessionID]
	if !ok {
		h = &sessionHistory{users: make(map[string]*undoRedoState)}
		s.sessions[sessionID] = h
	}
	return h
}

func (s *HistoryService) userState(h *sessionHistory, userID string) *undoRedoState {
	u, ok := h.users[userID]
	if !ok {
		u = &undoRedoState{}
		h.users[userID] = u
	}
	return u
}

// RecordOperation stores a history node for a successfully applied
// operation, computes its inverse, and pushes it onto the user's undo
// stack. A non-invertible operation is stored without an inverse and is
// skipped by undo.
func (s *HistoryService) RecordOperation(sessionID string, op *models.Operation, before, after *models.DocumentState) *HistoryNode {
	inverse, err := ot.Inverse(op, before)
	if err != nil {
		if !errors.Is(err, ot.ErrNonInvertible) {
			s.Logger().Warn("Inverse generation failed", map[string]interface{}{
				"session_id":   sessionID,
				"operation_id": op.Metadata.OperationID,
				"error":        err.Error(),
			})
		}
		inverse = nil
	}

	node := &HistoryNode{
		Operation:   op,
		Inverse:     inverse,
		Before:      before,
		After:       after,
		Timestamp:   time.Now(),
		UserID:      op.Metadata.UserID,
		Description: describeOperation(op),
		Importance:  classifyImportance(op),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.session(sessionID)
	h.nodes = append(h.nodes, node)

	user := s.userState(h, op.Metadata.UserID)
	user.undo = append(user.undo, node)
	if len(user.undo) > s.undoDepth {
		user.undo = user.undo[len(user.undo)-s.undoDepth:]
	}
	user.redo = nil

	return node
}

// Undo pops the user's most recent invertible operation and returns a
// metadata-rewritten inverse ready to flow through normal application.
func (s *HistoryService) Undo(sessionID, userID string) (*models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.session(sessionID)
	user := s.userState(h, userID)

	for len(user.undo) > 0 {
		node := user.undo[len(user.undo)-1]
		user.undo = user.undo[:len(user.undo)-1]

		if node.Inverse == nil {
			continue
		}

		user.redo = append(user.redo, node)
		if len(user.redo) > s.undoDepth {
			user.redo = user.redo[len(user.redo)-s.undoDepth:]
		}
		return restamp(node, node.Inverse, userID, sessionID), nil
	}

	return nil, ErrNothingToUndo
}

// Redo pops the user's most recently undone operation and returns it,
// metadata-rewritten, for re-application.
func (s *HistoryService) Redo(sessionID, userID string) (*models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.session(sessionID)
	user := s.userState(h, userID)

	if len(user.redo) == 0 {
		return nil, ErrNothingToRedo
	}

	node := user.redo[len(user.redo)-1]
	user.redo = user.redo[:len(user.redo)-1]
	user.undo = append(user.undo, node)

	return restamp(node, node.Operation, userID, sessionID), nil
}

// restamp clones op with fresh identity. The replay is a new event: fresh
// operationId and timestamp, parent pointing at the original. Its base
// version is the document version the node's operation produced, so the
// replay is transformed against everything committed since then.
func restamp(node *HistoryNode, op *models.Operation, userID, sessionID string) *models.Operation {
	stamped := op.Clone()
	stamped.Metadata = models.OperationMetadata{
		OperationID:       models.NewOperationID(),
		UserID:            userID,
		SessionID:         sessionID,
		Timestamp:         models.NowMillis(),
		ParentOperationID: node.Operation.Metadata.OperationID,
	}
	if node.After != nil {
		stamped.Metadata.DocumentVersion = node.After.Version
	}
	stamped.Conflicts = nil
	stamped.NoOp = false
	return stamped
}

// Nodes returns the session's history log, most recent last
func (s *HistoryService) Nodes(sessionID string) []*HistoryNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*HistoryNode(nil), s.session(sessionID).nodes...)
}

// CreateSnapshot deep-copies the session state. Automatic snapshots are
// capped at MaxAutoSnapshots; the total at MaxSnapshots, dropping oldest.
func (s *HistoryService) CreateSnapshot(session *models.CollaborationSession, clock models.VectorClock, description string, automatic bool) *models.Snapshot {
	participants := make(map[string]*models.Participant, len(session.Participants))
	for id, p := range session.Participants {
		copied := *p
		participants[id] = &copied
	}
	cursors := make(map[string]*models.CursorPosition, len(session.Cursors))
	for id, c := range session.Cursors {
		copied := *c
		cursors[id] = &copied
	}

	snapshot := &models.Snapshot{
		SnapshotID:    "snap_" + uuid.New().String(),
		SessionID:     session.SessionID,
		DocumentState: session.DocumentState.Clone(),
		VectorClock:   clock.Clone(),
		HistoryLength: len(session.OperationHistory),
		Participants:  participants,
		Cursors:       cursors,
		Timestamp:     time.Now(),
		Automatic:     automatic,
		Description:   description,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.session(session.SessionID)
	h.snapshots = append(h.snapshots, snapshot)

	if automatic {
		if auto := countAutomatic(h.snapshots); auto > MaxAutoSnapshots {
			h.snapshots = dropOldestAutomatic(h.snapshots)
		}
	}
	if len(h.snapshots) > MaxSnapshots {
		h.snapshots = h.snapshots[len(h.snapshots)-MaxSnapshots:]
	}

	return snapshot
}

// Snapshots lists the session's retained snapshots, oldest first
func (s *HistoryService) Snapshots(sessionID string) []*models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Snapshot(nil), s.session(sessionID).snapshots...)
}

// ClearSession drops all history state for a session
func (s *HistoryService) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// ResetStacks clears the undo/redo stacks after a snapshot restore; the
// restored history no longer matches the stacked inverses.
func (s *HistoryService) ResetStacks(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.session(sessionID)
	for _, user := range h.users {
		user.undo = nil
		user.redo = nil
	}
}

func countAutomatic(snapshots []*models.Snapshot) int {
	n := 0
	for _, snap := range snapshots {
		if snap.Automatic {
			n++
		}
	}
	return n
}

func dropOldestAutomatic(snapshots []*models.Snapshot) []*models.Snapshot {
	for i, snap := range snapshots {
		if snap.Automatic {
			return append(snapshots[:i:i], snapshots[i+1:]...)
		}
	}
	return snapshots
}

// CompressOperations folds consecutive same-user operations inside the
// merge window: contiguous inserts concatenate, deletes at the same
// position sum. Different users' operations are never merged.
func CompressOperations(ops []*models.Operation) []*models.Operation {
	if len(ops) < 2 {
		return ops
	}

	compressed := make([]*models.Operation, 0, len(ops))
	current := ops[0].Clone()

	for _, next := range ops[1:] {
		if merged := tryMerge(current, next); merged != nil {
			current = merged
			continue
		}
		compressed = append(compressed, current)
		current = next.Clone()
	}
	return append(compressed, current)
}

func tryMerge(a, b *models.Operation) *models.Operation {
	if a.Metadata.UserID != b.Metadata.UserID {
		return nil
	}
	if b.Metadata.Timestamp-a.Metadata.Timestamp > OperationMergeWindow.Milliseconds() {
		return nil
	}

	switch {
	case a.Type == models.OpInsert && b.Type == models.OpInsert &&
		a.Position+a.ContentLength() == b.Position:
		merged := a.Clone()
		merged.Content += b.Content
		merged.Metadata.Timestamp = b.Metadata.Timestamp
		return merged

	case a.Type == models.OpDelete && b.Type == models.OpDelete &&
		a.Position == b.Position:
		merged := a.Clone()
		merged.Length += b.Length
		merged.DeletedContent += b.DeletedContent
		merged.Metadata.Timestamp = b.Metadata.Timestamp
		return merged
	}
	return nil
}

// describeOperation renders a short human-readable summary
func describeOperation(op *models.Operation) string {
	switch op.Type {
	case models.OpInsert:
		preview := op.Content
		if runes := []rune(preview); len(runes) > 20 {
			preview = string(runes[:20]) + "…"
		}
		return fmt.Sprintf("Inserted %q at position %d", preview, op.Position)
	case models.OpDelete:
		return fmt.Sprintf("Deleted %d characters at position %d", op.Length, op.Position)
	case models.OpFormat:
		return fmt.Sprintf("Formatted %d characters at position %d", op.Length, op.Position)
	default:
		return fmt.Sprintf("Retained %d characters at position %d", op.Length, op.Position)
	}
}

func classifyImportance(op *models.Operation) string {
	size := op.Length
	if op.Type == models.OpInsert {
		size = op.ContentLength()
	}
	switch {
	case op.NoOp:
		return "low"
	case size >= 100:
		return "high"
	default:
		return "normal"
	}
}
