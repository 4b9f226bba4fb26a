package services

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh/pkg/models"
)

// ConflictResolution is the outcome of resolving a pair of colliding
// operations: one resolved operation, the alternatives not chosen, and a
// confidence in [0, 1].
type ConflictResolution struct {
	ResolutionID   string                            `json:"resolutionId"`
	SessionID      string                            `json:"sessionId"`
	Strategy       models.ConflictResolutionStrategy `json:"strategy"`
	Resolved       *models.Operation                 `json:"resolved"`
	Alternatives   []*models.Operation               `json:"alternatives,omitempty"`
	Confidence     float64                           `json:"confidence"`
	RequiresReview bool                              `json:"requiresReview,omitempty"`
	Timestamp      time.Time                         `json:"timestamp"`
}

// ResolutionStats summarizes a session's resolution history
type ResolutionStats struct {
	Total             int                                       `json:"total"`
	ByStrategy        map[models.ConflictResolutionStrategy]int `json:"byStrategy"`
	AverageConfidence float64                                   `json:"averageConfidence"`
	InteractiveCount  int                                       `json:"interactiveCount"`
}

// Tokens whose presence in inserted or deleted content marks a
// structural code change.
var structuralTokens = []string{
	"function", "class", "interface", "import", "export", "{", "}", "(", ")",
}

// ConflictResolutionService merges semantically colliding operations
// under a selectable strategy and retains per-session resolution history.
type ConflictResolutionService struct {
	BaseService

	mu      sync.Mutex
	history map[string][]*ConflictResolution
}

// NewConflictResolutionService creates the resolver
func NewConflictResolutionService(config ServiceConfig) *ConflictResolutionService {
	return &ConflictResolutionService{
		BaseService: NewBaseService(config),
		history:     make(map[string][]*ConflictResolution),
	}
}

// Resolve merges two colliding operations. An empty strategy invokes the
// selection heuristic. roles supplies participant roles for user-priority
// resolution; nil is treated as all-unknown.
func (s *ConflictResolutionService) Resolve(sessionID string, a, b *models.Operation, strategy models.ConflictResolutionStrategy, roles map[string]models.ParticipantRole) *ConflictResolution {
	if strategy == "" {
		strategy = s.SelectStrategy(a, b)
	}

	resolution := s.resolve(a, b, strategy, roles)
	resolution.ResolutionID = "res_" + uuid.New().String()
	resolution.SessionID = sessionID
	resolution.Timestamp = time.Now()

	s.mu.Lock()
	s.history[sessionID] = append(s.history[sessionID], resolution)
	s.mu.Unlock()

	s.Metrics().IncrementCounterWithLabels("conflicts_resolved_total", 1, map[string]string{
		"strategy": string(resolution.Strategy),
	})
	s.Logger().Debug("Conflict resolved", map[string]interface{}{
		"session_id": sessionID,
		"strategy":   string(resolution.Strategy),
		"confidence": resolution.Confidence,
	})

	return resolution
}

func (s *ConflictResolutionService) resolve(a, b *models.Operation, strategy models.ConflictResolutionStrategy, roles map[string]models.ParticipantRole) *ConflictResolution {
	switch strategy {
	case models.StrategyClientWins:
		return pick(strategy, b, a, 0.8)

	case models.StrategyServerWins:
		return pick(strategy, a, b, 0.8)

	case models.StrategyTimestampPriority:
		if a.Metadata.Timestamp <= b.Metadata.Timestamp {
			return pick(strategy, a, b, 0.9)
		}
		return pick(strategy, b, a, 0.9)

	case models.StrategyUserPriority:
		if models.RoleWeight(roles[a.Metadata.UserID]) >= models.RoleWeight(roles[b.Metadata.UserID]) {
			return pick(strategy, a, b, 0.85)
		}
		return pick(strategy, b, a, 0.85)

	case models.StrategyInteractive:
		return &ConflictResolution{
			Strategy:       strategy,
			Resolved:       a.Clone(),
			Alternatives:   []*models.Operation{b.Clone()},
			Confidence:     0,
			RequiresReview: true,
		}

	case models.StrategyContentAware:
		return s.resolveContentAware(a, b, roles)

	case models.StrategyMerge:
		fallthrough
	default:
		return s.merge(a, b, roles)
	}
}

func pick(strategy models.ConflictResolutionStrategy, winner, loser *models.Operation, confidence float64) *ConflictResolution {
	return &ConflictResolution{
		Strategy:     strategy,
		Resolved:     winner.Clone(),
		Alternatives: []*models.Operation{loser.Clone()},
		Confidence:   confidence,
	}
}

// merge applies the intelligent-merge sub-rules; mixed-type pairs defer
// to timestamp priority.
func (s *ConflictResolutionService) merge(a, b *models.Operation, roles map[string]models.ParticipantRole) *ConflictResolution {
	switch {
	case a.Type == models.OpFormat && b.Type == models.OpFormat && rangesTouch(a, b):
		return mergeFormats(a, b)
	case a.Type == models.OpInsert && b.Type == models.OpInsert && a.Position == b.Position:
		return mergeInserts(a, b)
	case a.Type == models.OpDelete && b.Type == models.OpDelete && rangesTouch(a, b):
		return mergeDeletes(a, b)
	default:
		resolution := s.resolve(a, b, models.StrategyTimestampPriority, roles)
		resolution.Strategy = models.StrategyMerge
		return resolution
	}
}

// mergeFormats unions the ranges; boolean attributes OR, other attributes
// take the value from the later-timestamp operation.
func mergeFormats(a, b *models.Operation) *ConflictResolution {
	earlier, later := byTimestamp(a, b)

	start := earlier.Position
	if later.Position < start {
		start = later.Position
	}
	end := earlier.End()
	if later.End() > end {
		end = later.End()
	}

	merged := models.NewFormat(start, end-start, models.MergeAttributes(earlier.Attributes, later.Attributes))
	merged.Metadata = earlier.Metadata
	merged.Metadata.VectorClock = earlier.Metadata.VectorClock.Clone()

	return &ConflictResolution{
		Strategy:     models.StrategyMerge,
		Resolved:     merged,
		Alternatives: []*models.Operation{a.Clone(), b.Clone()},
		Confidence:   0.95,
	}
}

// mergeInserts concatenates contents with the earlier timestamp first
func mergeInserts(a, b *models.Operation) *ConflictResolution {
	earlier, later := byTimestamp(a, b)

	merged := models.NewInsert(earlier.Position, earlier.Content+later.Content,
		models.MergeAttributes(earlier.Attributes, later.Attributes))
	merged.Metadata = earlier.Metadata
	merged.Metadata.VectorClock = earlier.Metadata.VectorClock.Clone()

	return &ConflictResolution{
		Strategy:     models.StrategyMerge,
		Resolved:     merged,
		Alternatives: []*models.Operation{a.Clone(), b.Clone()},
		Confidence:   0.9,
	}
}

// mergeDeletes spans the union range and concatenates captured content
func mergeDeletes(a, b *models.Operation) *ConflictResolution {
	first, second := a, b
	if b.Position < a.Position {
		first, second = b, a
	}

	end := first.End()
	if second.End() > end {
		end = second.End()
	}

	merged := models.NewDelete(first.Position, end-first.Position)
	merged.DeletedContent = first.DeletedContent + second.DeletedContent
	merged.Metadata = first.Metadata
	merged.Metadata.VectorClock = first.Metadata.VectorClock.Clone()

	return &ConflictResolution{
		Strategy:     models.StrategyMerge,
		Resolved:     merged,
		Alternatives: []*models.Operation{a.Clone(), b.Clone()},
		Confidence:   0.95,
	}
}

// resolveContentAware dispatches by detected content type
func (s *ConflictResolutionService) resolveContentAware(a, b *models.Operation, roles map[string]models.ParticipantRole) *ConflictResolution {
	contentType := detectContentType(a, b)

	var resolution *ConflictResolution
	switch contentType {
	case "code":
		if hasStructuralChange(a) || hasStructuralChange(b) {
			resolution = s.resolve(a, b, models.StrategyInteractive, roles)
		} else {
			resolution = s.merge(a, b, roles)
		}
	case "rich_text":
		resolution = s.merge(a, b, roles)
		if resolution.Confidence < 0.9 {
			resolution = s.resolve(a, b, models.StrategyTimestampPriority, roles)
		}
	default: // markdown, plain
		resolution = s.merge(a, b, roles)
	}

	resolution.Strategy = models.StrategyContentAware
	return resolution
}

// SelectStrategy picks a strategy when the caller sets none
func (s *ConflictResolutionService) SelectStrategy(a, b *models.Operation) models.ConflictResolutionStrategy {
	switch {
	case a.Type == models.OpFormat && b.Type == models.OpFormat:
		return models.StrategyMerge
	case hasConflictKind(a, b, models.ConflictPosition):
		return models.StrategyTimestampPriority
	case hasConflictKind(a, b, models.ConflictContent):
		if hasStructuralChange(a) || hasStructuralChange(b) {
			return models.StrategyInteractive
		}
		return models.StrategyMerge
	case a.Metadata.VectorClock.Concurrent(b.Metadata.VectorClock):
		return models.StrategyUserPriority
	default:
		return models.StrategyMerge
	}
}

// Stats returns resolution statistics for a session
func (s *ConflictResolutionService) Stats(sessionID string) ResolutionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ResolutionStats{ByStrategy: make(map[models.ConflictResolutionStrategy]int)}
	var confidenceSum float64
	for _, resolution := range s.history[sessionID] {
		stats.Total++
		stats.ByStrategy[resolution.Strategy]++
		confidenceSum += resolution.Confidence
		if resolution.RequiresReview {
			stats.InteractiveCount++
		}
	}
	if stats.Total > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.Total)
	}
	return stats
}

// SessionHistory returns the recorded resolutions for a session
func (s *ConflictResolutionService) SessionHistory(sessionID string) []*ConflictResolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ConflictResolution(nil), s.history[sessionID]...)
}

// ClearSession drops a session's resolution history
func (s *ConflictResolutionService) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
}

func byTimestamp(a, b *models.Operation) (*models.Operation, *models.Operation) {
	if a.Metadata.Timestamp <= b.Metadata.Timestamp {
		return a, b
	}
	return b, a
}

func rangesTouch(a, b *models.Operation) bool {
	return a.Position < b.End() && b.Position < a.End()
}

func hasConflictKind(a, b *models.Operation, kind string) bool {
	for _, op := range []*models.Operation{a, b} {
		for _, conflict := range op.Conflicts {
			if conflict.Kind == kind {
				return true
			}
		}
	}
	return false
}

// hasStructuralChange scans inserted or deleted content for code tokens
func hasStructuralChange(op *models.Operation) bool {
	content := op.Content
	if op.Type == models.OpDelete {
		content = op.DeletedContent
	}
	if content == "" {
		return false
	}
	for _, token := range structuralTokens {
		if strings.Contains(content, token) {
			return true
		}
	}
	return false
}

// detectContentType classifies the colliding content for content-aware
// resolution.
func detectContentType(a, b *models.Operation) string {
	combined := a.Content + a.DeletedContent + b.Content + b.DeletedContent

	if hasStructuralChange(a) || hasStructuralChange(b) {
		return "code"
	}
	for _, marker := range []string{"# ", "## ", "```", "**", "]("} {
		if strings.Contains(combined, marker) {
			return "markdown"
		}
	}
	if len(a.Attributes) > 0 || len(b.Attributes) > 0 {
		return "rich_text"
	}
	return "plain"
}
