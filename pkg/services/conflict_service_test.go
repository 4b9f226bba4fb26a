package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/pkg/models"
)

func conflictOp(op *models.Operation, userID string, ts int64) *models.Operation {
	op.Metadata = models.OperationMetadata{
		OperationID: models.NewOperationID(),
		UserID:      userID,
		Timestamp:   ts,
		VectorClock: models.VectorClock{userID: 1},
	}
	return op
}

func TestResolveStrategies(t *testing.T) {
	roles := map[string]models.ParticipantRole{
		"alice": models.RoleOwner,
		"bob":   models.RoleEditor,
	}

	t.Run("Client wins picks the second operand", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "A", nil), "alice", 1)
		b := conflictOp(models.NewInsert(0, "B", nil), "bob", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyClientWins, roles)

		assert.Equal(t, "B", res.Resolved.Content)
		assert.Equal(t, 0.8, res.Confidence)
		require.Len(t, res.Alternatives, 1)
		assert.Equal(t, "A", res.Alternatives[0].Content)
	})

	t.Run("Server wins picks the first operand", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "A", nil), "alice", 1)
		b := conflictOp(models.NewInsert(0, "B", nil), "bob", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyServerWins, roles)
		assert.Equal(t, "A", res.Resolved.Content)
	})

	t.Run("Timestamp priority picks the earlier operation", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "late", nil), "alice", 9)
		b := conflictOp(models.NewInsert(0, "early", nil), "bob", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyTimestampPriority, roles)

		assert.Equal(t, "early", res.Resolved.Content)
		assert.Equal(t, 0.9, res.Confidence)
	})

	t.Run("User priority picks the higher role", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "editor", nil), "bob", 1)
		b := conflictOp(models.NewInsert(0, "owner", nil), "alice", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyUserPriority, roles)

		assert.Equal(t, "owner", res.Resolved.Content)
		assert.Equal(t, 0.85, res.Confidence)
	})

	t.Run("Interactive escalates with zero confidence", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "A", nil), "alice", 1)
		b := conflictOp(models.NewInsert(0, "B", nil), "bob", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyInteractive, roles)

		assert.True(t, res.RequiresReview)
		assert.Zero(t, res.Confidence)
	})
}

func TestIntelligentMerge(t *testing.T) {
	t.Run("Overlapping formats union the range and merge attributes", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewFormat(0, 5, models.Attributes{models.AttrBold: true}), "alice", 1)
		b := conflictOp(models.NewFormat(3, 4, models.Attributes{models.AttrItalic: true, models.AttrBold: false}), "bob", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyMerge, nil)

		assert.Equal(t, 0, res.Resolved.Position)
		assert.Equal(t, 7, res.Resolved.Length)
		assert.Equal(t, true, res.Resolved.Attributes[models.AttrBold])
		assert.Equal(t, true, res.Resolved.Attributes[models.AttrItalic])
		assert.Equal(t, 0.95, res.Confidence)
	})

	t.Run("Same-position inserts concatenate earlier first", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(4, "second", nil), "alice", 8)
		b := conflictOp(models.NewInsert(4, "first", nil), "bob", 3)

		res := svc.Resolve("ses_1", a, b, models.StrategyMerge, nil)

		assert.Equal(t, "firstsecond", res.Resolved.Content)
		assert.Equal(t, 0.9, res.Confidence)
	})

	t.Run("Overlapping deletes span the union", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewDelete(1, 3), "alice", 1)
		a.DeletedContent = "bcd"
		b := conflictOp(models.NewDelete(2, 3), "bob", 2)
		b.DeletedContent = "cde"

		res := svc.Resolve("ses_1", a, b, models.StrategyMerge, nil)

		assert.Equal(t, 1, res.Resolved.Position)
		assert.Equal(t, 4, res.Resolved.Length)
		assert.Equal(t, "bcdcde", res.Resolved.DeletedContent)
	})

	t.Run("Mixed types defer to timestamp priority", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "text", nil), "alice", 5)
		b := conflictOp(models.NewDelete(0, 2), "bob", 1)

		res := svc.Resolve("ses_1", a, b, models.StrategyMerge, nil)

		assert.Equal(t, models.StrategyMerge, res.Strategy)
		assert.Equal(t, models.OpDelete, res.Resolved.Type)
	})
}

func TestStrategySelection(t *testing.T) {
	svc := NewConflictResolutionService(ServiceConfig{})

	t.Run("Format pair selects merge", func(t *testing.T) {
		a := conflictOp(models.NewFormat(0, 2, models.Attributes{models.AttrBold: true}), "alice", 1)
		b := conflictOp(models.NewFormat(1, 2, models.Attributes{models.AttrItalic: true}), "bob", 2)
		assert.Equal(t, models.StrategyMerge, svc.SelectStrategy(a, b))
	})

	t.Run("Position conflict selects timestamp priority", func(t *testing.T) {
		a := conflictOp(models.NewInsert(0, "A", nil), "alice", 1)
		a.AddConflict(models.ConflictPosition, "op_other")
		b := conflictOp(models.NewInsert(0, "B", nil), "bob", 2)
		assert.Equal(t, models.StrategyTimestampPriority, svc.SelectStrategy(a, b))
	})

	t.Run("Content conflict on code escalates to interactive", func(t *testing.T) {
		a := conflictOp(models.NewInsert(0, "function foo() {}", nil), "alice", 1)
		a.AddConflict(models.ConflictContent, "op_other")
		b := conflictOp(models.NewInsert(0, "B", nil), "bob", 2)
		assert.Equal(t, models.StrategyInteractive, svc.SelectStrategy(a, b))
	})

	t.Run("Concurrent clocks select user priority", func(t *testing.T) {
		a := conflictOp(models.NewInsert(0, "plain", nil), "alice", 1)
		b := conflictOp(models.NewInsert(5, "words", nil), "bob", 2)
		assert.Equal(t, models.StrategyUserPriority, svc.SelectStrategy(a, b))
	})
}

func TestContentAware(t *testing.T) {
	t.Run("Structural code change escalates", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "class Foo", nil), "alice", 1)
		b := conflictOp(models.NewInsert(0, "import bar", nil), "bob", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyContentAware, nil)

		assert.Equal(t, models.StrategyContentAware, res.Strategy)
		assert.True(t, res.RequiresReview)
	})

	t.Run("Plain text merges", func(t *testing.T) {
		svc := NewConflictResolutionService(ServiceConfig{})
		a := conflictOp(models.NewInsert(0, "plain", nil), "alice", 1)
		b := conflictOp(models.NewInsert(0, "words", nil), "bob", 2)

		res := svc.Resolve("ses_1", a, b, models.StrategyContentAware, nil)

		assert.Equal(t, "plainwords", res.Resolved.Content)
		assert.False(t, res.RequiresReview)
	})
}

func TestResolutionStats(t *testing.T) {
	svc := NewConflictResolutionService(ServiceConfig{})
	a := conflictOp(models.NewInsert(0, "A", nil), "alice", 1)
	b := conflictOp(models.NewInsert(0, "B", nil), "bob", 2)

	svc.Resolve("ses_1", a, b, models.StrategyClientWins, nil)
	svc.Resolve("ses_1", a, b, models.StrategyInteractive, nil)
	svc.Resolve("ses_other", a, b, models.StrategyClientWins, nil)

	stats := svc.Stats("ses_1")
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStrategy[models.StrategyClientWins])
	assert.Equal(t, 1, stats.InteractiveCount)
	assert.InDelta(t, 0.4, stats.AverageConfidence, 0.0001)

	svc.ClearSession("ses_1")
	assert.Zero(t, svc.Stats("ses_1").Total)
}
