package ot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/pkg/models"
)

func testOp(op *models.Operation, userID string, ts int64) *models.Operation {
	op.Metadata = models.OperationMetadata{
		OperationID: fmt.Sprintf("op_%s_%d", userID, ts),
		UserID:      userID,
		SessionID:   "ses_test",
		Timestamp:   ts,
		VectorClock: models.VectorClock{userID: 1},
	}
	return op
}

func testDoc(content string) *models.DocumentState {
	return models.NewDocumentState("doc_test", content, "owner")
}

// applyBoth applies a then bPrime and b then aPrime and returns both
// resulting contents, for convergence checks.
func applyBoth(t *testing.T, a, b *models.Operation, doc *models.DocumentState) (string, string) {
	t.Helper()
	aPrime, bPrime := Transform(a.Clone(), b.Clone())

	left, err := Apply(a.Clone(), doc)
	require.NoError(t, err)
	left, err = Apply(bPrime, left)
	require.NoError(t, err)

	right, err := Apply(b.Clone(), doc)
	require.NoError(t, err)
	right, err = Apply(aPrime, right)
	require.NoError(t, err)

	return left.Content, right.Content
}

func TestTransformInsertInsert(t *testing.T) {
	t.Run("Earlier position is unaffected", func(t *testing.T) {
		a := testOp(models.NewInsert(0, "X", nil), "alice", 1)
		b := testOp(models.NewInsert(5, "Y", nil), "bob", 1)

		aPrime, bPrime := Transform(a, b)

		assert.Equal(t, 0, aPrime.Position)
		assert.Equal(t, 6, bPrime.Position)
	})

	t.Run("Same position tie-breaks by userId ascending", func(t *testing.T) {
		a := testOp(models.NewInsert(0, "A", nil), "alice", 1)
		b := testOp(models.NewInsert(0, "B", nil), "bob", 1)

		aPrime, bPrime := Transform(a, b)

		assert.Equal(t, 0, aPrime.Position)
		assert.Equal(t, 1, bPrime.Position)
		assert.NotEmpty(t, bPrime.Conflicts)
	})

	t.Run("Converges for disjoint positions", func(t *testing.T) {
		doc := testDoc("hello world")
		a := testOp(models.NewInsert(0, "X", nil), "alice", 1)
		b := testOp(models.NewInsert(11, "Y", nil), "bob", 1)

		left, right := applyBoth(t, a, b, doc)
		assert.Equal(t, "Xhello worldY", left)
		assert.Equal(t, left, right)
	})

	t.Run("Converges for same position", func(t *testing.T) {
		doc := testDoc("")
		a := testOp(models.NewInsert(0, "A", nil), "alice", 1)
		b := testOp(models.NewInsert(0, "B", nil), "bob", 1)

		left, right := applyBoth(t, a, b, doc)
		assert.Equal(t, "AB", left)
		assert.Equal(t, left, right)
	})
}

func TestTransformInsertDelete(t *testing.T) {
	t.Run("Insert before delete shifts the delete", func(t *testing.T) {
		ins := testOp(models.NewInsert(0, "XY", nil), "alice", 1)
		del := testOp(models.NewDelete(3, 2), "bob", 1)

		insPrime, delPrime := Transform(ins, del)

		assert.Equal(t, 0, insPrime.Position)
		assert.Equal(t, 5, delPrime.Position)
	})

	t.Run("Insert after delete shifts left", func(t *testing.T) {
		ins := testOp(models.NewInsert(6, "X", nil), "alice", 1)
		del := testOp(models.NewDelete(1, 3), "bob", 1)

		insPrime, delPrime := Transform(ins, del)

		assert.Equal(t, 3, insPrime.Position)
		assert.Equal(t, 1, delPrime.Position)
		assert.Equal(t, 3, delPrime.Length)
	})

	t.Run("Insert inside delete snaps to the delete start", func(t *testing.T) {
		ins := testOp(models.NewInsert(3, "X", nil), "bob", 2)
		del := testOp(models.NewDelete(1, 3), "alice", 1)

		insPrime, _ := Transform(ins, del)

		assert.Equal(t, 1, insPrime.Position)
		require.Len(t, insPrime.Conflicts, 1)
		assert.Equal(t, models.ConflictDeletion, insPrime.Conflicts[0].Kind)
	})

	t.Run("Delete applied first then snapped insert keeps the content", func(t *testing.T) {
		// "abcdef": alice deletes [1,4) removing "bcd", bob inserts "X" at 3.
		doc := testDoc("abcdef")
		del := testOp(models.NewDelete(1, 3), "alice", 1)
		ins := testOp(models.NewInsert(3, "X", nil), "bob", 2)

		_, insPrime := Transform(del, ins)

		after, err := Apply(del, doc)
		require.NoError(t, err)
		assert.Equal(t, "aef", after.Content)

		final, err := Apply(insPrime, after)
		require.NoError(t, err)
		assert.Equal(t, "aXef", final.Content)
		assert.Equal(t, int64(3), final.Version)
	})
}

func TestTransformDeleteDelete(t *testing.T) {
	t.Run("Disjoint delete after shifts left", func(t *testing.T) {
		a := testOp(models.NewDelete(5, 2), "alice", 1)
		b := testOp(models.NewDelete(0, 2), "bob", 1)

		aPrime, bPrime := Transform(a, b)

		assert.Equal(t, 3, aPrime.Position)
		assert.Equal(t, 0, bPrime.Position)
	})

	t.Run("Overlapping deletes span the union", func(t *testing.T) {
		doc := testDoc("abcdef")
		a := testOp(models.NewDelete(1, 3), "alice", 1) // removes bcd
		b := testOp(models.NewDelete(2, 3), "bob", 1)   // removes cde

		left, right := applyBoth(t, a, b, doc)
		assert.Equal(t, "af", left)
		assert.Equal(t, left, right)
	})

	t.Run("Identical deletes collapse the second to a no-op", func(t *testing.T) {
		a := testOp(models.NewDelete(1, 3), "alice", 1)
		b := testOp(models.NewDelete(1, 3), "bob", 1)

		aPrime, bPrime := Transform(a, b)

		assert.True(t, aPrime.NoOp)
		assert.True(t, bPrime.NoOp)
	})

	t.Run("Contained delete collapses", func(t *testing.T) {
		doc := testDoc("abcdef")
		a := testOp(models.NewDelete(1, 4), "alice", 1) // removes bcde
		b := testOp(models.NewDelete(2, 1), "bob", 1)   // removes c

		left, right := applyBoth(t, a, b, doc)
		assert.Equal(t, "af", left)
		assert.Equal(t, left, right)
	})
}

func TestTransformFormat(t *testing.T) {
	t.Run("Overlapping formats merge attributes", func(t *testing.T) {
		a := testOp(models.NewFormat(0, 5, models.Attributes{models.AttrBold: true}), "alice", 1)
		b := testOp(models.NewFormat(2, 3, models.Attributes{models.AttrItalic: true}), "bob", 2)

		aPrime, bPrime := Transform(a, b)

		assert.Equal(t, true, aPrime.Attributes[models.AttrBold])
		assert.Equal(t, true, aPrime.Attributes[models.AttrItalic])
		assert.Equal(t, true, bPrime.Attributes[models.AttrBold])
		assert.Equal(t, true, bPrime.Attributes[models.AttrItalic])
		assert.NotEmpty(t, aPrime.Conflicts)
	})

	t.Run("Disjoint formats are untouched", func(t *testing.T) {
		a := testOp(models.NewFormat(0, 2, models.Attributes{models.AttrBold: true}), "alice", 1)
		b := testOp(models.NewFormat(3, 2, models.Attributes{models.AttrItalic: true}), "bob", 1)

		aPrime, bPrime := Transform(a, b)

		assert.Nil(t, aPrime.Attributes[models.AttrItalic])
		assert.Nil(t, bPrime.Attributes[models.AttrBold])
	})

	t.Run("Format grows over an insert inside its range", func(t *testing.T) {
		format := testOp(models.NewFormat(0, 5, models.Attributes{models.AttrBold: true}), "alice", 1)
		ins := testOp(models.NewInsert(2, "XY", nil), "bob", 1)

		formatPrime, insPrime := Transform(format, ins)

		assert.Equal(t, 0, formatPrime.Position)
		assert.Equal(t, 7, formatPrime.Length)
		assert.Equal(t, 2, insPrime.Position)
	})

	t.Run("Format shrinks over a covering delete", func(t *testing.T) {
		format := testOp(models.NewFormat(2, 4, models.Attributes{models.AttrBold: true}), "alice", 1)
		del := testOp(models.NewDelete(0, 3), "bob", 1)

		formatPrime, _ := Transform(format, del)

		assert.Equal(t, 0, formatPrime.Position)
		assert.Equal(t, 3, formatPrime.Length)
	})

	t.Run("Format fully deleted becomes a no-op", func(t *testing.T) {
		format := testOp(models.NewFormat(2, 2, models.Attributes{models.AttrBold: true}), "alice", 1)
		del := testOp(models.NewDelete(0, 6), "bob", 1)

		formatPrime, _ := Transform(format, del)

		assert.True(t, formatPrime.NoOp)
	})

	t.Run("Retain shifts like format but never merges attributes", func(t *testing.T) {
		retain := testOp(models.NewRetain(3, 2, nil), "alice", 1)
		ins := testOp(models.NewInsert(0, "XY", nil), "bob", 1)

		retainPrime, _ := Transform(retain, ins)

		assert.Equal(t, 5, retainPrime.Position)
		assert.Empty(t, retainPrime.Conflicts)
	})
}

// Convergence (TP1): apply(a, S) + b' must equal apply(b, S) + a' for
// concurrent pairs built against the same base state.
func TestTransformConvergence(t *testing.T) {
	base := "the quick brown fox"

	pairs := []struct {
		name string
		a, b *models.Operation
	}{
		{"inserts at distinct positions", models.NewInsert(4, "very ", nil), models.NewInsert(10, "dark ", nil)},
		{"inserts at the same position", models.NewInsert(4, "AA", nil), models.NewInsert(4, "BB", nil)},
		{"insert before delete", models.NewInsert(0, "X", nil), models.NewDelete(10, 5)},
		{"insert after delete", models.NewInsert(16, "X", nil), models.NewDelete(0, 3)},
		{"insert at delete boundary", models.NewInsert(4, "X", nil), models.NewDelete(4, 5)},
		{"disjoint deletes", models.NewDelete(0, 3), models.NewDelete(10, 5)},
		{"overlapping deletes", models.NewDelete(2, 6), models.NewDelete(4, 8)},
		{"identical deletes", models.NewDelete(4, 5), models.NewDelete(4, 5)},
		{"contained delete", models.NewDelete(2, 10), models.NewDelete(4, 3)},
		{"delete and disjoint format", models.NewDelete(0, 3), models.NewFormat(10, 5, models.Attributes{models.AttrBold: true})},
		{"overlapping formats", models.NewFormat(0, 10, models.Attributes{models.AttrBold: true}), models.NewFormat(5, 10, models.Attributes{models.AttrItalic: true})},
		{"retain and insert", models.NewRetain(5, 5, nil), models.NewInsert(2, "XY", nil)},
	}

	for _, pair := range pairs {
		t.Run(pair.name, func(t *testing.T) {
			doc := testDoc(base)
			a := testOp(pair.a.Clone(), "alice", 1)
			b := testOp(pair.b.Clone(), "bob", 1)

			left, right := applyBoth(t, a, b, doc)
			assert.Equal(t, left, right, "replicas diverged for %s", pair.name)
		})
	}
}

func TestTransformAgainst(t *testing.T) {
	t.Run("Folds over a list in order", func(t *testing.T) {
		kernel := NewKernel()
		op := testOp(models.NewInsert(5, "X", nil), "carol", 3)
		others := []*models.Operation{
			testOp(models.NewInsert(0, "AA", nil), "alice", 1),
			testOp(models.NewDelete(0, 1), "bob", 2),
		}

		transformed := kernel.TransformAgainst(op, others)

		// +2 for the insert at 0, -1 for the delete at 0.
		assert.Equal(t, 6, transformed.Position)
	})
}

func TestKernelCache(t *testing.T) {
	t.Run("Caches transform results by operation id pair", func(t *testing.T) {
		kernel := NewKernel()
		a := testOp(models.NewInsert(0, "A", nil), "alice", 1)
		b := testOp(models.NewInsert(0, "B", nil), "bob", 1)

		a1, b1 := kernel.Transform(a, b)
		a2, b2 := kernel.Transform(a, b)

		assert.Equal(t, a1.Position, a2.Position)
		assert.Equal(t, b1.Position, b2.Position)
	})
}

func TestHigherPriority(t *testing.T) {
	t.Run("Causally earlier clock wins", func(t *testing.T) {
		a := testOp(models.NewInsert(0, "A", nil), "zed", 9)
		b := testOp(models.NewInsert(0, "B", nil), "alice", 1)
		a.Metadata.VectorClock = models.VectorClock{"zed": 1}
		b.Metadata.VectorClock = models.VectorClock{"zed": 2, "alice": 1}

		assert.True(t, HigherPriority(a, b))
		assert.False(t, HigherPriority(b, a))
	})

	t.Run("Earlier timestamp wins for concurrent clocks", func(t *testing.T) {
		a := testOp(models.NewInsert(0, "A", nil), "zed", 1)
		b := testOp(models.NewInsert(0, "B", nil), "alice", 2)

		assert.True(t, HigherPriority(a, b))
	})

	t.Run("Lower userId wins for equal timestamps", func(t *testing.T) {
		a := testOp(models.NewInsert(0, "A", nil), "alice", 1)
		b := testOp(models.NewInsert(0, "B", nil), "bob", 1)

		assert.True(t, HigherPriority(a, b))
		assert.False(t, HigherPriority(b, a))
	})
}
