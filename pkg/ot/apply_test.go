package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/pkg/models"
)

func TestApplyInsert(t *testing.T) {
	t.Run("Splices content at the position", func(t *testing.T) {
		doc := testDoc("hello world")
		op := testOp(models.NewInsert(5, ",", nil), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, "hello, world", next.Content)
		assert.Equal(t, int64(2), next.Version)
		assert.Equal(t, models.Checksum("hello, world"), next.Checksum)
	})

	t.Run("Does not mutate the input state", func(t *testing.T) {
		doc := testDoc("abc")
		op := testOp(models.NewInsert(0, "X", nil), "alice", 1)

		_, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, "abc", doc.Content)
		assert.Equal(t, int64(1), doc.Version)
	})

	t.Run("Clamps out-of-range positions to the boundaries", func(t *testing.T) {
		doc := testDoc("abc")
		op := testOp(models.NewInsert(99, "X", nil), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)
		assert.Equal(t, "abcX", next.Content)
	})

	t.Run("Counts positions in characters not bytes", func(t *testing.T) {
		doc := testDoc("héllo")
		op := testOp(models.NewInsert(2, "X", nil), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)
		assert.Equal(t, "héXllo", next.Content)
	})

	t.Run("Shifts formatting entries past the insertion point", func(t *testing.T) {
		doc := testDoc("abcdef")
		doc.Formatting[4] = models.Attributes{models.AttrBold: true}
		op := testOp(models.NewInsert(2, "XY", nil), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Nil(t, next.Formatting[4])
		assert.Equal(t, true, next.Formatting[6][models.AttrBold])
	})

	t.Run("Applies insert attributes to the new characters", func(t *testing.T) {
		doc := testDoc("ab")
		op := testOp(models.NewInsert(1, "XY", models.Attributes{models.AttrItalic: true}), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, true, next.Formatting[1][models.AttrItalic])
		assert.Equal(t, true, next.Formatting[2][models.AttrItalic])
	})
}

func TestApplyDelete(t *testing.T) {
	t.Run("Removes the range and captures deleted content", func(t *testing.T) {
		doc := testDoc("abcdef")
		op := testOp(models.NewDelete(1, 3), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, "aef", next.Content)
		assert.Equal(t, "bcd", op.DeletedContent)
	})

	t.Run("Truncates a range overrunning the end", func(t *testing.T) {
		doc := testDoc("abc")
		op := testOp(models.NewDelete(2, 10), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, "ab", next.Content)
		assert.Equal(t, "c", op.DeletedContent)
	})

	t.Run("Drops formatting inside the range and shifts the rest", func(t *testing.T) {
		doc := testDoc("abcdef")
		doc.Formatting[2] = models.Attributes{models.AttrBold: true}
		doc.Formatting[5] = models.Attributes{models.AttrItalic: true}
		op := testOp(models.NewDelete(1, 3), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, true, next.Formatting[2][models.AttrItalic])
		assert.Len(t, next.Formatting, 1)
	})
}

func TestApplyFormat(t *testing.T) {
	t.Run("Merges attributes over the range and captures the prior ones", func(t *testing.T) {
		doc := testDoc("abcd")
		doc.Formatting[1] = models.Attributes{models.AttrItalic: true}
		op := testOp(models.NewFormat(0, 3, models.Attributes{models.AttrBold: true}), "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, true, next.Formatting[0][models.AttrBold])
		assert.Equal(t, true, next.Formatting[1][models.AttrBold])
		assert.Equal(t, true, next.Formatting[1][models.AttrItalic])
		assert.Nil(t, next.Formatting[3])

		require.Contains(t, op.OldAttributes, 0)
		assert.Nil(t, op.OldAttributes[0])
		assert.Equal(t, true, op.OldAttributes[1][models.AttrItalic])
	})

	t.Run("Restore mode puts captured attributes back verbatim", func(t *testing.T) {
		doc := testDoc("abcd")
		doc.Formatting[0] = models.Attributes{models.AttrBold: true}

		restore := models.NewFormat(0, 2, nil)
		restore.OldAttributes = map[int]models.Attributes{
			0: nil,
			1: {models.AttrItalic: true},
		}
		op := testOp(restore, "alice", 1)

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Nil(t, next.Formatting[0])
		assert.Equal(t, true, next.Formatting[1][models.AttrItalic])
	})
}

func TestApplyNoOp(t *testing.T) {
	t.Run("Advances version without touching content", func(t *testing.T) {
		doc := testDoc("abc")
		op := testOp(models.NewDelete(0, 1), "alice", 1)
		op.NoOp = true

		next, err := Apply(op, doc)
		require.NoError(t, err)

		assert.Equal(t, "abc", next.Content)
		assert.Equal(t, int64(2), next.Version)
	})
}
