package repository

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/pkg/models"
)

// flakyStore fails the first failures calls to LoadDocument, then
// delegates to an in-memory store.
type flakyStore struct {
	*MemoryStore
	failures int32
}

func (s *flakyStore) LoadDocument(ctx context.Context, documentID string) (*models.DocumentState, error) {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return nil, errors.New("transient storage failure")
	}
	return s.MemoryStore.LoadDocument(ctx, documentID)
}

func TestResilientStore(t *testing.T) {
	cfg := ResilientConfig{
		MaxElapsedTime:   500 * time.Millisecond,
		BreakerTimeout:   time.Second,
		FailureThreshold: 100,
	}

	t.Run("Retries past transient failures", func(t *testing.T) {
		inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
		ctx := context.Background()
		require.NoError(t, inner.SaveDocument(ctx, models.NewDocumentState("doc_1", "hello", "alice")))

		store := NewResilientStore(inner, cfg, nil)

		doc, err := store.LoadDocument(ctx, "doc_1")
		require.NoError(t, err)
		assert.Equal(t, "hello", doc.Content)
	})

	t.Run("Does not retry not-found", func(t *testing.T) {
		inner := &flakyStore{MemoryStore: NewMemoryStore()}
		store := NewResilientStore(inner, cfg, nil)

		_, err := store.LoadDocument(context.Background(), "doc_missing")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("Gives up after the elapsed budget", func(t *testing.T) {
		inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1 << 30}
		store := NewResilientStore(inner, cfg, nil)

		_, err := store.LoadDocument(context.Background(), "doc_1")
		require.Error(t, err)
	})

	t.Run("Writes pass through to the inner store", func(t *testing.T) {
		inner := NewMemoryStore()
		store := NewResilientStore(inner, cfg, nil)
		ctx := context.Background()

		require.NoError(t, store.SaveDocument(ctx, models.NewDocumentState("doc_1", "x", "alice")))
		require.NoError(t, store.AppendOperations(ctx, "doc_1", stampedOp(models.NewInsert(0, "x", nil), "alice")))

		history, err := store.LoadOperationHistory(ctx, "doc_1", 0)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}
