package repository

import (
	"context"
	"sync"

	"github.com/docmesh/docmesh/pkg/models"
)

// MemoryStore is an in-process DocumentStore used for tests and
// single-node deployments without Redis.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*models.DocumentState
	ops  map[string][]*models.Operation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*models.DocumentState),
		ops:  make(map[string][]*models.Operation),
	}
}

func (s *MemoryStore) LoadDocument(ctx context.Context, documentID string) (*models.DocumentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) SaveDocument(ctx context.Context, doc *models.DocumentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryStore) AppendOperations(ctx context.Context, documentID string, ops ...*models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		s.ops[documentID] = append(s.ops[documentID], op.Clone())
	}
	return nil
}

func (s *MemoryStore) LoadOperationHistory(ctx context.Context, documentID string, limit int) ([]*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.ops[documentID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]*models.Operation, len(log))
	for i, op := range log {
		out[i] = op.Clone()
	}
	return out, nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, documentID)
	delete(s.ops, documentID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
