// Package repository provides persistence for document state and
// operation history behind a storage-agnostic interface.
package repository

import (
	"context"

	"github.com/pkg/errors"

	"github.com/docmesh/docmesh/pkg/models"
)

// ErrDocumentNotFound is returned when no stored state exists for a
// document ID.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore persists document snapshots and their operation logs.
// Implementations must be safe for concurrent use.
type DocumentStore interface {
	// LoadDocument returns the stored state for a document, or
	// ErrDocumentNotFound.
	LoadDocument(ctx context.Context, documentID string) (*models.DocumentState, error)

	// SaveDocument stores the current state of a document, replacing any
	// previous snapshot.
	SaveDocument(ctx context.Context, doc *models.DocumentState) error

	// AppendOperations appends committed operations to the document's log
	// in order.
	AppendOperations(ctx context.Context, documentID string, ops ...*models.Operation) error

	// LoadOperationHistory returns up to limit of the most recent
	// operations for a document, oldest first. A limit of zero or less
	// returns the full log.
	LoadOperationHistory(ctx context.Context, documentID string, limit int) ([]*models.Operation, error)

	// DeleteDocument removes the document snapshot and its log.
	DeleteDocument(ctx context.Context, documentID string) error

	// Close releases any underlying resources.
	Close() error
}
