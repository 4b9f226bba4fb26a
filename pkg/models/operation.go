package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// OperationType discriminates the four operation cases
type OperationType string

// Operation types
const (
	OpInsert OperationType = "insert"
	OpDelete OperationType = "delete"
	OpRetain OperationType = "retain"
	OpFormat OperationType = "format"
)

// Conflict annotation kinds attached by the transform kernel
const (
	ConflictDeletion = "deletion_conflict"
	ConflictPosition = "position_conflict"
	ConflictFormat   = "format_conflict"
	ConflictContent  = "content_conflict"
)

// ConflictAnnotation marks a semantic collision discovered during transform.
// The conflict resolver inspects these to pick a resolution strategy.
type ConflictAnnotation struct {
	Kind        string `json:"kind"`
	OperationID string `json:"operationId"`
}

// OperationMetadata carries identity and causality for an operation
type OperationMetadata struct {
	OperationID       string      `json:"operationId"`
	UserID            string      `json:"userId"`
	SessionID         string      `json:"sessionId"`
	Timestamp         int64       `json:"timestamp"` // ms since epoch
	VectorClock       VectorClock `json:"vectorClock"`
	DocumentVersion   int64       `json:"documentVersion"`
	ParentOperationID string      `json:"parentOperationId,omitempty"`
}

// Operation is a tagged variant over insert/delete/retain/format. Positions
// and lengths are measured in characters (runes), not bytes.
type Operation struct {
	Type     OperationType `json:"type"`
	Position int           `json:"position"`

	// Insert
	Content string `json:"content,omitempty"`

	// Delete / Retain / Format
	Length int `json:"length,omitempty"`

	// Populated by the applier on Delete, for inverse generation
	DeletedContent string `json:"deletedContent,omitempty"`

	// Insert / Retain / Format
	Attributes Attributes `json:"attributes,omitempty"`

	// Populated by the applier on Format: prior attributes per position
	OldAttributes map[int]Attributes `json:"oldAttributes,omitempty"`

	Metadata OperationMetadata `json:"metadata"`

	// Transform annotations
	Conflicts []ConflictAnnotation `json:"conflicts,omitempty"`
	// NoOp marks an operation whose effect collapsed during transform
	// (e.g. a delete fully absorbed by a concurrent delete).
	NoOp bool `json:"noOp,omitempty"`
}

// ContentLength returns the insert content length in characters
func (op *Operation) ContentLength() int {
	return utf8.RuneCountInString(op.Content)
}

// End returns the exclusive end of the affected range
func (op *Operation) End() int {
	if op.Type == OpInsert {
		return op.Position + op.ContentLength()
	}
	return op.Position + op.Length
}

// Clone returns a deep copy of the operation
func (op *Operation) Clone() *Operation {
	clone := *op
	clone.Attributes = op.Attributes.Clone()
	clone.Metadata.VectorClock = op.Metadata.VectorClock.Clone()
	if op.OldAttributes != nil {
		clone.OldAttributes = make(map[int]Attributes, len(op.OldAttributes))
		for pos, attrs := range op.OldAttributes {
			clone.OldAttributes[pos] = attrs.Clone()
		}
	}
	if op.Conflicts != nil {
		clone.Conflicts = append([]ConflictAnnotation(nil), op.Conflicts...)
	}
	return &clone
}

// AddConflict appends a conflict annotation
func (op *Operation) AddConflict(kind, operationID string) {
	op.Conflicts = append(op.Conflicts, ConflictAnnotation{Kind: kind, OperationID: operationID})
}

// NewOperationID returns an opaque unique operation identifier
func NewOperationID() string {
	return "op_" + uuid.New().String()
}

// NewSessionID returns an opaque unique session identifier
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NowMillis returns the current wall time in milliseconds since epoch
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewInsert builds an insert operation without metadata
func NewInsert(position int, content string, attrs Attributes) *Operation {
	return &Operation{Type: OpInsert, Position: position, Content: content, Attributes: attrs}
}

// NewDelete builds a delete operation without metadata
func NewDelete(position, length int) *Operation {
	return &Operation{Type: OpDelete, Position: position, Length: length}
}

// NewRetain builds a retain operation without metadata
func NewRetain(position, length int, attrs Attributes) *Operation {
	return &Operation{Type: OpRetain, Position: position, Length: length, Attributes: attrs}
}

// NewFormat builds a format operation without metadata
func NewFormat(position, length int, attrs Attributes) *Operation {
	return &Operation{Type: OpFormat, Position: position, Length: length, Attributes: attrs}
}
