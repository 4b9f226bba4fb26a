package ot

import (
	"encoding/json"
	"fmt"

	"github.com/docmesh/docmesh/pkg/models"
)

// Structural limits enforced by Validate
const (
	// MaxContentLength is the hard cap on insert content, in characters
	MaxContentLength = 50000
	// MaxOperationSize is the hard cap on the serialized operation, in bytes
	MaxOperationSize = 10000
	// LargeContentWarning triggers a warning, not a rejection
	LargeContentWarning = 1000
)

// ValidationResult reports structural problems with an operation. Errors
// reject the operation; warnings do not.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks an operation's structure before it may enter a session
func Validate(op *models.Operation) ValidationResult {
	result := ValidationResult{Valid: true}

	if op == nil {
		result.addError("operation is nil")
		return result
	}

	switch op.Type {
	case models.OpInsert, models.OpDelete, models.OpRetain, models.OpFormat:
	default:
		result.addError("unknown operation type: %q", op.Type)
	}

	if op.Position < 0 {
		result.addError("position must be non-negative, got %d", op.Position)
	}

	switch op.Type {
	case models.OpInsert:
		if op.Content == "" {
			result.addError("insert requires content")
		}
		if n := op.ContentLength(); n > MaxContentLength {
			result.addError("content length %d exceeds maximum %d", n, MaxContentLength)
		} else if n > LargeContentWarning {
			result.addWarning("large insert of %d characters", n)
		}
	case models.OpDelete:
		if op.Length <= 0 {
			result.addError("delete length must be positive, got %d", op.Length)
		}
	case models.OpRetain, models.OpFormat:
		if op.Length <= 0 {
			result.addError("%s length must be positive, got %d", op.Type, op.Length)
		}
	}

	if op.Metadata.OperationID == "" {
		result.addError("missing operationId")
	}
	if op.Metadata.UserID == "" {
		result.addError("missing userId")
	}

	if encoded, err := json.Marshal(op); err == nil && len(encoded) > MaxOperationSize {
		result.addError("operation size %d bytes exceeds maximum %d", len(encoded), MaxOperationSize)
	}

	return result
}
