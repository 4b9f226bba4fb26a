package services

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Service errors (closed set). Callers match with errors.Is; the
// websocket controller maps each to a wire error code.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionFull      = errors.New("session is full")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidationFailed = errors.New("operation validation failed")
	ErrInvalidSnapshot  = errors.New("snapshot checksum mismatch")
	ErrSessionBusy      = errors.New("session queue overloaded")
	ErrOperationTimeout = errors.New("operation timed out")
	ErrNothingToUndo    = errors.New("nothing to undo")
	ErrNothingToRedo    = errors.New("nothing to redo")
)

// ValidationError carries the structural problems found by operation
// validation. It unwraps to ErrValidationFailed.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("operation validation failed: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError wraps validator output in a ValidationError
func NewValidationError(problems []string) *ValidationError {
	return &ValidationError{Problems: problems}
}
