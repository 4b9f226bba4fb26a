package ot

import (
	"github.com/pkg/errors"

	"github.com/docmesh/docmesh/pkg/models"
)

// ErrNonInvertible is returned when an operation lacks the captured data
// needed to construct its inverse (e.g. a delete whose DeletedContent was
// never populated by the applier).
var ErrNonInvertible = errors.New("operation is not invertible")

// Inverse returns an operation that, applied to the post-state of op,
// restores the pre-state. The returned operation carries no metadata; the
// caller stamps fresh identity before it flows through application.
func Inverse(op *models.Operation, preState *models.DocumentState) (*models.Operation, error) {
	if op == nil {
		return nil, errors.Wrap(ErrNonInvertible, "nil operation")
	}

	switch op.Type {
	case models.OpInsert:
		return models.NewDelete(op.Position, op.ContentLength()), nil

	case models.OpDelete:
		if op.Length > 0 && op.DeletedContent == "" {
			return nil, errors.Wrap(ErrNonInvertible, "delete without captured content")
		}
		return models.NewInsert(op.Position, op.DeletedContent, nil), nil

	case models.OpFormat:
		if op.OldAttributes == nil {
			return nil, errors.Wrap(ErrNonInvertible, "format without captured attributes")
		}
		inverse := models.NewFormat(op.Position, op.Length, nil)
		inverse.OldAttributes = make(map[int]models.Attributes, len(op.OldAttributes))
		for pos, attrs := range op.OldAttributes {
			inverse.OldAttributes[pos] = attrs.Clone()
		}
		return inverse, nil

	case models.OpRetain:
		// Retains never change content; their inverse is a no-op retain.
		return models.NewRetain(op.Position, op.Length, nil), nil

	default:
		return nil, errors.Wrapf(ErrNonInvertible, "unknown operation type %s", op.Type)
	}
}
