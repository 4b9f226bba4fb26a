package ot

import (
	"github.com/pkg/errors"

	"github.com/docmesh/docmesh/pkg/models"
)

// Apply executes an operation against a document state and returns the new
// state. The input state is not mutated; the operation is, so the applier
// can capture the data needed for inverse generation (DeletedContent on
// deletes, OldAttributes on formats).
func Apply(op *models.Operation, doc *models.DocumentState) (*models.DocumentState, error) {
	if op == nil {
		return nil, errors.New("nil operation")
	}
	if doc == nil {
		return nil, errors.New("nil document state")
	}

	next := doc.Clone()

	if !op.NoOp {
		content := []rune(next.Content)

		switch op.Type {
		case models.OpInsert:
			pos := clamp(op.Position, 0, len(content))
			inserted := []rune(op.Content)
			content = append(content[:pos:pos], append(inserted, content[pos:]...)...)
			next.Content = string(content)
			shiftFormattingRight(next.Formatting, pos, len(inserted))
			if op.Attributes != nil {
				for i := pos; i < pos+len(inserted); i++ {
					next.Formatting[i] = op.Attributes.Clone()
				}
			}

		case models.OpDelete:
			start := clamp(op.Position, 0, len(content))
			end := clamp(op.Position+op.Length, start, len(content))
			op.DeletedContent = string(content[start:end])
			content = append(content[:start:start], content[end:]...)
			next.Content = string(content)
			removeFormattingRange(next.Formatting, start, end)

		case models.OpFormat:
			if op.Attributes == nil && op.OldAttributes != nil {
				// Restore mode: an inverse format puts the captured prior
				// attributes back verbatim.
				for pos, attrs := range op.OldAttributes {
					if attrs == nil {
						delete(next.Formatting, pos)
					} else {
						next.Formatting[pos] = attrs.Clone()
					}
				}
				break
			}
			start := clamp(op.Position, 0, len(content))
			end := clamp(op.Position+op.Length, start, len(content))
			op.OldAttributes = make(map[int]models.Attributes, end-start)
			for i := start; i < end; i++ {
				if prev, ok := next.Formatting[i]; ok {
					op.OldAttributes[i] = prev.Clone()
				} else {
					op.OldAttributes[i] = nil
				}
				next.Formatting[i] = models.MergeAttributes(next.Formatting[i], op.Attributes)
			}

		case models.OpRetain:
			if op.Attributes != nil {
				start := clamp(op.Position, 0, len(content))
				end := clamp(op.Position+op.Length, start, len(content))
				for i := start; i < end; i++ {
					next.Formatting[i] = models.MergeAttributes(next.Formatting[i], op.Attributes)
				}
			}

		default:
			return nil, errors.Errorf("unknown operation type: %s", op.Type)
		}
	}

	next.Version++
	next.Checksum = models.Checksum(next.Content)
	next.LastModified = models.NowMillis()
	return next, nil
}

// shiftFormattingRight moves every formatting entry at or past pos right by
// delta characters.
func shiftFormattingRight(formatting map[int]models.Attributes, pos, delta int) {
	if delta == 0 || len(formatting) == 0 {
		return
	}
	shifted := make(map[int]models.Attributes, len(formatting))
	for p, attrs := range formatting {
		if p >= pos {
			shifted[p+delta] = attrs
		} else {
			shifted[p] = attrs
		}
	}
	replaceMap(formatting, shifted)
}

// removeFormattingRange drops entries inside [start, end) and shifts entries
// past the range left by its length.
func removeFormattingRange(formatting map[int]models.Attributes, start, end int) {
	if end <= start || len(formatting) == 0 {
		return
	}
	length := end - start
	shifted := make(map[int]models.Attributes, len(formatting))
	for p, attrs := range formatting {
		switch {
		case p < start:
			shifted[p] = attrs
		case p >= end:
			shifted[p-length] = attrs
		}
	}
	replaceMap(formatting, shifted)
}

func replaceMap(dst, src map[int]models.Attributes) {
	for p := range dst {
		delete(dst, p)
	}
	for p, attrs := range src {
		dst[p] = attrs
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
