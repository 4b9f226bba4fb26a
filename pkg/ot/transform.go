// Package ot implements the operational transformation kernel: pairwise
// transformation of insert/delete/retain/format operations with
// deterministic tie-breaking, application to document state, inverse
// generation, and validation. Everything in this package is pure
// computation; there are no suspension points.
package ot

import (
	"github.com/docmesh/docmesh/pkg/models"
)

// Transform rebases two operations produced against the same base document
// version. Applying a then bPrime is equivalent to applying b then aPrime.
// Neither input is mutated.
func Transform(a, b *models.Operation) (aPrime, bPrime *models.Operation) {
	aWins := HigherPriority(a, b)
	aPrime = transformOne(a, b, aWins)
	bPrime = transformOne(b, a, !aWins)
	return aPrime, bPrime
}

// HigherPriority decides the deterministic tie-break between two concurrent
// operations: a causally earlier vector clock wins, then the earlier
// timestamp, then the lexicographically smaller userID, then the smaller
// operationID.
func HigherPriority(a, b *models.Operation) bool {
	switch a.Metadata.VectorClock.Compare(b.Metadata.VectorClock) {
	case models.ClockBefore:
		return true
	case models.ClockAfter:
		return false
	}
	if a.Metadata.Timestamp != b.Metadata.Timestamp {
		return a.Metadata.Timestamp < b.Metadata.Timestamp
	}
	if a.Metadata.UserID != b.Metadata.UserID {
		return a.Metadata.UserID < b.Metadata.UserID
	}
	return a.Metadata.OperationID < b.Metadata.OperationID
}

// transformOne rebases x against a single concurrent operation. xWins
// reports whether x holds tie-break priority over the other operation.
func transformOne(x, against *models.Operation, xWins bool) *models.Operation {
	prime := x.Clone()
	if x.NoOp || against.NoOp {
		return prime
	}

	switch x.Type {
	case models.OpInsert:
		transformInsert(prime, against, xWins)
	case models.OpDelete:
		transformDelete(prime, against)
	case models.OpRetain, models.OpFormat:
		transformRange(prime, against, xWins)
	}
	return prime
}

func transformInsert(prime, against *models.Operation, primeWins bool) {
	switch against.Type {
	case models.OpInsert:
		switch {
		case against.Position < prime.Position:
			prime.Position += against.ContentLength()
		case against.Position > prime.Position:
			// unchanged
		case !primeWins:
			// Same position: the loser is advanced past the winner's content.
			prime.Position += against.ContentLength()
			prime.AddConflict(models.ConflictPosition, against.Metadata.OperationID)
		default:
			prime.AddConflict(models.ConflictPosition, against.Metadata.OperationID)
		}

	case models.OpDelete:
		start, end := against.Position, against.End()
		switch {
		case prime.Position <= start:
			// insert lands before the deleted range
		case prime.Position >= end:
			prime.Position -= against.Length
		default:
			// Insert falls inside the deleted range: snap to the delete's
			// start and keep the inserted content (the delete does not
			// absorb it). The resolver sees the annotation.
			prime.Position = start
			prime.AddConflict(models.ConflictDeletion, against.Metadata.OperationID)
		}

	case models.OpRetain, models.OpFormat:
		// formats never move content
	}
}

func transformDelete(prime, against *models.Operation) {
	switch against.Type {
	case models.OpInsert:
		start, end := prime.Position, prime.End()
		switch {
		case against.Position <= start:
			prime.Position += against.ContentLength()
		case against.Position >= end:
			// insert past the deleted range
		default:
			// Concurrent insert inside the range being deleted. The insert
			// survives (snap policy), so the delete keeps its original span.
			prime.AddConflict(models.ConflictDeletion, against.Metadata.OperationID)
		}

	case models.OpDelete:
		p1, e1 := prime.Position, prime.End()
		p2, e2 := against.Position, against.End()
		switch {
		case e2 <= p1:
			prime.Position -= against.Length
		case e1 <= p2:
			// disjoint, prime entirely before
		default:
			// Overlapping deletes: the surviving delete spans the union minus
			// what the other operation already removed.
			union := max(e1, e2) - min(p1, p2)
			remaining := union - against.Length
			prime.Position = min(p1, p2)
			if remaining <= 0 {
				prime.Length = 0
				prime.NoOp = true
			} else {
				prime.Length = remaining
			}
			prime.AddConflict(models.ConflictDeletion, against.Metadata.OperationID)
		}

	case models.OpRetain, models.OpFormat:
		// formats never move content
	}
}

// transformRange rebases a retain/format range over a concurrent operation.
func transformRange(prime, against *models.Operation, primeWins bool) {
	switch against.Type {
	case models.OpInsert:
		start, end := prime.Position, prime.End()
		switch {
		case against.Position <= start:
			prime.Position += against.ContentLength()
		case against.Position < end:
			// insert lands inside the range, which grows to cover it
			prime.Length += against.ContentLength()
		}

	case models.OpDelete:
		newStart := mapPositionAfterDelete(prime.Position, against)
		newEnd := mapPositionAfterDelete(prime.End(), against)
		prime.Position = newStart
		prime.Length = newEnd - newStart
		if prime.Length <= 0 {
			prime.Length = 0
			prime.NoOp = true
		}

	case models.OpRetain, models.OpFormat:
		if prime.Type == models.OpFormat && against.Type == models.OpFormat && rangesOverlap(prime, against) {
			// Overlapping concurrent formats carry merged attributes: boolean
			// attributes OR, other keys take the higher-priority value.
			if primeWins {
				prime.Attributes = models.MergeAttributes(against.Attributes, prime.Attributes)
			} else {
				prime.Attributes = models.MergeAttributes(prime.Attributes, against.Attributes)
			}
			prime.AddConflict(models.ConflictFormat, against.Metadata.OperationID)
		}
	}
}

// mapPositionAfterDelete maps a document position through a delete of
// [start, end): positions past the range shift left, positions inside the
// range collapse to its start.
func mapPositionAfterDelete(pos int, del *models.Operation) int {
	start, end := del.Position, del.End()
	switch {
	case pos <= start:
		return pos
	case pos >= end:
		return pos - del.Length
	default:
		return start
	}
}

func rangesOverlap(a, b *models.Operation) bool {
	return a.Position < b.End() && b.Position < a.End()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
