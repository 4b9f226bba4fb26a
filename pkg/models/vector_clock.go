package models

// ClockOrdering is the result of comparing two vector clocks.
type ClockOrdering int

const (
	// ClockEqual means both clocks have identical coordinates
	ClockEqual ClockOrdering = iota
	// ClockBefore means the first clock causally precedes the second
	ClockBefore
	// ClockAfter means the first clock causally follows the second
	ClockAfter
	// ClockConcurrent means neither clock precedes the other
	ClockConcurrent
)

func (o ClockOrdering) String() string {
	switch o {
	case ClockBefore:
		return "before"
	case ClockAfter:
		return "after"
	case ClockConcurrent:
		return "concurrent"
	default:
		return "equal"
	}
}

// VectorClock maps a userID to a monotonic counter. It is used to determine
// causal precedence and concurrency between operations.
type VectorClock map[string]uint64

// NewVectorClock creates an empty vector clock
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Increment advances the counter for the given user
func (vc VectorClock) Increment(userID string) {
	vc[userID]++
}

// Merge takes the element-wise maximum of both clocks
func (vc VectorClock) Merge(other VectorClock) {
	for userID, counter := range other {
		if counter > vc[userID] {
			vc[userID] = counter
		}
	}
}

// Clone returns a deep copy of the clock
func (vc VectorClock) Clone() VectorClock {
	clone := make(VectorClock, len(vc))
	for userID, counter := range vc {
		clone[userID] = counter
	}
	return clone
}

// Compare examines every userID present in either clock. If every coordinate
// of vc is <= other and at least one is strictly less, vc is before; the
// symmetric case is after; if strictly-less and strictly-greater coordinates
// both exist the clocks are concurrent; otherwise they are equal.
func (vc VectorClock) Compare(other VectorClock) ClockOrdering {
	var less, greater bool

	for userID, counter := range vc {
		otherCounter := other[userID]
		if counter < otherCounter {
			less = true
		} else if counter > otherCounter {
			greater = true
		}
	}
	for userID, otherCounter := range other {
		if _, seen := vc[userID]; seen {
			continue
		}
		if otherCounter > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return ClockConcurrent
	case less:
		return ClockBefore
	case greater:
		return ClockAfter
	default:
		return ClockEqual
	}
}

// HappensBefore reports whether vc causally precedes other
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	return vc.Compare(other) == ClockBefore
}

// Concurrent reports whether neither clock precedes the other
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return vc.Compare(other) == ClockConcurrent
}
