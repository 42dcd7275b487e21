// Package replication implements quorum-gated key/value replication with
// vector-clock versioning, pluggable conflict resolution and background
// anti-entropy repair. Ordering of cluster-wide operations is consensus's
// job; this package versions and reconciles the data itself.
package replication

import "maps"

// Ordering is the result of comparing two vector clocks
type Ordering int

const (
	// OrderingEqual means both clocks carry identical components
	OrderingEqual Ordering = iota
	// OrderingBefore means the left clock is causally before the right
	OrderingBefore
	// OrderingAfter means the left clock is causally after the right
	OrderingAfter
	// OrderingConcurrent means neither clock dominates the other
	OrderingConcurrent
)

// String returns the string representation of an Ordering
func (o Ordering) String() string {
	switch o {
	case OrderingEqual:
		return "equal"
	case OrderingBefore:
		return "before"
	case OrderingAfter:
		return "after"
	case OrderingConcurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// VectorClock maps node identity to a logical counter. A missing component
// reads as zero. For any two clocks exactly one of before/after/equal/
// concurrent holds.
type VectorClock map[string]uint64

// NewVectorClock returns an empty clock
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Clone returns an independent copy
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	maps.Copy(out, vc)
	return out
}

// Increment bumps the component for the given node and returns the clock
// for chaining
func (vc VectorClock) Increment(node string) VectorClock {
	vc[node]++
	return vc
}

// Compare orders this clock against other component-wise
func (vc VectorClock) Compare(other VectorClock) Ordering {
	less, greater := false, false

	for node, v := range vc {
		switch ov := other[node]; {
		case v < ov:
			less = true
		case v > ov:
			greater = true
		}
	}
	for node, ov := range other {
		if _, seen := vc[node]; !seen && ov > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return OrderingConcurrent
	case less:
		return OrderingBefore
	case greater:
		return OrderingAfter
	default:
		return OrderingEqual
	}
}

// Descends reports whether this clock is causally at or after other, i.e.
// it has seen everything other has seen
func (vc VectorClock) Descends(other VectorClock) bool {
	ord := vc.Compare(other)
	return ord == OrderingAfter || ord == OrderingEqual
}

// Concurrent reports whether neither clock dominates the other
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return vc.Compare(other) == OrderingConcurrent
}

// Merge returns the component-wise maximum of both clocks. Merge is
// commutative and idempotent; the result descends both inputs.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for node, v := range other {
		if v > out[node] {
			out[node] = v
		}
	}
	return out
}
