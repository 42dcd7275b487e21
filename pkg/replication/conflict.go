package replication

import "fmt"

// ConflictStrategy selects how concurrent siblings of a key are resolved
type ConflictStrategy int

const (
	// StrategyLastWriteWins keeps the sibling with the latest wall-clock
	// timestamp
	StrategyLastWriteWins ConflictStrategy = iota
	// StrategyVectorClock resolves only when one sibling's clock dominates
	// every other; otherwise the conflict stays unresolved
	StrategyVectorClock
	// StrategyCustom merges siblings through an application-supplied
	// function
	StrategyCustom
)

// String returns the string representation of a ConflictStrategy
func (s ConflictStrategy) String() string {
	switch s {
	case StrategyLastWriteWins:
		return "lww"
	case StrategyVectorClock:
		return "vclock"
	case StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseConflictStrategy converts a configuration string to a strategy
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch s {
	case "lww", "last_write_wins":
		return StrategyLastWriteWins, nil
	case "vclock", "vector_clock":
		return StrategyVectorClock, nil
	case "custom":
		return StrategyCustom, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidConflictStrategy, s)
	}
}

// MergeFunc combines concurrent siblings into one value. It is supplied by
// the application when StrategyCustom is selected.
type MergeFunc func(key string, siblings []VersionedValue) (VersionedValue, error)

// Resolver reduces a key's siblings to a single value according to one
// strategy
type Resolver struct {
	strategy ConflictStrategy
	merge    MergeFunc
}

// NewResolver builds a resolver. A merge function is required for
// StrategyCustom and ignored otherwise.
func NewResolver(strategy ConflictStrategy, merge MergeFunc) (*Resolver, error) {
	if strategy == StrategyCustom && merge == nil {
		return nil, ErrNoCustomResolver
	}
	return &Resolver{strategy: strategy, merge: merge}, nil
}

// Strategy returns the configured strategy
func (r *Resolver) Strategy() ConflictStrategy {
	return r.strategy
}

// Resolve reduces siblings to one value. With a single sibling there is
// nothing to resolve. StrategyVectorClock returns a ConflictError when no
// sibling dominates all others; the siblings stay available on the error.
func (r *Resolver) Resolve(key string, siblings []VersionedValue) (VersionedValue, error) {
	switch len(siblings) {
	case 0:
		return VersionedValue{}, ErrKeyNotFound
	case 1:
		return siblings[0], nil
	}

	switch r.strategy {
	case StrategyLastWriteWins:
		return lastWrite(siblings), nil

	case StrategyVectorClock:
		if winner, ok := dominantSibling(siblings); ok {
			return winner, nil
		}
		return VersionedValue{}, &ConflictError{Key: key, Siblings: siblings}

	case StrategyCustom:
		return r.merge(key, siblings)

	default:
		return VersionedValue{}, fmt.Errorf("%w: %d", ErrInvalidConflictStrategy, r.strategy)
	}
}

// lastWrite picks the sibling with the latest timestamp, breaking ties by
// writer ID so every replica picks the same winner
func lastWrite(siblings []VersionedValue) VersionedValue {
	winner := siblings[0]
	for _, s := range siblings[1:] {
		if s.Timestamp > winner.Timestamp ||
			(s.Timestamp == winner.Timestamp && s.Writer > winner.Writer) {
			winner = s
		}
	}
	return winner
}

// dominantSibling finds a sibling whose clock descends every other
func dominantSibling(siblings []VersionedValue) (VersionedValue, bool) {
	for i, candidate := range siblings {
		dominant := true
		for j, other := range siblings {
			if i == j {
				continue
			}
			if !candidate.Version.Descends(other.Version) {
				dominant = false
				break
			}
		}
		if dominant {
			return candidate, true
		}
	}
	return VersionedValue{}, false
}
