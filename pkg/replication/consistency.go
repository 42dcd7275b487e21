package replication

import "fmt"

// ConsistencyLevel decides how many replicas must acknowledge an operation
// before it is considered successful
type ConsistencyLevel int

const (
	// ConsistencyOne needs a single acknowledgment
	ConsistencyOne ConsistencyLevel = iota
	// ConsistencyQuorum needs a majority of replicas
	ConsistencyQuorum
	// ConsistencyAll needs every replica
	ConsistencyAll
)

// String returns the string representation of a ConsistencyLevel
func (c ConsistencyLevel) String() string {
	switch c {
	case ConsistencyOne:
		return "one"
	case ConsistencyQuorum:
		return "quorum"
	case ConsistencyAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseConsistencyLevel converts a configuration string to a level
func ParseConsistencyLevel(s string) (ConsistencyLevel, error) {
	switch s {
	case "one":
		return ConsistencyOne, nil
	case "quorum":
		return ConsistencyQuorum, nil
	case "all":
		return ConsistencyAll, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidConsistencyLevel, s)
	}
}

// RequiredNodes returns how many of total replicas must acknowledge
func (c ConsistencyLevel) RequiredNodes(total int) int {
	switch c {
	case ConsistencyOne:
		return 1
	case ConsistencyAll:
		return total
	default:
		return total/2 + 1
	}
}
