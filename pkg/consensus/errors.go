package consensus

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrInvalidNodeID          = errors.New("node ID cannot be empty")
	ErrInvalidElectionWindow  = errors.New("election timeout max must be greater than min")
	ErrElectionTimeoutTooSmall = errors.New("election timeout must be greater than heartbeat interval")
	ErrInvalidLeaderLease     = errors.New("leader lease must be positive")
)

// Log errors
var (
	ErrCompactedIndex = errors.New("index precedes the start of the log")
	ErrTruncateCommitted = errors.New("cannot truncate below the commit index")
	ErrLogFull           = errors.New("log has reached its configured entry limit")
)

// NotLeaderError is returned by Propose on a node that does not currently
// believe itself leader. Leader carries the last known leader's ID when the
// lease is still valid, so callers can redirect.
type NotLeaderError struct {
	Leader string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == "" {
		return "not leader (no known leader)"
	}
	return fmt.Sprintf("not leader (current leader: %s)", e.Leader)
}

// IsNotLeader reports whether err is a NotLeaderError
func IsNotLeader(err error) bool {
	var nl *NotLeaderError
	return errors.As(err, &nl)
}
