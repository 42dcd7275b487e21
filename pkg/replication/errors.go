package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when reading a key that was never written
	ErrKeyNotFound = errors.New("key not found")

	// ErrChecksumMismatch is returned when a value fails checksum
	// verification on read or on delta/snapshot apply
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrInvalidConsistencyLevel is returned for an unknown level name
	ErrInvalidConsistencyLevel = errors.New("invalid consistency level")

	// ErrInvalidConflictStrategy is returned for an unknown strategy name
	ErrInvalidConflictStrategy = errors.New("invalid conflict resolution strategy")

	// ErrNoCustomResolver is returned when the custom strategy is selected
	// without a merge function
	ErrNoCustomResolver = errors.New("custom strategy requires a merge function")

	// ErrInvalidNodeID is returned when config has no node ID
	ErrInvalidNodeID = errors.New("node ID cannot be empty")

	// ErrInvalidAntiEntropyInterval is returned when the sync interval is
	// not positive
	ErrInvalidAntiEntropyInterval = errors.New("anti-entropy interval must be positive")

	// ErrInvalidSyncTimeout is returned when the sync timeout is not positive
	ErrInvalidSyncTimeout = errors.New("sync timeout must be positive")
)

// QuorumError is returned when too few replicas acknowledge an operation.
// The caller decides whether to retry, downgrade or surface it.
type QuorumError struct {
	Current  int
	Required int
}

// Error returns the error message
func (e *QuorumError) Error() string {
	return fmt.Sprintf("quorum not reached: %d of %d required acknowledgments", e.Current, e.Required)
}

// IsQuorumError reports whether err is a quorum failure
func IsQuorumError(err error) bool {
	var qe *QuorumError
	return errors.As(err, &qe)
}

// ConflictError is returned when vector-clock resolution finds no dominant
// sibling. The siblings are retained and carried for manual merging.
type ConflictError struct {
	Key      string
	Siblings []VersionedValue
}

// Error returns the error message
func (e *ConflictError) Error() string {
	return fmt.Sprintf("unresolved conflict on key %q: %d concurrent siblings", e.Key, len(e.Siblings))
}

// IsConflictError reports whether err is an unresolved conflict
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// SyncError is returned for a malformed delta or a failed sync-response
// application
type SyncError struct {
	Message string
	Cause   error
}

// Error returns the error message
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("replication failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("replication failed: %s", e.Message)
}

// Unwrap exposes the underlying cause
func (e *SyncError) Unwrap() error {
	return e.Cause
}
