package replication

import (
	"sync"

	"github.com/dd0wney/cluso-coord/pkg/metrics"
)

// Store is the local versioned key/value state of one replica. Each key
// holds one or more sibling VersionedValues; concurrent writes from
// different replicas accumulate as siblings until conflict resolution
// reduces them.
//
// Concurrent safety: reads take the shared lock, mutations the exclusive
// lock. Returned values are copies.
type Store struct {
	self     string
	resolver *Resolver

	mu    sync.RWMutex
	data  map[string][]VersionedValue
	clock VectorClock // merged view of every version this replica has seen

	metricsRegistry *metrics.Registry
}

// NewStore creates an empty store owned by the given node
func NewStore(self string, resolver *Resolver) *Store {
	return &Store{
		self:            self,
		resolver:        resolver,
		data:            make(map[string][]VersionedValue),
		clock:           NewVectorClock(),
		metricsRegistry: metrics.DefaultRegistry(),
	}
}

// Write records a local write: the node's clock component is bumped and
// the new value supersedes all current siblings of the key, since its
// clock descends everything this replica has seen.
func (s *Store) Write(key string, value []byte) VersionedValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.clock.Clone()
	for _, sibling := range s.data[key] {
		version = version.Merge(sibling.Version)
	}
	version.Increment(s.self)

	vv := NewVersionedValue(value, s.self, version)
	s.data[key] = []VersionedValue{vv}
	s.clock = s.clock.Merge(version)
	return vv
}

// Read returns the key's value after verifying its checksum and resolving
// any siblings. An unresolved conflict is returned as a ConflictError
// carrying the siblings.
func (s *Store) Read(key string) (VersionedValue, error) {
	s.mu.RLock()
	siblings := append([]VersionedValue(nil), s.data[key]...)
	s.mu.RUnlock()

	if len(siblings) == 0 {
		s.metricsRegistry.ReplicationReadsTotal.WithLabelValues("not_found").Inc()
		return VersionedValue{}, ErrKeyNotFound
	}

	for _, sibling := range siblings {
		if err := sibling.Verify(); err != nil {
			s.metricsRegistry.ReplicationReadsTotal.WithLabelValues("checksum_mismatch").Inc()
			return VersionedValue{}, err
		}
	}

	value, err := s.resolver.Resolve(key, siblings)
	if err != nil {
		if IsConflictError(err) {
			s.metricsRegistry.ReplicationConflictsTotal.WithLabelValues("unresolved").Inc()
		}
		return VersionedValue{}, err
	}

	if len(siblings) > 1 {
		s.metricsRegistry.ReplicationConflictsTotal.WithLabelValues(s.resolver.Strategy().String()).Inc()
	}
	s.metricsRegistry.ReplicationReadsTotal.WithLabelValues("ok").Inc()
	return value, nil
}

// Siblings returns copies of all unresolved versions of a key
func (s *Store) Siblings(key string) []VersionedValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]VersionedValue(nil), s.data[key]...)
}

// ApplyDelta folds a remote write into the key's siblings. Application is
// idempotent: a delta whose version is already dominated (or matched) by a
// stored sibling is a no-op. Returns true if the store changed.
func (s *Store) ApplyDelta(delta StateDelta) (bool, error) {
	if err := delta.Value.Verify(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.applyLocked(delta.Key, delta.Value)
	return changed, nil
}

// applyLocked merges one incoming version into a key's siblings; callers
// hold s.mu. Siblings dominated by the incoming version are dropped; an
// incoming version dominated by any sibling is ignored; concurrent
// versions coexist.
func (s *Store) applyLocked(key string, incoming VersionedValue) bool {
	kept := make([]VersionedValue, 0, len(s.data[key])+1)
	for _, sibling := range s.data[key] {
		switch incoming.Version.Compare(sibling.Version) {
		case OrderingEqual, OrderingBefore:
			// Already known or older than what we hold
			return false
		case OrderingAfter:
			continue // superseded by the incoming version
		case OrderingConcurrent:
			kept = append(kept, sibling)
		}
	}

	s.data[key] = append(kept, incoming)
	s.clock = s.clock.Merge(incoming.Version)
	return true
}

// Snapshot returns a deep copy of the full key space, siblings included
func (s *Store) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string][]VersionedValue, len(s.data))
	for key, siblings := range s.data {
		copies := make([]VersionedValue, len(siblings))
		for i, sibling := range siblings {
			copies[i] = sibling
			copies[i].Version = sibling.Version.Clone()
		}
		entries[key] = copies
	}
	return StateSnapshot{Entries: entries}
}

// ApplySnapshot folds a remote snapshot into local state, key by key, with
// the same idempotent merge rule as ApplyDelta. Returns how many keys
// changed; a checksum failure aborts without partial corruption of the
// failing key.
func (s *Store) ApplySnapshot(snap StateSnapshot) (int, error) {
	for _, siblings := range snap.Entries {
		for _, sibling := range siblings {
			if err := sibling.Verify(); err != nil {
				return 0, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for key, siblings := range snap.Entries {
		keyChanged := false
		for _, sibling := range siblings {
			if s.applyLocked(key, sibling) {
				keyChanged = true
			}
		}
		if keyChanged {
			changed++
		}
	}
	return changed, nil
}

// Keys returns all keys currently held
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of keys currently held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

// Clock returns a copy of the replica's merged vector clock
func (s *Store) Clock() VectorClock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clock.Clone()
}
