package consensus

import (
	"sync"

	"github.com/dd0wney/cluso-coord/pkg/metrics"
)

// LogEntry is one ordered operation in the replicated log. Entries are
// immutable once appended and uniquely identified by (Index, Term).
type LogEntry struct {
	Term  uint64 `json:"term"`
	Index uint64 `json:"index"`
	Data  []byte `json:"data"`
}

// ReplicatedLog is an ordered, contiguous (from index 1) sequence of
// entries plus the commit index.
//
// Invariants:
// 1. entries[i].Index == i+1 (contiguous, 1-based)
// 2. commitIndex never exceeds the last stored index
// 3. truncation never removes committed entries
type ReplicatedLog struct {
	mu          sync.RWMutex
	entries     []LogEntry
	commitIndex uint64
	maxEntries  int // 0 = unbounded

	metricsRegistry *metrics.Registry
}

// NewReplicatedLog creates an empty log. maxEntries of 0 means unbounded.
func NewReplicatedLog(maxEntries int) *ReplicatedLog {
	return &ReplicatedLog{
		maxEntries:      maxEntries,
		metricsRegistry: metrics.DefaultRegistry(),
	}
}

// Append adds a new entry under the given term and returns its index
func (l *ReplicatedLog) Append(term uint64, data []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxEntries > 0 && len(l.entries) >= l.maxEntries {
		return 0, ErrLogFull
	}

	index := uint64(len(l.entries)) + 1
	l.entries = append(l.entries, LogEntry{Term: term, Index: index, Data: data})
	l.metricsRegistry.ConsensusLogEntries.Set(float64(len(l.entries)))
	return index, nil
}

// Entry returns the entry at the given index
func (l *ReplicatedLog) Entry(index uint64) (LogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index == 0 || index > uint64(len(l.entries)) {
		return LogEntry{}, false
	}
	return l.entries[index-1], true
}

// EntriesFrom returns copies of all entries at or after the given index
func (l *ReplicatedLog) EntriesFrom(index uint64) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index == 0 {
		index = 1
	}
	if index > uint64(len(l.entries)) {
		return nil
	}

	out := make([]LogEntry, uint64(len(l.entries))-index+1)
	copy(out, l.entries[index-1:])
	return out
}

// LastIndex returns the index of the last stored entry (0 when empty)
func (l *ReplicatedLog) LastIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return uint64(len(l.entries))
}

// LastTerm returns the term of the last stored entry (0 when empty)
func (l *ReplicatedLog) LastTerm() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// Matches reports whether the entry at index carries the given term. Index
// 0 matches anything: it is the empty prefix.
func (l *ReplicatedLog) Matches(index, term uint64) bool {
	if index == 0 {
		return true
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if index > uint64(len(l.entries)) {
		return false
	}
	return l.entries[index-1].Term == term
}

// TruncateFrom removes the entry at index and everything after it.
// Committed entries are protected: truncating below the commit index is an
// error, never a silent corruption.
func (l *ReplicatedLog) TruncateFrom(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index == 0 || index <= l.commitIndex {
		return ErrTruncateCommitted
	}
	if index > uint64(len(l.entries)) {
		return nil
	}

	l.entries = l.entries[:index-1]
	l.metricsRegistry.ConsensusLogEntries.Set(float64(len(l.entries)))
	return nil
}

// CommitIndex returns the highest index known to be committed
func (l *ReplicatedLog) CommitIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.commitIndex
}

// AdvanceCommitIndex raises the commit index to min(target, lastIndex).
// The commit index never decreases; a lower target is a no-op. Returns the
// resulting commit index.
func (l *ReplicatedLog) AdvanceCommitIndex(target uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := uint64(len(l.entries))
	if target > last {
		target = last
	}
	if target > l.commitIndex {
		l.commitIndex = target
		l.metricsRegistry.ConsensusCommitIndex.Set(float64(l.commitIndex))
	}
	return l.commitIndex
}
