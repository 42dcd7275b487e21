package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendAssignsContiguousIndexes(t *testing.T) {
	l := NewReplicatedLog(0)

	for i := 1; i <= 5; i++ {
		index, err := l.Append(1, []byte("op"))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), index)
	}
	assert.Equal(t, uint64(5), l.LastIndex())
	assert.Equal(t, uint64(1), l.LastTerm())
}

func TestLogAppendRespectsCap(t *testing.T) {
	l := NewReplicatedLog(2)

	_, err := l.Append(1, []byte("a"))
	require.NoError(t, err)
	_, err = l.Append(1, []byte("b"))
	require.NoError(t, err)

	_, err = l.Append(1, []byte("c"))
	assert.ErrorIs(t, err, ErrLogFull)
}

func TestLogEntryLookup(t *testing.T) {
	l := NewReplicatedLog(0)
	_, err := l.Append(3, []byte("x"))
	require.NoError(t, err)

	entry, ok := l.Entry(1)
	require.True(t, ok)
	assert.Equal(t, uint64(3), entry.Term)
	assert.Equal(t, []byte("x"), entry.Data)

	_, ok = l.Entry(0)
	assert.False(t, ok)
	_, ok = l.Entry(2)
	assert.False(t, ok)
}

func TestLogEntriesFrom(t *testing.T) {
	l := NewReplicatedLog(0)
	for i := 0; i < 4; i++ {
		_, err := l.Append(1, []byte{byte(i)})
		require.NoError(t, err)
	}

	tail := l.EntriesFrom(3)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(3), tail[0].Index)
	assert.Equal(t, uint64(4), tail[1].Index)

	assert.Nil(t, l.EntriesFrom(5), "past the tail yields nothing")
	assert.Len(t, l.EntriesFrom(0), 4, "index 0 is normalized to the full log")
}

func TestLogMatches(t *testing.T) {
	l := NewReplicatedLog(0)
	_, err := l.Append(2, []byte("a"))
	require.NoError(t, err)

	assert.True(t, l.Matches(0, 0), "the empty prefix matches anything")
	assert.True(t, l.Matches(0, 99))
	assert.True(t, l.Matches(1, 2))
	assert.False(t, l.Matches(1, 3), "term mismatch at the index")
	assert.False(t, l.Matches(2, 2), "index beyond the tail")
}

func TestLogTruncateFrom(t *testing.T) {
	l := NewReplicatedLog(0)
	for i := 0; i < 3; i++ {
		_, err := l.Append(1, nil)
		require.NoError(t, err)
	}

	require.NoError(t, l.TruncateFrom(2))
	assert.Equal(t, uint64(1), l.LastIndex())

	// Truncating past the tail is a no-op
	require.NoError(t, l.TruncateFrom(10))
	assert.Equal(t, uint64(1), l.LastIndex())
}

func TestLogTruncateProtectsCommitted(t *testing.T) {
	l := NewReplicatedLog(0)
	for i := 0; i < 3; i++ {
		_, err := l.Append(1, nil)
		require.NoError(t, err)
	}
	l.AdvanceCommitIndex(2)

	assert.ErrorIs(t, l.TruncateFrom(2), ErrTruncateCommitted)
	assert.ErrorIs(t, l.TruncateFrom(1), ErrTruncateCommitted)
	assert.NoError(t, l.TruncateFrom(3), "uncommitted suffix is fair game")
}

func TestCommitIndexNeverDecreases(t *testing.T) {
	l := NewReplicatedLog(0)
	for i := 0; i < 5; i++ {
		_, err := l.Append(1, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(3), l.AdvanceCommitIndex(3))
	assert.Equal(t, uint64(3), l.AdvanceCommitIndex(1), "a lower target is a no-op")
	assert.Equal(t, uint64(3), l.CommitIndex())
}

func TestCommitIndexClampedToLastIndex(t *testing.T) {
	l := NewReplicatedLog(0)
	_, err := l.Append(1, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), l.AdvanceCommitIndex(100),
		"commit index is clamped to entries we actually hold")
}
