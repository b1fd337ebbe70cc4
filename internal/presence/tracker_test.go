package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTracker_LastWriteWins(t *testing.T) {
	tracker := NewTracker()
	seen := time.Now()

	tracker.Apply("u1", true, nil)
	tracker.Apply("u1", false, &seen)

	entry, ok := tracker.Get("u1")
	require.True(t, ok)
	require.False(t, entry.Online)
	require.NotNil(t, entry.LastSeen)
	require.Equal(t, seen, *entry.LastSeen)
}

func TestTracker_UnknownUser(t *testing.T) {
	tracker := NewTracker()

	_, ok := tracker.Get("ghost")
	require.False(t, ok)
}

func TestTracker_SnapshotHoldsEveryUser(t *testing.T) {
	tracker := NewTracker()

	tracker.Apply("u1", true, nil)
	tracker.Apply("u2", false, nil)

	require.Len(t, tracker.Snapshot(), 2)
}
