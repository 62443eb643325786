package threadtrack_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybroker/brokerd/internal/spool"
	"github.com/relaybroker/brokerd/internal/store"
	"github.com/relaybroker/brokerd/internal/threadtrack"
)

func newTracker(t *testing.T) (*threadtrack.Tracker, *store.Store) {
	t.Helper()
	s := store.New(t.TempDir())
	require.NoError(t, s.Init())
	return threadtrack.New(s), s
}

func TestThreadIDFor_GeneratesAndRemembersPerPair(t *testing.T) {
	tr, _ := newTracker(t)
	m1 := spool.Message{From: "alice", To: "bob", Content: "a"}
	id1 := tr.ThreadIDFor(m1)
	assert.NotEmpty(t, id1)

	m2 := spool.Message{From: "alice", To: "bob", Content: "b"}
	id2 := tr.ThreadIDFor(m2)
	assert.Equal(t, id1, id2, "same pair should reuse the generated thread id")

	m3 := spool.Message{From: "bob", To: "alice", Content: "c"}
	id3 := tr.ThreadIDFor(m3)
	assert.Equal(t, id1, id3, "order of from/to should not matter")
}

func TestThreadIDFor_ExplicitIDPassesThrough(t *testing.T) {
	tr, _ := newTracker(t)
	m := spool.Message{From: "alice", To: "bob", ThreadID: "t-42"}
	assert.Equal(t, "t-42", tr.ThreadIDFor(m))
}

func TestTouch_IsIdempotentAndUnionsParticipants(t *testing.T) {
	tr, s := newTracker(t)
	now := time.Now().UTC()

	_, err := tr.Touch("t-1", "alice", "bob", now)
	require.NoError(t, err)
	_, err = tr.Touch("t-1", "alice", "carol", now.Add(time.Second))
	require.NoError(t, err)

	th, ok := s.Thread("t-1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, th.Participants)
}

// TestS5_ThreadResolution mirrors spec.md §8 scenario S5.
func TestS5_ThreadResolution(t *testing.T) {
	tr, s := newTracker(t)
	now := time.Now().UTC()

	_, err := tr.Touch("t-42", "alice", "bob", now)
	require.NoError(t, err)

	require.NoError(t, tr.CloseIfResolved("t-42", spool.TypeCompletion, "done — RESOLVED", now))

	th, ok := s.Thread("t-42")
	require.True(t, ok)
	assert.True(t, th.Closed)

	// Subsequent messages still update activity; thread remains closed.
	_, err = tr.Touch("t-42", "alice", "bob", now.Add(time.Minute))
	require.NoError(t, err)
	th, _ = s.Thread("t-42")
	assert.True(t, th.Closed)
}

func TestCloseIfResolved_SubstringDoesNotMatch(t *testing.T) {
	tr, s := newTracker(t)
	now := time.Now().UTC()
	_, err := tr.Touch("t-1", "alice", "bob", now)
	require.NoError(t, err)

	require.NoError(t, tr.CloseIfResolved("t-1", spool.TypeCompletion, "UNRESOLVED issue", now))
	th, ok := s.Thread("t-1")
	require.True(t, ok)
	assert.False(t, th.Closed)
}

func TestCloseIfResolved_IgnoresNonCompletionType(t *testing.T) {
	tr, s := newTracker(t)
	now := time.Now().UTC()
	_, err := tr.Touch("t-1", "alice", "bob", now)
	require.NoError(t, err)

	require.NoError(t, tr.CloseIfResolved("t-1", spool.TypeTask, "RESOLVED", now))
	th, ok := s.Thread("t-1")
	require.True(t, ok)
	assert.False(t, th.Closed)
}
