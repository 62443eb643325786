package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	require.NoError(t, s.Init())
	return s
}

func TestUpsertAndLoadAgent_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	a := &Agent{AgentID: "alice", SessionID: "sess-1", Directory: "/tmp/alice", CreatedAt: time.Now().UTC(), LastSeenAt: time.Now().UTC()}
	require.NoError(t, s.UpsertAgent(a))

	got, ok := s.Agent("alice")
	require.True(t, ok)
	assert.Equal(t, a.SessionID, got.SessionID)

	s2 := New(s.dataDir)
	require.NoError(t, s2.Init())
	require.NoError(t, s2.Load())
	reloaded, ok := s2.Agent("alice")
	require.True(t, ok)
	assert.Equal(t, a.AgentID, reloaded.AgentID)
}

func TestDeleteAgent_RemovesFromMemoryAndDisk(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAgent(&Agent{AgentID: "bob"}))
	require.NoError(t, s.DeleteAgent("bob"))
	_, ok := s.Agent("bob")
	assert.False(t, ok)

	s2 := New(s.dataDir)
	require.NoError(t, s2.Load())
	_, ok = s2.Agent("bob")
	assert.False(t, ok)
}

func TestOrientedSet_PersistsAcrossRestart(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkOriented("sess-1"))
	assert.True(t, s.IsOriented("sess-1"))

	s2 := New(s.dataDir)
	require.NoError(t, s2.Load())
	assert.True(t, s2.IsOriented("sess-1"))
	assert.False(t, s2.IsOriented("sess-unknown"))
}

func TestSessionAgentMap_IsAuthorityAcrossRestart(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AssignAgent("sess-1", "alice"))

	agentID, ok := s.AgentForSession("sess-1")
	require.True(t, ok)
	assert.Equal(t, "alice", agentID)

	s2 := New(s.dataDir)
	require.NoError(t, s2.Load())
	agentID, ok = s2.AgentForSession("sess-1")
	require.True(t, ok)
	assert.Equal(t, "alice", agentID)
}

func TestThread_PutAndDelete(t *testing.T) {
	s := newTestStore(t)
	th := &Thread{ThreadID: "t-1", OpenedAt: time.Now().UTC(), LastActivityAt: time.Now().UTC()}
	th.AddParticipant("alice")
	require.NoError(t, s.PutThread(th))

	got, ok := s.Thread("t-1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, got.Participants)

	require.NoError(t, s.DeleteThread("t-1"))
	_, ok = s.Thread("t-1")
	assert.False(t, ok)
}

func TestWithLocks_PanicsOnOutOfOrderAcquisition(t *testing.T) {
	s := newTestStore(t)
	assert.Panics(t, func() {
		withLocks(&s.threads, &s.agents)
	})
}

func TestWithLocks_AllowsDocumentedOrder(t *testing.T) {
	s := newTestStore(t)
	assert.NotPanics(t, func() {
		unlock := withLocks(&s.agents, &s.sessions, &s.threads)
		unlock()
	})
}

func TestKnownAgentIDs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AssignAgent("sess-1", "alice"))
	require.NoError(t, s.AssignAgent("sess-2", "bob"))
	ids := s.KnownAgentIDs()
	assert.True(t, ids["alice"])
	assert.True(t, ids["bob"])
	assert.False(t, ids["carol"])
}
