package registrar_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybroker/brokerd/internal/registrar"
	"github.com/relaybroker/brokerd/internal/relay"
	"github.com/relaybroker/brokerd/internal/store"
)

func testConfig(t *testing.T) registrar.Config {
	return registrar.Config{
		InjectionRetries:   3,
		InjectionTimeout:   10 * time.Millisecond,
		CoordinatorEnabled: false,
		SpoolDir:           t.TempDir(),
	}
}

func TestHandleNewSession_AssignsSlugAndOrients(t *testing.T) {
	var injectCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		injectCount.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := store.New(t.TempDir())
	require.NoError(t, s.Init())
	rc := relay.New(srv.URL, time.Second)
	reg := registrar.New(s, rc, testConfig(t))

	sess := store.Session{SessionID: "sess-1", Slug: "alice-1", Directory: "/tmp/alice"}
	agentID, err := reg.HandleNewSession(context.Background(), sess, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "alice-1", agentID)
	assert.EqualValues(t, 1, injectCount.Load())
	assert.True(t, s.IsOriented("sess-1"))
}

func TestHandleNewSession_SlugCollisionGetsSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := store.New(t.TempDir())
	require.NoError(t, s.Init())
	rc := relay.New(srv.URL, time.Second)
	reg := registrar.New(s, rc, testConfig(t))

	first, err := reg.HandleNewSession(context.Background(), store.Session{SessionID: "sess-1", Slug: "alice"}, time.Now().UTC())
	require.NoError(t, err)

	second, err := reg.HandleNewSession(context.Background(), store.Session{SessionID: "sess-2", Slug: "alice"}, time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, "alice", first)
	assert.NotEqual(t, first, second)
	assert.Contains(t, second, "alice-")
}

// TestS3_OrientationOnce mirrors spec.md §8 scenario S3: a session
// oriented in a prior run must not be oriented again after restart.
func TestS3_OrientationOnce(t *testing.T) {
	var injectCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		injectCount.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	s1 := store.New(dataDir)
	require.NoError(t, s1.Init())
	rc := relay.New(srv.URL, time.Second)
	cfg := testConfig(t)
	reg1 := registrar.New(s1, rc, cfg)

	sess := store.Session{SessionID: "sess-c", Slug: "carol"}
	_, err := reg1.HandleNewSession(context.Background(), sess, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, injectCount.Load())

	// Simulate a restart: fresh Store loaded from the same data dir.
	s2 := store.New(dataDir)
	require.NoError(t, s2.Load())
	reg2 := registrar.New(s2, rc, cfg)

	_, err = reg2.HandleNewSession(context.Background(), sess, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, injectCount.Load(), "orientation must not be injected twice across a restart")
}

func TestHandleNewSession_OrientationFailurePermanentLeavesUnoriented(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := store.New(t.TempDir())
	require.NoError(t, s.Init())
	rc := relay.New(srv.URL, time.Second)
	reg := registrar.New(s, rc, testConfig(t))

	sess := store.Session{SessionID: "sess-x", Slug: "xavier"}
	_, err := reg.HandleNewSession(context.Background(), sess, time.Now().UTC())
	require.NoError(t, err) // orientation failure is not fatal to registration
	assert.False(t, s.IsOriented("sess-x"))
}
