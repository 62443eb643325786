package relay_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybroker/brokerd/internal/relay"
)

func TestListSessions_ParsesRelayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"sess-1","title":"alice-1","directory":"/tmp/a","time":{"created":1000}}]`))
	}))
	defer srv.Close()

	c := relay.New(srv.URL, time.Second)
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)
	assert.Equal(t, "alice-1", sessions[0].Title)
	assert.Equal(t, "/tmp/a", sessions[0].Directory)
}

func TestListSessions_NonOKIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := relay.New(srv.URL, time.Second)
	_, err := c.ListSessions(context.Background())
	assert.True(t, errors.Is(err, relay.ErrUnavailable))
}

func TestInject_OKOnAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/sess-1/prompt_async", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := relay.New(srv.URL, time.Second)
	err := c.Inject(context.Background(), "sess-1", "hello")
	assert.NoError(t, err)
}

func TestInject_404IsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := relay.New(srv.URL, time.Second)
	err := c.Inject(context.Background(), "gone", "hello")
	assert.True(t, errors.Is(err, relay.ErrNotFound))
}

func TestInject_5xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := relay.New(srv.URL, time.Second)
	err := c.Inject(context.Background(), "sess-1", "hello")
	assert.True(t, errors.Is(err, relay.ErrUnavailable))
}

func TestEnsureRunning_NoOpWhenAlreadyReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := relay.New(srv.URL, time.Second)
	err := c.EnsureRunning(context.Background(), nil, time.Second)
	assert.NoError(t, err)
}

func TestEnsureRunning_FailsFastWithNoCommand(t *testing.T) {
	c := relay.New("http://127.0.0.1:1", time.Millisecond)
	err := c.EnsureRunning(context.Background(), nil, time.Second)
	assert.True(t, errors.Is(err, relay.ErrRelayNeverCameUp))
}
