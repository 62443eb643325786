package daemon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybroker/brokerd/internal/config"
	"github.com/relaybroker/brokerd/internal/daemon"
	"github.com/relaybroker/brokerd/internal/spool"
)

// TestRun_DeliversMessageThenShutsDownCleanly exercises the full
// wiring end to end: a message dropped into the spool before the
// daemon's shutdown signal fires should be injected and archived, and
// Run must return once the grace period elapses.
func TestRun_DeliversMessageThenShutsDownCleanly(t *testing.T) {
	var listCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			n := atomic.AddInt32(&listCalls, 1)
			if n <= 2 {
				// First call is the daemon's ensure-relay-running check;
				// second is the poller's own startup snapshot. Both must
				// see nothing so "bob" is treated as genuinely new.
				w.Write([]byte(`[]`))
				return
			}
			w.Write([]byte(`[{"id":"bob-1","title":"bob"}]`)) // "bob" arrives after the startup snapshot
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	cfg := &config.Config{DataDir: dataDir}
	cfg.Relay.URL = srv.URL
	cfg.Relay.EnsureTimeoutSeconds = 1
	cfg.Session.PollSeconds = 1
	cfg.MessageTTLSeconds = 3600
	cfg.AgentStaleSeconds = 3600
	cfg.GC.IntervalSeconds = 1
	cfg.Injection.Workers = 1
	cfg.Injection.Retries = 2
	cfg.Injection.TimeoutSeconds = 0 // zero grace period keeps the test fast
	cfg.MetricsIntervalSeconds = 1
	cfg.RateLimit.Enabled = false

	d, err := daemon.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The poller's startup snapshot lands almost immediately; "bob"
	// only shows up on its next 1s tick, so wait past that before
	// dropping the message addressed to it.
	time.Sleep(1200 * time.Millisecond)

	msg := spool.Message{From: "alice", To: "bob", Type: spool.TypeTask, Content: "hi", Timestamp: time.Now().UnixMilli()}
	require.NoError(t, spool.WriteMessage(filepath.Join(dataDir, "messages"), "msg.json", msg))

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}

	_, statErr := os.Stat(filepath.Join(dataDir, "messages", "archive", "msg.json"))
	assert.NoError(t, statErr, "message should have been delivered and archived")
	_, metaErr := os.Stat(filepath.Join(dataDir, "messages", "archive", "msg.json.meta"))
	assert.True(t, os.IsNotExist(metaErr), "a successfully delivered message should carry no failure annotation")
}
