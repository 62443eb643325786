// Package gc implements the Garbage Collector: an interval-driven
// sweep that archives expired pending messages and prunes stale
// agents, session-map entries, and thread files (spec.md §4.8).
package gc

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaybroker/brokerd/internal/fsutil"
	"github.com/relaybroker/brokerd/internal/metrics"
	"github.com/relaybroker/brokerd/internal/spool"
	"github.com/relaybroker/brokerd/internal/store"
)

// Config bounds GC behavior.
type Config struct {
	Interval   time.Duration
	MessageTTL time.Duration
	AgentStale time.Duration
	SpoolDir   string
	ArchiveDir string
}

// Collector runs the periodic sweep.
type Collector struct {
	store  *store.Store
	cfg    Config
	logger *slog.Logger
}

// New returns a Collector.
func New(s *store.Store, cfg Config) *Collector {
	return &Collector{store: s, cfg: cfg, logger: slog.With("component", "gc")}
}

// Run sweeps every cfg.Interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sweep()
		}
	}
}

// Sweep runs one GC pass immediately, outside the interval loop;
// exported for tests.
func (c *Collector) Sweep() {
	c.sweep()
}

func (c *Collector) sweep() {
	now := time.Now().UTC()
	c.archiveExpiredMessages(now)
	c.removeStaleAgents(now)
	c.dropGoneSessionMappings()
	c.deleteStaleThreads(now)
}

// archiveExpiredMessages moves any message file in the spool older
// than MessageTTL straight to the archive, annotated "expired",
// without waiting for a worker to pick it up.
func (c *Collector) archiveExpiredMessages(now time.Time) {
	entries, err := os.ReadDir(c.cfg.SpoolDir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Error("gc: read spool dir failed", "error", err)
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.cfg.SpoolDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue // picked up or removed concurrently by a worker
		}
		msg, err := spool.ParseMessage(data)
		if err != nil || msg.Timestamp == 0 {
			continue
		}
		if now.Sub(time.UnixMilli(msg.Timestamp)) <= c.cfg.MessageTTL {
			continue
		}
		if err := c.archiveExpired(path); err != nil {
			if !os.IsNotExist(err) {
				c.logger.Error("gc: failed to archive expired message", "path", path, "error", err)
			}
			continue
		}
		metrics.GCMessagesExpiredTotal.Inc()
	}
}

func (c *Collector) archiveExpired(path string) error {
	dest := filepath.Join(c.cfg.ArchiveDir, filepath.Base(path))
	if err := fsutil.MoveAtomic(path, dest); err != nil {
		return err
	}
	meta, err := json.Marshal(map[string]any{"expired": true})
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(dest+".meta", meta, 0o644)
}

// removeStaleAgents deletes agent records whose last_seen_at exceeds
// AgentStale and whose session is no longer live.
func (c *Collector) removeStaleAgents(now time.Time) {
	for _, a := range c.store.ListAgents() {
		if now.Sub(a.LastSeenAt) <= c.cfg.AgentStale {
			continue
		}
		if _, live := c.store.Session(a.SessionID); live {
			continue
		}
		if err := c.store.DeleteAgent(a.AgentID); err != nil {
			c.logger.Error("gc: failed to remove stale agent", "agent_id", a.AgentID, "error", err)
			continue
		}
		metrics.GCAgentsRemovedTotal.Inc()
	}
}

// dropGoneSessionMappings removes session->agent entries whose
// session no longer exists and whose agent record was already removed
// (so the mapping has become an orphan).
func (c *Collector) dropGoneSessionMappings() {
	for sessionID, agentID := range c.store.SessionAgentPairs() {
		if _, live := c.store.Session(sessionID); live {
			continue
		}
		if _, exists := c.store.Agent(agentID); exists {
			continue
		}
		if err := c.store.UnassignSession(sessionID); err != nil {
			c.logger.Error("gc: failed to drop session mapping", "session_id", sessionID, "error", err)
			continue
		}
		metrics.GCSessionsRemovedTotal.Inc()
	}
}

// deleteStaleThreads removes thread files that are closed or idle,
// once they have also gone MessageTTL without activity. A closed
// thread is not deleted the moment it closes — it stays on disk until
// it is also stale, so a message arriving on it shortly after
// RESOLVED still finds and touches the existing thread.
func (c *Collector) deleteStaleThreads(now time.Time) {
	for _, th := range c.store.ListThreads() {
		stale := now.Sub(th.LastActivityAt) > c.cfg.MessageTTL
		if !stale {
			continue
		}
		if err := c.store.DeleteThread(th.ThreadID); err != nil {
			c.logger.Error("gc: failed to delete thread", "thread_id", th.ThreadID, "error", err)
			continue
		}
		metrics.GCThreadsRemovedTotal.Inc()
	}
}
