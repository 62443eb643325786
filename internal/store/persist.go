package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaybroker/brokerd/internal/fsutil"
)

// safeFilename strips any path separators out of an id before it is
// used to build a file path, so an id containing "/" or ".." can't
// escape the agents/threads directory it's meant to live in.
func safeFilename(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

func (s *Store) agentsDir() string  { return filepath.Join(s.dataDir, "agents") }
func (s *Store) threadsDir() string { return filepath.Join(s.dataDir, "threads") }
func (s *Store) sessionAgentsPath() string {
	return filepath.Join(s.dataDir, "session_agents.json")
}
func (s *Store) orientedPath() string {
	return filepath.Join(s.dataDir, "oriented_sessions.json")
}

// Init creates the on-disk directory layout the store persists into.
func (s *Store) Init() error {
	for _, dir := range []string{s.dataDir, s.agentsDir(), s.threadsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Load populates the store from any snapshot files left by a previous
// run. It is safe to call on a fresh data directory (missing files are
// treated as empty).
func (s *Store) Load() error {
	if err := s.loadAgents(); err != nil {
		return err
	}
	if err := s.loadThreads(); err != nil {
		return err
	}
	if err := s.loadSessionAgents(); err != nil {
		return err
	}
	return s.loadOriented()
}

func (s *Store) loadAgents() error {
	entries, err := os.ReadDir(s.agentsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read agents dir: %w", err)
	}
	s.agents.mu.Lock()
	defer s.agents.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.agentsDir(), e.Name()))
		if err != nil {
			return fmt.Errorf("read agent file %s: %w", e.Name(), err)
		}
		var a Agent
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("parse agent file %s: %w", e.Name(), err)
		}
		s.agentsM[a.AgentID] = &a
	}
	return nil
}

func (s *Store) loadThreads() error {
	entries, err := os.ReadDir(s.threadsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read threads dir: %w", err)
	}
	s.threads.mu.Lock()
	defer s.threads.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.threadsDir(), e.Name()))
		if err != nil {
			return fmt.Errorf("read thread file %s: %w", e.Name(), err)
		}
		var th Thread
		if err := json.Unmarshal(data, &th); err != nil {
			return fmt.Errorf("parse thread file %s: %w", e.Name(), err)
		}
		s.threadsM[th.ThreadID] = &th
	}
	return nil
}

func (s *Store) loadSessionAgents() error {
	data, err := os.ReadFile(s.sessionAgentsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session_agents.json: %w", err)
	}
	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse session_agents.json: %w", err)
	}
	s.sessionAgentMu.Lock()
	s.sessionAgentM = m
	s.sessionAgentMu.Unlock()
	return nil
}

func (s *Store) loadOriented() error {
	data, err := os.ReadFile(s.orientedPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read oriented_sessions.json: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("parse oriented_sessions.json: %w", err)
	}
	s.orientedMu.Lock()
	for _, id := range ids {
		s.orientedM[id] = struct{}{}
	}
	s.orientedMu.Unlock()
	return nil
}

func (s *Store) persistAgent(a *Agent) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent %s: %w", a.AgentID, err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(s.agentsDir(), safeFilename(a.AgentID)+".json"), data, 0o644)
}

func (s *Store) removeAgentFile(agentID string) error {
	err := os.Remove(filepath.Join(s.agentsDir(), safeFilename(agentID)+".json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) persistThread(th *Thread) error {
	data, err := json.MarshalIndent(th, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", th.ThreadID, err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(s.threadsDir(), safeFilename(th.ThreadID)+".json"), data, 0o644)
}

func (s *Store) removeThreadFile(threadID string) error {
	err := os.Remove(filepath.Join(s.threadsDir(), safeFilename(threadID)+".json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) persistSessionAgents(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session_agents.json: %w", err)
	}
	return fsutil.WriteFileAtomic(s.sessionAgentsPath(), data, 0o644)
}

func (s *Store) persistOriented(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal oriented_sessions.json: %w", err)
	}
	return fsutil.WriteFileAtomic(s.orientedPath(), data, 0o644)
}
