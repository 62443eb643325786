package store

import (
	"fmt"
	"sync"
)

// table lock ranks. Holding two table locks at once is only permitted
// in this order: agents -> sessions -> threads (spec.md §5).
const (
	rankAgents = iota
	rankSessions
	rankThreads
)

// guardedLock pairs a RWMutex with its position in the fixed
// lock-acquisition order, so withLocks can catch an out-of-order
// acquisition attempt during development rather than risk a deadlock
// in production.
type guardedLock struct {
	mu   sync.RWMutex
	rank int
}

// withLocks write-locks the given tables in ascending rank order and
// returns an unlock function. It panics if the caller passes tables
// out of order or with a duplicate rank — a programming error, not a
// runtime condition to recover from.
func withLocks(locks ...*guardedLock) func() {
	for i := 1; i < len(locks); i++ {
		if locks[i].rank <= locks[i-1].rank {
			panic(fmt.Sprintf("store: locks acquired out of order: rank %d after rank %d", locks[i].rank, locks[i-1].rank))
		}
	}
	for _, l := range locks {
		l.mu.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].mu.Unlock()
		}
	}
}

// Store holds the broker's in-memory tables. Each table has its own
// lock; callers needing more than one table at a time must go through
// withLocks to respect the documented acquisition order.
type Store struct {
	dataDir string

	agents  guardedLock
	agentsM map[string]*Agent

	sessions  guardedLock
	sessionsM map[string]*Session

	threads  guardedLock
	threadsM map[string]*Thread

	orientedMu sync.RWMutex
	orientedM  map[string]struct{}

	sessionAgentMu sync.RWMutex
	sessionAgentM  map[string]string // session_id -> agent_id
}

// New returns an empty Store rooted at dataDir. Call Load to populate
// it from any existing snapshot files.
func New(dataDir string) *Store {
	return &Store{
		dataDir:       dataDir,
		agents:        guardedLock{rank: rankAgents},
		agentsM:       make(map[string]*Agent),
		sessions:      guardedLock{rank: rankSessions},
		sessionsM:     make(map[string]*Session),
		threads:       guardedLock{rank: rankThreads},
		threadsM:      make(map[string]*Thread),
		orientedM:     make(map[string]struct{}),
		sessionAgentM: make(map[string]string),
	}
}

// --- Agents ---

func (s *Store) UpsertAgent(a *Agent) error {
	cp := *a
	s.agents.mu.Lock()
	s.agentsM[a.AgentID] = &cp
	s.agents.mu.Unlock()
	return s.persistAgent(&cp)
}

func (s *Store) Agent(agentID string) (*Agent, bool) {
	s.agents.mu.RLock()
	defer s.agents.mu.RUnlock()
	a, ok := s.agentsM[agentID]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

func (s *Store) ListAgents() []*Agent {
	s.agents.mu.RLock()
	defer s.agents.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agentsM))
	for _, a := range s.agentsM {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

func (s *Store) DeleteAgent(agentID string) error {
	s.agents.mu.Lock()
	delete(s.agentsM, agentID)
	s.agents.mu.Unlock()
	return s.removeAgentFile(agentID)
}

// --- Sessions ---

func (s *Store) UpsertSession(sess *Session) {
	cp := *sess
	s.sessions.mu.Lock()
	s.sessionsM[sess.SessionID] = &cp
	s.sessions.mu.Unlock()
}

func (s *Store) Session(sessionID string) (*Session, bool) {
	s.sessions.mu.RLock()
	defer s.sessions.mu.RUnlock()
	sess, ok := s.sessionsM[sessionID]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

func (s *Store) ListSessions() []*Session {
	s.sessions.mu.RLock()
	defer s.sessions.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessionsM))
	for _, sess := range s.sessionsM {
		cp := *sess
		out = append(out, &cp)
	}
	return out
}

func (s *Store) DeleteSession(sessionID string) {
	s.sessions.mu.Lock()
	delete(s.sessionsM, sessionID)
	s.sessions.mu.Unlock()
}

// --- Oriented-set ---

func (s *Store) IsOriented(sessionID string) bool {
	s.orientedMu.RLock()
	defer s.orientedMu.RUnlock()
	_, ok := s.orientedM[sessionID]
	return ok
}

func (s *Store) MarkOriented(sessionID string) error {
	s.orientedMu.Lock()
	s.orientedM[sessionID] = struct{}{}
	snapshot := s.orientedSlice()
	s.orientedMu.Unlock()
	return s.persistOriented(snapshot)
}

func (s *Store) UnmarkOriented(sessionID string) error {
	s.orientedMu.Lock()
	delete(s.orientedM, sessionID)
	snapshot := s.orientedSlice()
	s.orientedMu.Unlock()
	return s.persistOriented(snapshot)
}

func (s *Store) orientedSlice() []string {
	out := make([]string, 0, len(s.orientedM))
	for id := range s.orientedM {
		out = append(out, id)
	}
	return out
}

// --- Session -> Agent map ---

// AgentForSession returns the agent id already assigned to sessionID,
// if any. This map is the authority for id assignment (spec.md §3
// invariant 4): once a session is mapped, it keeps its agent id across
// restarts until GC removes it.
func (s *Store) AgentForSession(sessionID string) (string, bool) {
	s.sessionAgentMu.RLock()
	defer s.sessionAgentMu.RUnlock()
	agentID, ok := s.sessionAgentM[sessionID]
	return agentID, ok
}

func (s *Store) AssignAgent(sessionID, agentID string) error {
	s.sessionAgentMu.Lock()
	s.sessionAgentM[sessionID] = agentID
	snapshot := s.sessionAgentCopy()
	s.sessionAgentMu.Unlock()
	return s.persistSessionAgents(snapshot)
}

func (s *Store) UnassignSession(sessionID string) error {
	s.sessionAgentMu.Lock()
	delete(s.sessionAgentM, sessionID)
	snapshot := s.sessionAgentCopy()
	s.sessionAgentMu.Unlock()
	return s.persistSessionAgents(snapshot)
}

func (s *Store) sessionAgentCopy() map[string]string {
	out := make(map[string]string, len(s.sessionAgentM))
	for k, v := range s.sessionAgentM {
		out[k] = v
	}
	return out
}

// KnownAgentIDs returns the set of every agent id currently assigned
// to a session, used by the Registrar to detect slug collisions.
func (s *Store) KnownAgentIDs() map[string]bool {
	s.sessionAgentMu.RLock()
	defer s.sessionAgentMu.RUnlock()
	out := make(map[string]bool, len(s.sessionAgentM))
	for _, agentID := range s.sessionAgentM {
		out[agentID] = true
	}
	return out
}

// SessionAgentPairs returns a snapshot copy of the full session_id ->
// agent_id map, used by GC to find orphaned mappings.
func (s *Store) SessionAgentPairs() map[string]string {
	s.sessionAgentMu.RLock()
	defer s.sessionAgentMu.RUnlock()
	return s.sessionAgentCopy()
}

// --- Threads ---

func (s *Store) Thread(threadID string) (*Thread, bool) {
	s.threads.mu.RLock()
	defer s.threads.mu.RUnlock()
	th, ok := s.threadsM[threadID]
	if !ok {
		return nil, false
	}
	cp := *th
	return &cp, true
}

func (s *Store) ListThreads() []*Thread {
	s.threads.mu.RLock()
	defer s.threads.mu.RUnlock()
	out := make([]*Thread, 0, len(s.threadsM))
	for _, th := range s.threadsM {
		cp := *th
		out = append(out, &cp)
	}
	return out
}

func (s *Store) PutThread(th *Thread) error {
	cp := *th
	s.threads.mu.Lock()
	s.threadsM[th.ThreadID] = &cp
	s.threads.mu.Unlock()
	return s.persistThread(&cp)
}

func (s *Store) DeleteThread(threadID string) error {
	s.threads.mu.Lock()
	delete(s.threadsM, threadID)
	s.threads.mu.Unlock()
	return s.removeThreadFile(threadID)
}

// Flush re-persists the oriented-set and session-agent map snapshots.
// Both are already written synchronously on every mutation; Flush is a
// final, explicit safety net called during shutdown (spec.md §5 step
// (e)) in case any prior write failed and was only logged.
func (s *Store) Flush() error {
	s.orientedMu.RLock()
	oriented := s.orientedSlice()
	s.orientedMu.RUnlock()
	if err := s.persistOriented(oriented); err != nil {
		return fmt.Errorf("flush oriented-set: %w", err)
	}

	s.sessionAgentMu.RLock()
	sessionAgents := s.sessionAgentCopy()
	s.sessionAgentMu.RUnlock()
	if err := s.persistSessionAgents(sessionAgents); err != nil {
		return fmt.Errorf("flush session-agent map: %w", err)
	}
	return nil
}

// AgentsAndSessions runs fn while holding the agents then sessions
// locks in that order, for callers that must read one table while
// consistently reasoning about the other.
func (s *Store) AgentsAndSessions(fn func(agents map[string]*Agent, sessions map[string]*Session)) {
	unlock := withLocks(&s.agents, &s.sessions)
	defer unlock()
	fn(s.agentsM, s.sessionsM)
}
