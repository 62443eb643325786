// Package store holds the broker's in-memory tables (agents, sessions,
// the oriented-set, the session→agent map and threads), each guarded
// by its own lock. Agents, threads, the oriented-set and the
// session→agent map are snapshotted to JSON on disk; the sessions
// table is in memory only.
package store

import "time"

// Agent is a logical identity bound to at most one live session.
type Agent struct {
	AgentID    string    `json:"agent_id"`
	SessionID  string    `json:"session_id"`
	Directory  string    `json:"directory"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Session is a live interactive session as reported by the relay.
type Session struct {
	SessionID   string    `json:"session_id"`
	Slug        string    `json:"slug"`
	Directory   string    `json:"directory"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Thread groups related messages sharing a thread id.
type Thread struct {
	ThreadID       string    `json:"thread_id"`
	Participants   []string  `json:"participants"`
	OpenedAt       time.Time `json:"opened_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Closed         bool      `json:"closed"`
}

// AddParticipant adds id to the thread's participant set if not
// already present.
func (t *Thread) AddParticipant(id string) {
	for _, p := range t.Participants {
		if p == id {
			return
		}
	}
	t.Participants = append(t.Participants, id)
}
