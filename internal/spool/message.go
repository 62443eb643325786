// Package spool watches the messages/ directory (the "spool") for
// JSON files deposited by external producers, and turns each into a
// delivery task. messages/archive/ is the spool's terminal state:
// every file ends up there, exactly once, after success, terminal
// failure, rate-limit rejection, TTL expiry, or a parse error.
package spool

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/relaybroker/brokerd/internal/fsutil"
)

// Message types and priorities recognized by the pipeline (spec.md §3).
const (
	TypeTask       = "task"
	TypeQuestion   = "question"
	TypeContext    = "context"
	TypeCompletion = "completion"
	TypeError      = "error"

	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Message is the on-disk JSON shape of a spool file.
type Message struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Priority  string `json:"priority"`
	ThreadID  string `json:"threadId"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch
}

// Validate checks the required fields spec.md §3 lists. It does not
// enforce from != to, which SHOULD hold but is not mandatory.
func (m Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("message: missing required field \"from\"")
	}
	if m.To == "" {
		return fmt.Errorf("message: missing required field \"to\"")
	}
	if m.Content == "" {
		return fmt.Errorf("message: missing required field \"content\"")
	}
	switch m.Type {
	case TypeTask, TypeQuestion, TypeContext, TypeCompletion, TypeError:
	default:
		return fmt.Errorf("message: invalid type %q", m.Type)
	}
	switch m.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		return fmt.Errorf("message: invalid priority %q", m.Priority)
	}
	return nil
}

// NormalizedPriority returns Priority, defaulting to "normal" when
// unset.
func (m Message) NormalizedPriority() string {
	if m.Priority == "" {
		return PriorityNormal
	}
	return m.Priority
}

// ParseMessage unmarshals and validates raw JSON bytes.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// WriteMessage stages and atomically renames a new message file into
// dir — the same commit primitive external producers are expected to
// use (spec.md §9: stage under a dot-prefixed name, then rename).
func WriteMessage(dir, filename string, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, filename), data, 0o644)
}
