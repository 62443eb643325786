// Package threadtrack maintains thread metadata: participant sets,
// activity timestamps, and RESOLVED-triggered closing (spec.md §4.6).
package threadtrack

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/relaybroker/brokerd/internal/id"
	"github.com/relaybroker/brokerd/internal/metrics"
	"github.com/relaybroker/brokerd/internal/spool"
	"github.com/relaybroker/brokerd/internal/store"
)

// resolvedToken matches the literal word RESOLVED at whitespace or
// punctuation boundaries (spec.md §9 open question (b): token-bounded,
// not substring).
var resolvedToken = regexp.MustCompile(`\bRESOLVED\b`)

// Tracker wraps a Store's thread table with the domain operations a
// delivery task needs.
type Tracker struct {
	store *store.Store

	mu      sync.Mutex
	autoIDs map[string]string // pairKey(from,to) -> generated thread id, first use only
}

// New returns a Tracker backed by s.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s, autoIDs: make(map[string]string)}
}

func pairKey(from, to string) string {
	if from > to {
		from, to = to, from
	}
	return from + "|" + to
}

// ThreadIDFor returns msg's thread id, generating and remembering one
// deterministically derived from (from, to) plus a short random suffix
// the first time this sender/recipient pair sends a threadId-less
// message.
func (t *Tracker) ThreadIDFor(msg spool.Message) string {
	if msg.ThreadID != "" {
		return msg.ThreadID
	}

	key := pairKey(msg.From, msg.To)
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.autoIDs[key]; ok {
		return existing
	}
	generated := fmt.Sprintf("%s-%s", key, id.GenerateN(6))
	t.autoIDs[key] = generated
	return generated
}

// Touch records activity on threadID, creating it if this is the
// first message to reference it. Writes are idempotent: participants
// union, last_activity_at bumped forward.
func (t *Tracker) Touch(threadID, from, to string, now time.Time) (*store.Thread, error) {
	th, ok := t.store.Thread(threadID)
	if !ok {
		th = &store.Thread{ThreadID: threadID, OpenedAt: now}
	}
	th.AddParticipant(from)
	th.AddParticipant(to)
	th.LastActivityAt = now

	if err := t.store.PutThread(th); err != nil {
		return nil, fmt.Errorf("touch thread %s: %w", threadID, err)
	}
	return th, nil
}

// CloseIfResolved marks threadID closed when msgType is "completion"
// and content contains the token-bounded literal RESOLVED. A no-op
// for any other message type or content, and for unknown threads.
func (t *Tracker) CloseIfResolved(threadID, msgType, content string, now time.Time) error {
	if msgType != spool.TypeCompletion || !resolvedToken.MatchString(content) {
		return nil
	}
	th, ok := t.store.Thread(threadID)
	if !ok {
		return nil
	}
	if th.Closed {
		return nil
	}
	th.Closed = true
	th.LastActivityAt = now
	if err := t.store.PutThread(th); err != nil {
		return fmt.Errorf("close thread %s: %w", threadID, err)
	}
	metrics.ThreadsClosedTotal.Inc()
	return nil
}
