// Package poller periodically lists sessions through the relay and
// diffs the result against the previously known set, emitting
// new-session and session-gone events (spec.md §4.2).
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaybroker/brokerd/internal/relay"
	"github.com/relaybroker/brokerd/internal/store"
)

// Poller drives the periodic relay diff loop.
type Poller struct {
	relay    *relay.Client
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger

	known map[string]bool
}

// New returns a Poller ticking every interval.
func New(r *relay.Client, s *store.Store, interval time.Duration) *Poller {
	return &Poller{
		relay:    r,
		store:    s,
		interval: interval,
		logger:   slog.With("component", "poller"),
		known:    make(map[string]bool),
	}
}

// Run polls until ctx is cancelled. onNew fires for every session not
// already known and not part of the startup snapshot (spec.md §4.2);
// onGone fires for every previously known session absent from a
// successful poll. A failed poll never marks sessions gone.
func (p *Poller) Run(ctx context.Context, onNew func(context.Context, store.Session), onGone func(context.Context, string)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	first := true
	for {
		sessions, err := p.relay.ListSessions(ctx)
		if err != nil {
			p.logger.Warn("session poll failed, skipping this tick", "error", err)
		} else {
			p.tick(ctx, sessions, first, onNew, onGone)
			first = false
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context, sessions []relay.SessionInfo, first bool, onNew func(context.Context, store.Session), onGone func(context.Context, string)) {
	fetched := make(map[string]relay.SessionInfo, len(sessions))
	for _, s := range sessions {
		fetched[s.ID] = s
	}

	if first {
		// The set of sessions observed on the very first successful
		// poll is "pre-existing at startup" and must never be treated
		// as newly arrived, preventing orientation spam on restart.
		for id, s := range fetched {
			p.known[id] = true
			p.store.UpsertSession(toSession(s))
		}
		p.refreshSeenAgents(fetched)
		return
	}

	for id, s := range fetched {
		if p.known[id] {
			continue
		}
		p.known[id] = true
		sess := toSession(s)
		p.store.UpsertSession(sess)
		onNew(ctx, *sess)
	}

	for id := range p.known {
		if _, ok := fetched[id]; ok {
			continue
		}
		delete(p.known, id)
		p.store.DeleteSession(id)
		onGone(ctx, id)
	}

	p.refreshSeenAgents(fetched)
}

// refreshSeenAgents bumps last_seen_at for every agent whose session
// is still present in this poll (spec.md §3: Agent lifecycle).
func (p *Poller) refreshSeenAgents(fetched map[string]relay.SessionInfo) {
	for sessionID := range fetched {
		agentID, ok := p.store.AgentForSession(sessionID)
		if !ok {
			continue
		}
		agent, ok := p.store.Agent(agentID)
		if !ok {
			continue
		}
		agent.LastSeenAt = time.Now().UTC()
		if err := p.store.UpsertAgent(agent); err != nil {
			p.logger.Error("failed to refresh agent last_seen_at", "agent_id", agentID, "error", err)
		}
	}
}

func toSession(s relay.SessionInfo) *store.Session {
	return &store.Session{
		SessionID:   s.ID,
		Slug:        s.Title,
		Directory:   s.Directory,
		FirstSeenAt: time.Now().UTC(),
	}
}
