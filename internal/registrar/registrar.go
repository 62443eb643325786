// Package registrar assigns stable agent identities to newly observed
// sessions and injects each session's one-time orientation prompt
// (spec.md §4.3).
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relaybroker/brokerd/internal/id"
	"github.com/relaybroker/brokerd/internal/metrics"
	"github.com/relaybroker/brokerd/internal/relay"
	"github.com/relaybroker/brokerd/internal/spool"
	"github.com/relaybroker/brokerd/internal/store"
	"github.com/relaybroker/brokerd/internal/validate"
)

// ReservedCoordinatorID is the agent id the Coordinator Orchestrator
// registers itself under. It is never assigned by slug derivation.
const ReservedCoordinatorID = "coordinator"

// Config configures orientation retry behavior and coordinator
// notification delivery.
type Config struct {
	InjectionRetries int
	InjectionTimeout time.Duration
	CoordinatorEnabled bool
	SpoolDir         string
}

// Registrar assigns agent ids and injects orientation prompts.
type Registrar struct {
	store  *store.Store
	relay  *relay.Client
	cfg    Config
	logger *slog.Logger
}

// New returns a Registrar.
func New(s *store.Store, r *relay.Client, cfg Config) *Registrar {
	return &Registrar{store: s, relay: r, cfg: cfg, logger: slog.With("component", "registrar")}
}

// HandleNewSession assigns (or reuses) an agent id for sess, persists
// the agent record, and — unless sess was already oriented in a prior
// run — synchronously injects the orientation prompt before returning,
// so the Registrar never lets the session enter the resolvable session
// cache un-oriented (spec.md §5 ordering guarantee (i)).
func (r *Registrar) HandleNewSession(ctx context.Context, sess store.Session, now time.Time) (agentID string, err error) {
	agentID, isNew, err := r.assignAgentID(sess, now)
	if err != nil {
		return "", fmt.Errorf("assign agent id for session %s: %w", sess.SessionID, err)
	}

	if isNew {
		metrics.AgentsRegisteredTotal.Inc()
	}

	if r.store.IsOriented(sess.SessionID) {
		r.logger.Debug("session already oriented, skipping", "session_id", sess.SessionID, "agent_id", agentID)
		return agentID, nil
	}

	if err := r.orient(ctx, sess.SessionID, agentID); err != nil {
		r.logger.Warn("orientation failed, will retry on next new-session event", "session_id", sess.SessionID, "agent_id", agentID, "error", err)
		return agentID, nil
	}

	metrics.SessionsOrientedTotal.Inc()

	if r.cfg.CoordinatorEnabled && agentID != ReservedCoordinatorID {
		r.notifyCoordinator(agentID, sess.Directory, now)
	}
	return agentID, nil
}

func (r *Registrar) assignAgentID(sess store.Session, now time.Time) (agentID string, isNew bool, err error) {
	if existing, ok := r.store.AgentForSession(sess.SessionID); ok {
		r.touchAgent(existing, sess, now)
		return existing, false, nil
	}

	base, err := candidateSlug(sess)
	if err != nil {
		return "", false, err
	}

	known := r.store.KnownAgentIDs()
	agentID = base
	if known[agentID] {
		agentID = fmt.Sprintf("%s-%s", base, shortSuffix(sess.SessionID))
	}

	if err := r.store.AssignAgent(sess.SessionID, agentID); err != nil {
		return "", false, fmt.Errorf("persist session->agent assignment: %w", err)
	}
	if err := r.store.UpsertAgent(&store.Agent{
		AgentID:    agentID,
		SessionID:  sess.SessionID,
		Directory:  sess.Directory,
		CreatedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		return "", false, fmt.Errorf("persist agent record: %w", err)
	}
	return agentID, true, nil
}

// RegisterCoordinator assigns the reserved coordinator agent id to
// sess and orients it, bypassing slug derivation and the NEW_AGENT
// notification a normal registration would send about itself
// (spec.md §4.9).
func (r *Registrar) RegisterCoordinator(ctx context.Context, sess store.Session, now time.Time) error {
	if err := r.store.AssignAgent(sess.SessionID, ReservedCoordinatorID); err != nil {
		return fmt.Errorf("persist coordinator session assignment: %w", err)
	}
	if err := r.store.UpsertAgent(&store.Agent{
		AgentID:    ReservedCoordinatorID,
		SessionID:  sess.SessionID,
		Directory:  sess.Directory,
		CreatedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		return fmt.Errorf("persist coordinator agent record: %w", err)
	}
	metrics.AgentsRegisteredTotal.Inc()

	if r.store.IsOriented(sess.SessionID) {
		return nil
	}
	if err := r.orient(ctx, sess.SessionID, ReservedCoordinatorID); err != nil {
		return fmt.Errorf("orient coordinator: %w", err)
	}
	metrics.SessionsOrientedTotal.Inc()
	return nil
}

func (r *Registrar) touchAgent(agentID string, sess store.Session, now time.Time) {
	a, ok := r.store.Agent(agentID)
	if !ok {
		a = &store.Agent{AgentID: agentID, CreatedAt: now}
	}
	a.SessionID = sess.SessionID
	a.Directory = sess.Directory
	a.LastSeenAt = now
	if err := r.store.UpsertAgent(a); err != nil {
		r.logger.Error("failed to refresh agent record", "agent_id", agentID, "error", err)
	}
}

// candidateSlug derives a slug from the session's reported name, or
// from the session id when the session has no name. When that source
// is not a valid slug, it falls back to "agent-" plus a short suffix
// of the session id.
func candidateSlug(sess store.Session) (string, error) {
	source := sess.Slug
	if source == "" {
		source = sess.SessionID
	}
	slug, err := validate.SanitizeSlug("agent id", source)
	if err != nil {
		// Fall back to a generated id rather than failing
		// registration outright over an unslug-able session name.
		return "agent-" + shortSuffix(sess.SessionID), nil
	}
	return slug, nil
}

// shortSuffix derives the collision-resolution suffix spec.md §9 open
// question (a) mandates: a short suffix of the session id.
func shortSuffix(sessionID string) string {
	s := strings.ToLower(sessionID)
	if len(s) > 6 {
		s = s[len(s)-6:]
	}
	return s
}

func (r *Registrar) orient(ctx context.Context, sessionID, agentID string) error {
	prompt := orientationPrompt(agentID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InjectionTimeout
	b.Multiplier = 2
	b.RandomizationFactor = 0.2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.relay.Inject(ctx, sessionID, prompt)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, relay.ErrNotFound):
			return struct{}{}, backoff.Permanent(err)
		default:
			return struct{}{}, err
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(r.cfg.InjectionRetries)))
	if err != nil {
		return err
	}

	return r.store.MarkOriented(sessionID)
}

func orientationPrompt(agentID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are now registered as agent \"%s\" on the local message broker.\n", agentID)
	b.WriteString("You can exchange messages with other agents through the broker's spool.\n")
	b.WriteString("Message types: task, question, context, completion, error.\n")
	b.WriteString("Priorities: low, normal, high, urgent (default normal).\n")
	fmt.Fprintf(&b, "Address replies to the sender's agent id; your own id is \"%s\".\n", agentID)
	return b.String()
}

func (r *Registrar) notifyCoordinator(agentID, directory string, now time.Time) {
	msg := spool.Message{
		From:      "daemon",
		To:        ReservedCoordinatorID,
		Type:      spool.TypeContext,
		Content:   fmt.Sprintf("NEW_AGENT: %s at %s", agentID, directory),
		Priority:  spool.PriorityNormal,
		Timestamp: now.UnixMilli(),
	}
	filename := fmt.Sprintf("new-agent-%s-%s.json", agentID, id.GenerateN(8))
	if err := spool.WriteMessage(r.cfg.SpoolDir, filename, msg); err != nil {
		r.logger.Error("failed to enqueue coordinator notification", "agent_id", agentID, "error", err)
	}
}
