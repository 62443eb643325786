// Package delivery implements the Injection Worker Pool: a fixed
// number of workers draining Delivery Tasks through the pipeline
// spec.md §4.5 enumerates — rate check, TTL check, recipient
// resolution, envelope composition, injection with retry, thread
// update.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relaybroker/brokerd/internal/metrics"
	"github.com/relaybroker/brokerd/internal/ratelimit"
	"github.com/relaybroker/brokerd/internal/relay"
	"github.com/relaybroker/brokerd/internal/spool"
	"github.com/relaybroker/brokerd/internal/store"
	"github.com/relaybroker/brokerd/internal/threadtrack"
	"github.com/relaybroker/brokerd/internal/util/sanitize"
)

var errUnresolved = errors.New("delivery: recipient session unresolved")

// Config bounds worker count and retry/timeout behavior.
type Config struct {
	Workers    int
	Retries    int
	Timeout    time.Duration
	MessageTTL time.Duration
}

// Pool dequeues RawTasks and drives them through the delivery
// pipeline.
type Pool struct {
	store      *store.Store
	relay      *relay.Client
	limiter    *ratelimit.Limiter
	tracker    *threadtrack.Tracker
	archiveDir string
	cfg        Config
	logger     *slog.Logger

	cacheMu sync.RWMutex
	cache   map[string]bool
}

// New returns a Pool. archiveDir is where processed message files and
// their sidecars end up.
func New(s *store.Store, r *relay.Client, limiter *ratelimit.Limiter, tracker *threadtrack.Tracker, archiveDir string, cfg Config) *Pool {
	return &Pool{
		store:      s,
		relay:      r,
		limiter:    limiter,
		tracker:    tracker,
		archiveDir: archiveDir,
		cfg:        cfg,
		logger:     slog.With("component", "delivery"),
		cache:      make(map[string]bool),
	}
}

// Run starts cfg.Workers goroutines consuming tasks until ctx is
// cancelled or tasks is closed, and returns once all of them stop.
func (p *Pool) Run(ctx context.Context, tasks <-chan spool.RawTask) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-tasks:
					if !ok {
						return
					}
					p.process(ctx, task)
				}
			}
		}()
	}
	wg.Wait()
}

func (p *Pool) process(ctx context.Context, task spool.RawTask) {
	metrics.MessageQueueSize.Dec()

	msg, err := spool.ParseMessage(task.Data)
	if err != nil {
		if archErr := p.archiveParseError(task.Path, err); archErr != nil {
			p.logger.Error("failed to archive unparseable message", "path", task.Path, "error", archErr)
		}
		metrics.MessagesFailedTotal.WithLabelValues("error").Inc()
		return
	}

	now := time.Now().UTC()
	threadID := p.tracker.ThreadIDFor(msg)
	logger := p.logger.With("from", msg.From, "to", msg.To, "thread_id", threadID,
		"preview", sanitize.Title(msg.Content, 80))

	if !p.limiter.TryAcquire(msg.From, now) {
		p.finish(task.Path, logger, map[string]any{"rateLimited": true}, "rate")
		return
	}

	if msg.Timestamp > 0 {
		if age := now.Sub(time.UnixMilli(msg.Timestamp)); age > p.cfg.MessageTTL {
			p.finish(task.Path, logger, map[string]any{"expired": true}, "expired")
			return
		}
	}

	sessionID, ok := p.retryResolve(ctx, msg.To)
	if !ok {
		p.finish(task.Path, logger, map[string]any{"undeliverable": true}, "undeliverable")
		return
	}

	envelope := composeEnvelope(msg, threadID)
	result := p.inject(ctx, sessionID, envelope)
	switch result {
	case injectOK:
		if err := p.archive(task.Path, nil); err != nil {
			logger.Error("failed to archive delivered message", "error", err)
		}
		metrics.MessagesTotal.Inc()
		metrics.InjectionsTotal.Inc()
	case injectUndeliverable:
		p.finish(task.Path, logger, map[string]any{"undeliverable": true}, "undeliverable")
		return
	default:
		p.finish(task.Path, logger, map[string]any{"injectFailed": true}, "injectFailed")
		return
	}

	// Only a message that actually reached its recipient should move
	// the thread: an undelivered completion must not close a thread
	// the recipient never saw, and a failed delivery must not recreate
	// a thread GC already removed.
	if _, err := p.tracker.Touch(threadID, msg.From, msg.To, now); err != nil {
		logger.Error("thread touch failed", "error", err)
	}
	if err := p.tracker.CloseIfResolved(threadID, msg.Type, msg.Content, now); err != nil {
		logger.Error("thread close failed", "error", err)
	}
}

func (p *Pool) finish(path string, logger *slog.Logger, annotations map[string]any, reason string) {
	if err := p.archive(path, annotations); err != nil {
		logger.Error("failed to archive message", "reason", reason, "error", err)
	}
	metrics.MessagesFailedTotal.WithLabelValues(reason).Inc()
}

// --- recipient resolution ---

func (p *Pool) sessionLive(sessionID string) bool {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return p.cache[sessionID]
}

func (p *Pool) dropFromCache(sessionID string) {
	p.cacheMu.Lock()
	delete(p.cache, sessionID)
	p.cacheMu.Unlock()
}

func (p *Pool) refreshCache(ctx context.Context) error {
	sessions, err := p.relay.ListSessions(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		next[s.ID] = true
	}
	p.cacheMu.Lock()
	p.cache = next
	p.cacheMu.Unlock()
	return nil
}

// resolveRecipientSession makes a single attempt, refreshing the
// session cache at most once, to find the live session id backing
// agentID.
func (p *Pool) resolveRecipientSession(ctx context.Context, agentID string) (string, bool) {
	agent, ok := p.store.Agent(agentID)
	if !ok || agent.SessionID == "" {
		return "", false
	}
	if p.sessionLive(agent.SessionID) {
		return agent.SessionID, true
	}
	if err := p.refreshCache(ctx); err != nil {
		return "", false
	}
	return agent.SessionID, p.sessionLive(agent.SessionID)
}

// retryResolve retries resolution with backoff up to cfg.Retries
// attempts (spec.md §4.5 step 3).
func (p *Pool) retryResolve(ctx context.Context, agentID string) (string, bool) {
	b := p.newBackoff()
	sessionID, err := backoff.Retry(ctx, func() (string, error) {
		if sid, ok := p.resolveRecipientSession(ctx, agentID); ok {
			return sid, nil
		}
		return "", errUnresolved
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries(p.cfg.Retries)))
	if err != nil {
		return "", false
	}
	return sessionID, true
}

// --- injection ---

type injectResult int

const (
	injectOK injectResult = iota
	injectUndeliverable
	injectFailed
)

// inject drives spec.md §4.5 step 5: on NotFound, drop the session
// from the cache and retry exactly once more; on Unavailable, retry
// with exponential backoff up to cfg.Retries.
func (p *Pool) inject(ctx context.Context, sessionID, text string) injectResult {
	b := p.newBackoff()
	retriedNotFound := false
	outcome := injectFailed

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := p.relay.Inject(ctx, sessionID, text)
		switch {
		case err == nil:
			outcome = injectOK
			return struct{}{}, nil
		case errors.Is(err, relay.ErrNotFound):
			p.dropFromCache(sessionID)
			if retriedNotFound {
				outcome = injectUndeliverable
				return struct{}{}, backoff.Permanent(err)
			}
			retriedNotFound = true
			metrics.InjectionsRetriedTotal.Inc()
			return struct{}{}, err
		default:
			metrics.InjectionsRetriedTotal.Inc()
			return struct{}{}, err
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries(p.cfg.Retries)))
	if err != nil {
		return outcome
	}
	return injectOK
}

func (p *Pool) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Timeout
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

func maxTries(retries int) uint {
	if retries <= 0 {
		return 1
	}
	return uint(retries)
}
