// Package daemon wires every broker component together and drives the
// top-level lifecycle: start all concurrent loops, then on shutdown
// signal walk the ordered drain sequence spec.md §5 specifies.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaybroker/brokerd/internal/config"
	"github.com/relaybroker/brokerd/internal/coordinator"
	"github.com/relaybroker/brokerd/internal/delivery"
	"github.com/relaybroker/brokerd/internal/gc"
	"github.com/relaybroker/brokerd/internal/metrics"
	"github.com/relaybroker/brokerd/internal/poller"
	"github.com/relaybroker/brokerd/internal/ratelimit"
	"github.com/relaybroker/brokerd/internal/registrar"
	"github.com/relaybroker/brokerd/internal/relay"
	"github.com/relaybroker/brokerd/internal/spool"
	"github.com/relaybroker/brokerd/internal/store"
	"github.com/relaybroker/brokerd/internal/threadtrack"
)

// Daemon owns every long-running component and the sole copy of
// broker state.
type Daemon struct {
	cfg *config.Config

	store     *store.Store
	relay     *relay.Client
	watcher   *spool.Watcher
	pool      *delivery.Pool
	poller    *poller.Poller
	registrar *registrar.Registrar
	gc        *gc.Collector
	coord     *coordinator.Orchestrator
	metrics   *metrics.Writer

	logger *slog.Logger
}

// New wires every component from cfg. It does not start anything.
func New(cfg *config.Config) (*Daemon, error) {
	s := store.New(cfg.DataDir)
	if err := s.Init(); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	rc := relay.New(cfg.Relay.URL, time.Duration(cfg.Injection.TimeoutSeconds)*time.Second)

	spoolDir := filepath.Join(cfg.DataDir, "messages")
	archiveDir := filepath.Join(spoolDir, "archive")
	watcher, err := spool.NewWatcher(spoolDir, 256)
	if err != nil {
		return nil, fmt.Errorf("create spool watcher: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.Enabled, cfg.RateLimit.Max,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
		time.Duration(cfg.RateLimit.CooldownSeconds)*time.Second)

	tracker := threadtrack.New(s)

	pool := delivery.New(s, rc, limiter, tracker, archiveDir, delivery.Config{
		Workers:    cfg.Injection.Workers,
		Retries:    cfg.Injection.Retries,
		Timeout:    time.Duration(cfg.Injection.TimeoutSeconds) * time.Second,
		MessageTTL: time.Duration(cfg.MessageTTLSeconds) * time.Second,
	})

	reg := registrar.New(s, rc, registrar.Config{
		InjectionRetries:   cfg.Injection.Retries,
		InjectionTimeout:   time.Duration(cfg.Injection.TimeoutSeconds) * time.Second,
		CoordinatorEnabled: cfg.Coordinator.Enabled,
		SpoolDir:           spoolDir,
	})

	p := poller.New(rc, s, time.Duration(cfg.Session.PollSeconds)*time.Second)

	collector := gc.New(s, gc.Config{
		Interval:   time.Duration(cfg.GC.IntervalSeconds) * time.Second,
		MessageTTL: time.Duration(cfg.MessageTTLSeconds) * time.Second,
		AgentStale: time.Duration(cfg.AgentStaleSeconds) * time.Second,
		SpoolDir:   spoolDir,
		ArchiveDir: archiveDir,
	})

	var coord *coordinator.Orchestrator
	if cfg.Coordinator.Enabled {
		coord = coordinator.New(rc, reg, s, coordinator.Config{
			Enabled:      true,
			Model:        cfg.Coordinator.Model,
			Directory:    cfg.Coordinator.Directory,
			SearchPaths:  cfg.Coordinator.InstructionsPath,
			Command:      cfg.Coordinator.Command,
			PollInterval: 500 * time.Millisecond,
			PollTimeout:  time.Duration(cfg.Relay.EnsureTimeoutSeconds) * time.Second,
		})
	}

	metricsWriter := metrics.NewWriter(filepath.Join(cfg.DataDir, "metrics.prom"),
		time.Duration(cfg.MetricsIntervalSeconds)*time.Second)

	return &Daemon{
		cfg:       cfg,
		store:     s,
		relay:     rc,
		watcher:   watcher,
		pool:      pool,
		poller:    p,
		registrar: reg,
		gc:        collector,
		coord:     coord,
		metrics:   metricsWriter,
		logger:    slog.With("component", "daemon"),
	}, nil
}

// Run starts every concurrent loop and blocks until ctx is cancelled
// (SIGINT/SIGTERM), then performs the ordered shutdown sequence from
// spec.md §5: stop watcher, drain the queue under a grace period, stop
// pollers/GC, flush state, persist oriented-set/session-agent map, and
// leave the relay process running.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.relay.EnsureRunning(ctx, d.cfg.Relay.EnsureCommand, time.Duration(d.cfg.Relay.EnsureTimeoutSeconds)*time.Second); err != nil {
		return fmt.Errorf("relay not reachable: %w", err)
	}

	if d.coord != nil {
		if err := d.coord.Start(ctx); err != nil {
			d.logger.Error("coordinator did not start", "error", err)
		}
	}

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	poolCtx, cancelPool := context.WithCancel(context.Background())
	pollerCtx, cancelPoller := context.WithCancel(context.Background())
	gcCtx, cancelGC := context.WithCancel(context.Background())
	defer cancelWatcher()
	defer cancelPool()
	defer cancelPoller()
	defer cancelGC()

	var g errgroup.Group
	g.Go(func() error { return d.watcher.Run(watcherCtx) })
	g.Go(func() error { d.pool.Run(poolCtx, d.watcher.Tasks()); return nil })
	g.Go(func() error { return d.poller.Run(pollerCtx, d.onNewSession, d.onGoneSession) })
	g.Go(func() error { return d.gc.Run(gcCtx) })
	g.Go(func() error { return d.metrics.Run(gcCtx.Done()) })

	d.logger.Info("brokerd running",
		"data_dir", d.cfg.DataDir,
		"relay_url", d.cfg.Relay.URL,
		"workers", d.cfg.Injection.Workers,
	)

	<-ctx.Done()
	d.logger.Info("shutdown signal received, draining")

	cancelWatcher()
	if err := d.watcher.Close(); err != nil {
		d.logger.Warn("failed to close spool watcher", "error", err)
	}

	grace := d.cfg.InjectionGracePeriod()
	d.logger.Info("draining delivery pool", "grace_period", grace)
	<-time.After(grace)
	cancelPool()

	cancelPoller()
	cancelGC()

	if err := g.Wait(); err != nil {
		d.logger.Error("a broker loop exited with an error", "error", err)
	}

	if err := d.store.Flush(); err != nil {
		d.logger.Error("failed to flush state snapshots", "error", err)
	}

	d.logger.Info("shutdown complete, relay process left running")
	return nil
}

func (d *Daemon) onNewSession(ctx context.Context, sess store.Session) {
	if _, err := d.registrar.HandleNewSession(ctx, sess, time.Now().UTC()); err != nil {
		d.logger.Error("failed to handle new session", "session_id", sess.SessionID, "error", err)
	}
}

// onGoneSession intentionally does nothing beyond what the poller
// already does to the session table: agent/session-map cleanup is GC's
// job (spec.md §4.8), keyed on staleness rather than a single
// disappearance, so a session that blips and returns does not lose its
// agent id.
func (d *Daemon) onGoneSession(_ context.Context, _ string) {}
