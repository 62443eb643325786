// Package coordinator spawns and registers the coordinator session: an
// ordinary agent, distinguished only by a reserved id and by being
// started and supervised by the daemon itself (spec.md §4.9).
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relaybroker/brokerd/internal/registrar"
	"github.com/relaybroker/brokerd/internal/relay"
	"github.com/relaybroker/brokerd/internal/store"
)

// defaultInstructions is written when no instructions file is found
// anywhere in the search precedence.
const defaultInstructions = `You are the coordinator agent for this broker.
When you receive a NEW_AGENT notification, send that agent a brief
introduction message so it knows who else is active and what they are
working on. Otherwise, stay quiet.
`

// Config describes how to spawn and locate the coordinator process.
type Config struct {
	Enabled          bool
	Model            string
	Directory        string
	InstructionsPath string   // explicit override; empty triggers the search list
	SearchPaths      []string // precedence list searched when InstructionsPath is empty
	Command          []string // argv template; "{model}", "{directory}", "{instructions}" are substituted
	PollInterval     time.Duration
	PollTimeout      time.Duration
}

// Orchestrator spawns the coordinator process and registers its
// session once the relay reports it.
type Orchestrator struct {
	relay      *relay.Client
	registrar  *registrar.Registrar
	store      *store.Store
	cfg        Config
	logger     *slog.Logger
}

// New returns an Orchestrator.
func New(r *relay.Client, reg *registrar.Registrar, s *store.Store, cfg Config) *Orchestrator {
	return &Orchestrator{relay: r, registrar: reg, store: s, cfg: cfg, logger: slog.With("component", "coordinator")}
}

// Start resolves the instructions file, spawns the coordinator
// process, polls the relay until its session appears, and registers
// it as agent id "coordinator". It returns once registration succeeds
// or the bounded wait elapses.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.cfg.Enabled {
		return nil
	}

	instructionsPath, err := o.resolveInstructions()
	if err != nil {
		return fmt.Errorf("resolve coordinator instructions: %w", err)
	}

	before, err := o.relay.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions before spawning coordinator: %w", err)
	}
	seen := make(map[string]bool, len(before))
	for _, s := range before {
		seen[s.ID] = true
	}

	argv := substitute(o.cfg.Command, o.cfg.Model, o.cfg.Directory, instructionsPath)
	if len(argv) == 0 {
		return fmt.Errorf("coordinator: no command configured")
	}

	o.logger.Info("spawning coordinator process", "command", argv, "directory", o.cfg.Directory)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = o.cfg.Directory
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn coordinator process: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			o.logger.Warn("coordinator process exited", "error", err)
		}
	}()

	sess, err := o.pollForNewSession(ctx, seen)
	if err != nil {
		return fmt.Errorf("wait for coordinator session: %w", err)
	}

	if err := o.registrar.RegisterCoordinator(ctx, sess, time.Now().UTC()); err != nil {
		return fmt.Errorf("register coordinator: %w", err)
	}
	o.logger.Info("coordinator registered", "session_id", sess.SessionID)
	return nil
}

func (o *Orchestrator) pollForNewSession(ctx context.Context, seen map[string]bool) (store.Session, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.PollTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.PollInterval
	b.MaxInterval = o.cfg.PollInterval * 4
	b.Multiplier = 2

	return backoff.Retry(waitCtx, func() (store.Session, error) {
		sessions, err := o.relay.ListSessions(waitCtx)
		if err != nil {
			return store.Session{}, err
		}
		for _, s := range sessions {
			if seen[s.ID] {
				continue
			}
			return store.Session{SessionID: s.ID, Slug: s.Title, Directory: s.Directory, FirstSeenAt: time.Now().UTC()}, nil
		}
		return store.Session{}, fmt.Errorf("coordinator session not yet visible")
	}, backoff.WithBackOff(b))
}

// resolveInstructions honors an explicit InstructionsPath override;
// otherwise it searches SearchPaths in order and falls back to
// writing a minimal default at the first search path, creating its
// directory if needed.
func (o *Orchestrator) resolveInstructions() (string, error) {
	if o.cfg.InstructionsPath != "" {
		return o.cfg.InstructionsPath, nil
	}
	for _, p := range o.cfg.SearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if len(o.cfg.SearchPaths) == 0 {
		return "", fmt.Errorf("no instructions path configured and no search paths given")
	}
	fallback := o.cfg.SearchPaths[0]
	if err := os.MkdirAll(filepath.Dir(fallback), 0o755); err != nil {
		return "", fmt.Errorf("create instructions directory: %w", err)
	}
	if err := os.WriteFile(fallback, []byte(defaultInstructions), 0o644); err != nil {
		return "", fmt.Errorf("write default instructions: %w", err)
	}
	o.logger.Info("wrote default coordinator instructions", "path", fallback)
	return fallback, nil
}

func substitute(template []string, model, directory, instructions string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		switch arg {
		case "{model}":
			out[i] = model
		case "{directory}":
			out[i] = directory
		case "{instructions}":
			out[i] = instructions
		default:
			out[i] = arg
		}
	}
	return out
}
