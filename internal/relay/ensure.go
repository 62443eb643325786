package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrRelayNeverCameUp is returned by EnsureRunning when the configured
// bounded wait elapses without a successful list_sessions call.
var ErrRelayNeverCameUp = errors.New("relay: did not become reachable in time")

// EnsureRunning checks whether the relay is already reachable; if not
// and command is non-empty, it spawns the relay process and polls
// ListSessions with exponential backoff until it succeeds or timeout
// elapses.
func (c *Client) EnsureRunning(ctx context.Context, command []string, timeout time.Duration) error {
	logger := slog.With("component", "relay")

	if _, err := c.ListSessions(ctx); err == nil {
		return nil
	}

	if len(command) == 0 {
		return fmt.Errorf("%w: relay unreachable and no ensure_command configured", ErrRelayNeverCameUp)
	}

	logger.Info("relay unreachable, spawning it", "command", command)
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn relay process: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("relay process exited", "error", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.Multiplier = 2

	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		if _, err := c.ListSessions(waitCtx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayNeverCameUp, err)
	}
	logger.Info("relay is reachable")
	return nil
}
