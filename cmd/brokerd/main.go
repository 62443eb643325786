package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/relaybroker/brokerd/internal/config"
	"github.com/relaybroker/brokerd/internal/daemon"
	"github.com/relaybroker/brokerd/internal/logging"
	"github.com/relaybroker/brokerd/internal/preflight"
	"github.com/relaybroker/brokerd/internal/relay"
)

var version = "dev"

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		os.Exit(runStart(nil))
	}

	switch os.Args[1] {
	case "--install-service":
		printServiceUnit()
		os.Exit(0)
	case "--uninstall-service":
		fmt.Println("would remove the brokerd systemd/launchd service unit")
		os.Exit(0)
	case "--help":
		printUsage()
		os.Exit(0)
	case "--version":
		fmt.Printf("brokerd %s (%s)\n", version, runtime.Version())
		os.Exit(0)
	default:
		os.Exit(runStart(os.Args[1:]))
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("brokerd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Error("invalid log_level", "value", cfg.LogLevel, "error", err)
		return 1
	}
	logging.SetLevel(level)

	logging.PrintBanner(version, cfg.DataDir)
	logging.PrintStartupSummary(
		"data_dir", cfg.DataDir,
		"relay_url", cfg.Relay.URL,
		"session_poll_seconds", cfg.Session.PollSeconds,
		"injection_workers", cfg.Injection.Workers,
		"rate_limit_enabled", cfg.RateLimit.Enabled,
		"coordinator_enabled", cfg.Coordinator.Enabled,
	)

	if err := preflight.Check(cfg.MCP.ConfigPath, cfg.MCP.RequiredServerName); err != nil {
		slog.Error("preflight check failed", "error", err)
		return 2
	}

	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("failed to initialize daemon", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, relay.ErrRelayNeverCameUp) {
			slog.Error("relay never became reachable", "error", err)
			return 3
		}
		slog.Error("fatal", "error", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println(`brokerd - local agent message-broker daemon

Usage:
  brokerd [--config path]       start the broker (default)
  brokerd --install-service     print the service unit that would be installed
  brokerd --uninstall-service   print a note that the service unit would be removed
  brokerd --version             print version information
  brokerd --help                print this message

Exit codes:
  0  normal exit
  1  generic error
  2  missing MCP prerequisite (preflight failure)
  3  relay unreachable after ensure-running`)
}

func printServiceUnit() {
	fmt.Println(`[Unit]
Description=brokerd local agent message broker
After=network.target

[Service]
ExecStart=/usr/local/bin/brokerd
Restart=on-failure

[Install]
WantedBy=multi-user.target`)
}
