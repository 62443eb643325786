package logging

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	dim    = "\033[2m"
)

// logoLines is the broker's startup ASCII art.
var logoLines = [5]string{
	`  _               _                _`,
	` | |__  _ __ ___ | | _____ _ __ __| |`,
	` | '_ \| '__/ _ \| |/ / _ \ '__/ _` + "`" + ` |`,
	` | |_) | | | (_) |   <  __/ | | (_| |`,
	` |_.__/|_|  \___/|_|\_\___|_|  \__,_|`,
}

// PrintBanner prints the startup ASCII art logo to stderr, followed by
// version and data-directory info. Colors are used only when stderr is
// a TTY.
func PrintBanner(ver, dataDir string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	for _, line := range logoLines {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, line, reset)
		} else {
			fmt.Fprintln(os.Stderr, line)
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %sdata%s %s\n\n", dim, reset, ver, dim, reset, dataDir)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   data %s\n\n", ver, dataDir)
	}
}

// PrintStartupSummary logs the resolved configuration at INFO so an
// operator can see at a glance what the daemon is about to do.
func PrintStartupSummary(fields ...any) {
	slog.Default().Info("starting brokerd", fields...)
}
