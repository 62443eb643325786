package spool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/relaybroker/brokerd/internal/metrics"
)

// RawTask is a candidate message file handed from the watcher to the
// delivery pool. Parsing is deliberately deferred to the pool (spec.md
// §5: "parsing happens in the worker, not the watcher") so a malformed
// or slow-to-parse file never blocks the watcher's read loop.
type RawTask struct {
	Path string
	Data []byte
}

// Watcher watches a spool directory for newly created, non-dot-
// prefixed files and emits a RawTask for each.
type Watcher struct {
	dir    string
	tasks  chan RawTask
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// NewWatcher creates a Watcher over dir with a task channel buffered
// to queueSize (the "soft bound" spec.md §4.4 describes — events
// beyond it still enqueue, blocking the watcher's send, while
// message_queue_size reflects the pressure).
func NewWatcher(dir string, queueSize int) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch spool dir: %w", err)
	}
	return &Watcher{
		dir:    dir,
		tasks:  make(chan RawTask, queueSize),
		fsw:    fsw,
		logger: slog.With("component", "spool"),
	}, nil
}

// Tasks returns the channel RawTasks are published on.
func (w *Watcher) Tasks() <-chan RawTask { return w.tasks }

// Close releases the underlying fsnotify watch.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run performs a startup reconciliation scan (to recover files dropped
// while the daemon was not running), then services fsnotify events
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.scan(); err != nil {
		w.logger.Error("startup spool scan failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.handle(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read spool dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.handle(filepath.Join(w.dir, e.Name()))
	}
	return nil
}

func (w *Watcher) handle(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || name == "archive" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		// Common race: the file was already moved to archive by the
		// time the event is processed. Not an error worth logging.
		return
	}
	if info.IsDir() {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read candidate spool file", "path", path, "error", err)
		return
	}

	metrics.MessageQueueSize.Inc()
	w.tasks <- RawTask{Path: path, Data: data}
}
