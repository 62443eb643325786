package metrics

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/relaybroker/brokerd/internal/fsutil"
)

// Writer renders Registry to a text exposition file on an interval,
// atomically (write to a temp file in the same directory, then
// rename) so a concurrent reader never observes a partial file.
type Writer struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// NewWriter returns a Writer that renders to path every interval.
func NewWriter(path string, interval time.Duration) *Writer {
	return &Writer{
		path:     path,
		interval: interval,
		logger:   slog.With("component", "metrics"),
	}
}

// Run renders once immediately, then on every tick, until ctx is
// cancelled via the done channel closing.
func (w *Writer) Run(done <-chan struct{}) error {
	if err := w.Render(); err != nil {
		w.logger.Error("initial metrics render failed", "error", err)
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			if err := w.Render(); err != nil {
				w.logger.Error("metrics render failed", "error", err)
			}
		}
	}
}

// Render gathers Registry and writes it to w.path via a staged
// write-then-rename.
func (w *Writer) Render() error {
	families, err := Registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	if err := fsutil.WriteFileAtomic(w.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
