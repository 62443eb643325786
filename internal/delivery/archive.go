package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relaybroker/brokerd/internal/fsutil"
)

// archive moves path into the pool's archive directory unmodified,
// and — when annotations is non-empty — writes a sidecar
// "<name>.meta" JSON file next to it. The spool invariant (spec.md §3)
// is that a message file lives in messages/ XOR messages/archive/,
// never both: archive is the only move.
func (p *Pool) archive(path string, annotations map[string]any) error {
	dest := filepath.Join(p.archiveDir, filepath.Base(path))
	if err := fsutil.MoveAtomic(path, dest); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	if len(annotations) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(annotations, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal annotations for %s: %w", path, err)
	}
	return fsutil.WriteFileAtomic(dest+".meta", data, 0o644)
}

// archiveParseError moves path into the archive directory with a
// ".error" sidecar holding the parse failure (spec.md §4.4).
func (p *Pool) archiveParseError(path string, parseErr error) error {
	dest := filepath.Join(p.archiveDir, filepath.Base(path))
	if err := fsutil.MoveAtomic(path, dest); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return os.WriteFile(dest+".error", []byte(parseErr.Error()), 0o644)
}
