// Package fsutil provides small filesystem helpers shared by the
// state store, the message spool, and the metrics writer: every
// on-disk write in this daemon is a stage-then-rename so a concurrent
// reader never observes a partial file (spec.md designates atomic
// rename as the only commit primitive).
package fsutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file in the same directory as
// path, then renames it into place. Rename is atomic only within a
// single filesystem, so the temp file is created alongside path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// MoveAtomic renames src to dst, creating dst's parent directory if
// it does not already exist.
func MoveAtomic(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}
