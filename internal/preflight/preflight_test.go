package preflight_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybroker/brokerd/internal/preflight"
)

func TestCheck_PassesWhenServerPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"agent-hub":{"command":"agent-hub-mcp"}}}`), 0o644))

	assert.NoError(t, preflight.Check(path, "agent-hub"))
}

func TestCheck_FailsWhenServerAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"other":{}}}`), 0o644))

	err := preflight.Check(path, "agent-hub")
	assert.ErrorIs(t, err, preflight.ErrMissingPrerequisite)
}

func TestCheck_FailsWhenFileMissing(t *testing.T) {
	err := preflight.Check(filepath.Join(t.TempDir(), "nope.json"), "agent-hub")
	assert.True(t, errors.Is(err, preflight.ErrMissingPrerequisite))
}

func TestCheck_SkippedWhenNoServerRequired(t *testing.T) {
	assert.NoError(t, preflight.Check("/nonexistent/path.json", ""))
}
