// Package preflight runs the startup checks that must pass before the
// daemon's main loops start. A failure here is always fatal (spec.md
// §6: exit code 2) and always carries operator-facing guidance.
package preflight

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMissingPrerequisite is wrapped by Check's error when the
// agent-hub MCP entry is absent from the relay host's configuration.
var ErrMissingPrerequisite = errors.New("preflight: required MCP server not configured")

type hostConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// Check verifies that requiredServer is registered in the relay host
// configuration file at configPath. An unreadable or malformed file,
// or one missing the server entry, is reported as
// ErrMissingPrerequisite with operator guidance.
func Check(configPath, requiredServer string) error {
	if requiredServer == "" {
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("%w: could not read relay host config at %s (%v); add an \"%s\" entry under \"mcpServers\" before starting brokerd",
			ErrMissingPrerequisite, configPath, err, requiredServer)
	}

	var cfg hostConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("%w: relay host config at %s is not valid JSON (%v)", ErrMissingPrerequisite, configPath, err)
	}

	if _, ok := cfg.MCPServers[requiredServer]; !ok {
		return fmt.Errorf("%w: %s has no \"%s\" entry under \"mcpServers\"; the relay host must expose this MCP server before brokerd can route messages to it",
			ErrMissingPrerequisite, configPath, requiredServer)
	}
	return nil
}
