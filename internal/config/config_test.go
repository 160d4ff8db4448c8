package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
	assert.Equal(t, 2000, cfg.Monitor.PollIntervalMs)
	assert.Equal(t, 5.0, cfg.Monitor.CPUThresholdPct)
	assert.Equal(t, 2, cfg.Monitor.HysteresisSamples)
	assert.Equal(t, 30, cfg.Board.VisibilityWindowS)
	assert.Equal(t, 2000, cfg.Board.FlashWindowMs)
	assert.Equal(t, []string{"claude", "node"}, cfg.Agents.NamePatterns)
	assert.Equal(t, []string{"claude"}, cfg.Agents.DiscoverPatterns)
	assert.Equal(t, 10, cfg.Storage.RecentDirsMax)
	assert.True(t, cfg.Security.KillAllowed())
	assert.True(t, cfg.Security.SpawnAllowed())
}

func TestLoadConfigFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  listen: "0.0.0.0:9999"
monitor:
  cpu_threshold_pct: 12.5
  hysteresis_samples: 3
security:
  allow_kill: false
agents:
  name_patterns: ["codex"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.API.Listen)
	assert.Equal(t, 12.5, cfg.Monitor.CPUThresholdPct)
	assert.Equal(t, 3, cfg.Monitor.HysteresisSamples)
	assert.Equal(t, []string{"codex"}, cfg.Agents.NamePatterns)
	assert.False(t, cfg.Security.KillAllowed(), "explicit false must stick")
	assert.True(t, cfg.Security.SpawnAllowed())
	// Untouched sections still get defaults.
	assert.Equal(t, 2000, cfg.Monitor.PollIntervalMs)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [not: a: mapping"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverridesListen(t *testing.T) {
	t.Setenv("CENTRAL_API_LISTEN", "127.0.0.1:7070")
	t.Setenv("CENTRAL_BOARD_ASCII", "1")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7070", cfg.API.Listen)
	assert.True(t, cfg.Board.ASCII)
}
