package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 32000, cfg.Context.Budget)
	assert.Equal(t, 4000, cfg.Context.Reserve)
	assert.InDelta(t, 0.15, cfg.Context.KnowledgeShare, 1e-9)
	assert.Equal(t, "warn", cfg.Context.OverrunPolicy)
	assert.Equal(t, 3, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 15*time.Minute, cfg.Orchestrator.ExecutorTimeout)
	assert.Equal(t, "in_place", cfg.Workspace.Mode)
	assert.InDelta(t, 0.8, cfg.Knowledge.SimilarityThreshold, 1e-9)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
context:
  budget: 8000
  reserve: 1000
  overrun_policy: fail
workspace:
  mode: isolated
orchestrator:
  concurrency: 5
  executor_timeout: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Context.Budget)
	assert.Equal(t, 1000, cfg.Context.Reserve)
	assert.Equal(t, "fail", cfg.Context.OverrunPolicy)
	assert.Equal(t, "isolated", cfg.Workspace.Mode)
	assert.Equal(t, 5, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.ExecutorTimeout)
	// File values do not disturb unrelated defaults.
	assert.Equal(t, 5, cfg.Knowledge.MaxRetrieved)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "context:\n  budget: 8000\n")
	t.Setenv("DISPATCHD_CONTEXT_BUDGET", "16000")
	t.Setenv("DISPATCHD_ORCHESTRATOR_CONCURRENCY", "7")
	t.Setenv("DISPATCHD_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16000, cfg.Context.Budget)
	assert.Equal(t, 7, cfg.Orchestrator.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"reserve over budget": "context:\n  budget: 100\n  reserve: 200\n",
		"bad mode":            "workspace:\n  mode: sideways\n",
		"bad policy":          "context:\n  overrun_policy: panic\n",
		"bad level":           "logging:\n  level: loud\n",
		"bad threshold":       "knowledge:\n  similarity_threshold: 2.5\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "context: [unclosed"))
	require.Error(t, err)
}
