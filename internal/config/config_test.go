package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/provider"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "analysis.db", cfg.Store.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Orchestrator.MaxProviders)
	assert.Equal(t, 60, cfg.Orchestrator.CacheTTLMins)
	assert.Equal(t, 10, cfg.Factcheck.MaxClaimsPerJob)
	assert.Equal(t, 50000, cfg.Factcheck.MaxTokensPerJob)
	assert.Equal(t, 2, cfg.Factcheck.MaxFallbacks)
	assert.InDelta(t, 0.5, cfg.Factcheck.ConfidenceFloor, 1e-9)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)

	// Default provider set and pricing kick in when the file names none.
	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "anthropic-main", cfg.Providers[0].ID)
	assert.Equal(t, provider.RoleMixed, cfg.Providers[0].Role)
	assert.NotEmpty(t, cfg.Pricing.Anthropic)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: postgres
  dsn: postgres://localhost/analysis
log:
  level: debug
  format: console
server:
  port: 9090
factcheck:
  max_tokens_per_job: 1000
providers:
  - id: local-llm
    kind: openai
    role: knots
    model: llama-3
    weight: 0.5
    max_tokens: 2048
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Factcheck.MaxTokensPerJob)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Factcheck.MaxClaimsPerJob)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "local-llm", cfg.Providers[0].ID)
	assert.Equal(t, provider.RoleKnots, cfg.Providers[0].Role)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	dir := chtemp(t)

	yaml := `
providers:
  - id: bad
    kind: openai
    role: oracle
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtemp(t)

	yaml := `
log:
  level: info
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("ANALYSIS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
