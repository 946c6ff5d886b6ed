package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.TriageModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SynthesisModel)
	assert.InDelta(t, 0.8, cfg.Pipeline.DegradedStagePenalty, 0.001)
	assert.InDelta(t, 0.85, cfg.Session.ConfidenceThreshold, 0.001)
	assert.Equal(t, 3, cfg.Session.MaxRounds)
	assert.Equal(t, 2, cfg.Session.PlateauRounds)
	assert.InDelta(t, 0.05, cfg.Session.PlateauMinGain, 0.001)
	assert.Equal(t, 4, cfg.Eval.Workers)
	assert.Equal(t, 10, cfg.Eval.SmokeSize)
	assert.Equal(t, uint64(42), cfg.Eval.Seed)
	assert.InDelta(t, 70, cfg.Scorer.NameWeight, 0.001)
	assert.InDelta(t, 10, cfg.Scorer.ValueWeight, 0.001)
	assert.InDelta(t, 75, cfg.Scorer.PassThreshold, 0.001)
	assert.Equal(t, 3, cfg.Resilience.TransientAttempts)
	assert.Equal(t, 60, cfg.Resilience.StageTimeoutSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/vintage
log:
  level: debug
  format: console
session:
  max_rounds: 5
eval:
  workers: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/vintage", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Session.MaxRounds)
	assert.Equal(t, 8, cfg.Eval.Workers)
	// Defaults still apply for unset values
	assert.Equal(t, 2, cfg.Session.PlateauRounds)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("VINTAGE_STORE_DRIVER", "memory")
	t.Setenv("VINTAGE_LOG_LEVEL", "warn")
	t.Setenv("VINTAGE_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Store.Driver = "memory"
	cfg.Server.Port = 8080
	cfg.Pipeline.DegradedStagePenalty = 0.8
	cfg.Session.ConfidenceThreshold = 0.85
	cfg.Session.MaxRounds = 3
	cfg.Eval.Workers = 4
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"analyze", "serve", "eval"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_MissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidate_StoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required for driver postgres")

	cfg.Store.Driver = "mongo"
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be")
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Session.ConfidenceThreshold = 1.5
	cfg.Pipeline.DegradedStagePenalty = 0
	cfg.Eval.Workers = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "session.confidence_threshold")
	assert.Contains(t, err.Error(), "pipeline.degraded_stage_penalty")
	assert.NotContains(t, err.Error(), "eval.workers")

	err = cfg.Validate("eval")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eval.workers must be between 1 and 32")
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestModelFor(t *testing.T) {
	a := AnthropicConfig{TriageModel: "h", EvidenceModel: "e", IdentificationModel: "i", SynthesisModel: "s"}
	assert.Equal(t, "h", a.ModelFor("triage"))
	assert.Equal(t, "e", a.ModelFor("evidence"))
	assert.Equal(t, "i", a.ModelFor("identification"))
	assert.Equal(t, "s", a.ModelFor("synthesis"))
}
