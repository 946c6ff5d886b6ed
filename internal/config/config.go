package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Eval       EvalConfig       `yaml:"eval" mapstructure:"eval"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory, sqlite, postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds inference API settings. Each stage may use its own
// model.
type AnthropicConfig struct {
	Key                 string  `yaml:"key" mapstructure:"key"`
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	TriageModel         string  `yaml:"triage_model" mapstructure:"triage_model"`
	EvidenceModel       string  `yaml:"evidence_model" mapstructure:"evidence_model"`
	IdentificationModel string  `yaml:"identification_model" mapstructure:"identification_model"`
	SynthesisModel      string  `yaml:"synthesis_model" mapstructure:"synthesis_model"`
	MaxTokens           int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature         float64 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst               int     `yaml:"burst" mapstructure:"burst"`
	MaxImageBytes       int64   `yaml:"max_image_bytes" mapstructure:"max_image_bytes"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PipelineConfig configures the staged analysis.
type PipelineConfig struct {
	DegradedStagePenalty float64 `yaml:"degraded_stage_penalty" mapstructure:"degraded_stage_penalty"`
}

// SessionConfig configures interactive evidence gathering.
type SessionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxRounds           int     `yaml:"max_rounds" mapstructure:"max_rounds"`
	PlateauRounds       int     `yaml:"plateau_rounds" mapstructure:"plateau_rounds"`
	PlateauMinGain      float64 `yaml:"plateau_min_gain" mapstructure:"plateau_min_gain"`
}

// EvalConfig configures the evaluation harness.
type EvalConfig struct {
	Workers           int     `yaml:"workers" mapstructure:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	ItemTimeoutSecs   int     `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	SmokeSize         int     `yaml:"smoke_size" mapstructure:"smoke_size"`
	FixtureDir        string  `yaml:"fixture_dir" mapstructure:"fixture_dir"`
	BootstrapSamples  int     `yaml:"bootstrap_samples" mapstructure:"bootstrap_samples"`
	Seed              uint64  `yaml:"seed" mapstructure:"seed"`
}

// ScorerConfig holds component weights (sum = 100) and thresholds.
type ScorerConfig struct {
	NameWeight             float64 `yaml:"name_weight" mapstructure:"name_weight"`
	MakerWeight            float64 `yaml:"maker_weight" mapstructure:"maker_weight"`
	EraWeight              float64 `yaml:"era_weight" mapstructure:"era_weight"`
	ValueWeight            float64 `yaml:"value_weight" mapstructure:"value_weight"`
	PassThreshold          float64 `yaml:"pass_threshold" mapstructure:"pass_threshold"`
	ComponentFailThreshold float64 `yaml:"component_fail_threshold" mapstructure:"component_fail_threshold"`
}

// ResilienceConfig configures retries, timeouts and the circuit breaker for
// inference calls.
type ResilienceConfig struct {
	TransientAttempts       int     `yaml:"transient_attempts" mapstructure:"transient_attempts"`
	TimeoutAttempts         int     `yaml:"timeout_attempts" mapstructure:"timeout_attempts"`
	ParseAttempts           int     `yaml:"parse_attempts" mapstructure:"parse_attempts"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier              float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction          float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	StageTimeoutSecs        int     `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VINTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "vintagevision.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.triage_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.evidence_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.identification_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.requests_per_second", 4)
	v.SetDefault("anthropic.burst", 4)
	v.SetDefault("anthropic.max_image_bytes", 5*1024*1024)
	v.SetDefault("pipeline.degraded_stage_penalty", 0.8)
	v.SetDefault("session.confidence_threshold", 0.85)
	v.SetDefault("session.max_rounds", 3)
	v.SetDefault("session.plateau_rounds", 2)
	v.SetDefault("session.plateau_min_gain", 0.05)
	v.SetDefault("eval.workers", 4)
	v.SetDefault("eval.requests_per_second", 2)
	v.SetDefault("eval.item_timeout_secs", 240)
	v.SetDefault("eval.smoke_size", 10)
	v.SetDefault("eval.fixture_dir", "testdata/groundtruth")
	v.SetDefault("eval.bootstrap_samples", 1000)
	v.SetDefault("eval.seed", 42)
	v.SetDefault("scorer.name_weight", 70)
	v.SetDefault("scorer.maker_weight", 10)
	v.SetDefault("scorer.era_weight", 10)
	v.SetDefault("scorer.value_weight", 10)
	v.SetDefault("scorer.pass_threshold", 75)
	v.SetDefault("scorer.component_fail_threshold", 0.5)
	v.SetDefault("resilience.transient_attempts", 3)
	v.SetDefault("resilience.timeout_attempts", 2)
	v.SetDefault("resilience.parse_attempts", 2)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.stage_timeout_secs", 60)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required by the given command mode:
// "analyze", "serve" or "eval".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze", "eval":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, fmt.Sprintf("store.database_url is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be memory, sqlite or postgres, got %q", c.Store.Driver))
	}

	if c.Session.ConfidenceThreshold <= 0 || c.Session.ConfidenceThreshold > 1 {
		errs = append(errs, "session.confidence_threshold must be in (0, 1]")
	}
	if c.Session.MaxRounds < 1 {
		errs = append(errs, "session.max_rounds must be >= 1")
	}
	if c.Pipeline.DegradedStagePenalty <= 0 || c.Pipeline.DegradedStagePenalty > 1 {
		errs = append(errs, "pipeline.degraded_stage_penalty must be in (0, 1]")
	}
	if mode == "eval" && (c.Eval.Workers < 1 || c.Eval.Workers > 32) {
		errs = append(errs, "eval.workers must be between 1 and 32")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ModelFor returns the configured model for a stage name.
func (a AnthropicConfig) ModelFor(stage string) string {
	switch stage {
	case "triage":
		return a.TriageModel
	case "evidence":
		return a.EvidenceModel
	case "identification":
		return a.IdentificationModel
	default:
		return a.SynthesisModel
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
