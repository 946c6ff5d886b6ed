package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/inference"
	"github.com/vintagevision/vintagevision/internal/inference/inferencetest"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/scorer"
	"github.com/vintagevision/vintagevision/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Store:    config.StoreConfig{Driver: "memory"},
		Pipeline: config.PipelineConfig{DegradedStagePenalty: 0.8},
		Session: config.SessionConfig{
			ConfidenceThreshold: 0.85,
			MaxRounds:           3,
			PlateauRounds:       2,
			PlateauMinGain:      0.05,
		},
		Eval: config.EvalConfig{
			Workers:          2,
			SmokeSize:        10,
			BootstrapSamples: 100,
			Seed:             1,
		},
		Scorer:     scorer.DefaultScorerConfig(),
		Resilience: config.ResilienceConfig{InitialBackoffMs: 1, MaxBackoffMs: 1, Multiplier: 1},
	}
}

// writePhoto writes a minimal PNG under t.TempDir and returns its path.
func writePhoto(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestAppEnv(t *testing.T, client inference.Client) *appEnv {
	t.Helper()
	env, err := newAppEnv(testConfig(), store.NewMemory(), client)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return env
}

// phasedClient answers the first full analysis from first and every later
// one from then.
type phasedClient struct {
	mu    sync.Mutex
	runs  int
	first *inferencetest.Client
	then  *inferencetest.Client
}

func (p *phasedClient) Infer(ctx context.Context, req inference.Request) (*inference.Response, error) {
	p.mu.Lock()
	if req.Stage == model.StageTriage {
		p.runs++
	}
	c := p.first
	if p.runs > 1 {
		c = p.then
	}
	p.mu.Unlock()
	return c.Infer(ctx, req)
}

func teapot(conf float64) inferencetest.Identification {
	return inferencetest.Identification{
		Domain:     "silver",
		Name:       "Georgian silver teapot",
		Maker:      "Hester Bateman",
		Era:        model.YearRange{Start: 1780, End: 1790},
		Value:      model.ValueRange{Low: 2000, High: 4000},
		Risk:       model.RiskMedium,
		Confidence: conf,
	}
}

func eamesChair() inferencetest.Identification {
	return inferencetest.Identification{
		Domain:     "furniture",
		Name:       "Eames Lounge Chair",
		Maker:      "Herman Miller",
		Era:        model.YearRange{Start: 1956, End: 2026},
		Value:      model.ValueRange{Low: 3000, High: 8000},
		Confidence: 0.9,
	}
}
