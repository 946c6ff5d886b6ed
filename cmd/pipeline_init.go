package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/analysis"
	"github.com/vintagevision/vintagevision/internal/confidence"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/cost"
	"github.com/vintagevision/vintagevision/internal/eval"
	"github.com/vintagevision/vintagevision/internal/inference"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
	"github.com/vintagevision/vintagevision/internal/resilience"
	"github.com/vintagevision/vintagevision/internal/scorer"
	"github.com/vintagevision/vintagevision/internal/session"
	"github.com/vintagevision/vintagevision/internal/store"
	anthropicpkg "github.com/vintagevision/vintagevision/pkg/anthropic"
)

// appEnv holds the store and services needed by the analyze, eval and
// serve commands.
type appEnv struct {
	Store    store.Store
	Tracker  *confidence.Tracker
	Pipeline *pipeline.Orchestrator
	Analysis *analysis.Service
	Sessions *session.Manager
	Harness  *eval.Harness
	Corpus   []model.GroundTruthItem
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates configuration for mode, opens the store and builds the
// inference client. Callers should defer env.Close().
func initApp(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	env, err := newAppEnv(c, st, newInferenceClient(c))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Info("environment ready",
		zap.String("mode", mode),
		zap.String("store", c.Store.Driver),
		zap.Int("corpus_items", len(env.Corpus)),
	)
	return env, nil
}

// newInferenceClient wires the Anthropic client behind the shared limiter
// and circuit breaker.
func newInferenceClient(c *config.Config) inference.Client {
	api := anthropicpkg.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL)
	breaker := resilience.NewCircuitBreaker(resilience.BreakerFromConfig("anthropic", c.Resilience))
	return inference.NewAnthropicClient(api, c.Anthropic, inference.NewLimiter(c.Anthropic), breaker, cost.FromConfig(c.Pricing))
}

// newAppEnv builds the services over an open store and inference client.
func newAppEnv(c *config.Config, st store.Store, client inference.Client) (*appEnv, error) {
	tracker := confidence.NewTracker(st)

	orch, err := pipeline.New(client, tracker, resilience.FromConfig(c.Resilience), c.Pipeline)
	if err != nil {
		return nil, eris.Wrap(err, "build pipeline")
	}
	svc := analysis.NewService(orch, st)

	sc, err := scorer.New(c.Scorer)
	if err != nil {
		return nil, eris.Wrap(err, "build scorer")
	}
	corpus, err := eval.Corpus()
	if err != nil {
		return nil, eris.Wrap(err, "load ground truth")
	}
	harness := eval.New(orch, sc, eval.OptionsFromConfig(c.Eval)).WithStores(st, st)

	return &appEnv{
		Store:    st,
		Tracker:  tracker,
		Pipeline: orch,
		Analysis: svc,
		Sessions: session.NewManager(svc, st, st, tracker, c.Session).WithImageChecker(inference.NewImageLoader(c.Anthropic.MaxImageBytes)),
		Harness:  harness,
		Corpus:   corpus,
	}, nil
}
