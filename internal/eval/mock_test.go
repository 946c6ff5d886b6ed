package eval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/scorer"
)

// oracleAnalyzer answers every item with its expected identification,
// keyed by image path. Items listed in fail return an error instead.
type oracleAnalyzer struct {
	mu      sync.Mutex
	byImage map[string]model.ExpectedIdentification
	fail    map[string]bool
	onCall  func(n int)
	block   bool
	calls   int
}

func newOracle(items []model.GroundTruthItem, fixtureDir string) *oracleAnalyzer {
	h := &Harness{opts: Options{FixtureDir: fixtureDir}}
	a := &oracleAnalyzer{byImage: make(map[string]model.ExpectedIdentification), fail: make(map[string]bool)}
	for _, it := range items {
		a.byImage[h.imagePath(it.ImageRef)] = it.Expected
	}
	return a
}

func (a *oracleAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisOutcome, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	onCall := a.onCall
	a.mu.Unlock()
	if onCall != nil {
		onCall(n)
	}

	if a.block {
		<-ctx.Done()
		return nil, apperr.FromContext(ctx, "analysis "+req.ID)
	}

	ref := req.ImageRefs[0]
	if a.fail[ref] {
		return nil, apperr.ExternalService(errors.New("inference unavailable"), "triage failed after 3 attempts")
	}
	exp, ok := a.byImage[ref]
	if !ok {
		return nil, apperr.Validation("unknown image %s", ref)
	}
	return &model.AnalysisOutcome{
		RequestID:  req.ID,
		Name:       exp.Name,
		Maker:      exp.Maker,
		Era:        exp.Era,
		Value:      exp.Value,
		Domain:     exp.Domain,
		Confidence: 0.9,
		Usage:      model.TokenUsage{InputTokens: 10, OutputTokens: 5},
		CostUSD:    0.01,
	}, nil
}

func (a *oracleAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestHarness(t *testing.T, analyzer Analyzer, opts Options) *Harness {
	t.Helper()
	sc, err := scorer.New(scorer.DefaultScorerConfig())
	require.NoError(t, err)
	if opts.BootstrapSamples == 0 {
		opts.BootstrapSamples = 200
	}
	return New(analyzer, sc, opts)
}

func testCorpus(t *testing.T) []model.GroundTruthItem {
	t.Helper()
	items, err := Corpus()
	require.NoError(t, err)
	return items
}
