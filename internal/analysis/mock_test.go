package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/confidence"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/inference"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
	"github.com/vintagevision/vintagevision/internal/resilience"
	"github.com/vintagevision/vintagevision/internal/store"
)

// mockAnalysisStore implements store.AnalysisStore for testing.
type mockAnalysisStore struct {
	mock.Mock
}

func (m *mockAnalysisStore) SaveOutcome(ctx context.Context, req model.AnalysisRequest, outcome *model.AnalysisOutcome) (string, error) {
	args := m.Called(ctx, req, outcome)
	return args.String(0), args.Error(1)
}

func (m *mockAnalysisStore) GetOutcome(ctx context.Context, id string) (*model.AnalysisOutcome, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisOutcome), args.Error(1)
}

func (m *mockAnalysisStore) GetRequest(ctx context.Context, id string) (*model.AnalysisRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisRequest), args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (r *recordingSink) Emit(ev model.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) Events() []model.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ProgressEvent(nil), r.events...)
}

func newOrchestrator(t *testing.T, client inference.Client, ledger confidence.Ledger) *pipeline.Orchestrator {
	t.Helper()
	p := resilience.DefaultPolicy()
	p.Backoff = resilience.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}
	o, err := pipeline.New(client, confidence.NewTracker(ledger), p, config.PipelineConfig{DegradedStagePenalty: 0.8})
	require.NoError(t, err)
	return o
}

func newTestService(t *testing.T, client inference.Client) (*Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemory()
	return NewService(newOrchestrator(t, client, mem), mem), mem
}
