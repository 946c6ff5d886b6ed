package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/confidence"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/inference"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/resilience"
	"github.com/vintagevision/vintagevision/internal/store"
)

// recordingSink collects emitted events.
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

func fastPolicy() resilience.Policy {
	p := resilience.DefaultPolicy()
	p.Backoff = resilience.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}
	p.AttemptTimeout = 5 * time.Second
	return p
}

func newTestOrchestrator(t *testing.T, client inference.Client) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemory()
	o, err := New(client, confidence.NewTracker(mem), fastPolicy(), config.PipelineConfig{DegradedStagePenalty: 0.8})
	require.NoError(t, err)
	return o, mem
}

func testRequest() model.AnalysisRequest {
	return model.AnalysisRequest{
		ID:        "req-1",
		ImageRefs: []string{"front.jpg", "back.jpg"},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
