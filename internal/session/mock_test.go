package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/confidence"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/store"
)

// scriptedAnalyzer returns outcomes with scripted confidences.
type scriptedAnalyzer struct {
	mu    sync.Mutex
	confs []float64
	err   error
	calls []model.AnalysisRequest
}

func (a *scriptedAnalyzer) Reanalyze(_ context.Context, req model.AnalysisRequest, supersedes string) (*model.AnalysisOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	if a.err != nil {
		return nil, a.err
	}
	n := len(a.calls) - 1
	return &model.AnalysisOutcome{
		ID:               fmt.Sprintf("out-r%d", n+1),
		RequestID:        fmt.Sprintf("req-r%d", n+1),
		Domain:           "silver",
		Name:             "Silver teapot",
		AuthenticityRisk: model.RiskUnknown,
		Confidence:       a.confs[min(n, len(a.confs)-1)],
		Supersedes:       supersedes,
	}, nil
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		ConfidenceThreshold: 0.85,
		MaxRounds:           3,
		PlateauRounds:       2,
		PlateauMinGain:      0.05,
	}
}

func newTestManager(t *testing.T, analyzer Analyzer, cfg config.SessionConfig) (*Manager, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemory()
	tr := confidence.NewTracker(mem)
	m := NewManager(analyzer, mem, mem, tr, cfg)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m, mem
}

// seedOutcome stores a silver teapot outcome at conf.
func seedOutcome(t *testing.T, mem *store.MemoryStore, conf float64) *model.AnalysisOutcome {
	t.Helper()
	req := model.AnalysisRequest{ID: "req-1", ImageRefs: []string{"teapot.jpg"}}
	out := &model.AnalysisOutcome{
		ID:               "out-1",
		RequestID:        "req-1",
		Domain:           "silver",
		Name:             "Georgian silver teapot",
		Maker:            "Hester Bateman",
		Era:              model.YearRange{Start: 1780, End: 1790},
		AuthenticityRisk: model.RiskMedium,
		Confidence:       conf,
	}
	_, err := mem.SaveOutcome(context.Background(), req, out)
	require.NoError(t, err)
	return out
}

// stubImages rejects the references in bad. References can be marked bad
// after they were accepted.
type stubImages struct {
	mu  sync.Mutex
	bad map[string]bool
}

func newStubImages(bad ...string) *stubImages {
	s := &stubImages{bad: make(map[string]bool)}
	for _, ref := range bad {
		s.bad[ref] = true
	}
	return s
}

func (s *stubImages) Check(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bad[ref] {
		return apperr.Validation("image %s: no such file", ref)
	}
	return nil
}

func (s *stubImages) markBad(ref string) {
	s.mu.Lock()
	s.bad[ref] = true
	s.mu.Unlock()
}

// flakySessions fails SaveSession for sessions in status failOn while
// armed.
type flakySessions struct {
	store.SessionStore
	mu     sync.Mutex
	failOn model.SessionStatus
}

func (f *flakySessions) arm(status model.SessionStatus) {
	f.mu.Lock()
	f.failOn = status
	f.mu.Unlock()
}

func (f *flakySessions) SaveSession(ctx context.Context, s *model.InteractiveSession) error {
	f.mu.Lock()
	fail := f.failOn != "" && s.Status == f.failOn
	f.mu.Unlock()
	if fail {
		return eris.New("disk full")
	}
	return f.SessionStore.SaveSession(ctx, s)
}
