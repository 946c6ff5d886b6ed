package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/analysis"
	"github.com/vintagevision/vintagevision/internal/confidence"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/inference/inferencetest"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
	"github.com/vintagevision/vintagevision/internal/resilience"
	"github.com/vintagevision/vintagevision/internal/session"
	"github.com/vintagevision/vintagevision/internal/store"
)

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

// stubEvaluator records what it was asked to evaluate.
type stubEvaluator struct {
	mu    sync.Mutex
	items []model.GroundTruthItem
	mode  model.EvalMode
}

func (e *stubEvaluator) report(mode model.EvalMode, items []model.GroundTruthItem) *model.EvaluationReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.items = items
	return &model.EvaluationReport{ID: "rep-" + string(mode), Mode: mode, Total: len(items)}
}

func (e *stubEvaluator) RunFull(_ context.Context, items []model.GroundTruthItem) (*model.EvaluationReport, error) {
	return e.report(model.EvalFull, items), nil
}

func (e *stubEvaluator) RunSmoke(_ context.Context, sample []model.GroundTruthItem) (*model.EvaluationReport, error) {
	return e.report(model.EvalSmoke, sample), nil
}

func (e *stubEvaluator) RunSingle(_ context.Context, item model.GroundTruthItem) model.ScoreResult {
	e.report(model.EvalSingle, []model.GroundTruthItem{item})
	return model.ScoreResult{ItemID: item.ID, Domain: item.Expected.Domain, OverallScore: 88}
}

func (e *stubEvaluator) SmokeSize() int { return 3 }

type testEnv struct {
	handler   http.Handler
	mem       *store.MemoryStore
	client    *inferencetest.Client
	evaluator *stubEvaluator
}

func newTestEnv(t *testing.T, client *inferencetest.Client) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	tracker := confidence.NewTracker(mem)

	policy := resilience.DefaultPolicy()
	policy.Backoff = resilience.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}
	orch, err := pipeline.New(client, tracker, policy, config.PipelineConfig{DegradedStagePenalty: 0.8})
	require.NoError(t, err)
	svc := analysis.NewService(orch, mem)
	mgr := session.NewManager(svc, mem, mem, tracker, config.SessionConfig{
		ConfidenceThreshold: 0.85,
		MaxRounds:           3,
		PlateauRounds:       2,
		PlateauMinGain:      0.05,
	})

	corpus := []model.GroundTruthItem{
		{ID: "art-001", Expected: model.ExpectedIdentification{Name: "A", Domain: "art"}},
		{ID: "silv-001", Expected: model.ExpectedIdentification{Name: "B", Domain: "silver"}},
		{ID: "toys-001", Expected: model.ExpectedIdentification{Name: "C", Domain: "toys"}},
		{ID: "toys-002", Expected: model.ExpectedIdentification{Name: "D", Domain: "toys"}},
	}
	ev := &stubEvaluator{}

	srv := New(Deps{
		Analyses:  svc,
		Sessions:  mgr,
		Evaluator: ev,
		Corpus:    corpus,
		Reports:   mem,
		Insights:  mem,
	}, config.ServerConfig{Port: 0, CORSOrigins: []string{"https://app.example"}})

	return &testEnv{handler: srv.Handler(), mem: mem, client: client, evaluator: ev}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			r = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type sseFrame struct {
	Event string
	Data  model.ProgressEvent
}

// parseSSE splits a recorded stream into frames.
func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, chunk := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(chunk, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.Data))
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func configForTest() config.ServerConfig {
	return config.ServerConfig{Port: 0}
}
