package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/model"
)

// MemoryStore implements Store in process. Values are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	requests    map[string]model.AnalysisRequest
	outcomes    map[string]model.AnalysisOutcome
	sessions    map[string]*model.InteractiveSession
	confidence  map[string][]model.ConfidenceRecord
	reports     map[string]model.EvaluationReport
	reportOrder []string
	insights    map[string]model.DomainInsight
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		requests:   make(map[string]model.AnalysisRequest),
		outcomes:   make(map[string]model.AnalysisOutcome),
		sessions:   make(map[string]*model.InteractiveSession),
		confidence: make(map[string][]model.ConfidenceRecord),
		reports:    make(map[string]model.EvaluationReport),
		insights:   make(map[string]model.DomainInsight),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SaveOutcome(_ context.Context, req model.AnalysisRequest, outcome *model.AnalysisOutcome) (string, error) {
	if outcome == nil {
		return "", apperr.Validation("store: nil outcome")
	}
	o, err := deepCopy(*outcome)
	if err != nil {
		return "", err
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RequestID == "" {
		o.RequestID = req.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outcomes[o.ID]; ok {
		return "", apperr.Validation("store: outcome %s already exists", o.ID)
	}
	if _, ok := m.requests[req.ID]; !ok {
		m.requests[req.ID] = req.WithEvidence()
	}
	m.outcomes[o.ID] = o
	return o.ID, nil
}

func (m *MemoryStore) GetOutcome(_ context.Context, id string) (*model.AnalysisOutcome, error) {
	m.mu.RLock()
	o, ok := m.outcomes[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("outcome %s not found", id)
	}
	out, err := deepCopy(o)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*model.AnalysisRequest, error) {
	m.mu.RLock()
	r, ok := m.requests[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("request %s not found", id)
	}
	out := r.WithEvidence()
	return &out, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *model.InteractiveSession) error {
	if s == nil || s.ID == "" {
		return apperr.Validation("store: session id is required")
	}
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*model.InteractiveSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("session %s not found", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) AppendConfidence(_ context.Context, id string, rec model.ConfidenceRecord) error {
	m.mu.Lock()
	m.confidence[id] = append(m.confidence[id], rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListConfidence(_ context.Context, id string) ([]model.ConfidenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.confidence[id]
	out := make([]model.ConfidenceRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *MemoryStore) SaveReport(_ context.Context, r *model.EvaluationReport) error {
	if r == nil {
		return apperr.Validation("store: nil report")
	}
	cp, err := deepCopy(*r)
	if err != nil {
		return err
	}
	if cp.ID == "" {
		cp.ID = uuid.New().String()
		r.ID = cp.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[cp.ID]; !ok {
		m.reportOrder = append(m.reportOrder, cp.ID)
	}
	m.reports[cp.ID] = cp
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, id string) (*model.EvaluationReport, error) {
	m.mu.RLock()
	r, ok := m.reports[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("report %s not found", id)
	}
	out, err := deepCopy(r)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListReports returns the most recent reports first.
func (m *MemoryStore) ListReports(_ context.Context, limit int) ([]model.EvaluationReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.EvaluationReport
	for i := len(m.reportOrder) - 1; i >= 0 && len(out) < limit; i-- {
		cp, err := deepCopy(m.reports[m.reportOrder[i]])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemoryStore) UpsertInsight(_ context.Context, in model.DomainInsight) error {
	if in.Domain == "" {
		return apperr.Validation("store: insight domain is required")
	}
	m.mu.Lock()
	m.insights[in.Domain] = in
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetInsight(_ context.Context, domain string) (*model.DomainInsight, error) {
	m.mu.RLock()
	in, ok := m.insights[domain]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &in, nil
}

// ListInsights returns insights ordered by domain.
func (m *MemoryStore) ListInsights(context.Context) ([]model.DomainInsight, error) {
	m.mu.RLock()
	out := make([]model.DomainInsight, 0, len(m.insights))
	for _, in := range m.insights {
		out = append(out, in)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func deepCopy[T any](v T) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, eris.Wrap(err, "store: copy")
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, eris.Wrap(err, "store: copy")
	}
	return out, nil
}
