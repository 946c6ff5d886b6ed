// Package analysis is the boundary between callers and the pipeline. It
// validates requests, runs them, and persists outcomes of completed runs.
package analysis

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
	"github.com/vintagevision/vintagevision/internal/store"
)

// Runner executes one analysis, reporting progress to sink.
type Runner interface {
	Run(ctx context.Context, req model.AnalysisRequest, sink pipeline.EventSink) (*model.AnalysisOutcome, error)
}

// Service runs analyses and stores their outcomes.
type Service struct {
	runner Runner
	store  store.AnalysisStore

	now   func() time.Time
	newID func() string
}

// NewService returns a Service.
func NewService(runner Runner, st store.AnalysisStore) *Service {
	return &Service{
		runner: runner,
		store:  st,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Analyze runs req to completion and returns the stored outcome.
func (s *Service) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisOutcome, error) {
	return s.run(ctx, req, nil, "")
}

// Stream runs req, reporting progress to sink. The terminal event is
// emitted only after the outcome has been stored, so a complete event
// always refers to a persisted outcome.
func (s *Service) Stream(ctx context.Context, req model.AnalysisRequest, sink pipeline.EventSink) (*model.AnalysisOutcome, error) {
	return s.run(ctx, req, sink, "")
}

// Reanalyze runs req as a re-run of the outcome supersedes. req always gets
// a fresh id since its evidence differs from the original request.
func (s *Service) Reanalyze(ctx context.Context, req model.AnalysisRequest, supersedes string) (*model.AnalysisOutcome, error) {
	req.ID = ""
	return s.run(ctx, req, nil, supersedes)
}

// Get returns a stored outcome.
func (s *Service) Get(ctx context.Context, id string) (*model.AnalysisOutcome, error) {
	return s.store.GetOutcome(ctx, id)
}

// Request returns the stored request an outcome was produced from.
func (s *Service) Request(ctx context.Context, id string) (*model.AnalysisRequest, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) run(ctx context.Context, req model.AnalysisRequest, sink pipeline.EventSink, supersedes string) (*model.AnalysisOutcome, error) {
	held := &heldSink{next: sink}

	req, err := s.prepare(req)
	if err != nil {
		held.emitError(err)
		return nil, err
	}

	out, err := s.runner.Run(ctx, req, held)
	if err != nil {
		held.flush()
		return nil, err
	}
	if err := apperr.FromContext(ctx, "analysis "+req.ID); err != nil {
		held.emitError(err)
		return nil, err
	}

	out.Supersedes = supersedes
	id, err := s.store.SaveOutcome(ctx, req, out)
	if err != nil {
		zap.L().Error("analysis: save outcome", zap.String("request_id", req.ID), zap.Error(err))
		held.emitError(err)
		return nil, err
	}
	out.ID = id

	zap.L().Info("analysis: outcome stored",
		zap.String("outcome_id", id),
		zap.String("request_id", req.ID),
		zap.String("supersedes", supersedes),
		zap.Float64("confidence", out.Confidence),
	)
	held.flush()
	return out, nil
}

// prepare validates req and fills its id and timestamp.
func (s *Service) prepare(req model.AnalysisRequest) (model.AnalysisRequest, error) {
	if len(req.ImageRefs) == 0 {
		return req, apperr.Validation("analysis: at least one image is required")
	}
	for i, ref := range req.ImageRefs {
		if strings.TrimSpace(ref) == "" {
			return req, apperr.Validation("analysis: image %d is empty", i)
		}
	}
	if p := req.AskingPrice; p != nil && (*p < 0 || math.IsNaN(*p) || math.IsInf(*p, 0)) {
		return req, apperr.Validation("analysis: asking price must be a non-negative number")
	}
	for i, e := range req.Evidence {
		if e.Kind != model.EvidencePhoto && e.Kind != model.EvidenceText {
			return req, apperr.Validation("analysis: evidence %d has unknown kind %q", i, e.Kind)
		}
		if strings.TrimSpace(e.Content) == "" {
			return req, apperr.Validation("analysis: evidence %d is empty", i)
		}
	}

	req = req.WithEvidence()
	if req.ID == "" {
		req.ID = s.newID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now().UTC()
	}
	return req, nil
}

// heldSink forwards progress events but holds the terminal one until the
// service has decided the run's fate.
type heldSink struct {
	next     pipeline.EventSink
	terminal *model.ProgressEvent
	last     int
}

func (h *heldSink) Emit(ev model.ProgressEvent) {
	if ev.Terminal() {
		h.terminal = &ev
		return
	}
	h.last = ev.Progress
	if h.next != nil {
		h.next.Emit(ev)
	}
}

func (h *heldSink) flush() {
	if h.terminal != nil && h.next != nil {
		h.next.Emit(*h.terminal)
	}
	h.terminal = nil
}

func (h *heldSink) emitError(err error) {
	h.terminal = &model.ProgressEvent{
		Type:     model.ProgressError,
		Message:  err.Error(),
		Progress: h.last,
		Error:    string(apperr.KindOf(err)),
	}
	h.flush()
}
