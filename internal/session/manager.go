// Package session runs interactive evidence gathering: it asks the owner
// for the information that would most improve an analysis, collects the
// answers, and re-runs the analysis with them.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/confidence"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
	"github.com/vintagevision/vintagevision/internal/store"
)

// Analyzer re-runs an analysis with additional evidence and stores the
// result as superseding an earlier outcome.
type Analyzer interface {
	Reanalyze(ctx context.Context, req model.AnalysisRequest, supersedes string) (*model.AnalysisOutcome, error)
}

// ImageChecker reports whether an image reference can be loaded.
type ImageChecker interface {
	Check(ref string) error
}

// StartOptions tunes Start.
type StartOptions struct {
	// Force opens a session even when confidence already meets the
	// threshold.
	Force bool
}

// Result is the outcome of a re-analysis together with the session it
// belongs to.
type Result struct {
	Outcome *model.AnalysisOutcome     `json:"outcome,omitempty"`
	Session *model.InteractiveSession `json:"session"`
}

// Manager owns interactive sessions. Mutating operations on one session
// are serialized; different sessions proceed independently.
type Manager struct {
	analyzer Analyzer
	outcomes store.AnalysisStore
	sessions store.SessionStore
	tracker  *confidence.Tracker
	cfg      config.SessionConfig
	plateau  confidence.PlateauPolicy
	locks    *keyedMutex
	images   ImageChecker

	now   func() time.Time
	newID func() string
}

// NewManager returns a Manager.
func NewManager(analyzer Analyzer, outcomes store.AnalysisStore, sessions store.SessionStore, tracker *confidence.Tracker, cfg config.SessionConfig) *Manager {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		cfg.ConfidenceThreshold = 0.85
	}
	return &Manager{
		analyzer: analyzer,
		outcomes: outcomes,
		sessions: sessions,
		tracker:  tracker,
		cfg:      cfg,
		plateau:  confidence.PlateauFromConfig(cfg),
		locks:    newKeyedMutex(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// WithImageChecker makes Respond reject photo answers that cannot be
// loaded.
func (m *Manager) WithImageChecker(c ImageChecker) *Manager {
	m.images = c
	return m
}

// Start opens a session for a stored outcome. Outcomes already at or above
// the confidence threshold are refused unless opts.Force is set.
func (m *Manager) Start(ctx context.Context, outcomeID string, opts StartOptions) (*model.InteractiveSession, error) {
	if strings.TrimSpace(outcomeID) == "" {
		return nil, apperr.Validation("session: outcome id is required")
	}
	outcome, err := m.outcomes.GetOutcome(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	req, err := m.outcomes.GetRequest(ctx, outcome.RequestID)
	if err != nil {
		return nil, err
	}
	if !opts.Force && outcome.Confidence >= m.cfg.ConfidenceThreshold {
		return nil, apperr.Validation("session: confidence %.2f already meets the %.2f threshold", outcome.Confidence, m.cfg.ConfidenceThreshold)
	}

	now := m.now().UTC()
	id := m.newID()
	s := &model.InteractiveSession{
		ID:        id,
		LineageID: id,
		OutcomeID: outcome.ID,
		Request:   req.WithEvidence(),
		Outcome:   outcome,
		Needs:     pipeline.DeriveNeeds(outcome),
		Status:    model.SessionGatheringInfo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Transcript = append(s.Transcript, model.TranscriptEntry{
		Timestamp: now,
		Role:      model.RoleSystem,
		Content:   summary(outcome),
	})
	m.askNeeds(s, now)

	if _, err := m.tracker.Record(ctx, s.LineageID, outcome.Confidence, "initial"); err != nil {
		return nil, err
	}
	if err := m.refresh(ctx, s); err != nil {
		return nil, err
	}
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return nil, err
	}

	zap.L().Info("session: started",
		zap.String("session_id", s.ID),
		zap.String("outcome_id", outcome.ID),
		zap.Float64("confidence", outcome.Confidence),
		zap.Int("needs", len(s.Needs)),
		zap.Bool("forced", opts.Force),
	)
	return s, nil
}

// Get returns a session snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*model.InteractiveSession, error) {
	return m.sessions.GetSession(ctx, id)
}

// Respond records the owner's answer to one information need. It does not
// re-run the analysis.
func (m *Manager) Respond(ctx context.Context, id, needID string, kind model.EvidenceKind, content string) (*model.InteractiveSession, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != model.SessionGatheringInfo {
		return nil, apperr.SessionState("session %s: cannot respond while %s", id, s.Status)
	}
	need, ok := s.Need(needID)
	if !ok {
		return nil, apperr.NotFound("session %s: need %s not found", id, needID)
	}
	if need.Resolved {
		return nil, apperr.Validation("session %s: need %s already answered", id, needID)
	}
	if kind != need.Kind {
		return nil, apperr.Validation("session %s: need %s expects a %s answer, got %s", id, needID, need.Kind, kind)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("session %s: answer to %s is empty", id, needID)
	}
	if kind == model.EvidencePhoto && m.images != nil {
		if err := m.images.Check(content); err != nil {
			return nil, apperr.Validation("session %s: photo for %s: %v", id, needID, err)
		}
	}

	now := m.now().UTC()
	need.Resolved = true
	need.ResolvedAt = &now
	s.Transcript = append(s.Transcript, model.TranscriptEntry{
		Timestamp: now,
		Role:      model.RoleUser,
		NeedID:    needID,
		Kind:      kind,
		Content:   content,
	})
	s.UpdatedAt = now

	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	zap.L().Debug("session: need resolved", zap.String("session_id", id), zap.String("need", needID))
	return s, nil
}

// Reanalyze re-runs the analysis with the original request plus every
// answer collected so far. Reported confidence never drops below the best
// the lineage has seen. On failure the session returns to gathering_info
// and is returned alongside the error.
func (m *Manager) Reanalyze(ctx context.Context, id string) (*Result, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(s.Status, model.SessionProcessing) {
		return &Result{Session: s}, apperr.SessionState("session %s: cannot re-analyze while %s", id, s.Status)
	}
	evidence := s.ResolvedEvidence()
	if len(evidence) == 0 {
		return &Result{Session: s}, apperr.Validation("session %s: answer at least one question before re-analyzing", id)
	}

	if err := transition(s, model.SessionProcessing); err != nil {
		return &Result{Session: s}, err
	}
	s.UpdatedAt = m.now().UTC()
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	// Any failure below restores this snapshot in gathering_info.
	base := s.Clone()

	req := s.Request.WithEvidence(evidence...)
	req.CreatedAt = time.Time{}
	log := zap.L().With(zap.String("session_id", id), zap.Int("round", s.Round+1))
	log.Info("session: re-analyzing", zap.Int("evidence", len(req.Evidence)))

	out, runErr := m.analyzer.Reanalyze(ctx, req, s.OutcomeID)
	if runErr != nil {
		log.Warn("session: re-analysis failed", zap.Error(runErr))
		if apperr.Is(runErr, apperr.KindValidation) {
			m.reopenPhotoNeeds(base, runErr)
		}
		return m.revert(ctx, base, runErr)
	}

	rec, regressed, err := m.tracker.RecordRound(ctx, s.LineageID, out.Confidence, "reanalysis")
	if err != nil {
		return m.revert(ctx, base, err)
	}

	now := m.now().UTC()
	s.Round++
	if regressed {
		s.Regressions = append(s.Regressions, model.ConfidenceRegression{
			Round:    s.Round,
			Previous: rec.Confidence,
			Observed: out.Confidence,
			At:       now,
		})
	}
	shown := *out
	shown.Confidence = rec.Confidence
	s.Outcome = &shown
	s.OutcomeID = out.ID
	s.Transcript = append(s.Transcript, model.TranscriptEntry{
		Timestamp: now,
		Role:      model.RoleSystem,
		Content:   summary(&shown),
	})
	if err := transition(s, model.SessionComplete); err != nil {
		return m.revert(ctx, base, err)
	}
	if err := m.refresh(ctx, s); err != nil {
		log.Warn("session: refresh after re-analysis failed", zap.Error(err))
		return m.revert(ctx, base, err)
	}
	s.UpdatedAt = now
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		log.Warn("session: save after re-analysis failed", zap.Error(err))
		return m.revert(ctx, base, err)
	}

	log.Info("session: re-analysis complete",
		zap.String("outcome_id", out.ID),
		zap.Float64("observed", out.Confidence),
		zap.Float64("confidence", rec.Confidence),
		zap.Bool("regressed", regressed),
	)
	return &Result{Outcome: &shown, Session: s}, nil
}

// reopenPhotoNeeds marks photo answers that cannot be loaded as unanswered
// so the owner can send another. Without an image checker every photo
// answer in s is reopened.
func (m *Manager) reopenPhotoNeeds(s *model.InteractiveSession, cause error) {
	now := m.now().UTC()
	for _, ev := range s.ResolvedEvidence() {
		if ev.Kind != model.EvidencePhoto {
			continue
		}
		reason := cause
		if m.images != nil {
			if reason = m.images.Check(ev.Content); reason == nil {
				continue
			}
		}
		need, ok := s.Need(ev.NeedID)
		if !ok {
			continue
		}
		need.Resolved = false
		need.ResolvedAt = nil
		s.Transcript = append(s.Transcript, model.TranscriptEntry{
			Timestamp: now,
			Role:      model.RoleSystem,
			NeedID:    need.ID,
			Kind:      need.Kind,
			Content:   fmt.Sprintf("The photo %s could not be used (%v). %s", ev.Content, reason, need.Question),
		})
		zap.L().Info("session: photo answer reopened",
			zap.String("session_id", s.ID),
			zap.String("need", need.ID),
			zap.Error(reason),
		)
	}
}

// revert returns a session snapshot taken in processing back to
// gathering_info and saves it.
func (m *Manager) revert(ctx context.Context, s *model.InteractiveSession, cause error) (*Result, error) {
	if err := transition(s, model.SessionGatheringInfo); err != nil {
		return &Result{Session: s}, err
	}
	s.UpdatedAt = m.now().UTC()
	if err := m.sessions.SaveSession(context.WithoutCancel(ctx), s); err != nil {
		zap.L().Error("session: save after failed re-analysis", zap.String("session_id", s.ID), zap.Error(err))
	}
	return &Result{Session: s}, cause
}

// Abandon ends a session without a result. Abandoning an abandoned session
// is a no-op.
func (m *Manager) Abandon(ctx context.Context, id string) (*model.InteractiveSession, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == model.SessionAbandoned {
		return s, nil
	}
	if err := transition(s, model.SessionAbandoned); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now().UTC()
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	zap.L().Info("session: abandoned", zap.String("session_id", id), zap.Int("round", s.Round))
	return s, nil
}

// FollowUp opens the next round for a complete session whose confidence is
// still below the threshold. The new session shares the lineage and its
// confidence ledger and does not ask again for anything already answered.
func (m *Manager) FollowUp(ctx context.Context, id string) (*model.InteractiveSession, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	prev, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != model.SessionComplete {
		return nil, apperr.SessionState("session %s: follow-up requires a complete session, not %s", id, prev.Status)
	}
	if prev.FollowedBy != "" {
		return nil, apperr.SessionState("session %s: already followed up by %s", id, prev.FollowedBy)
	}
	if prev.Outcome != nil && prev.Outcome.Confidence >= m.cfg.ConfidenceThreshold {
		return nil, apperr.Validation("session %s: confidence %.2f already meets the %.2f threshold", id, prev.Outcome.Confidence, m.cfg.ConfidenceThreshold)
	}
	if prev.Round >= m.cfg.MaxRounds {
		return nil, apperr.SessionState("session %s: reached the limit of %d rounds", id, m.cfg.MaxRounds)
	}
	plateaued, err := m.tracker.Plateaued(ctx, prev.LineageID, m.plateau)
	if err != nil {
		return nil, err
	}
	if plateaued {
		return nil, apperr.SessionState("session %s: confidence has plateaued", id)
	}

	req := prev.Request.WithEvidence(prev.ResolvedEvidence()...)
	answered := make(map[string]bool, len(req.Evidence))
	for _, e := range req.Evidence {
		answered[e.NeedType] = true
	}
	var needs []model.InformationNeed
	for _, n := range pipeline.DeriveNeeds(prev.Outcome) {
		if !answered[n.Type] {
			needs = append(needs, n)
		}
	}
	if len(needs) == 0 {
		return nil, apperr.SessionState("session %s: no open questions remain", id)
	}

	now := m.now().UTC()
	s := &model.InteractiveSession{
		ID:        m.newID(),
		LineageID: prev.LineageID,
		ParentID:  prev.ID,
		OutcomeID: prev.OutcomeID,
		Request:   req,
		Outcome:   prev.Outcome,
		Needs:     needs,
		Status:    model.SessionGatheringInfo,
		Round:     prev.Round,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.askNeeds(s, now)
	if err := m.refresh(ctx, s); err != nil {
		return nil, err
	}
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	prev.FollowedBy = s.ID
	prev.UpdatedAt = now
	if err := m.sessions.SaveSession(ctx, prev); err != nil {
		return nil, err
	}

	zap.L().Info("session: follow-up opened",
		zap.String("session_id", s.ID),
		zap.String("parent_id", prev.ID),
		zap.String("lineage_id", s.LineageID),
		zap.Int("round", s.Round),
		zap.Int("needs", len(needs)),
	)
	return s, nil
}

// refresh reloads the lineage confidence history and recomputes the
// escalation advice.
func (m *Manager) refresh(ctx context.Context, s *model.InteractiveSession) error {
	hist, err := m.tracker.History(ctx, s.LineageID)
	if err != nil {
		return err
	}
	s.ConfidenceHistory = hist
	s.Escalation = escalate(s, m.cfg.MaxRounds, m.plateau.Check(hist))
	return nil
}

func (m *Manager) askNeeds(s *model.InteractiveSession, at time.Time) {
	for _, n := range s.Needs {
		s.Transcript = append(s.Transcript, model.TranscriptEntry{
			Timestamp: at,
			Role:      model.RoleSystem,
			NeedID:    n.ID,
			Kind:      n.Kind,
			Content:   n.Question,
		})
	}
}

func summary(o *model.AnalysisOutcome) string {
	name := o.Name
	if name == "" {
		name = "an unidentified item"
	}
	return fmt.Sprintf("Identified as %s with %.0f%% confidence.", name, o.Confidence*100)
}
