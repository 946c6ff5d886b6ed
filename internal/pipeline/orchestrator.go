// Package pipeline runs the four-stage analysis (triage, evidence,
// identification, synthesis) against the inference client and aggregates
// the stage answers into an AnalysisOutcome.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/confidence"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/inference"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/resilience"
)

var stageMessages = map[model.Stage]string{
	model.StageTriage:         "Classifying the item and selecting a specialist",
	model.StageEvidence:       "Examining marks, materials, and construction",
	model.StageIdentification: "Matching against known makers and patterns",
	model.StageSynthesis:      "Estimating value and preparing the assessment",
}

// Orchestrator runs analyses. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	client  inference.Client
	tracker *confidence.Tracker
	schemas *Schemas
	policy  resilience.Policy
	cfg     config.PipelineConfig

	now   func() time.Time
	newID func() string
}

// New compiles the stage schemas and returns an Orchestrator. A nil tracker
// skips confidence recording.
func New(client inference.Client, tracker *confidence.Tracker, policy resilience.Policy, cfg config.PipelineConfig) (*Orchestrator, error) {
	schemas, err := CompileSchemas()
	if err != nil {
		return nil, err
	}
	if cfg.DegradedStagePenalty <= 0 || cfg.DegradedStagePenalty > 1 {
		cfg.DegradedStagePenalty = 0.8
	}
	policy.Detach = true
	return &Orchestrator{
		client:  client,
		tracker: tracker,
		schemas: schemas,
		policy:  policy,
		cfg:     cfg,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}, nil
}

// Analyze runs req without progress reporting.
func (o *Orchestrator) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisOutcome, error) {
	return o.Run(ctx, req, nil)
}

// priorContext is the accumulated input handed to each stage after triage.
type priorContext struct {
	AskingPrice *float64                        `json:"asking_price,omitempty"`
	UserContext string                          `json:"user_context,omitempty"`
	Stages      map[model.Stage]json.RawMessage `json:"stages,omitempty"`
	Unknown     []model.Stage                   `json:"unknown_stages,omitempty"`
	Evidence    []priorEvidence                 `json:"user_evidence,omitempty"`
}

type priorEvidence struct {
	NeedType string             `json:"need_type,omitempty"`
	Kind     model.EvidenceKind `json:"kind"`
	Answer   string             `json:"answer,omitempty"`
}

func newPriorContext(req model.AnalysisRequest) *priorContext {
	pc := &priorContext{
		AskingPrice: req.AskingPrice,
		UserContext: req.UserContext,
		Stages:      make(map[model.Stage]json.RawMessage),
	}
	for _, e := range req.Evidence {
		pe := priorEvidence{NeedType: e.NeedType, Kind: e.Kind}
		if e.Kind == model.EvidenceText {
			pe.Answer = e.Content
		}
		pc.Evidence = append(pc.Evidence, pe)
	}
	return pc
}

func (pc *priorContext) encode() json.RawMessage {
	if len(pc.Stages) == 0 && len(pc.Evidence) == 0 && pc.AskingPrice == nil && pc.UserContext == "" {
		return nil
	}
	b, err := json.Marshal(pc)
	if err != nil {
		return nil
	}
	return b
}

// Run executes the four stages in order and returns the outcome. Progress
// is reported to sink when it is non-nil: one stage:start per stage, then
// exactly one complete or error event.
func (o *Orchestrator) Run(ctx context.Context, req model.AnalysisRequest, sink EventSink) (*model.AnalysisOutcome, error) {
	events := newProgressGuard(sink)
	fail := func(err error) (*model.AnalysisOutcome, error) {
		events.Emit(model.ProgressEvent{
			Type:    model.ProgressError,
			Message: err.Error(),
			Error:   string(apperr.KindOf(err)),
		})
		return nil, err
	}

	if len(req.ImageRefs) == 0 {
		return fail(apperr.Validation("analysis: at least one image is required"))
	}
	if req.ID == "" {
		req.ID = o.newID()
	}

	log := zap.L().With(zap.String("request_id", req.ID))
	log.Info("pipeline: starting analysis", zap.Int("images", len(req.ImageRefs)), zap.Int("evidence", len(req.Evidence)))
	start := o.now()

	prior := newPriorContext(req)
	st := &runState{
		outcome: &model.AnalysisOutcome{
			ID:        o.newID(),
			RequestID: req.ID,
			CreatedAt: start.UTC(),
		},
		policy: PolicyFor(GeneralDomain),
	}

	var (
		triage  TriagePayload
		ident   IdentificationPayload
		synth   SynthesisPayload
		unknown = make(map[model.Stage]bool)
	)

	for i, stage := range model.Stages {
		if ctx.Err() != nil {
			log.Info("pipeline: cancelled", zap.String("before_stage", string(stage)))
			return fail(apperr.FromContext(ctx, fmt.Sprintf("analysis %s stopped before %s", req.ID, stage)))
		}
		events.Emit(model.ProgressEvent{
			Type:     model.ProgressStageStart,
			Stage:    stage,
			Message:  stageMessages[stage],
			Progress: i * 100 / len(model.Stages),
		})

		in := stageInput{stage: stage, req: req, policy: st.policy, prior: prior.encode()}
		var (
			res   model.StageResult
			isUnk bool
			err   error
		)
		switch stage {
		case model.StageTriage:
			triage, res, isUnk, err = runStage(ctx, o, in, defaultTriage, func(p TriagePayload) float64 { return p.Confidence })
		case model.StageEvidence:
			_, res, isUnk, err = runStage(ctx, o, in, func() EvidencePayload { return EvidencePayload{} }, func(p EvidencePayload) float64 { return p.Confidence })
		case model.StageIdentification:
			ident, res, isUnk, err = runStage(ctx, o, in, func() IdentificationPayload { return IdentificationPayload{} }, func(p IdentificationPayload) float64 { return p.Confidence })
		case model.StageSynthesis:
			synth, res, isUnk, err = runStage(ctx, o, in, defaultSynthesis, func(p SynthesisPayload) float64 { return p.Confidence })
		}
		st.record(res)

		if ctx.Err() != nil {
			log.Info("pipeline: cancelled", zap.String("during_stage", string(stage)))
			return fail(apperr.FromContext(ctx, fmt.Sprintf("analysis %s stopped during %s", req.ID, stage)))
		}
		if err != nil && apperr.Is(err, apperr.KindValidation) {
			return fail(err)
		}
		// Every later stage depends on the triage domain, so a triage answer
		// that never validated ends the run whatever the error kind.
		if err != nil && stage == model.StageTriage {
			log.Error("pipeline: triage failed",
				zap.Int("attempts", res.Attempts),
				zap.Bool("unknown", isUnk),
				zap.Strings("issues", res.Issues),
				zap.Error(err),
			)
			if apperr.Is(err, apperr.KindExternalService) {
				return fail(err)
			}
			return fail(apperr.ExternalService(err, "triage failed after %d attempts", res.Attempts))
		}

		if isUnk {
			unknown[stage] = true
			prior.Unknown = append(prior.Unknown, stage)
		} else {
			prior.Stages[stage] = res.Payload
			o.recordConfidence(ctx, req.ID, res)
		}
		if stage == model.StageTriage {
			st.policy = PolicyFor(triage.Domain)
		}
	}

	out := st.outcome
	out.Domain = st.policy.Domain
	out.Category = triage.Category
	out.Expert = st.policy.Expert

	base := o.applySynthesis(out, req, synth, ident, unknown[model.StageSynthesis])
	out.Confidence = o.finalConfidence(base, st.policy, out.Stages)
	for _, stage := range model.Stages {
		if unknown[stage] {
			out.UnknownStages = append(out.UnknownStages, stage)
		}
	}

	log.Info("pipeline: analysis complete",
		zap.String("domain", out.Domain),
		zap.String("name", out.Name),
		zap.Float64("confidence", out.Confidence),
		zap.Int("unknown_stages", len(out.UnknownStages)),
		zap.Float64("cost_usd", out.CostUSD),
		zap.Duration("elapsed", o.now().Sub(start)),
	)
	events.Emit(model.ProgressEvent{
		Type:     model.ProgressComplete,
		Message:  "Analysis complete",
		Progress: 100,
		Outcome:  out,
	})
	return out, nil
}

type runState struct {
	outcome *model.AnalysisOutcome
	policy  DomainPolicy
}

func (s *runState) record(res model.StageResult) {
	s.outcome.Stages = append(s.outcome.Stages, res)
	s.outcome.Usage.Add(res.Usage)
	s.outcome.CostUSD += res.CostUSD
}

type stageInput struct {
	stage  model.Stage
	req    model.AnalysisRequest
	policy DomainPolicy
	prior  json.RawMessage
}

// runStage calls the inference client for one stage under the retry policy
// and decodes the answer. Schema violations are retried as parse errors;
// when retries run out the last partially valid answer is kept with its
// defaults. unknown is true when no usable answer was obtained, in which
// case err carries the last failure.
func runStage[T any](ctx context.Context, o *Orchestrator, in stageInput, defaults func() T, conf func(T) float64) (T, model.StageResult, bool, error) {
	log := zap.L().With(zap.String("request_id", in.req.ID), zap.String("stage", string(in.stage)))
	start := o.now()
	res := model.StageResult{Stage: in.stage}

	var (
		partial       *T
		partialIssues []string
	)
	ireq := inference.Request{
		Stage:        in.stage,
		System:       systemPrompt(in.stage, in.policy, in.req),
		Prompt:       userPrompt(in.stage, in.req),
		ImageRefs:    stageImages(in.stage, in.req),
		PriorContext: in.prior,
	}

	policy := o.policy
	policy.OnRetry = resilience.RetryLogger("inference", string(in.stage))

	val, runOut, err := resilience.Run(ctx, policy, func(ctx context.Context) (T, error) {
		resp, err := o.client.Infer(ctx, ireq)
		if resp != nil {
			res.Usage.Add(resp.Usage)
			res.CostUSD += resp.CostUSD
		}
		if err != nil {
			var zero T
			return zero, err
		}
		v := defaults()
		if issues := o.schemas.Decode(in.stage, resp.JSON, &v); len(issues) > 0 {
			partial, partialIssues = &v, issues
			return v, apperr.Parse(eris.Errorf("%d schema violation(s)", len(issues)), "stage %s: invalid output", in.stage)
		}
		return v, nil
	})

	res.Attempts = runOut.Attempts
	res.DurationMs = o.now().Sub(start).Milliseconds()
	costField := zap.Float64("cost_usd", res.CostUSD)

	switch {
	case err == nil:
		res.Status = model.StageStatusComplete
		res.Confidence = clamp01(conf(val))
		res.Payload = mustJSON(val)
		log.Info("pipeline: stage complete",
			zap.Int64("duration_ms", res.DurationMs),
			zap.Int("attempts", res.Attempts),
			zap.Float64("confidence", res.Confidence),
			costField,
		)
		return val, res, false, nil

	case partial != nil && !apperr.Is(err, apperr.KindValidation):
		res.Status = model.StageStatusDegraded
		res.Confidence = clamp01(conf(*partial))
		res.Payload = mustJSON(*partial)
		res.Issues = partialIssues
		res.Error = err.Error()
		log.Warn("pipeline: stage degraded to defaults",
			zap.Int64("duration_ms", res.DurationMs),
			zap.Int("attempts", res.Attempts),
			zap.Strings("issues", partialIssues),
			costField,
		)
		return *partial, res, false, err

	default:
		res.Status = model.StageStatusDegraded
		res.Payload = mustJSON(defaults())
		res.Issues = []string{"contribution unknown"}
		res.Error = err.Error()
		log.Error("pipeline: stage failed",
			zap.Int64("duration_ms", res.DurationMs),
			zap.Int("attempts", res.Attempts),
			zap.String("class", string(runOut.LastClass)),
			zap.Error(err),
			costField,
		)
		return defaults(), res, true, err
	}
}

func (o *Orchestrator) recordConfidence(ctx context.Context, id string, res model.StageResult) {
	if o.tracker == nil {
		return
	}
	if _, err := o.tracker.Record(ctx, id, res.Confidence, "stage:"+string(res.Stage)); err != nil {
		zap.L().Warn("pipeline: record stage confidence",
			zap.String("request_id", id),
			zap.String("stage", string(res.Stage)),
			zap.Error(err),
		)
	}
}

// applySynthesis fills the outcome from the synthesis answer, or from the
// top identification candidate when synthesis produced nothing usable. It
// returns the self-reported confidence the outcome rests on.
func (o *Orchestrator) applySynthesis(out *model.AnalysisOutcome, req model.AnalysisRequest, synth SynthesisPayload, ident IdentificationPayload, synthUnknown bool) float64 {
	var base float64
	if synthUnknown || strings.TrimSpace(synth.Name) == "" {
		out.AuthenticityRisk = model.RiskUnknown
		out.Supporting = ident.Supporting
		out.Contradicting = ident.Contradicting
		if top, ok := topCandidate(ident.Candidates); ok {
			out.Name = top.Name
			out.Maker = top.Maker
			out.Era = top.Era
			base = top.Confidence
		}
	} else {
		out.Name = synth.Name
		out.Maker = synth.Maker
		out.MakerAlternatives = synth.MakerAlternatives
		out.Era = synth.Era
		out.Value = synth.Value
		out.AuthenticityRisk = model.AuthenticityRisk(synth.AuthenticityRisk)
		out.Supporting = synth.Supporting
		out.Contradicting = synth.Contradicting
		out.AuthChecklist = synth.AuthChecklist
		base = synth.Confidence
	}
	if out.AuthenticityRisk == "" {
		out.AuthenticityRisk = model.RiskUnknown
	}
	if out.Value.Known() && out.Value.Currency == "" {
		out.Value.Currency = "USD"
	}
	if out.Era.Start > out.Era.End && out.Era.End > 0 {
		out.Era.Start, out.Era.End = out.Era.End, out.Era.Start
	}
	if out.Value.Low > out.Value.High && out.Value.High > 0 {
		out.Value.Low, out.Value.High = out.Value.High, out.Value.Low
	}

	for _, c := range ident.Candidates {
		if !strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(out.Name)) {
			out.Alternatives = append(out.Alternatives, c)
		}
	}

	if req.AskingPrice != nil && out.Value.Known() {
		deal := &model.DealAssessment{AskingPrice: *req.AskingPrice}
		if synth.Deal != nil && validDealRating(synth.Deal.Rating) {
			deal.Rating = model.DealRating(synth.Deal.Rating)
			deal.Explanation = synth.Deal.Explanation
		} else {
			deal.Rating = dealRating(*req.AskingPrice, out.Value)
			deal.Explanation = fmt.Sprintf("Asking price %.0f against an estimated %.0f to %.0f %s.",
				*req.AskingPrice, out.Value.Low, out.Value.High, out.Value.Currency)
		}
		out.Deal = deal
	}

	return base
}

// finalConfidence caps the self-reported confidence at the domain ceiling
// and applies the penalty once per degraded stage.
func (o *Orchestrator) finalConfidence(base float64, policy DomainPolicy, stages []model.StageResult) float64 {
	c := min(clamp01(base), policy.Ceiling)
	for _, s := range stages {
		if s.Status == model.StageStatusDegraded {
			c *= o.cfg.DegradedStagePenalty
		}
	}
	return clamp01(c)
}

func topCandidate(cands []model.Candidate) (model.Candidate, bool) {
	if len(cands) == 0 {
		return model.Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best, true
}

func validDealRating(r string) bool {
	switch model.DealRating(r) {
	case model.DealExcellent, model.DealGood, model.DealFair, model.DealOverpriced:
		return true
	}
	return false
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
