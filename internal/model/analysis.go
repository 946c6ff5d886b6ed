package model

import (
	"encoding/json"
	"time"
)

// Stage names one of the four fixed analysis stages.
type Stage string

const (
	StageTriage         Stage = "triage"
	StageEvidence       Stage = "evidence"
	StageIdentification Stage = "identification"
	StageSynthesis      Stage = "synthesis"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageTriage, StageEvidence, StageIdentification, StageSynthesis}

// StageStatus is the terminal status of a single stage.
type StageStatus string

const (
	StageStatusComplete StageStatus = "complete"
	StageStatusDegraded StageStatus = "degraded"
)

// AuthenticityRisk grades how likely an item is a reproduction or fake.
type AuthenticityRisk string

const (
	RiskLow     AuthenticityRisk = "low"
	RiskMedium  AuthenticityRisk = "medium"
	RiskHigh    AuthenticityRisk = "high"
	RiskUnknown AuthenticityRisk = "unknown"
)

// EvidenceKind distinguishes photo evidence from text answers.
type EvidenceKind string

const (
	EvidencePhoto EvidenceKind = "photo"
	EvidenceText  EvidenceKind = "text"
)

// Evidence is a user-supplied photo or answer collected during a session.
type Evidence struct {
	NeedID   string       `json:"need_id,omitempty"`
	NeedType string       `json:"need_type,omitempty"`
	Kind     EvidenceKind `json:"kind"`
	Content  string       `json:"content"`
}

// AnalysisRequest is a submitted analysis. It is never mutated after
// submission; re-runs derive a new value via WithEvidence.
type AnalysisRequest struct {
	ID          string     `json:"id"`
	ImageRefs   []string   `json:"image_refs"`
	AskingPrice *float64   `json:"asking_price,omitempty"`
	UserContext string     `json:"user_context,omitempty"`
	Evidence    []Evidence `json:"evidence,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// WithEvidence returns a copy of r carrying the given evidence in addition to
// any it already holds. The receiver's slices are not shared.
func (r AnalysisRequest) WithEvidence(ev ...Evidence) AnalysisRequest {
	out := r
	out.ImageRefs = append([]string(nil), r.ImageRefs...)
	out.Evidence = make([]Evidence, 0, len(r.Evidence)+len(ev))
	out.Evidence = append(out.Evidence, r.Evidence...)
	out.Evidence = append(out.Evidence, ev...)
	return out
}

// EvidenceImages returns the primary images followed by photo evidence refs.
func (r AnalysisRequest) EvidenceImages() []string {
	refs := append([]string(nil), r.ImageRefs...)
	for _, e := range r.Evidence {
		if e.Kind == EvidencePhoto && e.Content != "" {
			refs = append(refs, e.Content)
		}
	}
	return refs
}

// StageResult records one stage's outcome. Results are appended, never
// edited.
type StageResult struct {
	Stage      Stage           `json:"stage"`
	Status     StageStatus     `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Confidence float64         `json:"confidence"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"duration_ms"`
	Issues     []string        `json:"issues,omitempty"`
	Error      string          `json:"error,omitempty"`
	Usage      TokenUsage      `json:"usage"`
	CostUSD    float64         `json:"cost_usd"`
}

// YearRange is an inclusive range of years.
type YearRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Known reports whether the range carries any information.
func (y YearRange) Known() bool {
	return y.Start > 0 || y.End > 0
}

// Span returns End-Start, or 0 for unknown or inverted ranges.
func (y YearRange) Span() int {
	if !y.Known() || y.End < y.Start {
		return 0
	}
	return y.End - y.Start
}

// ValueRange is a monetary range.
type ValueRange struct {
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
	Currency string  `json:"currency,omitempty"`
}

// Known reports whether the range carries any information.
func (v ValueRange) Known() bool {
	return v.Low > 0 || v.High > 0
}

// Candidate is an alternative identification.
type Candidate struct {
	Name       string    `json:"name"`
	Maker      string    `json:"maker,omitempty"`
	Era        YearRange `json:"era"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// DealRating grades an asking price against the estimated value.
type DealRating string

const (
	DealExcellent  DealRating = "excellent"
	DealGood       DealRating = "good"
	DealFair       DealRating = "fair"
	DealOverpriced DealRating = "overpriced"
)

// DealAssessment compares an asking price to the estimated value range.
type DealAssessment struct {
	AskingPrice float64    `json:"asking_price"`
	Rating      DealRating `json:"rating"`
	Explanation string     `json:"explanation,omitempty"`
}

// AnalysisOutcome is the result of a completed run. Later runs supersede an
// outcome by reference; the stored value is never edited.
type AnalysisOutcome struct {
	ID                string           `json:"id"`
	RequestID         string           `json:"request_id"`
	Name              string           `json:"name"`
	Maker             string           `json:"maker,omitempty"`
	MakerAlternatives []string         `json:"maker_alternatives,omitempty"`
	Era               YearRange        `json:"era"`
	Value             ValueRange       `json:"value"`
	Domain            string           `json:"domain"`
	Category          string           `json:"category,omitempty"`
	Expert            string           `json:"expert,omitempty"`
	Supporting        []string         `json:"supporting,omitempty"`
	Contradicting     []string         `json:"contradicting,omitempty"`
	AuthenticityRisk  AuthenticityRisk `json:"authenticity_risk"`
	Confidence        float64          `json:"confidence"`
	Alternatives      []Candidate      `json:"alternatives,omitempty"`
	Deal              *DealAssessment  `json:"deal,omitempty"`
	AuthChecklist     []string         `json:"auth_checklist,omitempty"`
	UnknownStages     []Stage          `json:"unknown_stages,omitempty"`
	Stages            []StageResult    `json:"stages"`
	Usage             TokenUsage       `json:"usage"`
	CostUSD           float64          `json:"cost_usd"`
	Supersedes        string           `json:"supersedes,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Degraded reports whether any stage fell back to an unknown contribution.
func (o *AnalysisOutcome) Degraded() bool {
	return len(o.UnknownStages) > 0
}

// ConfidenceRecord is one entry in an append-only confidence log.
type ConfidenceRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

// TokenUsage tracks inference token consumption.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ProgressType tags a progress event.
type ProgressType string

const (
	ProgressStageStart ProgressType = "stage:start"
	ProgressComplete   ProgressType = "complete"
	ProgressError      ProgressType = "error"
)

// ProgressEvent is emitted once per stage boundary and once at the end of a
// run.
type ProgressEvent struct {
	Type     ProgressType     `json:"type"`
	Stage    Stage            `json:"stage,omitempty"`
	Message  string           `json:"message,omitempty"`
	Progress int              `json:"progress"`
	Outcome  *AnalysisOutcome `json:"outcome,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == ProgressComplete || e.Type == ProgressError
}
