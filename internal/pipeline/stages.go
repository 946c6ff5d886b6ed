package pipeline

import (
	"fmt"
	"strings"

	"github.com/vintagevision/vintagevision/internal/model"
)

// TriagePayload is the validated triage answer.
type TriagePayload struct {
	Category    string  `json:"category"`
	Domain      string  `json:"domain"`
	ItemType    string  `json:"item_type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Marking is a mark, stamp, label or signature found on the item.
type Marking struct {
	Kind     string `json:"kind"`
	Location string `json:"location"`
	Text     string `json:"text"`
	Legible  bool   `json:"legible"`
}

// EvidencePayload is the validated evidence-extraction answer.
type EvidencePayload struct {
	Markings     []Marking `json:"markings"`
	Materials    []string  `json:"materials"`
	Construction []string  `json:"construction"`
	Style        []string  `json:"style"`
	Condition    string    `json:"condition"`
	Observations []string  `json:"observations"`
	Confidence   float64   `json:"confidence"`
}

// IdentificationPayload is the validated candidate-matching answer.
type IdentificationPayload struct {
	Candidates    []model.Candidate `json:"candidates"`
	Supporting    []string          `json:"supporting"`
	Contradicting []string          `json:"contradicting"`
	Confidence    float64           `json:"confidence"`
}

// DealPayload is the synthesis stage's view of the asking price.
type DealPayload struct {
	Rating      string `json:"rating"`
	Explanation string `json:"explanation"`
}

// SynthesisPayload is the validated final synthesis answer. Confidence is
// the stage's self-reported identification confidence.
type SynthesisPayload struct {
	Name              string           `json:"name"`
	Maker             string           `json:"maker"`
	MakerAlternatives []string         `json:"maker_alternatives"`
	Era               model.YearRange  `json:"era"`
	Value             model.ValueRange `json:"value"`
	AuthenticityRisk  string           `json:"authenticity_risk"`
	Supporting        []string         `json:"supporting"`
	Contradicting     []string         `json:"contradicting"`
	Deal              *DealPayload     `json:"deal,omitempty"`
	AuthChecklist     []string         `json:"auth_checklist"`
	Confidence        float64          `json:"confidence"`
}

func defaultTriage() TriagePayload {
	return TriagePayload{Category: "unknown", Domain: GeneralDomain}
}

func defaultSynthesis() SynthesisPayload {
	return SynthesisPayload{AuthenticityRisk: string(model.RiskUnknown), Value: model.ValueRange{Currency: "USD"}}
}

const jsonOnly = `Respond with a single valid JSON object and nothing else. Never use null; use empty strings, empty arrays, or 0 when a value is unknown. All confidence values are numbers between 0.0 and 1.0 that honestly reflect your certainty.`

const triageSystemPrompt = `You are an experienced antiques generalist performing first-look triage of an item from photographs. Decide what kind of object it is and which specialist domain should examine it.

Domains: silver, jewelry, furniture, ceramics, glass, art, clocks, textiles, toys, general.

` + jsonOnly + `
Schema: {"category": "<broad category>", "domain": "<one domain from the list>", "item_type": "<specific object type>", "description": "<one or two sentences>", "confidence": <0.0-1.0>}`

const evidenceSystemPrompt = `You are %s. Examine the photographs and extract physical evidence only. Pay particular attention to %s. Do not identify the item yet.

` + jsonOnly + `
Schema: {"markings": [{"kind": "<hallmark|signature|label|stamp|other>", "location": "<where>", "text": "<transcription>", "legible": <bool>}], "materials": ["..."], "construction": ["..."], "style": ["..."], "condition": "<summary>", "observations": ["..."], "confidence": <0.0-1.0>}`

const identificationSystemPrompt = `You are %s. Using the photographs and the structured evidence in the prior context, identify the item. List up to five candidate identifications ordered from most to least likely, with maker and production era for each.

` + jsonOnly + `
Schema: {"candidates": [{"name": "...", "maker": "...", "era": {"start": <year>, "end": <year>}, "confidence": <0.0-1.0>, "reasoning": "..."}], "supporting": ["evidence for the top candidate"], "contradicting": ["evidence against the top candidate"], "confidence": <0.0-1.0>}`

const synthesisSystemPrompt = `You are %s producing the final assessment. Reconcile the prior stages into one identification, estimate current fair market value in USD, assess authenticity risk, and list the checks a buyer should make to authenticate the piece.%s

` + jsonOnly + `
Schema: {"name": "...", "maker": "...", "maker_alternatives": ["..."], "era": {"start": <year>, "end": <year>}, "value": {"low": <number>, "high": <number>, "currency": "USD"}, "authenticity_risk": "<low|medium|high>", "supporting": ["..."], "contradicting": ["..."], "deal": {"rating": "<excellent|good|fair|overpriced>", "explanation": "..."}, "auth_checklist": ["..."], "confidence": <0.0-1.0>}`

const dealInstruction = ` The buyer's asking price is %.2f USD; rate the deal against your value estimate.`

// systemPrompt returns the system prompt for stage under policy.
func systemPrompt(stage model.Stage, policy DomainPolicy, req model.AnalysisRequest) string {
	switch stage {
	case model.StageTriage:
		return triageSystemPrompt
	case model.StageEvidence:
		return fmt.Sprintf(evidenceSystemPrompt, policy.Expert, policy.Focus)
	case model.StageIdentification:
		return fmt.Sprintf(identificationSystemPrompt, policy.Expert)
	default:
		deal := ""
		if req.AskingPrice != nil {
			deal = fmt.Sprintf(dealInstruction, *req.AskingPrice)
		}
		return fmt.Sprintf(synthesisSystemPrompt, policy.Expert, deal)
	}
}

// userPrompt returns the per-request instruction for stage.
func userPrompt(stage model.Stage, req model.AnalysisRequest) string {
	var b strings.Builder
	switch stage {
	case model.StageTriage:
		b.WriteString("Triage the item shown in the photographs.")
	case model.StageEvidence:
		b.WriteString("Extract the physical evidence visible in the photographs.")
	case model.StageIdentification:
		b.WriteString("Identify the item from the photographs and the evidence gathered so far.")
	default:
		b.WriteString("Produce the final identification, valuation, and authentication checklist.")
	}
	if req.UserContext != "" {
		b.WriteString("\n\nOwner's notes: ")
		b.WriteString(req.UserContext)
	}
	if n := len(req.Evidence); n > 0 && stage != model.StageTriage {
		fmt.Fprintf(&b, "\n\nThe owner supplied %d additional piece(s) of evidence; photos are attached after the originals and answers are in the prior context.", n)
	}
	return b.String()
}

// stageImages returns the images sent to stage. Triage sees only the
// original photos; later stages also see photo evidence.
func stageImages(stage model.Stage, req model.AnalysisRequest) []string {
	if stage == model.StageTriage {
		return append([]string(nil), req.ImageRefs...)
	}
	return req.EvidenceImages()
}

// dealRating grades askingPrice against the value range.
func dealRating(askingPrice float64, v model.ValueRange) model.DealRating {
	switch {
	case askingPrice <= v.Low*0.7:
		return model.DealExcellent
	case askingPrice <= v.Low:
		return model.DealGood
	case askingPrice <= v.High:
		return model.DealFair
	default:
		return model.DealOverpriced
	}
}
