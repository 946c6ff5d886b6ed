package pipeline

import (
	"sort"
	"strings"

	"github.com/vintagevision/vintagevision/internal/model"
)

// wideEraYears is the era span above which dating evidence is requested.
const wideEraYears = 30

// DeriveNeeds lists the evidence that would most improve outcome, ordered by
// priority, then expected confidence gain descending, then insertion order.
// Domain templates come first; generic gaps follow. Each need type appears
// once and doubles as the need's id.
func DeriveNeeds(outcome *model.AnalysisOutcome) []model.InformationNeed {
	if outcome == nil {
		return nil
	}
	policy := PolicyFor(outcome.Domain)

	var needs []model.InformationNeed
	seen := make(map[string]bool)
	add := func(t NeedTemplate) {
		if seen[t.Type] {
			return
		}
		seen[t.Type] = true
		needs = append(needs, model.InformationNeed{
			ID:                     t.Type,
			Type:                   t.Type,
			Kind:                   t.Kind,
			Priority:               t.Priority,
			Question:               t.Question,
			ExpectedConfidenceGain: t.Gain,
		})
	}

	for _, t := range policy.Needs {
		add(t)
	}
	for _, t := range genericGaps(outcome) {
		add(t)
	}

	sort.SliceStable(needs, func(i, j int) bool {
		ri, rj := needs[i].Priority.Rank(), needs[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return needs[i].ExpectedConfidenceGain > needs[j].ExpectedConfidenceGain
	})
	return needs
}

func genericGaps(o *model.AnalysisOutcome) []NeedTemplate {
	var out []NeedTemplate

	if len(o.UnknownStages) > 0 {
		out = append(out, NeedTemplate{
			Type: "retake_photos", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.1,
			Question: "Part of the analysis could not be completed. Please add clear, well-lit photos of the front, back, and base.",
		})
	}
	if maker := strings.ToLower(strings.TrimSpace(o.Maker)); maker == "" || maker == "unknown" {
		out = append(out, NeedTemplate{
			Type: "maker_mark", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.12,
			Question: "No maker could be determined. Please photograph any marks, labels, or signatures.",
		})
	}
	if o.AuthenticityRisk == model.RiskHigh || o.AuthenticityRisk == model.RiskUnknown {
		out = append(out, NeedTemplate{
			Type: "wear_closeup", Kind: model.EvidencePhoto, Priority: model.PriorityMedium, Gain: 0.08,
			Question: "Please photograph areas of wear or patina up close, such as edges, feet, or handles.",
		})
	}
	if !o.Era.Known() || o.Era.Span() > wideEraYears {
		out = append(out, NeedTemplate{
			Type: "dating_details", Kind: model.EvidenceText, Priority: model.PriorityMedium, Gain: 0.06,
			Question: "Do you see any dates, patent numbers, registration marks, or other text that could help date the item?",
		})
	}
	out = append(out,
		NeedTemplate{
			Type: "provenance", Kind: model.EvidenceText, Priority: model.PriorityLow, Gain: 0.05,
			Question: "What do you know about where the item came from, such as family history, a previous owner, or a receipt?",
		},
		NeedTemplate{
			Type: "dimensions", Kind: model.EvidenceText, Priority: model.PriorityLow, Gain: 0.03,
			Question: "What are the item's dimensions?",
		},
	)
	return out
}
