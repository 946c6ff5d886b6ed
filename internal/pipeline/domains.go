package pipeline

import (
	"strings"

	"github.com/vintagevision/vintagevision/internal/model"
)

// GeneralDomain is used when triage cannot place an item.
const GeneralDomain = "general"

// NeedTemplate describes an information need a domain always asks for.
type NeedTemplate struct {
	Type     string
	Kind     model.EvidenceKind
	Priority model.Priority
	Question string
	Gain     float64
}

// DomainPolicy holds per-domain analysis settings.
type DomainPolicy struct {
	Domain string
	Expert string
	Focus  string

	// Ceiling caps the outcome confidence for the domain.
	Ceiling float64

	Needs []NeedTemplate
}

var domainPolicies = map[string]DomainPolicy{
	"silver": {
		Domain:  "silver",
		Expert:  "a specialist in antique and vintage silver and silverplate",
		Focus:   "hallmarks, maker's marks, date letters, assay marks, pattern names, and silver content (sterling, coin, plate)",
		Ceiling: 0.95,
		Needs: []NeedTemplate{
			{Type: "hallmark_photo", Kind: model.EvidencePhoto, Priority: model.PriorityCritical, Gain: 0.25,
				Question: "Please photograph the hallmarks or maker's marks up close. They are usually on the base or near the handle."},
			{Type: "weight", Kind: model.EvidenceText, Priority: model.PriorityMedium, Gain: 0.05,
				Question: "What does the piece weigh, in grams or troy ounces?"},
		},
	},
	"jewelry": {
		Domain:  "jewelry",
		Expert:  "a specialist in antique and vintage jewelry and gemstones",
		Focus:   "metal stamps, maker's marks, clasp and setting construction, stone cutting style",
		Ceiling: 0.9,
		Needs: []NeedTemplate{
			{Type: "hallmark_photo", Kind: model.EvidencePhoto, Priority: model.PriorityCritical, Gain: 0.2,
				Question: "Please photograph any stamps inside the band, on the clasp, or on the back of the piece."},
			{Type: "clasp_photo", Kind: model.EvidencePhoto, Priority: model.PriorityMedium, Gain: 0.06,
				Question: "Please photograph the clasp or pin back closely."},
		},
	},
	"furniture": {
		Domain:  "furniture",
		Expert:  "a specialist in antique and mid-century furniture",
		Focus:   "joinery, construction methods, wood species, labels and stamps, hardware, and tool marks",
		Ceiling: 0.92,
		Needs: []NeedTemplate{
			{Type: "underside_joinery", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.18,
				Question: "Please photograph the underside and a drawer or frame joint so the construction is visible."},
			{Type: "label_photo", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.12,
				Question: "Are there any labels, stamps, or tags? Please photograph them."},
			{Type: "hardware_photo", Kind: model.EvidencePhoto, Priority: model.PriorityMedium, Gain: 0.05,
				Question: "Please photograph a handle, hinge, or other original hardware."},
		},
	},
	"ceramics": {
		Domain:  "ceramics",
		Expert:  "a specialist in pottery, porcelain, and ceramics",
		Focus:   "backstamps, impressed marks, glaze, body, decoration technique, and form",
		Ceiling: 0.93,
		Needs: []NeedTemplate{
			{Type: "base_mark", Kind: model.EvidencePhoto, Priority: model.PriorityCritical, Gain: 0.22,
				Question: "Please photograph the base, including any backstamp or impressed mark."},
		},
	},
	"glass": {
		Domain:  "glass",
		Expert:  "a specialist in art glass and antique glassware",
		Focus:   "signatures, pontil marks, mold seams, color, and technique",
		Ceiling: 0.9,
		Needs: []NeedTemplate{
			{Type: "base_signature", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.15,
				Question: "Please photograph the base under raking light to show any signature or etched mark."},
			{Type: "pontil_mark", Kind: model.EvidencePhoto, Priority: model.PriorityMedium, Gain: 0.08,
				Question: "Is there a pontil mark on the base? Please photograph it."},
		},
	},
	"art": {
		Domain:  "art",
		Expert:  "a specialist in paintings, prints, and works on paper",
		Focus:   "signature, medium, support, printing method, and gallery or exhibition labels",
		Ceiling: 0.85,
		Needs: []NeedTemplate{
			{Type: "signature_photo", Kind: model.EvidencePhoto, Priority: model.PriorityCritical, Gain: 0.2,
				Question: "Please photograph the signature or monogram up close."},
			{Type: "reverse_photo", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.12,
				Question: "Please photograph the back of the work, including any labels or stamps."},
		},
	},
	"clocks": {
		Domain:  "clocks",
		Expert:  "a specialist in antique clocks and watches",
		Focus:   "movement, maker's marks on the dial and movement, case style, and serial numbers",
		Ceiling: 0.92,
		Needs: []NeedTemplate{
			{Type: "movement_photo", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.18,
				Question: "Please photograph the movement, including any stamped names or numbers."},
			{Type: "dial_signature", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.12,
				Question: "Please photograph the dial closely, especially any name or signature."},
		},
	},
	"textiles": {
		Domain:  "textiles",
		Expert:  "a specialist in vintage textiles, rugs, and clothing",
		Focus:   "labels, weave and knot structure, fiber, dyes, and construction",
		Ceiling: 0.88,
		Needs: []NeedTemplate{
			{Type: "label_photo", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.12,
				Question: "Please photograph any label, tag, or woven mark."},
			{Type: "weave_closeup", Kind: model.EvidencePhoto, Priority: model.PriorityMedium, Gain: 0.08,
				Question: "Please photograph the reverse side closely so the weave is visible."},
		},
	},
	"toys": {
		Domain:  "toys",
		Expert:  "a specialist in antique and vintage toys and collectibles",
		Focus:   "manufacturer marks, patent dates, materials, and packaging",
		Ceiling: 0.92,
		Needs: []NeedTemplate{
			{Type: "maker_mark", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.15,
				Question: "Please photograph any manufacturer's mark, patent date, or stamped text."},
			{Type: "original_packaging", Kind: model.EvidenceText, Priority: model.PriorityLow, Gain: 0.05,
				Question: "Do you have the original box or packaging? Describe any printing on it."},
		},
	},
	GeneralDomain: {
		Domain:  GeneralDomain,
		Expert:  "a generalist antiques appraiser",
		Focus:   "marks, materials, construction, and style",
		Ceiling: 0.8,
		Needs: []NeedTemplate{
			{Type: "maker_mark", Kind: model.EvidencePhoto, Priority: model.PriorityHigh, Gain: 0.12,
				Question: "Please photograph any marks, labels, or signatures on the item."},
		},
	},
}

// PolicyFor returns the policy for domain, falling back to the general
// policy for unknown domains.
func PolicyFor(domain string) DomainPolicy {
	if p, ok := domainPolicies[strings.ToLower(strings.TrimSpace(domain))]; ok {
		return p
	}
	return domainPolicies[GeneralDomain]
}

// Domains lists every domain with a dedicated policy.
func Domains() []string {
	return []string{"silver", "jewelry", "furniture", "ceramics", "glass", "art", "clocks", "textiles", "toys", GeneralDomain}
}
