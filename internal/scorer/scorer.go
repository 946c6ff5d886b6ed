package scorer

import (
	"math"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
)

// Failure reasons reported for components below the fail threshold.
const (
	ReasonName  = "name mismatch"
	ReasonMaker = "maker mismatch"
	ReasonEra   = "era off"
	ReasonValue = "value estimation off"
)

// Scorer applies a validated ScorerConfig.
type Scorer struct {
	cfg config.ScorerConfig
}

// New validates cfg and returns a Scorer.
func New(cfg config.ScorerConfig) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() config.ScorerConfig {
	return s.cfg
}

// Score compares an outcome with the item's expected identification.
func (s *Scorer) Score(item model.GroundTruthItem, outcome *model.AnalysisOutcome) model.ScoreResult {
	res := model.ScoreResult{
		ItemID:     item.ID,
		Domain:     item.Expected.Domain,
		Difficulty: item.Difficulty,
	}
	if outcome == nil {
		res.Failures = []string{ReasonName, ReasonMaker, ReasonEra, ReasonValue}
		return res
	}

	exp := item.Expected
	res.Components = model.ComponentScores{
		Name:  NameScore(exp, outcome.Name),
		Maker: MakerScore(exp, outcome.Maker),
		Era:   EraScore(exp.Era, outcome.Era),
		Value: ValueScore(exp.Value, outcome.Value),
	}
	res.OverallScore = Composite(s.cfg, res.Components)
	res.Failures = Failures(s.cfg, res.Components)
	return res
}

// Passed reports whether a score meets the pass threshold.
func (s *Scorer) Passed(score float64) bool {
	return score >= s.cfg.PassThreshold
}

// Composite returns the weighted score in [0,100].
func Composite(cfg config.ScorerConfig, c model.ComponentScores) float64 {
	sum := WeightSum(cfg)
	if sum <= 0 {
		return 0
	}
	raw := c.Name*cfg.NameWeight + c.Maker*cfg.MakerWeight + c.Era*cfg.EraWeight + c.Value*cfg.ValueWeight
	return clamp(raw/sum*100, 0, 100)
}

// Failures lists the reasons for components below the fail threshold, in
// name, maker, era, value order.
func Failures(cfg config.ScorerConfig, c model.ComponentScores) []string {
	th := cfg.ComponentFailThreshold
	var out []string
	if c.Name < th {
		out = append(out, ReasonName)
	}
	if c.Maker < th {
		out = append(out, ReasonMaker)
	}
	if c.Era < th {
		out = append(out, ReasonEra)
	}
	if c.Value < th {
		out = append(out, ReasonValue)
	}
	return out
}

// NameScore is 1 on an exact normalized match, otherwise the better of
// keyword overlap and edit-distance similarity.
func NameScore(exp model.ExpectedIdentification, actual string) float64 {
	a := Normalize(actual)
	e := Normalize(exp.Name)
	if a == "" || e == "" {
		return 0
	}
	if a == e {
		return 1
	}

	keywords := exp.NameKeywords
	if len(keywords) == 0 {
		keywords = tokens(e)
	}
	overlap := keywordOverlap(keywords, a)
	sim := levenshtein.Similarity(e, a, nil)
	return clamp(math.Max(overlap, sim), 0, 1)
}

// keywordOverlap is the fraction of keywords found as substrings of the
// normalized name.
func keywordOverlap(keywords []string, normalized string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		k := Normalize(kw)
		if k == "" {
			continue
		}
		if strings.Contains(normalized, k) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// MakerScore is 1 when the produced maker matches the expected maker or one
// of its alternatives after normalization, else 0. An expected maker that is
// empty or "unknown" has nothing to match and scores 1.
func MakerScore(exp model.ExpectedIdentification, actual string) float64 {
	want := normalizeMaker(exp.Maker)
	if want == "" || want == "unknown" {
		return 1
	}
	got := normalizeMaker(actual)
	if got == "" {
		return 0
	}
	if got == want {
		return 1
	}
	for _, alt := range exp.MakerAlternatives {
		if normalizeMaker(alt) == got {
			return 1
		}
	}
	return 0
}

// EraScore is the overlap of the produced era with the expected era divided
// by the expected span. A zero-span expected era, or a point estimate,
// scores 1 when contained and 0 otherwise.
func EraScore(expected, actual model.YearRange) float64 {
	if !expected.Known() || !actual.Known() {
		return 0
	}
	exp := normalizeYears(expected)
	act := normalizeYears(actual)

	if exp.Start == exp.End {
		if act.Start <= exp.Start && exp.Start <= act.End {
			return 1
		}
		return 0
	}
	if act.Start == act.End {
		if exp.Start <= act.Start && act.Start <= exp.End {
			return 1
		}
		return 0
	}

	overlap := min(exp.End, act.End) - max(exp.Start, act.Start)
	return clamp(float64(overlap)/float64(exp.End-exp.Start), 0, 1)
}

// normalizeYears fills a one-sided range and orders the ends.
func normalizeYears(y model.YearRange) model.YearRange {
	if y.Start == 0 {
		y.Start = y.End
	}
	if y.End == 0 {
		y.End = y.Start
	}
	if y.End < y.Start {
		y.Start, y.End = y.End, y.Start
	}
	return y
}

// ValueScore is 1 when the produced range lies within the expected range,
// overlap/expectedSpan when they overlap, and 1 - gap/expectedHigh when they
// are disjoint, floored at 0.
func ValueScore(expected, actual model.ValueRange) float64 {
	if !expected.Known() || !actual.Known() {
		return 0
	}
	eLo, eHi := orderRange(expected)
	aLo, aHi := orderRange(actual)

	if aLo >= eLo && aHi <= eHi {
		return 1
	}

	overlap := math.Min(eHi, aHi) - math.Max(eLo, aLo)
	if overlap > 0 {
		span := eHi - eLo
		if span <= 0 {
			return 1
		}
		return clamp(overlap/span, 0, 1)
	}

	if eHi <= 0 {
		return 0
	}
	gap := math.Max(aLo-eHi, eLo-aHi)
	return clamp(1-gap/eHi, 0, 1)
}

func orderRange(v model.ValueRange) (float64, float64) {
	lo, hi := v.Low, v.High
	if lo == 0 {
		lo = hi
	}
	if hi == 0 {
		hi = lo
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}

// BandFor grades a composite score.
func BandFor(score float64) model.Band {
	switch {
	case score >= 90:
		return model.BandExcellent
	case score >= 75:
		return model.BandGood
	case score >= 60:
		return model.BandAcceptable
	case score >= 40:
		return model.BandPoor
	default:
		return model.BandFailed
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
