package eval

import (
	"math"
	"sort"
	"time"

	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/scorer"
)

// ciLevel is the confidence level of the reported interval for the mean.
const ciLevel = 0.95

// ReportInput is everything BuildReport needs besides the results.
type ReportInput struct {
	ID               string
	Mode             model.EvalMode
	StartedAt        time.Time
	CompletedAt      time.Time
	Total            int
	Cancelled        bool
	Scorer           config.ScorerConfig
	BootstrapSamples int
	Seed             uint64
	Usage            model.TokenUsage
	CostUSD          float64
}

// BuildReport aggregates results. Failed items count with their zero score
// so the statistics describe the whole attempted set.
func BuildReport(in ReportInput, results []model.ScoreResult) *model.EvaluationReport {
	r := &model.EvaluationReport{
		ID:            in.ID,
		Mode:          in.Mode,
		StartedAt:     in.StartedAt,
		CompletedAt:   in.CompletedAt,
		Results:       results,
		Total:         in.Total,
		Skipped:       max(in.Total-len(results), 0),
		Cancelled:     in.Cancelled,
		PassThreshold: in.Scorer.PassThreshold,
		Bands:         make(map[model.Band]int),
		Usage:         in.Usage,
		CostUSD:       in.CostUSD,
	}
	if r.Results == nil {
		r.Results = []model.ScoreResult{}
	}

	scores := make([]float64, 0, len(results))
	passed := 0
	for _, res := range results {
		if res.Error != "" {
			r.Errored++
		} else {
			r.Scored++
		}
		scores = append(scores, res.OverallScore)
		if res.OverallScore >= in.Scorer.PassThreshold {
			passed++
		}
		r.Bands[scorer.BandFor(res.OverallScore)]++
	}

	if len(scores) > 0 {
		r.Mean = mean(scores)
		r.Median = median(scores)
		r.StdDev = stdDev(scores)
		r.Min, r.Max = math.Inf(1), math.Inf(-1)
		for _, s := range scores {
			r.Min = math.Min(r.Min, s)
			r.Max = math.Max(r.Max, s)
		}
		r.PassRate = float64(passed) / float64(len(scores))
	}
	r.MeanCI = bootstrapCI(scores, ciLevel, in.BootstrapSamples, in.Seed)
	r.ByDomain = domainStats(results, in.Scorer.PassThreshold)
	r.CommonFailures = failureClusters(results)
	return r
}

func domainStats(results []model.ScoreResult, threshold float64) []model.DomainStats {
	scores := make(map[string][]float64)
	for _, res := range results {
		scores[res.Domain] = append(scores[res.Domain], res.OverallScore)
	}

	out := make([]model.DomainStats, 0, len(scores))
	for d, s := range scores {
		passed := 0
		for _, v := range s {
			if v >= threshold {
				passed++
			}
		}
		out = append(out, model.DomainStats{
			Domain:   d,
			Count:    len(s),
			Mean:     mean(s),
			PassRate: float64(passed) / float64(len(s)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// failureClusters groups failure reasons by domain, most frequent first and
// ties in order of first appearance.
func failureClusters(results []model.ScoreResult) []model.FailureCluster {
	type key struct{ reason, domain string }
	index := make(map[key]int)
	var out []model.FailureCluster

	for _, res := range results {
		for _, reason := range res.Failures {
			k := key{reason, res.Domain}
			if i, ok := index[k]; ok {
				out[i].Count++
				continue
			}
			index[k] = len(out)
			out = append(out, model.FailureCluster{Reason: reason, Domain: res.Domain, Count: 1})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
