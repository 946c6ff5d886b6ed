package eval

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/scorer"
)

func TestBuildReport(t *testing.T) {
	results := []model.ScoreResult{
		{ItemID: "a", Domain: "silver", OverallScore: 100},
		{ItemID: "b", Domain: "silver", OverallScore: 70, Failures: []string{scorer.ReasonMaker}},
		{ItemID: "c", Domain: "art", OverallScore: 50, Failures: []string{scorer.ReasonName, scorer.ReasonMaker}},
		{ItemID: "d", Domain: "silver", Failures: []string{ReasonTimeout}, Error: "deadline exceeded"},
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r := BuildReport(ReportInput{
		ID:               "rep-1",
		Mode:             model.EvalSmoke,
		StartedAt:        at,
		CompletedAt:      at.Add(time.Minute),
		Total:            6,
		Scorer:           scorer.DefaultScorerConfig(),
		BootstrapSamples: 500,
		Seed:             1,
		CostUSD:          0.5,
	}, results)

	assert.Equal(t, "rep-1", r.ID)
	assert.Equal(t, 6, r.Total)
	assert.Equal(t, 3, r.Scored)
	assert.Equal(t, 1, r.Errored)
	assert.Equal(t, 2, r.Skipped)
	assert.InDelta(t, 55.0, r.Mean, 1e-9)
	assert.InDelta(t, 60.0, r.Median, 1e-9)
	assert.Equal(t, 0.0, r.Min)
	assert.Equal(t, 100.0, r.Max)
	assert.InDelta(t, 0.25, r.PassRate, 1e-9)
	assert.Equal(t, 75.0, r.PassThreshold)
	assert.LessOrEqual(t, r.MeanCI.Lower, r.Mean)
	assert.GreaterOrEqual(t, r.MeanCI.Upper, r.Mean)

	wantBands := map[model.Band]int{
		model.BandExcellent:  1,
		model.BandAcceptable: 1,
		model.BandPoor:       1,
		model.BandFailed:     1,
	}
	if diff := cmp.Diff(wantBands, r.Bands); diff != "" {
		t.Errorf("bands mismatch (-want +got):\n%s", diff)
	}

	wantDomains := []model.DomainStats{
		{Domain: "art", Count: 1, Mean: 50, PassRate: 0},
		{Domain: "silver", Count: 3, Mean: 170.0 / 3, PassRate: 1.0 / 3},
	}
	if diff := cmp.Diff(wantDomains, r.ByDomain); diff != "" {
		t.Errorf("domain stats mismatch (-want +got):\n%s", diff)
	}

	wantClusters := []model.FailureCluster{
		{Reason: scorer.ReasonMaker, Domain: "silver", Count: 1},
		{Reason: scorer.ReasonName, Domain: "art", Count: 1},
		{Reason: scorer.ReasonMaker, Domain: "art", Count: 1},
		{Reason: ReasonTimeout, Domain: "silver", Count: 1},
	}
	if diff := cmp.Diff(wantClusters, r.CommonFailures); diff != "" {
		t.Errorf("failure clusters mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildReport_Empty(t *testing.T) {
	r := BuildReport(ReportInput{Total: 3, Cancelled: true, Scorer: scorer.DefaultScorerConfig()}, nil)
	require.NotNil(t, r.Results)
	assert.Empty(t, r.Results)
	assert.Equal(t, 3, r.Skipped)
	assert.True(t, r.Cancelled)
	assert.Zero(t, r.Mean)
	assert.Zero(t, r.PassRate)
	assert.Empty(t, r.ByDomain)
}

func TestFailureClusters_MostFrequentFirst(t *testing.T) {
	results := []model.ScoreResult{
		{Domain: "glass", Failures: []string{scorer.ReasonEra}},
		{Domain: "toys", Failures: []string{scorer.ReasonValue}},
		{Domain: "toys", Failures: []string{scorer.ReasonValue}},
		{Domain: "glass", Failures: []string{scorer.ReasonName}},
		{Domain: "glass", Failures: []string{scorer.ReasonName}},
	}
	got := failureClusters(results)
	want := []model.FailureCluster{
		{Reason: scorer.ReasonValue, Domain: "toys", Count: 2},
		{Reason: scorer.ReasonName, Domain: "glass", Count: 2},
		{Reason: scorer.ReasonEra, Domain: "glass", Count: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("clusters mismatch (-want +got):\n%s", diff)
	}
}
