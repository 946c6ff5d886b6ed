package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(DefaultScorerConfig())
	require.NoError(t, err)
	return s
}

func TestDefaultScorerConfig_Valid(t *testing.T) {
	cfg := DefaultScorerConfig()
	assert.InDelta(t, 100, WeightSum(cfg), 0.001)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig_Errors(t *testing.T) {
	cfg := config.ScorerConfig{NameWeight: -5, MakerWeight: 10, PassThreshold: 120, ComponentFailThreshold: 2}
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name_weight must be >= 0")
	assert.Contains(t, err.Error(), "weights should sum to 100")
	assert.Contains(t, err.Error(), "pass_threshold")
	assert.Contains(t, err.Error(), "component_fail_threshold")

	_, err = New(cfg)
	assert.Error(t, err)
}

func TestComposite_WeightsAndClamp(t *testing.T) {
	cfg := DefaultScorerConfig()

	tests := []struct {
		name string
		c    model.ComponentScores
		want float64
	}{
		{"perfect", model.ComponentScores{Name: 1, Maker: 1, Era: 1, Value: 1}, 100},
		{"name only", model.ComponentScores{Name: 1}, 70},
		{"everything but name", model.ComponentScores{Maker: 1, Era: 1, Value: 1}, 30},
		{"half", model.ComponentScores{Name: 0.5, Maker: 0.5, Era: 0.5, Value: 0.5}, 50},
		{"out of range clamps", model.ComponentScores{Name: 2, Maker: 2, Era: 2, Value: 2}, 100},
		{"zero", model.ComponentScores{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Composite(cfg, tt.c), 0.001)
		})
	}
}

func TestNameScore(t *testing.T) {
	tests := []struct {
		name   string
		exp    model.ExpectedIdentification
		actual string
		min    float64
		max    float64
	}{
		{
			name:   "case whitespace punctuation",
			exp:    model.ExpectedIdentification{Name: "Eames Lounge Chair"},
			actual: "  eames   LOUNGE-chair. ",
			min:    1, max: 1,
		},
		{
			name:   "diacritics",
			exp:    model.ExpectedIdentification{Name: "Émile Gallé Cameo Vase"},
			actual: "Emile Galle cameo vase",
			min:    1, max: 1,
		},
		{
			name:   "keywords all present",
			exp:    model.ExpectedIdentification{Name: "Eames Lounge Chair", NameKeywords: []string{"eames", "lounge chair"}},
			actual: "Herman Miller Eames Lounge Chair and Ottoman",
			min:    1, max: 1,
		},
		{
			name:   "partial keywords",
			exp:    model.ExpectedIdentification{Name: "Eames Lounge Chair", NameKeywords: []string{"eames", "lounge chair"}},
			actual: "Lounge chair",
			min:    0.5, max: 0.99,
		},
		{
			name:   "typo still similar",
			exp:    model.ExpectedIdentification{Name: "Gorham Chantilly"},
			actual: "Gorham Chantily",
			min:    0.9, max: 0.99,
		},
		{
			name:   "unrelated",
			exp:    model.ExpectedIdentification{Name: "Tiffany Favrile Vase"},
			actual: "Cast iron doorstop",
			min:    0, max: 0.4,
		},
		{
			name:   "empty actual",
			exp:    model.ExpectedIdentification{Name: "Anything"},
			actual: "",
			min:    0, max: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NameScore(tt.exp, tt.actual)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestMakerScore(t *testing.T) {
	tests := []struct {
		name   string
		exp    model.ExpectedIdentification
		actual string
		want   float64
	}{
		{"legal suffix ignored", model.ExpectedIdentification{Maker: "Tiffany & Co."}, "Tiffany", 1},
		{"and co ignored", model.ExpectedIdentification{Maker: "Gorham Manufacturing Company"}, "gorham mfg. co", 1},
		{"alias", model.ExpectedIdentification{Maker: "Herman Miller", MakerAlternatives: []string{"Vitra"}}, "Vitra GmbH", 1},
		{"mismatch", model.ExpectedIdentification{Maker: "Wedgwood"}, "Spode", 0},
		{"missing actual", model.ExpectedIdentification{Maker: "Wedgwood"}, "", 0},
		{"expected empty", model.ExpectedIdentification{}, "Anyone", 1},
		{"expected unknown", model.ExpectedIdentification{Maker: "Unknown"}, "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MakerScore(tt.exp, tt.actual), 0.0001)
		})
	}
}

func TestEraScore(t *testing.T) {
	tests := []struct {
		name     string
		expected model.YearRange
		actual   model.YearRange
		want     float64
	}{
		{"exact", model.YearRange{Start: 1890, End: 1910}, model.YearRange{Start: 1890, End: 1910}, 1},
		{"partial overlap", model.YearRange{Start: 1956, End: 2026}, model.YearRange{Start: 1956, End: 1970}, 0.2},
		{"wider actual covers expected", model.YearRange{Start: 1900, End: 1920}, model.YearRange{Start: 1880, End: 1950}, 1},
		{"disjoint", model.YearRange{Start: 1900, End: 1920}, model.YearRange{Start: 1950, End: 1960}, 0},
		{"zero-length expected contained", model.YearRange{Start: 1925, End: 1925}, model.YearRange{Start: 1920, End: 1930}, 1},
		{"zero-length expected outside", model.YearRange{Start: 1925, End: 1925}, model.YearRange{Start: 1930, End: 1940}, 0},
		{"point estimate inside", model.YearRange{Start: 1900, End: 1920}, model.YearRange{Start: 1910, End: 1910}, 1},
		{"unknown actual", model.YearRange{Start: 1900, End: 1920}, model.YearRange{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EraScore(tt.expected, tt.actual), 0.0001)
		})
	}
}

func TestValueScore(t *testing.T) {
	exp := model.ValueRange{Low: 3000, High: 8000}

	tests := []struct {
		name   string
		actual model.ValueRange
		want   float64
	}{
		{"contained", model.ValueRange{Low: 4000, High: 6000}, 1},
		{"identical", model.ValueRange{Low: 3000, High: 8000}, 1},
		{"overlap high side", model.ValueRange{Low: 6000, High: 12000}, 0.4},
		{"covers expected", model.ValueRange{Low: 1000, High: 20000}, 1},
		{"below with gap", model.ValueRange{Low: 500, High: 1000}, 1 - 2000.0/8000.0},
		{"far above", model.ValueRange{Low: 20000, High: 30000}, 0},
		{"unknown actual", model.ValueRange{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ValueScore(exp, tt.actual), 0.0001)
		})
	}
}

// A furniture item whose era estimate only covers the first 14 of 70
// expected years still passes on the strength of name, maker and value.
func TestScore_EamesLoungeChair(t *testing.T) {
	s := newTestScorer(t)
	item := model.GroundTruthItem{
		ID: "furn-001",
		Expected: model.ExpectedIdentification{
			Name:         "Eames Lounge Chair",
			NameKeywords: []string{"eames", "lounge chair"},
			Maker:        "Herman Miller",
			Era:          model.YearRange{Start: 1956, End: 2026},
			Value:        model.ValueRange{Low: 3000, High: 8000},
			Domain:       "furniture",
		},
		Difficulty: model.DifficultyEasy,
	}
	outcome := &model.AnalysisOutcome{
		Name:  "Eames Lounge Chair and Ottoman",
		Maker: "Herman Miller Inc.",
		Era:   model.YearRange{Start: 1956, End: 1970},
		Value: model.ValueRange{Low: 4500, High: 6500},
	}

	res := s.Score(item, outcome)
	assert.Equal(t, "furn-001", res.ItemID)
	assert.Equal(t, "furniture", res.Domain)
	assert.InDelta(t, 1.0, res.Components.Name, 0.0001)
	assert.InDelta(t, 1.0, res.Components.Maker, 0.0001)
	assert.InDelta(t, 0.20, res.Components.Era, 0.0001)
	assert.InDelta(t, 1.0, res.Components.Value, 0.0001)
	assert.InDelta(t, 92, res.OverallScore, 0.0001)
	assert.Equal(t, []string{ReasonEra}, res.Failures)
	assert.True(t, s.Passed(res.OverallScore))
	assert.Equal(t, model.BandExcellent, BandFor(res.OverallScore))
}

func TestScore_NilOutcome(t *testing.T) {
	s := newTestScorer(t)
	res := s.Score(model.GroundTruthItem{ID: "x", Expected: model.ExpectedIdentification{Domain: "glass"}}, nil)
	assert.Zero(t, res.OverallScore)
	assert.Len(t, res.Failures, 4)
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		score float64
		want  model.Band
	}{
		{100, model.BandExcellent},
		{90, model.BandExcellent},
		{89.9, model.BandGood},
		{75, model.BandGood},
		{60, model.BandAcceptable},
		{40, model.BandPoor},
		{39.9, model.BandFailed},
		{0, model.BandFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BandFor(tt.score), "score %.1f", tt.score)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "tiffany co", Normalize("Tiffany & Co."))
	assert.Equal(t, "emile galle", Normalize("  Émile   Gallé "))
	assert.Equal(t, "childs chair", Normalize("Child's chair"))
	assert.Equal(t, "tiffany", normalizeMaker("Tiffany & Co."))
	assert.Equal(t, "co", normalizeMaker("Co"))
}
