package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		mean   float64
		median float64
		std    float64
	}{
		{"empty", nil, 0, 0, 0},
		{"single", []float64{42}, 42, 42, 0},
		{"odd", []float64{3, 1, 2}, 2, 2, 0.816496580927726},
		{"even", []float64{4, 1, 3, 2}, 2.5, 2.5, 1.118033988749895},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.mean, mean(tt.values), 1e-9)
			assert.InDelta(t, tt.median, median(tt.values), 1e-9)
			assert.InDelta(t, tt.std, stdDev(tt.values), 1e-9)
		})
	}
}

func TestMedian_DoesNotReorderInput(t *testing.T) {
	values := []float64{3, 1, 2}
	median(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestBootstrapCI(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	ci := bootstrapCI(values, 0.95, 1000, 7)
	assert.Equal(t, 0.95, ci.Level)
	assert.LessOrEqual(t, ci.Lower, mean(values))
	assert.GreaterOrEqual(t, ci.Upper, mean(values))
	assert.GreaterOrEqual(t, ci.Lower, 10.0)
	assert.LessOrEqual(t, ci.Upper, 100.0)

	assert.Equal(t, ci, bootstrapCI(values, 0.95, 1000, 7), "same seed, same interval")

	t.Run("degenerate", func(t *testing.T) {
		one := bootstrapCI([]float64{5}, 0.95, 1000, 1)
		assert.Equal(t, 5.0, one.Lower)
		assert.Equal(t, 5.0, one.Upper)

		noIters := bootstrapCI(values, 0.95, 0, 1)
		assert.Equal(t, noIters.Lower, noIters.Upper)
	})
}
