package eval

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/vintagevision/vintagevision/internal/model"
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// bootstrapCI computes a percentile bootstrap interval for the mean. The
// same seed always yields the same interval.
func bootstrapCI(values []float64, level float64, iters int, seed uint64) model.ConfidenceInterval {
	n := len(values)
	m := mean(values)
	if n < 2 || iters <= 0 {
		return model.ConfidenceInterval{Lower: m, Upper: m, Level: level}
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	means := make([]float64, iters)
	sample := make([]float64, n)
	for i := range means {
		for j := range sample {
			sample[j] = values[rng.IntN(n)]
		}
		means[i] = mean(sample)
	}
	sort.Float64s(means)

	alpha := 1 - level
	lo := int(math.Floor(alpha / 2 * float64(iters)))
	hi := min(int(math.Floor((1-alpha/2)*float64(iters))), iters-1)
	return model.ConfidenceInterval{Lower: means[lo], Upper: means[hi], Level: level}
}
