// Package scorer compares an analysis outcome to a ground-truth record and
// produces per-field similarities and a weighted composite score.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vintagevision/vintagevision/internal/config"
)

// DefaultScorerConfig returns a config.ScorerConfig with sensible defaults.
// Weights sum to 100.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		NameWeight:  70,
		MakerWeight: 10,
		EraWeight:   10,
		ValueWeight: 10,

		PassThreshold:          75,
		ComponentFailThreshold: 0.5,
	}
}

// WeightSum returns the sum of all component weights.
func WeightSum(c config.ScorerConfig) float64 {
	return c.NameWeight + c.MakerWeight + c.EraWeight + c.ValueWeight
}

// ValidateConfig checks that a ScorerConfig is internally consistent.
func ValidateConfig(c config.ScorerConfig) error {
	var errs []string

	weights := []struct {
		name string
		w    float64
	}{
		{"name_weight", c.NameWeight},
		{"maker_weight", c.MakerWeight},
		{"era_weight", c.EraWeight},
		{"value_weight", c.ValueWeight},
	}
	for _, w := range weights {
		if w.w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}

	sum := WeightSum(c)
	if sum <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}
	if math.Abs(sum-100) > 1 {
		errs = append(errs, fmt.Sprintf("weights should sum to 100, got %.1f", sum))
	}

	if c.PassThreshold < 0 || c.PassThreshold > 100 {
		errs = append(errs, "pass_threshold must be between 0 and 100")
	}
	if c.ComponentFailThreshold < 0 || c.ComponentFailThreshold > 1 {
		errs = append(errs, "component_fail_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
