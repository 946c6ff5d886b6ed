package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	a := NewAdaptiveLimiter(10, 1)
	assert.Equal(t, rate.Limit(10), a.Limit())

	a.OnSuccess()
	assert.InDelta(t, 12.0, float64(a.Limit()), 1e-9)
	for range 10 {
		a.OnSuccess()
	}
	assert.Equal(t, rate.Limit(20), a.Limit(), "capped at twice the initial rate")

	a.OnRateLimit()
	assert.Equal(t, rate.Limit(10), a.Limit())
	for range 5 {
		a.OnRateLimit()
	}
	assert.Equal(t, rate.Limit(2.5), a.Limit(), "floored at a quarter of the initial rate")
}

func TestAdaptiveLimiter_Observe(t *testing.T) {
	a := NewAdaptiveLimiter(4, 1)
	a.observe(nil)
	assert.InDelta(t, 4.8, float64(a.Limit()), 1e-9)

	a.observe(errors.New("connection reset"))
	assert.InDelta(t, 4.8, float64(a.Limit()), 1e-9, "only rate-limit statuses slow down")

	var nilLimiter *AdaptiveLimiter
	assert.NotPanics(t, func() { nilLimiter.observe(nil) })
}
