package inference

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/pkg/anthropic"
)

// statusOverloaded is Anthropic's "overloaded" status.
const statusOverloaded = 529

// AdaptiveLimiter paces inference calls. It speeds up by 20% per success,
// up to twice the configured rate, and halves on a rate-limit or overload
// response, down to a quarter of it.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter returns a limiter starting at initialRate.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// NewLimiter builds the shared inference limiter from configuration. It
// returns nil when rate limiting is disabled.
func NewLimiter(cfg config.AnthropicConfig) *AdaptiveLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return NewAdaptiveLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// Wait blocks until a call may proceed.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (a *AdaptiveLimiter) Allow() bool {
	return a.limiter.Allow()
}

// OnSuccess raises the rate by 20%, up to twice the initial rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(min(a.currentRate*1.2, a.maxRate))
}

// OnRateLimit halves the rate, down to a quarter of the initial rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(max(a.currentRate*0.5, a.minRate))
	zap.L().Warn("inference: reducing request rate",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.currentRate = r
	a.limiter.SetLimit(r)
}

// observe adjusts the rate after a call.
func (a *AdaptiveLimiter) observe(err error) {
	if a == nil {
		return
	}
	if err == nil {
		a.OnSuccess()
		return
	}
	switch anthropic.StatusCode(err) {
	case http.StatusTooManyRequests, statusOverloaded:
		a.OnRateLimit()
	}
}
