// Package resilience provides the retry policy and circuit breaker used for
// inference calls.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/config"
)

// Backoff controls the delay between attempts.
type Backoff struct {
	Initial        time.Duration
	Max            time.Duration
	Multiplier     float64
	JitterFraction float64 // ±fraction of the computed delay
}

// Policy is the single retry policy for external calls. The attempt budget
// depends on the class of the most recent failure; ClassPermanent is never
// retried.
type Policy struct {
	Attempts map[ErrorClass]int
	Backoff  Backoff

	// AttemptTimeout bounds each individual attempt. Zero disables it.
	AttemptTimeout time.Duration

	// Detach runs attempts on a context that ignores caller cancellation so
	// an in-flight call can finish. No new attempt starts once the caller's
	// context is done.
	Detach bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, class ErrorClass, err error)
}

// Outcome reports how a policy run went.
type Outcome struct {
	Attempts  int
	LastClass ErrorClass
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: map[ErrorClass]int{
			ClassTransient: 3,
			ClassTimeout:   2,
			ClassParse:     2,
			ClassPermanent: 1,
		},
		Backoff: Backoff{
			Initial:        500 * time.Millisecond,
			Max:            10 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.25,
		},
		AttemptTimeout: 60 * time.Second,
	}
}

// FromConfig builds a Policy from configuration, falling back to defaults
// for unset values.
func FromConfig(cfg config.ResilienceConfig) Policy {
	p := DefaultPolicy()
	if cfg.TransientAttempts > 0 {
		p.Attempts[ClassTransient] = cfg.TransientAttempts
	}
	if cfg.TimeoutAttempts > 0 {
		p.Attempts[ClassTimeout] = cfg.TimeoutAttempts
	}
	if cfg.ParseAttempts > 0 {
		p.Attempts[ClassParse] = cfg.ParseAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		p.Backoff.Initial = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		p.Backoff.Max = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		p.Backoff.Multiplier = cfg.Multiplier
	}
	if cfg.JitterFraction >= 0 {
		p.Backoff.JitterFraction = cfg.JitterFraction
	}
	if cfg.StageTimeoutSecs > 0 {
		p.AttemptTimeout = time.Duration(cfg.StageTimeoutSecs) * time.Second
	}
	return p
}

// budget returns how many total attempts class allows.
func (p Policy) budget(class ErrorClass) int {
	if class == ClassPermanent {
		return 1
	}
	if n, ok := p.Attempts[class]; ok && n > 0 {
		return n
	}
	return 1
}

// Run executes fn under p. It returns the last value and error along with
// the attempt count.
func Run[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, Outcome, error) {
	var (
		zero T
		out  Outcome
	)

	base := ctx
	if p.Detach {
		base = context.WithoutCancel(ctx)
	}

	for {
		if err := ctx.Err(); err != nil && out.Attempts > 0 {
			return zero, out, err
		}

		attemptCtx, cancel := base, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(base, p.AttemptTimeout)
		}
		val, err := fn(attemptCtx)
		cancel()
		out.Attempts++

		if err == nil {
			out.LastClass = ""
			return val, out, nil
		}

		class := Classify(err)
		out.LastClass = class
		if out.Attempts >= p.budget(class) || ctx.Err() != nil {
			return zero, out, err
		}

		if p.OnRetry != nil {
			p.OnRetry(out.Attempts, class, err)
		}

		timer := time.NewTimer(p.Backoff.delay(out.Attempts - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, out, err
		case <-timer.C:
		}
	}
}

func (b Backoff) delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	mul := b.Multiplier
	if mul <= 0 {
		mul = 2.0
	}

	d := float64(initial) * math.Pow(mul, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * b.JitterFraction
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, ErrorClass, error) {
	return func(attempt int, class ErrorClass, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("class", string(class)),
			zap.Error(err),
		)
	}
}
