package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/apperr"
)

func failTransient(_ context.Context) (int, error) {
	return 0, NewTransientError(errors.New("503"), 503)
}

func succeed(_ context.Context) (int, error) { return 1, nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), cb, failTransient)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	_, err := Call(context.Background(), cb, func(_ context.Context) (int, error) {
		t.Error("should not be called when circuit is open")
		return 0, nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsTransient(err))
}

func TestCircuitBreaker_ParseErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		_, _ = Call(context.Background(), cb, func(_ context.Context) (int, error) {
			return 0, apperr.Parse(errors.New("no json"), "triage")
		})
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_, _ = Call(context.Background(), cb, failTransient)
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	v, err := Call(context.Background(), cb, succeed)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_, _ = Call(context.Background(), cb, failTransient)
	now = now.Add(2 * time.Second)
	_, _ = Call(context.Background(), cb, failTransient)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCall_NilBreaker(t *testing.T) {
	v, err := Call(context.Background(), nil, succeed)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
