package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep captures requested delays without waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	rec := &recordingSleep{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = rec.sleep

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	rec := &recordingSleep{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = rec.sleep

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("temporary"), 503)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, rec.delays)
}

func TestDoVal_ExhaustsRetries(t *testing.T) {
	rec := &recordingSleep{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = rec.sleep

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 7, NewTransientError(errors.New("always fails"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 0, val, "zero value on failure")
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.delays, 2, "no sleep after the last attempt")
	assert.True(t, IsExhausted(err))
	assert.True(t, IsTransient(err))
}

func TestDoVal_NonTransientError_NoRetry(t *testing.T) {
	rec := &recordingSleep{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = rec.sleep

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent error: bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsExhausted(err))
	assert.Empty(t, rec.delays)
}

func TestDoVal_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
	}

	var calls int
	_, err := DoVal(ctx, cfg, func(_ context.Context) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, NewTransientError(errors.New("fail"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 3,
		ShouldRetry: func(err error) bool {
			return err.Error() == "retry me"
		},
		Sleep: (&recordingSleep{}).sleep,
	}

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("retry me")
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoVal_OnRetryCallback(t *testing.T) {
	var retryAttempts []int
	cfg := RetryConfig{
		MaxAttempts: 3,
		OnRetry: func(attempt int, _ error) {
			retryAttempts = append(retryAttempts, attempt)
		},
		Sleep: (&recordingSleep{}).sleep,
	}

	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("fail"), 503)
	})

	assert.Equal(t, []int{1, 2}, retryAttempts)
}

func TestComputeBackoff_Fixed(t *testing.T) {
	cfg := applyDefaults(DefaultRetryConfig())
	for attempt := 0; attempt < 4; attempt++ {
		assert.Equal(t, 5*time.Second, computeBackoff(attempt, cfg))
	}
}

func TestComputeBackoff_ExponentialGrowth(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	})

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, want := range expected {
		assert.Equal(t, want, computeBackoff(i, cfg), "attempt %d", i)
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     10.0,
	})
	assert.LessOrEqual(t, computeBackoff(5, cfg), 5*time.Second)
}

func TestComputeBackoff_WithJitter(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	})

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := computeBackoff(0, cfg)
		seen[d] = true
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1, "expected jitter to produce varying delays")
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(5, 250, false)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.InDelta(t, 1.0, cfg.Multiplier, 0.0001)

	exp := FromRetryConfig(0, 100, true)
	assert.Equal(t, 3, exp.MaxAttempts)
	assert.InDelta(t, 2.0, exp.Multiplier, 0.0001)
}

func TestTimerSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := timerSleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryLogger(t *testing.T) {
	t.Parallel()
	// Just verify it doesn't panic.
	logger := RetryLogger("opencage", "geocode")
	logger(1, errors.New("test error"))
}
