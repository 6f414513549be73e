package robustness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
		Jitter:      JitterNone,
	}
}

func TestBackoffDelay_FirstAttemptImmediate(t *testing.T) {
	assert.Equal(t, time.Duration(0), BackoffDelay(fastOptions(), 1))
	assert.Equal(t, time.Duration(0), BackoffDelay(fastOptions(), 0))
}

func TestBackoffDelay_ExponentialGrowth(t *testing.T) {
	opts := RetryOptions{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
		Jitter:      JitterNone,
	}

	// Delay before attempt n is BaseDelay * Multiplier^(n-2)
	assert.Equal(t, 100*time.Millisecond, BackoffDelay(opts, 2))
	assert.Equal(t, 200*time.Millisecond, BackoffDelay(opts, 3))
	assert.Equal(t, 400*time.Millisecond, BackoffDelay(opts, 4))
	assert.Equal(t, 800*time.Millisecond, BackoffDelay(opts, 5))
	// Capped at MaxDelay
	assert.Equal(t, time.Second, BackoffDelay(opts, 6))
	assert.Equal(t, time.Second, BackoffDelay(opts, 10))
}

func TestBackoffDelay_FullJitterBounds(t *testing.T) {
	opts := RetryOptions{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2,
		Jitter:     JitterFull,
	}

	for i := 0; i < 50; i++ {
		d := BackoffDelay(opts, 3)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestBackoffDelay_EqualJitterBounds(t *testing.T) {
	opts := RetryOptions{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2,
		Jitter:     JitterEqual,
	}

	// Equal jitter keeps at least half the computed delay
	for i := 0; i < 50; i++ {
		d := BackoffDelay(opts, 3)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), "test", fastOptions(),
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetry_RecoverAfterTransientFailure(t *testing.T) {
	calls := 0
	var attempts []Attempt

	result, err := Retry(context.Background(), "test", fastOptions(),
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 2 {
				return 0, errors.New("transient")
			}
			return 42, nil
		},
		func(a Attempt) { attempts = append(attempts, a) })

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 2, calls)

	// onAttempt fires once, before the retry, with the previous error
	require.Len(t, attempts, 1)
	assert.Equal(t, 2, attempts[0].Number)
	assert.EqualError(t, attempts[0].Err, "transient")
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), "test", fastOptions(),
		func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("still failing")
		}, nil)

	require.Error(t, err)
	assert.EqualError(t, err, "still failing")
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), "test", fastOptions(),
		func(ctx context.Context) (string, error) {
			calls++
			return "", Permanent(errors.New("denied"))
		}, nil)

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Retry(ctx, "test", fastOptions(),
		func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", errors.New("fail")
		}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsPermanent_WrappedError(t *testing.T) {
	base := errors.New("inner")
	wrapped := Permanent(base)

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsPermanent(base))
	assert.False(t, IsPermanent(nil))
}

func TestDefaultToolRetryOptions(t *testing.T) {
	opts := DefaultToolRetryOptions()
	assert.Equal(t, 3, opts.MaxAttempts)
	assert.Equal(t, 800*time.Millisecond, opts.BaseDelay)
	assert.Equal(t, 8*time.Second, opts.MaxDelay)
	assert.Equal(t, float64(2), opts.Multiplier)
	assert.Equal(t, JitterEqual, opts.Jitter)
}
