package robustness

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"kodai/internal/logging"
)

// Jitter selects how backoff delays are perturbed.
type Jitter string

const (
	// JitterNone applies the computed delay unchanged.
	JitterNone Jitter = "none"
	// JitterFull replaces the delay with uniform [0, delay].
	JitterFull Jitter = "full"
	// JitterEqual keeps half the delay and randomizes the rest:
	// delay/2 + uniform [0, delay/2].
	JitterEqual Jitter = "equal"
)

// RetryOptions parameterizes a bounded-attempt execution.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      Jitter
}

// DefaultToolRetryOptions returns the retry parameters used for tool
// invocations.
func DefaultToolRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   800 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2,
		Jitter:      JitterEqual,
	}
}

// Attempt describes one retry iteration for observability callbacks.
type Attempt struct {
	// Number is the 1-indexed attempt about to run.
	Number int
	// Err is the error from the previous attempt, nil on the first.
	Err error
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so Retry stops immediately instead of
// retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether an error was flagged non-retriable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// BackoffDelay computes the delay before the given 1-indexed attempt.
// Attempt 1 runs immediately; attempt n>1 waits
// min(MaxDelay, BaseDelay * Multiplier^(n-2)), perturbed by jitter.
func BackoffDelay(opts RetryOptions, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	mult := opts.Multiplier
	if mult <= 0 {
		mult = 2
	}

	delay := time.Duration(float64(opts.BaseDelay) * math.Pow(mult, float64(attempt-2)))
	if opts.MaxDelay > 0 && delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	if delay <= 0 {
		return 0
	}

	switch opts.Jitter {
	case JitterFull:
		delay = time.Duration(rand.Int63n(int64(delay) + 1))
	case JitterEqual:
		half := delay / 2
		delay = half + time.Duration(rand.Int63n(int64(half)+1))
	}

	return delay
}

// Retry executes fn with bounded attempts and exponential backoff.
// Attempts are 1-indexed. onAttempt, when non-nil, is called before each
// retry (attempts 2..N) with the previous error. The result of the first
// successful call is returned; otherwise the final error.
func Retry[T any](ctx context.Context, category string, opts RetryOptions, fn func(ctx context.Context) (T, error), onAttempt func(Attempt)) (T, error) {
	var zero T

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if onAttempt != nil {
				onAttempt(Attempt{Number: attempt, Err: lastErr})
			}

			delay := BackoffDelay(opts, attempt)
			logging.Debug("retrying operation",
				"category", category, "attempt", attempt, "delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if IsPermanent(err) || errors.Is(err, context.Canceled) {
			return zero, err
		}
	}

	logging.Warn("retries exhausted", "category", category, "attempts", maxAttempts, "error", lastErr)
	return zero, lastErr
}
