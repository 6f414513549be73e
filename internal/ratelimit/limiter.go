package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter paces API requests with separate request and token buckets.
type Limiter struct {
	requestBucket *TokenBucket
	tokenBucket   *TokenBucket
	enabled       bool
	mu            sync.RWMutex

	totalRequests   int64
	blockedRequests int64
	totalTokens     int64
}

// Config holds rate limiter configuration.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	TokensPerMinute   int64
	BurstSize         int
}

// DefaultConfig returns the default rate limiter configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		TokensPerMinute:   1_000_000,
		BurstSize:         10,
	}
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	requestRefillRate := float64(cfg.RequestsPerMinute) / 60.0
	tokenRefillRate := float64(cfg.TokensPerMinute) / 60.0

	requestBurst := float64(cfg.BurstSize)
	if requestBurst < 1 {
		requestBurst = 1
	}

	// Token bucket burst allows 10% of the per-minute limit at once
	tokenBurst := float64(cfg.TokensPerMinute) / 10.0

	return &Limiter{
		requestBucket: NewTokenBucket(requestBurst, requestRefillRate),
		tokenBucket:   NewTokenBucket(tokenBurst, tokenRefillRate),
		enabled:       cfg.Enabled,
	}
}

// TryAcquire attempts to acquire a request slot without blocking.
func (l *Limiter) TryAcquire(estimatedTokens int64) bool {
	if !l.isEnabled() {
		return true
	}

	l.mu.Lock()
	l.totalRequests++
	l.mu.Unlock()

	if !l.requestBucket.TryConsume(1) {
		l.recordBlocked()
		return false
	}

	if estimatedTokens > 0 {
		if !l.tokenBucket.TryConsume(float64(estimatedTokens)) {
			// Put back the request slot we took
			l.requestBucket.Return(1)
			l.recordBlocked()
			return false
		}
	}

	return true
}

// AcquireWithTimeout blocks until a request slot is available or the
// timeout expires.
func (l *Limiter) AcquireWithTimeout(estimatedTokens int64, timeout time.Duration) error {
	if !l.isEnabled() {
		return nil
	}

	l.mu.Lock()
	l.totalRequests++
	l.mu.Unlock()

	if !l.requestBucket.ConsumeWithTimeout(1, timeout) {
		l.recordBlocked()
		return fmt.Errorf("rate limit exceeded: request limit")
	}

	if estimatedTokens > 0 {
		if !l.tokenBucket.ConsumeWithTimeout(float64(estimatedTokens), timeout) {
			l.requestBucket.Return(1)
			l.recordBlocked()
			return fmt.Errorf("rate limit exceeded: token limit")
		}
	}

	return nil
}

// AcquireWithContext blocks until a slot is available, respecting context
// cancellation.
func (l *Limiter) AcquireWithContext(ctx context.Context, estimatedTokens int64) error {
	if !l.isEnabled() {
		return nil
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	done := make(chan error, 1)
	go func() {
		err := l.AcquireWithTimeout(estimatedTokens, timeout)
		select {
		case done <- err:
		case <-ctx.Done():
			// Receiver gone; exit cleanly
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordUsage records actual token usage after a request completes.
func (l *Limiter) RecordUsage(actualTokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalTokens += actualTokens
}

// ReturnTokens returns acquired tokens after a failed request, to prevent
// bucket exhaustion from requests that never reached the backend.
func (l *Limiter) ReturnTokens(requestTokens int, estimatedTokens int64) {
	if !l.isEnabled() {
		return
	}
	if requestTokens > 0 {
		l.requestBucket.Return(float64(requestTokens))
	}
	if estimatedTokens > 0 {
		l.tokenBucket.Return(float64(estimatedTokens))
	}
}

// Stats holds rate limiter statistics.
type Stats struct {
	Enabled           bool
	TotalRequests     int64
	BlockedRequests   int64
	TotalTokens       int64
	AvailableRequests float64
	AvailableTokens   float64
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Stats{
		Enabled:           l.enabled,
		TotalRequests:     l.totalRequests,
		BlockedRequests:   l.blockedRequests,
		TotalTokens:       l.totalTokens,
		AvailableRequests: l.requestBucket.Available(),
		AvailableTokens:   l.tokenBucket.Available(),
	}
}

// SetEnabled enables or disables the rate limiter.
func (l *Limiter) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

func (l *Limiter) isEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

func (l *Limiter) recordBlocked() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockedRequests++
}

// EstimateTokens estimates token count for a message (~4 chars/token).
func EstimateTokens(message string) int64 {
	return int64(len(message) / 4)
}
