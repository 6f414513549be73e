package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a new token bucket. maxTokens is the bucket
// capacity; refillRate is tokens added per second.
func NewTokenBucket(maxTokens, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill adds tokens based on elapsed time. Caller must hold mu.
func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// tryTake attempts to take tokens, returning the wait estimate for the
// deficit when not enough are available. Caller must not hold mu.
func (b *TokenBucket) tryTake(tokens float64) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= tokens {
		b.tokens -= tokens
		return true, 0
	}

	deficit := tokens - b.tokens
	wait = time.Duration(deficit / b.refillRate * float64(time.Second))
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return false, wait
}

// TryConsume attempts to consume tokens without blocking.
func (b *TokenBucket) TryConsume(tokens float64) bool {
	ok, _ := b.tryTake(tokens)
	return ok
}

// ConsumeWithTimeout blocks until tokens are available or the timeout
// expires. Returns true on success.
func (b *TokenBucket) ConsumeWithTimeout(tokens float64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		ok, wait := b.tryTake(tokens)
		if ok {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if wait > remaining {
			wait = remaining
		}
		time.Sleep(wait)
	}
}

// Available returns the current number of available tokens.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// Return releases tokens back to the bucket, e.g. after a failed request.
func (b *TokenBucket) Return(tokens float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += tokens
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Reset restores the bucket to full capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = b.maxTokens
	b.lastRefill = time.Now()
}
