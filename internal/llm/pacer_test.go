package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_EnforcesInterval(t *testing.T) {
	p := newPacer(40 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.wait(context.Background()))
	require.NoError(t, p.wait(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestPacer_ZeroIntervalDoesNotBlock(t *testing.T) {
	p := newPacer(0)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestPacer_CancelledContext(t *testing.T) {
	p := newPacer(time.Minute)
	require.NoError(t, p.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.wait(ctx), context.Canceled)
}
