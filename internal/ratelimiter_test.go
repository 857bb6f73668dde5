package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	r := NewRateLimiter()
	ctx := context.Background()

	for i := 0; i < rateLimitMax; i++ {
		res := r.CheckAndIncrement(ctx, "1.2.3.4")
		require.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, rateLimitMax-(i+1), res.Remaining)
	}

	res := r.CheckAndIncrement(ctx, "1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestRateLimiterPerIPIsolation(t *testing.T) {
	r := NewRateLimiter()
	ctx := context.Background()

	for i := 0; i < rateLimitMax; i++ {
		require.True(t, r.CheckAndIncrement(ctx, "1.1.1.1").Allowed)
	}
	assert.False(t, r.CheckAndIncrement(ctx, "1.1.1.1").Allowed)

	// A different IP has its own independent window.
	assert.True(t, r.CheckAndIncrement(ctx, "2.2.2.2").Allowed)
}

func TestRateLimiterFailsOpenOnCanceledContext(t *testing.T) {
	r := NewRateLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.CheckAndIncrement(ctx, "9.9.9.9")
	assert.True(t, res.Allowed)
}
