package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSpacesGrants(t *testing.T) {
	l := New(100) // 10ms between grants

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx)) // first grant is immediate

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	elapsed := time.Since(start)

	// Two further grants at 100/s need at least ~20ms combined.
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l := New(0.001) // next grant ~17 minutes away

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.Error(t, err)
}

func TestNewDefaultsNonPositiveRate(t *testing.T) {
	l := New(0)
	require.NotNil(t, l)
	assert.NoError(t, l.Acquire(context.Background()))
}
