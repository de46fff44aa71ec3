package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimpleRateLimiter_SpacesCalls(t *testing.T) {
	r := NewSimpleRateLimiter(30*time.Millisecond, 30*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		assert.NoError(t, r.Wait(ctx))
	}

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestSimpleRateLimiter_Cancelled(t *testing.T) {
	r := NewSimpleRateLimiter(time.Minute, time.Minute)
	assert.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}

func TestAdaptiveRateLimiter_Backoff(t *testing.T) {
	a := NewAdaptiveRateLimiter(time.Second, 2*time.Second)

	a.RecordError()
	a.RecordError()
	min, max := a.Delays()
	assert.Equal(t, time.Second, min)
	assert.Equal(t, 2*time.Second, max)

	a.RecordError()
	min, max = a.Delays()
	assert.Equal(t, 1500*time.Millisecond, min)
	assert.Equal(t, 3*time.Second, max)

	for i := 0; i < 12; i++ {
		a.RecordSuccess()
	}
	min, max = a.Delays()
	assert.Less(t, min, 1500*time.Millisecond)
	assert.GreaterOrEqual(t, min, time.Second)
	assert.GreaterOrEqual(t, max, 2*time.Second)
}
