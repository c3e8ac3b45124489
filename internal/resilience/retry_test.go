package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("connection reset")

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(MarkTransient(base)))
	assert.True(t, IsTransient(fmt.Errorf("list markets: %w", MarkTransient(base))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
}

func TestMarkTransientPreservesWrappedError(t *testing.T) {
	base := errors.New("status 503")
	marked := MarkTransient(base)

	assert.ErrorIs(t, marked, base)
	assert.Equal(t, base.Error(), marked.Error())
	assert.Nil(t, MarkTransient(nil))
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  8 * time.Second,
	}

	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := cfg.backoff(attempt)
			assert.GreaterOrEqual(t, d, cfg.BaseDelay/2, "attempt %d", attempt)
			assert.LessOrEqual(t, d, cfg.MaxDelay, "attempt %d", attempt)
		}
	}
}

func TestBackoffJittersAroundExponential(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	}

	// Attempt 1 targets 2s; jitter keeps the result in [1s, 2s].
	for i := 0; i < 50; i++ {
		d := cfg.backoff(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}
