package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

func testCaller(t *testing.T, retry RetryConfig, breaker BreakerConfig) (*Caller, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	g := NewGovernor(nil, GovernorConfig{RatePerSec: 10_000, Burst: 100})
	b := NewBreakerSet(nil, breaker, clock.Now)
	return NewCaller(g, b, retry, time.Minute, slog.New(slog.DiscardHandler)), clock
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestCallerRetriesTransientFailures(t *testing.T) {
	c, _ := testCaller(t, fastRetry(), BreakerConfig{Threshold: 10, Cooldown: time.Minute})

	calls := 0
	err := c.Call(context.Background(), domain.ProviderPolymarket, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return MarkTransient(errors.New("status 503"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallerDoesNotRetryPermanentErrors(t *testing.T) {
	c, _ := testCaller(t, fastRetry(), BreakerConfig{Threshold: 10, Cooldown: time.Minute})

	calls := 0
	permanent := errors.New("status 400")
	err := c.Call(context.Background(), domain.ProviderPolymarket, func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestCallerExhaustsRetryBudget(t *testing.T) {
	c, _ := testCaller(t, fastRetry(), BreakerConfig{Threshold: 10, Cooldown: time.Minute})

	calls := 0
	err := c.Call(context.Background(), domain.ProviderManifold, func(ctx context.Context) error {
		calls++
		return MarkTransient(errors.New("timeout"))
	})

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestCallerFailsFastWhileBreakerOpen(t *testing.T) {
	c, _ := testCaller(t, fastRetry(), BreakerConfig{Threshold: 1, Cooldown: time.Minute})

	// One failure opens the breaker.
	boom := MarkTransient(errors.New("down"))
	calls := 0
	_ = c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, 1, calls, "retries stop once the breaker opens")

	// Subsequent calls are rejected without touching the provider.
	err := c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.Equal(t, 1, calls)
}

func TestCallerStopsRetryingWhenBreakerOpensMidCall(t *testing.T) {
	c, _ := testCaller(t, fastRetry(), BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	calls := 0
	err := c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error {
		calls++
		return MarkTransient(errors.New("down"))
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "third attempt skipped after the threshold trips")
}

func TestCallerRecoversThroughHalfOpenTrial(t *testing.T) {
	c, clock := testCaller(t, fastRetry(), BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second})

	_ = c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error {
		return MarkTransient(errors.New("down"))
	})

	clock.Advance(11 * time.Second)

	calls := 0
	err := c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The trial success closed the breaker again.
	err = c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestCallerAbortedTrialReleasesBreakerSlot(t *testing.T) {
	c, clock := testCaller(t, fastRetry(), BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second})

	_ = c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error {
		return MarkTransient(errors.New("down"))
	})

	clock.Advance(11 * time.Second)

	// The half-open trial slot is granted, but the governor acquire aborts
	// on an already-cancelled context before any I/O happens.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := c.Call(cancelled, domain.ProviderKalshi, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)

	// The slot was released, so a later trial can still close the breaker
	// instead of every call being rejected forever.
	clock.Advance(11 * time.Second)
	err = c.Call(context.Background(), domain.ProviderKalshi, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestCallerHonorsContextCancellation(t *testing.T) {
	c, _ := testCaller(t, fastRetry(), BreakerConfig{Threshold: 10, Cooldown: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.Call(ctx, domain.ProviderPolymarket, func(ctx context.Context) error {
		calls++
		cancel()
		return MarkTransient(errors.New("slow"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "no retry after the caller's context ends")
}
