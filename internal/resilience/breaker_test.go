package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: 30 * time.Second}, clock.Now)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), domain.ErrBreakerOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: 30 * time.Second}, clock.Now)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second}, clock.Now)

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	// Before the cooldown elapses all calls are rejected.
	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), domain.ErrBreakerOpen)

	// After the cooldown exactly one trial call is admitted.
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), domain.ErrBreakerOpen)
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second}, clock.Now)

	b.RecordFailure()
	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerTrialFailureReopensAndRestartsCooldown(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second}, clock.Now)

	b.RecordFailure()
	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	// The cooldown restarts from the trial failure, not the first opening.
	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), domain.ErrBreakerOpen)
	clock.Advance(2 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerSetIsolatesProviders(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(nil, BreakerConfig{Threshold: 1, Cooldown: time.Minute}, clock.Now)

	set.For(domain.ProviderKalshi).RecordFailure()

	assert.ErrorIs(t, set.For(domain.ProviderKalshi).Allow(), domain.ErrBreakerOpen)
	assert.NoError(t, set.For(domain.ProviderPolymarket).Allow())

	// Same provider always maps to the same breaker instance.
	assert.Same(t, set.For(domain.ProviderKalshi), set.For(domain.ProviderKalshi))
}
