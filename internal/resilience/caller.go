package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// Caller layers the governor, breaker, and retry policy around one outbound
// provider call. The breaker reserves a single call slot and every retry
// attempt is recorded against it, so a provider hammered by retries still
// trips the breaker; each attempt takes its own governor token.
type Caller struct {
	governor *Governor
	breakers *BreakerSet
	retry    RetryConfig
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCaller creates a Caller. timeout bounds each individual attempt; on
// expiry the attempt is treated as a transient failure.
func NewCaller(g *Governor, b *BreakerSet, retry RetryConfig, timeout time.Duration, logger *slog.Logger) *Caller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Caller{
		governor: g,
		breakers: b,
		retry:    retry,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "caller")),
	}
}

// Call runs fn under the provider's protection layers. It returns
// domain.ErrBreakerOpen without attempting any I/O while the breaker is
// open; that case is logged distinctly so operators can tell "provider
// down" from "we're backing off".
func (c *Caller) Call(ctx context.Context, p domain.Provider, fn func(ctx context.Context) error) error {
	br := c.breakers.For(p)
	if err := br.Allow(); err != nil {
		c.logger.Debug("call skipped, breaker open", slog.String("provider", string(p)))
		return err
	}

	var err error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err = c.governor.Acquire(ctx, p); err != nil {
			// Release the reserved slot; an abandoned half-open trial would
			// otherwise leave the breaker wedged with a trial in flight.
			br.RecordFailure()
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(attemptCtx)
		cancel()

		if err == nil {
			br.RecordSuccess()
			return nil
		}
		br.RecordFailure()

		if ctx.Err() != nil {
			return err
		}
		if !IsTransient(err) {
			c.logger.Warn("call failed, not retryable",
				slog.String("provider", string(p)),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			return err
		}
		if errors.Is(br.Allow(), domain.ErrBreakerOpen) {
			// The failure threshold was crossed mid-call; stop retrying.
			break
		}
		if attempt < c.retry.MaxAttempts-1 {
			c.logger.Warn("transient call failure, retrying",
				slog.String("provider", string(p)),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			if serr := sleep(ctx, c.retry.backoff(attempt)); serr != nil {
				return err
			}
		}
	}
	return err
}
