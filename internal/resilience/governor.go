// Package resilience provides the outbound-call protection layers shared by
// every provider adapter: a per-provider rate governor, a circuit breaker,
// and a bounded retry policy. The layers compose through Caller.
package resilience

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// GovernorConfig holds the static per-provider rate budget.
type GovernorConfig struct {
	RatePerSec float64
	Burst      int
}

// providerGate serializes all waiters for one provider through a single
// mutex so a burst from one part of the pipeline cannot starve another part
// querying the same provider. Go's mutex starvation mode keeps the waiter
// queue FIFO-fair.
type providerGate struct {
	waitMu  sync.Mutex
	limiter *rate.Limiter
	static  rate.Limit
}

// Governor gates outbound calls under per-provider token budgets. Acquire
// only delays, it never fails except on context cancellation. The effective
// rate adapts to provider quota headers when present and falls back to the
// static configured budget otherwise.
type Governor struct {
	mu    sync.Mutex
	gates map[domain.Provider]*providerGate
	cfg   map[domain.Provider]GovernorConfig
	def   GovernorConfig
}

// NewGovernor creates a Governor with per-provider budgets. Providers absent
// from cfg use def.
func NewGovernor(cfg map[domain.Provider]GovernorConfig, def GovernorConfig) *Governor {
	if def.RatePerSec <= 0 {
		def.RatePerSec = 5
	}
	if def.Burst <= 0 {
		def.Burst = 1
	}
	return &Governor{
		gates: make(map[domain.Provider]*providerGate),
		cfg:   cfg,
		def:   def,
	}
}

func (g *Governor) gate(p domain.Provider) *providerGate {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gt, ok := g.gates[p]; ok {
		return gt
	}
	c, ok := g.cfg[p]
	if !ok || c.RatePerSec <= 0 {
		c = g.def
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	gt := &providerGate{
		limiter: rate.NewLimiter(rate.Limit(c.RatePerSec), c.Burst),
		static:  rate.Limit(c.RatePerSec),
	}
	g.gates[p] = gt
	return gt
}

// Acquire blocks until a token is available under the provider's budget. It
// returns an error only when ctx is cancelled while waiting.
func (g *Governor) Acquire(ctx context.Context, p domain.Provider) error {
	gt := g.gate(p)

	gt.waitMu.Lock()
	defer gt.waitMu.Unlock()

	if err := gt.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("governor: acquire %s: %w", p, err)
	}
	return nil
}

// Limit returns the provider's current effective rate, mostly for logging
// and tests.
func (g *Governor) Limit(p domain.Provider) float64 {
	return float64(g.gate(p).limiter.Limit())
}

// UpdateFromHeaders adjusts the provider's effective rate from standard
// quota headers. X-RateLimit-Remaining together with X-RateLimit-Reset
// (seconds until reset, or an absolute unix timestamp) yields a sustainable
// rate for the rest of the window; Retry-After throttles hard until the
// indicated delay passes. Headers carrying no quota information leave the
// static configured rate in effect.
func (g *Governor) UpdateFromHeaders(p domain.Provider, h http.Header) {
	if h == nil {
		return
	}
	gt := g.gate(p)

	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			gt.limiter.SetLimit(rate.Limit(1 / secs))
			return
		}
	}

	remaining, okRem := headerInt(h, "X-RateLimit-Remaining")
	reset, okReset := headerInt(h, "X-RateLimit-Reset")
	if !okRem || !okReset {
		gt.limiter.SetLimit(gt.static)
		return
	}

	// Reset may be a delta in seconds or an absolute unix timestamp.
	window := float64(reset)
	if reset > 1e9 {
		window = time.Until(time.Unix(reset, 0)).Seconds()
	}
	if window <= 0 {
		gt.limiter.SetLimit(gt.static)
		return
	}

	sustainable := rate.Limit(float64(remaining) / window)
	if sustainable > gt.static {
		sustainable = gt.static
	}
	if sustainable <= 0 {
		sustainable = rate.Limit(1 / window)
	}
	gt.limiter.SetLimit(sustainable)
}

func headerInt(h http.Header, key string) (int64, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
