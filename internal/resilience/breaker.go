package resilience

import (
	"sync"
	"time"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// BreakerState is the current mode of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds the failure threshold and cooldown for one breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before admitting a single
	// trial call.
	Cooldown time.Duration
}

// Breaker is a per-provider circuit breaker. While open, calls fail
// immediately with domain.ErrBreakerOpen so a dead provider produces fast,
// cheap failures instead of burning retry budget and governor tokens.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trialing bool // a half-open trial call is in flight
}

// NewBreaker creates a closed Breaker. A nil clock uses time.Now.
func NewBreaker(cfg BreakerConfig, clock func() time.Time) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{cfg: cfg, now: clock, state: BreakerClosed}
}

// Allow reserves a call slot. It returns domain.ErrBreakerOpen when the
// breaker is open and the cooldown has not elapsed, or when a half-open
// trial call is already in flight.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return domain.ErrBreakerOpen
		}
		// Cooldown elapsed: admit exactly one trial call.
		b.state = BreakerHalfOpen
		b.trialing = true
		return nil
	default: // half-open
		if b.trialing {
			return domain.ErrBreakerOpen
		}
		b.trialing = true
		return nil
	}
}

// RecordSuccess reports a successful attempt. In half-open state it closes
// the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialing = false
	b.state = BreakerClosed
}

// RecordFailure reports a failed attempt. The half-open trial failing, or
// the consecutive-failure count crossing the threshold, (re)opens the
// breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trialing = false
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = BreakerOpen
	b.failures = 0
	b.openedAt = b.now()
}

// State returns the current breaker state for logging.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet holds one Breaker per provider, created lazily.
type BreakerSet struct {
	cfg   map[domain.Provider]BreakerConfig
	def   BreakerConfig
	clock func() time.Time

	mu       sync.Mutex
	breakers map[domain.Provider]*Breaker
}

// NewBreakerSet creates a BreakerSet. Providers absent from cfg use def.
func NewBreakerSet(cfg map[domain.Provider]BreakerConfig, def BreakerConfig, clock func() time.Time) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		def:      def,
		clock:    clock,
		breakers: make(map[domain.Provider]*Breaker),
	}
}

// For returns the breaker for the given provider.
func (s *BreakerSet) For(p domain.Provider) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[p]; ok {
		return b
	}
	c, ok := s.cfg[p]
	if !ok {
		c = s.def
	}
	b := NewBreaker(c, s.clock)
	s.breakers[p] = b
	return b
}
