// Package whale flags unusually large trades. Detection is idempotent on
// the provider-native trade ID, so polling and streaming paths can both
// feed the same detector without double counting.
package whale

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/provider"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
)

// Sink receives newly detected whale trades.
type Sink interface {
	WhaleDetected(ctx context.Context, w domain.WhaleTrade)
}

// Detector classifies trades against the notional threshold and records
// hits.
type Detector struct {
	store     domain.WhaleTradeStore
	threshold decimal.Decimal
	sink      Sink
	now       func() time.Time
	logger    *slog.Logger
}

// NewDetector creates a Detector. A zero threshold uses the $10,000
// default. sink may be nil.
func NewDetector(store domain.WhaleTradeStore, thresholdUSD decimal.Decimal, sink Sink, logger *slog.Logger) *Detector {
	if thresholdUSD.IsZero() {
		thresholdUSD = decimal.NewFromInt(10_000)
	}
	return &Detector{
		store:     store,
		threshold: thresholdUSD,
		sink:      sink,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "whale")),
	}
}

// Observe classifies one trade. It returns true only when the trade met the
// threshold AND was newly recorded; a trade seen before returns false with
// no side effects. The threshold is inclusive: a trade at exactly the
// threshold is a whale.
func (d *Detector) Observe(ctx context.Context, t domain.Trade) (bool, error) {
	if t.NotionalUSD.LessThan(d.threshold) {
		return false, nil
	}

	w := domain.WhaleTrade{
		Provider:    t.Provider,
		TradeID:     t.TradeID,
		MarketID:    t.MarketID,
		Side:        t.Side,
		Outcome:     t.Outcome,
		NotionalUSD: t.NotionalUSD,
		Shares:      t.Shares,
		Price:       t.Price,
		Trader:      t.Trader,
		ExecutedAt:  t.ExecutedAt,
		DetectedAt:  d.now().UTC(),
	}

	inserted, err := d.store.Upsert(ctx, w)
	if err != nil {
		return false, fmt.Errorf("whale: recording trade %s/%s: %w", t.Provider, t.TradeID, err)
	}
	if !inserted {
		return false, nil
	}

	d.logger.Info("whale trade detected",
		slog.String("provider", string(w.Provider)),
		slog.String("trade_id", w.TradeID),
		slog.String("market_id", w.MarketID),
		slog.String("notional_usd", w.NotionalUSD.StringFixed(2)),
	)
	if d.sink != nil {
		d.sink.WhaleDetected(ctx, w)
	}
	return true, nil
}

// Scanner polls every provider's trade tape for the markets currently
// active in the store and runs each trade through the detector.
type Scanner struct {
	detector *Detector
	adapters provider.Set
	markets  domain.MarketStore
	caller   *resilience.Caller
	interval time.Duration
	// maxMarkets bounds the tape fetches per pass per provider.
	maxMarkets int
	logger     *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(detector *Detector, adapters provider.Set, markets domain.MarketStore, caller *resilience.Caller, interval time.Duration, logger *slog.Logger) *Scanner {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Scanner{
		detector:   detector,
		adapters:   adapters,
		markets:    markets,
		caller:     caller,
		interval:   interval,
		maxMarkets: 50,
		logger:     logger.With(slog.String("component", "whale_scanner")),
	}
}

// RunOnce scans every provider once and returns the number of new whales.
func (s *Scanner) RunOnce(ctx context.Context) (int, error) {
	var total int
	g, gctx := errgroup.WithContext(ctx)
	counts := make([]int, len(domain.Providers()))

	for i, p := range domain.Providers() {
		adapter := s.adapters.For(p)
		if adapter == nil {
			continue
		}
		g.Go(func() error {
			n, err := s.scanProvider(gctx, adapter)
			counts[i] = n
			if err != nil {
				// Provider isolation: log and keep the others scanning.
				s.logger.Error("whale scan failed",
					slog.String("provider", string(p)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func (s *Scanner) scanProvider(ctx context.Context, adapter provider.Adapter) (int, error) {
	p := adapter.Name()
	markets, err := s.markets.ListActive(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("listing active markets: %w", err)
	}
	if len(markets) > s.maxMarkets {
		markets = markets[:s.maxMarkets]
	}

	detected := 0
	for _, m := range markets {
		var trades []domain.Trade
		err := s.caller.Call(ctx, p, func(ctx context.Context) error {
			var ferr error
			trades, ferr = adapter.GetTrades(ctx, m.ID)
			return ferr
		})
		if err != nil {
			return detected, fmt.Errorf("fetching trades for %s: %w", m.ID, err)
		}
		for _, t := range trades {
			isNew, err := s.detector.Observe(ctx, t)
			if err != nil {
				return detected, err
			}
			if isNew {
				detected++
			}
		}
	}
	return detected, nil
}

// Run scans until ctx is cancelled, starting immediately.
func (s *Scanner) Run(ctx context.Context) error {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("whale scan pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("whale scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("whale scan pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
