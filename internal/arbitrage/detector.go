// Package arbitrage finds cross-provider price discrepancies: pairs of
// equivalent markets where buying YES on one venue and NO on the other
// costs less than the guaranteed payout.
package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// Config tunes the detector.
type Config struct {
	// MinSimilarity is the question-similarity floor for treating two
	// markets as the same event.
	MinSimilarity float64
	// MinSpreadBps is the minimum profit spread worth reporting. Spread is
	// payout minus combined cost, in basis points.
	MinSpreadBps int
	// TTL is how long a detected opportunity stays fresh.
	TTL time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinSimilarity: 0.7,
		MinSpreadBps:  100,
		TTL:           5 * time.Minute,
	}
}

// Detector pairs markets across providers and scores the complementary
// trade. It holds no state between calls.
type Detector struct {
	matcher MarketMatcher
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(matcher MarketMatcher, cfg Config, logger *slog.Logger) *Detector {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.7
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Detector{
		matcher: matcher,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "arbitrage")),
	}
}

// FindOpportunities scans all cross-provider pairs in the snapshot. Markets
// that are not actively priced are skipped; their even default prices would
// otherwise fabricate spreads out of missing data.
func (d *Detector) FindOpportunities(markets []domain.Market) []domain.Opportunity {
	priced := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if m.Status == domain.MarketStatusActive {
			priced = append(priced, m)
		}
	}

	now := d.now().UTC()
	var out []domain.Opportunity
	for i := 0; i < len(priced); i++ {
		for j := i + 1; j < len(priced); j++ {
			a, b := priced[i], priced[j]
			if a.Provider == b.Provider {
				continue
			}
			sim := d.matcher.Similarity(a.Question, b.Question)
			if sim < d.cfg.MinSimilarity {
				continue
			}
			if opp, ok := d.score(a, b, sim, now); ok {
				out = append(out, opp)
			}
			if opp, ok := d.score(b, a, sim, now); ok {
				out = append(out, opp)
			}
		}
	}

	// Best opportunity first, so a caller with limited capital takes the
	// widest spread.
	sort.Slice(out, func(i, j int) bool { return out[i].SpreadBps > out[j].SpreadBps })
	return out
}

// score evaluates buying YES on yesSide and NO on noSide. A pair of
// complementary contracts always pays out full scale, so any combined cost
// below that, beyond the configured floor, is an opportunity.
func (d *Detector) score(yesSide, noSide domain.Market, sim float64, now time.Time) (domain.Opportunity, bool) {
	cost := yesSide.YesPriceBps + noSide.NoPriceBps
	spread := domain.FullScaleBps - cost
	if spread < d.cfg.MinSpreadBps {
		return domain.Opportunity{}, false
	}

	opp := domain.Opportunity{
		BuyYes: domain.ArbLeg{
			Provider:    yesSide.Provider,
			MarketID:    yesSide.ID,
			Question:    yesSide.Question,
			YesPriceBps: yesSide.YesPriceBps,
			NoPriceBps:  yesSide.NoPriceBps,
		},
		BuyNo: domain.ArbLeg{
			Provider:    noSide.Provider,
			MarketID:    noSide.ID,
			Question:    noSide.Question,
			YesPriceBps: noSide.YesPriceBps,
			NoPriceBps:  noSide.NoPriceBps,
		},
		CombinedCostBps: cost,
		SpreadBps:       spread,
		// Dollars of profit per $1-payout contract pair.
		ProfitPerPair: decimal.New(int64(spread), -4),
		Similarity:    sim,
		DetectedAt:    now,
		ExpiresAt:     now.Add(d.cfg.TTL),
	}
	return opp, true
}

// Sink receives detected opportunities.
type Sink interface {
	ArbDetected(ctx context.Context, opp domain.Opportunity)
}

// Loop periodically snapshots active markets and runs the detector over
// them. Detection runs more often than sync, so snapshots are served from
// the cache when one is present and rebuilt from the store on a miss.
type Loop struct {
	detector *Detector
	markets  domain.MarketStore
	cache    domain.MarketCache
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
}

// NewLoop creates a detection loop. cache and sink may be nil.
func NewLoop(detector *Detector, markets domain.MarketStore, cache domain.MarketCache, sink Sink, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{
		detector: detector,
		markets:  markets,
		cache:    cache,
		sink:     sink,
		interval: interval,
		logger:   logger.With(slog.String("component", "arbitrage_loop")),
	}
}

// snapshot returns the provider's active markets, preferring the cache.
func (l *Loop) snapshot(ctx context.Context, p domain.Provider) ([]domain.Market, error) {
	if l.cache != nil {
		ms, err := l.cache.GetActive(ctx, p)
		if err == nil {
			return ms, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.Warn("cache read failed, falling back to store",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
		}
	}

	ms, err := l.markets.ListActive(ctx, p)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.SetActive(ctx, p, ms); err != nil {
			l.logger.Warn("cache write failed",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
		}
	}
	return ms, nil
}

// RunOnce executes a single detection pass and returns what it found.
func (l *Loop) RunOnce(ctx context.Context) ([]domain.Opportunity, error) {
	var (
		g, gctx  = errgroup.WithContext(ctx)
		byProv   = make([][]domain.Market, len(domain.Providers()))
		provList = domain.Providers()
	)
	for i, p := range provList {
		g.Go(func() error {
			ms, err := l.snapshot(gctx, p)
			if err != nil {
				return err
			}
			byProv[i] = ms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []domain.Market
	for _, ms := range byProv {
		all = append(all, ms...)
	}

	opps := l.detector.FindOpportunities(all)
	for _, opp := range opps {
		l.logger.Info("arbitrage opportunity",
			slog.String("yes_provider", string(opp.BuyYes.Provider)),
			slog.String("no_provider", string(opp.BuyNo.Provider)),
			slog.Int("spread_bps", opp.SpreadBps),
			slog.Float64("similarity", opp.Similarity),
		)
		if l.sink != nil {
			l.sink.ArbDetected(ctx, opp)
		}
	}
	return opps, nil
}

// Run executes detection passes until ctx is cancelled, starting with an
// immediate pass.
func (l *Loop) Run(ctx context.Context) error {
	if _, err := l.RunOnce(ctx); err != nil {
		l.logger.Error("detection pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("arbitrage loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := l.RunOnce(ctx); err != nil {
				l.logger.Error("detection pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
