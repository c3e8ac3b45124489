// Package app wires the configured components together and runs them
// according to the selected mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oddsmesh/oddsmesh/internal/arbitrage"
	s3 "github.com/oddsmesh/oddsmesh/internal/blob/s3"
	"github.com/oddsmesh/oddsmesh/internal/cache/redis"
	"github.com/oddsmesh/oddsmesh/internal/config"
	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/feed"
	"github.com/oddsmesh/oddsmesh/internal/notify"
	"github.com/oddsmesh/oddsmesh/internal/provider"
	"github.com/oddsmesh/oddsmesh/internal/provider/kalshi"
	"github.com/oddsmesh/oddsmesh/internal/provider/manifold"
	"github.com/oddsmesh/oddsmesh/internal/provider/polymarket"
	"github.com/oddsmesh/oddsmesh/internal/reconcile"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
	"github.com/oddsmesh/oddsmesh/internal/resolution"
	"github.com/oddsmesh/oddsmesh/internal/store/postgres"
	"github.com/oddsmesh/oddsmesh/internal/whale"
)

// App holds every long-lived component of the pipeline. Which ones actually
// run depends on cfg.Mode.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	pg    *postgres.Client
	redis *redis.Client

	adapters  provider.Set
	providers []domain.Provider
	caller    *resilience.Caller
	notifier  *notify.Notifier

	scheduler *reconcile.Scheduler
	arbLoop   *arbitrage.Loop
	scanner   *whale.Scanner
	wsFeed    *feed.PolymarketWSFeed
	monitor   *resolution.Monitor
	archiver  *s3.Archiver
}

// New builds an App from the configuration, connecting to every backing
// service the selected mode needs.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	a.pg = pg

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("app: run migrations: %w", err)
		}
	}

	markets := postgres.NewMarketStore(pg.Pool())
	syncLog := postgres.NewSyncLogStore(pg.Pool())
	whales := postgres.NewWhaleTradeStore(pg.Pool())
	mirrors := postgres.NewMirrorStore(pg.Pool())
	actions := postgres.NewActionStore(pg.Pool())

	var (
		marketCache domain.MarketCache
		locks       domain.LockManager
	)
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		a.redis = rc
		marketCache = redis.NewMarketCache(rc)
		if cfg.Sync.UseLock {
			locks = redis.NewLockManager(rc)
		}
	}

	governor, breakers := a.buildResilience()
	a.caller = resilience.NewCaller(governor, breakers, resilience.RetryConfig{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   cfg.Resilience.RetryBaseDelay.Duration,
		MaxDelay:    cfg.Resilience.RetryMaxDelay.Duration,
	}, cfg.Resilience.CallTimeout.Duration, logger)

	if err := a.buildAdapters(governor); err != nil {
		a.Close()
		return nil, err
	}

	a.notifier = buildNotifier(cfg.Notify, logger)

	engine := reconcile.NewEngine(a.adapters, markets, syncLog, marketCache, a.caller, logger)
	a.scheduler = reconcile.NewScheduler(engine, a.providers, cfg.Sync.Interval.Duration, locks, logger)

	if cfg.Arbitrage.Enabled {
		detector := arbitrage.NewDetector(arbitrage.NewTokenSetMatcher(), arbitrage.Config{
			MinSimilarity: cfg.Arbitrage.MinSimilarity,
			MinSpreadBps:  cfg.Arbitrage.MinSpreadBps,
			TTL:           cfg.Arbitrage.TTL.Duration,
		}, logger)
		a.arbLoop = arbitrage.NewLoop(detector, markets, marketCache, a.notifier, cfg.Arbitrage.Interval.Duration, logger)
	}

	if cfg.Whale.Enabled {
		detector := whale.NewDetector(whales, decimal.NewFromFloat(cfg.Whale.ThresholdUSD), a.notifier, logger)
		a.scanner = whale.NewScanner(detector, a.adapters, markets, a.caller, cfg.Whale.Interval.Duration, logger)

		if cfg.Whale.StreamEnabled && cfg.Polymarket.Enabled {
			onTrade := func(ctx context.Context, t domain.Trade) {
				if _, err := detector.Observe(ctx, t); err != nil {
					logger.ErrorContext(ctx, "stream trade observe failed",
						slog.String("trade_id", t.TradeID),
						slog.String("error", err.Error()),
					)
				}
			}
			// Asset subscriptions are not known until markets are synced, so
			// the feed subscribes to everything and filters server side.
			a.wsFeed = feed.NewPolymarketWSFeed(cfg.Polymarket.WsHost, []string{"*"}, onTrade, logger)
		}
	}

	if cfg.Resolution.Enabled {
		executor := resolution.NewHTTPExecutor(cfg.Resolution.ExecutorURL, cfg.Resolution.ExecutorToken, nil)
		a.monitor = resolution.NewMonitor(a.adapters, markets, mirrors, actions, executor, a.caller, a.notifier, resolution.Config{
			Delay:           cfg.Resolution.Delay.Duration,
			DetectInterval:  cfg.Resolution.DetectInterval.Duration,
			ExecuteInterval: cfg.Resolution.ExecuteInterval.Duration,
		}, logger)
	}

	if cfg.S3.Enabled {
		s3c, err := s3.New(ctx, s3.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: connect s3: %w", err)
		}
		retention := time.Duration(cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
		a.archiver = s3.NewArchiver(s3.NewWriter(s3c), syncLog, whales, retention, cfg.S3.ArchiveInterval.Duration, logger)
	}

	return a, nil
}

// buildResilience creates the per-provider governor and breaker set from
// configuration.
func (a *App) buildResilience() (*resilience.Governor, *resilience.BreakerSet) {
	rates := map[domain.Provider]resilience.GovernorConfig{
		domain.ProviderPolymarket: {RatePerSec: a.cfg.Polymarket.RatePerSec, Burst: a.cfg.Polymarket.Burst},
		domain.ProviderKalshi:     {RatePerSec: a.cfg.Kalshi.RatePerSec, Burst: a.cfg.Kalshi.Burst},
		domain.ProviderManifold:   {RatePerSec: a.cfg.Manifold.RatePerSec, Burst: a.cfg.Manifold.Burst},
	}
	governor := resilience.NewGovernor(rates, resilience.GovernorConfig{RatePerSec: 5, Burst: 2})

	breakerCfg := resilience.BreakerConfig{
		Threshold: a.cfg.Resilience.BreakerThreshold,
		Cooldown:  a.cfg.Resilience.BreakerCooldown.Duration,
	}
	breakers := resilience.NewBreakerSet(nil, breakerCfg, time.Now)

	return governor, breakers
}

// buildAdapters constructs one API adapter per enabled provider and wires
// its response headers back into the governor for rate adaptation.
func (a *App) buildAdapters(governor *resilience.Governor) error {
	observer := func(p domain.Provider) provider.HeaderObserver {
		return func(h http.Header) { governor.UpdateFromHeaders(p, h) }
	}

	var adapters []provider.Adapter

	if a.cfg.Polymarket.Enabled {
		adapters = append(adapters, polymarket.NewClient(
			a.cfg.Polymarket.GammaHost,
			a.cfg.Polymarket.DataHost,
			nil,
			observer(domain.ProviderPolymarket),
			a.logger,
		))
	}

	if a.cfg.Kalshi.Enabled {
		kc := kalshi.NewClient(
			a.cfg.Kalshi.BaseURL,
			a.cfg.Kalshi.ApiKey,
			nil,
			observer(domain.ProviderKalshi),
			a.logger,
		)
		pemBytes, err := os.ReadFile(a.cfg.Kalshi.RsaPrivateKeyPath)
		if err != nil {
			return fmt.Errorf("app: read kalshi key: %w", err)
		}
		if err := kc.SetRSAPrivateKey(pemBytes); err != nil {
			return fmt.Errorf("app: load kalshi key: %w", err)
		}
		adapters = append(adapters, kc)
	}

	if a.cfg.Manifold.Enabled {
		adapters = append(adapters, manifold.NewClient(
			a.cfg.Manifold.BaseURL,
			a.cfg.Manifold.ApiKey,
			nil,
			observer(domain.ProviderManifold),
			a.logger,
		))
	}

	a.adapters = provider.NewSet(adapters...)
	a.providers = make([]domain.Provider, 0, len(adapters))
	for _, ad := range adapters {
		a.providers = append(a.providers, ad.Name())
	}
	return nil
}

// buildNotifier assembles the notification senders that have credentials
// configured.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}

// Run starts every component the configured mode calls for and blocks until
// ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	mode := a.cfg.Mode
	a.logger.Info("starting",
		slog.String("mode", mode),
		slog.Int("providers", len(a.providers)),
	)

	g, ctx := errgroup.WithContext(ctx)

	runSync := mode == "sync" || mode == "full"
	runDetect := mode == "detect" || mode == "full"
	runMonitor := mode == "monitor" || mode == "full"

	if runSync {
		g.Go(func() error { return a.scheduler.Run(ctx) })
		if a.archiver != nil {
			g.Go(func() error { return a.archiver.Run(ctx) })
		}
	}

	if runDetect {
		if a.arbLoop != nil {
			g.Go(func() error { return a.arbLoop.Run(ctx) })
		}
		if a.scanner != nil {
			g.Go(func() error { return a.scanner.Run(ctx) })
		}
		if a.wsFeed != nil {
			g.Go(func() error {
				err := a.wsFeed.Run(ctx)
				if ctx.Err() != nil {
					return nil // clean shutdown
				}
				return err
			})
		}
	}

	if runMonitor && a.monitor != nil {
		g.Go(func() error { return a.monitor.Run(ctx) })
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("app: component failed: %w", err)
	}
	return nil
}

// Close releases every backing connection. Safe to call after a partial
// New failure.
func (a *App) Close() {
	if a.wsFeed != nil {
		a.wsFeed.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
