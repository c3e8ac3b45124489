package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// Scheduler runs one sync loop per provider. Each loop ticks independently,
// so a slow or broken provider never delays the others.
type Scheduler struct {
	engine    *Engine
	providers []domain.Provider
	interval  time.Duration
	locks     domain.LockManager
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler. locks may be nil when only one instance
// runs; with locks set, concurrent instances coordinate per provider so each
// sync window does the work once.
func NewScheduler(engine *Engine, providers []domain.Provider, interval time.Duration, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		engine:    engine,
		providers: providers,
		interval:  interval,
		locks:     locks,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// Run starts all provider loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("sync scheduler starting",
		slog.Int("providers", len(s.providers)),
		slog.Duration("interval", s.interval),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.providers {
		g.Go(func() error {
			err := s.runLoop(ctx, p)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("sync loop %s: %w", p, err)
		})
	}
	return g.Wait()
}

// runLoop syncs the provider immediately, then on every tick. Failures are
// logged and recorded in the sync log; the loop itself only stops with the
// context.
func (s *Scheduler) runLoop(ctx context.Context, p domain.Provider) error {
	s.syncOnce(ctx, p)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped", slog.String("provider", string(p)))
			return ctx.Err()
		case <-ticker.C:
			s.syncOnce(ctx, p)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context, p domain.Provider) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "sync:"+string(p), s.interval)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.Debug("sync lock held elsewhere, skipping",
				slog.String("provider", string(p)),
			)
			return
		case err != nil:
			s.logger.Error("acquiring sync lock",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	if _, err := s.engine.SyncProvider(ctx, p); err != nil && !errors.Is(err, ErrSyncInFlight) {
		s.logger.Error("sync run failed",
			slog.String("provider", string(p)),
			slog.String("error", err.Error()),
		)
	}
}
