// Package reconcile pulls market snapshots from every provider and
// reconciles them into the store: new markets are inserted, changed markets
// updated, unchanged markets left untouched. Every run writes exactly one
// sync log entry, success or failure.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/provider"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
)

// ErrSyncInFlight is returned when a sync run for the provider is already
// running in this process.
var ErrSyncInFlight = errors.New("reconcile: sync already in flight")

// maxPages bounds a single run so a provider with a runaway cursor cannot
// pin the loop forever.
const maxPages = 50

// Engine reconciles one provider's markets per run. Providers are isolated:
// a failure in one run never touches another provider's rows.
type Engine struct {
	adapters provider.Set
	markets  domain.MarketStore
	syncLog  domain.SyncLogStore
	cache    domain.MarketCache
	caller   *resilience.Caller
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[domain.Provider]bool
}

// NewEngine creates an Engine. cache may be nil.
func NewEngine(
	adapters provider.Set,
	markets domain.MarketStore,
	syncLog domain.SyncLogStore,
	cache domain.MarketCache,
	caller *resilience.Caller,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		adapters: adapters,
		markets:  markets,
		syncLog:  syncLog,
		cache:    cache,
		caller:   caller,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reconcile")),
		inFlight: make(map[domain.Provider]bool),
	}
}

// SyncProvider runs one full reconciliation pass for the provider and
// records a sync log entry. Counts reflect work done before any failure, so
// a run that dies on page three still reports the rows it reconciled on
// pages one and two.
func (e *Engine) SyncProvider(ctx context.Context, p domain.Provider) (domain.SyncLogEntry, error) {
	adapter := e.adapters.For(p)
	if adapter == nil {
		return domain.SyncLogEntry{}, fmt.Errorf("reconcile: unknown provider %q", p)
	}
	if !e.begin(p) {
		return domain.SyncLogEntry{}, ErrSyncInFlight
	}
	defer e.end(p)

	started := e.now().UTC()
	entry := domain.SyncLogEntry{
		ID:        uuid.NewString(),
		Provider:  p,
		Outcome:   domain.SyncOutcomeSuccess,
		StartedAt: started,
	}

	runErr := e.syncAll(ctx, adapter, &entry)
	entry.Duration = e.now().UTC().Sub(started)
	if runErr != nil {
		entry.Outcome = domain.SyncOutcomeFailure
		entry.Error = runErr.Error()
	}

	if e.cache != nil && entry.Added+entry.Updated > 0 {
		// The provider's active snapshot is stale; drop it so the next hot
		// read rebuilds from the store.
		if err := e.cache.Invalidate(ctx, p); err != nil {
			e.logger.Warn("cache invalidation failed",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.syncLog.Append(ctx, entry); err != nil {
		// The run itself already happened; losing the log line is worth a
		// loud error but not a failed sync.
		e.logger.Error("appending sync log entry",
			slog.String("provider", string(p)),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("sync run finished",
		slog.String("provider", string(p)),
		slog.String("outcome", string(entry.Outcome)),
		slog.Int("added", entry.Added),
		slog.Int("updated", entry.Updated),
		slog.Int("unchanged", entry.Unchanged),
		slog.Duration("duration", entry.Duration),
	)
	return entry, runErr
}

func (e *Engine) syncAll(ctx context.Context, adapter provider.Adapter, entry *domain.SyncLogEntry) error {
	p := adapter.Name()
	pageToken := ""

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync cancelled: %w", err)
		}

		var (
			markets []domain.Market
			next    string
		)
		err := e.caller.Call(ctx, p, func(ctx context.Context) error {
			var ferr error
			markets, next, ferr = adapter.ListActive(ctx, pageToken)
			return ferr
		})
		if err != nil {
			return fmt.Errorf("fetching page %d: %w", page, err)
		}

		for _, m := range markets {
			if err := e.reconcileOne(ctx, m, entry); err != nil {
				return fmt.Errorf("reconciling market %s: %w", m.ID, err)
			}
		}

		if next == "" {
			return nil
		}
		pageToken = next
	}
	e.logger.Warn("page cap reached, run truncated", slog.String("provider", string(p)))
	return nil
}

// reconcileOne upserts a single market with change detection. Unchanged
// markets produce no write at all, so back-to-back runs against a quiet
// provider are pure reads.
func (e *Engine) reconcileOne(ctx context.Context, incoming domain.Market, entry *domain.SyncLogEntry) error {
	existing, err := e.markets.Get(ctx, incoming.Key())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := e.markets.Upsert(ctx, incoming); err != nil {
			return err
		}
		entry.Added++
		return nil
	case err != nil:
		return err
	}

	if incoming.Status.Before(existing.Status) {
		// Status never moves backwards; a provider glitch reporting a
		// resolved market as active again keeps the stored status.
		incoming.Status = existing.Status
	}
	if incoming.Outcome == domain.OutcomeUnset {
		// List responses carry no settlement result; the outcome is written
		// by the resolution monitor and must survive later syncs.
		incoming.Outcome = existing.Outcome
	}
	if existing.DataEquals(incoming) {
		entry.Unchanged++
		return nil
	}

	if err := e.markets.Upsert(ctx, incoming); err != nil {
		return err
	}
	entry.Updated++
	return nil
}

func (e *Engine) begin(p domain.Provider) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[p] {
		return false
	}
	e.inFlight[p] = true
	return true
}

func (e *Engine) end(p domain.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, p)
}
