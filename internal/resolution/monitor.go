// Package resolution watches externally resolved markets that have a
// mirrored on-chain instance and drives the deferred resolution of each
// mirror through the external executor. Detection decides WHAT must happen;
// execution makes it happen once the scheduled time arrives.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/provider"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
)

// Sink receives terminal failures that need a human.
type Sink interface {
	ResolutionFailed(ctx context.Context, a domain.ResolutionAction, err error)
}

// Config tunes the monitor.
type Config struct {
	// Delay between detecting a resolution and the earliest execution. The
	// grace window lets a provider correct a mis-reported settlement before
	// anything irreversible happens on chain.
	Delay time.Duration
	// DetectInterval is the cadence of detection passes.
	DetectInterval time.Duration
	// ExecuteInterval is the cadence of execution passes.
	ExecuteInterval time.Duration
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		Delay:           10 * time.Minute,
		DetectInterval:  time.Minute,
		ExecuteInterval: 30 * time.Second,
	}
}

// Monitor runs the detection and execution loops.
type Monitor struct {
	adapters provider.Set
	markets  domain.MarketStore
	mirrors  domain.MirrorStore
	actions  domain.ActionStore
	executor Executor
	caller   *resilience.Caller
	sink     Sink
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. sink may be nil.
func NewMonitor(
	adapters provider.Set,
	markets domain.MarketStore,
	mirrors domain.MirrorStore,
	actions domain.ActionStore,
	executor Executor,
	caller *resilience.Caller,
	sink Sink,
	cfg Config,
	logger *slog.Logger,
) *Monitor {
	def := DefaultConfig()
	if cfg.Delay <= 0 {
		cfg.Delay = def.Delay
	}
	if cfg.DetectInterval <= 0 {
		cfg.DetectInterval = def.DetectInterval
	}
	if cfg.ExecuteInterval <= 0 {
		cfg.ExecuteInterval = def.ExecuteInterval
	}
	return &Monitor{
		adapters: adapters,
		markets:  markets,
		mirrors:  mirrors,
		actions:  actions,
		executor: executor,
		caller:   caller,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "resolution")),
	}
}

// RunDetection executes one detection pass: fetch outcomes for markets the
// sync marked resolved, then schedule an action for each mirrored market.
// It returns the number of actions scheduled.
func (m *Monitor) RunDetection(ctx context.Context) (int, error) {
	pending, err := m.markets.ListResolvedPendingOutcome(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolution: listing pending markets: %w", err)
	}

	scheduled := 0
	for _, mk := range pending {
		if err := ctx.Err(); err != nil {
			return scheduled, err
		}
		created, err := m.detectOne(ctx, mk)
		if err != nil {
			// One market failing must not stall the rest of the pass.
			m.logger.Error("detection failed for market",
				slog.String("provider", string(mk.Provider)),
				slog.String("market_id", mk.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			scheduled++
		}
	}
	return scheduled, nil
}

func (m *Monitor) detectOne(ctx context.Context, mk domain.Market) (bool, error) {
	adapter := m.adapters.For(mk.Provider)
	if adapter == nil {
		return false, fmt.Errorf("no adapter for provider %q", mk.Provider)
	}

	var (
		outcome  domain.Outcome
		resolved bool
	)
	err := m.caller.Call(ctx, mk.Provider, func(ctx context.Context) error {
		var ferr error
		outcome, resolved, ferr = adapter.GetOutcome(ctx, mk.ID)
		return ferr
	})
	if err != nil {
		return false, fmt.Errorf("fetching outcome: %w", err)
	}
	if !resolved {
		// The sync saw a resolved status but the provider has not published
		// the result yet. Leave the market pending for the next pass.
		return false, nil
	}

	if err := m.markets.SetOutcome(ctx, mk.Key(), outcome); err != nil {
		return false, fmt.Errorf("storing outcome: %w", err)
	}

	mirror, err := m.mirrors.GetAwaiting(ctx, mk.Provider, mk.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil // nothing mirrored, nothing to execute
	}
	if err != nil {
		return false, fmt.Errorf("looking up mirror: %w", err)
	}

	now := m.now().UTC()
	action := domain.ResolutionAction{
		ID:               uuid.NewString(),
		Provider:         mk.Provider,
		ExternalMarketID: mk.ID,
		MirrorKey:        mirror.MirrorKey,
		OracleSource:     mirror.OracleSource,
		Outcome:          outcome,
		ScheduledFor:     now.Add(m.cfg.Delay),
		Status:           domain.ActionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created, err := m.actions.CreateIfAbsent(ctx, action)
	if err != nil {
		return false, fmt.Errorf("creating action: %w", err)
	}
	if !created {
		// A non-terminal action already covers this market; detection ran
		// twice or an earlier action is still working through its lifecycle.
		return false, nil
	}

	execID, err := m.executor.CreateAction(ctx, action)
	if err != nil {
		// The local row exists but the executor never heard of it. Mark it
		// failed and alert; the outcome is already stored, so recovery is an
		// operator decision, not an automatic retry.
		if uerr := m.actions.UpdateStatus(ctx, action.ID, domain.ActionStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("marking action failed", slog.String("error", uerr.Error()))
		}
		m.notifyFailed(ctx, action, err)
		return false, fmt.Errorf("registering with executor: %w", err)
	}
	if err := m.actions.SetExecutorActionID(ctx, action.ID, execID); err != nil {
		return false, fmt.Errorf("storing executor action id: %w", err)
	}

	m.logger.Info("resolution action scheduled",
		slog.String("provider", string(mk.Provider)),
		slog.String("market_id", mk.ID),
		slog.String("outcome", string(outcome)),
		slog.Time("scheduled_for", action.ScheduledFor),
	)
	return true, nil
}

// RunExecution executes one execution pass over all due actions. Failed
// executions are terminal; they alert instead of retrying, because a
// half-submitted on-chain resolution must be inspected, not hammered.
func (m *Monitor) RunExecution(ctx context.Context) (int, error) {
	due, err := m.actions.ListDue(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("resolution: listing due actions: %w", err)
	}

	executed := 0
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		if err := m.executeOne(ctx, a); err != nil {
			m.logger.Error("action execution failed",
				slog.String("action_id", a.ID),
				slog.String("provider", string(a.Provider)),
				slog.String("market_id", a.ExternalMarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		executed++
	}
	return executed, nil
}

func (m *Monitor) executeOne(ctx context.Context, a domain.ResolutionAction) error {
	if a.ExecutorActionID == "" {
		err := errors.New("action has no executor id")
		if uerr := m.actions.UpdateStatus(ctx, a.ID, domain.ActionStatusFailed, err.Error()); uerr != nil {
			return uerr
		}
		m.notifyFailed(ctx, a, err)
		return err
	}

	if err := m.actions.UpdateStatus(ctx, a.ID, domain.ActionStatusReady, ""); err != nil {
		return fmt.Errorf("marking ready: %w", err)
	}
	if err := m.actions.UpdateStatus(ctx, a.ID, domain.ActionStatusExecuting, ""); err != nil {
		return fmt.Errorf("marking executing: %w", err)
	}

	if err := m.executor.Execute(ctx, a.ExecutorActionID); err != nil {
		if uerr := m.actions.UpdateStatus(ctx, a.ID, domain.ActionStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("marking action failed", slog.String("error", uerr.Error()))
		}
		m.notifyFailed(ctx, a, err)
		return err
	}

	if err := m.actions.UpdateStatus(ctx, a.ID, domain.ActionStatusDone, ""); err != nil {
		return fmt.Errorf("marking done: %w", err)
	}
	if err := m.mirrors.MarkResolved(ctx, a.MirrorKey); err != nil {
		return fmt.Errorf("marking mirror resolved: %w", err)
	}

	m.logger.Info("mirror resolved",
		slog.String("mirror_key", a.MirrorKey),
		slog.String("provider", string(a.Provider)),
		slog.String("market_id", a.ExternalMarketID),
		slog.String("outcome", string(a.Outcome)),
	)
	return nil
}

func (m *Monitor) notifyFailed(ctx context.Context, a domain.ResolutionAction, err error) {
	if m.sink != nil {
		m.sink.ResolutionFailed(ctx, a, err)
	}
}

// Run starts the detection and execution loops and blocks until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := m.loop(ctx, m.cfg.DetectInterval, "detection", func(ctx context.Context) error {
			_, err := m.RunDetection(ctx)
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := m.loop(ctx, m.cfg.ExecuteInterval, "execution", func(ctx context.Context) error {
			_, err := m.RunExecution(ctx)
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, name string, pass func(context.Context) error) error {
	if err := pass(ctx); err != nil {
		m.logger.Error(name+" pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(name + " loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := pass(ctx); err != nil {
				m.logger.Error(name+" pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
