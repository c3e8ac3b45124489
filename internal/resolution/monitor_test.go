package resolution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/provider"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
)

// outcomeAdapter answers GetOutcome from a fixed table.
type outcomeAdapter struct {
	name     domain.Provider
	outcomes map[string]domain.Outcome
	err      error
}

func (a *outcomeAdapter) Name() domain.Provider { return a.name }

func (a *outcomeAdapter) ListActive(ctx context.Context, pageToken string) ([]domain.Market, string, error) {
	return nil, "", nil
}

func (a *outcomeAdapter) GetOne(ctx context.Context, nativeID string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (a *outcomeAdapter) GetOutcome(ctx context.Context, nativeID string) (domain.Outcome, bool, error) {
	if a.err != nil {
		return "", false, a.err
	}
	out, ok := a.outcomes[nativeID]
	return out, ok, nil
}

func (a *outcomeAdapter) GetTrades(ctx context.Context, nativeID string) ([]domain.Trade, error) {
	return nil, nil
}

// resolvedMarketStore serves resolved markets awaiting an outcome.
type resolvedMarketStore struct {
	mu       sync.Mutex
	pending  []domain.Market
	outcomes map[domain.MarketKey]domain.Outcome
}

func newResolvedMarketStore(pending ...domain.Market) *resolvedMarketStore {
	return &resolvedMarketStore{pending: pending, outcomes: make(map[domain.MarketKey]domain.Outcome)}
}

func (s *resolvedMarketStore) Upsert(ctx context.Context, m domain.Market) error { return nil }

func (s *resolvedMarketStore) Get(ctx context.Context, key domain.MarketKey) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (s *resolvedMarketStore) ListActive(ctx context.Context, p domain.Provider) ([]domain.Market, error) {
	return nil, nil
}

func (s *resolvedMarketStore) ListResolvedPendingOutcome(ctx context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Market(nil), s.pending...), nil
}

func (s *resolvedMarketStore) SetOutcome(ctx context.Context, key domain.MarketKey, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[key] = outcome
	return nil
}

func (s *resolvedMarketStore) Count(ctx context.Context) (int64, error) { return 0, nil }

// memMirrorStore holds mirrors keyed by (provider, external market).
type memMirrorStore struct {
	mu      sync.Mutex
	mirrors map[domain.MarketKey]domain.MirrorMarket
}

func newMemMirrorStore(mirrors ...domain.MirrorMarket) *memMirrorStore {
	s := &memMirrorStore{mirrors: make(map[domain.MarketKey]domain.MirrorMarket)}
	for _, m := range mirrors {
		s.mirrors[domain.MarketKey{Provider: m.Provider, ID: m.ExternalMarketID}] = m
	}
	return s
}

func (s *memMirrorStore) Upsert(ctx context.Context, m domain.MirrorMarket) error { return nil }

func (s *memMirrorStore) GetAwaiting(ctx context.Context, p domain.Provider, externalMarketID string) (domain.MirrorMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[domain.MarketKey{Provider: p, ID: externalMarketID}]
	if !ok || m.Resolved {
		return domain.MirrorMarket{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMirrorStore) MarkResolved(ctx context.Context, mirrorKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, m := range s.mirrors {
		if m.MirrorKey == mirrorKey {
			m.Resolved = true
			s.mirrors[k] = m
		}
	}
	return nil
}

// memActionStore enforces the one-non-terminal-action-per-market invariant.
type memActionStore struct {
	mu      sync.Mutex
	actions map[string]domain.ResolutionAction
}

func newMemActionStore() *memActionStore {
	return &memActionStore{actions: make(map[string]domain.ResolutionAction)}
}

func (s *memActionStore) CreateIfAbsent(ctx context.Context, a domain.ResolutionAction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.actions {
		if existing.Provider == a.Provider && existing.ExternalMarketID == a.ExternalMarketID &&
			!existing.Status.Terminal() {
			return false, nil
		}
	}
	s.actions[a.ID] = a
	return true, nil
}

func (s *memActionStore) SetExecutorActionID(ctx context.Context, id, executorActionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.ExecutorActionID = executorActionID
	s.actions[id] = a
	return nil
}

func (s *memActionStore) UpdateStatus(ctx context.Context, id string, status domain.ActionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	a.Error = errMsg
	s.actions[id] = a
	return nil
}

func (s *memActionStore) ListDue(ctx context.Context, now time.Time) ([]domain.ResolutionAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResolutionAction
	for _, a := range s.actions {
		if a.Status == domain.ActionStatusPending && !a.ScheduledFor.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memActionStore) byID(id string) (domain.ResolutionAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	return a, ok
}

func (s *memActionStore) all() []domain.ResolutionAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ResolutionAction, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	return out
}

// fakeExecutor records created and executed actions.
type fakeExecutor struct {
	mu        sync.Mutex
	createErr error
	execErr   error
	created   []domain.ResolutionAction
	executed  []string
	nextID    int
}

func (e *fakeExecutor) CreateAction(ctx context.Context, a domain.ResolutionAction) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return "", e.createErr
	}
	e.nextID++
	e.created = append(e.created, a)
	return "exec-" + a.ID, nil
}

func (e *fakeExecutor) Execute(ctx context.Context, executorActionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execErr != nil {
		return e.execErr
	}
	e.executed = append(e.executed, executorActionID)
	return nil
}

// failSink records terminal failure notifications.
type failSink struct {
	mu     sync.Mutex
	failed []domain.ResolutionAction
}

func (f *failSink) ResolutionFailed(ctx context.Context, a domain.ResolutionAction, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, a)
}

func resolutionCaller() *resilience.Caller {
	g := resilience.NewGovernor(nil, resilience.GovernorConfig{RatePerSec: 10_000, Burst: 100})
	b := resilience.NewBreakerSet(nil, resilience.BreakerConfig{Threshold: 100, Cooldown: time.Minute}, time.Now)
	return resilience.NewCaller(g, b, resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, time.Minute, slog.New(slog.DiscardHandler))
}

func resolvedMarket(id string) domain.Market {
	return domain.Market{
		Provider: domain.ProviderPolymarket,
		ID:       id,
		Status:   domain.MarketStatusResolved,
	}
}

func mirrorFor(id, key string) domain.MirrorMarket {
	return domain.MirrorMarket{
		Provider:         domain.ProviderPolymarket,
		ExternalMarketID: id,
		MirrorKey:        key,
		OracleSource:     "uma",
	}
}

func newTestMonitor(
	markets *resolvedMarketStore,
	mirrors *memMirrorStore,
	actions *memActionStore,
	exec *fakeExecutor,
	sink Sink,
	adapter provider.Adapter,
) *Monitor {
	m := NewMonitor(provider.NewSet(adapter), markets, mirrors, actions, exec, resolutionCaller(), sink,
		Config{Delay: 10 * time.Minute}, slog.New(slog.DiscardHandler))
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestDetectionSchedulesDelayedAction(t *testing.T) {
	adapter := &outcomeAdapter{name: domain.ProviderPolymarket, outcomes: map[string]domain.Outcome{"m1": domain.OutcomeYes}}
	markets := newResolvedMarketStore(resolvedMarket("m1"))
	mirrors := newMemMirrorStore(mirrorFor("m1", "mirror-1"))
	actions := newMemActionStore()
	exec := &fakeExecutor{}
	m := newTestMonitor(markets, mirrors, actions, exec, nil, adapter)

	n, err := m.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all := actions.all()
	require.Len(t, all, 1)
	a := all[0]
	assert.Equal(t, domain.ActionStatusPending, a.Status)
	assert.Equal(t, domain.OutcomeYes, a.Outcome)
	assert.Equal(t, "mirror-1", a.MirrorKey)
	assert.Equal(t, m.now().UTC().Add(10*time.Minute), a.ScheduledFor, "grace delay applied")
	assert.Equal(t, "exec-"+a.ID, a.ExecutorActionID)

	// The fetched outcome was stored on the market.
	assert.Equal(t, domain.OutcomeYes, markets.outcomes[domain.MarketKey{Provider: domain.ProviderPolymarket, ID: "m1"}])
}

func TestDetectionRunsTwiceCreatesOneAction(t *testing.T) {
	adapter := &outcomeAdapter{name: domain.ProviderPolymarket, outcomes: map[string]domain.Outcome{"m1": domain.OutcomeNo}}
	markets := newResolvedMarketStore(resolvedMarket("m1"))
	mirrors := newMemMirrorStore(mirrorFor("m1", "mirror-1"))
	actions := newMemActionStore()
	m := newTestMonitor(markets, mirrors, actions, &fakeExecutor{}, nil, adapter)

	_, err := m.RunDetection(context.Background())
	require.NoError(t, err)
	n, err := m.RunDetection(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, n, "second pass is suppressed by the existing pending action")
	assert.Len(t, actions.all(), 1)
}

func TestDetectionSkipsUnresolvedAndUnmirrored(t *testing.T) {
	adapter := &outcomeAdapter{name: domain.ProviderPolymarket, outcomes: map[string]domain.Outcome{"mirrored": domain.OutcomeYes, "bare": domain.OutcomeYes}}
	markets := newResolvedMarketStore(resolvedMarket("mirrored"), resolvedMarket("bare"), resolvedMarket("not-yet"))
	mirrors := newMemMirrorStore(mirrorFor("mirrored", "mirror-1"))
	actions := newMemActionStore()
	m := newTestMonitor(markets, mirrors, actions, &fakeExecutor{}, nil, adapter)

	n, err := m.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the mirrored, resolved market gets an action")
}

func TestDetectionExecutorCreateFailureFailsAction(t *testing.T) {
	adapter := &outcomeAdapter{name: domain.ProviderPolymarket, outcomes: map[string]domain.Outcome{"m1": domain.OutcomeYes}}
	markets := newResolvedMarketStore(resolvedMarket("m1"))
	mirrors := newMemMirrorStore(mirrorFor("m1", "mirror-1"))
	actions := newMemActionStore()
	exec := &fakeExecutor{createErr: errors.New("executor unreachable")}
	sink := &failSink{}
	m := newTestMonitor(markets, mirrors, actions, exec, sink, adapter)

	n, err := m.RunDetection(context.Background())
	require.NoError(t, err, "per-market failures do not fail the pass")
	assert.Equal(t, 0, n)

	all := actions.all()
	require.Len(t, all, 1)
	assert.Equal(t, domain.ActionStatusFailed, all[0].Status)
	assert.Len(t, sink.failed, 1)

	// The failed action is terminal, so the next pass starts over.
	exec.createErr = nil
	n, err = m.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, actions.all(), 2)
}

func TestExecutionRunsDueActions(t *testing.T) {
	adapter := &outcomeAdapter{name: domain.ProviderPolymarket, outcomes: map[string]domain.Outcome{"m1": domain.OutcomeYes}}
	markets := newResolvedMarketStore(resolvedMarket("m1"))
	mirrors := newMemMirrorStore(mirrorFor("m1", "mirror-1"))
	actions := newMemActionStore()
	exec := &fakeExecutor{}
	m := newTestMonitor(markets, mirrors, actions, exec, nil, adapter)

	_, err := m.RunDetection(context.Background())
	require.NoError(t, err)

	// Before the delay elapses nothing is due.
	n, err := m.RunExecution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Past the scheduled time the action executes and the mirror resolves.
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 11, 0, 0, time.UTC) }
	n, err = m.RunExecution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all := actions.all()
	require.Len(t, all, 1)
	assert.Equal(t, domain.ActionStatusDone, all[0].Status)
	assert.Len(t, exec.executed, 1)

	_, err = mirrors.GetAwaiting(context.Background(), domain.ProviderPolymarket, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "resolved mirror no longer awaits")
}

func TestExecutionFailureIsTerminalAndNotifies(t *testing.T) {
	adapter := &outcomeAdapter{name: domain.ProviderPolymarket, outcomes: map[string]domain.Outcome{"m1": domain.OutcomeYes}}
	markets := newResolvedMarketStore(resolvedMarket("m1"))
	mirrors := newMemMirrorStore(mirrorFor("m1", "mirror-1"))
	actions := newMemActionStore()
	exec := &fakeExecutor{}
	sink := &failSink{}
	m := newTestMonitor(markets, mirrors, actions, exec, sink, adapter)

	_, err := m.RunDetection(context.Background())
	require.NoError(t, err)

	exec.execErr = errors.New("chain reverted")
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 11, 0, 0, time.UTC) }

	n, err := m.RunExecution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all := actions.all()
	require.Len(t, all, 1)
	assert.Equal(t, domain.ActionStatusFailed, all[0].Status)
	assert.Contains(t, all[0].Error, "chain reverted")
	assert.Len(t, sink.failed, 1)

	// Failed actions never come back as due; there is no automatic retry.
	exec.execErr = nil
	n, err = m.RunExecution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, exec.executed)
}
