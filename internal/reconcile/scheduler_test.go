package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/provider"
)

// fakeLocks grants or denies every acquire and records unlock calls.
type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired []string
	unlocked int
}

func (l *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocked++
	}, nil
}

func TestSyncOnceAcquiresAndReleasesLock(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderKalshi, pages: [][]domain.Market{
		{mk(domain.ProviderKalshi, "T1", 4000, domain.MarketStatusActive)},
	}}
	e := NewEngine(provider.NewSet(adapter), newMemMarketStore(), &memSyncLog{}, nil, testCaller(), slog.New(slog.DiscardHandler))
	locks := &fakeLocks{}
	s := NewScheduler(e, []domain.Provider{domain.ProviderKalshi}, time.Minute, locks, slog.New(slog.DiscardHandler))

	s.syncOnce(context.Background(), domain.ProviderKalshi)

	assert.Equal(t, []string{"sync:kalshi"}, locks.acquired)
	assert.Equal(t, 1, locks.unlocked)
	assert.Equal(t, 1, adapter.calls)
}

func TestSyncOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderKalshi}
	e := NewEngine(provider.NewSet(adapter), newMemMarketStore(), &memSyncLog{}, nil, testCaller(), slog.New(slog.DiscardHandler))
	locks := &fakeLocks{held: true}
	s := NewScheduler(e, []domain.Provider{domain.ProviderKalshi}, time.Minute, locks, slog.New(slog.DiscardHandler))

	s.syncOnce(context.Background(), domain.ProviderKalshi)

	assert.Equal(t, 0, adapter.calls, "a held lock means another instance is syncing")
}
