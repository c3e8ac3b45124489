package domain

import (
	"context"
	"time"
)

// MarketStore persists canonical markets. Writes are upserts keyed by
// (provider, id) so concurrent or repeated polls converge instead of
// duplicating.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	Get(ctx context.Context, key MarketKey) (Market, error)
	// ListActive returns active markets, optionally filtered to one provider
	// (empty Provider means all).
	ListActive(ctx context.Context, p Provider) ([]Market, error)
	// ListResolvedPendingOutcome returns markets whose provider reported
	// status resolved but whose outcome has not yet been fetched.
	ListResolvedPendingOutcome(ctx context.Context) ([]Market, error)
	SetOutcome(ctx context.Context, key MarketKey, outcome Outcome) error
	Count(ctx context.Context) (int64, error)
}

// SyncLogStore persists the append-only sync audit log. ListBefore feeds
// the archiver, which drains aged entries to cold storage.
type SyncLogStore interface {
	Append(ctx context.Context, e SyncLogEntry) error
	ListBefore(ctx context.Context, before time.Time) ([]SyncLogEntry, error)
}

// WhaleTradeStore persists detected whale trades. Upsert returns whether the
// trade was newly inserted; re-detecting an already stored trade is a no-op.
type WhaleTradeStore interface {
	Upsert(ctx context.Context, w WhaleTrade) (inserted bool, err error)
	ListBefore(ctx context.Context, before time.Time) ([]WhaleTrade, error)
}

// MirrorStore persists the mapping from external markets to their on-chain
// mirror instances.
type MirrorStore interface {
	Upsert(ctx context.Context, m MirrorMarket) error
	// GetAwaiting returns the unresolved mirror for the given external
	// market, or ErrNotFound when no mirror is awaiting resolution.
	GetAwaiting(ctx context.Context, p Provider, externalMarketID string) (MirrorMarket, error)
	MarkResolved(ctx context.Context, mirrorKey string) error
}

// ActionStore persists scheduled resolution actions and enforces the
// at-most-one-non-terminal-action-per-market invariant atomically with the
// create, not as a separate check.
type ActionStore interface {
	// CreateIfAbsent inserts the action unless a non-terminal action already
	// exists for the same (provider, external market). It returns false,
	// without error, when the insert was suppressed.
	CreateIfAbsent(ctx context.Context, a ResolutionAction) (created bool, err error)
	SetExecutorActionID(ctx context.Context, id, executorActionID string) error
	UpdateStatus(ctx context.Context, id string, status ActionStatus, errMsg string) error
	// ListDue returns pending actions whose scheduled time has passed.
	ListDue(ctx context.Context, now time.Time) ([]ResolutionAction, error)
}

// MarketCache holds a short-lived snapshot of each provider's active
// markets so detection passes between syncs read from memory instead of
// hitting the store.
type MarketCache interface {
	// SetActive stores the provider's active-market snapshot.
	SetActive(ctx context.Context, p Provider, markets []Market) error
	// GetActive returns the cached snapshot, or ErrNotFound on a miss.
	GetActive(ctx context.Context, p Provider) ([]Market, error)
	// Invalidate drops the provider's snapshot after a sync changed rows.
	Invalidate(ctx context.Context, p Provider) error
}

// LockManager provides distributed locking so overlapping sync runs for the
// same provider are never started, even across restarts.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
