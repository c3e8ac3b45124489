package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

const snapshotTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with one JSON-serialized
// active-market snapshot per provider.
//
// Key schema:
//
//	markets:active:{provider} - JSON array of canonical markets
type MarketCache struct {
	rdb *redis.Client
}

var _ domain.MarketCache = (*MarketCache)(nil)

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func snapshotKey(p domain.Provider) string {
	return fmt.Sprintf("markets:active:%s", p)
}

// SetActive stores the provider's active snapshot with a 5-minute TTL. The
// TTL bounds staleness even if an invalidation is lost.
func (mc *MarketCache) SetActive(ctx context.Context, p domain.Provider, markets []domain.Market) error {
	data, err := json.Marshal(markets)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot for %s: %w", p, err)
	}
	if err := mc.rdb.Set(ctx, snapshotKey(p), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot for %s: %w", p, err)
	}
	return nil
}

// GetActive retrieves the provider's snapshot. It returns domain.ErrNotFound
// when no snapshot is cached.
func (mc *MarketCache) GetActive(ctx context.Context, p domain.Provider) ([]domain.Market, error) {
	data, err := mc.rdb.Get(ctx, snapshotKey(p)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get snapshot for %s: %w", p, err)
	}

	var markets []domain.Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("redis: unmarshal snapshot for %s: %w", p, err)
	}
	return markets, nil
}

// Invalidate removes the provider's snapshot. Removing an absent key is not
// an error.
func (mc *MarketCache) Invalidate(ctx context.Context, p domain.Provider) error {
	if err := mc.rdb.Del(ctx, snapshotKey(p)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot for %s: %w", p, err)
	}
	return nil
}
