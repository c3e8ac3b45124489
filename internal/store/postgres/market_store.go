package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `provider, id, question, category, tags,
	yes_price_bps, no_price_bps, volume, liquidity,
	end_time, status, outcome, metadata, last_synced_at`

// Upsert inserts or updates a single market keyed by (provider, id).
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			provider, id, question, category, tags,
			yes_price_bps, no_price_bps, volume, liquidity,
			end_time, status, outcome, metadata, last_synced_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, NOW()
		)
		ON CONFLICT (provider, id) DO UPDATE SET
			question       = EXCLUDED.question,
			category       = EXCLUDED.category,
			tags           = EXCLUDED.tags,
			yes_price_bps  = EXCLUDED.yes_price_bps,
			no_price_bps   = EXCLUDED.no_price_bps,
			volume         = EXCLUDED.volume,
			liquidity      = EXCLUDED.liquidity,
			end_time       = EXCLUDED.end_time,
			status         = EXCLUDED.status,
			outcome        = EXCLUDED.outcome,
			metadata       = EXCLUDED.metadata,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at     = NOW()`

	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := s.pool.Exec(ctx, query,
		string(m.Provider), m.ID, m.Question, m.Category, tags,
		m.YesPriceBps, m.NoPriceBps, m.Volume, m.Liquidity,
		m.EndTime, string(m.Status), string(m.Outcome), metadata, m.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s/%s: %w", m.Provider, m.ID, err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                          domain.Market
		provider, status, outcome string
	)
	err := row.Scan(
		&provider, &m.ID, &m.Question, &m.Category, &m.Tags,
		&m.YesPriceBps, &m.NoPriceBps, &m.Volume, &m.Liquidity,
		&m.EndTime, &status, &outcome, &m.Metadata, &m.LastSyncedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Provider = domain.Provider(provider)
	m.Status = domain.MarketStatus(status)
	m.Outcome = domain.Outcome(outcome)
	return m, nil
}

// Get retrieves a market by its composite key.
func (s *MarketStore) Get(ctx context.Context, key domain.MarketKey) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE provider = $1 AND id = $2`,
		string(key.Provider), key.ID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s/%s: %w", key.Provider, key.ID, err)
	}
	return m, nil
}

// ListActive returns active markets, optionally filtered to one provider.
func (s *MarketStore) ListActive(ctx context.Context, p domain.Provider) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'active'`
	args := []any{}
	if p != "" {
		query += ` AND provider = $1`
		args = append(args, string(p))
	}
	query += ` ORDER BY last_synced_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// ListResolvedPendingOutcome returns markets whose status reached resolved
// but whose outcome column is still empty.
func (s *MarketStore) ListResolvedPendingOutcome(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status = 'resolved' AND outcome = '' ORDER BY last_synced_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved pending outcome: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// SetOutcome records the definitive outcome for a resolved market.
func (s *MarketStore) SetOutcome(ctx context.Context, key domain.MarketKey, outcome domain.Outcome) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET outcome = $1, updated_at = NOW() WHERE provider = $2 AND id = $3`,
		string(outcome), string(key.Provider), key.ID)
	if err != nil {
		return fmt.Errorf("postgres: set outcome %s/%s: %w", key.Provider, key.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}
