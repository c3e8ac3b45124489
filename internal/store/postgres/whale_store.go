package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// WhaleTradeStore implements domain.WhaleTradeStore using PostgreSQL.
type WhaleTradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.WhaleTradeStore = (*WhaleTradeStore)(nil)

// NewWhaleTradeStore creates a WhaleTradeStore backed by the given pool.
func NewWhaleTradeStore(pool *pgxpool.Pool) *WhaleTradeStore {
	return &WhaleTradeStore{pool: pool}
}

// Upsert records a whale trade keyed by (provider, trade_id). Re-observing
// a stored trade changes nothing and reports inserted=false, which keeps
// detection idempotent across polling and streaming paths.
func (s *WhaleTradeStore) Upsert(ctx context.Context, w domain.WhaleTrade) (bool, error) {
	const query = `
		INSERT INTO whale_trades (
			provider, trade_id, market_id, side, outcome,
			notional_usd, shares, price, trader, executed_at, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, trade_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		string(w.Provider), w.TradeID, w.MarketID, string(w.Side), string(w.Outcome),
		w.NotionalUSD, w.Shares, w.Price, w.Trader, w.ExecutedAt, w.DetectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert whale trade %s/%s: %w", w.Provider, w.TradeID, err)
	}
	return tag.RowsAffected() > 0, nil
}

const whaleCols = `provider, trade_id, market_id, side, outcome,
	notional_usd, shares, price, trader, executed_at, detected_at`

// ListBefore returns whale trades detected before the cutoff, oldest first.
func (s *WhaleTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.WhaleTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+whaleCols+` FROM whale_trades WHERE detected_at < $1 ORDER BY detected_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list whale trades before %s: %w", before, err)
	}
	defer rows.Close()

	return collectWhales(rows)
}

func collectWhales(rows pgx.Rows) ([]domain.WhaleTrade, error) {
	var trades []domain.WhaleTrade
	for rows.Next() {
		var (
			w                       domain.WhaleTrade
			provider, side, outcome string
		)
		if err := rows.Scan(
			&provider, &w.TradeID, &w.MarketID, &side, &outcome,
			&w.NotionalUSD, &w.Shares, &w.Price, &w.Trader, &w.ExecutedAt, &w.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan whale trade: %w", err)
		}
		w.Provider = domain.Provider(provider)
		w.Side = domain.TradeSide(side)
		w.Outcome = domain.Outcome(outcome)
		trades = append(trades, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: whale trade rows: %w", err)
	}
	return trades, nil
}
