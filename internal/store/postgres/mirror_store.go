package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// MirrorStore implements domain.MirrorStore using PostgreSQL.
type MirrorStore struct {
	pool *pgxpool.Pool
}

var _ domain.MirrorStore = (*MirrorStore)(nil)

// NewMirrorStore creates a MirrorStore backed by the given connection pool.
func NewMirrorStore(pool *pgxpool.Pool) *MirrorStore {
	return &MirrorStore{pool: pool}
}

// Upsert registers or refreshes a mirror mapping.
func (s *MirrorStore) Upsert(ctx context.Context, m domain.MirrorMarket) error {
	const query = `
		INSERT INTO mirror_markets (
			provider, external_market_id, mirror_key, oracle_source, resolved, created_at
		) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		ON CONFLICT (provider, external_market_id) DO UPDATE SET
			mirror_key    = EXCLUDED.mirror_key,
			oracle_source = EXCLUDED.oracle_source`

	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt
	}
	_, err := s.pool.Exec(ctx, query,
		string(m.Provider), m.ExternalMarketID, m.MirrorKey, m.OracleSource, m.Resolved, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert mirror %s/%s: %w", m.Provider, m.ExternalMarketID, err)
	}
	return nil
}

// GetAwaiting returns the unresolved mirror for the external market.
func (s *MirrorStore) GetAwaiting(ctx context.Context, p domain.Provider, externalMarketID string) (domain.MirrorMarket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT provider, external_market_id, mirror_key, oracle_source, resolved, created_at
		FROM mirror_markets
		WHERE provider = $1 AND external_market_id = $2 AND resolved = FALSE`,
		string(p), externalMarketID)

	var (
		m        domain.MirrorMarket
		provider string
	)
	err := row.Scan(&provider, &m.ExternalMarketID, &m.MirrorKey, &m.OracleSource, &m.Resolved, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MirrorMarket{}, domain.ErrNotFound
		}
		return domain.MirrorMarket{}, fmt.Errorf("postgres: get awaiting mirror %s/%s: %w", p, externalMarketID, err)
	}
	m.Provider = domain.Provider(provider)
	return m, nil
}

// MarkResolved flips the mirror to resolved.
func (s *MirrorStore) MarkResolved(ctx context.Context, mirrorKey string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE mirror_markets SET resolved = TRUE WHERE mirror_key = $1`, mirrorKey)
	if err != nil {
		return fmt.Errorf("postgres: mark mirror resolved %s: %w", mirrorKey, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
