package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// SyncLogStore implements domain.SyncLogStore using PostgreSQL.
type SyncLogStore struct {
	pool *pgxpool.Pool
}

var _ domain.SyncLogStore = (*SyncLogStore)(nil)

// NewSyncLogStore creates a SyncLogStore backed by the given connection pool.
func NewSyncLogStore(pool *pgxpool.Pool) *SyncLogStore {
	return &SyncLogStore{pool: pool}
}

// Append writes one sync log entry. The log is append-only; entries are
// never updated.
func (s *SyncLogStore) Append(ctx context.Context, e domain.SyncLogEntry) error {
	const query = `
		INSERT INTO sync_log (
			id, provider, outcome, added, updated, unchanged,
			duration_ms, error, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, string(e.Provider), string(e.Outcome),
		e.Added, e.Updated, e.Unchanged,
		e.Duration.Milliseconds(), e.Error, e.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append sync log: %w", err)
	}
	return nil
}

const syncLogCols = `id, provider, outcome, added, updated, unchanged, duration_ms, error, started_at`

// ListBefore returns entries started before the cutoff, oldest first. The
// archiver uses this to drain old entries to cold storage.
func (s *SyncLogStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SyncLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+syncLogCols+` FROM sync_log WHERE started_at < $1 ORDER BY started_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sync log before %s: %w", before, err)
	}
	defer rows.Close()

	return collectSyncLog(rows)
}

func collectSyncLog(rows pgx.Rows) ([]domain.SyncLogEntry, error) {
	var entries []domain.SyncLogEntry
	for rows.Next() {
		var (
			e          domain.SyncLogEntry
			provider   string
			outcome    string
			durationMS int64
		)
		if err := rows.Scan(
			&e.ID, &provider, &outcome, &e.Added, &e.Updated, &e.Unchanged,
			&durationMS, &e.Error, &e.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sync log entry: %w", err)
		}
		e.Provider = domain.Provider(provider)
		e.Outcome = domain.SyncOutcome(outcome)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sync log rows: %w", err)
	}
	return entries, nil
}
