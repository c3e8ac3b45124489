package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// ActionStore implements domain.ActionStore using PostgreSQL. The
// at-most-one-non-terminal-action-per-market invariant lives in the partial
// unique index idx_resolution_actions_active, so concurrent detection
// passes race safely: exactly one insert wins, the rest no-op.
type ActionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ActionStore = (*ActionStore)(nil)

// NewActionStore creates an ActionStore backed by the given connection pool.
func NewActionStore(pool *pgxpool.Pool) *ActionStore {
	return &ActionStore{pool: pool}
}

// CreateIfAbsent inserts the action unless a non-terminal action already
// exists for the same external market.
func (s *ActionStore) CreateIfAbsent(ctx context.Context, a domain.ResolutionAction) (bool, error) {
	const query = `
		INSERT INTO resolution_actions (
			id, provider, external_market_id, mirror_key, oracle_source,
			outcome, executor_action_id, scheduled_for, status, error,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider, external_market_id)
			WHERE status IN ('pending', 'ready', 'executing')
			DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Provider), a.ExternalMarketID, a.MirrorKey, a.OracleSource,
		string(a.Outcome), a.ExecutorActionID, a.ScheduledFor, string(a.Status), a.Error,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: create action %s: %w", a.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetExecutorActionID stores the executor's ID for the action.
func (s *ActionStore) SetExecutorActionID(ctx context.Context, id, executorActionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resolution_actions SET executor_action_id = $1, updated_at = NOW() WHERE id = $2`,
		executorActionID, id)
	if err != nil {
		return fmt.Errorf("postgres: set executor action id %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves the action to a new lifecycle state.
func (s *ActionStore) UpdateStatus(ctx context.Context, id string, status domain.ActionStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resolution_actions SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`,
		string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("postgres: update action %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const actionCols = `id, provider, external_market_id, mirror_key, oracle_source,
	outcome, executor_action_id, scheduled_for, status, error, created_at, updated_at`

// ListDue returns pending actions whose scheduled time has passed, oldest
// first.
func (s *ActionStore) ListDue(ctx context.Context, now time.Time) ([]domain.ResolutionAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+actionCols+` FROM resolution_actions
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.ResolutionAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: action rows: %w", err)
	}
	return actions, nil
}

func scanAction(row pgx.Row) (domain.ResolutionAction, error) {
	var (
		a                         domain.ResolutionAction
		provider, outcome, status string
	)
	err := row.Scan(
		&a.ID, &provider, &a.ExternalMarketID, &a.MirrorKey, &a.OracleSource,
		&outcome, &a.ExecutorActionID, &a.ScheduledFor, &status, &a.Error,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.ResolutionAction{}, err
	}
	a.Provider = domain.Provider(provider)
	a.Outcome = domain.Outcome(outcome)
	a.Status = domain.ActionStatus(status)
	return a, nil
}
