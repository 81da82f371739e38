package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runnerColumns = `id, name, token, status, tags, max_concurrency, active_jobs, last_seen, created_at`

// RunnerStore implements core.RunnerStore backed by Postgres.
type RunnerStore struct {
	pool *pgxpool.Pool
}

// NewRunnerStore creates a RunnerStore backed by the given pool.
func NewRunnerStore(pool *pgxpool.Pool) *RunnerStore {
	return &RunnerStore{pool: pool}
}

func scanRunner(row pgx.Row) (*core.Runner, error) {
	var r core.Runner
	if err := row.Scan(&r.ID, &r.Name, &r.Token, &r.Status, &r.Tags, &r.MaxConcurrency, &r.ActiveJobs, &r.LastSeen, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RunnerStore) CreateRunner(ctx context.Context, r *core.Runner) error {
	if r.MaxConcurrency == 0 {
		r.MaxConcurrency = 1
	}
	if r.Status == "" {
		r.Status = core.RunnerOffline
	}
	query := `INSERT INTO runners (name, token, status, tags, max_concurrency)
		VALUES ($1, $2, $3, $4, $5) RETURNING ` + runnerColumns
	created, err := scanRunner(s.pool.QueryRow(ctx, query, r.Name, r.Token, r.Status, r.Tags, clampInt32(r.MaxConcurrency)))
	if err != nil {
		if uniqueViolation(err) {
			return &core.ConflictError{Resource: "runner", Msg: fmt.Sprintf("runner %q already exists", r.Name)}
		}
		return &core.StoreError{Op: "create runner", Err: err}
	}
	*r = *created
	return nil
}

func (s *RunnerStore) GetRunner(ctx context.Context, id uuid.UUID) (*core.Runner, error) {
	query := `SELECT ` + runnerColumns + ` FROM runners WHERE id = $1`
	r, err := scanRunner(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "runner", ID: id.String()}
		}
		return nil, &core.StoreError{Op: "get runner", Err: err}
	}
	return r, nil
}

func (s *RunnerStore) GetRunnerByToken(ctx context.Context, token string) (*core.Runner, error) {
	query := `SELECT ` + runnerColumns + ` FROM runners WHERE token = $1`
	r, err := scanRunner(s.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "runner", ID: "by-token"}
		}
		return nil, &core.StoreError{Op: "get runner by token", Err: err}
	}
	return r, nil
}

func (s *RunnerStore) ListRunners(ctx context.Context) ([]core.Runner, error) {
	query := `SELECT ` + runnerColumns + ` FROM runners ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &core.StoreError{Op: "list runners", Err: err}
	}
	defer rows.Close()

	var result []core.Runner
	for rows.Next() {
		r, err := scanRunner(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan runner", Err: err}
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *RunnerStore) TouchRunnerLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE runners SET last_seen = $2 WHERE id = $1`, id, at)
	if err != nil {
		return &core.StoreError{Op: "touch runner", Err: err}
	}
	return nil
}

func (s *RunnerStore) SetRunnerStatus(ctx context.Context, id uuid.UUID, status core.RunnerStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE runners SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return &core.StoreError{Op: "set runner status", Err: err}
	}
	return nil
}

// DecrementActiveJobs decrements active_jobs, clamped at zero by GREATEST so
// the UPDATE never violates the column's CHECK constraint, even under a
// duplicate completion callback.
func (s *RunnerStore) DecrementActiveJobs(ctx context.Context, id uuid.UUID) (int, error) {
	var n int32
	err := s.pool.QueryRow(ctx, `UPDATE runners SET active_jobs = GREATEST(active_jobs - 1, 0) WHERE id = $1 RETURNING active_jobs`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &core.NotFoundError{Resource: "runner", ID: id.String()}
		}
		return 0, &core.StoreError{Op: "decrement active jobs", Err: err}
	}
	return int(n), nil
}
