package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runColumns = `id, pipeline_id, status, commit_sha, branch, triggered_by, started_at, finished_at, created_at`

// RunStore implements core.RunStore backed by Postgres.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func scanRun(row pgx.Row) (*core.Run, error) {
	var r core.Run
	if err := row.Scan(&r.ID, &r.PipelineID, &r.Status, &r.CommitSHA, &r.Branch, &r.TriggeredBy, &r.StartedAt, &r.FinishedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun inserts a Run and its Steps in one transaction so a partially
// created run is never visible to the scheduler or dispatcher.
func (s *RunStore) CreateRun(ctx context.Context, r *core.Run, steps []core.Step) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &core.StoreError{Op: "begin create run", Err: err}
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO runs (pipeline_id, status, commit_sha, branch, triggered_by)
		VALUES ($1, $2, $3, $4, $5) RETURNING ` + runColumns
	created, err := scanRun(tx.QueryRow(ctx, query, r.PipelineID, r.Status, r.CommitSHA, r.Branch, r.TriggeredBy))
	if err != nil {
		return &core.StoreError{Op: "create run", Err: err}
	}
	*r = *created

	for i := range steps {
		steps[i].RunID = r.ID
		row := tx.QueryRow(ctx, `INSERT INTO steps (run_id, seq, name, command, status)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`, r.ID, i, steps[i].Name, steps[i].Command, steps[i].Status)
		if err := row.Scan(&steps[i].ID); err != nil {
			return &core.StoreError{Op: "create step", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &core.StoreError{Op: "commit create run", Err: err}
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*core.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	r, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "run", ID: id.String()}
		}
		return nil, &core.StoreError{Op: "get run", Err: err}
	}
	return r, nil
}

func (s *RunStore) ListRunsByPipeline(ctx context.Context, pipelineID uuid.UUID, limit, offset int) ([]core.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE pipeline_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, pipelineID, limit, offset)
	if err != nil {
		return nil, &core.StoreError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var result []core.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan run", Err: err}
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *RunStore) HasPendingOrRunningRun(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM runs WHERE pipeline_id = $1 AND status IN ('pending', 'running'))`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, pipelineID).Scan(&exists); err != nil {
		return false, &core.StoreError{Op: "check pending run", Err: err}
	}
	return exists, nil
}

func (s *RunStore) ListPendingRuns(ctx context.Context, limit int) ([]core.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, &core.StoreError{Op: "list pending runs", Err: err}
	}
	defer rows.Close()

	var result []core.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan run", Err: err}
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// ReserveRunForRunner atomically moves one run from pending to running and
// increments runnerID's active_jobs, in a single transaction. Both
// conditions are enforced by their UPDATE's WHERE clause — the run must
// still be pending, and the runner must still have spare capacity — so two
// concurrent polls can never both succeed for the same runner slot: the
// second transaction's UPDATE affects zero rows and the whole reservation
// is rolled back. The loser returns (nil, 0, nil) rather than an error.
func (s *RunStore) ReserveRunForRunner(ctx context.Context, runID, runnerID uuid.UUID) (*core.Run, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, &core.StoreError{Op: "begin reserve run tx", Err: err}
	}
	defer tx.Rollback(ctx)

	var newActive int32
	err = tx.QueryRow(ctx, `UPDATE runners SET active_jobs = active_jobs + 1
		WHERE id = $1 AND active_jobs < max_concurrency
		RETURNING active_jobs`, runnerID).Scan(&newActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, &core.StoreError{Op: "reserve run: increment active jobs", Err: err}
	}

	query := `UPDATE runs SET status = 'running', started_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + runColumns
	r, err := scanRun(tx.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, &core.StoreError{Op: "reserve run", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, &core.StoreError{Op: "commit reserve run tx", Err: err}
	}
	return r, int(newActive), nil
}

func (s *RunStore) SetRunStatus(ctx context.Context, id uuid.UUID, status core.RunStatus, startedAt, finishedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE runs SET status = $2, started_at = COALESCE($3, started_at), finished_at = COALESCE($4, finished_at) WHERE id = $1`,
		id, status, startedAt, finishedAt)
	if err != nil {
		return &core.StoreError{Op: "set run status", Err: err}
	}
	return nil
}
