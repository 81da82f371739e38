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

const pipelineColumns = `id, repo_id, name, config, next_run_at, created_at`

// PipelineStore implements core.PipelineStore backed by Postgres.
type PipelineStore struct {
	pool *pgxpool.Pool
}

// NewPipelineStore creates a PipelineStore backed by the given pool.
func NewPipelineStore(pool *pgxpool.Pool) *PipelineStore {
	return &PipelineStore{pool: pool}
}

func scanPipeline(row pgx.Row) (*core.Pipeline, error) {
	var p core.Pipeline
	if err := row.Scan(&p.ID, &p.RepoID, &p.Name, &p.Config, &p.NextRunAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PipelineStore) CreatePipeline(ctx context.Context, p *core.Pipeline) error {
	query := `INSERT INTO pipelines (repo_id, name, config, next_run_at)
		VALUES ($1, $2, $3, $4) RETURNING ` + pipelineColumns
	created, err := scanPipeline(s.pool.QueryRow(ctx, query, p.RepoID, p.Name, p.Config, p.NextRunAt))
	if err != nil {
		if uniqueViolation(err) {
			return &core.ConflictError{Resource: "pipeline", Msg: fmt.Sprintf("pipeline %q already exists", p.Name)}
		}
		return &core.StoreError{Op: "create pipeline", Err: err}
	}
	*p = *created
	return nil
}

// UpsertPipelineByName creates the pipeline if (repo_id, name) is new,
// otherwise updates its config. Used by the push trigger (§4.F) which must
// not fail on a manifest it has already seen.
func (s *PipelineStore) UpsertPipelineByName(ctx context.Context, p *core.Pipeline) error {
	query := `INSERT INTO pipelines (repo_id, name, config, next_run_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, name) DO UPDATE SET config = EXCLUDED.config
		RETURNING ` + pipelineColumns
	created, err := scanPipeline(s.pool.QueryRow(ctx, query, p.RepoID, p.Name, p.Config, p.NextRunAt))
	if err != nil {
		return &core.StoreError{Op: "upsert pipeline", Err: err}
	}
	*p = *created
	return nil
}

func (s *PipelineStore) GetPipeline(ctx context.Context, id uuid.UUID) (*core.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE id = $1`
	p, err := scanPipeline(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "pipeline", ID: id.String()}
		}
		return nil, &core.StoreError{Op: "get pipeline", Err: err}
	}
	return p, nil
}

func (s *PipelineStore) ListPipelines(ctx context.Context, repoID uuid.UUID) ([]core.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE repo_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, repoID)
	if err != nil {
		return nil, &core.StoreError{Op: "list pipelines", Err: err}
	}
	defer rows.Close()

	var result []core.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan pipeline", Err: err}
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// SetNextRunAt advances next_run_at. The scheduler calls this before
// creating the child run — see internal/scheduler, which fixes the
// teacher's original after-creation ordering per spec §4.E step 3.
func (s *PipelineStore) SetNextRunAt(ctx context.Context, id uuid.UUID, next *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE pipelines SET next_run_at = $2 WHERE id = $1`, id, next)
	if err != nil {
		return &core.StoreError{Op: "set next_run_at", Err: err}
	}
	return nil
}

func (s *PipelineStore) GetPipelinesDue(ctx context.Context, now time.Time) ([]core.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE next_run_at IS NOT NULL AND next_run_at <= $1 ORDER BY next_run_at ASC`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, &core.StoreError{Op: "get pipelines due", Err: err}
	}
	defer rows.Close()

	var result []core.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan pipeline", Err: err}
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}
