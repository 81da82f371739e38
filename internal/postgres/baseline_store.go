package postgres

import (
	"context"
	"errors"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const baselineColumns = `id, pipeline_id, key, baseline_value, tolerance_pct, updated_at`

// BaselineStore implements core.BaselineStore backed by Postgres.
type BaselineStore struct {
	pool *pgxpool.Pool
}

// NewBaselineStore creates a BaselineStore backed by the given pool.
func NewBaselineStore(pool *pgxpool.Pool) *BaselineStore {
	return &BaselineStore{pool: pool}
}

func scanBaseline(row pgx.Row) (*core.Baseline, error) {
	var b core.Baseline
	if err := row.Scan(&b.ID, &b.PipelineID, &b.Key, &b.BaselineValue, &b.TolerancePct, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BaselineStore) UpsertBaseline(ctx context.Context, b *core.Baseline) error {
	if b.TolerancePct == 0 {
		b.TolerancePct = core.DefaultTolerancePct
	}
	query := `INSERT INTO baselines (pipeline_id, key, baseline_value, tolerance_pct)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pipeline_id, key) DO UPDATE SET baseline_value = EXCLUDED.baseline_value,
			tolerance_pct = EXCLUDED.tolerance_pct, updated_at = now()
		RETURNING ` + baselineColumns
	created, err := scanBaseline(s.pool.QueryRow(ctx, query, b.PipelineID, b.Key, b.BaselineValue, b.TolerancePct))
	if err != nil {
		return &core.StoreError{Op: "upsert baseline", Err: err}
	}
	*b = *created
	return nil
}

func (s *BaselineStore) GetBaseline(ctx context.Context, pipelineID uuid.UUID, key string) (*core.Baseline, error) {
	query := `SELECT ` + baselineColumns + ` FROM baselines WHERE pipeline_id = $1 AND key = $2`
	b, err := scanBaseline(s.pool.QueryRow(ctx, query, pipelineID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "baseline", ID: key}
		}
		return nil, &core.StoreError{Op: "get baseline", Err: err}
	}
	return b, nil
}

func (s *BaselineStore) ListBaselinesByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]core.Baseline, error) {
	query := `SELECT ` + baselineColumns + ` FROM baselines WHERE pipeline_id = $1 ORDER BY key ASC`
	rows, err := s.pool.Query(ctx, query, pipelineID)
	if err != nil {
		return nil, &core.StoreError{Op: "list baselines", Err: err}
	}
	defer rows.Close()

	var result []core.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan baseline", Err: err}
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}
