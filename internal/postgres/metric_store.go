package postgres

import (
	"context"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const metricColumns = `id, run_id, key, value, unit, created_at`

// MetricStore implements core.MetricStore backed by Postgres.
type MetricStore struct {
	pool *pgxpool.Pool
}

// NewMetricStore creates a MetricStore backed by the given pool.
func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

func scanMetric(row pgx.Row) (*core.Metric, error) {
	var m core.Metric
	var unit pgtype.Text
	if err := row.Scan(&m.ID, &m.RunID, &m.Key, &m.Value, &unit, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Unit = unit.String
	return &m, nil
}

func (s *MetricStore) CreateMetric(ctx context.Context, m *core.Metric) error {
	query := `INSERT INTO metrics (run_id, key, value, unit) VALUES ($1, $2, $3, $4) RETURNING ` + metricColumns
	created, err := scanMetric(s.pool.QueryRow(ctx, query, m.RunID, m.Key, m.Value, m.Unit))
	if err != nil {
		return &core.StoreError{Op: "create metric", Err: err}
	}
	*m = *created
	return nil
}

func (s *MetricStore) ListMetricsByRun(ctx context.Context, runID uuid.UUID) ([]core.Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE run_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, &core.StoreError{Op: "list metrics", Err: err}
	}
	defer rows.Close()

	var result []core.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan metric", Err: err}
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}
