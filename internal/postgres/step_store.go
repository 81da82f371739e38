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

const stepColumns = `id, run_id, name, command, status, exit_code, output, started_at, finished_at`

// StepStore implements core.StepStore backed by Postgres.
type StepStore struct {
	pool *pgxpool.Pool
}

// NewStepStore creates a StepStore backed by the given pool.
func NewStepStore(pool *pgxpool.Pool) *StepStore {
	return &StepStore{pool: pool}
}

func scanStep(row pgx.Row) (*core.Step, error) {
	var st core.Step
	if err := row.Scan(&st.ID, &st.RunID, &st.Name, &st.Command, &st.Status, &st.ExitCode, &st.Output, &st.StartedAt, &st.FinishedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StepStore) ListSteps(ctx context.Context, runID uuid.UUID) ([]core.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE run_id = $1 ORDER BY seq ASC`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, &core.StoreError{Op: "list steps", Err: err}
	}
	defer rows.Close()

	var result []core.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan step", Err: err}
		}
		result = append(result, *st)
	}
	return result, rows.Err()
}

func (s *StepStore) GetStep(ctx context.Context, id uuid.UUID) (*core.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE id = $1`
	st, err := scanStep(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "step", ID: id.String()}
		}
		return nil, &core.StoreError{Op: "get step", Err: err}
	}
	return st, nil
}

func (s *StepStore) SetStepStatus(ctx context.Context, id uuid.UUID, status core.StepStatus, exitCode *int, startedAt, finishedAt *time.Time) error {
	query := `UPDATE steps SET status = $2, exit_code = COALESCE($3, exit_code),
		started_at = COALESCE($4, started_at), finished_at = COALESCE($5, finished_at) WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, status, exitCode, startedAt, finishedAt)
	if err != nil {
		return &core.StoreError{Op: "set step status", Err: err}
	}
	return nil
}

// AppendStepOutput appends chunk to the step's output without ever reading
// the existing value into process memory, so a long-running step's log
// streams in safely regardless of size.
func (s *StepStore) AppendStepOutput(ctx context.Context, id uuid.UUID, chunk string) error {
	_, err := s.pool.Exec(ctx, `UPDATE steps SET output = output || $2 WHERE id = $1`, id, chunk)
	if err != nil {
		return &core.StoreError{Op: "append step output", Err: err}
	}
	return nil
}
