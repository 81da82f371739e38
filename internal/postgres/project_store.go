package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const projectColumns = `id, name, description, created_at`

// ProjectStore implements core.ProjectStore backed by Postgres.
type ProjectStore struct {
	pool *pgxpool.Pool
}

// NewProjectStore creates a ProjectStore backed by the given pool.
func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{pool: pool}
}

func scanProject(row pgx.Row) (*core.Project, error) {
	var p core.Project
	var description pgtype.Text
	if err := row.Scan(&p.ID, &p.Name, &description, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String
	return &p, nil
}

func (s *ProjectStore) CreateProject(ctx context.Context, p *core.Project) error {
	query := `INSERT INTO projects (name, description) VALUES ($1, $2) RETURNING ` + projectColumns
	created, err := scanProject(s.pool.QueryRow(ctx, query, p.Name, p.Description))
	if err != nil {
		if uniqueViolation(err) {
			return &core.ConflictError{Resource: "project", Msg: fmt.Sprintf("project %q already exists", p.Name)}
		}
		return &core.StoreError{Op: "create project", Err: err}
	}
	*p = *created
	return nil
}

func (s *ProjectStore) GetProject(ctx context.Context, id uuid.UUID) (*core.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "project", ID: id.String()}
		}
		return nil, &core.StoreError{Op: "get project", Err: err}
	}
	return p, nil
}

func (s *ProjectStore) ListProjects(ctx context.Context) ([]core.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &core.StoreError{Op: "list projects", Err: err}
	}
	defer rows.Close()

	var result []core.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan project", Err: err}
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *ProjectStore) DeleteProject(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return &core.StoreError{Op: "delete project", Err: err}
	}
	return nil
}
