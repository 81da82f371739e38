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

const repoColumns = `id, project_id, name, path, remote_url, default_branch, created_at`

// RepoStore implements core.RepoStore backed by Postgres.
type RepoStore struct {
	pool *pgxpool.Pool
}

// NewRepoStore creates a RepoStore backed by the given pool.
func NewRepoStore(pool *pgxpool.Pool) *RepoStore {
	return &RepoStore{pool: pool}
}

func scanRepo(row pgx.Row) (*core.Repo, error) {
	var r core.Repo
	var remoteURL pgtype.Text
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Path, &remoteURL, &r.DefaultBranch, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.RemoteURL = remoteURL.String
	return &r, nil
}

func (s *RepoStore) CreateRepo(ctx context.Context, r *core.Repo) error {
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	query := `INSERT INTO repos (project_id, name, path, remote_url, default_branch)
		VALUES ($1, $2, $3, $4, $5) RETURNING ` + repoColumns
	created, err := scanRepo(s.pool.QueryRow(ctx, query, r.ProjectID, r.Name, r.Path, r.RemoteURL, r.DefaultBranch))
	if err != nil {
		if uniqueViolation(err) {
			return &core.ConflictError{Resource: "repo", Msg: fmt.Sprintf("repo %q already exists", r.Name)}
		}
		return &core.StoreError{Op: "create repo", Err: err}
	}
	*r = *created
	return nil
}

func (s *RepoStore) GetRepo(ctx context.Context, id uuid.UUID) (*core.Repo, error) {
	query := `SELECT ` + repoColumns + ` FROM repos WHERE id = $1`
	r, err := scanRepo(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "repo", ID: id.String()}
		}
		return nil, &core.StoreError{Op: "get repo", Err: err}
	}
	return r, nil
}

func (s *RepoStore) GetRepoByPath(ctx context.Context, path string) (*core.Repo, error) {
	query := `SELECT ` + repoColumns + ` FROM repos WHERE path = $1`
	r, err := scanRepo(s.pool.QueryRow(ctx, query, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "repo", ID: path}
		}
		return nil, &core.StoreError{Op: "get repo by path", Err: err}
	}
	return r, nil
}

func (s *RepoStore) ListRepos(ctx context.Context, projectID uuid.UUID) ([]core.Repo, error) {
	query := `SELECT ` + repoColumns + ` FROM repos WHERE project_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, &core.StoreError{Op: "list repos", Err: err}
	}
	defer rows.Close()

	var result []core.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan repo", Err: err}
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *RepoStore) DeleteRepo(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM repos WHERE id = $1`, id)
	if err != nil {
		return &core.StoreError{Op: "delete repo", Err: err}
	}
	return nil
}
