package postgres

import (
	"context"
	"errors"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const secretColumns = `id, scope, scope_id, name, encrypted_value, iv, created_at, updated_at`

// SecretStore implements core.SecretStore backed by Postgres. Callers
// encrypt before Upsert and decrypt after Get; this store never touches
// plaintext.
type SecretStore struct {
	pool *pgxpool.Pool
}

// NewSecretStore creates a SecretStore backed by the given pool.
func NewSecretStore(pool *pgxpool.Pool) *SecretStore {
	return &SecretStore{pool: pool}
}

func scanSecret(row pgx.Row) (*core.Secret, error) {
	var sec core.Secret
	if err := row.Scan(&sec.ID, &sec.Scope, &sec.ScopeID, &sec.Name, &sec.EncryptedValue, &sec.IV, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}

func (s *SecretStore) UpsertSecret(ctx context.Context, sec *core.Secret) error {
	query := `INSERT INTO secrets (scope, scope_id, name, encrypted_value, iv)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, scope_id, name) DO UPDATE SET encrypted_value = EXCLUDED.encrypted_value,
			iv = EXCLUDED.iv, updated_at = now()
		RETURNING ` + secretColumns
	created, err := scanSecret(s.pool.QueryRow(ctx, query, sec.Scope, sec.ScopeID, sec.Name, sec.EncryptedValue, sec.IV))
	if err != nil {
		if checkViolation(err) {
			return &core.ValidationError{Field: "name", Msg: "must match ^[A-Z][A-Z0-9_]*$"}
		}
		return &core.StoreError{Op: "upsert secret", Err: err}
	}
	*sec = *created
	return nil
}

func (s *SecretStore) GetSecret(ctx context.Context, scope core.SecretScope, scopeID uuid.UUID, name string) (*core.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE scope = $1 AND scope_id = $2 AND name = $3`
	sec, err := scanSecret(s.pool.QueryRow(ctx, query, scope, scopeID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: "secret", ID: name}
		}
		return nil, &core.StoreError{Op: "get secret", Err: err}
	}
	return sec, nil
}

func (s *SecretStore) ListSecrets(ctx context.Context, scope core.SecretScope, scopeID uuid.UUID) ([]core.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE scope = $1 AND scope_id = $2 ORDER BY name ASC`
	rows, err := s.pool.Query(ctx, query, scope, scopeID)
	if err != nil {
		return nil, &core.StoreError{Op: "list secrets", Err: err}
	}
	defer rows.Close()

	var result []core.Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, &core.StoreError{Op: "scan secret", Err: err}
		}
		result = append(result, *sec)
	}
	return result, rows.Err()
}

func (s *SecretStore) DeleteSecret(ctx context.Context, scope core.SecretScope, scopeID uuid.UUID, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM secrets WHERE scope = $1 AND scope_id = $2 AND name = $3`, scope, scopeID, name)
	if err != nil {
		return &core.StoreError{Op: "delete secret", Err: err}
	}
	return nil
}
