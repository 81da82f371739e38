package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the signal the stores map onto core.ConflictError.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// checkViolation reports whether err is a Postgres CHECK-constraint
// violation (SQLSTATE 23514), the signal the stores map onto core.ValidationError.
func checkViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

// clampInt32 bounds n to the int32 range, used when a Postgres INT column
// receives a Go int that in principle could overflow (it never does for
// active_jobs/max_concurrency in practice, but the conversion must be explicit).
func clampInt32(n int) int32 {
	if n > 2147483647 {
		return 2147483647
	}
	if n < -2147483648 {
		return -2147483648
	}
	return int32(n)
}
