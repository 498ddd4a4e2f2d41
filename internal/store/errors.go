package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505) on the named constraint, the Go-side mirror of
// mqk-db's is_unique_constraint_violation. gorm's postgres driver surfaces
// the underlying pgconn.PgError unwrapped, so errors.As reaches it directly.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
