package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

func AsPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsUniqueViolation reports a unique violation, optionally restricted to one constraint.
func IsUniqueViolation(err error, constraint string) bool {
	pe, ok := AsPgError(err)
	if !ok || pe.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pe.ConstraintName == constraint
}

func IsForeignKeyViolation(err error) bool {
	pe, ok := AsPgError(err)
	return ok && pe.Code == pgerrcode.ForeignKeyViolation
}

// IsInvalidText reports malformed input such as a bad uuid literal.
func IsInvalidText(err error) bool {
	pe, ok := AsPgError(err)
	return ok && pe.Code == pgerrcode.InvalidTextRepresentation
}
