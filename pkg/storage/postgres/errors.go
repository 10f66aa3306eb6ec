package postgres

import (
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

// IsUniqueViolation reports whether err is a unique constraint violation.
// When constraint is non-empty the violated constraint must match it.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
