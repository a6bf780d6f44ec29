package repositories

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Postgres error codes relevant to the locking scheme.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// IsSerializationConflict reports whether err is a transient transaction
// conflict (serialization failure or deadlock) that callers may retry.
func IsSerializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation
}
