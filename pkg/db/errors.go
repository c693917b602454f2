package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// IsSerializationFailure reports whether the error is a Postgres serialization
// or deadlock failure, i.e. the transaction is safe to retry from the top.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	// Simple-protocol errors arrive as plain strings.
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE "+pgSerializationFailure) ||
		strings.Contains(msg, "SQLSTATE "+pgDeadlockDetected)
}

// IsUniqueViolation reports whether the error references a Postgres unique
// violation. When constraintName is provided the helper matches it as well.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value")
}
