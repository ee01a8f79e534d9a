package sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// UniqueConstraintError is returned when the store rejects a write because
// of a uniqueness constraint violation.
type UniqueConstraintError struct {
	// Constraint is the reported constraint or index name, when the
	// driver exposes one.
	Constraint string
	wrap       error
}

// Error returns the error string.
func (e *UniqueConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("sql: unique constraint %q violated: %v", e.Constraint, e.wrap)
	}
	return fmt.Sprintf("sql: unique constraint violated: %v", e.wrap)
}

// Unwrap returns the underlying driver error.
func (e *UniqueConstraintError) Unwrap() error { return e.wrap }

// ForeignKeyViolationError is returned when the store rejects a write
// because of a foreign-key constraint violation.
type ForeignKeyViolationError struct {
	Constraint string
	wrap       error
}

// Error returns the error string.
func (e *ForeignKeyViolationError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("sql: foreign-key constraint %q violated: %v", e.Constraint, e.wrap)
	}
	return fmt.Sprintf("sql: foreign-key constraint violated: %v", e.wrap)
}

// Unwrap returns the underlying driver error.
func (e *ForeignKeyViolationError) Unwrap() error { return e.wrap }

// IsUniqueConstraintError reports if the error resulted from a DB
// uniqueness constraint violation, e.g. a duplicate value in a unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *UniqueConstraintError
	if errors.As(err, &e) {
		return true
	}
	// Check for SQLSTATE code (PostgreSQL, pgx)
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgUniqueViolation {
		return true
	}
	// Check for PostgreSQL error code
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgUniqueViolation {
		return true
	}
	// Check for MySQL error number
	if e := (*mysql.MySQLError)(nil); errors.As(err, &e) && e.Number == mysqlDuplicateEntry {
		return true
	}
	// Fallback to string matching for drivers that don't implement interfaces
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL
		"violates unique constraint", // Postgres
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyViolationError reports if the error resulted from a database
// foreign-key constraint violation, e.g. the parent row does not exist.
func IsForeignKeyViolationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ForeignKeyViolationError
	if errors.As(err, &e) {
		return true
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgForeignKeyViolation {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgForeignKeyViolation {
		return true
	}
	if e := (*mysql.MySQLError)(nil); errors.As(err, &e) {
		if e.Number == mysqlForeignKeyParent || e.Number == mysqlForeignKeyChild {
			return true
		}
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (cannot delete or update a parent row)
		"Error 1452",                      // MySQL (cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// ClassifyConstraint inspects a driver-reported error and wraps it into
// the matching constraint error type, preserving the original cause.
// Unrecognized errors are returned unchanged.
func ClassifyConstraint(err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueConstraintError(err):
		return &UniqueConstraintError{Constraint: constraintName(err), wrap: err}
	case IsForeignKeyViolationError(err):
		return &ForeignKeyViolationError{Constraint: constraintName(err), wrap: err}
	default:
		return err
	}
}

// errorCoder is an interface for database errors that provide error codes.
type errorCoder interface {
	Code() string
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by pgx and lib/pq.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
)

// constraintNameRe matches the constraint identifiers reported in the
// textual form of Postgres and SQLite errors.
var constraintNameRe = regexp.MustCompile(`constraint "([^"]+)"|constraint failed: ([\w.]+)`)

// constraintName extracts the violated constraint identifier from the
// error text, when the store reports a recognizable one.
func constraintName(err error) string {
	m := constraintNameRe.FindStringSubmatch(err.Error())
	switch {
	case m == nil:
		return ""
	case m[1] != "":
		return m[1]
	default:
		return m[2]
	}
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
