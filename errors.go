package karst

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested instance does not exist.
	ErrNotFound = errors.New("karst: instance not found")

	// ErrNotSingular is returned when a query that expects exactly one
	// result returns zero or multiple results.
	ErrNotSingular = errors.New("karst: instance not singular")

	// ErrStale is returned when an optimistic-lock update or delete
	// matches no rows because the stored version moved on.
	ErrStale = errors.New("karst: stale instance")
)

// NotFoundError represents an error when an instance is not found.
type NotFoundError struct {
	label string
	id    any // optional: the key that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("karst: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("karst: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError. This allows
// errors.Is(err, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the model label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the key that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given model.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the key that
// was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular
// result but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int // number of results returned, -1 if unknown
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("karst: %s not singular (got %d)", e.label, e.count)
	}
	return fmt.Sprintf("karst: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// NewNotSingularError returns a new NotSingularError for the given model.
func NewNotSingularError(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// StaleObjectError is returned when an update or delete guarded by a
// version column affects no rows: another writer committed a newer
// version after this instance was loaded.
type StaleObjectError struct {
	Model   string
	ID      any
	Version int64
}

// Error returns the error string.
func (e *StaleObjectError) Error() string {
	return fmt.Sprintf("karst: stale %s (id=%v, version=%d)", e.Model, e.ID, e.Version)
}

// Is reports whether the target error matches StaleObjectError.
func (e *StaleObjectError) Is(err error) bool {
	return err == ErrStale
}

// IsStaleObject returns true if the error is a StaleObjectError.
func IsStaleObject(err error) bool {
	if err == nil {
		return false
	}
	var e *StaleObjectError
	return errors.As(err, &e) || errors.Is(err, ErrStale)
}
