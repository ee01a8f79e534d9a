package txn

import (
	"errors"
	"fmt"
)

// ErrInvalidated is bridged by DescendantInvalidatedError for errors.Is
// checks.
var ErrInvalidated = errors.New("txn: transaction invalidated")

// DescendantInvalidatedError is returned when operating on a nested
// transaction whose savepoint was destroyed by an ancestor or an earlier
// sibling rolling back.
type DescendantInvalidatedError struct {
	Savepoint string
}

func (e *DescendantInvalidatedError) Error() string {
	return fmt.Sprintf("txn: savepoint %s invalidated by an ancestor rollback", e.Savepoint)
}

// Is implements the errors.Is interface.
func (e *DescendantInvalidatedError) Is(err error) bool {
	return err == ErrInvalidated
}

// IsInvalidated reports whether err tells that a transaction was
// invalidated from outside.
func IsInvalidated(err error) bool {
	return errors.Is(err, ErrInvalidated)
}

// StateError is returned when a transaction operation is attempted in a
// state that does not allow it, such as committing twice.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("txn: %s on %s transaction", e.Op, e.State)
}

// IsStateError reports whether err is a transaction state violation.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
