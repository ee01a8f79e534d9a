package compiler

import (
	"errors"
	"fmt"
)

// CompileError reports a malformed query descriptor. It is detected before
// any SQL is constructed and never reaches the driver.
type CompileError struct {
	Model string
	Msg   string
	Err   error // optional cause, e.g. a schema resolution error
}

// Error returns the error string.
func (e *CompileError) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("compiler: %s: %s: %v", e.Model, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("compiler: %s: %v", e.Model, e.Err)
	default:
		return fmt.Sprintf("compiler: %s: %s", e.Model, e.Msg)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *CompileError) Unwrap() error { return e.Err }

// IsCompileError returns true if the error is a CompileError.
func IsCompileError(err error) bool {
	if err == nil {
		return false
	}
	var e *CompileError
	return errors.As(err, &e)
}

// UnsupportedPlanError reports an include shape the compiler refuses to
// satisfy: a forced join on a paged to-many branch, a forced join through
// a junction model, or a second forced to-many join at one nesting level.
// A SQL-level LIMIT on a joined cardinality-expanding query does not limit
// the logical child count per parent, so these shapes are correctness
// errors rather than tuning hints.
type UnsupportedPlanError struct {
	Alias  string
	Reason string
}

// Error returns the error string.
func (e *UnsupportedPlanError) Error() string {
	return fmt.Sprintf("compiler: unsupported plan for association %q: %s", e.Alias, e.Reason)
}

// IsUnsupportedPlan returns true if the error is an UnsupportedPlanError.
func IsUnsupportedPlan(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedPlanError
	return errors.As(err, &e)
}
