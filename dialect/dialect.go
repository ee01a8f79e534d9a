package dialect

import (
	"context"
)

// Dialect names recognized by the SQL driver implementation.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two basic Exec and Query methods.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows. The args type
	// is expected to be []any, and v (if non-nil) receives the result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows. The v argument
	// receives the *sql.Rows wrapper of the dialect implementation.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface the engine consumes for issuing SQL.
// Implementations wrap an actual connection pool; the engine never
// manages connections itself.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps transactional statements with Commit and Rollback.
// Savepoints are issued through Exec by the transaction manager.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

type nopTx struct {
	Driver
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

// NopTx returns a Tx with a no-op Commit and Rollback on top of the driver.
// Useful for running transactional code against stores without transaction
// support.
func NopTx(d Driver) Tx {
	return nopTx{d}
}

// DebugFunc is the logging callback used by the Debug wrappers in
// dialect/sql. It exists here so callers can pass their own logger
// without importing the sql sub-package.
type DebugFunc func(ctx context.Context, args ...any)
