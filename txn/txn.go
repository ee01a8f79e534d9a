// Package txn manages transaction lifecycles over a dialect driver: root
// transactions map to driver transactions, nested transactions map to
// savepoints on the root connection. Rolling back a transaction
// invalidates every nested transaction opened under it, and rolling back
// to a savepoint invalidates the savepoints of later siblings.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/karstdb/karst/dialect"
	sqlx "github.com/karstdb/karst/dialect/sql"
)

// State is the lifecycle state of a transaction.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
	// StateInvalidated marks a nested transaction whose savepoint was
	// destroyed by an ancestor or an earlier sibling rolling back.
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	case StateInvalidated:
		return "invalidated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a root transaction. Isolation and ReadOnly are
// passed to the driver when it supports them.
type Options struct {
	Isolation sqlx.IsolationLevel
	ReadOnly  bool
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger sets the logger used for transaction lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Manager opens transactions on a driver. The zero nesting level begins a
// driver transaction; every further level is a savepoint issued on that
// same transaction.
type Manager struct {
	driver dialect.Driver
	log    *slog.Logger
}

// NewManager returns a manager issuing transactions on drv.
func NewManager(drv dialect.Driver, opts ...Option) *Manager {
	m := &Manager{driver: drv, log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// beginner is implemented by drivers that support transaction options.
type beginner interface {
	BeginTx(context.Context, *sqlx.TxOptions) (dialect.Tx, error)
}

// Begin starts a root transaction. A nil opts begins with the driver
// defaults.
func (m *Manager) Begin(ctx context.Context, opts *Options) (*Tx, error) {
	var (
		conn dialect.Tx
		err  error
	)
	if b, ok := m.driver.(beginner); ok && opts != nil {
		conn, err = b.BeginTx(ctx, &sqlx.TxOptions{
			Isolation: opts.Isolation,
			ReadOnly:  opts.ReadOnly,
		})
	} else {
		conn, err = m.driver.Tx(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("txn: begin: %w", err)
	}
	m.log.DebugContext(ctx, "transaction started", "dialect", m.driver.Dialect())
	return &Tx{
		conn:    conn,
		dialect: m.driver.Dialect(),
		log:     m.log,
	}, nil
}

// WithTx begins a root transaction, runs fn inside it, and commits on
// success or rolls back on error or panic.
func (m *Manager) WithTx(ctx context.Context, opts *Options, fn func(*Tx) error) error {
	tx, err := m.Begin(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back: %v", err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// Tx is a transaction nesting level. The root level owns the driver
// transaction; nested levels share its connection and are delimited by
// savepoints. A Tx is safe for use from multiple goroutines, but
// statements still execute serially on the one underlying connection.
type Tx struct {
	conn    dialect.Tx
	dialect string
	log     *slog.Logger

	mu        sync.Mutex
	state     State
	parent    *Tx
	children  []*Tx
	savepoint string // empty on the root level
	onCommit  []func()
}

// OnCommit registers fn to run after this nesting level durably commits:
// immediately after a root commit, or after the enclosing root commits
// for nested levels. Callbacks are discarded on rollback or invalidation.
func (t *Tx) OnCommit(fn func()) {
	t.mu.Lock()
	t.onCommit = append(t.onCommit, fn)
	t.mu.Unlock()
}

// State returns the current lifecycle state.
func (t *Tx) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Root reports whether this is the root nesting level.
func (t *Tx) Root() bool { return t.parent == nil }

// Live reports whether the effects of statements issued at this nesting
// level are still visible inside the open transaction: no level from
// here up to the root was rolled back or invalidated, and the root has
// not ended. Level commits keep effects live until the root decides.
func (t *Tx) Live() bool {
	for level := t; level != nil; level = level.parent {
		switch level.State() {
		case StateRolledBack, StateInvalidated:
			return false
		}
		if level.parent == nil {
			return level.State() == StateActive
		}
	}
	return false
}

// Dialect returns the dialect name of the underlying driver.
func (t *Tx) Dialect() string { return t.dialect }

// Exec executes a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args, v any) error {
	if err := t.usable("exec"); err != nil {
		return err
	}
	return t.conn.Exec(ctx, query, args, v)
}

// Query executes a query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args, v any) error {
	if err := t.usable("query"); err != nil {
		return err
	}
	return t.conn.Query(ctx, query, args, v)
}

// Begin opens a nested transaction delimited by a savepoint on the shared
// connection.
func (t *Tx) Begin(ctx context.Context) (*Tx, error) {
	if err := t.usable("begin"); err != nil {
		return nil, err
	}
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := t.conn.Exec(ctx, "SAVEPOINT "+name, []any{}, nil); err != nil {
		return nil, fmt.Errorf("txn: savepoint %s: %w", name, err)
	}
	child := &Tx{
		conn:      t.conn,
		dialect:   t.dialect,
		log:       t.log,
		parent:    t,
		savepoint: name,
	}
	t.mu.Lock()
	t.children = append(t.children, child)
	t.mu.Unlock()
	t.log.DebugContext(ctx, "savepoint created", "savepoint", name)
	return child, nil
}

// Commit commits this nesting level: the driver transaction at the root,
// or a savepoint release on nested levels. Nested transactions that are
// still open underneath are invalidated, since their savepoints do not
// survive the release.
func (t *Tx) Commit() error {
	t.mu.Lock()
	if t.state != StateActive {
		state := t.state
		t.mu.Unlock()
		if state == StateInvalidated {
			return &DescendantInvalidatedError{Savepoint: t.savepoint}
		}
		return &StateError{Op: "commit", State: state}
	}
	t.state = StateCommitted
	children := t.children
	callbacks := t.onCommit
	t.onCommit = nil
	t.mu.Unlock()
	for _, c := range children {
		c.invalidate()
	}
	if t.parent == nil {
		if err := t.conn.Commit(); err != nil {
			return fmt.Errorf("txn: commit: %w", err)
		}
		for _, fn := range callbacks {
			fn()
		}
		return nil
	}
	if err := t.conn.Exec(context.Background(), "RELEASE SAVEPOINT "+t.savepoint, []any{}, nil); err != nil {
		return fmt.Errorf("txn: release savepoint %s: %w", t.savepoint, err)
	}
	// Releasing a savepoint is not durable yet; the callbacks move up to
	// run when the root commits.
	t.parent.mu.Lock()
	t.parent.onCommit = append(t.parent.onCommit, callbacks...)
	t.parent.mu.Unlock()
	return nil
}

// Rollback rolls back this nesting level: the driver transaction at the
// root, or a rollback to the savepoint on nested levels. Everything
// opened under this level is invalidated, along with every sibling
// savepoint created after it. Rolling back an already-invalidated
// transaction is a no-op, so deferred rollbacks stay safe.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	switch t.state {
	case StateInvalidated:
		t.mu.Unlock()
		return nil
	case StateCommitted, StateRolledBack:
		state := t.state
		t.mu.Unlock()
		return &StateError{Op: "rollback", State: state}
	}
	t.state = StateRolledBack
	children := t.children
	t.onCommit = nil
	t.mu.Unlock()
	for _, c := range children {
		c.invalidate()
	}
	if t.parent == nil {
		if err := t.conn.Rollback(); err != nil {
			return fmt.Errorf("txn: rollback: %w", err)
		}
		return nil
	}
	// Later sibling savepoints are destroyed by rolling back past them.
	t.parent.invalidateAfter(t)
	if err := t.conn.Exec(context.Background(), "ROLLBACK TO SAVEPOINT "+t.savepoint, []any{}, nil); err != nil {
		return fmt.Errorf("txn: rollback to savepoint %s: %w", t.savepoint, err)
	}
	return nil
}

func (t *Tx) usable(op string) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	switch state {
	case StateActive:
		return nil
	case StateInvalidated:
		return &DescendantInvalidatedError{Savepoint: t.savepoint}
	default:
		return &StateError{Op: op, State: state}
	}
}

// invalidate marks the transaction and everything under it unusable.
func (t *Tx) invalidate() {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	t.state = StateInvalidated
	children := t.children
	t.mu.Unlock()
	for _, c := range children {
		c.invalidate()
	}
}

// invalidateAfter invalidates children created after the given one.
func (t *Tx) invalidateAfter(after *Tx) {
	t.mu.Lock()
	var later []*Tx
	for i, c := range t.children {
		if c == after {
			later = append(later, t.children[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	for _, c := range later {
		c.invalidate()
	}
}
