package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/karstdb/karst/dialect"
)

// Driver instrumentation. StatsDriver counts statements and flags slow
// ones, DebugDriver echoes every statement before it runs. Both wrap a
// *Driver and satisfy dialect.Driver, so they slot in wherever a plain
// driver does, transactions included.

// Metrics accumulates statement counters for a StatsDriver. Counters
// advance atomically on the hot path; read them through Snapshot.
type Metrics struct {
	Queries atomic.Int64
	Execs   atomic.Int64
	Slow    atomic.Int64
	Errors  atomic.Int64
	elapsed atomic.Int64 // nanoseconds spent in tracked statements
}

// Snapshot returns the counters as plain values. Counters that advance
// while the snapshot is taken land in the next one.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Queries: m.Queries.Load(),
		Execs:   m.Execs.Load(),
		Slow:    m.Slow.Load(),
		Errors:  m.Errors.Load(),
		Elapsed: time.Duration(m.elapsed.Load()),
	}
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.Queries.Store(0)
	m.Execs.Store(0)
	m.Slow.Store(0)
	m.Errors.Store(0)
	m.elapsed.Store(0)
}

// MetricsSnapshot is one point-in-time reading of a Metrics.
type MetricsSnapshot struct {
	Queries int64
	Execs   int64
	Slow    int64
	Errors  int64
	Elapsed time.Duration
}

// AvgDuration returns the mean statement duration of the snapshot.
func (s MetricsSnapshot) AvgDuration() time.Duration {
	if n := s.Queries + s.Execs; n > 0 {
		return s.Elapsed / time.Duration(n)
	}
	return 0
}

func (s MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d elapsed=%s avg=%s slow=%d errors=%d",
		s.Queries, s.Execs, s.Elapsed, s.AvgDuration(), s.Slow, s.Errors,
	)
}

// SlowQueryHook receives statements whose duration reached the slow
// threshold. It runs inline on the statement's goroutine.
type SlowQueryHook func(ctx context.Context, query string, args []any, took time.Duration)

// StatsDriver wraps a Driver and meters every statement that passes
// through it, on the driver itself and inside its transactions.
type StatsDriver struct {
	*Driver
	metrics       *Metrics
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// StatsOption configures a StatsDriver at construction.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration from which a statement counts as
// slow. The default is 200ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.slowThreshold = d }
}

// WithSlowQueryHook installs the callback invoked for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.slowHook = hook }
}

// WithSlowQueryLog reports slow statements through slog at Warn level.
func WithSlowQueryLog() StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, took time.Duration) {
		slog.WarnContext(ctx, "slow query", "took", took, "query", query, "args", args)
	})
}

// NewStatsDriver returns drv wrapped with statement metering.
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		metrics:       &Metrics{},
		slowThreshold: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the driver's counters.
func (d *StatsDriver) Metrics() *Metrics { return d.metrics }

// Query runs the query on the wrapped driver and meters it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.track(ctx, &d.metrics.Queries, query, args, start, err)
	return err
}

// Exec runs the statement on the wrapped driver and meters it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.track(ctx, &d.metrics.Execs, query, args, start, err)
	return err
}

func (d *StatsDriver) track(ctx context.Context, counter *atomic.Int64, query string, args any, start time.Time, err error) {
	took := time.Since(start)
	counter.Add(1)
	d.metrics.elapsed.Add(int64(took))
	if err != nil {
		d.metrics.Errors.Add(1)
	}
	if took < d.slowThreshold {
		return
	}
	d.metrics.Slow.Add(1)
	if d.slowHook != nil {
		list, _ := args.([]any)
		d.slowHook(ctx, query, list, took)
	}
}

// Tx begins a transaction whose statements feed the same counters.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, driver: d}, nil
}

// StatsTx meters the statements of one transaction.
type StatsTx struct {
	dialect.Tx
	driver *StatsDriver
}

func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.driver.track(ctx, &tx.driver.metrics.Queries, query, args, start, err)
	return err
}

func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.driver.track(ctx, &tx.driver.metrics.Execs, query, args, start, err)
	return err
}

// DebugDriver wraps a Driver and echoes every statement before running
// it.
type DebugDriver struct {
	*Driver
	log dialect.DebugFunc
}

// NewDebugDriver returns drv wrapped with statement echoing. Without a
// custom log function, statements go to slog at Info level.
func NewDebugDriver(drv *Driver, logFunc ...dialect.DebugFunc) *DebugDriver {
	d := &DebugDriver{
		Driver: drv,
		log: func(ctx context.Context, v ...any) {
			slog.InfoContext(ctx, fmt.Sprint(v...))
		},
	}
	if len(logFunc) > 0 && logFunc[0] != nil {
		d.log = logFunc[0]
	}
	return d
}

func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("driver.Query: %s %v", query, args))
	return d.Driver.Query(ctx, query, args, v)
}

func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("driver.Exec: %s %v", query, args))
	return d.Driver.Exec(ctx, query, args, v)
}

func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.log(ctx, "driver.Tx: begin")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, log: d.log}, nil
}

// DebugTx echoes the statements of one transaction.
type DebugTx struct {
	dialect.Tx
	log dialect.DebugFunc
}

func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.log(ctx, fmt.Sprintf("Tx.Query: %s %v", query, args))
	return tx.Tx.Query(ctx, query, args, v)
}

func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.log(ctx, fmt.Sprintf("Tx.Exec: %s %v", query, args))
	return tx.Tx.Exec(ctx, query, args, v)
}

func (tx *DebugTx) Commit() error {
	tx.log(context.Background(), "Tx.Commit")
	return tx.Tx.Commit()
}

func (tx *DebugTx) Rollback() error {
	tx.log(context.Background(), "Tx.Rollback")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*StatsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*DebugTx)(nil)
)
