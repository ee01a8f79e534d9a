// Package karst is a query, association and transaction engine over a
// sealed schema registry. Descriptors compile to deterministic SQL plans,
// plans load instance graphs with join or batched separate-query eager
// loading, and persist operations run through a lifecycle hook pipeline
// with optimistic locking on versioned models.
package karst

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/karstdb/karst/compiler"
	"github.com/karstdb/karst/dialect"
	sqlx "github.com/karstdb/karst/dialect/sql"
	"github.com/karstdb/karst/hook"
	"github.com/karstdb/karst/query"
	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/txn"
)

// Client ties the registry, driver, loader, transaction manager and hook
// pipelines together. Transactions are always passed explicitly: a nil tx
// runs queries directly on the driver, and persist operations with a nil
// tx open an auto-managed transaction that is rolled back on failure.
// Inside a caller-managed transaction the caller rolls back; the client
// never rolls back a transaction it did not open.
type Client struct {
	reg    *schema.Registry
	drv    dialect.Driver
	txm    *txn.Manager
	loader *Loader
	plans  *PlanCache
	log    *slog.Logger

	mu    sync.Mutex
	hooks map[string]*hook.Pipeline
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client and its loader.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithConcurrentLoads lets independent separate-query branches of one
// nesting level run in parallel when loading outside a transaction.
func WithConcurrentLoads() Option {
	return func(c *Client) { c.loader = NewLoader(WithConcurrentBranches()) }
}

// NewClient returns a client over the registry and driver. The registry
// is sealed if it was not already: model registration ends here.
func NewClient(reg *schema.Registry, drv dialect.Driver, opts ...Option) *Client {
	reg.Seal()
	c := &Client{
		reg:    reg,
		drv:    drv,
		txm:    txn.NewManager(drv),
		loader: NewLoader(),
		plans:  NewPlanCache(),
		log:    slog.Default(),
		hooks:  make(map[string]*hook.Pipeline),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loader.log = c.log
	return c
}

// Registry returns the sealed schema registry.
func (c *Client) Registry() *schema.Registry { return c.reg }

// Txn returns the transaction manager.
func (c *Client) Txn() *txn.Manager { return c.txm }

// Hooks returns the lifecycle pipeline of a model, creating it on first
// use.
func (c *Client) Hooks(model string) *hook.Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.hooks[model]
	if !ok {
		p = hook.NewPipeline()
		c.hooks[model] = p
	}
	return p
}

// conn returns the executor queries run on: the transaction when one is
// given, the bare driver otherwise.
func (c *Client) conn(tx *txn.Tx) dialect.ExecQuerier {
	if tx != nil {
		return tx
	}
	return c.drv
}

// Plan compiles the descriptor, reusing a cached plan when an identical
// descriptor was compiled before.
func (c *Client) Plan(desc *query.Descriptor) (*compiler.Plan, error) {
	fp, ferr := compiler.Fingerprint(c.drv.Dialect(), desc)
	if ferr == nil {
		if p, ok := c.plans.Get(fp); ok {
			return p, nil
		}
	}
	p, err := compiler.Compile(c.reg, c.drv.Dialect(), desc)
	if err != nil {
		return nil, err
	}
	if ferr == nil {
		c.plans.Put(fp, p)
	}
	return p, nil
}

// Find compiles and executes the descriptor, returning the hydrated
// instances with every included association attached.
func (c *Client) Find(ctx context.Context, tx *txn.Tx, desc *query.Descriptor) ([]*Instance, error) {
	p, err := c.Plan(desc)
	if err != nil {
		return nil, err
	}
	return c.loader.Load(ctx, c.conn(tx), p)
}

// Only runs the descriptor and expects exactly one result. It returns
// NotFoundError on zero results and NotSingularError on more than one.
func (c *Client) Only(ctx context.Context, tx *txn.Tx, desc *query.Descriptor) (*Instance, error) {
	list, err := c.Find(ctx, tx, desc)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 1:
		return list[0], nil
	case 0:
		return nil, NewNotFoundError(desc.Model)
	default:
		return nil, NewNotSingularError(desc.Model, len(list))
	}
}

// Get fetches one instance by primary key.
func (c *Client) Get(ctx context.Context, tx *txn.Tx, model string, id any) (*Instance, error) {
	def, err := c.reg.Model(model)
	if err != nil {
		return nil, err
	}
	list, err := c.Find(ctx, tx, &query.Descriptor{
		Model: model,
		Where: query.EQ(def.ID(), id),
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, NewNotFoundErrorWithID(model, id)
	}
	return list[0], nil
}

// GetForUpdate fetches one instance by primary key with a row lock. The
// lock clause is rendered for the dialect and waiting is left entirely to
// the store. Requires a transaction.
func (c *Client) GetForUpdate(ctx context.Context, tx *txn.Tx, model string, id any, lock txn.Lock) (*Instance, error) {
	if tx == nil {
		return nil, fmt.Errorf("karst: locking fetch of %s requires a transaction", model)
	}
	def, err := c.reg.Model(model)
	if err != nil {
		return nil, err
	}
	p, err := c.Plan(&query.Descriptor{Model: model, Where: query.EQ(def.ID(), id)})
	if err != nil {
		return nil, err
	}
	stmt := compiler.Stmt{SQL: p.Root.SQL + lock.Suffix(c.drv.Dialect()), Args: p.Root.Args}
	res, err := c.loader.runNode(ctx, tx, p.Node, stmt, nil)
	if err != nil {
		return nil, err
	}
	if len(res.order) == 0 {
		return nil, NewNotFoundErrorWithID(model, id)
	}
	return res.order[0], nil
}

// Create validates vals, runs the create lifecycle, and inserts a row.
// The returned instance reflects the stored row; its snapshot is promoted
// when the surrounding transaction commits.
func (c *Client) Create(ctx context.Context, tx *txn.Tx, model string, vals schema.Values) (*Instance, error) {
	def, err := c.reg.Model(model)
	if err != nil {
		return nil, err
	}
	in := NewInstance(def, vals)
	applyDefaults(in)
	if err := c.withPersistTx(ctx, tx, func(ptx *txn.Tx) error {
		return c.create(ctx, ptx, in)
	}); err != nil {
		return nil, err
	}
	return in, nil
}

// Update persists the changed attributes of a loaded instance. On a
// versioned model the UPDATE is guarded on the loaded version; zero
// affected rows surfaces a StaleObjectError.
func (c *Client) Update(ctx context.Context, tx *txn.Tx, in *Instance) error {
	return c.withPersistTx(ctx, tx, func(ptx *txn.Tx) error {
		return c.update(ctx, ptx, in)
	})
}

// Delete removes the instance's row, guarded on the version column when
// the model carries one.
func (c *Client) Delete(ctx context.Context, tx *txn.Tx, in *Instance) error {
	return c.withPersistTx(ctx, tx, func(ptx *txn.Tx) error {
		return c.destroy(ctx, ptx, in)
	})
}

// Batch is the hook subject of a bulk operation, covering every instance
// of the batch.
type Batch struct {
	model string
	items []*Instance
}

// ModelName returns the model name. It implements hook.Subject.
func (b *Batch) ModelName() string { return b.model }

// Values returns nil: bulk events operate on the batch as a whole,
// per-row values are reached through Items.
func (b *Batch) Values() schema.Values { return nil }

// Items returns the instances of the batch.
func (b *Batch) Items() []*Instance { return b.items }

// CreateAll inserts several rows of one model in a single transaction
// scope. The bulk events fire once around the per-row lifecycles, and the
// whole batch rolls back together under an auto-managed transaction.
func (c *Client) CreateAll(ctx context.Context, tx *txn.Tx, model string, vals []schema.Values) ([]*Instance, error) {
	def, err := c.reg.Model(model)
	if err != nil {
		return nil, err
	}
	items := make([]*Instance, len(vals))
	for i, v := range vals {
		items[i] = NewInstance(def, v)
		applyDefaults(items[i])
	}
	b := &Batch{model: model, items: items}
	hooks := c.Hooks(model)
	err = c.withPersistTx(ctx, tx, func(ptx *txn.Tx) error {
		if err := hooks.Fire(ctx, hook.BeforeBulkCreate, b); err != nil {
			return err
		}
		for _, in := range items {
			if err := c.create(ctx, ptx, in); err != nil {
				return err
			}
		}
		return hooks.Fire(ctx, hook.AfterBulkCreate, b)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateAll persists the changes of several loaded instances of one
// model in a single transaction scope, with bulk events around the
// per-row lifecycles.
func (c *Client) UpdateAll(ctx context.Context, tx *txn.Tx, items []*Instance) error {
	if len(items) == 0 {
		return nil
	}
	b := &Batch{model: items[0].ModelName(), items: items}
	hooks := c.Hooks(b.model)
	return c.withPersistTx(ctx, tx, func(ptx *txn.Tx) error {
		if err := hooks.Fire(ctx, hook.BeforeBulkUpdate, b); err != nil {
			return err
		}
		for _, in := range items {
			if err := c.update(ctx, ptx, in); err != nil {
				return err
			}
		}
		return hooks.Fire(ctx, hook.AfterBulkUpdate, b)
	})
}

// DeleteAll removes several loaded instances of one model in a single
// transaction scope, with bulk events around the per-row lifecycles.
func (c *Client) DeleteAll(ctx context.Context, tx *txn.Tx, items []*Instance) error {
	if len(items) == 0 {
		return nil
	}
	b := &Batch{model: items[0].ModelName(), items: items}
	hooks := c.Hooks(b.model)
	return c.withPersistTx(ctx, tx, func(ptx *txn.Tx) error {
		if err := hooks.Fire(ctx, hook.BeforeBulkDestroy, b); err != nil {
			return err
		}
		for _, in := range items {
			if err := c.destroy(ctx, ptx, in); err != nil {
				return err
			}
		}
		return hooks.Fire(ctx, hook.AfterBulkDestroy, b)
	})
}

// withPersistTx runs fn in the caller's transaction when one is given.
// With a nil tx it opens an auto-managed root transaction that commits on
// success and rolls back on failure.
func (c *Client) withPersistTx(ctx context.Context, tx *txn.Tx, fn func(*txn.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return c.txm.WithTx(ctx, nil, fn)
}

func (c *Client) create(ctx context.Context, tx *txn.Tx, in *Instance) error {
	hooks := c.Hooks(in.ModelName())
	if err := hooks.Fire(ctx, hook.BeforeValidate, in); err != nil {
		return err
	}
	if err := hook.Validate(in.Model(), in.Values()); err != nil {
		return err
	}
	if err := hooks.Fire(ctx, hook.AfterValidate, in); err != nil {
		return err
	}
	if err := hooks.Fire(ctx, hook.BeforeCreate, in); err != nil {
		return err
	}
	stmt := insertStmt(in, c.drv.Dialect())
	pk := in.Model().ID()
	if c.drv.Dialect() == dialect.Postgres {
		var rows sqlx.Rows
		if err := tx.Query(ctx, stmt.SQL, stmt.Args, &rows); err != nil {
			return sqlx.ClassifyConstraint(err)
		}
		if rows.Next() {
			var id any
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("karst: insert %s: %w", in.ModelName(), err)
			}
			in.Set(pk, keyValue(id))
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("karst: insert %s: %w", in.ModelName(), err)
		}
	} else {
		var res sqlx.Result
		if err := tx.Exec(ctx, stmt.SQL, stmt.Args, &res); err != nil {
			return sqlx.ClassifyConstraint(err)
		}
		if in.Get(pk) == nil {
			if id, err := res.LastInsertId(); err == nil {
				in.Set(pk, id)
			}
		}
	}
	tx.OnCommit(in.syncOriginal)
	return hooks.Fire(ctx, hook.AfterCreate, in)
}

func (c *Client) update(ctx context.Context, tx *txn.Tx, in *Instance) error {
	hooks := c.Hooks(in.ModelName())
	if err := hooks.Fire(ctx, hook.BeforeValidate, in); err != nil {
		return err
	}
	if err := hook.Validate(in.Model(), in.Values()); err != nil {
		return err
	}
	if err := hooks.Fire(ctx, hook.AfterValidate, in); err != nil {
		return err
	}
	if err := hooks.Fire(ctx, hook.BeforeUpdate, in); err != nil {
		return err
	}
	guard, _ := asInt64(in.guardVersion())
	stmt, dirty := updateStmt(in, c.drv.Dialect())
	if !dirty {
		return hooks.Fire(ctx, hook.AfterUpdate, in)
	}
	var res sqlx.Result
	if err := tx.Exec(ctx, stmt.SQL, stmt.Args, &res); err != nil {
		return sqlx.ClassifyConstraint(err)
	}
	version := in.Model().VersionAttribute()
	if version != "" {
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("karst: update %s: %w", in.ModelName(), err)
		}
		if affected == 0 {
			return &StaleObjectError{Model: in.ModelName(), ID: in.ID(), Version: guard}
		}
		// The row now carries guard+1 inside the open transaction, and a
		// second update of the same instance must guard on that, not on
		// the snapshot, which only catches up at commit.
		in.stageVersion(tx, guard+1)
	}
	next := guard + 1
	tx.OnCommit(func() {
		if version != "" {
			in.Set(version, next)
			in.unstageVersion()
		}
		in.syncOriginal()
	})
	return hooks.Fire(ctx, hook.AfterUpdate, in)
}

func (c *Client) destroy(ctx context.Context, tx *txn.Tx, in *Instance) error {
	hooks := c.Hooks(in.ModelName())
	if err := hooks.Fire(ctx, hook.BeforeDestroy, in); err != nil {
		return err
	}
	stmt := deleteStmt(in, c.drv.Dialect())
	var res sqlx.Result
	if err := tx.Exec(ctx, stmt.SQL, stmt.Args, &res); err != nil {
		return sqlx.ClassifyConstraint(err)
	}
	if version := in.Model().VersionAttribute(); version != "" {
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("karst: delete %s: %w", in.ModelName(), err)
		}
		if affected == 0 {
			guard, _ := asInt64(in.guardVersion())
			return &StaleObjectError{Model: in.ModelName(), ID: in.ID(), Version: guard}
		}
	}
	tx.OnCommit(in.markRemoved)
	return hooks.Fire(ctx, hook.AfterDestroy, in)
}

// applyDefaults fills missing attributes from their descriptors and
// starts the version counter on versioned models.
func applyDefaults(in *Instance) {
	for _, attr := range in.Model().Attributes() {
		if _, ok := in.values[attr.Name]; ok {
			continue
		}
		if def, ok := attr.DefaultValue(); ok {
			in.values[attr.Name] = def
		}
	}
	if version := in.Model().VersionAttribute(); version != "" {
		if _, ok := in.values[version]; !ok {
			in.values[version] = int64(1)
		}
	}
}
