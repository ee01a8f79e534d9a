package karst

import (
	"bytes"
	"reflect"
	"sync"

	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/txn"
)

// Instance is one record bound to a model definition: its current
// attribute values, the snapshot taken when it was last loaded or
// persisted, and the association graph loaded alongside it. The snapshot
// is promoted to the current values exactly when a persist operation
// durably commits, never before, so change tracking stays correct across
// rolled-back transactions.
type Instance struct {
	model     *schema.ModelDefinition
	values    schema.Values
	original  schema.Values
	persisted bool

	mu     sync.Mutex
	assocs map[string]any // alias -> *Instance or []*Instance

	// The version sent by the last guarded write, kept while its
	// transaction is still open so a later write in the same transaction
	// guards on the version the row actually has there.
	pendingTx      *txn.Tx
	pendingVersion int64
}

// NewInstance returns an unpersisted instance of the model carrying the
// given attribute values.
func NewInstance(model *schema.ModelDefinition, vals schema.Values) *Instance {
	in := &Instance{
		model:  model,
		values: make(schema.Values, len(vals)),
		assocs: make(map[string]any),
	}
	for k, v := range vals {
		in.values[k] = v
	}
	return in
}

// Model returns the model definition the instance is bound to.
func (in *Instance) Model() *schema.ModelDefinition { return in.model }

// ModelName returns the model name. It implements hook.Subject.
func (in *Instance) ModelName() string { return in.model.Name() }

// Values returns the live attribute values. Mutating the map from a
// lifecycle hook changes what gets persisted.
func (in *Instance) Values() schema.Values { return in.values }

// Get returns the current value of an attribute.
func (in *Instance) Get(attr string) any { return in.values[attr] }

// Set assigns the current value of an attribute.
func (in *Instance) Set(attr string, v any) { in.values[attr] = v }

// ID returns the primary-key value.
func (in *Instance) ID() any { return in.values[in.model.ID()] }

// Persisted reports whether the instance is backed by a stored row.
func (in *Instance) Persisted() bool { return in.persisted }

// Version returns the optimistic-lock version, or false when the model
// has no version column or the instance carries none.
func (in *Instance) Version() (int64, bool) {
	attr := in.model.VersionAttribute()
	if attr == "" {
		return 0, false
	}
	n, ok := asInt64(in.values[attr])
	return n, ok
}

// Changed reports whether the attribute differs from the last persisted
// snapshot. Every attribute of an unpersisted instance counts as changed.
func (in *Instance) Changed(attr string) bool {
	if !in.persisted {
		_, ok := in.values[attr]
		return ok
	}
	return !valueEqual(in.values[attr], in.original[attr])
}

// valueEqual compares two attribute values. Bytes attributes make slice
// values legal, so plain comparison would panic on them.
func valueEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Changes returns the attributes that differ from the snapshot, in model
// attribute order.
func (in *Instance) Changes() schema.Values {
	out := make(schema.Values)
	for _, attr := range in.model.Attributes() {
		if in.Changed(attr.Name) {
			out[attr.Name] = in.values[attr.Name]
		}
	}
	return out
}

// Assoc returns the loaded value for the alias and whether the alias was
// loaded at all. A loaded to-one association may be nil.
func (in *Instance) Assoc(alias string) (any, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	v, ok := in.assocs[alias]
	return v, ok
}

// One returns the loaded to-one association, or nil.
func (in *Instance) One(alias string) *Instance {
	v, _ := in.Assoc(alias)
	one, _ := v.(*Instance)
	return one
}

// Many returns the loaded to-many association collection, or nil when the
// alias was never loaded.
func (in *Instance) Many(alias string) []*Instance {
	v, _ := in.Assoc(alias)
	many, _ := v.([]*Instance)
	return many
}

// setAssoc replaces the loaded value for the alias wholesale. Collections
// are never merged with a previous load.
func (in *Instance) setAssoc(alias string, v any) {
	in.mu.Lock()
	in.assocs[alias] = v
	in.mu.Unlock()
}

// appendAssoc adds a child to a to-many collection, deduplicating by
// primary key. Used for join-folded rows, where a parent repeats once per
// matching child.
func (in *Instance) appendAssoc(alias string, child *Instance) {
	in.mu.Lock()
	defer in.mu.Unlock()
	many, _ := in.assocs[alias].([]*Instance)
	id := child.ID()
	for _, c := range many {
		if c.ID() == id {
			return
		}
	}
	in.assocs[alias] = append(many, child)
}

// loadedVersion returns the version value of the persisted snapshot,
// which guards optimistic updates even when the live value was touched.
func (in *Instance) loadedVersion() any {
	attr := in.model.VersionAttribute()
	if attr == "" {
		return nil
	}
	if in.persisted {
		return in.original[attr]
	}
	return in.values[attr]
}

// guardVersion returns the version value to place in the WHERE clause of
// a guarded write. While the transaction that issued the instance's last
// guarded write remains open, that write's version wins over the
// snapshot, so a writer never conflicts with its own uncommitted update.
func (in *Instance) guardVersion() any {
	in.mu.Lock()
	tx, v := in.pendingTx, in.pendingVersion
	in.mu.Unlock()
	if tx != nil && tx.Live() {
		return v
	}
	return in.loadedVersion()
}

// stageVersion records the version the row holds inside the still-open
// transaction after a guarded write.
func (in *Instance) stageVersion(tx *txn.Tx, version int64) {
	in.mu.Lock()
	in.pendingTx, in.pendingVersion = tx, version
	in.mu.Unlock()
}

// unstageVersion drops the staged version once the snapshot catches up.
func (in *Instance) unstageVersion() {
	in.mu.Lock()
	in.pendingTx, in.pendingVersion = nil, 0
	in.mu.Unlock()
}

// markRemoved flips the instance back to unpersisted after its row was
// deleted.
func (in *Instance) markRemoved() {
	in.persisted = false
	in.original = nil
}

// syncOriginal promotes the current values to the persisted snapshot.
func (in *Instance) syncOriginal() {
	snap := make(schema.Values, len(in.values))
	for k, v := range in.values {
		snap[k] = v
	}
	in.original = snap
	in.persisted = true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}
