package karst

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/karstdb/karst/compiler"
	"github.com/karstdb/karst/dialect"
	sqlx "github.com/karstdb/karst/dialect/sql"
	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/schema/field"
)

// Loader executes compiled plans and hydrates instance graphs: join
// branches from the folded row columns, separate branches with one
// batched child query per nesting level. Re-loading an alias replaces the
// previously loaded value wholesale.
type Loader struct {
	// concurrent runs independent separate branches of one level in
	// parallel. Off by default: branch order then follows the include
	// order deterministically, and a shared transaction connection is
	// never used from two goroutines.
	concurrent bool
	log        *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConcurrentBranches lets independent separate-query branches of one
// nesting level run in parallel. Only safe when loading outside a
// transaction.
func WithConcurrentBranches() LoaderOption {
	return func(l *Loader) { l.concurrent = true }
}

// WithLoaderLogger sets the logger for load events.
func WithLoaderLogger(log *slog.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// NewLoader returns a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load executes the plan on conn and returns the hydrated root
// instances with every included association attached.
func (l *Loader) Load(ctx context.Context, conn dialect.ExecQuerier, plan *compiler.Plan) ([]*Instance, error) {
	res, err := l.runNode(ctx, conn, plan.Node, plan.Root, nil)
	if err != nil {
		return nil, err
	}
	if err := l.loadBranches(ctx, conn, plan.Node, res.order); err != nil {
		return nil, err
	}
	l.log.DebugContext(ctx, "plan loaded", "model", plan.Model.Name(), "instances", len(res.order))
	return res.order, nil
}

// nodeResult is the hydrated result set of one node: the deduplicated
// instances in first-appearance order, and for child nodes the group key
// aligned with each instance.
type nodeResult struct {
	order []*Instance
	keys  []any
}

// joinPath is one join-folded branch of a node, resolved against the
// schema with its scan column indexes.
type joinPath struct {
	path  []string
	assoc *schema.Association
	cols  []int
	pkIdx int
}

func joinPaths(n *compiler.Node) []joinPath {
	var paths []joinPath
	index := make(map[string]int)
	for i, sc := range n.Scan {
		if len(sc.Path) == 0 {
			continue
		}
		key := strings.Join(sc.Path, ".")
		at, ok := index[key]
		if !ok {
			at = len(paths)
			index[key] = at
			paths = append(paths, joinPath{path: sc.Path, assoc: assocAt(n.Model, sc.Path), pkIdx: -1})
		}
		paths[at].cols = append(paths[at].cols, i)
		if sc.Column == paths[at].assoc.Target.ID() {
			paths[at].pkIdx = i
		}
	}
	return paths
}

func assocAt(model *schema.ModelDefinition, path []string) *schema.Association {
	var a *schema.Association
	m := model
	for _, alias := range path {
		a = m.Association(alias)
		m = a.Target
	}
	return a
}

// runNode executes one statement and hydrates its rows, folding joined
// branches into the instance graph. br is nil for the root node.
func (l *Loader) runNode(ctx context.Context, conn dialect.ExecQuerier, n *compiler.Node, stmt compiler.Stmt, br *compiler.Branch) (*nodeResult, error) {
	var rows sqlx.Rows
	if err := conn.Query(ctx, stmt.SQL, stmt.Args, &rows); err != nil {
		return nil, fmt.Errorf("karst: load %s: %w", n.Model.Name(), err)
	}
	defer rows.Close()

	extra := 0
	if br != nil {
		extra = br.ExtraColumns()
	}
	total := len(n.Scan) + extra
	paths := joinPaths(n)

	type ownerKey struct {
		owner *Instance
		alias string
		id    any
	}
	type childRow struct {
		group any
		id    any
	}
	res := &nodeResult{}
	own := make(map[any]*Instance)
	grouped := make(map[childRow]*Instance)
	joined := make(map[ownerKey]*Instance)

	for rows.Next() {
		vals := make([]any, total)
		dests := make([]any, total)
		for i := range dests {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("karst: scan %s: %w", n.Model.Name(), err)
		}

		base := make(schema.Values)
		for i, sc := range n.Scan {
			if len(sc.Path) == 0 {
				base[sc.Column] = decode(sc.Attr, vals[i])
			}
		}
		id := keyValue(base[n.Model.ID()])

		var inst *Instance
		if br == nil {
			if exist, ok := own[id]; ok {
				inst = exist
			} else {
				inst = loadedInstance(n.Model, base)
				own[id] = inst
				res.order = append(res.order, inst)
			}
		} else {
			group := keyValue(vals[br.GroupKeyIndex()])
			ck := childRow{group: group, id: id}
			if exist, ok := grouped[ck]; ok {
				inst = exist
			} else {
				inst = loadedInstance(n.Model, base)
				grouped[ck] = inst
				res.order = append(res.order, inst)
				res.keys = append(res.keys, group)
			}
		}

		// Attach join-folded instances along each alias chain. Paths are
		// ordered parents-first, so holders of shorter chains exist by
		// the time longer chains need them.
		holders := map[string]*Instance{"": inst}
		for _, jp := range paths {
			parent := holders[strings.Join(jp.path[:len(jp.path)-1], ".")]
			if parent == nil {
				continue
			}
			alias := jp.assoc.Alias
			if jp.assoc.ToMany() {
				ensureManyLoaded(parent, alias)
			}
			childID := keyValue(vals[jp.pkIdx])
			if childID == nil {
				if jp.assoc.ToOne() {
					ensureOneLoaded(parent, alias)
				}
				continue
			}
			ok := ownerKey{owner: parent, alias: alias, id: childID}
			if exist, found := joined[ok]; found {
				holders[strings.Join(jp.path, ".")] = exist
				continue
			}
			childVals := make(schema.Values)
			for _, i := range jp.cols {
				childVals[n.Scan[i].Column] = decode(n.Scan[i].Attr, vals[i])
			}
			child := loadedInstance(jp.assoc.Target, childVals)
			joined[ok] = child
			if jp.assoc.ToOne() {
				parent.setAssoc(alias, child)
			} else {
				parent.appendAssoc(alias, child)
			}
			holders[strings.Join(jp.path, ".")] = child
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("karst: load %s: %w", n.Model.Name(), err)
	}
	return res, nil
}

// loadBranches runs the separate-query branches of a node against the
// hydrated owners. Branches run sequentially unless concurrent loading
// was opted into.
func (l *Loader) loadBranches(ctx context.Context, conn dialect.ExecQuerier, n *compiler.Node, owners []*Instance) error {
	var separate []*compiler.Branch
	for _, br := range n.Branches {
		if !br.Join {
			separate = append(separate, br)
		}
	}
	if l.concurrent && len(separate) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for _, br := range separate {
			br := br
			g.Go(func() error { return l.loadBranch(gctx, conn, br, owners) })
		}
		return g.Wait()
	}
	for _, br := range separate {
		if err := l.loadBranch(ctx, conn, br, owners); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadBranch(ctx context.Context, conn dialect.ExecQuerier, br *compiler.Branch, owners []*Instance) error {
	parents := collectAt(owners, br.OwnerPath)
	if len(parents) == 0 {
		return nil
	}
	alias := br.Assoc.Alias
	toOne := br.Assoc.ToOne()
	for _, p := range parents {
		if toOne {
			ensureOneLoaded(p, alias)
		} else {
			p.setAssoc(alias, []*Instance{})
		}
	}

	// One batched query for the whole parent set, never one per row.
	var keys []any
	seen := make(map[any]bool)
	for _, p := range parents {
		k := keyValue(p.Get(br.ParentKey))
		if k == nil || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}

	res, err := l.runNode(ctx, conn, br.Child, br.ChildStmt(keys), br)
	if err != nil {
		return err
	}
	if err := l.loadBranches(ctx, conn, br.Child, res.order); err != nil {
		return err
	}

	groups := make(map[any][]*Instance)
	for i, child := range res.order {
		groups[res.keys[i]] = append(groups[res.keys[i]], child)
	}
	for _, p := range parents {
		children := groups[keyValue(p.Get(br.ParentKey))]
		if toOne {
			if len(children) > 0 {
				p.setAssoc(alias, children[0])
			}
			continue
		}
		p.setAssoc(alias, append([]*Instance{}, children...))
	}
	return nil
}

// collectAt walks the alias chain from the owners and returns the
// instances found at its end.
func collectAt(owners []*Instance, path []string) []*Instance {
	current := owners
	for _, alias := range path {
		var next []*Instance
		for _, in := range current {
			v, ok := in.Assoc(alias)
			if !ok {
				continue
			}
			switch t := v.(type) {
			case *Instance:
				if t != nil {
					next = append(next, t)
				}
			case []*Instance:
				next = append(next, t...)
			}
		}
		current = next
	}
	return current
}

func ensureOneLoaded(in *Instance, alias string) {
	if _, ok := in.Assoc(alias); !ok {
		in.setAssoc(alias, (*Instance)(nil))
	}
}

func ensureManyLoaded(in *Instance, alias string) {
	if _, ok := in.Assoc(alias); !ok {
		in.setAssoc(alias, []*Instance{})
	}
}

func loadedInstance(model *schema.ModelDefinition, vals schema.Values) *Instance {
	in := NewInstance(model, vals)
	in.syncOriginal()
	return in
}

// decode converts a raw driver value to the attribute's declared type and
// applies the load transform. Drivers disagree on wire types: SQLite
// returns int64 for booleans and []byte for text, so hydration normalizes
// before anything else sees the value.
func decode(attr *field.Descriptor, v any) any {
	if v == nil {
		return nil
	}
	switch attr.Info {
	case field.TypeString:
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
	case field.TypeBool:
		if n, ok := asInt64(v); ok {
			v = n != 0
		}
	case field.TypeInt, field.TypeInt64:
		if n, ok := asInt64(v); ok {
			v = n
		}
	case field.TypeFloat64:
		switch f := v.(type) {
		case float32:
			v = float64(f)
		case int64:
			v = float64(f)
		}
	case field.TypeTime:
		if b, ok := v.([]byte); ok {
			if ts, err := time.Parse(time.RFC3339Nano, string(b)); err == nil {
				v = ts
			}
		}
	}
	if attr.OnLoad != nil {
		v = attr.OnLoad(v)
	}
	return v
}

// keyValue normalizes a value used as a map key or batch parameter, so
// parent and child key columns compare equal across driver wire types.
func keyValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case int, int32:
		n, _ := asInt64(t)
		return n
	default:
		return v
	}
}
