// Package compiler lowers query descriptors into parameterized SQL plans.
//
// Compilation is pure and deterministic: identical descriptors always
// produce identical SQL text and parameter ordering, which makes compiled
// plans safe to cache and share. Malformed descriptors are rejected before
// any SQL is constructed.
package compiler

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/karstdb/karst/dialect"
	sqlx "github.com/karstdb/karst/dialect/sql"
	"github.com/karstdb/karst/query"
	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/schema/edge"
)

// Compile turns a query descriptor into an execution plan: the root
// statement plus nested branch specifications for every included
// association. The include strategy is chosen per branch: a SQL join for
// to-one associations without nested paging, a batched separate query
// otherwise. Joining two or more to-many associations at one level would
// produce a Cartesian product of matching rows per parent, so the
// compiler refuses that shape.
func Compile(reg *schema.Registry, dialect string, desc *query.Descriptor) (*Plan, error) {
	model, err := reg.Model(desc.Model)
	if err != nil {
		return nil, &CompileError{Model: desc.Model, Err: err}
	}
	node, err := compileNode(dialect, model, nodeInput{
		columns:  desc.Columns,
		where:    desc.Where,
		order:    desc.Order,
		limit:    desc.Limit,
		offset:   desc.Offset,
		groupBy:  desc.GroupBy,
		having:   desc.Having,
		includes: desc.Includes,
		root:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Plan{Model: model, Node: node, Root: renderRoot(node)}, nil
}

type nodeInput struct {
	columns  []string
	where    *query.Predicate
	order    []query.Order
	limit    *int
	offset   *int
	groupBy  []string
	having   *query.Predicate
	includes []query.Include
	root     bool
}

func compileNode(dialect string, model *schema.ModelDefinition, in nodeInput) (*Node, error) {
	n := &Node{
		Model:   model,
		Dialect: dialect,
		Where:   in.where,
		Order:   in.order,
		GroupBy: in.groupBy,
		Having:  in.having,
		Limit:   in.limit,
		Offset:  in.offset,
	}
	columns := in.columns
	if len(columns) == 0 {
		columns = model.Columns()
	} else {
		for _, c := range columns {
			if !model.HasAttribute(c) {
				return nil, &CompileError{Model: model.Name(), Msg: fmt.Sprintf("invalid projection column %q", c)}
			}
		}
		columns = slices.Clone(columns)
	}
	if err := validatePredicate(model, in.where); err != nil {
		return nil, err
	}
	if err := validatePredicate(model, in.having); err != nil {
		return nil, err
	}
	for _, o := range in.order {
		if !model.HasAttribute(o.Field) {
			return nil, &CompileError{Model: model.Name(), Msg: fmt.Sprintf("invalid order column %q", o.Field)}
		}
	}
	for _, g := range in.groupBy {
		if !model.HasAttribute(g) {
			return nil, &CompileError{Model: model.Name(), Msg: fmt.Sprintf("invalid group column %q", g)}
		}
	}

	// Resolve include strategies for this level before any SQL shape is
	// fixed. At most one to-many branch may be joined per level, and only
	// when forced: the automatic choice always batches to-many branches.
	aliasSeq := 1
	var walk func(parentAlias string, parentModel *schema.ModelDefinition, ownerPath []string, includes []query.Include) error
	walk = func(parentAlias string, parentModel *schema.ModelDefinition, ownerPath []string, includes []query.Include) error {
		joinedToMany := 0
		for _, inc := range includes {
			assoc := parentModel.Association(inc.Alias)
			if assoc == nil {
				return &schema.AssociationNotFoundError{Model: parentModel.Name(), Alias: inc.Alias}
			}
			paged := inc.Limit != nil || inc.Offset != nil || len(inc.Order) > 0
			join := false
			switch inc.Strategy {
			case query.StrategyAuto:
				join = assoc.ToOne() && !paged
			case query.StrategySeparate:
				join = false
			case query.StrategyJoin:
				switch {
				case assoc.Kind == edge.ManyToMany:
					return &UnsupportedPlanError{Alias: inc.Alias, Reason: "join through a junction model"}
				case paged:
					return &UnsupportedPlanError{Alias: inc.Alias, Reason: "limit, offset or order on a joined branch"}
				}
				if assoc.ToMany() {
					joinedToMany++
					if joinedToMany > 1 {
						return &UnsupportedPlanError{Alias: inc.Alias, Reason: "second to-many join at the same level"}
					}
				}
				join = true
			}
			path := append(slices.Clone(ownerPath), inc.Alias)
			if join {
				if err := validatePredicate(assoc.Target, inc.Where); err != nil {
					return err
				}
				alias := "t" + strconv.Itoa(aliasSeq)
				aliasSeq++
				n.joins = append(n.joins, joinEdge{
					assoc:       assoc,
					parentAlias: parentAlias,
					alias:       alias,
					path:        path,
					where:       inc.Where,
				})
				n.Branches = append(n.Branches, &Branch{
					Assoc:     assoc,
					OwnerPath: ownerPath,
					Join:      true,
				})
				// Nested includes of a joined branch fold into this
				// node's SQL (joins) or hang off it as separate
				// branches keyed by the joined instances.
				if err := walk(alias, assoc.Target, path, inc.Includes); err != nil {
					return err
				}
				continue
			}
			br, err := compileSeparate(dialect, assoc, ownerPath, inc)
			if err != nil {
				return err
			}
			n.Branches = append(n.Branches, br)
		}
		return nil
	}
	if err := walk("t0", model, nil, in.includes); err != nil {
		return nil, err
	}

	// The scan layout: the node's own columns first, then the folded join
	// branches in traversal order. The primary key and any parent-side
	// batch keys are appended when the projection leaves them out, since
	// hydration and child batching need them.
	need := slices.Clone(model.PrimaryKey())
	for _, br := range n.Branches {
		if !br.Join && len(br.OwnerPath) == 0 {
			need = append(need, br.ParentKey)
		}
	}
	for _, c := range need {
		if !slices.Contains(columns, c) {
			columns = append(columns, c)
		}
	}
	n.Columns = columns
	for _, c := range columns {
		n.Scan = append(n.Scan, ScanColumn{Table: "t0", Column: c, Attr: model.Attribute(c)})
	}
	for _, j := range n.joins {
		for _, c := range j.assoc.Target.Columns() {
			n.Scan = append(n.Scan, ScanColumn{
				Path:   j.path,
				Table:  j.alias,
				Column: c,
				Attr:   j.assoc.Target.Attribute(c),
			})
		}
	}
	return n, nil
}

// compileSeparate compiles one separate-query branch: a child node plus
// the key columns that tie child rows back to their parents. The child
// statement itself is completed at load time with the batched
// `WHERE key IN (...)` filter, one query per nesting level.
func compileSeparate(dialect string, assoc *schema.Association, ownerPath []string, inc query.Include) (*Branch, error) {
	if assoc.ToOne() && (inc.Limit != nil || inc.Offset != nil) {
		return nil, &CompileError{
			Model: assoc.Source.Name(),
			Msg:   fmt.Sprintf("limit or offset on to-one include %q", inc.Alias),
		}
	}
	br := &Branch{
		Assoc:     assoc,
		OwnerPath: slices.Clone(ownerPath),
		Paged:     assoc.ToMany() && (inc.Limit != nil || inc.Offset != nil),
	}
	switch assoc.Kind {
	case edge.BelongsTo:
		br.ParentKey = assoc.ForeignKey
		br.ChildKey = assoc.References
	case edge.ManyToMany:
		br.ParentKey = assoc.References
	default:
		br.ParentKey = assoc.References
		br.ChildKey = assoc.ForeignKey
	}
	if br.ChildKey != "" && !assoc.Target.HasAttribute(br.ChildKey) {
		return nil, &CompileError{
			Model: assoc.Target.Name(),
			Msg:   fmt.Sprintf("association %q foreign key %q is not an attribute of %s", inc.Alias, br.ChildKey, assoc.Target.Name()),
		}
	}
	if !assoc.Source.HasAttribute(br.ParentKey) {
		return nil, &CompileError{
			Model: assoc.Source.Name(),
			Msg:   fmt.Sprintf("association %q parent key %q is not an attribute of %s", inc.Alias, br.ParentKey, assoc.Source.Name()),
		}
	}
	child, err := compileNode(dialect, assoc.Target, nodeInput{
		where:    inc.Where,
		order:    inc.Order,
		limit:    inc.Limit,
		offset:   inc.Offset,
		includes: inc.Includes,
	})
	if err != nil {
		return nil, err
	}
	// Group key must be scanned for assignment.
	if br.ChildKey != "" && !slices.Contains(child.Columns, br.ChildKey) {
		child.Columns = append(child.Columns, br.ChildKey)
		child.Scan = append(child.Scan, ScanColumn{
			Table:  "t0",
			Column: br.ChildKey,
			Attr:   assoc.Target.Attribute(br.ChildKey),
		})
	}
	br.Child = child
	return br, nil
}

// validatePredicate checks every leaf of the tree against the model's
// attributes and the operator arities, before any SQL is constructed.
func validatePredicate(model *schema.ModelDefinition, p *query.Predicate) error {
	if p == nil {
		return nil
	}
	if !p.Leaf() {
		if p.Op == query.OpNot && len(p.Nodes) != 1 {
			return &CompileError{Model: model.Name(), Msg: "not combinator requires exactly one operand"}
		}
		if len(p.Nodes) == 0 {
			return &CompileError{Model: model.Name(), Msg: fmt.Sprintf("%s combinator has no operands", p.Op)}
		}
		for _, sub := range p.Nodes {
			if err := validatePredicate(model, sub); err != nil {
				return err
			}
		}
		return nil
	}
	if !model.HasAttribute(p.Field) {
		return &CompileError{Model: model.Name(), Msg: fmt.Sprintf("invalid predicate column %q", p.Field)}
	}
	switch p.Op {
	case query.OpIsNull, query.OpNotNull:
		if len(p.Values) != 0 {
			return &CompileError{Model: model.Name(), Msg: fmt.Sprintf("%s takes no operand", p.Op)}
		}
	case query.OpBetween:
		if len(p.Values) != 2 {
			return &CompileError{Model: model.Name(), Msg: "between requires exactly two operands"}
		}
	case query.OpIn, query.OpNotIn:
		// Empty lists render to constant truth values.
	default:
		if len(p.Values) != 1 {
			return &CompileError{Model: model.Name(), Msg: fmt.Sprintf("%s requires exactly one operand", p.Op)}
		}
	}
	return nil
}

// writePredicate renders a validated predicate tree. Combinators always
// wrap their children in explicit parentheses so the rendered SQL is
// unambiguous regardless of nesting depth.
func writePredicate(b *sqlx.Builder, tableAlias string, p *query.Predicate) {
	switch p.Op {
	case query.OpAnd, query.OpOr:
		sep := " AND "
		if p.Op == query.OpOr {
			sep = " OR "
		}
		b.S("(")
		for i, sub := range p.Nodes {
			if i > 0 {
				b.S(sep)
			}
			writePredicate(b, tableAlias, sub)
		}
		b.S(")")
	case query.OpNot:
		b.S("(NOT ")
		writePredicate(b, tableAlias, p.Nodes[0])
		b.S(")")
	case query.OpEQ:
		b.Column(tableAlias, p.Field).S(" = ").Arg(p.Values[0])
	case query.OpNEQ:
		b.Column(tableAlias, p.Field).S(" <> ").Arg(p.Values[0])
	case query.OpGT:
		b.Column(tableAlias, p.Field).S(" > ").Arg(p.Values[0])
	case query.OpGTE:
		b.Column(tableAlias, p.Field).S(" >= ").Arg(p.Values[0])
	case query.OpLT:
		b.Column(tableAlias, p.Field).S(" < ").Arg(p.Values[0])
	case query.OpLTE:
		b.Column(tableAlias, p.Field).S(" <= ").Arg(p.Values[0])
	case query.OpLike:
		b.Column(tableAlias, p.Field).S(" LIKE ").Arg(p.Values[0])
	case query.OpILike:
		if b.Dialect() == dialect.Postgres {
			b.Column(tableAlias, p.Field).S(" ILIKE ").Arg(p.Values[0])
		} else {
			b.S("LOWER(").Column(tableAlias, p.Field).S(") LIKE LOWER(").Arg(p.Values[0]).S(")")
		}
	case query.OpIn:
		if len(p.Values) == 0 {
			b.S("FALSE")
			return
		}
		b.Column(tableAlias, p.Field).S(" IN (").Args(p.Values...).S(")")
	case query.OpNotIn:
		if len(p.Values) == 0 {
			b.S("TRUE")
			return
		}
		b.Column(tableAlias, p.Field).S(" NOT IN (").Args(p.Values...).S(")")
	case query.OpIsNull:
		b.Column(tableAlias, p.Field).S(" IS NULL")
	case query.OpNotNull:
		b.Column(tableAlias, p.Field).S(" IS NOT NULL")
	case query.OpBetween:
		b.Column(tableAlias, p.Field).S(" BETWEEN ").Arg(p.Values[0]).S(" AND ").Arg(p.Values[1])
	}
}
