package compiler

import (
	"strconv"

	sqlx "github.com/karstdb/karst/dialect/sql"
	"github.com/karstdb/karst/query"
	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/schema/edge"
	"github.com/karstdb/karst/schema/field"
)

// Stmt is a rendered SQL statement with its ordered parameters.
type Stmt struct {
	SQL  string
	Args []any
}

// ScanColumn describes one selected column of a node's result rows, in
// scan order. Path locates the owning instance inside the hydrated graph:
// empty for the node's own model, or the alias chain of join-strategy
// branches.
type ScanColumn struct {
	Path   []string
	Table  string // table alias in the rendered SQL
	Column string
	Attr   *field.Descriptor
}

// joinEdge is a join-strategy branch folded into its owner's SQL.
type joinEdge struct {
	assoc       *schema.Association
	parentAlias string
	alias       string
	path        []string
	where       *query.Predicate // restriction rendered into the ON clause
}

// Node is the compiled form of one query nesting level: the root level of
// a plan, or the child level of a separate-query branch. Join-strategy
// branches are folded into their owner node's SQL and scan layout.
type Node struct {
	Model   *schema.ModelDefinition
	Dialect string
	Columns []string // selected columns of the node's own model
	Scan    []ScanColumn
	Where   *query.Predicate
	Order   []query.Order
	GroupBy []string
	Having  *query.Predicate
	Limit   *int
	Offset  *int

	joins    []joinEdge
	Branches []*Branch
}

// Branch is one requested association at a nesting level. Join branches
// hydrate from their owner's rows; separate branches carry a child Node
// whose SQL is completed at load time with the batched parent-key filter.
type Branch struct {
	Assoc *schema.Association
	// OwnerPath is the alias chain locating the parent instances within
	// the owning node's graph. Empty for the node's own instances.
	OwnerPath []string
	Join      bool
	Child     *Node // separate-query branches only
	// ParentKey is the column collected from parent instances to form
	// the batch. ChildKey is the column on child rows used to group and
	// assign them (unused for many-to-many, where the junction source
	// key is selected alongside the child columns).
	ParentKey string
	ChildKey  string
	// Paged marks a to-many branch with limit or offset. Its child SQL
	// is wrapped in a ROW_NUMBER window partitioned by the group key so
	// paging applies per parent rather than per batch.
	Paged bool
}

// Plan is the compiled execution plan: the root statement plus the nested
// branch specifications. Plans are immutable and safe for concurrent use.
type Plan struct {
	Model *schema.ModelDefinition
	Root  Stmt
	Node  *Node
}

// rowNumberAlias is the synthetic column appended by paged child queries.
const rowNumberAlias = "row_number"

// ChildStmt renders the branch's child statement for the given batch of
// parent keys. Identical branches and keys always render identical SQL
// and parameter order.
func (br *Branch) ChildStmt(keys []any) Stmt {
	n := br.Child
	b := sqlx.NewBuilder(n.Dialect)
	if br.Paged {
		return br.pagedChildStmt(keys)
	}
	writeSelectList(b, n, br, false)
	writeFrom(b, n, br)
	writeWhere(b, n, br, keys)
	writeTail(b, n)
	return Stmt{SQL: b.String(), Args: b.TakeArgs()}
}

// pagedChildStmt wraps the child query in a ROW_NUMBER window so limit and
// offset apply per parent key. Inner columns are aliased c0..cN to keep
// the derived table unambiguous for every dialect.
func (br *Branch) pagedChildStmt(keys []any) Stmt {
	n := br.Child
	b := sqlx.NewBuilder(n.Dialect)
	b.S("SELECT * FROM (")
	writeSelectList(b, n, br, true)
	b.S(", ROW_NUMBER() OVER (PARTITION BY ")
	writePartitionKey(b, br)
	b.S(" ORDER BY ")
	if len(n.Order) > 0 {
		writeOrderTerms(b, n)
	} else {
		// Stable fallback ordering on the child primary key.
		b.Column("t0", n.Model.ID())
	}
	b.S(") AS ").Ident(rowNumberAlias)
	writeFrom(b, n, br)
	writeWhere(b, n, br, keys)
	b.S(") AS ").Ident("t")
	b.S(" WHERE ")
	switch {
	case n.Offset != nil && n.Limit != nil:
		b.Column("t", rowNumberAlias).S(" > ").Arg(*n.Offset)
		b.S(" AND ").Column("t", rowNumberAlias).S(" <= ").Arg(*n.Offset + *n.Limit)
	case n.Limit != nil:
		b.Column("t", rowNumberAlias).S(" <= ").Arg(*n.Limit)
	default:
		b.Column("t", rowNumberAlias).S(" > ").Arg(*n.Offset)
	}
	b.S(" ORDER BY ").Column("t", rowNumberAlias)
	return Stmt{SQL: b.String(), Args: b.TakeArgs()}
}

// GroupKeyIndex returns the scan index of the column child rows are
// grouped by: the child key for plain branches, or the junction source key
// appended after the scan columns for many-to-many branches.
func (br *Branch) GroupKeyIndex() int {
	if br.Assoc.Kind == edge.ManyToMany {
		return len(br.Child.Scan)
	}
	for i, sc := range br.Child.Scan {
		if len(sc.Path) == 0 && sc.Column == br.ChildKey {
			return i
		}
	}
	return -1
}

// ExtraColumns reports how many synthetic columns follow the scan columns
// in the child result set: the junction parent reference for many-to-many,
// and the row-number column for paged branches.
func (br *Branch) ExtraColumns() int {
	extra := 0
	if br.Assoc.Kind == edge.ManyToMany {
		extra++
	}
	if br.Paged {
		extra++
	}
	return extra
}

// renderRoot renders a node as a complete root statement.
func renderRoot(n *Node) Stmt {
	b := sqlx.NewBuilder(n.Dialect)
	writeSelectList(b, n, nil, false)
	writeFrom(b, n, nil)
	writeWhere(b, n, nil, nil)
	if len(n.GroupBy) > 0 {
		b.S(" GROUP BY ")
		for i, g := range n.GroupBy {
			if i > 0 {
				b.S(", ")
			}
			b.Column("t0", g)
		}
		if n.Having != nil {
			b.S(" HAVING ")
			writePredicate(b, "t0", n.Having)
		}
	}
	writeTail(b, n)
	return Stmt{SQL: b.String(), Args: b.TakeArgs()}
}

// writeSelectList writes the SELECT clause for the node's scan columns,
// plus the junction parent reference for many-to-many branches. When
// aliased is set, every column is renamed c0..cN.
func writeSelectList(b *sqlx.Builder, n *Node, br *Branch, aliased bool) {
	b.S("SELECT ")
	for i, sc := range n.Scan {
		if i > 0 {
			b.S(", ")
		}
		b.Column(sc.Table, sc.Column)
		if aliased {
			b.S(" AS ").Ident("c" + strconv.Itoa(i))
		} else if len(sc.Path) > 0 {
			b.S(" AS ").Ident(scanAlias(sc))
		}
	}
	if br != nil && br.Assoc.Kind == edge.ManyToMany {
		b.S(", ").Column("jt", br.Assoc.SourceKey)
		if aliased {
			b.S(" AS ").Ident("c" + strconv.Itoa(len(n.Scan)))
		}
	}
}

// writeFrom writes the FROM clause with the junction join (many-to-many
// branches) and any folded join-strategy branches.
func writeFrom(b *sqlx.Builder, n *Node, br *Branch) {
	b.S(" FROM ").Ident(n.Model.Table()).S(" AS ").Ident("t0")
	if br != nil && br.Assoc.Kind == edge.ManyToMany {
		b.S(" JOIN ").Ident(br.Assoc.Through.Table()).S(" AS ").Ident("jt")
		b.S(" ON ").Column("t0", br.Assoc.Target.ID()).S(" = ").Column("jt", br.Assoc.TargetKey)
	}
	for _, j := range n.joins {
		b.S(" LEFT JOIN ").Ident(j.assoc.Target.Table()).S(" AS ").Ident(j.alias)
		b.S(" ON ")
		if j.assoc.Kind == edge.BelongsTo {
			b.Column(j.alias, j.assoc.References).S(" = ").Column(j.parentAlias, j.assoc.ForeignKey)
		} else {
			b.Column(j.alias, j.assoc.ForeignKey).S(" = ").Column(j.parentAlias, j.assoc.References)
		}
		if j.where != nil {
			b.S(" AND ")
			writePredicate(b, j.alias, j.where)
		}
	}
}

// writeWhere writes the WHERE clause combining the node restriction with
// the batched parent-key filter, each part parenthesized.
func writeWhere(b *sqlx.Builder, n *Node, br *Branch, keys []any) {
	hasFilter := br != nil && keys != nil
	if n.Where == nil && !hasFilter {
		return
	}
	b.S(" WHERE ")
	if n.Where != nil {
		writePredicate(b, "t0", n.Where)
		if hasFilter {
			b.S(" AND ")
		}
	}
	if hasFilter {
		if br.Assoc.Kind == edge.ManyToMany {
			b.Column("jt", br.Assoc.SourceKey)
		} else {
			b.Column("t0", br.ChildKey)
		}
		b.S(" IN (").Args(keys...).S(")")
	}
}

// writeTail writes ORDER BY, LIMIT and OFFSET.
func writeTail(b *sqlx.Builder, n *Node) {
	if len(n.Order) > 0 {
		b.S(" ORDER BY ")
		writeOrderTerms(b, n)
	}
	if n.Limit != nil {
		b.S(" LIMIT ").Arg(*n.Limit)
	}
	if n.Offset != nil {
		b.S(" OFFSET ").Arg(*n.Offset)
	}
}

func writeOrderTerms(b *sqlx.Builder, n *Node) {
	for i, o := range n.Order {
		if i > 0 {
			b.S(", ")
		}
		b.Column("t0", o.Field)
		if o.Desc {
			b.S(" DESC")
		}
	}
}

func writePartitionKey(b *sqlx.Builder, br *Branch) {
	if br.Assoc.Kind == edge.ManyToMany {
		b.Column("jt", br.Assoc.SourceKey)
	} else {
		b.Column("t0", br.ChildKey)
	}
}

// scanAlias names a joined column in the rendered SQL. Scanning is
// positional; the alias only aids debugging of emitted statements.
func scanAlias(sc ScanColumn) string {
	alias := ""
	for _, p := range sc.Path {
		alias += p + "__"
	}
	return alias + sc.Column
}
