// Package query defines the structured, data-only representation of a
// query: predicate tree, include tree, projection, ordering, and paging.
// Descriptors carry no connection or schema state; the compiler package
// lowers them to SQL.
package query

// Op is a predicate-tree node operator.
type Op int

// Leaf comparison operators.
const (
	OpEQ Op = iota
	OpNEQ
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpLike
	OpILike
	OpIn
	OpNotIn
	OpIsNull
	OpNotNull
	OpBetween
	// Combinators. Rendered SQL always wraps their children in explicit
	// parentheses regardless of nesting depth.
	OpAnd
	OpOr
	OpNot
)

// String returns the operator name.
func (o Op) String() string {
	switch o {
	case OpEQ:
		return "eq"
	case OpNEQ:
		return "ne"
	case OpGT:
		return "gt"
	case OpGTE:
		return "gte"
	case OpLT:
		return "lt"
	case OpLTE:
		return "lte"
	case OpLike:
		return "like"
	case OpILike:
		return "ilike"
	case OpIn:
		return "in"
	case OpNotIn:
		return "notIn"
	case OpIsNull:
		return "isNull"
	case OpNotNull:
		return "notNull"
	case OpBetween:
		return "between"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	default:
		return "invalid"
	}
}

// Predicate is one node of a predicate tree: either a field comparison
// leaf, or a combinator over sub-trees.
type Predicate struct {
	Op     Op
	Field  string       `msgpack:",omitempty"`
	Values []any        `msgpack:",omitempty"`
	Nodes  []*Predicate `msgpack:",omitempty"`
}

// Leaf reports whether the node is a field comparison.
func (p *Predicate) Leaf() bool {
	return p.Op != OpAnd && p.Op != OpOr && p.Op != OpNot
}

// EQ returns a field = value predicate.
func EQ(field string, v any) *Predicate {
	return &Predicate{Op: OpEQ, Field: field, Values: []any{v}}
}

// NEQ returns a field <> value predicate.
func NEQ(field string, v any) *Predicate {
	return &Predicate{Op: OpNEQ, Field: field, Values: []any{v}}
}

// GT returns a field > value predicate.
func GT(field string, v any) *Predicate {
	return &Predicate{Op: OpGT, Field: field, Values: []any{v}}
}

// GTE returns a field >= value predicate.
func GTE(field string, v any) *Predicate {
	return &Predicate{Op: OpGTE, Field: field, Values: []any{v}}
}

// LT returns a field < value predicate.
func LT(field string, v any) *Predicate {
	return &Predicate{Op: OpLT, Field: field, Values: []any{v}}
}

// LTE returns a field <= value predicate.
func LTE(field string, v any) *Predicate {
	return &Predicate{Op: OpLTE, Field: field, Values: []any{v}}
}

// Like returns a case-sensitive pattern predicate.
func Like(field, pattern string) *Predicate {
	return &Predicate{Op: OpLike, Field: field, Values: []any{pattern}}
}

// ILike returns a case-insensitive pattern predicate.
func ILike(field, pattern string) *Predicate {
	return &Predicate{Op: OpILike, Field: field, Values: []any{pattern}}
}

// In returns a field IN (...) predicate.
func In(field string, vs ...any) *Predicate {
	return &Predicate{Op: OpIn, Field: field, Values: vs}
}

// NotIn returns a field NOT IN (...) predicate.
func NotIn(field string, vs ...any) *Predicate {
	return &Predicate{Op: OpNotIn, Field: field, Values: vs}
}

// IsNull returns a field IS NULL predicate.
func IsNull(field string) *Predicate {
	return &Predicate{Op: OpIsNull, Field: field}
}

// NotNull returns a field IS NOT NULL predicate.
func NotNull(field string) *Predicate {
	return &Predicate{Op: OpNotNull, Field: field}
}

// Between returns a field BETWEEN lo AND hi predicate.
func Between(field string, lo, hi any) *Predicate {
	return &Predicate{Op: OpBetween, Field: field, Values: []any{lo, hi}}
}

// And combines predicates with AND.
func And(ps ...*Predicate) *Predicate {
	return &Predicate{Op: OpAnd, Nodes: ps}
}

// Or combines predicates with OR.
func Or(ps ...*Predicate) *Predicate {
	return &Predicate{Op: OpOr, Nodes: ps}
}

// Not negates a predicate.
func Not(p *Predicate) *Predicate {
	return &Predicate{Op: OpNot, Nodes: []*Predicate{p}}
}

// Order is a single ordering term.
type Order struct {
	Field string
	Desc  bool
}

// Asc returns an ascending ordering term.
func Asc(field string) Order { return Order{Field: field} }

// Descending returns a descending ordering term.
func Descending(field string) Order { return Order{Field: field, Desc: true} }

// Strategy selects how an included association is satisfied.
type Strategy int

const (
	// StrategyAuto lets the compiler choose between join and separate
	// query based on cardinality and paging.
	StrategyAuto Strategy = iota
	// StrategyJoin forces a SQL join on the root query. Forcing a join
	// on a paged to-many branch is rejected with UnsupportedPlanError.
	StrategyJoin
	// StrategySeparate forces a batched separate query.
	StrategySeparate
)

// Include requests eager loading of one association, optionally restricted
// and nested.
type Include struct {
	Alias    string
	Strategy Strategy   `msgpack:",omitempty"`
	Where    *Predicate `msgpack:",omitempty"`
	Order    []Order    `msgpack:",omitempty"`
	Limit    *int       `msgpack:",omitempty"`
	Offset   *int       `msgpack:",omitempty"`
	Includes []Include  `msgpack:",omitempty"`
}

// Descriptor is a complete query description prior to compilation.
type Descriptor struct {
	Model    string
	Where    *Predicate `msgpack:",omitempty"`
	Columns  []string   `msgpack:",omitempty"` // projection; all model columns when empty
	Order    []Order    `msgpack:",omitempty"`
	Limit    *int       `msgpack:",omitempty"`
	Offset   *int       `msgpack:",omitempty"`
	GroupBy  []string   `msgpack:",omitempty"`
	Having   *Predicate `msgpack:",omitempty"`
	Includes []Include  `msgpack:",omitempty"`
}

// IntPtr is a convenience for literal limits and offsets in descriptors.
func IntPtr(i int) *int { return &i }
