package sql

import (
	"strconv"
	"strings"

	"github.com/karstdb/karst/dialect"
)

// Builder is a minimal SQL text builder with dialect-aware identifier
// quoting and parameter placeholders. Arguments are collected in the order
// their placeholders are written, which keeps rendered statements
// deterministic for identical inputs.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// NewBuilder returns a builder for the given dialect.
func NewBuilder(d string) *Builder {
	return &Builder{dialect: d}
}

// Dialect returns the builder dialect.
func (b *Builder) Dialect() string { return b.dialect }

// Quote returns the identifier quoted for the dialect.
func (b *Builder) Quote(ident string) string {
	switch b.dialect {
	case dialect.MySQL:
		return "`" + ident + "`"
	default:
		return `"` + ident + `"`
	}
}

// Ident writes a quoted identifier.
func (b *Builder) Ident(name string) *Builder {
	b.sb.WriteString(b.Quote(name))
	return b
}

// Column writes a table-qualified, quoted column reference.
func (b *Builder) Column(table, column string) *Builder {
	b.sb.WriteString(b.Quote(table))
	b.sb.WriteByte('.')
	b.sb.WriteString(b.Quote(column))
	return b
}

// S writes a raw SQL fragment.
func (b *Builder) S(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg writes a placeholder and records its argument.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteByte('$')
		b.sb.WriteString(strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// Args writes a comma-separated placeholder list for the values.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Join writes the fragments separated by sep.
func (b *Builder) Join(sep string, frags ...string) *Builder {
	for i, f := range frags {
		if i > 0 {
			b.sb.WriteString(sep)
		}
		b.sb.WriteString(f)
	}
	return b
}

// String returns the rendered SQL text.
func (b *Builder) String() string { return b.sb.String() }

// TakeArgs returns the collected arguments.
func (b *Builder) TakeArgs() []any { return b.args }

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return b.sb.Len() }
