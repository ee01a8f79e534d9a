// Package migrate derives schema-mutation descriptors from a sealed
// registry. The descriptors are consumed by an external migration
// runner; nothing in this package executes DDL.
package migrate

import (
	"fmt"
	"slices"

	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/schema/edge"
	"github.com/karstdb/karst/schema/field"
)

// Mutation is one schema change descriptor.
type Mutation interface {
	// Table returns the table the mutation applies to.
	Table() string
}

// Column describes one table column.
type Column struct {
	Name     string
	Type     field.Type
	Nullable bool
	Unique   bool
	Default  any
}

// CreateTable creates a table with its columns and primary key.
type CreateTable struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// Table implements Mutation.
func (m *CreateTable) Table() string { return m.Name }

// AddColumn adds a column to an existing table.
type AddColumn struct {
	TableName string
	Column    Column
}

// Table implements Mutation.
func (m *AddColumn) Table() string { return m.TableName }

// AddIndex adds an index over the given columns.
type AddIndex struct {
	TableName string
	Name      string
	Columns   []string
	Unique    bool
}

// Table implements Mutation.
func (m *AddIndex) Table() string { return m.TableName }

// AddConstraint adds a foreign-key constraint.
type AddConstraint struct {
	TableName  string
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Table implements Mutation.
func (m *AddConstraint) Table() string { return m.TableName }

// Plan derives the full mutation set for an empty store: one CreateTable
// per model in registration order, unique indexes for unique attributes,
// and foreign-key constraints for every association edge. Inverse edges
// over the same key columns collapse into one constraint.
func Plan(reg *schema.Registry) []Mutation {
	var out []Mutation
	for _, model := range reg.Models() {
		out = append(out, createTable(model))
		for _, attr := range model.Attributes() {
			if attr.Unique {
				out = append(out, &AddIndex{
					TableName: model.Table(),
					Name:      fmt.Sprintf("idx_%s_%s", model.Table(), attr.Name),
					Columns:   []string{attr.Name},
					Unique:    true,
				})
			}
		}
	}
	out = append(out, constraints(reg)...)
	return out
}

// Diff derives the mutations bringing an existing store up to the
// registry: missing tables are created, missing columns of known tables
// are added. have maps table names to their existing column names.
func Diff(reg *schema.Registry, have map[string][]string) []Mutation {
	var out []Mutation
	for _, model := range reg.Models() {
		cols, ok := have[model.Table()]
		if !ok {
			out = append(out, createTable(model))
			continue
		}
		for _, attr := range model.Attributes() {
			if !slices.Contains(cols, attr.Name) {
				out = append(out, &AddColumn{
					TableName: model.Table(),
					Column:    column(attr),
				})
			}
		}
	}
	return out
}

func createTable(model *schema.ModelDefinition) *CreateTable {
	ct := &CreateTable{
		Name:       model.Table(),
		PrimaryKey: slices.Clone(model.PrimaryKey()),
	}
	for _, attr := range model.Attributes() {
		ct.Columns = append(ct.Columns, column(attr))
	}
	return ct
}

func column(attr *field.Descriptor) Column {
	var def any
	if v, ok := attr.DefaultValue(); ok {
		def = v
	}
	return Column{
		Name:     attr.Name,
		Type:     attr.Info,
		Nullable: attr.Nillable,
		Unique:   attr.Unique,
		Default:  def,
	}
}

func constraints(reg *schema.Registry) []Mutation {
	type ref struct {
		table, column string
	}
	seen := make(map[ref]bool)
	var out []Mutation
	add := func(table, col, refTable, refCol string) {
		key := ref{table: table, column: col}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, &AddConstraint{
			TableName:  table,
			Name:       fmt.Sprintf("fk_%s_%s", table, col),
			Columns:    []string{col},
			RefTable:   refTable,
			RefColumns: []string{refCol},
		})
	}
	for _, model := range reg.Models() {
		for _, assoc := range model.Associations() {
			switch assoc.Kind {
			case edge.BelongsTo:
				add(assoc.Source.Table(), assoc.ForeignKey, assoc.Target.Table(), assoc.References)
			case edge.ManyToMany:
				add(assoc.Through.Table(), assoc.SourceKey, assoc.Source.Table(), assoc.Source.ID())
				add(assoc.Through.Table(), assoc.TargetKey, assoc.Target.Table(), assoc.Target.ID())
			default:
				add(assoc.Target.Table(), assoc.ForeignKey, assoc.Source.Table(), assoc.References)
			}
		}
	}
	return out
}
