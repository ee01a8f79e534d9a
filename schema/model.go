package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/karstdb/karst/schema/edge"
	"github.com/karstdb/karst/schema/field"
)

// Values is an attribute-name to value mapping used by model-level
// validators and the persistence pipeline.
type Values map[string]any

// ModelValidator is a model-level validation rule run against the full
// attribute set of an instance.
type ModelValidator struct {
	Rule string
	Fn   func(Values) error
}

// ModelDefinition describes one model: its ordered attributes, primary key,
// optional version column, and associations. Definitions are immutable once
// the owning registry is sealed.
type ModelDefinition struct {
	name       string
	table      string
	attrs      []*field.Descriptor
	attrIndex  map[string]int
	pk         []string
	version    string
	validators []ModelValidator
	assocs     map[string]*Association
	aliases    []string // alias definition order
}

// ModelOption configures a model definition.
type ModelOption func(*ModelDefinition)

// Table overrides the derived table name.
func Table(name string) ModelOption {
	return func(m *ModelDefinition) { m.table = name }
}

// PrimaryKey sets the primary-key attributes. Defaults to "id" when the
// model defines an attribute with that name.
func PrimaryKey(attrs ...string) ModelOption {
	return func(m *ModelDefinition) { m.pk = attrs }
}

// VersionColumn enables optimistic concurrency on the named attribute.
// Every update increments it and guards on the previously read value.
func VersionColumn(attr string) ModelOption {
	return func(m *ModelDefinition) { m.version = attr }
}

// Validate adds a model-level validation rule.
func Validate(rule string, fn func(Values) error) ModelOption {
	return func(m *ModelDefinition) {
		m.validators = append(m.validators, ModelValidator{Rule: rule, Fn: fn})
	}
}

// New builds a model definition from attribute builders. The table name is
// derived from the model name (underscored and pluralized) unless
// overridden with Table.
func New(name string, attrs []*field.Descriptor, opts ...ModelOption) *ModelDefinition {
	m := &ModelDefinition{
		name:      name,
		table:     inflect.Pluralize(inflect.Underscore(name)),
		attrs:     attrs,
		attrIndex: make(map[string]int, len(attrs)),
		assocs:    make(map[string]*Association),
	}
	for i, a := range attrs {
		m.attrIndex[a.Name] = i
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.pk) == 0 {
		if _, ok := m.attrIndex["id"]; ok {
			m.pk = []string{"id"}
		}
	}
	return m
}

// Name returns the model name.
func (m *ModelDefinition) Name() string { return m.name }

// Table returns the table name.
func (m *ModelDefinition) Table() string { return m.table }

// Attributes returns the ordered attribute descriptors.
func (m *ModelDefinition) Attributes() []*field.Descriptor { return m.attrs }

// Attribute returns the descriptor for the named attribute, or nil.
func (m *ModelDefinition) Attribute(name string) *field.Descriptor {
	i, ok := m.attrIndex[name]
	if !ok {
		return nil
	}
	return m.attrs[i]
}

// HasAttribute reports whether the model defines the named attribute.
func (m *ModelDefinition) HasAttribute(name string) bool {
	_, ok := m.attrIndex[name]
	return ok
}

// Columns returns the attribute names in definition order.
func (m *ModelDefinition) Columns() []string {
	cols := make([]string, len(m.attrs))
	for i, a := range m.attrs {
		cols[i] = a.Name
	}
	return cols
}

// PrimaryKey returns the primary-key attribute names.
func (m *ModelDefinition) PrimaryKey() []string { return m.pk }

// ID returns the single primary-key attribute name. It panics on composite
// keys; callers supporting composite keys use PrimaryKey.
func (m *ModelDefinition) ID() string {
	if len(m.pk) != 1 {
		panic(fmt.Sprintf("schema: model %q has %d primary-key attributes", m.name, len(m.pk)))
	}
	return m.pk[0]
}

// VersionAttribute returns the optimistic-lock attribute name, or "" when
// versioning is disabled for the model.
func (m *ModelDefinition) VersionAttribute() string { return m.version }

// Validators returns the model-level validation rules.
func (m *ModelDefinition) Validators() []ModelValidator { return m.validators }

// Association returns the association registered under alias, or nil.
func (m *ModelDefinition) Association(alias string) *Association {
	return m.assocs[alias]
}

// Associations returns the model's associations in definition order.
func (m *ModelDefinition) Associations() []*Association {
	out := make([]*Association, len(m.aliases))
	for i, alias := range m.aliases {
		out[i] = m.assocs[alias]
	}
	return out
}

// Association is a resolved edge between two registered models.
type Association struct {
	Alias      string
	Kind       edge.Kind
	Source     *ModelDefinition
	Target     *ModelDefinition
	ForeignKey string           // on Target for O2O/O2M, on Source for BelongsTo
	References string           // parent key column
	Through    *ModelDefinition // junction model for M2M
	SourceKey  string           // junction column referencing Source (M2M)
	TargetKey  string           // junction column referencing Target (M2M)
}

// ToOne reports whether the association resolves to at most one target row.
func (a *Association) ToOne() bool { return a.Kind.ToOne() }

// ToMany reports whether the association resolves to a collection.
func (a *Association) ToMany() bool { return a.Kind.ToMany() }

// OwnerKey returns the column on the owning (parent) side that child rows
// reference: References for O2O/O2M/M2M, the source FK for BelongsTo.
func (a *Association) OwnerKey() string {
	if a.Kind == edge.BelongsTo {
		return a.ForeignKey
	}
	return a.References
}
