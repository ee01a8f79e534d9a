// Package edge provides builders for association descriptors.
//
// An association is a named, typed relationship between two registered
// models. Descriptors built here are plain data; the schema registry
// resolves and validates them at definition time.
package edge

// Kind is the cardinality of an association.
type Kind int

// Association kinds.
const (
	// OneToOne links a single source row to a single target row through
	// a foreign key on the target.
	OneToOne Kind = iota
	// OneToMany links a single source row to many target rows through a
	// foreign key on the target.
	OneToMany
	// ManyToMany links rows through a junction model.
	ManyToMany
	// BelongsTo is the inverse to-one direction: the foreign key lives
	// on the source model.
	BelongsTo
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case OneToOne:
		return "O2O"
	case OneToMany:
		return "O2M"
	case ManyToMany:
		return "M2M"
	case BelongsTo:
		return "M2O"
	default:
		return "unknown"
	}
}

// ToOne reports whether the kind resolves to at most one target row.
func (k Kind) ToOne() bool { return k == OneToOne || k == BelongsTo }

// ToMany reports whether the kind resolves to a collection of target rows.
func (k Kind) ToMany() bool { return !k.ToOne() }

// A Descriptor for association configuration.
type Descriptor struct {
	Alias      string // alias, unique per source model
	Target     string // target model name
	Kind       Kind
	ForeignKey string // FK column; on target for O2O/O2M, on source for BelongsTo
	References string // referenced key column, defaults to the parent primary key
	Through    string // junction model name for M2M
	SourceKey  string // junction column referencing the source (M2M)
	TargetKey  string // junction column referencing the target (M2M)
	Comment    string
}

// Builder constructs an association descriptor.
type Builder struct {
	desc *Descriptor
}

// HasOne returns a builder for a one-to-one association to target.
func HasOne(alias, target string) Builder {
	return Builder{&Descriptor{Alias: alias, Target: target, Kind: OneToOne}}
}

// HasMany returns a builder for a one-to-many association to target.
func HasMany(alias, target string) Builder {
	return Builder{&Descriptor{Alias: alias, Target: target, Kind: OneToMany}}
}

// BelongsToModel returns a builder for the inverse to-one direction, where
// the foreign key lives on the source model.
func BelongsToModel(alias, target string) Builder {
	return Builder{&Descriptor{Alias: alias, Target: target, Kind: BelongsTo}}
}

// ManyToManyThrough returns a builder for a many-to-many association
// resolved through the named junction model.
func ManyToManyThrough(alias, target, through string) Builder {
	return Builder{&Descriptor{Alias: alias, Target: target, Kind: ManyToMany, Through: through}}
}

// ForeignKey sets the foreign-key column.
func (b Builder) ForeignKey(col string) Builder { b.desc.ForeignKey = col; return b }

// References sets the referenced key column on the parent side.
func (b Builder) References(col string) Builder { b.desc.References = col; return b }

// JunctionKeys sets the junction columns for a many-to-many association.
func (b Builder) JunctionKeys(sourceKey, targetKey string) Builder {
	b.desc.SourceKey = sourceKey
	b.desc.TargetKey = targetKey
	return b
}

// Comment sets the association comment.
func (b Builder) Comment(c string) Builder { b.desc.Comment = c; return b }

// Descriptor returns the underlying descriptor.
func (b Builder) Descriptor() *Descriptor { return b.desc }
