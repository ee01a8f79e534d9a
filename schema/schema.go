// Package schema holds model definitions and the association graph.
//
// A Registry is populated at startup and sealed before serving queries.
// Sealed registries are immutable and safe for unsynchronized concurrent
// reads; registration itself is single-threaded, enforced by the seal
// boundary.
package schema

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/karstdb/karst/schema/edge"
)

// Registry holds the registered models and their association graph.
type Registry struct {
	models map[string]*ModelDefinition
	order  []string
	sealed bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*ModelDefinition)}
}

// Register adds a model definition. It fails with DuplicateModelError if
// the name is taken and RegistryFrozenError after sealing.
func (r *Registry) Register(def *ModelDefinition) error {
	if r.sealed {
		return &RegistryFrozenError{Op: "register " + def.Name()}
	}
	if _, ok := r.models[def.Name()]; ok {
		return &DuplicateModelError{Name: def.Name()}
	}
	r.models[def.Name()] = def
	r.order = append(r.order, def.Name())
	return nil
}

// MustRegister is like Register, but panics on error. Intended for static
// startup wiring.
func (r *Registry) MustRegister(def *ModelDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// DefineAssociation resolves an edge descriptor against the registry and
// attaches it to the source model. It fails with DuplicateAliasError on an
// alias collision for the same source, UnknownModelError if the target (or
// junction) model is unregistered, and RegistryFrozenError after sealing.
func (r *Registry) DefineAssociation(source string, b edge.Builder) error {
	desc := b.Descriptor()
	if r.sealed {
		return &RegistryFrozenError{Op: "define association " + desc.Alias}
	}
	src, ok := r.models[source]
	if !ok {
		return &UnknownModelError{Name: source}
	}
	dst, ok := r.models[desc.Target]
	if !ok {
		return &UnknownModelError{Name: desc.Target}
	}
	if _, ok := src.assocs[desc.Alias]; ok {
		return &DuplicateAliasError{Model: source, Alias: desc.Alias}
	}
	assoc := &Association{
		Alias:      desc.Alias,
		Kind:       desc.Kind,
		Source:     src,
		Target:     dst,
		ForeignKey: desc.ForeignKey,
		References: desc.References,
		SourceKey:  desc.SourceKey,
		TargetKey:  desc.TargetKey,
	}
	if desc.Kind == edge.ManyToMany {
		junction, ok := r.models[desc.Through]
		if !ok {
			return &UnknownModelError{Name: desc.Through}
		}
		assoc.Through = junction
		if assoc.SourceKey == "" {
			assoc.SourceKey = inflect.Underscore(src.Name()) + "_id"
		}
		if assoc.TargetKey == "" {
			assoc.TargetKey = inflect.Underscore(dst.Name()) + "_id"
		}
	}
	if assoc.ForeignKey == "" {
		switch desc.Kind {
		case edge.BelongsTo:
			assoc.ForeignKey = inflect.Underscore(desc.Alias) + "_id"
		case edge.OneToOne, edge.OneToMany:
			assoc.ForeignKey = inflect.Underscore(src.Name()) + "_id"
		}
	}
	if assoc.References == "" {
		switch desc.Kind {
		case edge.BelongsTo:
			assoc.References = dst.ID()
		default:
			assoc.References = src.ID()
		}
	}
	src.assocs[desc.Alias] = assoc
	src.aliases = append(src.aliases, desc.Alias)
	return nil
}

// MustDefineAssociation is like DefineAssociation, but panics on error.
func (r *Registry) MustDefineAssociation(source string, b edge.Builder) {
	if err := r.DefineAssociation(source, b); err != nil {
		panic(err)
	}
}

// Seal freezes the registry. Any registration call after sealing fails
// with RegistryFrozenError. Sealing is idempotent.
func (r *Registry) Seal() { r.sealed = true }

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool { return r.sealed }

// Model returns the definition registered under name.
func (r *Registry) Model(name string) (*ModelDefinition, error) {
	def, ok := r.models[name]
	if !ok {
		return nil, &UnknownModelError{Name: name}
	}
	return def, nil
}

// Models returns all definitions in registration order.
func (r *Registry) Models() []*ModelDefinition {
	out := make([]*ModelDefinition, len(r.order))
	for i, name := range r.order {
		out[i] = r.models[name]
	}
	return out
}

// ResolveIncludePath resolves a dotted alias chain ("posts.comments.author")
// starting at the named model into an ordered list of association edges.
// Traversal depth is bounded by the supplied path, not by the schema, so
// self-referencing associations resolve like any other edge.
func (r *Registry) ResolveIncludePath(model, path string) ([]*Association, error) {
	def, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	aliases := strings.Split(path, ".")
	out := make([]*Association, 0, len(aliases))
	for _, alias := range aliases {
		assoc := def.Association(alias)
		if assoc == nil {
			return nil, &AssociationNotFoundError{Model: def.Name(), Alias: alias}
		}
		out = append(out, assoc)
		def = assoc.Target
	}
	return out, nil
}
