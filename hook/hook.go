// Package hook dispatches lifecycle events around persist operations.
// Callbacks run strictly in registration order within an event and the
// first failure aborts the rest. Validation is the exception: every
// attribute- and model-level rule runs to completion so the caller sees
// all failures in one error.
package hook

import (
	"context"
	"sync"

	"github.com/karstdb/karst/schema"
)

// Event is a lifecycle event fired around persist operations.
type Event string

const (
	BeforeValidate Event = "beforeValidate"
	AfterValidate  Event = "afterValidate"
	BeforeCreate   Event = "beforeCreate"
	AfterCreate    Event = "afterCreate"
	BeforeUpdate   Event = "beforeUpdate"
	AfterUpdate    Event = "afterUpdate"
	BeforeDestroy  Event = "beforeDestroy"
	AfterDestroy   Event = "afterDestroy"

	// Bulk variants fire once per multi-row operation, before and after
	// the per-row events of the affected rows.
	BeforeBulkCreate  Event = "beforeBulkCreate"
	AfterBulkCreate   Event = "afterBulkCreate"
	BeforeBulkUpdate  Event = "beforeBulkUpdate"
	AfterBulkUpdate   Event = "afterBulkUpdate"
	BeforeBulkDestroy Event = "beforeBulkDestroy"
	AfterBulkDestroy  Event = "afterBulkDestroy"
)

// Subject is the object a callback operates on. Instances of the
// persistence layer implement it; bulk events receive a subject covering
// the whole batch.
type Subject interface {
	ModelName() string
	Values() schema.Values
}

// Func is a lifecycle callback. Returning an error aborts the event chain
// and the surrounding persist operation.
type Func func(ctx context.Context, s Subject) error

type registration struct {
	identifier string
	fn         Func
}

// Pipeline holds the ordered callback registrations of one model.
// Registration is idempotent by (event, identifier): re-registering an
// identifier replaces the callback in place, keeping its original
// position in the order.
type Pipeline struct {
	mu    sync.RWMutex
	hooks map[Event][]registration
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{hooks: make(map[Event][]registration)}
}

// AddHook registers fn for the event under the given identifier.
func (p *Pipeline) AddHook(event Event, identifier string, fn Func) {
	p.mu.Lock()
	defer p.mu.Unlock()
	regs := p.hooks[event]
	for i, r := range regs {
		if r.identifier == identifier {
			regs[i].fn = fn
			return
		}
	}
	p.hooks[event] = append(regs, registration{identifier: identifier, fn: fn})
}

// RemoveHook drops the registration for (event, identifier), if any.
func (p *Pipeline) RemoveHook(event Event, identifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	regs := p.hooks[event]
	for i, r := range regs {
		if r.identifier == identifier {
			p.hooks[event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Fire runs the event's callbacks in registration order. The first
// failing callback stops the chain; its error is returned wrapped in a
// HookAbortError.
func (p *Pipeline) Fire(ctx context.Context, event Event, s Subject) error {
	p.mu.RLock()
	regs := p.hooks[event]
	p.mu.RUnlock()
	for _, r := range regs {
		if err := r.fn(ctx, s); err != nil {
			return &HookAbortError{Event: event, Identifier: r.identifier, Err: err}
		}
	}
	return nil
}

// Validate runs every attribute validator and every model-level rule
// against the values, collecting all failures. It returns nil when all
// rules pass, otherwise a single AggregateValidationError carrying one
// entry per violated rule.
func Validate(model *schema.ModelDefinition, vals schema.Values) error {
	var entries []*ValidationError
	for _, attr := range model.Attributes() {
		if len(attr.Validators) == 0 {
			continue
		}
		for _, v := range attr.Validate(vals[attr.Name]) {
			entries = append(entries, &ValidationError{
				Field:   attr.Name,
				Rule:    v.Rule,
				Message: v.Err.Error(),
			})
		}
	}
	for _, mv := range model.Validators() {
		if err := mv.Fn(vals); err != nil {
			entries = append(entries, &ValidationError{
				Rule:    mv.Rule,
				Message: err.Error(),
			})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	return &AggregateValidationError{Model: model.Name(), Entries: entries}
}
