// Package field provides builders for model attribute descriptors.
//
// A descriptor is plain data: name, type information, nullability, default
// value, validators, and optional value transforms. Behavior operating on
// descriptors lives in the schema registry and the runtime packages.
package field

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Type represents the storage type of an attribute.
type Type int

// Supported attribute types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat64
	TypeString
	TypeTime
	TypeBytes
)

// String returns the lower-cased name of the type.
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeTime:
		return "time"
	case TypeBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// Numeric reports if the type is a numeric type.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeFloat64
}

// Validator checks a candidate attribute value before persistence.
// The rule name identifies the violated constraint in validation errors.
type Validator struct {
	Rule string
	Fn   func(any) error
}

// Transform converts an attribute value at a hydration or serialization
// boundary.
type Transform func(any) any

// A Descriptor for attribute configuration. Descriptors are immutable once
// their model definition is registered.
type Descriptor struct {
	Name       string      // attribute name
	Info       Type        // type info
	Nillable   bool        // value may be NULL
	Unique     bool        // unique index on column
	Immutable  bool        // rejected by update statements
	Default    any         // default value or func() any
	Validators []Validator // all validators run, failures aggregate
	OnLoad     Transform   // applied when hydrating from the store
	OnStore    Transform   // applied when serializing to the store
	Comment    string
}

// builder is embedded by all typed builders.
type builder struct {
	desc *Descriptor
}

// Descriptor returns the underlying descriptor.
func (b builder) Descriptor() *Descriptor { return b.desc }

// StringBuilder is the builder for string attributes.
type StringBuilder struct{ builder }

// String returns a new builder for a string attribute.
func String(name string) StringBuilder {
	return StringBuilder{builder{&Descriptor{Name: name, Info: TypeString}}}
}

// NotEmpty adds a validator that rejects empty strings.
func (b StringBuilder) NotEmpty() StringBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "not_empty",
		Fn: func(v any) error {
			s, _ := v.(string)
			if s == "" {
				return errors.New("value is empty")
			}
			return nil
		},
	})
	return b
}

// MinLen adds a minimum-length validator.
func (b StringBuilder) MinLen(i int) StringBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "min_len",
		Fn: func(v any) error {
			s, _ := v.(string)
			if len(s) < i {
				return fmt.Errorf("value is less than the required length %d", i)
			}
			return nil
		},
	})
	return b
}

// MaxLen adds a maximum-length validator.
func (b StringBuilder) MaxLen(i int) StringBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "max_len",
		Fn: func(v any) error {
			s, _ := v.(string)
			if len(s) > i {
				return fmt.Errorf("value is greater than the allowed length %d", i)
			}
			return nil
		},
	})
	return b
}

// Match adds a regular-expression validator.
func (b StringBuilder) Match(re *regexp.Regexp) StringBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "match",
		Fn: func(v any) error {
			s, _ := v.(string)
			if !re.MatchString(s) {
				return fmt.Errorf("value does not match pattern %q", re)
			}
			return nil
		},
	})
	return b
}

// Validate adds a custom validator under the given rule name.
func (b StringBuilder) Validate(rule string, fn func(string) error) StringBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: rule,
		Fn: func(v any) error {
			s, _ := v.(string)
			return fn(s)
		},
	})
	return b
}

// Nillable marks the attribute as nullable.
func (b StringBuilder) Nillable() StringBuilder { b.desc.Nillable = true; return b }

// Unique marks the column as unique.
func (b StringBuilder) Unique() StringBuilder { b.desc.Unique = true; return b }

// Immutable rejects the attribute in update statements.
func (b StringBuilder) Immutable() StringBuilder { b.desc.Immutable = true; return b }

// Default sets the default value.
func (b StringBuilder) Default(s string) StringBuilder { b.desc.Default = s; return b }

// DefaultFunc sets a function computing the default value.
func (b StringBuilder) DefaultFunc(fn func() string) StringBuilder {
	b.desc.Default = func() any { return fn() }
	return b
}

// OnLoad sets the transform applied when hydrating from the store.
func (b StringBuilder) OnLoad(t Transform) StringBuilder { b.desc.OnLoad = t; return b }

// OnStore sets the transform applied when serializing to the store.
func (b StringBuilder) OnStore(t Transform) StringBuilder { b.desc.OnStore = t; return b }

// Comment sets the attribute comment.
func (b StringBuilder) Comment(c string) StringBuilder { b.desc.Comment = c; return b }

// IntBuilder is the builder for int attributes.
type IntBuilder struct{ builder }

// Int returns a new builder for an int attribute.
func Int(name string) IntBuilder {
	return IntBuilder{builder{&Descriptor{Name: name, Info: TypeInt}}}
}

// Int64 returns a new builder for an int64 attribute.
func Int64(name string) IntBuilder {
	return IntBuilder{builder{&Descriptor{Name: name, Info: TypeInt64}}}
}

// Min adds a minimum-value validator.
func (b IntBuilder) Min(i int64) IntBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "min",
		Fn: func(v any) error {
			n, ok := asInt64(v)
			if ok && n < i {
				return fmt.Errorf("value is less than the minimum %d", i)
			}
			return nil
		},
	})
	return b
}

// Max adds a maximum-value validator.
func (b IntBuilder) Max(i int64) IntBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "max",
		Fn: func(v any) error {
			n, ok := asInt64(v)
			if ok && n > i {
				return fmt.Errorf("value is greater than the maximum %d", i)
			}
			return nil
		},
	})
	return b
}

// Positive adds a validator requiring the value to be > 0.
func (b IntBuilder) Positive() IntBuilder { return b.Min(1) }

// Range adds validators requiring the value to be within [i, j].
func (b IntBuilder) Range(i, j int64) IntBuilder { return b.Min(i).Max(j) }

// Nillable marks the attribute as nullable.
func (b IntBuilder) Nillable() IntBuilder { b.desc.Nillable = true; return b }

// Unique marks the column as unique.
func (b IntBuilder) Unique() IntBuilder { b.desc.Unique = true; return b }

// Immutable rejects the attribute in update statements.
func (b IntBuilder) Immutable() IntBuilder { b.desc.Immutable = true; return b }

// Default sets the default value.
func (b IntBuilder) Default(i int64) IntBuilder { b.desc.Default = i; return b }

// Comment sets the attribute comment.
func (b IntBuilder) Comment(c string) IntBuilder { b.desc.Comment = c; return b }

// FloatBuilder is the builder for float64 attributes.
type FloatBuilder struct{ builder }

// Float returns a new builder for a float64 attribute.
func Float(name string) FloatBuilder {
	return FloatBuilder{builder{&Descriptor{Name: name, Info: TypeFloat64}}}
}

// Min adds a minimum-value validator.
func (b FloatBuilder) Min(f float64) FloatBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "min",
		Fn: func(v any) error {
			n, ok := v.(float64)
			if ok && n < f {
				return fmt.Errorf("value is less than the minimum %v", f)
			}
			return nil
		},
	})
	return b
}

// Max adds a maximum-value validator.
func (b FloatBuilder) Max(f float64) FloatBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "max",
		Fn: func(v any) error {
			n, ok := v.(float64)
			if ok && n > f {
				return fmt.Errorf("value is greater than the maximum %v", f)
			}
			return nil
		},
	})
	return b
}

// Positive adds a validator requiring the value to be > 0.
func (b FloatBuilder) Positive() FloatBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "positive",
		Fn: func(v any) error {
			n, ok := v.(float64)
			if ok && n <= 0 {
				return errors.New("value is not positive")
			}
			return nil
		},
	})
	return b
}

// Nillable marks the attribute as nullable.
func (b FloatBuilder) Nillable() FloatBuilder { b.desc.Nillable = true; return b }

// Default sets the default value.
func (b FloatBuilder) Default(f float64) FloatBuilder { b.desc.Default = f; return b }

// Comment sets the attribute comment.
func (b FloatBuilder) Comment(c string) FloatBuilder { b.desc.Comment = c; return b }

// BoolBuilder is the builder for bool attributes.
type BoolBuilder struct{ builder }

// Bool returns a new builder for a bool attribute.
func Bool(name string) BoolBuilder {
	return BoolBuilder{builder{&Descriptor{Name: name, Info: TypeBool}}}
}

// Nillable marks the attribute as nullable.
func (b BoolBuilder) Nillable() BoolBuilder { b.desc.Nillable = true; return b }

// Default sets the default value.
func (b BoolBuilder) Default(v bool) BoolBuilder { b.desc.Default = v; return b }

// Comment sets the attribute comment.
func (b BoolBuilder) Comment(c string) BoolBuilder { b.desc.Comment = c; return b }

// TimeBuilder is the builder for time attributes.
type TimeBuilder struct{ builder }

// Time returns a new builder for a time attribute.
func Time(name string) TimeBuilder {
	return TimeBuilder{builder{&Descriptor{Name: name, Info: TypeTime}}}
}

// Nillable marks the attribute as nullable.
func (b TimeBuilder) Nillable() TimeBuilder { b.desc.Nillable = true; return b }

// Immutable rejects the attribute in update statements.
func (b TimeBuilder) Immutable() TimeBuilder { b.desc.Immutable = true; return b }

// Default sets a function computing the default value, e.g. time.Now.
func (b TimeBuilder) Default(fn func() time.Time) TimeBuilder {
	b.desc.Default = func() any { return fn() }
	return b
}

// Comment sets the attribute comment.
func (b TimeBuilder) Comment(c string) TimeBuilder { b.desc.Comment = c; return b }

// BytesBuilder is the builder for byte-slice attributes.
type BytesBuilder struct{ builder }

// Bytes returns a new builder for a bytes attribute.
func Bytes(name string) BytesBuilder {
	return BytesBuilder{builder{&Descriptor{Name: name, Info: TypeBytes}}}
}

// Nillable marks the attribute as nullable.
func (b BytesBuilder) Nillable() BytesBuilder { b.desc.Nillable = true; return b }

// MaxLen adds a maximum-length validator.
func (b BytesBuilder) MaxLen(i int) BytesBuilder {
	b.desc.Validators = append(b.desc.Validators, Validator{
		Rule: "max_len",
		Fn: func(v any) error {
			s, _ := v.([]byte)
			if len(s) > i {
				return fmt.Errorf("value is greater than the allowed length %d", i)
			}
			return nil
		},
	})
	return b
}

// Comment sets the attribute comment.
func (b BytesBuilder) Comment(c string) BytesBuilder { b.desc.Comment = c; return b }

// DefaultValue resolves the descriptor's default, invoking the default
// function when one is configured. The second result reports whether a
// default exists.
func (d *Descriptor) DefaultValue() (any, bool) {
	switch def := d.Default.(type) {
	case nil:
		return nil, false
	case func() any:
		return def(), true
	default:
		return def, true
	}
}

// Violation pairs a failed validation with the rule that produced it.
type Violation struct {
	Rule string
	Err  error
}

// Validate runs every validator against the value and returns the failures
// paired with their rule names. All validators run; failures do not
// short-circuit.
func (d *Descriptor) Validate(v any) []Violation {
	var errs []Violation
	for _, val := range d.Validators {
		if err := val.Fn(v); err != nil {
			errs = append(errs, Violation{Rule: val.Rule, Err: err})
		}
	}
	return errs
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}
