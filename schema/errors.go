package schema

import (
	"errors"
	"fmt"
)

// ErrRegistryFrozen is returned when a registration call is made after the
// registry has been sealed.
var ErrRegistryFrozen = errors.New("schema: registry is sealed")

// RegistryFrozenError reports the registration attempted after sealing.
type RegistryFrozenError struct {
	Op string // the rejected operation
}

// Error returns the error string.
func (e *RegistryFrozenError) Error() string {
	return fmt.Sprintf("schema: %s rejected, registry is sealed", e.Op)
}

// Is reports whether the target error matches ErrRegistryFrozen.
func (e *RegistryFrozenError) Is(err error) bool {
	return err == ErrRegistryFrozen
}

// DuplicateModelError is returned when registering a model whose name is
// already taken.
type DuplicateModelError struct {
	Name string
}

// Error returns the error string.
func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("schema: model %q already registered", e.Name)
}

// DuplicateAliasError is returned when an association alias collides on the
// same source model.
type DuplicateAliasError struct {
	Model string
	Alias string
}

// Error returns the error string.
func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("schema: association alias %q already defined on model %q", e.Alias, e.Model)
}

// UnknownModelError is returned when referring to an unregistered model.
type UnknownModelError struct {
	Name string
}

// Error returns the error string.
func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("schema: unknown model %q", e.Name)
}

// AssociationNotFoundError is returned when resolving an include path
// through an alias the source model does not define.
type AssociationNotFoundError struct {
	Model string
	Alias string
}

// Error returns the error string.
func (e *AssociationNotFoundError) Error() string {
	return fmt.Sprintf("schema: model %q has no association %q", e.Model, e.Alias)
}

// IsNotFound returns true if the error is an AssociationNotFoundError or
// an UnknownModelError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var ae *AssociationNotFoundError
	var ue *UnknownModelError
	return errors.As(err, &ae) || errors.As(err, &ue)
}
