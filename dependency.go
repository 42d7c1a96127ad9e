package arbor

import "fmt"

// DependencyMode controls when a referenced unit's value is resolved
// relative to its dependent's run/init call.
type DependencyMode int

const (
	// ModeEager resolves the dependency before the dependent runs.
	ModeEager DependencyMode = iota
	// ModeLazy defers resolution until the dependent explicitly reads it
	// off the Deps accessor.
	ModeLazy
)

// Dependency is an edge from a unit to another unit it references by id.
type Dependency struct {
	id   ID
	mode DependencyMode
}

// Eager builds an eagerly-resolved dependency reference.
func Eager(id ID) Dependency { return Dependency{id: id, mode: ModeEager} }

// Lazy builds a lazily-resolved dependency reference.
func Lazy(id ID) Dependency { return Dependency{id: id, mode: ModeLazy} }

func (d Dependency) ID() ID                 { return d.id }
func (d Dependency) Mode() DependencyMode   { return d.mode }

// DependencyList is a unit's `dependencies` attribute: a function evaluated
// exactly once at boot under the lazy-realization guard described in
// spec.md §9, its result frozen into the Store.
type DependencyList func() []Dependency

// DependsOn builds a DependencyList from a fixed set of dependency
// references, the common case where dependencies don't need to be computed
// dynamically from other state.
func DependsOn(deps ...Dependency) DependencyList {
	return func() []Dependency { return deps }
}

// Deps is the accessor a Task's run, a Resource's init/dispose, or a Hook's
// run receives for reading its declared dependencies. Eager dependencies are
// already resolved by the time Deps is constructed; lazy ones resolve on
// first Value/DepValue call.
type Deps struct {
	values map[ID]any
	lazy   func(ID) (any, error)
}

func newDeps(values map[ID]any, lazy func(ID) (any, error)) Deps {
	return Deps{values: values, lazy: lazy}
}

// Value returns the dependency's resolved value by id, triggering lazy
// resolution if it wasn't resolved eagerly.
func (d Deps) Value(id ID) (any, error) {
	if v, ok := d.values[id]; ok {
		return v, nil
	}
	if d.lazy != nil {
		return d.lazy(id)
	}
	return nil, newError(ErrRegistrationMissing, id, "", "", "dependency "+id+" was not declared")
}

// DepValue reads a typed dependency value off a Deps accessor.
func DepValue[T any](d Deps, id ID) (T, error) {
	var zero T
	v, err := d.Value(id)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %s: expected %T, got %T", id, zero, v)
	}
	return typed, nil
}
