package arbor

// ResourceHandle is a typed accessor for a booted resource's value, the
// generic convenience sitting on top of Runtime.ResourceValue for callers
// who know the concrete type up front.
type ResourceHandle[T any] struct {
	rt *Runtime
	id ID
}

// ResourceOf builds a typed handle onto a resource id.
func ResourceOf[T any](rt *Runtime, id ID) ResourceHandle[T] {
	return ResourceHandle[T]{rt: rt, id: id}
}

// Get returns the resource's current value, type-asserted to T.
func (h ResourceHandle[T]) Get() (T, error) {
	var zero T
	v, err := h.rt.ResourceValue(h.id)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, newError(ErrRegistrationMissing, h.id, "", "", "resource value is not of the requested type")
	}
	return typed, nil
}

// MustGet returns the resource's value, panicking if it isn't available or
// isn't of type T. Intended for wiring code (e.g. an exposure router's
// setup) that already knows the boot succeeded.
func (h ResourceHandle[T]) MustGet() T {
	v, err := h.Get()
	if err != nil {
		panic(err)
	}
	return v
}
