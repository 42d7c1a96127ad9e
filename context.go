package arbor

import "context"

// ctxKey namespaces arbor's ambient values inside context.Context so they
// never collide with a caller's own WithValue keys.
type ctxKey struct{ name string }

// Provide returns a child context carrying value under key, readable back
// with Use/Require from ctx or any context derived from it — the same
// parent-chain fallback context.Context already gives WithValue.
func Provide(ctx context.Context, key string, value any) context.Context {
	return context.WithValue(ctx, ctxKey{key}, value)
}

// Use reads a typed ambient value, walking up through parent contexts the
// way context.Value already does.
func Use[T any](ctx context.Context, key string) (T, bool) {
	var zero T
	v := ctx.Value(ctxKey{key})
	if v == nil {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// UseOrDefault reads a typed ambient value, or def if absent.
func UseOrDefault[T any](ctx context.Context, key string, def T) T {
	if v, ok := Use[T](ctx, key); ok {
		return v
	}
	return def
}

// Require reads a typed ambient value, raising an ErrOptionalDepMissing
// style panic-free error when it's absent — for values a task declares it
// cannot run without.
func Require[T any](ctx context.Context, key string) (T, error) {
	v, ok := Use[T](ctx, key)
	if !ok {
		var zero T
		return zero, newError(ErrOptionalDepMissing, key, "", "", "ambient value "+key+" was not provided")
	}
	return v, nil
}

type runtimeCtxKey struct{}

func withRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, runtimeCtxKey{}, rt)
}

// RuntimeFromContext returns the Runtime driving the current task/hook, for
// code that needs to emit an event or run another task from inside one
// (spec.md §4.2, "a task's run may reach back into the runtime surface it
// was invoked from").
func RuntimeFromContext(ctx context.Context) (*Runtime, bool) {
	rt, ok := ctx.Value(runtimeCtxKey{}).(*Runtime)
	return rt, ok
}
