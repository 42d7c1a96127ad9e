package arbor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// runTask drives a single task invocation through its full pipeline: input
// validation, the resource-contributed interceptor chain, the task's own
// middleware chain (outer to inner, authored order), the user function,
// result validation, and onError/afterRun event emission. Cancellation,
// panics, and deadlines are all reported through the same *Error path
// (spec.md §4.4).
func runTask(ctx context.Context, rt *Runtime, t *Task, input any) (result any, err error) {
	execID := uuid.NewString()
	log := loggerFrom(ctx).With().Str("task", t.id).Str("execution_id", execID).Logger()
	ctx = withLogger(ctx, log)

	for _, ext := range rt.cfg.extensions {
		ext.OnTaskStart(ctx, t, input)
	}
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = wrapError(ErrTaskResult, t.id, fmt.Errorf("panic: %v", r), "task run panicked")
			log.Error().Bytes("stack", stack).Interface("panic", r).Msg("task panic")
		}
		if err != nil && emitTaskError(ctx, rt, t, err) {
			// An onError hook called event.data.suppress(): the task
			// resolves as if it had succeeded with no result rather than
			// rejecting (spec.md §4.4 step 2, §7).
			result = nil
			err = nil
		}
		for _, ext := range rt.cfg.extensions {
			ext.OnTaskEnd(ctx, t, result, err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil, wrapError(ErrExecutionCancelled, t.id, ctx.Err(), "context cancelled before task ran")
	default:
	}

	if t.inputSchema != nil {
		validated, verr := t.inputSchema.Validate(input)
		if verr != nil {
			return nil, wrapError(ErrTaskInput, t.id, verr, "task input failed validation")
		}
		input = validated
	}

	deps, derr := rt.resolveDeps(t.id, dependenciesOf(t))
	if derr != nil {
		return nil, derr
	}

	run := func(ctx context.Context, input any) (any, error) {
		return runMiddlewareChain(ctx, t, input, deps)
	}
	chain := buildInterceptorChain(t.snapshotInterceptors(), run)

	result, err = chain(ctx, input)
	if err != nil {
		return nil, err
	}

	if t.resultSchema != nil {
		validated, verr := t.resultSchema.Validate(result)
		if verr != nil {
			return nil, wrapError(ErrTaskResult, t.id, verr, "task result failed validation")
		}
		result = validated
	}

	if rt.hasListeners(t.after.id) {
		rt.emit(ctx, &t.after, result)
	}

	return result, nil
}

func buildInterceptorChain(interceptors []Interceptor, innermost InterceptorNext) InterceptorNext {
	next := innermost
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		prev := next
		next = func(ctx context.Context, input any) (any, error) {
			return ic(prev, ctx, input)
		}
	}
	return next
}

func runMiddlewareChain(ctx context.Context, t *Task, input any, deps Deps) (any, error) {
	next := func(ctx context.Context, input any) (any, error) {
		return t.run(ctx, input, deps)
	}
	for i := len(t.middleware) - 1; i >= 0; i-- {
		mw := t.middleware[i]
		prev := next
		mwDeps, err := resolveMiddlewareDeps(ctx, mw.id, dependenciesOf(mw), deps)
		if err != nil {
			return nil, err
		}
		next = func(ctx context.Context, input any) (any, error) {
			return mw.run(ctx, t, input, prev, mwDeps, nil)
		}
	}
	return next(ctx, input)
}

// resolveMiddlewareDeps lets a middleware declare its own dependencies
// distinct from the task it's wrapping, falling back to the task's already
// resolved Deps for ids it doesn't declare itself.
func resolveMiddlewareDeps(ctx context.Context, ownerID ID, declared []Dependency, fallback Deps) (Deps, error) {
	if len(declared) == 0 {
		return fallback, nil
	}
	rt, ok := RuntimeFromContext(ctx)
	if !ok {
		return fallback, nil
	}
	return rt.resolveDeps(ownerID, declared)
}

// emitTaskError fires t's onError hooks with err and reports whether any of
// them called EventCtx.Suppress, converting the rejection into an undefined
// resolution (spec.md §4.4 step 2, §7).
func emitTaskError(ctx context.Context, rt *Runtime, t *Task, err error) bool {
	if rt == nil {
		return false
	}
	if !rt.hasListeners(t.onError.id) {
		return false
	}
	evt, _ := rt.emit(ctx, &t.onError, err)
	return evt != nil && evt.Suppressed()
}

type loggerCtxKey struct{}

func withLogger(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, log)
}

func loggerFrom(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(loggerCtxKey{}).(zerolog.Logger); ok {
		return log
	}
	return zerolog.Nop()
}
