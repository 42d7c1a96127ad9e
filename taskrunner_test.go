package arbor

import (
	"context"
	"sync"
	"testing"
)

func TestRunTaskMiddlewareOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string

	record := func(label string) TaskMiddlewareRun {
		return func(ctx context.Context, task *Task, input any, next TaskMiddlewareNext, deps Deps, config any) (any, error) {
			mu.Lock()
			order = append(order, label+".before")
			mu.Unlock()
			result, err := next(ctx, input)
			mu.Lock()
			order = append(order, label+".after")
			mu.Unlock()
			return result, err
		}
	}

	outer := NewTaskMiddleware("mw.outer", record("outer"))
	inner := NewTaskMiddleware("mw.inner", record("inner"))

	task := NewTask("t.wrapped", func(ctx context.Context, input any, deps Deps) (any, error) {
		mu.Lock()
		order = append(order, "run")
		mu.Unlock()
		return "ok", nil
	}, WithTaskMiddleware(outer, inner))

	root := NewResource("r.root", noopInit, WithRegister(task))
	rt, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	if _, err := rt.RunTask(context.Background(), task, nil); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	want := []string{"outer.before", "inner.before", "run", "inner.after", "outer.after"}
	if len(order) != len(want) {
		t.Fatalf("unexpected call order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected call order: %v", order)
		}
	}
}

func TestRunTaskRecoversPanic(t *testing.T) {
	task := NewTask("t.panics", func(ctx context.Context, input any, deps Deps) (any, error) {
		panic("boom")
	})
	root := NewResource("r.root", noopInit, WithRegister(task))
	rt, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	if _, err := rt.RunTask(context.Background(), task, nil); err == nil {
		t.Fatalf("expected a panic to surface as an error")
	}
}

func TestRunTaskInputValidationFailureEmitsOnError(t *testing.T) {
	task := NewTask("t.strict", func(ctx context.Context, input any, deps Deps) (any, error) {
		return input, nil
	}, WithInputSchema(&rejectingSchema{}))

	var caught error
	onError := NewHook("h.onError", []ID{task.OnErrorEvent().ID()}, func(ctx context.Context, evt *EventCtx, deps Deps) error {
		caught, _ = evt.Data.(error)
		return nil
	})

	root := NewResource("r.root", noopInit, WithRegister(task), WithRegister(onError))
	rt, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	if _, err := rt.RunTask(context.Background(), task, "anything"); err == nil {
		t.Fatalf("expected input validation to fail")
	}
	if caught == nil {
		t.Fatalf("expected onError hook to observe the failure")
	}
}

func TestRunTaskSuppressedOnErrorResolvesUndefined(t *testing.T) {
	task := NewTask("t.strict", func(ctx context.Context, input any, deps Deps) (any, error) {
		return input, nil
	}, WithInputSchema(&rejectingSchema{}))

	var caught error
	onError := NewHook("h.onError", []ID{task.OnErrorEvent().ID()}, func(ctx context.Context, evt *EventCtx, deps Deps) error {
		caught, _ = evt.Data.(error)
		evt.Suppress()
		return nil
	})

	root := NewResource("r.root", noopInit, WithRegister(task), WithRegister(onError))
	rt, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	result, err := rt.RunTask(context.Background(), task, "anything")
	if err != nil {
		t.Fatalf("expected the suppressed error not to propagate, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected a suppressed task to resolve with a nil result, got %v", result)
	}
	if caught == nil {
		t.Fatalf("expected onError hook to still observe the original failure")
	}
}

func TestRunTaskEmitsAfterRunWhenListenerRegistered(t *testing.T) {
	task := NewTask("t.observed", func(ctx context.Context, input any, deps Deps) (any, error) {
		return "done", nil
	})

	var seen any
	after := NewHook("h.after", []ID{task.AfterRunEvent().ID()}, func(ctx context.Context, evt *EventCtx, deps Deps) error {
		seen = evt.Data
		return nil
	})

	root := NewResource("r.root", noopInit, WithRegister(task), WithRegister(after))
	rt, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	if _, err := rt.RunTask(context.Background(), task, nil); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if seen != "done" {
		t.Fatalf("expected afterRun hook to observe the result, got %v", seen)
	}
}

func TestRunTaskInterceptorWrapsPipeline(t *testing.T) {
	task := NewTask("t.intercepted", func(ctx context.Context, input any, deps Deps) (any, error) {
		return input, nil
	})

	var called bool
	intercept := NewResource("r.owner", func(ctx context.Context, cfg any, deps Deps, ic *InitCtx) (any, error) {
		ic.Intercept(task, func(next InterceptorNext, ctx context.Context, input any) (any, error) {
			called = true
			return next(ctx, input)
		})
		return nil, nil
	})

	root := NewResource("r.root", noopInit, WithRegister(intercept), WithRegister(task))
	rt, err := Boot(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}

	if _, err := rt.RunTask(context.Background(), task, "x"); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if !called {
		t.Fatalf("expected the interceptor installed during init to run")
	}
	ids := task.GetInterceptingResourceIDs()
	if len(ids) != 1 || ids[0] != "r.owner" {
		t.Fatalf("unexpected intercepting resource ids: %v", ids)
	}
}
