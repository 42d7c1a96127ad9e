package durable

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func waitForRunStatus(t *testing.T, store Store, runID RunID, status RunStatus, timeout time.Duration) RunState {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, ok, err := store.LoadRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("unexpected error loading run: %v", err)
		}
		if ok && state.Status == status {
			return state
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach status %s in time", runID, status)
	return RunState{}
}

func TestWorkerRunsWorkflowToCompletion(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue()
	bus := NewMemoryBus()

	def := WorkflowDefinition{
		ID: "greet",
		Fn: func(ctx *Context, input json.RawMessage) (any, error) {
			return "hello", nil
		},
	}
	w := NewWorker(store, queue, bus, []WorkflowDefinition{def}, WithPollInterval(5*time.Millisecond))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(runCtx)

	if err := w.Start(context.Background(), "run1", "greet", nil); err != nil {
		t.Fatalf("unexpected error starting run: %v", err)
	}

	state := waitForRunStatus(t, store, "run1", RunCompleted, 500*time.Millisecond)
	var result string
	if err := json.Unmarshal(state.Result, &result); err != nil || result != "hello" {
		t.Fatalf("unexpected result: %s, err: %v", state.Result, err)
	}
}

func TestWorkerRetriesFailingRunUpToMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue()
	bus := NewMemoryBus()

	var attempts int
	def := WorkflowDefinition{
		ID: "flaky",
		Fn: func(ctx *Context, input json.RawMessage) (any, error) {
			attempts++
			return nil, errors.New("boom")
		},
	}
	w := NewWorker(store, queue, bus, []WorkflowDefinition{def},
		WithPollInterval(2*time.Millisecond), WithMaxAttempts(2))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(runCtx)

	if err := w.Start(context.Background(), "run1", "flaky", nil); err != nil {
		t.Fatalf("unexpected error starting run: %v", err)
	}

	state := waitForRunStatus(t, store, "run1", RunFailed, 500*time.Millisecond)
	if state.Error == "" {
		t.Fatalf("expected a recorded error on the failed run")
	}
	if attempts < 2 {
		t.Fatalf("expected at least maxAttempts invocations before giving up, got %d", attempts)
	}
}

func TestWorkerSuspendedRunDoesNotConsumeAttemptBudget(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue()
	bus := NewMemoryBus()

	var calls int
	def := WorkflowDefinition{
		ID: "sleeper",
		Fn: func(ctx *Context, input json.RawMessage) (any, error) {
			calls++
			if err := ctx.Sleep("pause", 10*time.Millisecond); err != nil {
				return nil, err
			}
			return "done", nil
		},
	}
	// maxAttempts of 1 would fail a genuinely-erroring workflow on its second
	// try; a suspend/replay cycle must not be counted against it.
	w := NewWorker(store, queue, bus, []WorkflowDefinition{def},
		WithPollInterval(2*time.Millisecond), WithMaxAttempts(1))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(runCtx)

	if err := w.Start(context.Background(), "run1", "sleeper", nil); err != nil {
		t.Fatalf("unexpected error starting run: %v", err)
	}

	state := waitForRunStatus(t, store, "run1", RunCompleted, 500*time.Millisecond)
	var result string
	if err := json.Unmarshal(state.Result, &result); err != nil || result != "done" {
		t.Fatalf("unexpected result: %s, err: %v", state.Result, err)
	}
	if calls < 2 {
		t.Fatalf("expected the workflow to be invoked again after the sleep suspended, got %d calls", calls)
	}
}

func TestWorkerCancelRejectsRunAtNextStepBoundary(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue()
	bus := NewMemoryBus()

	def := WorkflowDefinition{
		ID: "cancellable",
		Fn: func(ctx *Context, input json.RawMessage) (any, error) {
			if err := ctx.Sleep("pause", 10*time.Millisecond); err != nil {
				return nil, err
			}
			return ctx.Step("after-pause", func() (any, error) { return "x", nil })
		},
	}
	w := NewWorker(store, queue, bus, []WorkflowDefinition{def}, WithPollInterval(2*time.Millisecond))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(runCtx)

	if err := w.Start(context.Background(), "run1", "cancellable", nil); err != nil {
		t.Fatalf("unexpected error starting run: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := w.Cancel(context.Background(), "run1"); err != nil {
		t.Fatalf("unexpected error cancelling run: %v", err)
	}

	state := waitForRunStatus(t, store, "run1", RunCancelled, 500*time.Millisecond)
	if state.Error == "" {
		t.Fatalf("expected the cancelled run to record an error")
	}

	steps, err := store.LoadSteps(context.Background(), "run1")
	if err != nil {
		t.Fatalf("unexpected error loading steps: %v", err)
	}
	if _, ok := steps["after-pause#2"]; ok {
		t.Fatalf("expected the step after the cancellation point to not be persisted")
	}
}

func TestWorkerStartRejectsUnknownWorkflow(t *testing.T) {
	w := NewWorker(NewMemoryStore(), NewMemoryQueue(), NewMemoryBus(), nil)
	if err := w.Start(context.Background(), "run1", "missing", nil); err == nil {
		t.Fatalf("expected an error starting an undefined workflow")
	}
}

func TestWorkerDropsWorkItemForUnknownWorkflow(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue()
	bus := NewMemoryBus()
	w := NewWorker(store, queue, bus, nil, WithPollInterval(2*time.Millisecond))

	if err := queue.Enqueue(context.Background(), WorkItem{RunID: "run1", WorkflowID: "ghost"}); err != nil {
		t.Fatalf("unexpected error enqueuing: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go w.Run(runCtx)
	defer cancel()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok, _ := queue.Dequeue(context.Background()); !ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected the unknown-workflow item to be dropped rather than requeued")
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	w := NewWorker(NewMemoryStore(), NewMemoryQueue(), NewMemoryBus(), nil, WithPollInterval(2*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err == nil {
		t.Fatalf("expected Run to return an error once its context is cancelled")
	}
}
