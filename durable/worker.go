package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Worker polls a Queue and runs the matching WorkflowDefinition for each
// WorkItem, persisting run state and step records to Store so a run
// resumes from where it left off after a crash or a Context.Sleep /
// Context.WaitEvent suspend.
type Worker struct {
	store     Store
	queue     Queue
	bus       EventBus
	workflows map[string]WorkflowDefinition
	log       zerolog.Logger

	pollInterval     time.Duration
	pollLimiter      *rate.Limiter
	maxAttempts      int
	waitPollInterval time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets how long Run sleeps between empty Dequeue calls.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithMaxAttempts bounds retries before a run is marked RunFailed instead
// of being nacked back onto the queue.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithWorkerLogger sets the logger Worker uses for run lifecycle events.
func WithWorkerLogger(log zerolog.Logger) WorkerOption {
	return func(w *Worker) { w.log = log }
}

// WithWaitPollInterval sets the engine-configured default poll interval
// Context.Wait uses when a call doesn't override it (spec.md §4.8's "call
// option → engine config → default 500ms" resolution order).
func WithWaitPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.waitPollInterval = d }
}

// NewWorker builds a Worker over the given collaborators and workflow
// definitions, keyed by WorkflowDefinition.ID.
func NewWorker(store Store, queue Queue, bus EventBus, defs []WorkflowDefinition, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:        store,
		queue:        queue,
		bus:          bus,
		workflows:    make(map[string]WorkflowDefinition, len(defs)),
		log:          zerolog.Nop(),
		pollInterval: 200 * time.Millisecond,
		maxAttempts:  25,
	}
	for _, d := range defs {
		w.workflows[d.ID] = d
	}
	for _, opt := range opts {
		opt(w)
	}
	w.pollLimiter = rate.NewLimiter(rate.Every(w.pollInterval), 1)
	return w
}

// RunScheduler polls scheduler once per tick and enqueues a fresh run for
// every workflow definition that carries a Schedule, advancing each
// definition's next-fire time as it goes. It runs until ctx is cancelled.
func (w *Worker) RunScheduler(ctx context.Context, scheduler *Scheduler, tick time.Duration) error {
	next := make(map[string]time.Time, len(w.workflows))
	now := time.Now()
	for id, def := range w.workflows {
		if def.Schedule == "" {
			continue
		}
		t, err := scheduler.Next(def.Schedule, now)
		if err != nil {
			return fmt.Errorf("durable: schedule workflow %s: %w", id, err)
		}
		next[id] = t
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for id, fireAt := range next {
				if now.Before(fireAt) {
					continue
				}
				def := w.workflows[id]
				runID := id + "-" + uuid.NewString()
				if err := w.Start(ctx, runID, id, json.RawMessage(nil)); err != nil {
					w.log.Error().Err(err).Str("workflow", id).Msg("durable: scheduled start failed")
				}
				t, err := scheduler.Next(def.Schedule, now)
				if err != nil {
					w.log.Error().Err(err).Str("workflow", id).Msg("durable: reschedule failed")
					continue
				}
				next[id] = t
			}
		}
	}
}

// Start records a pending run under the caller-chosen runID and enqueues it
// for workflowID with the given input, returning immediately; the run
// executes asynchronously once a Worker dequeues it.
func (w *Worker) Start(ctx context.Context, runID RunID, workflowID string, input any) error {
	if _, ok := w.workflows[workflowID]; !ok {
		return fmt.Errorf("durable: unknown workflow %q", workflowID)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("durable: marshal input for run %s: %w", runID, err)
	}
	now := time.Now()
	if err := w.store.SaveRun(ctx, RunState{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     RunPending,
		Input:      raw,
		StartedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return fmt.Errorf("durable: save run %s: %w", runID, err)
	}
	return w.queue.Enqueue(ctx, WorkItem{RunID: runID, WorkflowID: workflowID, Input: raw})
}

// Cancel marks runID's persisted status as cancelled. A run currently
// suspended (Sleep/WaitEvent) or not yet dequeued picks this up the next
// time it's processed and rejects at its next step boundary with
// ErrExecutionCancelled instead of running to completion (spec.md §4.8,
// P11). It does not stop a step body already executing inside fn.
func (w *Worker) Cancel(ctx context.Context, runID RunID) error {
	state, ok, err := w.store.LoadRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("durable: load run %s: %w", runID, err)
	}
	if !ok {
		return fmt.Errorf("durable: unknown run %q", runID)
	}
	if state.Status == RunCompleted || state.Status == RunFailed || state.Status == RunCancelled {
		return nil
	}
	state.Status = RunCancelled
	state.UpdatedAt = time.Now()
	return w.store.SaveRun(ctx, state)
}

// Run polls the queue until ctx is cancelled, executing one WorkItem at a
// time. Callers typically run it in its own goroutine per desired
// concurrency level.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("durable: dequeue failed")
			continue
		}
		if !ok {
			if err := w.pollLimiter.Wait(ctx); err != nil {
				return err
			}
			continue
		}

		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item WorkItem) {
	def, ok := w.workflows[item.WorkflowID]
	if !ok {
		w.log.Error().Str("workflow", item.WorkflowID).Str("run", item.RunID).Msg("durable: no such workflow, dropping")
		_ = w.queue.Ack(ctx, item)
		return
	}

	// A prior Cancel call may have already marked this run cancelled while
	// it sat suspended in the queue; preserve that status across the
	// resume so Context's step-boundary check (spec.md §4.8, P11) sees it
	// rather than having it clobbered back to running.
	status := RunRunning
	if prior, ok, err := w.store.LoadRun(ctx, item.RunID); err == nil && ok && prior.Status == RunCancelled {
		status = RunCancelled
	}

	now := time.Now()
	if err := w.store.SaveRun(ctx, RunState{
		RunID:       item.RunID,
		WorkflowID:  item.WorkflowID,
		Status:      status,
		Input:       item.Input,
		Attempt:     item.Attempt,
		MaxAttempts: w.maxAttempts,
		UpdatedAt:   now,
	}); err != nil {
		w.log.Error().Err(err).Str("run", item.RunID).Msg("durable: save running state failed")
	}

	loaded, err := w.store.LoadSteps(ctx, item.RunID)
	if err != nil {
		w.log.Error().Err(err).Str("run", item.RunID).Msg("durable: load steps failed")
		_ = w.queue.Nack(ctx, item)
		return
	}

	wctx := newContext(ctx, item.RunID, item.WorkflowID, w.store, w.bus, loaded, w.waitPollInterval)
	result, runErr := def.Fn(wctx, item.Input)

	if errors.Is(runErr, ErrExecutionCancelled) {
		w.finish(ctx, item, RunCancelled, nil, runErr)
		_ = w.queue.Ack(ctx, item)
		return
	}

	var suspend *SuspendError
	if errors.As(runErr, &suspend) {
		w.requeueSuspended(ctx, item, suspend)
		return
	}

	if runErr != nil {
		if item.Attempt >= w.maxAttempts {
			w.finish(ctx, item, RunFailed, nil, runErr)
			_ = w.queue.Ack(ctx, item)
			return
		}
		w.log.Warn().Err(runErr).Str("run", item.RunID).Int("attempt", item.Attempt).Msg("durable: run failed, retrying")
		if err := w.queue.Nack(ctx, item); err != nil {
			w.log.Error().Err(err).Str("run", item.RunID).Msg("durable: nack failed")
		}
		return
	}

	w.finish(ctx, item, RunCompleted, result, nil)
	_ = w.queue.Ack(ctx, item)
}

// requeueSuspended re-enqueues item to resume at suspend.At. An indefinite
// wait (no deadline, waiting on an event that hasn't arrived) still gets a
// poll-interval floor so a suspend loop doesn't spin the queue empty.
func (w *Worker) requeueSuspended(ctx context.Context, item WorkItem, suspend *SuspendError) {
	floor := time.Now().Add(w.pollInterval)
	if suspend.At.Before(floor) {
		item.NotBefore = floor
	} else {
		item.NotBefore = suspend.At
	}
	if err := w.queue.Enqueue(ctx, item); err != nil {
		w.log.Error().Err(err).Str("run", item.RunID).Msg("durable: requeue after suspend failed")
	}
	_ = w.queue.Ack(ctx, item)
}

func (w *Worker) finish(ctx context.Context, item WorkItem, status RunStatus, result any, runErr error) {
	state := RunState{
		RunID:       item.RunID,
		WorkflowID:  item.WorkflowID,
		Status:      status,
		Input:       item.Input,
		Attempt:     item.Attempt,
		MaxAttempts: w.maxAttempts,
		UpdatedAt:   time.Now(),
	}
	if runErr != nil {
		state.Error = runErr.Error()
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			state.Result = raw
		}
	}
	if err := w.store.SaveRun(ctx, state); err != nil {
		w.log.Error().Err(err).Str("run", item.RunID).Msg("durable: save final run state failed")
	}
	ev := w.log.Info()
	if runErr != nil {
		ev = w.log.Error().Err(runErr)
	}
	ev.Str("run", item.RunID).Str("workflow", item.WorkflowID).Str("status", string(status)).Msg("durable: run finished")
}
