package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrSuspend is returned by Context.Sleep and Context.WaitEvent when the
// workflow must stop executing and be resumed later rather than block the
// worker goroutine. Worker treats it as "requeue, not a failure".
var ErrSuspend = errors.New("durable: workflow suspended")

// ErrExecutionCancelled is returned by every Context step-boundary
// operation once the run's persisted status has been set to cancelled. No
// side effect from the call that observed it is persisted (spec.md §4.8,
// §6, P11).
var ErrExecutionCancelled = errors.New("durable: execution cancelled")

// defaultWaitPollInterval is the poll interval Context.Wait falls back to
// when neither the call nor the engine configures one (spec.md §4.8).
const defaultWaitPollInterval = 500 * time.Millisecond

// SuspendError carries the resume condition back to Worker: requeue after
// At, or as soon as the named event arrives.
type SuspendError struct {
	At      time.Time
	EventID string
}

func (e *SuspendError) Error() string { return ErrSuspend.Error() }
func (e *SuspendError) Unwrap() error { return ErrSuspend }

// Context is passed to a WorkflowFunc. Every Step call is memoized against
// the run's Store: on first execution fn runs and its result is persisted;
// on replay (the workflow re-entering from the top after a suspend) the
// stored result is returned without calling fn again. This makes a
// workflow body safe to re-run from the start as long as it performs the
// same sequence of Step/Sleep/WaitEvent calls for the same input.
type Context struct {
	ctx              context.Context
	runID            RunID
	workflowID       string
	store            Store
	bus              EventBus
	waitPollInterval time.Duration

	mu     sync.Mutex
	loaded map[StepID]StepRecord
	order  int
}

func newContext(ctx context.Context, runID RunID, workflowID string, store Store, bus EventBus, loaded map[StepID]StepRecord, waitPollInterval time.Duration) *Context {
	return &Context{
		ctx:              ctx,
		runID:            runID,
		workflowID:       workflowID,
		store:            store,
		bus:              bus,
		waitPollInterval: waitPollInterval,
		loaded:           loaded,
	}
}

// checkCancelled re-reads the run's persisted status and rejects with
// ErrExecutionCancelled if it has been set to cancelled since this run
// started executing. Called at the top of every step-boundary operation
// (spec.md §4.8, P11); a worker external to this goroutine is what
// transitions a run to cancelled.
func (c *Context) checkCancelled() error {
	state, ok, err := c.store.LoadRun(c.ctx, c.runID)
	if err != nil || !ok {
		return nil
	}
	if state.Status == RunCancelled {
		return ErrExecutionCancelled
	}
	return nil
}

// Context returns the underlying context.Context, carrying cancellation and
// any values the boot runtime attached (logger, runtime handle).
func (c *Context) Context() context.Context { return c.ctx }

// RunID returns the identifier of the run this Context executes.
func (c *Context) RunID() RunID { return c.runID }

func (c *Context) nextStepID(name string) StepID {
	c.order++
	return fmt.Sprintf("%s#%d", name, c.order)
}

// Step runs fn exactly once per step id across all attempts of a run. If a
// prior attempt already completed this step, its memoized JSON-encoded
// result (and error, if fn failed) is returned and fn is not called.
func (c *Context) Step(name string, fn func() (any, error)) (json.RawMessage, error) {
	if err := c.checkCancelled(); err != nil {
		return nil, err
	}
	id := c.nextStepID(name)

	c.mu.Lock()
	rec, ok := c.loaded[id]
	c.mu.Unlock()
	if ok && rec.Completed {
		if rec.Err != "" {
			return rec.Value, errors.New(rec.Err)
		}
		return rec.Value, nil
	}

	value, err := fn()
	rec = StepRecord{Completed: true}
	if err != nil {
		rec.Err = err.Error()
	} else {
		raw, merr := json.Marshal(value)
		if merr != nil {
			return nil, fmt.Errorf("durable: marshal step %s result: %w", name, merr)
		}
		rec.Value = raw
	}

	if serr := c.store.SaveStep(c.ctx, c.runID, id, rec); serr != nil {
		return nil, fmt.Errorf("durable: persist step %s: %w", name, serr)
	}
	c.mu.Lock()
	c.loaded[id] = rec
	c.mu.Unlock()

	return rec.Value, err
}

// Sleep suspends the workflow until d has elapsed, measured from the first
// time this step id is reached. Replays after the deadline return nil
// immediately; replays before it return a *SuspendError so Worker can
// requeue the run with WorkItem.NotBefore set to the deadline.
func (c *Context) Sleep(name string, d time.Duration) error {
	if err := c.checkCancelled(); err != nil {
		return err
	}
	id := c.nextStepID("sleep:" + name)

	c.mu.Lock()
	rec, ok := c.loaded[id]
	c.mu.Unlock()

	var deadline time.Time
	if ok && rec.Completed {
		if err := json.Unmarshal(rec.Value, &deadline); err != nil {
			return fmt.Errorf("durable: decode sleep deadline %s: %w", name, err)
		}
	} else {
		deadline = time.Now().Add(d)
		raw, err := json.Marshal(deadline)
		if err != nil {
			return fmt.Errorf("durable: marshal sleep deadline %s: %w", name, err)
		}
		rec = StepRecord{Completed: true, Value: raw}
		if err := c.store.SaveStep(c.ctx, c.runID, id, rec); err != nil {
			return fmt.Errorf("durable: persist sleep %s: %w", name, err)
		}
		c.mu.Lock()
		c.loaded[id] = rec
		c.mu.Unlock()
	}

	if time.Now().Before(deadline) {
		return &SuspendError{At: deadline}
	}
	return nil
}

// WaitEvent suspends the workflow until eventID is published on bus. A
// positive timeout sets how long the suspended run waits before it is
// resumed to poll the bus again; the wait does not end when it elapses,
// and zero leaves the resume time to the worker's poll interval. The
// published payload is memoized the first time it's observed, so replay
// after delivery returns it without waiting again.
func (c *Context) WaitEvent(name string, eventID string, timeout time.Duration) (json.RawMessage, error) {
	if err := c.checkCancelled(); err != nil {
		return nil, err
	}
	id := c.nextStepID("wait:" + name)

	c.mu.Lock()
	rec, ok := c.loaded[id]
	c.mu.Unlock()
	if ok && rec.Completed {
		return rec.Value, nil
	}

	payload, received := c.bus.Poll(eventID, c.runID)
	if !received {
		var at time.Time
		if timeout > 0 {
			at = time.Now().Add(timeout)
		}
		return nil, &SuspendError{At: at, EventID: eventID}
	}

	rec = StepRecord{Completed: true, Value: payload}
	if err := c.store.SaveStep(c.ctx, c.runID, id, rec); err != nil {
		return nil, fmt.Errorf("durable: persist wait %s: %w", name, err)
	}
	c.mu.Lock()
	c.loaded[id] = rec
	c.mu.Unlock()
	return payload, nil
}

// Switch memoizes the chosen branch's result, so a non-deterministic or
// time-varying condition evaluated outside Step can't pick a different
// branch on replay.
func (c *Context) Switch(name string, branch string, cases map[string]func() (any, error)) (json.RawMessage, error) {
	fn, ok := cases[branch]
	if !ok {
		return nil, fmt.Errorf("durable: switch %s: no case for branch %q", name, branch)
	}
	return c.Step("switch:"+name, fn)
}

// Race runs every fn concurrently and memoizes whichever finishes first,
// by index, so replay returns the same winner without re-running the
// losers.
func (c *Context) Race(name string, fns ...func() (any, error)) (int, json.RawMessage, error) {
	if err := c.checkCancelled(); err != nil {
		return 0, nil, err
	}
	id := c.nextStepID("race:" + name)

	c.mu.Lock()
	rec, ok := c.loaded[id]
	c.mu.Unlock()
	if ok && rec.Completed {
		var winner struct {
			Index int
			Value json.RawMessage
		}
		if err := json.Unmarshal(rec.Value, &winner); err != nil {
			return 0, nil, fmt.Errorf("durable: decode race %s: %w", name, err)
		}
		return winner.Index, winner.Value, nil
	}

	type outcome struct {
		index int
		value any
		err   error
	}
	results := make(chan outcome, len(fns))
	for i, fn := range fns {
		i, fn := i, fn
		go func() {
			v, err := fn()
			results <- outcome{index: i, value: v, err: err}
		}()
	}
	first := <-results

	raw, err := json.Marshal(first.value)
	if err != nil {
		return 0, nil, fmt.Errorf("durable: marshal race %s winner: %w", name, err)
	}
	winnerRec := struct {
		Index int
		Value json.RawMessage
	}{Index: first.index, Value: raw}
	winnerRaw, err := json.Marshal(winnerRec)
	if err != nil {
		return 0, nil, fmt.Errorf("durable: marshal race %s record: %w", name, err)
	}

	rec = StepRecord{Completed: true, Value: winnerRaw}
	if first.err != nil {
		rec.Err = first.err.Error()
	}
	if serr := c.store.SaveStep(c.ctx, c.runID, id, rec); serr != nil {
		return 0, nil, fmt.Errorf("durable: persist race %s: %w", name, serr)
	}
	c.mu.Lock()
	c.loaded[id] = rec
	c.mu.Unlock()

	return first.index, raw, first.err
}

// All runs every fn concurrently and memoizes every result by index once
// all have finished, so replay returns the same set of results without
// re-running any of them. Every branch runs to completion; if any branch
// fails, the error of the lowest-index failing branch is memoized instead
// of the results, and is what All (and replay) returns.
func (c *Context) All(name string, fns ...func() (any, error)) ([]json.RawMessage, error) {
	if err := c.checkCancelled(); err != nil {
		return nil, err
	}
	id := c.nextStepID("all:" + name)

	c.mu.Lock()
	rec, ok := c.loaded[id]
	c.mu.Unlock()
	if ok && rec.Completed {
		if rec.Err != "" {
			return nil, errors.New(rec.Err)
		}
		var values []json.RawMessage
		if err := json.Unmarshal(rec.Value, &values); err != nil {
			return nil, fmt.Errorf("durable: decode all %s: %w", name, err)
		}
		return values, nil
	}

	type outcome struct {
		value any
		err   error
	}
	outcomes := make([]outcome, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		i, fn := i, fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := fn()
			outcomes[i] = outcome{value: v, err: err}
		}()
	}
	wg.Wait()

	var branchErr error
	values := make([]json.RawMessage, len(fns))
	for i, o := range outcomes {
		if o.err != nil && branchErr == nil {
			branchErr = o.err
			continue
		}
		raw, merr := json.Marshal(o.value)
		if merr != nil {
			return nil, fmt.Errorf("durable: marshal all %s branch %d: %w", name, i, merr)
		}
		values[i] = raw
	}

	if branchErr != nil {
		rec = StepRecord{Completed: true, Err: branchErr.Error()}
		if serr := c.store.SaveStep(c.ctx, c.runID, id, rec); serr != nil {
			return nil, fmt.Errorf("durable: persist all %s: %w", name, serr)
		}
		c.mu.Lock()
		c.loaded[id] = rec
		c.mu.Unlock()
		return nil, branchErr
	}

	combined, merr := json.Marshal(values)
	if merr != nil {
		return nil, fmt.Errorf("durable: marshal all %s result: %w", name, merr)
	}
	rec = StepRecord{Completed: true, Value: combined}
	if serr := c.store.SaveStep(c.ctx, c.runID, id, rec); serr != nil {
		return nil, fmt.Errorf("durable: persist all %s: %w", name, serr)
	}
	c.mu.Lock()
	c.loaded[id] = rec
	c.mu.Unlock()
	return values, nil
}

// WaitOption configures a single Wait call.
type WaitOption func(*waitConfig)

type waitConfig struct {
	interval time.Duration
}

// WithWaitInterval overrides the poll interval for one Wait call, taking
// precedence over the engine-configured default (spec.md §4.8's "call
// option → engine config → default 500ms" resolution order).
func WithWaitInterval(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.interval = d }
}

// Wait polls predicate until it reports done, returns an error, or the run
// is cancelled or its context is done, pacing checks with
// golang.org/x/time/rate at the resolved poll interval — call option, then
// the engine's configured default, then 500ms (spec.md §4.8). The outcome
// is memoized so replay doesn't re-poll.
func (c *Context) Wait(name string, predicate func() (bool, error), opts ...WaitOption) error {
	if err := c.checkCancelled(); err != nil {
		return err
	}
	id := c.nextStepID("waitfor:" + name)

	c.mu.Lock()
	rec, ok := c.loaded[id]
	c.mu.Unlock()
	if ok && rec.Completed {
		if rec.Err != "" {
			return errors.New(rec.Err)
		}
		return nil
	}

	cfg := waitConfig{interval: c.waitPollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.interval <= 0 {
		cfg.interval = defaultWaitPollInterval
	}
	limiter := rate.NewLimiter(rate.Every(cfg.interval), 1)

	var predErr error
	for {
		done, err := predicate()
		if err != nil {
			predErr = err
			break
		}
		if done {
			break
		}
		if err := limiter.Wait(c.ctx); err != nil {
			predErr = err
			break
		}
		if err := c.checkCancelled(); err != nil {
			return err
		}
	}

	if predErr != nil {
		rec = StepRecord{Completed: true, Err: predErr.Error()}
		if serr := c.store.SaveStep(c.ctx, c.runID, id, rec); serr != nil {
			return fmt.Errorf("durable: persist wait %s: %w", name, serr)
		}
		c.mu.Lock()
		c.loaded[id] = rec
		c.mu.Unlock()
		return predErr
	}

	rec = StepRecord{Completed: true}
	if serr := c.store.SaveStep(c.ctx, c.runID, id, rec); serr != nil {
		return fmt.Errorf("durable: persist wait %s: %w", name, serr)
	}
	c.mu.Lock()
	c.loaded[id] = rec
	c.mu.Unlock()
	return nil
}
