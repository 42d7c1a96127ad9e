// Package durable implements replay-safe workflow execution on top of the
// arbor runtime: memoized steps, sleep/wait/switch/race primitives, and
// cron/interval-scheduled, at-least-once queue delivery.
package durable

import (
	"encoding/json"
	"time"
)

// RunID identifies one workflow execution.
type RunID = string

// StepID identifies one memoized step within a run.
type StepID = string

// RunStatus is a run's lifecycle state.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StepRecord is a memoized step's outcome, replayed verbatim on retry
// instead of re-executing the step body.
type StepRecord struct {
	Completed bool
	Value     json.RawMessage
	Err       string
}

// RunState is a run's durable bookkeeping: status, the workflow id that
// produced it, the input it was started with, and its retry bookkeeping
// (spec.md §4.8's execution record carries the same attempt/maxAttempts
// pair).
type RunState struct {
	RunID       RunID
	WorkflowID  string
	Status      RunStatus
	Input       json.RawMessage
	Result      json.RawMessage
	Error       string
	Attempt     int
	MaxAttempts int
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// WorkItem is one unit of queued work: run WorkflowID's function for RunID,
// not before NotBefore (cron/interval scheduling delays delivery by setting
// this in the future).
type WorkItem struct {
	RunID      RunID
	WorkflowID string
	Input      json.RawMessage
	NotBefore  time.Time
	Attempt    int
}

// WorkflowFunc is a durable workflow body. It receives a DurableContext for
// memoized steps, sleeps, and event waits, and the run's raw input.
type WorkflowFunc func(ctx *Context, input json.RawMessage) (any, error)

// WorkflowDefinition binds an id to its function and optional schedule.
type WorkflowDefinition struct {
	ID       string
	Fn       WorkflowFunc
	Schedule string // cron expression, interval ("@every 5m"), or "" for on-demand only
}
