package arbor

import "context"

// Extension observes the boot and task-execution lifecycle without being
// part of the dependency graph itself — the home for cross-cutting concerns
// like logging, metrics, and tracing (see the extensions subpackage).
type Extension interface {
	Name() string
	// OnBootStart/OnBootEnd bracket the whole Compose..Initialize pipeline.
	OnBootStart(ctx context.Context, root *Resource)
	OnBootEnd(ctx context.Context, err error)
	// OnTaskStart/OnTaskEnd bracket a single RunTask call.
	OnTaskStart(ctx context.Context, task *Task, input any)
	OnTaskEnd(ctx context.Context, task *Task, result any, err error)
	// OnDisposeStart/OnDisposeEnd bracket Runtime.Dispose.
	OnDisposeStart(ctx context.Context)
	OnDisposeEnd(ctx context.Context, err error)
}

// BaseExtension gives every hook a no-op default so a concrete extension
// only needs to implement the ones it cares about.
type BaseExtension struct{ ExtName string }

func (e BaseExtension) Name() string { return e.ExtName }

func (e BaseExtension) OnBootStart(ctx context.Context, root *Resource)      {}
func (e BaseExtension) OnBootEnd(ctx context.Context, err error)             {}
func (e BaseExtension) OnTaskStart(ctx context.Context, task *Task, input any) {}
func (e BaseExtension) OnTaskEnd(ctx context.Context, task *Task, result any, err error) {}
func (e BaseExtension) OnDisposeStart(ctx context.Context)         {}
func (e BaseExtension) OnDisposeEnd(ctx context.Context, err error) {}

// WithExtensions registers extensions to be notified around boot, every
// task run, and dispose.
func WithExtensions(exts ...Extension) BootOption {
	return func(c *bootConfig) { c.extensions = append(c.extensions, exts...) }
}
