// Package arbor is a general-purpose application runtime built from four
// declarative unit kinds and two wrappers.
//
// # Overview
//
// A program is composed from:
//
//  1. Tasks: callable units with input/result validation and a middleware
//     chain around a user function.
//  2. Resources: long-lived values produced by an init function, organized
//     into a tree via Register, with their own middleware and visibility
//     rules.
//  3. Events and Hooks: a publish/subscribe layer with ordered, sequential
//     dispatch and cycle detection.
//  4. TaskMiddleware, ResourceMiddleware, and Tag: wrappers that attach
//     cross-cutting behavior or typed metadata to the other three kinds.
//
// Units are registered under a single root Resource and booted once:
//
//	root := arbor.NewResource("app", initApp,
//	    arbor.WithRegister(db, httpTask),
//	)
//
//	rt, err := arbor.Boot(context.Background(), root)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Dispose(context.Background())
//
//	result, err := rt.RunTask(context.Background(), httpTask, input)
//
// Boot walks the registration tree rooted at root, resolves override
// precedence by depth, computes per-resource export visibility, detects
// dependency cycles, and initializes resources in topological order. The
// returned Runtime is the only supported way to invoke tasks, emit events,
// or read resource values once booted; it enforces the export boundary the
// root resource declares.
//
// # Dependencies
//
// A unit's Dependencies function is evaluated once at boot and frozen; it
// returns a list of Dependency references by id, each either eager (resolved
// before the unit runs) or lazy (resolved on first access through the Deps
// accessor passed into the unit's run/init function).
//
// # Durable execution
//
// The durable subpackage layers replay-safe workflow execution — memoized
// steps, sleeps, waits, switches, and cron/interval schedules — on top of a
// pluggable store, queue, and event bus, for Tasks that need to survive
// process restarts.
package arbor
