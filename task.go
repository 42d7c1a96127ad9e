package arbor

import (
	"context"
	"sync"

	"github.com/arborfn/arbor/schema"
)

// InterceptorNext is the continuation an Interceptor calls to proceed to the
// next interceptor (or, for the innermost one, the middleware chain and
// user run function).
type InterceptorNext func(ctx context.Context, input any) (any, error)

// Interceptor wraps a Task's pipeline from the outside of its middleware
// chain. Unlike TaskMiddleware (declared on the task itself, or attached
// "everywhere" by a resource subtree), interceptors are installed at boot
// time by a resource's init, and the task records which resources installed
// one (GetInterceptingResourceIDs).
type Interceptor func(next InterceptorNext, ctx context.Context, input any) (any, error)

// TaskRun is a task's user function.
type TaskRun func(ctx context.Context, input any, deps Deps) (any, error)

// Task is a callable unit: input validation, a middleware chain, the user
// function, result validation, and onError/afterRun observability.
type Task struct {
	unitBase

	run          TaskRun
	inputSchema  schema.Schema
	resultSchema schema.Schema
	middleware   []*TaskMiddleware
	dependencies DependencyList

	onEvents   []ID
	onWildcard bool
	hookOrder  int

	onError Event
	after   Event

	mu                      sync.Mutex
	interceptors            []Interceptor
	interceptingResourceIDs []ID
	interceptingSeen        map[ID]bool
}

// TaskOption configures a Task at construction time.
type TaskOption func(*Task)

// WithTaskTags attaches tags to a task.
func WithTaskTags(tags ...*TagRef) TaskOption {
	return func(t *Task) { t.tags = append(t.tags, tags...) }
}

// WithTaskMeta attaches a metadata entry to a task.
func WithTaskMeta(key string, value any) TaskOption {
	return func(t *Task) { t.setMeta(key, value) }
}

// WithInputSchema validates Task.run's input before it runs.
func WithInputSchema(s schema.Schema) TaskOption {
	return func(t *Task) { t.inputSchema = s }
}

// WithResultSchema validates Task.run's result before it's returned.
func WithResultSchema(s schema.Schema) TaskOption {
	return func(t *Task) { t.resultSchema = s }
}

// WithTaskMiddleware appends task-flavored middleware, outer to inner in
// call order.
func WithTaskMiddleware(mw ...*TaskMiddleware) TaskOption {
	return func(t *Task) { t.middleware = append(t.middleware, mw...) }
}

// WithTaskDependencies sets the dependency list function, evaluated once at
// boot.
func WithTaskDependencies(deps DependencyList) TaskOption {
	return func(t *Task) { t.dependencies = deps }
}

// WithOn makes the task also a hook source for the given event ids (or "*"
// for every non-internal event), run after the task's own result settles.
func WithOn(eventIDs ...ID) TaskOption {
	return func(t *Task) {
		for _, id := range eventIDs {
			if id == "*" {
				t.onWildcard = true
				continue
			}
			t.onEvents = append(t.onEvents, id)
		}
	}
}

// WithHookOrder sets the dispatch order when the task acts as a hook source
// via WithOn; smaller runs earlier, default 0.
func WithHookOrder(order int) TaskOption {
	return func(t *Task) { t.hookOrder = order }
}

// NewTask declares a task. id must be unique among tasks.
func NewTask(id ID, run TaskRun, opts ...TaskOption) *Task {
	requireID(id)
	t := &Task{
		unitBase:         newUnitBase(id, KindTask, nil),
		run:              run,
		dependencies:     DependsOn(),
		onError:          *NewEvent(id + ".onError"),
		after:            *NewEvent(id + ".afterRun"),
		interceptingSeen: make(map[ID]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnErrorEvent is the event emitted when the task's input/result validation
// or run fails, per spec.md §4.4 step 2/§7.
func (t *Task) OnErrorEvent() *Event { return &t.onError }

// AfterRunEvent is the observability event emitted after a successful run
// when at least one listener is registered (spec.md §4.4 step 7).
func (t *Task) AfterRunEvent() *Event { return &t.after }

// Intercept installs an interceptor attributed to ownerResourceID. Called by
// a Resource's init through InitCtx.Intercept. Intercept does not check the
// boot phase: a call made after boot also installs the interceptor.
func (t *Task) Intercept(ownerResourceID ID, i Interceptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interceptors = append(t.interceptors, i)
	if !t.interceptingSeen[ownerResourceID] {
		t.interceptingSeen[ownerResourceID] = true
		t.interceptingResourceIDs = append(t.interceptingResourceIDs, ownerResourceID)
	}
}

// GetInterceptingResourceIDs returns, in first-call registration order, the
// unique resource ids that installed an interceptor on this task.
func (t *Task) GetInterceptingResourceIDs() []ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ID, len(t.interceptingResourceIDs))
	copy(out, t.interceptingResourceIDs)
	return out
}

func (t *Task) snapshotInterceptors() []Interceptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Interceptor, len(t.interceptors))
	copy(out, t.interceptors)
	return out
}

// TaskMiddlewareNext is the continuation a TaskMiddleware calls to proceed
// further into the chain.
type TaskMiddlewareNext func(ctx context.Context, input any) (any, error)

// TaskMiddlewareRun is a task middleware's body.
type TaskMiddlewareRun func(ctx context.Context, task *Task, input any, next TaskMiddlewareNext, deps Deps, config any) (any, error)

// TaskMiddleware wraps a Task's run, nested strictly in authored order
// (spec.md §5: m1.before, m2.before, run, m2.after, m1.after).
type TaskMiddleware struct {
	unitBase
	run          TaskMiddlewareRun
	dependencies DependencyList
	everywhere   bool
	predicate    func(Unit) bool
}

// TaskMiddlewareOption configures a TaskMiddleware at construction.
type TaskMiddlewareOption func(*TaskMiddleware)

// WithTaskMiddlewareTags attaches tags to a task middleware.
func WithTaskMiddlewareTags(tags ...*TagRef) TaskMiddlewareOption {
	return func(m *TaskMiddleware) { m.tags = append(m.tags, tags...) }
}

// WithTaskMiddlewareDependencies sets the middleware's own dependencies.
func WithTaskMiddlewareDependencies(deps DependencyList) TaskMiddlewareOption {
	return func(m *TaskMiddleware) { m.dependencies = deps }
}

// WithEverywhere auto-applies the middleware to every task in the
// registering resource's subtree (or those matching predicate, if given),
// bounded by that resource's export boundary (spec.md §4.1.5).
func WithEverywhere(predicate func(Unit) bool) TaskMiddlewareOption {
	return func(m *TaskMiddleware) {
		m.everywhere = true
		m.predicate = predicate
	}
}

// NewTaskMiddleware declares a task middleware.
func NewTaskMiddleware(id ID, run TaskMiddlewareRun, opts ...TaskMiddlewareOption) *TaskMiddleware {
	requireID(id)
	m := &TaskMiddleware{
		unitBase:     newUnitBase(id, KindTaskMiddleware, nil),
		run:          run,
		dependencies: DependsOn(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *TaskMiddleware) appliesTo(u Unit) bool {
	if !m.everywhere {
		return false
	}
	if m.predicate == nil {
		return true
	}
	return m.predicate(u)
}
