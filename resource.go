package arbor

import (
	"context"

	"github.com/arborfn/arbor/schema"
)

// InitCtx is the handle a Resource's init/dispose receives in addition to
// Deps: it identifies the owning resource and exposes the private context
// value shared between init and dispose, plus the ability to attach task
// interceptors (spec.md §5, "only installable during a resource's init").
type InitCtx struct {
	resourceID ID
	private    any
}

// ResourceID returns the id of the resource whose init/dispose is running.
func (c *InitCtx) ResourceID() ID { return c.resourceID }

// Private returns the value produced by the resource's context factory, or
// nil if none was configured.
func (c *InitCtx) Private() any { return c.private }

// Intercept attaches an interceptor to task, attributed to this InitCtx's
// owning resource.
func (c *InitCtx) Intercept(task *Task, i Interceptor) {
	task.Intercept(c.resourceID, i)
}

// ResourceInit constructs a resource's value. cfg is the resource's
// validated configuration (nil if none was supplied).
type ResourceInit func(ctx context.Context, cfg any, deps Deps, ic *InitCtx) (any, error)

// ResourceDispose releases a resource's value, called in reverse init order
// during Runtime.Dispose (spec.md §4.5).
type ResourceDispose func(ctx context.Context, value any, cfg any, deps Deps, ic *InitCtx) error

// Resource is a long-lived unit: a value constructed once at boot, shared by
// every dependent, and torn down once at shutdown. It may also register a
// subtree of child units (tasks, resources, events, hooks, middleware),
// giving the boot graph its tree shape (spec.md §4.1).
type Resource struct {
	unitBase

	dependencies   DependencyList
	contextFactory func() any
	init           ResourceInit
	dispose        ResourceDispose

	configSchema schema.Schema
	config       any
	hasConfig    bool

	children        []Unit
	middleware      []*ResourceMiddleware
	exports         []ID
	exportAll       bool
	exportsDeclared bool
}

// ResourceOption configures a Resource at construction time.
type ResourceOption func(*Resource)

// WithResourceTags attaches tags to a resource.
func WithResourceTags(tags ...*TagRef) ResourceOption {
	return func(r *Resource) { r.tags = append(r.tags, tags...) }
}

// WithResourceMeta attaches a metadata entry to a resource.
func WithResourceMeta(key string, value any) ResourceOption {
	return func(r *Resource) { r.setMeta(key, value) }
}

// WithResourceDependencies sets the resource's dependency list.
func WithResourceDependencies(deps DependencyList) ResourceOption {
	return func(r *Resource) { r.dependencies = deps }
}

// WithPrivateContext sets the factory for the value shared between this
// resource's init and dispose, constructed once, before init runs.
func WithPrivateContext(factory func() any) ResourceOption {
	return func(r *Resource) { r.contextFactory = factory }
}

// WithDispose sets the resource's teardown function.
func WithDispose(dispose ResourceDispose) ResourceOption {
	return func(r *Resource) { r.dispose = dispose }
}

// WithConfigSchema validates a resource's config (set via With) before init
// runs.
func WithConfigSchema(s schema.Schema) ResourceOption {
	return func(r *Resource) { r.configSchema = s }
}

// WithRegister registers child units under this resource, giving the boot
// tree its shape. A child is exported to this resource's parent scope by
// default (spec.md §4.1.3, "if R omits exports, every unit it registers is
// exported to R's parent"); narrow that with WithExports or seal the whole
// subtree with WithNoExports.
func WithRegister(units ...Unit) ResourceOption {
	return func(r *Resource) { r.children = append(r.children, units...) }
}

// WithResourceMiddleware attaches resource-flavored middleware explicitly to
// this resource, outer to inner in authored order.
func WithResourceMiddleware(mw ...*ResourceMiddleware) ResourceOption {
	return func(r *Resource) { r.middleware = append(r.middleware, mw...) }
}

// WithExports names the only child ids (or this resource's own id) visible
// to the parent scope, per the export-visibility rule of spec.md §4.1.5.
// Declaring WithExports at all — even with ids later appended by another
// option call — switches this resource off the "export everything" default;
// ids not named here are sealed inside the subtree.
func WithExports(ids ...ID) ResourceOption {
	return func(r *Resource) {
		r.exportsDeclared = true
		r.exports = append(r.exports, ids...)
	}
}

// WithNoExports declares `exports: []`: nothing this resource registers is
// visible outside its own subtree, the explicit form of spec.md §4.1.3's
// "if R declares exports: [], nothing is visible outside R".
func WithNoExports() ResourceOption {
	return func(r *Resource) { r.exportsDeclared = true }
}

// WithExportAll makes every direct child visible to the parent scope. This
// is the same outcome as omitting exports entirely; it exists for callers
// who want the default spelled out explicitly at the call site.
func WithExportAll() ResourceOption {
	return func(r *Resource) { r.exportAll = true }
}

// NewResource declares a resource.
func NewResource(id ID, init ResourceInit, opts ...ResourceOption) *Resource {
	requireID(id)
	r := &Resource{
		unitBase:     newUnitBase(id, KindResource, nil),
		dependencies: DependsOn(),
		init:         init,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// With returns a copy of the resource configured with cfg, for reusable
// resource templates that get instantiated once per caller (e.g. a
// database-pool resource registered under several ids with different
// configs). The copy shares the same children, init, and dispose.
func (r *Resource) With(cfg any) *Resource {
	clone := *r
	clone.config = cfg
	clone.hasConfig = true
	return &clone
}

func (r *Resource) validateConfig() (any, error) {
	if r.configSchema == nil {
		return r.config, nil
	}
	validated, err := r.configSchema.Validate(r.config)
	if err != nil {
		return nil, wrapError(ErrResourceConfig, r.id, err, "resource config failed validation")
	}
	return validated, nil
}

// Children returns the units registered directly under this resource.
func (r *Resource) Children() []Unit {
	out := make([]Unit, len(r.children))
	copy(out, r.children)
	return out
}

// exportsID reports whether id, registered directly under r, is visible to
// r's parent scope. The default — neither WithExports nor WithNoExports nor
// WithExportAll declared — is "export everything" (spec.md §4.1.3).
func (r *Resource) exportsID(id ID) bool {
	if r.exportAll {
		return true
	}
	if !r.exportsDeclared {
		return true
	}
	for _, e := range r.exports {
		if e == id {
			return true
		}
	}
	return false
}

// ResourceMiddlewareNext is the continuation a ResourceMiddleware calls to
// proceed to the next middleware, or the resource's own init.
type ResourceMiddlewareNext func(ctx context.Context, cfg any) (any, error)

// ResourceMiddlewareRun is a resource middleware's body, wrapping init the
// same way TaskMiddleware wraps a task's run.
type ResourceMiddlewareRun func(ctx context.Context, res *Resource, cfg any, deps Deps, next ResourceMiddlewareNext, ic *InitCtx) (any, error)

// ResourceMiddleware wraps a Resource's init/dispose.
type ResourceMiddleware struct {
	unitBase
	run          ResourceMiddlewareRun
	dependencies DependencyList
	everywhere   bool
	predicate    func(Unit) bool
}

// ResourceMiddlewareOption configures a ResourceMiddleware at construction.
type ResourceMiddlewareOption func(*ResourceMiddleware)

// WithResourceMiddlewareTags attaches tags to a resource middleware.
func WithResourceMiddlewareTags(tags ...*TagRef) ResourceMiddlewareOption {
	return func(m *ResourceMiddleware) { m.tags = append(m.tags, tags...) }
}

// WithResourceMiddlewareDependencies sets the middleware's own dependencies.
func WithResourceMiddlewareDependencies(deps DependencyList) ResourceMiddlewareOption {
	return func(m *ResourceMiddleware) { m.dependencies = deps }
}

// WithResourceEverywhere auto-applies the middleware to every resource in
// the registering resource's subtree (or those matching predicate).
func WithResourceEverywhere(predicate func(Unit) bool) ResourceMiddlewareOption {
	return func(m *ResourceMiddleware) {
		m.everywhere = true
		m.predicate = predicate
	}
}

// NewResourceMiddleware declares a resource middleware.
func NewResourceMiddleware(id ID, run ResourceMiddlewareRun, opts ...ResourceMiddlewareOption) *ResourceMiddleware {
	requireID(id)
	m := &ResourceMiddleware{
		unitBase:     newUnitBase(id, KindResourceMiddleware, nil),
		run:          run,
		dependencies: DependsOn(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ResourceMiddleware) appliesTo(u Unit) bool {
	if !m.everywhere {
		return false
	}
	if m.predicate == nil {
		return true
	}
	return m.predicate(u)
}
