package arbor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// bootConfig holds the options accumulated by BootOption closures.
type bootConfig struct {
	logger        zerolog.Logger
	shutdownHooks      bool
	signals            []os.Signal
	extensions         []Extension
	maxConcurrentInit  int
	lazy               bool
}

// WithMaxConcurrentInit bounds how many resources in the same dependency
// wave initialize concurrently. Default is 8.
func WithMaxConcurrentInit(n int) BootOption {
	return func(c *bootConfig) { c.maxConcurrentInit = n }
}

// BootOption configures the boot pipeline.
type BootOption func(*bootConfig)

// WithLogger sets the ambient logger every task, hook, and resource
// init/dispose call receives through its context. Defaults to a no-op
// logger.
func WithLogger(log zerolog.Logger) BootOption {
	return func(c *bootConfig) { c.logger = log }
}

// WithLazy disables eager resource initialization during Boot: resources
// are only initialized the first time GetLazyResourceValue (or a dependent's
// own lazy init) reaches them, respecting topological order among their own
// dependencies (spec.md §4.5 "Lazy mode").
func WithLazy() BootOption {
	return func(c *bootConfig) { c.lazy = true }
}

// WithShutdownHooks makes Runtime.Serve listen for SIGINT/SIGTERM (or the
// given signals, if any) and call Dispose when one arrives.
func WithShutdownHooks(signals ...os.Signal) BootOption {
	return func(c *bootConfig) {
		c.shutdownHooks = true
		if len(signals) > 0 {
			c.signals = signals
		}
	}
}

func defaultBootConfig() *bootConfig {
	return &bootConfig{
		logger:            zerolog.Nop(),
		signals:           []os.Signal{os.Interrupt, syscall.SIGTERM},
		maxConcurrentInit: 8,
	}
}

// Boot runs the Compose, Validate, Wire, and Initialize phases against the
// resource tree rooted at root, returning a live Runtime ready to accept
// RunTask/Emit calls (spec.md §4.1–§4.3).
func Boot(ctx context.Context, root *Resource, opts ...BootOption) (*Runtime, error) {
	cfg := defaultBootConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	s, err := buildStore(root)
	if err != nil {
		return nil, err
	}
	if err := validateStore(s); err != nil {
		return nil, err
	}

	rt := &Runtime{
		s:      s,
		em:     newEventManager(),
		values: make(map[ID]any),
		privates: make(map[ID]any),
		configs: make(map[ID]any),
		logger: cfg.logger,
		cfg:    cfg,
		rootID: root.ID(),
	}

	wire(rt, s)

	bootCtx := withRuntime(withLogger(ctx, rt.logger), rt)
	for _, ext := range cfg.extensions {
		ext.OnBootStart(bootCtx, root)
	}
	rt.emitLogged(bootCtx, EventBootStarted, root.ID())

	layers, err := topoLayersResources(s)
	if err != nil {
		rt.emitLogged(bootCtx, EventBootFailed, err)
		rt.notifyBootEnd(bootCtx, err)
		return nil, err
	}

	if !cfg.lazy {
		if err := initLayers(bootCtx, rt, layers, cfg.maxConcurrentInit); err != nil {
			rt.emitLogged(bootCtx, EventBootFailed, err)
			_ = rt.Dispose(ctx)
			rt.notifyBootEnd(bootCtx, err)
			return nil, err
		}
	}

	rt.emitLogged(bootCtx, EventBootCompleted, root.ID())
	rt.notifyBootEnd(bootCtx, nil)
	return rt, nil
}

func (rt *Runtime) notifyBootEnd(ctx context.Context, err error) {
	for _, ext := range rt.cfg.extensions {
		ext.OnBootEnd(ctx, err)
	}
}

// validateStore checks every declared dependency (eager or lazy) resolves
// to a registered, visible unit, then checks the eager-edge graph for
// cycles.
func validateStore(s *store) error {
	for id, reg := range s.byID {
		chain := consumerChainOf(reg)
		for _, d := range dependenciesOf(reg.unit) {
			target, ok := s.get(d.ID())
			if !ok {
				return newError(ErrRegistrationMissing, d.ID(), "", id, "dependency declared by "+id+" was never registered")
			}
			if !s.visibleFrom(d.ID(), chain) {
				return newError(ErrVisibilityViolation, d.ID(), reg.ownerID, id, "dependency "+d.ID()+" is not exported to "+id)
			}
			_ = target
		}
	}

	cycle := buildDepGraph(s).detectCycle()
	if cycle != nil {
		return newError(ErrDependencyCycle, cycle[0], "", "", fmt.Sprintf("dependency cycle: %v", cycle))
	}
	return nil
}

// topoLayersResources groups resources into waves: every resource in a wave
// has all its eager resource-to-resource dependencies satisfied by an
// earlier wave, so a wave's members can initialize concurrently (Kahn's
// algorithm, BFS-layered instead of a single flat queue).
func topoLayersResources(s *store) ([][]*registration, error) {
	resources := s.resources()
	indeg := make(map[ID]int, len(resources))
	adj := make(map[ID][]ID)
	byID := make(map[ID]*registration, len(resources))
	for _, r := range resources {
		indeg[r.unit.ID()] = 0
		byID[r.unit.ID()] = r
	}
	for _, r := range resources {
		for _, d := range dependenciesOf(r.unit) {
			if d.Mode() != ModeEager {
				continue
			}
			if _, isResource := byID[d.ID()]; !isResource {
				continue
			}
			adj[d.ID()] = append(adj[d.ID()], r.unit.ID())
			indeg[r.unit.ID()]++
		}
	}

	var layer []ID
	for _, r := range resources {
		if indeg[r.unit.ID()] == 0 {
			layer = append(layer, r.unit.ID())
		}
	}

	var layers [][]*registration
	placed := 0
	for len(layer) > 0 {
		regs := make([]*registration, len(layer))
		for i, id := range layer {
			regs[i] = byID[id]
		}
		layers = append(layers, regs)
		placed += len(layer)

		var next []ID
		for _, id := range layer {
			for _, dependent := range adj[id] {
				indeg[dependent]--
				if indeg[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		layer = next
	}
	if placed != len(resources) {
		return nil, newError(ErrDependencyCycle, "", "", "", "resource initialization graph has a cycle")
	}
	return layers, nil
}

// wire binds every event, hook, and task-as-hook-source, and applies
// everywhere-scoped middleware to the units it matches.
func wire(rt *Runtime, s *store) {
	for id, reg := range s.byID {
		switch u := reg.unit.(type) {
		case *Event:
			rt.em.registerEvent(u)
		case *Hook:
			rt.em.bindHook(u, rt)
		case *Task:
			rt.em.bindTaskHook(u, rt)
		}
		_ = id
	}

	var taskMWs []*TaskMiddleware
	var resMWs []*ResourceMiddleware
	for _, reg := range s.byID {
		switch u := reg.unit.(type) {
		case *TaskMiddleware:
			taskMWs = append(taskMWs, u)
		case *ResourceMiddleware:
			resMWs = append(resMWs, u)
		}
	}
	for _, reg := range s.byID {
		if t, ok := reg.unit.(*Task); ok {
			for _, mw := range taskMWs {
				if mw.appliesTo(t) {
					t.middleware = append(t.middleware, mw)
				}
			}
		}
		if r, ok := reg.unit.(*Resource); ok {
			for _, mw := range resMWs {
				if mw.appliesTo(r) {
					r.middleware = append(r.middleware, mw)
				}
			}
		}
	}
}

// Runtime is the live, post-boot surface: resource values, the event
// dispatcher, and the entry points (RunTask, Emit) callers and exposure
// adapters use to drive the system.
type Runtime struct {
	s        *store
	em       *eventManager
	mu       sync.RWMutex
	values   map[ID]any
	privates map[ID]any
	configs  map[ID]any
	order    []ID
	logger   zerolog.Logger
	cfg      *bootConfig
	lazyMu   sync.Mutex
	rootID   ID
}

func (rt *Runtime) initResource(ctx context.Context, res *Resource) error {
	var private any
	if res.contextFactory != nil {
		private = res.contextFactory()
	}
	rt.mu.Lock()
	rt.privates[res.id] = private
	rt.mu.Unlock()

	ic := &InitCtx{resourceID: res.id, private: private}

	deps, err := rt.resolveDeps(res.id, dependenciesOf(res))
	if err != nil {
		return err
	}

	cfg, err := res.validateConfig()
	if err != nil {
		return err
	}
	rt.mu.Lock()
	rt.configs[res.id] = cfg
	rt.mu.Unlock()

	next := func(ctx context.Context, cfg any) (any, error) {
		return res.init(ctx, cfg, deps, ic)
	}
	for i := len(res.middleware) - 1; i >= 0; i-- {
		mw := res.middleware[i]
		prev := next
		mwDeps, derr := rt.resolveDeps(mw.id, dependenciesOf(mw))
		if derr != nil {
			return derr
		}
		next = func(ctx context.Context, cfg any) (any, error) {
			return mw.run(ctx, res, cfg, mwDeps, prev, ic)
		}
	}

	value, err := next(ctx, cfg)
	if err != nil {
		return wrapError(ErrResourceConfig, res.id, err, "resource init failed")
	}

	rt.mu.Lock()
	rt.values[res.id] = value
	rt.order = append(rt.order, res.id)
	rt.mu.Unlock()
	return nil
}

func (rt *Runtime) resolveDeps(ownerID ID, deps []Dependency) (Deps, error) {
	values := globalPoolManager.acquireDepsValues()
	for _, d := range deps {
		if d.Mode() != ModeEager {
			continue
		}
		v, err := rt.valueFor(d.ID())
		if err != nil {
			globalPoolManager.releaseDepsValues(values)
			return Deps{}, wrapError(ErrRegistrationMissing, d.ID(), err, "eager dependency of "+ownerID+" failed to resolve")
		}
		values[d.ID()] = v
	}
	lazy := func(id ID) (any, error) { return rt.valueFor(id) }
	return newDeps(values, lazy), nil
}

func (rt *Runtime) valueFor(id ID) (any, error) {
	reg, ok := rt.s.get(id)
	if !ok {
		return nil, newError(ErrRegistrationMissing, id, "", "", "no unit registered with this id")
	}
	if res, ok := reg.unit.(*Resource); ok {
		rt.mu.RLock()
		v, ready := rt.values[res.id]
		rt.mu.RUnlock()
		if !ready {
			return nil, newError(ErrRegistrationMissing, id, "", "", "resource not yet initialized")
		}
		return v, nil
	}
	return reg.unit, nil
}

func (rt *Runtime) hasListeners(eventID ID) bool { return rt.em.hasListeners(eventID) }

// emit dispatches payload to eventID's hooks and returns the EventCtx built
// for this emission (so a caller can check Suppressed()) along with the
// joined error from any hook that failed.
func (rt *Runtime) emit(ctx context.Context, e *Event, payload any) (*EventCtx, error) {
	validated, err := e.validatePayload(payload)
	if err != nil {
		return nil, err
	}
	return rt.em.dispatch(ctx, e.id, validated)
}

// emitLogged emits an internal lifecycle event, logging (not propagating)
// any hook failure — boot/dispose must not fail because an observer hook
// did.
func (rt *Runtime) emitLogged(ctx context.Context, eventID ID, payload any) {
	if _, err := rt.em.dispatch(ctx, eventID, payload); err != nil {
		rt.logger.Error().Err(err).Str("event", eventID).Msg("lifecycle hook failed")
	}
}

// Emit runs every hook bound to event with payload, in registration order.
// Fails with runtime.accessViolation if the root resource does not export
// event's id to callers outside the tree (spec.md §4.5, §6, P6).
func (rt *Runtime) Emit(ctx context.Context, event *Event, payload any) error {
	if err := rt.checkExported(event.id); err != nil {
		return err
	}
	ctx = withRuntime(withLogger(ctx, rt.logger), rt)
	_, err := rt.emit(ctx, event, payload)
	return err
}

// RunTask invokes task with input through its full pipeline. Fails with
// runtime.accessViolation if the root resource does not export task's id to
// callers outside the tree (spec.md §4.5, §6, P6).
func (rt *Runtime) RunTask(ctx context.Context, task *Task, input any) (any, error) {
	if err := rt.checkExported(task.id); err != nil {
		return nil, err
	}
	ctx = withRuntime(withLogger(ctx, rt.logger), rt)
	return runTask(ctx, rt, task, input)
}

// ResourceValue returns a booted resource's value by id. Fails synchronously
// with runtime.accessViolation if the root resource does not export id
// (spec.md §4.5: "fails synchronously for getResourceValue").
func (rt *Runtime) ResourceValue(id ID) (any, error) {
	if err := rt.checkExported(id); err != nil {
		return nil, err
	}
	return rt.valueFor(id)
}

// checkExported enforces the root resource's exports list (if declared)
// against a Runtime Surface call targeting id, per spec.md §4.5's "Exports
// enforcement". If the root resource omits exports entirely, every
// registered id is reachable through the surface (the backward-compatible
// default spec.md §4.5 calls out explicitly).
func (rt *Runtime) checkExported(id ID) error {
	if _, ok := rt.s.get(id); !ok {
		return newError(ErrRegistrationMissing, id, "", "", "no unit registered with this id")
	}
	if rt.s.visibleFrom(id, nil) {
		return nil
	}
	return rt.accessViolation(id)
}

func (rt *Runtime) accessViolation(id ID) *Error {
	var exported []ID
	if rootReg, ok := rt.s.get(rt.rootID); ok {
		if rootRes, ok := rootReg.unit.(*Resource); ok {
			exported = rt.rootExportedIDs(rootRes)
		}
	}
	return &Error{
		Kind:        ErrRuntimeAccessViolation,
		TargetID:    id,
		OwnerID:     rt.rootID,
		ExportedIDs: exported,
		Hint:        "id is not exported by the root resource; see ExportedIDs for the allowed set",
	}
}

// rootExportedIDs lists the ids visible to a Runtime Surface caller: every
// registered id when root omits exports (or declares WithExportAll), or
// exactly root's declared export list otherwise.
func (rt *Runtime) rootExportedIDs(root *Resource) []ID {
	if root.exportAll || !root.exportsDeclared {
		ids := make([]ID, 0, len(rt.s.byID))
		for id := range rt.s.byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	}
	out := append([]ID(nil), root.exports...)
	sort.Strings(out)
	return out
}

// GetLazyResourceValue returns id's resource value, initializing it (and any
// of its own not-yet-initialized eager resource dependencies, in topological
// order) on first access. Safe to call concurrently; safe to call on a
// resource that eager Boot already initialized (a no-op in that case).
func (rt *Runtime) GetLazyResourceValue(ctx context.Context, id ID) (any, error) {
	if err := rt.checkExported(id); err != nil {
		return nil, err
	}
	reg, ok := rt.s.get(id)
	if !ok {
		return nil, newError(ErrRegistrationMissing, id, "", "", "no unit registered with this id")
	}
	res, ok := reg.unit.(*Resource)
	if !ok {
		return nil, newError(ErrRegistrationMissing, id, "", "", id+" is not a resource")
	}

	ctx = withRuntime(withLogger(ctx, rt.logger), rt)
	rt.lazyMu.Lock()
	defer rt.lazyMu.Unlock()
	if err := rt.ensureInitialized(ctx, res, make(map[ID]bool)); err != nil {
		return nil, err
	}
	return rt.valueFor(id)
}

// ensureInitialized recursively initializes res's not-yet-initialized eager
// resource dependencies before res itself, under rt.lazyMu so concurrent
// lazy accesses never double-initialize the same resource.
func (rt *Runtime) ensureInitialized(ctx context.Context, res *Resource, visiting map[ID]bool) error {
	rt.mu.RLock()
	_, done := rt.values[res.id]
	rt.mu.RUnlock()
	if done {
		return nil
	}
	if visiting[res.id] {
		return newError(ErrDependencyCycle, res.id, "", "", "cycle while lazily initializing "+res.id)
	}
	visiting[res.id] = true

	for _, d := range dependenciesOf(res) {
		if d.Mode() != ModeEager {
			continue
		}
		depReg, ok := rt.s.get(d.ID())
		if !ok {
			continue
		}
		if depRes, ok := depReg.unit.(*Resource); ok {
			if err := rt.ensureInitialized(ctx, depRes, visiting); err != nil {
				return err
			}
		}
	}

	return rt.initResource(ctx, res)
}

// TaskByID looks up a registered task by id, for callers (HTTP exposure,
// the tunnel client's server side) that only have a string id to route on.
func (rt *Runtime) TaskByID(id ID) (*Task, bool) {
	reg, ok := rt.s.get(id)
	if !ok {
		return nil, false
	}
	t, ok := reg.unit.(*Task)
	return t, ok
}

// EventByID looks up a registered event by id.
func (rt *Runtime) EventByID(id ID) (*Event, bool) {
	reg, ok := rt.s.get(id)
	if !ok {
		return nil, false
	}
	e, ok := reg.unit.(*Event)
	return e, ok
}

// ResourcesTagged returns every resource carrying tagID, in registration
// order — used by HTTP exposure to find the resource(s) declaring tunnel
// allow-lists.
func (rt *Runtime) ResourcesTagged(tagID ID) []*Resource {
	return findUnitsWithTag(rt.s.resourceList(), tagID)
}

// Serve blocks until ctx is cancelled or, if WithShutdownHooks was set at
// Boot, a termination signal arrives — then disposes the runtime.
func (rt *Runtime) Serve(ctx context.Context) error {
	if rt.cfg != nil && rt.cfg.shutdownHooks {
		sigCtx, stop := signal.NotifyContext(ctx, rt.cfg.signals...)
		defer stop()
		<-sigCtx.Done()
	} else {
		<-ctx.Done()
	}
	return rt.Dispose(context.Background())
}

// Dispose tears down every initialized resource in reverse init order,
// joining (not short-circuiting on) individual dispose failures.
func (rt *Runtime) Dispose(ctx context.Context) error {
	ctx = withRuntime(withLogger(ctx, rt.logger), rt)
	for _, ext := range rt.cfg.extensions {
		ext.OnDisposeStart(ctx)
	}
	rt.emitLogged(ctx, EventDisposeStarted, nil)

	rt.mu.RLock()
	order := append([]ID(nil), rt.order...)
	rt.mu.RUnlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		reg, ok := rt.s.get(id)
		if !ok {
			continue
		}
		res := reg.unit.(*Resource)
		if res.dispose == nil {
			continue
		}
		rt.mu.RLock()
		value := rt.values[id]
		cfg := rt.configs[id]
		private := rt.privates[id]
		rt.mu.RUnlock()

		ic := &InitCtx{resourceID: id, private: private}
		deps, err := rt.resolveDeps(id, dependenciesOf(res))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := res.dispose(ctx, value, cfg, deps, ic); err != nil {
			wrapped := wrapError(ErrResourceConfig, id, err, "resource dispose failed")
			rt.logger.Error().Err(wrapped).Str("resource", id).Msg("dispose failed")
			errs = append(errs, wrapped)
		}
	}

	disposeErr := errors.Join(errs...)
	rt.emitLogged(ctx, EventDisposeCompleted, nil)
	for _, ext := range rt.cfg.extensions {
		ext.OnDisposeEnd(ctx, disposeErr)
	}
	return disposeErr
}
