package arbor

import (
	"context"
	"errors"
	"sort"
	"time"
)

// hookBinding is one hook (or task acting as a hook source via WithOn)
// attached to a concrete event id.
type hookBinding struct {
	ownerID    ID
	order      int
	seq        int
	wildcard   bool
	idempotent bool
	invoke     func(ctx context.Context, evt *EventCtx) error
}

// eventManager owns every event's hook bindings and drives dispatch:
// sequential, ordered by hook order then registration, with cycle detection across nested
// emissions (spec.md §6).
type eventManager struct {
	events      map[ID]*Event
	byEvent     map[ID][]hookBinding
	wildcard    []hookBinding
	seq         int
}

func newEventManager() *eventManager {
	return &eventManager{
		events:  make(map[ID]*Event),
		byEvent: make(map[ID][]hookBinding),
	}
}

func (m *eventManager) registerEvent(e *Event) {
	m.events[e.id] = e
}

func (m *eventManager) bindHook(h *Hook, rt *Runtime) {
	invoke := func(ctx context.Context, evt *EventCtx) error {
		deps, err := rt.resolveDeps(h.id, dependenciesOf(h))
		if err != nil {
			return err
		}
		ctx = withCurrentHook(ctx, h.id)
		return h.run(ctx, evt, deps)
	}
	m.addBinding(h.id, h.order, h.events, h.wildcard, h.idempotent, invoke)
}

func (m *eventManager) bindTaskHook(t *Task, rt *Runtime) {
	if len(t.onEvents) == 0 && !t.onWildcard {
		return
	}
	invoke := func(ctx context.Context, evt *EventCtx) error {
		_, err := runTask(ctx, rt, t, evt.Data)
		return err
	}
	m.addBinding(t.id, t.hookOrder, t.onEvents, t.onWildcard, false, invoke)
}

func (m *eventManager) addBinding(ownerID ID, order int, events []ID, wildcard, idempotent bool, invoke func(context.Context, *EventCtx) error) {
	m.seq++
	b := hookBinding{ownerID: ownerID, order: order, seq: m.seq, wildcard: wildcard, idempotent: idempotent, invoke: invoke}
	for _, eventID := range events {
		m.byEvent[eventID] = append(m.byEvent[eventID], b)
	}
	if wildcard {
		m.wildcard = append(m.wildcard, b)
	}
}

func (m *eventManager) hasListeners(eventID ID) bool {
	if len(m.byEvent[eventID]) > 0 {
		return true
	}
	if isFrameworkInternal(eventID) {
		return false
	}
	return len(m.wildcard) > 0
}

func (m *eventManager) bindingsFor(eventID ID) []hookBinding {
	all := append([]hookBinding(nil), m.byEvent[eventID]...)
	if !isFrameworkInternal(eventID) {
		all = append(all, m.wildcard...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].order != all[j].order {
			return all[i].order < all[j].order
		}
		return all[i].seq < all[j].seq
	})
	return all
}

type emitStackKey struct{}

func emitStack(ctx context.Context) []ID {
	ids, _ := ctx.Value(emitStackKey{}).([]ID)
	return ids
}

func withEmitStack(ctx context.Context, ids []ID) context.Context {
	return context.WithValue(ctx, emitStackKey{}, ids)
}

type currentHookKey struct{}

func withCurrentHook(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, currentHookKey{}, id)
}

func currentHook(ctx context.Context) ID {
	id, _ := ctx.Value(currentHookKey{}).(ID)
	return id
}

// allowsReemit reports whether the hook currently executing (per ctx) is
// itself bound to eventID with an idempotency marker — the sole exception
// to the re-entrancy cycle guard (spec.md §4.3, P8).
func (m *eventManager) allowsReemit(ctx context.Context, eventID ID) bool {
	hookID := currentHook(ctx)
	if hookID == "" {
		return false
	}
	for _, b := range m.byEvent[eventID] {
		if b.ownerID == hookID && b.idempotent {
			return true
		}
	}
	for _, b := range m.wildcard {
		if b.ownerID == hookID && b.idempotent {
			return true
		}
	}
	return false
}

// dispatch runs every hook bound to eventID, in order, sequentially,
// collecting (not short-circuiting on) individual hook failures, honoring
// StopPropagation, and bracketing each invocation with the
// EventHookTriggered/EventHookCompleted observability events. It returns the
// EventCtx built for this emission so callers can inspect Suppressed() (used
// by onError dispatch to resolve a failing task as undefined instead of
// rejecting, spec.md §4.4 step 2).
func (m *eventManager) dispatch(ctx context.Context, eventID ID, payload any) (*EventCtx, error) {
	for _, id := range emitStack(ctx) {
		if id == eventID && !m.allowsReemit(ctx, eventID) {
			return nil, newError(ErrEventCycle, eventID, "", "", "event "+eventID+" was re-emitted from within its own dispatch")
		}
	}
	ctx = withEmitStack(ctx, append(append([]ID(nil), emitStack(ctx)...), eventID))

	evt := &EventCtx{ID: eventID, Data: payload, Timestamp: time.Now()}

	errs := globalPoolManager.acquireDispatchErrs()
	defer globalPoolManager.releaseDispatchErrs(errs)
	for _, b := range m.bindingsFor(eventID) {
		if !isFrameworkInternal(eventID) {
			m.dispatchInternal(ctx, EventHookTriggered, HookLifecyclePayload{Hook: b.ownerID, EventID: eventID})
		}
		err := b.invoke(ctx, evt)
		if !isFrameworkInternal(eventID) {
			m.dispatchInternal(ctx, EventHookCompleted, HookLifecyclePayload{Hook: b.ownerID, EventID: eventID, Error: err})
		}
		if err != nil {
			errs = append(errs, wrapError(ErrEventPayload, eventID, err, "hook "+b.ownerID+" failed"))
		}
		if evt.Stopped() {
			break
		}
	}
	return evt, errors.Join(errs...)
}

// dispatchInternal fires an EventHookTriggered/EventHookCompleted
// observability event. Failures in its own listeners are not reported back
// to the original emitter — these are framework-internal and must never
// turn an observer's bug into the observed hook's failure.
func (m *eventManager) dispatchInternal(ctx context.Context, eventID ID, payload any) {
	for _, id := range emitStack(ctx) {
		if id == eventID {
			return
		}
	}
	innerCtx := withEmitStack(ctx, append(append([]ID(nil), emitStack(ctx)...), eventID))
	for _, b := range m.bindingsFor(eventID) {
		_ = b.invoke(innerCtx, &EventCtx{ID: eventID, Data: payload, Timestamp: time.Now()})
	}
}
