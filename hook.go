package arbor

import "context"

// HookRun is a hook's body: it observes the dispatched EventCtx (id, data,
// timestamp, and StopPropagation) and may return an error, which the event
// manager reports through EventHookCompleted but never lets interrupt
// sibling hooks (spec.md §6).
type HookRun func(ctx context.Context, evt *EventCtx, deps Deps) error

// Hook attaches to one or more events (or "*" for every non-internal event)
// and runs each time one of them is emitted, ordered by WithHookOrderOption
// (smaller first) and then by registration order.
type Hook struct {
	unitBase
	run          HookRun
	dependencies DependencyList
	events       []ID
	wildcard     bool
	order        int
	idempotent   bool
}

// HookOption configures a Hook at construction time.
type HookOption func(*Hook)

// WithHookTags attaches tags to a hook.
func WithHookTags(tags ...*TagRef) HookOption {
	return func(h *Hook) { h.tags = append(h.tags, tags...) }
}

// WithHookDependencies sets the hook's dependency list.
func WithHookDependencies(deps DependencyList) HookOption {
	return func(h *Hook) { h.dependencies = deps }
}

// WithHookOrderOption sets the dispatch order among hooks attached to the
// same event; smaller runs earlier, default 0, ties broken by registration
// order.
func WithHookOrderOption(order int) HookOption {
	return func(h *Hook) { h.order = order }
}

// WithHookIdempotentReemit marks this hook as allowed to re-emit, from
// within its own run, one of the events it is itself bound to — the one
// exception spec.md §4.3/§6/P8 carve out of the emission-cycle guard ("the
// same hook re-emitting the same event is permitted only if the hook
// registered an idempotency marker").
func WithHookIdempotentReemit() HookOption {
	return func(h *Hook) { h.idempotent = true }
}

// NewHook declares a hook against one or more event ids ("*" for every
// non-internal event).
func NewHook(id ID, on []ID, run HookRun, opts ...HookOption) *Hook {
	requireID(id)
	h := &Hook{
		unitBase:     newUnitBase(id, KindHook, nil),
		run:          run,
		dependencies: DependsOn(),
	}
	for _, eventID := range on {
		if eventID == "*" {
			h.wildcard = true
			continue
		}
		h.events = append(h.events, eventID)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
