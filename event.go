package arbor

import (
	"time"

	"github.com/arborfn/arbor/schema"
)

// EventCtx is the Event object a Hook receives on each dispatch (spec.md
// §4.3 step 2): the event id, its validated payload, a dispatch timestamp,
// and the ability to halt remaining subscribers for this one emission.
type EventCtx struct {
	ID        ID
	Data      any
	Timestamp time.Time

	stopped    bool
	suppressed bool
}

// StopPropagation halts dispatch to any subscriber still queued behind this
// one for the current emission (spec.md §4.3 step 5).
func (e *EventCtx) StopPropagation() { e.stopped = true }

// Stopped reports whether StopPropagation was called during this emission.
func (e *EventCtx) Stopped() bool { return e.stopped }

// Suppress marks the emission as handled without converting to a rejection.
// An onError hook calls this to tell runTask the failing task should resolve
// with a nil result instead of propagating the original error (spec.md
// §4.4 step 2, §7).
func (e *EventCtx) Suppress() { e.suppressed = true }

// Suppressed reports whether Suppress was called during this emission.
func (e *EventCtx) Suppressed() bool { return e.suppressed }

// Event is a named channel of payloads. Emitting one runs every attached
// Hook in registration order, sequentially, on the emitting goroutine
// (spec.md §6); hooks never run concurrently with each other for the same
// emission.
type Event struct {
	unitBase
	payloadSchema schema.Schema
}

// EventOption configures an Event at construction time.
type EventOption func(*Event)

// WithEventTags attaches tags to an event.
func WithEventTags(tags ...*TagRef) EventOption {
	return func(e *Event) { e.tags = append(e.tags, tags...) }
}

// WithEventMeta attaches a metadata entry to an event.
func WithEventMeta(key string, value any) EventOption {
	return func(e *Event) { e.setMeta(key, value) }
}

// WithPayloadSchema validates a payload before it's dispatched to hooks.
func WithPayloadSchema(s schema.Schema) EventOption {
	return func(e *Event) { e.payloadSchema = s }
}

// NewEvent declares an event. id must be unique among events; the "*"
// id is reserved for wildcard hook registration and may not be used.
func NewEvent(id ID, opts ...EventOption) *Event {
	requireID(id)
	if id == "*" {
		panic(newError(ErrDefinitionInvalid, id, "", "", `"*" is reserved for wildcard hooks`))
	}
	e := &Event{unitBase: newUnitBase(id, KindEvent, nil)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Event) validatePayload(payload any) (any, error) {
	if e.payloadSchema == nil {
		return payload, nil
	}
	validated, err := e.payloadSchema.Validate(payload)
	if err != nil {
		return nil, wrapError(ErrEventPayload, e.id, err, "event payload failed validation")
	}
	return validated, nil
}

// isFrameworkInternal reports whether an event id is one of the runtime's
// own lifecycle/observability events, excluded from wildcard ("*") hook
// registration so a wildcard listener can never trigger a feedback loop by
// observing its own observation (spec.md §4.3, §6).
func isFrameworkInternal(id ID) bool {
	switch id {
	case EventBootStarted, EventBootCompleted, EventBootFailed, EventDisposeStarted, EventDisposeCompleted,
		EventHookTriggered, EventHookCompleted:
		return true
	}
	return false
}

// Runtime lifecycle events, emitted by Boot/Runtime around the pipeline
// (spec.md §4.3).
const (
	EventBootStarted      ID = "arbor.boot.started"
	EventBootCompleted    ID = "arbor.boot.completed"
	EventBootFailed       ID = "arbor.boot.failed"
	EventDisposeStarted   ID = "arbor.dispose.started"
	EventDisposeCompleted ID = "arbor.dispose.completed"

	// EventHookTriggered/EventHookCompleted bracket every hook invocation
	// with {hook, eventId, error?} payloads (spec.md §4.3 "Observability").
	EventHookTriggered ID = "arbor.hook.triggered"
	EventHookCompleted ID = "arbor.hook.completed"
)

// HookLifecyclePayload is the payload carried by EventHookTriggered (error
// always nil) and EventHookCompleted (error set if the hook failed).
type HookLifecyclePayload struct {
	Hook    ID
	EventID ID
	Error   error
}
