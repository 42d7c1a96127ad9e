package arbor

import (
	"context"
	"testing"
)

func TestNewHookWildcard(t *testing.T) {
	h := NewHook("h.any", []ID{"*"}, func(ctx context.Context, evt *EventCtx, deps Deps) error { return nil })
	if !h.wildcard {
		t.Fatalf("expected wildcard hook")
	}
	if len(h.events) != 0 {
		t.Fatalf("expected no specific events, got %v", h.events)
	}
}

func TestNewHookSpecificEvents(t *testing.T) {
	h := NewHook("h.specific", []ID{"ev.a", "ev.b"}, func(ctx context.Context, evt *EventCtx, deps Deps) error { return nil })
	if h.wildcard {
		t.Fatalf("expected non-wildcard hook")
	}
	if len(h.events) != 2 {
		t.Fatalf("expected 2 events, got %v", h.events)
	}
}

func TestHookOrderOption(t *testing.T) {
	h := NewHook("h.ordered", []ID{"ev.a"}, func(ctx context.Context, evt *EventCtx, deps Deps) error { return nil },
		WithHookOrderOption(5))
	if h.order != 5 {
		t.Fatalf("expected order 5, got %d", h.order)
	}
}

func TestHookIdempotentReemitOption(t *testing.T) {
	h := NewHook("h.reemit", []ID{"ev.a"}, func(ctx context.Context, evt *EventCtx, deps Deps) error { return nil },
		WithHookIdempotentReemit())
	if !h.idempotent {
		t.Fatalf("expected idempotent marker set")
	}
}
