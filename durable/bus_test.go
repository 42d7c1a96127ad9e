package durable

import (
	"encoding/json"
	"testing"
)

func TestMemoryBusPollWithoutPublishMisses(t *testing.T) {
	bus := NewMemoryBus()
	if _, ok := bus.Poll("ev", "run1"); ok {
		t.Fatalf("expected no payload before publish")
	}
}

func TestMemoryBusPublishThenPollDeliversOnce(t *testing.T) {
	bus := NewMemoryBus()
	bus.Publish("ev", "run1", json.RawMessage(`{"a":1}`))

	payload, ok := bus.Poll("ev", "run1")
	if !ok {
		t.Fatalf("expected the published payload to be delivered")
	}
	if string(payload) != `{"a":1}` {
		t.Fatalf("unexpected payload: %s", payload)
	}

	if _, ok := bus.Poll("ev", "run1"); ok {
		t.Fatalf("expected the payload to be consumed, not replayed")
	}
}

func TestMemoryBusScopesByRunID(t *testing.T) {
	bus := NewMemoryBus()
	bus.Publish("ev", "run1", json.RawMessage(`"for-run1"`))

	if _, ok := bus.Poll("ev", "run2"); ok {
		t.Fatalf("expected a different run id to not observe another run's event")
	}
	if _, ok := bus.Poll("ev", "run1"); !ok {
		t.Fatalf("expected run1 to still observe its own event")
	}
}
