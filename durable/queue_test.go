package durable

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueDequeueEmpty(t *testing.T) {
	q := NewMemoryQueue()
	_, ok, err := q.Dequeue(context.Background())
	if err != nil || ok {
		t.Fatalf("expected no item from an empty queue, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryQueueOrdersByNotBefore(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	later := WorkItem{RunID: "later", NotBefore: now.Add(-1 * time.Hour)}
	earlier := WorkItem{RunID: "earlier", NotBefore: now.Add(-2 * time.Hour)}

	if err := q.Enqueue(ctx, later); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(ctx, earlier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("expected an item, got ok=%v err=%v", ok, err)
	}
	if first.RunID != "earlier" {
		t.Fatalf("expected the earlier NotBefore to dequeue first, got %s", first.RunID)
	}

	second, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a second item, got ok=%v err=%v", ok, err)
	}
	if second.RunID != "later" {
		t.Fatalf("unexpected second item: %s", second.RunID)
	}
}

func TestMemoryQueueWithholdsFutureItems(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	if err := q.Enqueue(ctx, WorkItem{RunID: "future", NotBefore: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, ok, err := q.Dequeue(ctx)
	if err != nil || ok {
		t.Fatalf("expected a future item to be withheld, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryQueueNackIncrementsAttempt(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	item := WorkItem{RunID: "retry", NotBefore: time.Now().Add(-time.Second), Attempt: 0}
	if err := q.Enqueue(ctx, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dequeued, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("expected to dequeue the item, got ok=%v err=%v", ok, err)
	}
	if err := q.Nack(ctx, dequeued); err != nil {
		t.Fatalf("unexpected nack error: %v", err)
	}

	requeued, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("expected the nacked item to be requeued, got ok=%v err=%v", ok, err)
	}
	if requeued.Attempt != 1 {
		t.Fatalf("expected attempt to be incremented to 1, got %d", requeued.Attempt)
	}
}

func TestMemoryQueueAckIsNoop(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Ack(context.Background(), WorkItem{RunID: "anything"}); err != nil {
		t.Fatalf("expected Ack to be a no-op, got %v", err)
	}
}
