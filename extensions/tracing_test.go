package extensions

import (
	"context"
	"errors"
	"testing"

	"github.com/arborfn/arbor"
)

func TestTracingExtensionTracksSpanLifecycle(t *testing.T) {
	ext := NewTracingExtension("arbor-test")
	task := arbor.NewTask("t.traced", func(ctx context.Context, input any, deps arbor.Deps) (any, error) {
		return nil, nil
	})

	ctx := context.Background()
	ext.OnTaskStart(ctx, task, nil)
	if _, ok := ext.spans.Load(ctx); !ok {
		t.Fatalf("expected a span to be recorded for the running task")
	}

	ext.OnTaskEnd(ctx, task, "ok", nil)
	if _, ok := ext.spans.Load(ctx); ok {
		t.Fatalf("expected the span to be removed once the task finished")
	}
}

func TestTracingExtensionOnTaskEndWithoutStartIsNoop(t *testing.T) {
	ext := NewTracingExtension("arbor-test")
	task := arbor.NewTask("t.unstarted", func(ctx context.Context, input any, deps arbor.Deps) (any, error) {
		return nil, nil
	})

	ext.OnTaskEnd(context.Background(), task, nil, errors.New("never started"))
}
