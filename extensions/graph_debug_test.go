package extensions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/arborfn/arbor"
)

func TestGraphDebugExtensionRendersTreeOnTaskFailure(t *testing.T) {
	var buf strings.Builder
	handler := NewHumanHandler(&buf, -10)
	ext := NewGraphDebugExtension(handler)

	child := arbor.NewResource("r.child", func(ctx context.Context, cfg any, deps arbor.Deps, ic *arbor.InitCtx) (any, error) {
		return nil, nil
	})
	task := arbor.NewTask("t.broken", func(ctx context.Context, input any, deps arbor.Deps) (any, error) {
		return nil, nil
	})
	root := arbor.NewResource("r.root", func(ctx context.Context, cfg any, deps arbor.Deps, ic *arbor.InitCtx) (any, error) {
		return nil, nil
	}, arbor.WithRegister(child), arbor.WithRegister(task))

	rt, err := arbor.Boot(context.Background(), root, arbor.WithExtensions(ext))
	if err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}
	ext.Attach(rt)

	ext.OnTaskEnd(context.Background(), task, nil, errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "Task Failed") {
		t.Fatalf("expected a task-failed section, got %q", out)
	}
	if !strings.Contains(out, "t.broken") {
		t.Fatalf("expected the failing task id in the output, got %q", out)
	}
	if !strings.Contains(out, "r.root") || !strings.Contains(out, "r.child") {
		t.Fatalf("expected the resource tree to include both resources, got %q", out)
	}
}

func TestGraphDebugExtensionSkipsSuccessfulTasks(t *testing.T) {
	var buf strings.Builder
	ext := NewGraphDebugExtension(NewHumanHandler(&buf, -10))

	task := arbor.NewTask("t.ok", func(ctx context.Context, input any, deps arbor.Deps) (any, error) {
		return nil, nil
	})
	ext.OnTaskEnd(context.Background(), task, "ok", nil)

	if buf.Len() != 0 {
		t.Fatalf("expected no output for a successful task, got %q", buf.String())
	}
}

func TestGraphDebugExtensionLogsBootFailure(t *testing.T) {
	var buf strings.Builder
	ext := NewGraphDebugExtension(NewHumanHandler(&buf, -10))

	ext.OnBootEnd(context.Background(), errors.New("init exploded"))

	out := buf.String()
	if !strings.Contains(out, "Boot Failed") || !strings.Contains(out, "init exploded") {
		t.Fatalf("expected a boot-failed section naming the error, got %q", out)
	}
}

func TestSilentHandlerDiscardsEverything(t *testing.T) {
	h := NewSilentHandler()
	if h.Enabled(context.Background(), 0) {
		t.Fatalf("expected SilentHandler to report disabled for every level")
	}
}
