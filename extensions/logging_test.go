package extensions

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/arborfn/arbor"
)

func TestLoggingExtensionLogsBootLifecycle(t *testing.T) {
	var buf bytes.Buffer
	ext := NewLoggingExtension(zerolog.New(&buf))

	root := arbor.NewResource("r.root", func(ctx context.Context, cfg any, deps arbor.Deps, ic *arbor.InitCtx) (any, error) {
		return nil, nil
	})

	ext.OnBootStart(context.Background(), root)
	ext.OnBootEnd(context.Background(), nil)

	out := buf.String()
	if !strings.Contains(out, "boot starting") {
		t.Fatalf("expected boot-start log line, got %q", out)
	}
	if !strings.Contains(out, "boot completed") {
		t.Fatalf("expected boot-completed log line, got %q", out)
	}
}

func TestLoggingExtensionLogsBootFailure(t *testing.T) {
	var buf bytes.Buffer
	ext := NewLoggingExtension(zerolog.New(&buf))

	ext.OnBootEnd(context.Background(), context.Canceled)

	if !strings.Contains(buf.String(), "boot failed") {
		t.Fatalf("expected boot-failed log line, got %q", buf.String())
	}
}

func TestLoggingExtensionLogsTaskOutcome(t *testing.T) {
	var buf bytes.Buffer
	ext := NewLoggingExtension(zerolog.New(&buf))

	task := arbor.NewTask("t.one", func(ctx context.Context, input any, deps arbor.Deps) (any, error) {
		return nil, nil
	})

	ext.OnTaskStart(context.Background(), task, nil)
	ext.OnTaskEnd(context.Background(), task, "ok", nil)

	if !strings.Contains(buf.String(), "t.one") {
		t.Fatalf("expected task id in log output, got %q", buf.String())
	}
}
