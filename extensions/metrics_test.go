package extensions

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arborfn/arbor"
)

func TestMetricsExtensionTracksBootSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := NewMetricsExtension(reg)

	ext.OnBootEnd(context.Background(), nil)
	if got := testutil.ToFloat64(ext.bootSuccess); got != 1 {
		t.Fatalf("expected boot_success 1, got %v", got)
	}

	ext.OnBootEnd(context.Background(), errors.New("boom"))
	if got := testutil.ToFloat64(ext.bootSuccess); got != 0 {
		t.Fatalf("expected boot_success 0, got %v", got)
	}
}

func TestMetricsExtensionTracksTaskRunsAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := NewMetricsExtension(reg)

	task := arbor.NewTask("t.counted", func(ctx context.Context, input any, deps arbor.Deps) (any, error) {
		return nil, nil
	})

	ext.OnTaskEnd(context.Background(), task, "ok", nil)
	ext.OnTaskEnd(context.Background(), task, nil, errors.New("failed"))

	if got := testutil.ToFloat64(ext.taskRuns.WithLabelValues("t.counted")); got != 2 {
		t.Fatalf("expected 2 recorded runs, got %v", got)
	}
	if got := testutil.ToFloat64(ext.taskFailures.WithLabelValues("t.counted")); got != 1 {
		t.Fatalf("expected 1 recorded failure, got %v", got)
	}
}
