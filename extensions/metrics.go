package extensions

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arborfn/arbor"
)

// MetricsExtension exposes task-run counters and a boot-success gauge
// through prometheus/client_golang, registered against whatever registerer
// the caller passes (prometheus.DefaultRegisterer in the common case).
type MetricsExtension struct {
	arbor.BaseExtension

	taskRuns     *prometheus.CounterVec
	taskFailures *prometheus.CounterVec
	bootSuccess  prometheus.Gauge
}

// NewMetricsExtension registers its collectors against reg and returns the
// extension.
func NewMetricsExtension(reg prometheus.Registerer) *MetricsExtension {
	e := &MetricsExtension{
		BaseExtension: arbor.BaseExtension{ExtName: "metrics"},
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "task_runs_total",
			Help:      "Total task invocations, by task id.",
		}, []string{"task"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "task_failures_total",
			Help:      "Total failed task invocations, by task id.",
		}, []string{"task"}),
		bootSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbor",
			Name:      "boot_success",
			Help:      "1 if the last boot succeeded, 0 otherwise.",
		}),
	}
	reg.MustRegister(e.taskRuns, e.taskFailures, e.bootSuccess)
	return e
}

func (e *MetricsExtension) OnBootEnd(ctx context.Context, err error) {
	if err != nil {
		e.bootSuccess.Set(0)
		return
	}
	e.bootSuccess.Set(1)
}

func (e *MetricsExtension) OnTaskEnd(ctx context.Context, task *arbor.Task, result any, err error) {
	e.taskRuns.WithLabelValues(task.ID()).Inc()
	if err != nil {
		e.taskFailures.WithLabelValues(task.ID()).Inc()
	}
}
