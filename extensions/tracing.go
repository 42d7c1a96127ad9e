package extensions

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arborfn/arbor"
)

// TracingExtension opens an otel span around each task run, named after the
// task id, and records the error (if any) onto it. Spans are keyed by
// context, not task id, so concurrent runs of the same task don't clobber
// each other's span.
type TracingExtension struct {
	arbor.BaseExtension
	tracer trace.Tracer
	spans  sync.Map // context.Context -> trace.Span
}

// NewTracingExtension builds a TracingExtension using the global otel
// tracer provider under the given instrumentation name.
func NewTracingExtension(instrumentationName string) *TracingExtension {
	return &TracingExtension{
		BaseExtension: arbor.BaseExtension{ExtName: "tracing"},
		tracer:        otel.Tracer(instrumentationName),
	}
}

func (e *TracingExtension) OnTaskStart(ctx context.Context, task *arbor.Task, input any) {
	_, span := e.tracer.Start(ctx, "arbor.task/"+task.ID(),
		trace.WithAttributes(attribute.String("arbor.task.id", task.ID())))
	e.spans.Store(ctx, span)
}

func (e *TracingExtension) OnTaskEnd(ctx context.Context, task *arbor.Task, result any, err error) {
	v, ok := e.spans.LoadAndDelete(ctx)
	if !ok {
		return
	}
	span := v.(trace.Span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
