package observer

import (
	"context"
	"time"

	aegis "github.com/Juntar0/aegis"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRunner wraps an aegis.Runner with OTEL instrumentation.
type ObservedRunner struct {
	inner aegis.Runner
	inst  *Instruments
}

// WrapRunner returns an instrumented runner that emits a span per tool
// batch plus per-tool metrics and logs.
func WrapRunner(inner aegis.Runner, inst *Instruments) *ObservedRunner {
	return &ObservedRunner{inner: inner, inst: inst}
}

var _ aegis.Runner = (*ObservedRunner)(nil)

func (o *ObservedRunner) ExecuteCalls(ctx context.Context, calls []aegis.ToolCall, loopID int) []aegis.ToolResult {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}

	ctx, span := o.inst.Tracer.Start(ctx, "tool.batch", trace.WithAttributes(
		AttrLoopID.Int(loopID),
		AttrToolCount.Int(len(calls)),
		AttrToolNames.StringSlice(names),
	))
	defer span.End()
	start := time.Now()

	results := o.inner.ExecuteCalls(ctx, calls, loopID)

	o.inst.LoopIterations.Add(ctx, 1, metric.WithAttributes(AttrLoopID.Int(loopID)))

	for _, res := range results {
		status := "ok"
		if !res.Success {
			status = "tool_error"
		}

		o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(res.ToolName),
			attribute.String("status", status),
		))
		o.inst.ToolDuration.Record(ctx, res.DurationSec()*1000, metric.WithAttributes(
			AttrToolName.String(res.ToolName),
		))

		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetBody(otellog.StringValue("tool executed"))
		rec.AddAttributes(
			otellog.String("tool.name", res.ToolName),
			otellog.String("tool.status", status),
			otellog.Int("tool.result_length", len(res.Output)),
			otellog.Float64("tool.duration_ms", res.DurationSec()*1000),
			otellog.Int("agent.loop_id", loopID),
		)
		o.inst.Logger.Emit(ctx, rec)
	}

	span.SetAttributes(attribute.Float64("tool.batch_duration_ms",
		float64(time.Since(start).Milliseconds())))
	return results
}
