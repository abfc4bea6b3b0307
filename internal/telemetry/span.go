// Package telemetry opens OpenTelemetry spans around the top-level core
// operations (registry.Register, planner.Plan, executor.Run, auditor.Run),
// instrumenting with the otel/trace API while staying agnostic to which
// exporter is wired in. The individual outbound calls made inside those
// operations (metrics fetch, policy fetch, each agent execute, each LLM
// chat) do not get spans of their own.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/clearcoreai/orchestrator"

// Tracer returns the global tracer registered under the module name. The
// global TracerProvider defaults to a no-op implementation; operators wire
// a real exporter by calling otel.SetTracerProvider during startup.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a child span named op with the given attributes and
// returns the derived context plus an end function to defer.
func StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := Tracer().Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
