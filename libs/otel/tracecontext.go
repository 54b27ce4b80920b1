package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the serialisable W3C trace context stored next to an outbox
// row so the Kafka publish joins the trace of the booking that wrote it.
type TraceContext struct {
	Parent string
	State  string
}

func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

func (tc TraceContext) Empty() bool {
	return tc.Parent == "" && tc.State == ""
}

// Restore returns ctx carrying the captured remote span, or ctx unchanged when
// nothing was captured.
func (tc TraceContext) Restore(ctx context.Context) context.Context {
	if tc.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	if tc.Parent != "" {
		carrier.Set("traceparent", tc.Parent)
	}
	if tc.State != "" {
		carrier.Set("tracestate", tc.State)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
