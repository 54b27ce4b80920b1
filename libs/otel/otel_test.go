package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	cfg, err := ConfigFromEnv("booking-service")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Enabled || cfg.SampleRatio != 0.25 || cfg.ServiceName != "booking-service" || cfg.OTLPEndpoint != "jaeger:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("OTEL_SAMPLING_RATIO", "2")
	if _, err := ConfigFromEnv("booking-service"); err == nil {
		t.Fatal("expected error for ratio above 1")
	}
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if tc := CaptureTraceContext(context.Background()); !tc.Empty() {
		t.Fatalf("expected empty trace context, got %+v", tc)
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	tc := CaptureTraceContext(ctx)
	if tc.Parent != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("unexpected traceparent %q", tc.Parent)
	}
	restored := trace.SpanContextFromContext(tc.Restore(context.Background()))
	if restored.TraceID() != traceID || restored.SpanID() != spanID {
		t.Fatalf("restore lost span context: %+v", restored)
	}
}
