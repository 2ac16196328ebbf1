package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Disabled path

func TestInit_Disabled_ShutdownIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestInit_Disabled_SetsTracerProvider(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
}

func TestInit_Disabled_SpansNotSampled(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	_, span := otel.Tracer(TracerName).Start(context.Background(), "check")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatal("disabled tracing should not sample")
	}
	if !span.SpanContext().IsValid() {
		t.Fatal("span context should still be valid for propagation")
	}
}

func TestInit_Disabled_CompositePropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	fields := otel.GetTextMapPropagator().Fields()
	want := map[string]bool{"traceparent": false, "baggage": false}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("propagator missing %s (fields %v)", f, fields)
		}
	}
}

func TestOptions_ServiceName(t *testing.T) {
	if got := (Options{Service: "requestguard", Component: "server"}).ServiceName(); got != "requestguard.server" {
		t.Fatalf("ServiceName = %q", got)
	}
	if got := (Options{Service: "requestguard"}).ServiceName(); got != "requestguard" {
		t.Fatalf("ServiceName = %q", got)
	}
}

// Enabled path - timeout

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Service:   "test",
		Component: "test",
		Version:   "v0.0.0-test",
		UserAgent: "requestguard-test/0",
	})
	elapsed := time.Since(start)

	if elapsed > 15*time.Second {
		t.Fatalf("Init took %v, expected to be bounded by the dial timeout", elapsed)
	}
	if err != nil {
		return
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Logf("shutdown error (expected with no real collector): %v", err)
	}
}
