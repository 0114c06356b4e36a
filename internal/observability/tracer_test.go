package observability

import (
	"context"
	"testing"

	"Story-Loom/server/internal/config"
)

func TestInitTracingDisabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if tp.IsEnabled() {
		t.Fatal("IsEnabled = true, want false")
	}
	_, span := tp.GetTracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("no-op tracer produced a valid span context")
	}
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInitTracingRequiresEndpoint(t *testing.T) {
	if _, err := InitTracing(context.Background(), config.TracingConfig{Enabled: true}); err == nil {
		t.Fatal("InitTracing succeeded without an endpoint")
	}
}

func TestSessionIDContext(t *testing.T) {
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Fatalf("SessionIDFromContext = %q, want empty", got)
	}
	ctx := WithSessionID(context.Background(), "s1")
	if got := SessionIDFromContext(ctx); got != "s1" {
		t.Fatalf("SessionIDFromContext = %q, want s1", got)
	}
}
