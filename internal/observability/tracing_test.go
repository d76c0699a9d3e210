package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestSetupTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "test", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(context.Background(), carrier)
	fields := otel.GetTextMapPropagator().Fields()
	if len(fields) == 0 {
		t.Fatalf("expected propagator fields to be registered")
	}
}
