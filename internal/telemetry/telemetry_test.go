package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"go.opentelemetry.io/otel"
)

func TestInit(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		before := otel.GetTracerProvider()

		shutdown, err := Init(context.Background(), domain.TracingConfig{Enabled: false}, "test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown error: %v", err)
		}
		if otel.GetTracerProvider() != before {
			t.Error("disabled tracing must not replace the global provider")
		}
	})

	t.Run("UnsupportedExporter", func(t *testing.T) {
		_, err := Init(context.Background(), domain.TracingConfig{Enabled: true, ExporterType: "zipkin"}, "test")
		if err == nil {
			t.Error("expected error for unsupported exporter")
		}
	})

	t.Run("Enabled", func(t *testing.T) {
		before := otel.GetTracerProvider()
		t.Cleanup(func() { otel.SetTracerProvider(before) })

		// Non-routable address; nothing is exported.
		shutdown, err := Init(context.Background(), domain.TracingConfig{
			Enabled:      true,
			ServiceName:  "courtkeeper-test",
			ExporterType: "otlp",
			Endpoint:     "192.0.2.1:4318",
			Insecure:     true,
		}, "test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, span := otel.Tracer("test").Start(context.Background(), "probe")
		if !span.SpanContext().IsValid() {
			t.Error("expected a recording span from the sdk provider")
		}
		span.End()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		shutdown(ctx)
	})
}
