package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestConfig_ResourceAttributesSorted(t *testing.T) {
	cfg := DefaultConfig("request-authorizer")
	cfg.ServiceVersion = "1.2.3"
	cfg.ResourceAttributes = map[string]string{"z": "1", "a": "2"}

	got := cfg.resourceAttributes()
	want := []attribute.KeyValue{
		attribute.String("service.name", "request-authorizer"),
		attribute.String("service.version", "1.2.3"),
		attribute.String("a", "2"),
		attribute.String("z", "1"),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d attributes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attribute %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestInitTracer_DisabledIsNoop(t *testing.T) {
	cfg := DefaultConfig("request-authorizer")
	cfg.Enabled = true // no endpoint, still noop

	tr, err := InitTracer(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, span := tr.Start(context.Background(), "test")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("expected noop span without a valid span context")
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}
