package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	if err := Init(ctx, Options{}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_, span := otel.Tracer("test").Start(ctx, "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled telemetry produced a recording span")
	}
	span.End()
	if err := Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestInit_ExportsSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	if err := Init(ctx, Options{Enabled: true, Stdout: true, Writer: &buf, Version: "test"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = Init(ctx, Options{}) })

	_, span := otel.Tracer("test").Start(ctx, "issues.refresh")
	span.End()
	counter, err := otel.Meter("test").Int64Counter("issuedesk.test.count")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(ctx, 1)

	if err := Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "issues.refresh") {
		t.Errorf("exported output missing span name:\n%s", out)
	}
	if !strings.Contains(out, "issuedesk.test.count") {
		t.Errorf("exported output missing metric:\n%s", out)
	}
}
