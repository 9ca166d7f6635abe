package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return tp.Tracer("test"), recorder
}

func findSpan(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestStartAndStep(t *testing.T) {
	tracer, recorder := newTestTracer()
	op, err := Start(context.Background(), tracer, "admission", Plan{Steps: []Step{
		{ID: "ensure_image", Title: "ensuring image"},
		{ID: "replica_0", Title: "starting replica 0"},
	}}, attribute.String("task", "training"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := op.Step(op.Context(), "ensure_image", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Step: %v", err)
	}
	op.End(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans: got %d, want 2", len(spans))
	}
	root := findSpan(spans, "admission")
	if root == nil {
		t.Fatal("missing root span")
	}
	if len(root.Events()) == 0 || root.Events()[0].Name != PlanEventName {
		t.Fatalf("root events: got %v", root.Events())
	}
	child := findSpan(spans, "ensure_image")
	if child == nil {
		t.Fatal("missing step span")
	}
	if child.Parent().SpanID() != root.SpanContext().SpanID() {
		t.Fatalf("step parent: got %s, want %s", child.Parent().SpanID(), root.SpanContext().SpanID())
	}
}

func TestStepErrorMarksSpans(t *testing.T) {
	tracer, recorder := newTestTracer()
	op, err := Start(context.Background(), tracer, "admission", Plan{Steps: []Step{{ID: "replica_0"}}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	boom := errors.New("start failed")
	if err := op.Step(op.Context(), "replica_0", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Step: got %v, want %v", err, boom)
	}
	op.End(boom)

	for _, name := range []string{"admission", "replica_0"} {
		span := findSpan(recorder.Ended(), name)
		if span == nil {
			t.Fatalf("missing span %s", name)
		}
		if span.Status().Code != codes.Error {
			t.Errorf("%s status: got %v, want error", name, span.Status().Code)
		}
	}
}

func TestStartRejectsBadPlans(t *testing.T) {
	tracer, _ := newTestTracer()
	if _, err := Start(context.Background(), tracer, "x", Plan{Steps: []Step{{ID: "a"}, {ID: "a"}}}); err == nil {
		t.Error("expected duplicate id error")
	}
	if _, err := Start(context.Background(), tracer, "x", Plan{Steps: []Step{{ID: " "}}}); err == nil {
		t.Error("expected empty id error")
	}
	if _, err := Start(context.Background(), nil, "x", Plan{}); err == nil {
		t.Error("expected nil tracer error")
	}
}

func TestNilOperationRunsStep(t *testing.T) {
	var op *Operation
	ran := false
	if err := op.Step(context.Background(), "x", func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !ran {
		t.Fatal("step did not run")
	}
	op.End(nil)
}

func TestNewProviderWithoutEndpointIsNoop(t *testing.T) {
	tp, shutdown, err := NewProvider(context.Background(), "", false)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	_, span := tp.Tracer("x").Start(context.Background(), "y")
	if span.SpanContext().IsValid() {
		t.Error("noop provider should not produce valid spans")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
