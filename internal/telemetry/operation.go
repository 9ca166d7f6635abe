// Package telemetry records orchestrator operations as OpenTelemetry spans:
// one root span per operation carrying its plan, one child span per step.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlanEventName = "recommerce.plan"
	PlanJSONKey   = "recommerce.plan.json"
	PlanStepsKey  = "recommerce.plan.steps"
)

type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Plan struct {
	Steps []Step `json:"steps"`
}

// Operation is a traced unit of work. A nil *Operation runs steps untraced.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// Start opens the root span for operation and attaches plan as an event.
func Start(ctx context.Context, tracer trace.Tracer, operation string, plan Plan, attrs ...attribute.KeyValue) (*Operation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("start operation: tracer is required")
	}
	seen := make(map[string]struct{}, len(plan.Steps))
	for i, s := range plan.Steps {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, fmt.Errorf("start operation: step %d has empty id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("start operation: duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("start operation: marshal plan: %w", err)
	}

	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(
		attribute.Int(PlanStepsKey, len(plan.Steps)),
		attribute.String(PlanJSONKey, string(planJSON)),
	))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}, nil
}

func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// Step runs fn under a child span named id.
func (o *Operation) Step(ctx context.Context, id string, fn func(context.Context) error) error {
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	stepCtx, span := o.tracer.Start(ctx, id)
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// SetAttributes annotates the root span.
func (o *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attrs...)
}

func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}
