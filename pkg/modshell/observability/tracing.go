package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("modshell")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPhaseSpan starts a span for one registration phase of a registry
	// ("register", "deferred-register", "deferred-update").
	StartPhaseSpan(ctx context.Context, registryID, phase string) (context.Context, trace.Span)

	// StartModuleSpan starts a span for one module or deferred registration.
	// It should be a child of the phase span.
	StartModuleSpan(ctx context.Context, registryID, owner string) (context.Context, trace.Span)

	// StartDeferredScopeSpan starts the span enclosing a deferred
	// registration pass across every registry.
	StartDeferredScopeSpan(ctx context.Context, transactional bool) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartPhaseSpan(ctx context.Context, registryID, phase string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "modshell.registry."+phase,
		trace.WithAttributes(
			attribute.String("registry.id", registryID),
			attribute.String("registration.phase", phase),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartModuleSpan(ctx context.Context, registryID, owner string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "modshell.module",
		trace.WithAttributes(
			attribute.String("registry.id", registryID),
			attribute.String("module.owner", owner),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartDeferredScopeSpan(ctx context.Context, transactional bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "modshell.deferred_registration",
		trace.WithAttributes(
			attribute.Bool("scope.transactional", transactional),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
