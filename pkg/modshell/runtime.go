package modshell

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/modshell/pkg/modshell/event"
	"github.com/randalmurphal/modshell/pkg/modshell/observability"
)

// DeferredScopeOptions configures a deferred registration scope.
type DeferredScopeOptions struct {
	// Transactional marks an update pass, where every registry runs one
	// after the other inside the same scope.
	Transactional bool
}

// Runtime is the facade handed to every register function and deferred
// registration.
type Runtime interface {
	// Logger returns the logger of the current scope.
	Logger() *slog.Logger

	// EventBus returns the bus registration events are dispatched on.
	EventBus() EventBus

	// Spans returns the span manager.
	Spans() observability.SpanManager

	// Metrics returns the metrics recorder.
	Metrics() observability.MetricsRecorder

	// StartScope returns a runtime sharing everything with this one except
	// its logger.
	StartScope(logger *slog.Logger) Runtime

	// StartDeferredRegistrationScope opens the scope a deferred registration
	// pass runs in and returns a context carrying its span.
	StartDeferredRegistrationScope(ctx context.Context, opts DeferredScopeOptions) context.Context

	// CompleteDeferredRegistrationScope closes the scope opened last.
	CompleteDeferredRegistrationScope(ctx context.Context)
}

// RuntimeOption configures NewRuntime.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	name    string
	logger  *slog.Logger
	bus     EventBus
	spans   observability.SpanManager
	metrics observability.MetricsRecorder
}

// WithRuntimeName names the runtime. The name is attached to every log record.
func WithRuntimeName(name string) RuntimeOption {
	return func(c *runtimeConfig) {
		c.name = name
	}
}

// WithLogger sets the root logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// WithEventBus sets the event bus. Default: a synchronous in-memory bus.
func WithEventBus(bus EventBus) RuntimeOption {
	return func(c *runtimeConfig) {
		c.bus = bus
	}
}

// WithTracing enables OpenTelemetry spans through the global tracer provider.
func WithTracing(enabled bool) RuntimeOption {
	return func(c *runtimeConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithMetrics enables OpenTelemetry metrics through the global meter provider.
func WithMetrics(enabled bool) RuntimeOption {
	return func(c *runtimeConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithSpanManager sets a custom span manager.
func WithSpanManager(spans observability.SpanManager) RuntimeOption {
	return func(c *runtimeConfig) {
		c.spans = spans
	}
}

// WithMetricsRecorder sets a custom metrics recorder.
func WithMetricsRecorder(metrics observability.MetricsRecorder) RuntimeOption {
	return func(c *runtimeConfig) {
		c.metrics = metrics
	}
}

// DefaultRuntime is the Runtime implementation returned by NewRuntime.
type DefaultRuntime struct {
	name    string
	logger  *slog.Logger
	bus     EventBus
	spans   observability.SpanManager
	metrics observability.MetricsRecorder
	scope   *deferredScope
}

// deferredScope is shared by a runtime and every runtime scoped from it.
type deferredScope struct {
	mu   sync.Mutex
	opts DeferredScopeOptions
	span trace.Span
}

// NewRuntime creates a runtime. Tracing and metrics are disabled unless
// enabled through options.
func NewRuntime(opts ...RuntimeOption) *DefaultRuntime {
	cfg := runtimeConfig{
		name:    "modshell",
		spans:   observability.NoopSpanManager{},
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.bus == nil {
		cfg.bus = NewEventBus(
			event.NewBus(event.BusConfig{Synchronous: true}),
			WithEventSource(cfg.name),
			WithEventLogger(cfg.logger),
		)
	}

	return &DefaultRuntime{
		name:    cfg.name,
		logger:  cfg.logger.With(slog.String("runtime", cfg.name)),
		bus:     cfg.bus,
		spans:   cfg.spans,
		metrics: cfg.metrics,
		scope:   &deferredScope{},
	}
}

// Name returns the runtime name.
func (r *DefaultRuntime) Name() string { return r.name }

// Logger returns the logger of the current scope.
func (r *DefaultRuntime) Logger() *slog.Logger { return r.logger }

// EventBus returns the event bus.
func (r *DefaultRuntime) EventBus() EventBus { return r.bus }

// Spans returns the span manager.
func (r *DefaultRuntime) Spans() observability.SpanManager { return r.spans }

// Metrics returns the metrics recorder.
func (r *DefaultRuntime) Metrics() observability.MetricsRecorder { return r.metrics }

// StartScope returns a runtime logging through logger.
func (r *DefaultRuntime) StartScope(logger *slog.Logger) Runtime {
	scoped := *r
	if logger != nil {
		scoped.logger = logger
	}
	return &scoped
}

// StartDeferredRegistrationScope opens the deferred registration span. The
// runtime holds a single active scope: starting a new one ends the previous.
func (r *DefaultRuntime) StartDeferredRegistrationScope(ctx context.Context, opts DeferredScopeOptions) context.Context {
	r.scope.mu.Lock()
	defer r.scope.mu.Unlock()

	if r.scope.span != nil {
		r.logger.Warn("deferred registration scope was not completed before starting a new one")
		r.spans.EndSpanWithError(r.scope.span, nil)
	}
	ctx, span := r.spans.StartDeferredScopeSpan(ctx, opts.Transactional)
	r.scope.opts = opts
	r.scope.span = span
	return ctx
}

// CompleteDeferredRegistrationScope ends the active scope span, if any.
func (r *DefaultRuntime) CompleteDeferredRegistrationScope(_ context.Context) {
	r.scope.mu.Lock()
	defer r.scope.mu.Unlock()

	if r.scope.span == nil {
		return
	}
	r.spans.EndSpanWithError(r.scope.span, nil)
	r.scope.span = nil
	r.scope.opts = DeferredScopeOptions{}
}

// DeferredScope returns the options of the active deferred registration
// scope, and false when none is active.
func (r *DefaultRuntime) DeferredScope() (DeferredScopeOptions, bool) {
	r.scope.mu.Lock()
	defer r.scope.mu.Unlock()
	return r.scope.opts, r.scope.span != nil
}

var _ Runtime = (*DefaultRuntime)(nil)
