package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records registration metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordModuleRegistration records one module registration attempt.
	RecordModuleRegistration(ctx context.Context, registryID string, duration time.Duration, err error)

	// RecordDeferredRegistration records one deferred registration invocation.
	RecordDeferredRegistration(ctx context.Context, registryID, operation string, duration time.Duration, err error)
}

type otelMetrics struct {
	registrations      metric.Int64Counter
	registrationErrors metric.Int64Counter
	registrationTime   metric.Float64Histogram
	deferredCalls      metric.Int64Counter
	deferredErrors     metric.Int64Counter
	deferredTime       metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("modshell")
	m := &otelMetrics{}
	var err error

	if m.registrations, err = meter.Int64Counter("modshell.module.registrations",
		metric.WithDescription("Number of module registration attempts"),
	); err != nil {
		return nil, err
	}
	if m.registrationErrors, err = meter.Int64Counter("modshell.module.registration_errors",
		metric.WithDescription("Number of failed module registrations"),
	); err != nil {
		return nil, err
	}
	if m.registrationTime, err = meter.Float64Histogram("modshell.module.latency_ms",
		metric.WithDescription("Module registration latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.deferredCalls, err = meter.Int64Counter("modshell.deferred.invocations",
		metric.WithDescription("Number of deferred registration invocations"),
	); err != nil {
		return nil, err
	}
	if m.deferredErrors, err = meter.Int64Counter("modshell.deferred.errors",
		metric.WithDescription("Number of failed deferred registration invocations"),
	); err != nil {
		return nil, err
	}
	if m.deferredTime, err = meter.Float64Histogram("modshell.deferred.latency_ms",
		metric.WithDescription("Deferred registration latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordModuleRegistration(ctx context.Context, registryID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("registry", registryID))
	m.registrations.Add(ctx, 1, attrs)
	m.registrationTime.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.registrationErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordDeferredRegistration(ctx context.Context, registryID, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("registry", registryID),
		attribute.String("operation", operation),
	)
	m.deferredCalls.Add(ctx, 1, attrs)
	m.deferredTime.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.deferredErrors.Add(ctx, 1, attrs)
	}
}
