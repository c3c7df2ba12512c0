// Package observability provides the structured logging, metrics and tracing
// used around module registration.
//
// Features:
//   - Structured logging via slog, optionally rotated to disk
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// ScopeLogger returns a sub-logger attributing every record to scope.
// Scopes nest: the parent's attributes are kept.
//
// Example:
//
//	scoped := ScopeLogger(logger, "remote-module", slog.String("remote", "shop"), slog.String("position", "2/5"))
//	scoped.Debug("loading") // includes scope, remote, position
func ScopeLogger(logger *slog.Logger, scope string, attrs ...any) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(append([]any{slog.String("scope", scope)}, attrs...)...)
}

// LogModulesRegistrationStarted logs the start of a registry's module batch.
func LogModulesRegistrationStarted(logger *slog.Logger, registryID string, count int) {
	if logger == nil {
		return
	}
	logger.Debug("found modules to register",
		slog.String("registry", registryID),
		slog.Int("count", count),
	)
}

// LogModuleRegistering logs a single module about to be registered.
func LogModuleRegistering(logger *slog.Logger, registryID, position, owner string) {
	if logger == nil {
		return
	}
	logger.Debug("registering module",
		slog.String("registry", registryID),
		slog.String("position", position),
		slog.String("owner", owner),
	)
}

// LogModuleRegistered logs a successfully registered module.
func LogModuleRegistered(logger *slog.Logger, registryID, position, owner string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("module registered",
		slog.String("registry", registryID),
		slog.String("position", position),
		slog.String("owner", owner),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogModuleRegistrationFailed logs a module whose registration failed.
func LogModuleRegistrationFailed(logger *slog.Logger, registryID, owner string, err error) {
	if logger == nil {
		return
	}
	logger.Error("module registration failed",
		slog.String("registry", registryID),
		slog.String("owner", owner),
		slog.String("error", err.Error()),
	)
}

// LogModulesRegistrationCompleted logs the end of a registry's module batch.
func LogModulesRegistrationCompleted(logger *slog.Logger, registryID string, succeeded, total int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("modules registered",
		slog.String("registry", registryID),
		slog.Int("succeeded", succeeded),
		slog.Int("total", total),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeferredRegistrationsStarted logs the start of a deferred registration pass.
func LogDeferredRegistrationsStarted(logger *slog.Logger, registryID, operation string, count int) {
	if logger == nil {
		return
	}
	logger.Debug("running deferred registrations",
		slog.String("registry", registryID),
		slog.String("operation", operation),
		slog.Int("count", count),
	)
}

// LogDeferredRegistrationFailed logs a failed deferred registration.
func LogDeferredRegistrationFailed(logger *slog.Logger, registryID, operation, owner string, err error) {
	if logger == nil {
		return
	}
	logger.Error("deferred registration failed",
		slog.String("registry", registryID),
		slog.String("operation", operation),
		slog.String("owner", owner),
		slog.String("error", err.Error()),
	)
}

// LogDeferredRegistrationsCompleted logs the end of a deferred registration pass.
func LogDeferredRegistrationsCompleted(logger *slog.Logger, registryID, operation string, succeeded, total int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("deferred registrations completed",
		slog.String("registry", registryID),
		slog.String("operation", operation),
		slog.Int("succeeded", succeeded),
		slog.Int("total", total),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStatusChanged logs a registry status transition.
func LogStatusChanged(logger *slog.Logger, registryID, from, to string) {
	if logger == nil {
		return
	}
	logger.Debug("registration status changed",
		slog.String("registry", registryID),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
