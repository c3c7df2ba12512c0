// Package modshell orchestrates the registration of feature modules into a
// host application.
//
// A host owns a RegistryManager holding one registry per module source. The
// LocalRegistry registers modules linked into the binary; the RemoteRegistry
// resolves each module through an injected RemoteLoader first. Registration
// happens in two phases:
//
//  1. RegisterModules invokes every module's register function. A module may
//     return a DeferredRegistrationFunc for work that needs data the host only
//     has later (feature flags, the session user, ...).
//  2. RegisterDeferredRegistrations invokes the deferred functions once with
//     that data. UpdateDeferredRegistrations re-invokes them whenever the data
//     changes.
//
// Every registry walks through the RegistrationStatus lifecycle
// none → registering-modules → modules-registered → registering-deferred-registration → ready,
// skipping straight to ready when there is nothing deferred.
//
// # Errors
//
// Two kinds of failures are reported differently:
//
//   - Structural errors (calling a phase out of order, an unknown registry id)
//     are returned as a plain error.
//   - Failures of a single module (a register function returning an error or
//     panicking, a remote that cannot be loaded) are isolated: the remaining
//     modules still run, and the failure is collected into the returned
//     []*RegistrationError and dispatched as an event.
//
// # Observability
//
// Registries report progress through the Runtime: slog logging, events on the
// EventBus, OpenTelemetry spans and metrics.
package modshell
