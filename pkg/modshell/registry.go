package modshell

import (
	"context"

	"github.com/google/uuid"
)

// DeferredRegistrationOperation tells a deferred registration whether it runs
// for the first time or because the host's data changed.
type DeferredRegistrationOperation string

const (
	// OperationRegister is the first invocation, from RegisterDeferredRegistrations.
	OperationRegister DeferredRegistrationOperation = "register"
	// OperationUpdate is every later invocation, from UpdateDeferredRegistrations.
	OperationUpdate DeferredRegistrationOperation = "update"
)

// String implements fmt.Stringer.
func (o DeferredRegistrationOperation) String() string {
	return string(o)
}

// DeferredRegistrationFunc is the second-phase work a module hands back from
// its register function.
type DeferredRegistrationFunc[D any] func(ctx context.Context, rt Runtime, data D, op DeferredRegistrationOperation) error

// ModuleRegisterFunc is a module's entry point. It returns an optional
// deferred registration; a nil one means the module has nothing to defer.
type ModuleRegisterFunc[D any] func(ctx context.Context, rt Runtime, hostContext any) (DeferredRegistrationFunc[D], error)

// RegisterModulesOptions carries per-call options of RegisterModules.
type RegisterModulesOptions struct {
	// Context is passed untouched to every register function.
	Context any
}

// ModuleDefinition routes a module definition to the registry with the given id.
type ModuleDefinition struct {
	RegistryID string
	// Definition is registry specific: a LocalModule or ModuleRegisterFunc
	// for the local registry, a RemoteDefinition for the remote one.
	Definition any
}

// ListenerID identifies a registered listener so it can be removed later.
type ListenerID string

func newListenerID() ListenerID {
	return ListenerID(uuid.NewString())
}

// Registry is a source of modules the RegistryManager can drive.
type Registry[D any] interface {
	// ID is the registry id definitions are routed by.
	ID() string

	// RegisterModules registers a batch of definitions. It returns an error
	// when the registry already registered modules; individual module
	// failures are collected in the returned slice instead.
	RegisterModules(ctx context.Context, rt Runtime, definitions []any, opts RegisterModulesOptions) ([]*RegistrationError, error)

	// RegisterDeferredRegistrations invokes the collected deferred
	// registrations once with data.
	RegisterDeferredRegistrations(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error)

	// UpdateDeferredRegistrations re-invokes the deferred registrations with
	// new data. Only valid once the registry is ready.
	UpdateDeferredRegistrations(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error)

	// RegistrationStatus returns the current status.
	RegistrationStatus() RegistrationStatus

	// RegisterStatusChangedListener adds fn to the listeners invoked after
	// every status change.
	RegisterStatusChangedListener(fn func()) ListenerID

	// RemoveStatusChangedListener removes a listener. Unknown ids are ignored.
	RemoveStatusChangedListener(id ListenerID)
}
