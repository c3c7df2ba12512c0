package modshell

import (
	"errors"
	"fmt"
	"strings"
)

// Structural errors. They are returned, never collected, and mean the
// caller used the registration API out of order.
var (
	// ErrModulesAlreadyRegistered indicates RegisterModules was called on a
	// registry that already went through (or is going through) registration.
	ErrModulesAlreadyRegistered = errors.New("modules are already registered")

	// ErrModulesNotRegistered indicates RegisterDeferredRegistrations was
	// called before the registry finished registering its modules.
	ErrModulesNotRegistered = errors.New("modules must be registered before registering deferred registrations")

	// ErrDeferredRegistrationsAlreadyRegistered indicates a second
	// RegisterDeferredRegistrations call.
	ErrDeferredRegistrationsAlreadyRegistered = errors.New("deferred registrations are already registered")

	// ErrModulesNotReady indicates UpdateDeferredRegistrations was called
	// before the registry reached ready.
	ErrModulesNotReady = errors.New("deferred registrations can only be updated once the modules are ready")

	// ErrUnknownRegistry indicates a module definition routed to a registry
	// id the manager does not know.
	ErrUnknownRegistry = errors.New("unknown registry")

	// ErrDuplicateRegistry indicates two registries with the same id.
	ErrDuplicateRegistry = errors.New("registry already added")
)

// Managed error causes. They end up wrapped in a RegistrationError.
var (
	// ErrRemoteLoadFailed wraps a failure of the injected remote loader.
	ErrRemoteLoadFailed = errors.New("remote module could not be loaded")

	// ErrMissingRegisterFunction indicates a loaded remote module without a register function.
	ErrMissingRegisterFunction = errors.New("remote module does not export a register function")

	// ErrInvalidDefinition indicates a definition of a type the registry cannot register.
	ErrInvalidDefinition = errors.New("invalid module definition")
)

// RegistrationError is a managed, per-item failure: a module register
// function, a remote load or a deferred registration that failed. It carries
// enough context to tell which module of which registry broke.
type RegistrationError struct {
	// Message describes what was being attempted.
	Message string
	// RegistryID is the id of the registry that owned the item.
	RegistryID string
	// OwnerName is the module or remote name.
	OwnerName string
	// ModuleName is the item's "index/total" label within its batch.
	ModuleName string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	var b strings.Builder
	b.WriteString(e.RegistryID)
	switch {
	case e.OwnerName != "" && e.ModuleName != "":
		fmt.Fprintf(&b, ": %s (%s)", e.OwnerName, e.ModuleName)
	case e.OwnerName != "":
		b.WriteString(": " + e.OwnerName)
	case e.ModuleName != "":
		b.WriteString(": " + e.ModuleName)
	}
	b.WriteString(": " + e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by module code.
type PanicError struct {
	// Owner is the module or remote that panicked.
	Owner string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Owner, e.Value)
}

// UnknownRegistryError names the registry id no registry was added for.
type UnknownRegistryError struct {
	RegistryID string
}

// Error implements the error interface.
func (e *UnknownRegistryError) Error() string {
	return fmt.Sprintf("no registry has been added for id %q", e.RegistryID)
}

// Unwrap returns ErrUnknownRegistry for errors.Is support.
func (e *UnknownRegistryError) Unwrap() error {
	return ErrUnknownRegistry
}
