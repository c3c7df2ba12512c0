package modshell

import (
	"context"
	"fmt"
)

// LocalRegistryID is the id of the LocalRegistry.
const LocalRegistryID = "local"

// LocalModule is a module linked into the host binary.
type LocalModule[D any] struct {
	// Name identifies the module in logs, events and errors. Optional.
	Name string
	// Register is the module's entry point.
	Register ModuleRegisterFunc[D]
}

// LocalRegistry registers modules linked into the host binary.
type LocalRegistry[D any] struct {
	*phaseState[D]
}

// NewLocalRegistry creates an empty local registry.
func NewLocalRegistry[D any](opts ...RegistryOption) *LocalRegistry[D] {
	cfg := defaultRegistryConfig(LocalRegistryID)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LocalRegistry[D]{
		phaseState: newPhaseState[D](cfg, nil),
	}
}

// RegisterModules registers definitions, each either a LocalModule[D] or a
// ModuleRegisterFunc[D]. Any other type is reported as a failed module.
func (r *LocalRegistry[D]) RegisterModules(
	ctx context.Context,
	rt Runtime,
	definitions []any,
	opts RegisterModulesOptions,
) ([]*RegistrationError, error) {
	modules := make([]LocalModule[D], len(definitions))
	for i, def := range definitions {
		switch d := def.(type) {
		case LocalModule[D]:
			modules[i] = d
		case *LocalModule[D]:
			if d != nil {
				modules[i] = *d
			}
		case ModuleRegisterFunc[D]:
			modules[i] = LocalModule[D]{Register: d}
		case func(context.Context, Runtime, any) (DeferredRegistrationFunc[D], error):
			modules[i] = LocalModule[D]{Register: d}
		default:
			modules[i] = LocalModule[D]{Register: invalidDefinition[D](def)}
		}
	}
	return r.Register(ctx, rt, modules, opts)
}

// Register registers modules in order. Failing modules do not prevent the
// others from registering; their errors are returned.
func (r *LocalRegistry[D]) Register(
	ctx context.Context,
	rt Runtime,
	modules []LocalModule[D],
	opts RegisterModulesOptions,
) ([]*RegistrationError, error) {
	total := len(modules)
	return registerBatch(ctx, rt, r.phaseState, modules, func(ctx context.Context, i int, m LocalModule[D]) moduleOutcome[D] {
		position := positionLabel(i, total)
		name := m.Name
		if name == "" {
			name = "local-module-" + position
		}
		register := m.Register
		if register == nil {
			register = invalidDefinition[D](nil)
		}
		return r.registerModule(ctx, rt, name, position, register, opts.Context)
	})
}

// RegisterDeferredRegistrations invokes every collected deferred
// registration once with data.
func (r *LocalRegistry[D]) RegisterDeferredRegistrations(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error) {
	return r.registerDeferred(ctx, rt, data)
}

// UpdateDeferredRegistrations re-invokes every deferred registration with data.
func (r *LocalRegistry[D]) UpdateDeferredRegistrations(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error) {
	return r.updateDeferred(ctx, rt, data)
}

// invalidDefinition returns a register function failing with
// ErrInvalidDefinition, so a bad definition is isolated like any failing module.
func invalidDefinition[D any](def any) ModuleRegisterFunc[D] {
	return func(context.Context, Runtime, any) (DeferredRegistrationFunc[D], error) {
		return nil, fmt.Errorf("%w: %T", ErrInvalidDefinition, def)
	}
}

var _ Registry[any] = (*LocalRegistry[any])(nil)
