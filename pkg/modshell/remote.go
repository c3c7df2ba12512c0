package modshell

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	mserrors "github.com/randalmurphal/modshell/pkg/modshell/errors"
	"github.com/randalmurphal/modshell/pkg/modshell/observability"
)

const (
	// RemoteRegistryID is the id of the RemoteRegistry.
	RemoteRegistryID = "remote"

	// RemoteRegisterExport is the export every remote exposes its register
	// function under.
	RemoteRegisterExport = "./register"
)

// RemoteDefinition names a remote to load a module from.
type RemoteDefinition struct {
	Name string
}

// RemoteModule is what a remote exports under RemoteRegisterExport.
type RemoteModule[D any] struct {
	Register ModuleRegisterFunc[D]
}

// RemoteLoader resolves the export of a remote. The loading mechanism is up
// to the host.
type RemoteLoader[D any] func(ctx context.Context, sourceName, exportName string) (RemoteModule[D], error)

// RemoteRegistry registers modules resolved at runtime through a RemoteLoader.
type RemoteRegistry[D any] struct {
	*phaseState[D]
	loader RemoteLoader[D]
}

// NewRemoteRegistry creates a remote registry loading modules with loader.
// Every remote of a batch is loaded at once unless WithMaxConcurrency says
// otherwise.
func NewRemoteRegistry[D any](loader RemoteLoader[D], opts ...RegistryOption) *RemoteRegistry[D] {
	cfg := defaultRegistryConfig(RemoteRegistryID)
	cfg.maxConcurrency = 0
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RemoteRegistry[D]{
		phaseState: newPhaseState[D](cfg, remoteDeferredScope[D]),
		loader:     loader,
	}
}

// RegisterModules loads and registers definitions, each either a
// RemoteDefinition or the remote name as a string.
func (r *RemoteRegistry[D]) RegisterModules(
	ctx context.Context,
	rt Runtime,
	definitions []any,
	opts RegisterModulesOptions,
) ([]*RegistrationError, error) {
	remotes := make([]RemoteDefinition, len(definitions))
	invalid := make(map[int]any)
	for i, def := range definitions {
		switch d := def.(type) {
		case RemoteDefinition:
			remotes[i] = d
		case *RemoteDefinition:
			if d == nil {
				invalid[i] = def
				continue
			}
			remotes[i] = *d
		case string:
			remotes[i] = RemoteDefinition{Name: d}
		default:
			invalid[i] = def
		}
	}

	total := len(remotes)
	return registerBatch(ctx, rt, r.phaseState, remotes, func(ctx context.Context, i int, def RemoteDefinition) moduleOutcome[D] {
		position := positionLabel(i, total)
		if bad, ok := invalid[i]; ok {
			return r.registerModule(ctx, rt, fmt.Sprintf("remote-module-%s", position), position, invalidDefinition[D](bad), opts.Context)
		}
		return r.registerRemote(ctx, rt, def, position, opts.Context)
	})
}

// Register loads and registers remotes in order.
func (r *RemoteRegistry[D]) Register(
	ctx context.Context,
	rt Runtime,
	remotes []RemoteDefinition,
	opts RegisterModulesOptions,
) ([]*RegistrationError, error) {
	definitions := make([]any, len(remotes))
	for i, def := range remotes {
		definitions[i] = def
	}
	return r.RegisterModules(ctx, rt, definitions, opts)
}

func (r *RemoteRegistry[D]) registerRemote(
	ctx context.Context,
	rt Runtime,
	def RemoteDefinition,
	position string,
	hostContext any,
) moduleOutcome[D] {
	scoped := rt.StartScope(observability.ScopeLogger(rt.Logger(), "remote-module",
		slog.String("remote", def.Name),
		slog.String("position", position),
	))
	logger := scoped.Logger()
	logger.Debug("loading module register function", slog.String("export", RemoteRegisterExport))

	retry := r.cfg.loaderRetry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("remote load failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	result := mserrors.WithRetryContext(ctx, retry, func(ctx context.Context) (RemoteModule[D], error) {
		var mod RemoteModule[D]
		err := safeCall(def.Name, func() error {
			var err error
			mod, err = r.loader(ctx, def.Name, RemoteRegisterExport)
			return err
		})
		return mod, err
	})

	if result.Err != nil {
		r.logSharedScope(logger)
		return r.loadFailure(logger, def.Name, position,
			"an error occurred while loading a remote module",
			fmt.Errorf("%w: %w", ErrRemoteLoadFailed, result.Err))
	}
	if result.Value.Register == nil {
		return r.loadFailure(logger, def.Name, position,
			"a remote module register function is missing",
			ErrMissingRegisterFunction)
	}

	return r.registerModule(ctx, scoped, def.Name, position, result.Value.Register, hostContext)
}

func (r *RemoteRegistry[D]) loadFailure(logger *slog.Logger, name, position, message string, err error) moduleOutcome[D] {
	observability.LogModuleRegistrationFailed(logger, r.cfg.id, name, err)
	return moduleOutcome[D]{err: &RegistrationError{
		Message:    message,
		RegistryID: r.cfg.id,
		OwnerName:  name,
		ModuleName: position,
		Err:        err,
	}}
}

// logSharedScope logs the host's shared dependency versions, to diagnose a
// remote built against different versions.
func (r *RemoteRegistry[D]) logSharedScope(logger *slog.Logger) {
	if r.cfg.sharedScope == nil {
		return
	}
	scope := r.cfg.sharedScope()
	deps := make([]string, 0, len(scope))
	for dep := range scope {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	attrs := make([]any, 0, len(deps))
	for _, dep := range deps {
		attrs = append(attrs, slog.String(dep, scope[dep]))
	}
	logger.Debug("shared dependency scope", slog.Group("shared", attrs...))
}

// RegisterDeferredRegistrations invokes every collected deferred
// registration once with data.
func (r *RemoteRegistry[D]) RegisterDeferredRegistrations(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error) {
	return r.registerDeferred(ctx, rt, data)
}

// UpdateDeferredRegistrations re-invokes every deferred registration with data.
func (r *RemoteRegistry[D]) UpdateDeferredRegistrations(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error) {
	return r.updateDeferred(ctx, rt, data)
}

// remoteDeferredScope gives every remote deferred registration its own
// scoped runtime.
func remoteDeferredScope[D any](rt Runtime, item deferredRegistration[D], op DeferredRegistrationOperation) Runtime {
	return rt.StartScope(observability.ScopeLogger(rt.Logger(), "remote-deferred-registration",
		slog.String("remote", item.owner),
		slog.String("position", item.position),
		slog.String("operation", op.String()),
	))
}

var _ Registry[any] = (*RemoteRegistry[any])(nil)
