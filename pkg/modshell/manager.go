package modshell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/modshell/pkg/modshell/registry"
)

// RegistryManager drives a set of registries through registration as one.
type RegistryManager[D any] struct {
	runtime    Runtime
	registries *registry.Registry[string, Registry[D]]

	registeredListeners *registry.Registry[ListenerID, *combinedListener]
	readyListeners      *registry.Registry[ListenerID, *combinedListener]
}

// NewRegistryManager creates a manager driving registries with rt.
func NewRegistryManager[D any](rt Runtime, registries ...Registry[D]) (*RegistryManager[D], error) {
	m := &RegistryManager[D]{
		runtime:             rt,
		registries:          registry.New[string, Registry[D]](),
		registeredListeners: registry.New[ListenerID, *combinedListener](),
		readyListeners:      registry.New[ListenerID, *combinedListener](),
	}
	for _, r := range registries {
		if err := m.AddRegistry(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddRegistry adds a registry. Registries must be added before registration
// starts and before any listener is registered.
func (m *RegistryManager[D]) AddRegistry(r Registry[D]) error {
	if err := m.registries.Add(r.ID(), r); err != nil {
		return fmt.Errorf("registry %q: %w", r.ID(), ErrDuplicateRegistry)
	}
	return nil
}

// Registry returns the registry with the given id.
func (m *RegistryManager[D]) Registry(id string) (Registry[D], bool) {
	return m.registries.Get(id)
}

// Registries returns the registries in the order they were added.
func (m *RegistryManager[D]) Registries() []Registry[D] {
	return m.registries.Values()
}

// Runtime returns the runtime registries are driven with.
func (m *RegistryManager[D]) Runtime() Runtime {
	return m.runtime
}

// RegisterModules groups definitions by registry id and registers every group
// with its registry concurrently. Module failures of every group are returned
// in group order. An error is returned when a definition targets an unknown
// registry or a registry rejects the call; the first registry rejecting the
// call cancels the context of the others.
func (m *RegistryManager[D]) RegisterModules(
	ctx context.Context,
	definitions []ModuleDefinition,
	opts RegisterModulesOptions,
) ([]*RegistrationError, error) {
	var order []string
	groups := make(map[string][]any)
	for _, def := range definitions {
		if _, ok := groups[def.RegistryID]; !ok {
			order = append(order, def.RegistryID)
		}
		groups[def.RegistryID] = append(groups[def.RegistryID], def.Definition)
	}

	results := make([][]*RegistrationError, len(order))
	var unknown []error

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range order {
		r, ok := m.registries.Get(id)
		if !ok {
			err := &UnknownRegistryError{RegistryID: id}
			m.runtime.Logger().Error("no registry has been added for module definitions",
				slog.String("registry", id),
				slog.Int("count", len(groups[id])),
			)
			results[i] = []*RegistrationError{{
				Message:    "cannot register modules of an unknown registry",
				RegistryID: id,
				Err:        err,
			}}
			unknown = append(unknown, err)
			continue
		}

		g.Go(func() error {
			errs, err := r.RegisterModules(gctx, m.runtime, groups[id], opts)
			results[i] = errs
			return err
		})
	}
	err := g.Wait()

	return flatten(results), errors.Join(append([]error{err}, unknown...)...)
}

// RegisterDeferredRegistrations invokes the deferred registrations of every
// registry once with data. Registries run concurrently.
func (m *RegistryManager[D]) RegisterDeferredRegistrations(ctx context.Context, data D) ([]*RegistrationError, error) {
	ctx = m.runtime.StartDeferredRegistrationScope(ctx, DeferredScopeOptions{Transactional: false})
	defer m.runtime.CompleteDeferredRegistrationScope(ctx)

	registries := m.registries.Values()
	results := make([][]*RegistrationError, len(registries))

	var g errgroup.Group
	for i, r := range registries {
		g.Go(func() error {
			errs, err := r.RegisterDeferredRegistrations(ctx, m.runtime, data)
			results[i] = errs
			return err
		})
	}
	err := g.Wait()

	return flatten(results), err
}

// UpdateDeferredRegistrations re-invokes the deferred registrations of every
// registry with data. Registries run one after the other: the runtime tracks
// a single active scope span.
func (m *RegistryManager[D]) UpdateDeferredRegistrations(ctx context.Context, data D) ([]*RegistrationError, error) {
	ctx = m.runtime.StartDeferredRegistrationScope(ctx, DeferredScopeOptions{Transactional: true})
	defer m.runtime.CompleteDeferredRegistrationScope(ctx)

	var all []*RegistrationError
	for _, r := range m.registries.Values() {
		errs, err := r.UpdateDeferredRegistrations(ctx, m.runtime, data)
		all = append(all, errs...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

func (m *RegistryManager[D]) statuses() []RegistrationStatus {
	registries := m.registries.Values()
	statuses := make([]RegistrationStatus, len(registries))
	for i, r := range registries {
		statuses[i] = r.RegistrationStatus()
	}
	return statuses
}

// GetAreModulesRegistered reports whether every registry that started
// registration has at least registered its modules. It is false while no
// registry has started.
func (m *RegistryManager[D]) GetAreModulesRegistered() bool {
	return areModulesRegistered(m.statuses())
}

// GetAreModulesReady reports whether every registry that started
// registration is ready. It is false while no registry has started.
func (m *RegistryManager[D]) GetAreModulesReady() bool {
	return areModulesReady(m.statuses())
}

func areModulesRegistered(statuses []RegistrationStatus) bool {
	if allNone(statuses) {
		return false
	}
	for _, s := range statuses {
		if s == StatusRegisteringModules {
			return false
		}
	}
	return true
}

func areModulesReady(statuses []RegistrationStatus) bool {
	if allNone(statuses) {
		return false
	}
	for _, s := range statuses {
		if s != StatusNone && s != StatusReady {
			return false
		}
	}
	return true
}

// allNone is true for an empty set too.
func allNone(statuses []RegistrationStatus) bool {
	for _, s := range statuses {
		if s != StatusNone {
			return false
		}
	}
	return true
}

// RegisterModulesRegisteredListener invokes fn once, the first time
// GetAreModulesRegistered becomes true after a status change.
func (m *RegistryManager[D]) RegisterModulesRegisteredListener(fn func()) ListenerID {
	return m.addCombinedListener(m.registeredListeners, m.GetAreModulesRegistered, fn)
}

// RemoveModulesRegisteredListener removes a listener that has not fired yet.
func (m *RegistryManager[D]) RemoveModulesRegisteredListener(id ListenerID) {
	if l, ok := m.registeredListeners.Delete(id); ok {
		l.detach()
	}
}

// RegisterModulesReadyListener invokes fn once, the first time
// GetAreModulesReady becomes true after a status change.
func (m *RegistryManager[D]) RegisterModulesReadyListener(fn func()) ListenerID {
	return m.addCombinedListener(m.readyListeners, m.GetAreModulesReady, fn)
}

// RemoveModulesReadyListener removes a listener that has not fired yet.
func (m *RegistryManager[D]) RemoveModulesReadyListener(id ListenerID) {
	if l, ok := m.readyListeners.Delete(id); ok {
		l.detach()
	}
}

// combinedListener is attached to every registry and fires at most once.
type combinedListener struct {
	fired atomic.Bool

	mu        sync.Mutex
	detachers []func()
}

func (l *combinedListener) detach() {
	l.mu.Lock()
	detachers := l.detachers
	l.detachers = nil
	l.mu.Unlock()

	for _, d := range detachers {
		d()
	}
}

func (m *RegistryManager[D]) addCombinedListener(
	table *registry.Registry[ListenerID, *combinedListener],
	predicate func() bool,
	fn func(),
) ListenerID {
	id := newListenerID()
	l := &combinedListener{}

	onChange := func() {
		if l.fired.Load() || !predicate() {
			return
		}
		if !l.fired.CompareAndSwap(false, true) {
			return
		}
		l.detach()
		table.Delete(id)
		fn()
	}

	table.Set(id, l)

	// holding the lock makes a concurrent detach wait for every attachment
	l.mu.Lock()
	for _, r := range m.registries.Values() {
		rid := r.RegisterStatusChangedListener(onChange)
		l.detachers = append(l.detachers, func() {
			r.RemoveStatusChangedListener(rid)
		})
	}
	l.mu.Unlock()

	return id
}

func flatten(results [][]*RegistrationError) []*RegistrationError {
	var all []*RegistrationError
	for _, errs := range results {
		all = append(all, errs...)
	}
	return all
}
