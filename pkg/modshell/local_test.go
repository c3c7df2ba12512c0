package modshell

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRegistry_RegisterModules_IsolatesFailures(t *testing.T) {
	rt, rec := newTestRuntime(t)
	r := NewLocalRegistry[string]()

	var mu sync.Mutex
	var calls []string
	boom := errors.New("boom")

	errs, err := r.Register(context.Background(), rt, []LocalModule[string]{
		{Name: "first", Register: noDeferred(&calls, &mu, "first")},
		{Name: "second", Register: func(ctx context.Context, rt Runtime, hc any) (DeferredRegistrationFunc[string], error) {
			mu.Lock()
			calls = append(calls, "second")
			mu.Unlock()
			return nil, boom
		}},
		{Name: "third", Register: noDeferred(&calls, &mu, "third")},
	}, RegisterModulesOptions{})

	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.Equal(t, "second", errs[0].OwnerName)
	assert.Equal(t, "2/3", errs[0].ModuleName)
	assert.Equal(t, LocalRegistryID, errs[0].RegistryID)
	assert.Equal(t, []string{"first", "second", "third"}, calls)

	failed := rec.byName(EventModuleRegistrationFailed)
	require.Len(t, failed, 1)
	assert.Same(t, errs[0], failed[0])

	assert.Equal(t, []any{RegistrationCountPayload{RegistryID: "local", Count: 3}}, rec.byName(EventModulesRegistrationStarted))
	assert.Equal(t, []any{RegistrationCountPayload{RegistryID: "local", Count: 2}}, rec.byName(EventModulesRegistrationCompleted))
	assert.Equal(t, StatusReady, r.RegistrationStatus())
}

func TestLocalRegistry_RegisterModules_PanicIsIsolated(t *testing.T) {
	rt, _ := newTestRuntime(t)
	r := NewLocalRegistry[string]()

	var mu sync.Mutex
	var calls []string
	errs, err := r.Register(context.Background(), rt, []LocalModule[string]{
		{Name: "panics", Register: func(context.Context, Runtime, any) (DeferredRegistrationFunc[string], error) {
			panic("kaboom")
		}},
		{Name: "fine", Register: noDeferred(&calls, &mu, "fine")},
	}, RegisterModulesOptions{})

	require.NoError(t, err)
	require.Len(t, errs, 1)
	var panicErr *PanicError
	require.ErrorAs(t, errs[0], &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.Equal(t, "panics", panicErr.Owner)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Equal(t, []string{"fine"}, calls)
}

func TestLocalRegistry_RegisterModules_Empty(t *testing.T) {
	rt, rec := newTestRuntime(t)
	r := NewLocalRegistry[string]()

	errs, err := r.Register(context.Background(), rt, nil, RegisterModulesOptions{})
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, StatusReady, r.RegistrationStatus())
	assert.Empty(t, rec.names(), "an empty batch dispatches no events")

	_, err = r.Register(context.Background(), rt, nil, RegisterModulesOptions{})
	assert.ErrorIs(t, err, ErrModulesAlreadyRegistered)
}

func TestLocalRegistry_RegisterModules_Twice(t *testing.T) {
	rt, _ := newTestRuntime(t)

	t.Run("after success", func(t *testing.T) {
		r := NewLocalRegistry[string]()
		_, err := r.Register(context.Background(), rt, []LocalModule[string]{{Register: withDeferred(nil)}}, RegisterModulesOptions{})
		require.NoError(t, err)

		_, err = r.Register(context.Background(), rt, []LocalModule[string]{{Register: withDeferred(nil)}}, RegisterModulesOptions{})
		assert.ErrorIs(t, err, ErrModulesAlreadyRegistered)
	})

	t.Run("after failure", func(t *testing.T) {
		r := NewLocalRegistry[string]()
		errs, err := r.Register(context.Background(), rt, []LocalModule[string]{{Register: failing(errors.New("x"))}}, RegisterModulesOptions{})
		require.NoError(t, err)
		require.Len(t, errs, 1)

		_, err = r.Register(context.Background(), rt, []LocalModule[string]{{Register: withDeferred(nil)}}, RegisterModulesOptions{})
		assert.ErrorIs(t, err, ErrModulesAlreadyRegistered)
	})
}

func TestLocalRegistry_CompletedEventPrecedesStatusChange(t *testing.T) {
	rt, rec := newTestRuntime(t)
	r := NewLocalRegistry[string]()
	r.RegisterStatusChangedListener(func() {
		rec.record("status:"+r.RegistrationStatus().String(), nil)
	})

	log := &deferredLog{}
	_, err := r.Register(context.Background(), rt, []LocalModule[string]{
		{Name: "a", Register: withDeferred(log.fn("a", nil))},
	}, RegisterModulesOptions{})
	require.NoError(t, err)

	_, err = r.RegisterDeferredRegistrations(context.Background(), rt, "flags")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"status:registering-modules",
		EventModulesRegistrationStarted,
		EventModulesRegistrationCompleted,
		"status:modules-registered",
		"status:registering-deferred-registration",
		EventDeferredRegistrationsStarted,
		EventDeferredRegistrationsCompleted,
		"status:ready",
	}, rec.names())
}

func TestLocalRegistry_DeferredRegistrations(t *testing.T) {
	rt, rec := newTestRuntime(t)
	r := NewLocalRegistry[string]()
	log := &deferredLog{}
	broken := errors.New("broken")

	_, err := r.RegisterDeferredRegistrations(context.Background(), rt, "too early")
	require.ErrorIs(t, err, ErrModulesNotRegistered)

	_, err = r.UpdateDeferredRegistrations(context.Background(), rt, "too early")
	require.ErrorIs(t, err, ErrModulesNotReady)

	errs, err := r.Register(context.Background(), rt, []LocalModule[string]{
		{Name: "a", Register: withDeferred(log.fn("a", nil))},
		{Name: "b", Register: withDeferred(nil)},
		{Name: "c", Register: withDeferred(log.fn("c", broken))},
	}, RegisterModulesOptions{})
	require.NoError(t, err)
	require.Empty(t, errs)
	assert.Equal(t, StatusModulesRegistered, r.RegistrationStatus())

	_, err = r.UpdateDeferredRegistrations(context.Background(), rt, "still too early")
	require.ErrorIs(t, err, ErrModulesNotReady)

	errs, err = r.RegisterDeferredRegistrations(context.Background(), rt, "v1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], broken)
	assert.Equal(t, "c", errs[0].OwnerName)
	assert.Equal(t, "3/3", errs[0].ModuleName)
	assert.Equal(t, StatusReady, r.RegistrationStatus())

	assert.Equal(t, []any{DeferredRegistrationCountPayload{RegistryID: "local", RegistrationCount: 2}}, rec.byName(EventDeferredRegistrationsStarted))
	assert.Equal(t, []any{DeferredRegistrationCountPayload{RegistryID: "local", RegistrationCount: 1}}, rec.byName(EventDeferredRegistrationsCompleted))
	assert.Len(t, rec.byName(EventDeferredRegistrationFailed), 1)

	_, err = r.RegisterDeferredRegistrations(context.Background(), rt, "v1")
	require.ErrorIs(t, err, ErrDeferredRegistrationsAlreadyRegistered)

	for _, data := range []string{"v2", "v3"} {
		errs, err = r.UpdateDeferredRegistrations(context.Background(), rt, data)
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, StatusReady, r.RegistrationStatus())
	}

	assert.Equal(t, []deferredCall{
		{owner: "a", data: "v1", op: OperationRegister},
		{owner: "c", data: "v1", op: OperationRegister},
		{owner: "a", data: "v2", op: OperationUpdate},
		{owner: "c", data: "v2", op: OperationUpdate},
		{owner: "a", data: "v3", op: OperationUpdate},
		{owner: "c", data: "v3", op: OperationUpdate},
	}, log.snapshot())

	assert.Len(t, rec.byName(EventDeferredRegistrationsUpdateStarted), 2)
	assert.Len(t, rec.byName(EventDeferredRegistrationUpdateFailed), 2)
	assert.Equal(t, DeferredRegistrationCountPayload{RegistryID: "local", RegistrationCount: 1},
		rec.byName(EventDeferredRegistrationsUpdateCompleted)[0])
}

func TestLocalRegistry_DeferredRegistrations_NothingDeferred(t *testing.T) {
	rt, rec := newTestRuntime(t)
	r := NewLocalRegistry[string]()

	_, err := r.Register(context.Background(), rt, []LocalModule[string]{{Register: withDeferred(nil)}}, RegisterModulesOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusReady, r.RegistrationStatus())
	before := len(rec.names())

	errs, err := r.RegisterDeferredRegistrations(context.Background(), rt, "data")
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, StatusReady, r.RegistrationStatus())

	assert.Len(t, rec.names(), before, "first pass is a no-op when nothing was deferred")

	errs, err = r.UpdateDeferredRegistrations(context.Background(), rt, "data")
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, []string{
		EventDeferredRegistrationsUpdateStarted,
		EventDeferredRegistrationsUpdateCompleted,
	}, rec.names()[before:])
	zero := DeferredRegistrationCountPayload{RegistryID: "local", RegistrationCount: 0}
	assert.Equal(t, zero, rec.byName(EventDeferredRegistrationsUpdateStarted)[0])
	assert.Equal(t, zero, rec.byName(EventDeferredRegistrationsUpdateCompleted)[0])
	assert.Equal(t, StatusReady, r.RegistrationStatus())
}

func TestLocalRegistry_StatusIsMonotonic(t *testing.T) {
	rt, _ := newTestRuntime(t)
	r := NewLocalRegistry[string]()
	var history []RegistrationStatus
	r.RegisterStatusChangedListener(func() {
		history = append(history, r.RegistrationStatus())
	})

	log := &deferredLog{}
	_, err := r.Register(context.Background(), rt, []LocalModule[string]{{Register: withDeferred(log.fn("a", nil))}}, RegisterModulesOptions{})
	require.NoError(t, err)
	_, err = r.RegisterDeferredRegistrations(context.Background(), rt, "x")
	require.NoError(t, err)
	_, err = r.UpdateDeferredRegistrations(context.Background(), rt, "y")
	require.NoError(t, err)

	assert.Equal(t, []RegistrationStatus{
		StatusRegisteringModules,
		StatusModulesRegistered,
		StatusRegisteringDeferredRegistration,
		StatusReady,
	}, history)
	for i := 1; i < len(history); i++ {
		assert.True(t, CanTransition(history[i-1], history[i]), "%s -> %s", history[i-1], history[i])
	}
}

func TestLocalRegistry_RemoveStatusChangedListener(t *testing.T) {
	rt, _ := newTestRuntime(t)
	r := NewLocalRegistry[string]()
	calls := 0
	id := r.RegisterStatusChangedListener(func() { calls++ })
	r.RemoveStatusChangedListener(id)
	r.RemoveStatusChangedListener("unknown")

	_, err := r.Register(context.Background(), rt, nil, RegisterModulesOptions{})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestLocalRegistry_RegisterModules_Definitions(t *testing.T) {
	rt, _ := newTestRuntime(t)
	r := NewLocalRegistry[string]()

	var seen []any
	register := func(_ context.Context, _ Runtime, hostContext any) (DeferredRegistrationFunc[string], error) {
		seen = append(seen, hostContext)
		return nil, nil
	}

	errs, err := r.RegisterModules(context.Background(), rt, []any{
		ModuleRegisterFunc[string](register),
		register,
		LocalModule[string]{Name: "named", Register: register},
		&LocalModule[string]{Register: register},
		42,
	}, RegisterModulesOptions{Context: "host"})

	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidDefinition)
	assert.Equal(t, "local-module-5/5", errs[0].OwnerName)
	assert.Equal(t, []any{"host", "host", "host", "host"}, seen)
}

func TestLocalRegistry_MaxConcurrencyKeepsResultOrder(t *testing.T) {
	rt, rec := newTestRuntime(t)
	r := NewLocalRegistry[string](WithMaxConcurrency(4))

	modules := make([]LocalModule[string], 8)
	for i := range modules {
		var err error
		if i%2 == 1 {
			err = errors.New("odd")
		}
		modules[i] = LocalModule[string]{Register: failing(err)}
	}

	errs, err := r.Register(context.Background(), rt, modules, RegisterModulesOptions{})
	require.NoError(t, err)
	require.Len(t, errs, 4)
	for i, e := range errs {
		assert.Equal(t, positionLabel(2*i+1, 8), e.ModuleName)
	}
	failed := rec.byName(EventModuleRegistrationFailed)
	for i := range errs {
		assert.Same(t, errs[i], failed[i])
	}
}

func TestLocalRegistry_DeferredRegistrationReceivesRootRuntime(t *testing.T) {
	rt, _ := newTestRuntime(t)
	r := NewLocalRegistry[string]()

	var got Runtime
	_, err := r.Register(context.Background(), rt, []LocalModule[string]{{
		Register: withDeferred(func(_ context.Context, rt Runtime, _ string, _ DeferredRegistrationOperation) error {
			got = rt
			return nil
		}),
	}}, RegisterModulesOptions{})
	require.NoError(t, err)
	_, err = r.RegisterDeferredRegistrations(context.Background(), rt, "x")
	require.NoError(t, err)
	assert.Same(t, rt, got)
}
