package modshell

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/modshell/pkg/modshell/observability"
	"github.com/randalmurphal/modshell/pkg/modshell/registry"
)

// deferredRegistration is a deferred registration along with the module that
// returned it.
type deferredRegistration[D any] struct {
	owner    string
	position string
	fn       DeferredRegistrationFunc[D]
}

// moduleOutcome is the result of registering one module. At most one of its
// fields is set.
type moduleOutcome[D any] struct {
	deferred *deferredRegistration[D]
	err      *RegistrationError
}

// scopeFunc picks the runtime a deferred registration is invoked with.
type scopeFunc[D any] func(rt Runtime, item deferredRegistration[D], op DeferredRegistrationOperation) Runtime

// phaseState is the status machine and deferred registration list shared by
// every registry variant.
type phaseState[D any] struct {
	cfg      registryConfig
	scopeFor scopeFunc[D]

	mu       sync.Mutex
	status   RegistrationStatus
	deferred []deferredRegistration[D]

	listeners *registry.Registry[ListenerID, func()]
}

func newPhaseState[D any](cfg registryConfig, scopeFor scopeFunc[D]) *phaseState[D] {
	return &phaseState[D]{
		cfg:       cfg,
		scopeFor:  scopeFor,
		status:    StatusNone,
		listeners: registry.New[ListenerID, func()](),
	}
}

// ID returns the registry id.
func (p *phaseState[D]) ID() string {
	return p.cfg.id
}

// RegistrationStatus returns the current status.
func (p *phaseState[D]) RegistrationStatus() RegistrationStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RegisterStatusChangedListener adds fn to the listeners invoked after every
// status change.
func (p *phaseState[D]) RegisterStatusChangedListener(fn func()) ListenerID {
	id := newListenerID()
	p.listeners.Set(id, fn)
	return id
}

// RemoveStatusChangedListener removes a listener. Unknown ids are ignored.
func (p *phaseState[D]) RemoveStatusChangedListener(id ListenerID) {
	p.listeners.Delete(id)
}

// claim moves the status from one value to another, reporting false when the
// registry is not in the expected status or the move is not allowed.
func (p *phaseState[D]) claim(from, to RegistrationStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != from || !CanTransition(from, to) {
		return false
	}
	p.status = to
	return true
}

// setStatus moves to status and notifies listeners. A move CanTransition
// rejects leaves the status untouched and is reported as false.
func (p *phaseState[D]) setStatus(rt Runtime, to RegistrationStatus) bool {
	p.mu.Lock()
	from := p.status
	if !CanTransition(from, to) {
		p.mu.Unlock()
		rt.Logger().Error("rejected registration status change",
			slog.String("registry", p.cfg.id),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		return false
	}
	p.status = to
	p.mu.Unlock()
	p.notify(rt, from, to)
	return true
}

// notify logs a status change and invokes every listener, outside the lock.
func (p *phaseState[D]) notify(rt Runtime, from, to RegistrationStatus) {
	observability.LogStatusChanged(rt.Logger(), p.cfg.id, from.String(), to.String())
	for _, fn := range p.listeners.Values() {
		fn()
	}
}

// beginModules claims the registry for a batch of count modules. It returns
// done=true when the batch is empty, in which case the registry is already
// ready and nothing else must happen.
func (p *phaseState[D]) beginModules(ctx context.Context, rt Runtime, count int) (done bool, err error) {
	if count == 0 {
		if !p.claim(StatusNone, StatusReady) {
			return false, fmt.Errorf("registry %q: %w", p.cfg.id, ErrModulesAlreadyRegistered)
		}
		p.notify(rt, StatusNone, StatusReady)
		return true, nil
	}

	if !p.claim(StatusNone, StatusRegisteringModules) {
		return false, fmt.Errorf("registry %q: %w", p.cfg.id, ErrModulesAlreadyRegistered)
	}
	p.notify(rt, StatusNone, StatusRegisteringModules)

	observability.LogModulesRegistrationStarted(rt.Logger(), p.cfg.id, count)
	rt.EventBus().Dispatch(ctx, EventModulesRegistrationStarted, RegistrationCountPayload{
		RegistryID: p.cfg.id,
		Count:      count,
	})
	return false, nil
}

// finishModules reports the outcomes of a batch, keeps the deferred
// registrations and moves the registry to its next status.
func (p *phaseState[D]) finishModules(ctx context.Context, rt Runtime, outcomes []moduleOutcome[D], durationMs float64) []*RegistrationError {
	var errs []*RegistrationError
	var deferred []deferredRegistration[D]
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			errs = append(errs, o.err)
		case o.deferred != nil:
			deferred = append(deferred, *o.deferred)
		}
	}

	for _, e := range errs {
		rt.EventBus().Dispatch(ctx, EventModuleRegistrationFailed, e)
	}

	succeeded := len(outcomes) - len(errs)
	observability.LogModulesRegistrationCompleted(rt.Logger(), p.cfg.id, succeeded, len(outcomes), durationMs)
	rt.EventBus().Dispatch(ctx, EventModulesRegistrationCompleted, RegistrationCountPayload{
		RegistryID: p.cfg.id,
		Count:      succeeded,
	})

	p.mu.Lock()
	p.deferred = append(p.deferred, deferred...)
	p.mu.Unlock()

	if len(deferred) > 0 {
		p.setStatus(rt, StatusModulesRegistered)
	} else {
		p.setStatus(rt, StatusReady)
	}
	return errs
}

// registerBatch runs a whole module registration phase: items are
// registered with bounded fan-out and their outcomes kept in input order.
func registerBatch[T any, D any](
	ctx context.Context,
	rt Runtime,
	p *phaseState[D],
	items []T,
	register func(ctx context.Context, i int, item T) moduleOutcome[D],
) ([]*RegistrationError, error) {
	done, err := p.beginModules(ctx, rt, len(items))
	if err != nil || done {
		return nil, err
	}

	elapsed := observability.TimedOperation()
	ctx, span := rt.Spans().StartPhaseSpan(ctx, p.cfg.id, "register")
	defer rt.Spans().EndSpanWithError(span, nil)

	outcomes := make([]moduleOutcome[D], len(items))
	it := iter.Iterator[T]{MaxGoroutines: p.cfg.fanOut(len(items))}
	it.ForEachIdx(items, func(i int, item *T) {
		outcomes[i] = register(ctx, i, *item)
	})
	return p.finishModules(ctx, rt, outcomes, elapsed()), nil
}

// registerModule invokes one register function, isolating its failure.
func (p *phaseState[D]) registerModule(
	ctx context.Context,
	rt Runtime,
	owner, position string,
	register ModuleRegisterFunc[D],
	hostContext any,
) moduleOutcome[D] {
	logger := rt.Logger()
	observability.LogModuleRegistering(logger, p.cfg.id, position, owner)

	ctx, span := rt.Spans().StartModuleSpan(ctx, p.cfg.id, owner)
	start := time.Now()

	var deferred DeferredRegistrationFunc[D]
	err := safeCall(owner, func() error {
		var err error
		deferred, err = register(ctx, rt, hostContext)
		return err
	})

	rt.Metrics().RecordModuleRegistration(ctx, p.cfg.id, time.Since(start), err)
	rt.Spans().EndSpanWithError(span, err)

	if err != nil {
		observability.LogModuleRegistrationFailed(logger, p.cfg.id, owner, err)
		return moduleOutcome[D]{err: &RegistrationError{
			Message:    "an error occurred while registering a module",
			RegistryID: p.cfg.id,
			OwnerName:  owner,
			ModuleName: position,
			Err:        err,
		}}
	}

	observability.LogModuleRegistered(logger, p.cfg.id, position, owner, float64(time.Since(start).Microseconds())/1000)
	if deferred == nil {
		return moduleOutcome[D]{}
	}
	return moduleOutcome[D]{deferred: &deferredRegistration[D]{
		owner:    owner,
		position: position,
		fn:       deferred,
	}}
}

// registerDeferred runs the first deferred registration pass.
func (p *phaseState[D]) registerDeferred(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error) {
	p.mu.Lock()
	switch {
	case p.status == StatusReady && len(p.deferred) == 0:
		// nothing was deferred, the registry went straight to ready
		p.mu.Unlock()
		return nil, nil
	case p.status == StatusNone || p.status == StatusRegisteringModules:
		p.mu.Unlock()
		return nil, fmt.Errorf("registry %q: %w", p.cfg.id, ErrModulesNotRegistered)
	case !CanTransition(p.status, StatusRegisteringDeferredRegistration):
		p.mu.Unlock()
		return nil, fmt.Errorf("registry %q: %w", p.cfg.id, ErrDeferredRegistrationsAlreadyRegistered)
	}
	p.status = StatusRegisteringDeferredRegistration
	items := append([]deferredRegistration[D](nil), p.deferred...)
	p.mu.Unlock()
	p.notify(rt, StatusModulesRegistered, StatusRegisteringDeferredRegistration)

	errs := p.runDeferred(ctx, rt, items, data, OperationRegister)
	p.setStatus(rt, StatusReady)
	return errs, nil
}

// updateDeferred re-invokes every deferred registration with new data.
func (p *phaseState[D]) updateDeferred(ctx context.Context, rt Runtime, data D) ([]*RegistrationError, error) {
	p.mu.Lock()
	if p.status != StatusReady {
		p.mu.Unlock()
		return nil, fmt.Errorf("registry %q: %w", p.cfg.id, ErrModulesNotReady)
	}
	items := append([]deferredRegistration[D](nil), p.deferred...)
	p.mu.Unlock()

	// an empty list still reports started and completed with a zero count
	return p.runDeferred(ctx, rt, items, data, OperationUpdate), nil
}

type deferredEvents struct {
	started, failed, completed string
}

var eventsByOperation = map[DeferredRegistrationOperation]deferredEvents{
	OperationRegister: {
		started:   EventDeferredRegistrationsStarted,
		failed:    EventDeferredRegistrationFailed,
		completed: EventDeferredRegistrationsCompleted,
	},
	OperationUpdate: {
		started:   EventDeferredRegistrationsUpdateStarted,
		failed:    EventDeferredRegistrationUpdateFailed,
		completed: EventDeferredRegistrationsUpdateCompleted,
	},
}

// runDeferred invokes every deferred registration with op, isolating each
// failure. The completed event is dispatched before returning, so before any
// status change of the caller.
func (p *phaseState[D]) runDeferred(
	ctx context.Context,
	rt Runtime,
	items []deferredRegistration[D],
	data D,
	op DeferredRegistrationOperation,
) []*RegistrationError {
	names := eventsByOperation[op]
	logger := rt.Logger()
	elapsed := observability.TimedOperation()

	ctx, phaseSpan := rt.Spans().StartPhaseSpan(ctx, p.cfg.id, "deferred-"+op.String())
	defer rt.Spans().EndSpanWithError(phaseSpan, nil)

	observability.LogDeferredRegistrationsStarted(logger, p.cfg.id, op.String(), len(items))
	rt.EventBus().Dispatch(ctx, names.started, DeferredRegistrationCountPayload{
		RegistryID:        p.cfg.id,
		RegistrationCount: len(items),
	})

	results := make([]*RegistrationError, len(items))
	it := iter.Iterator[deferredRegistration[D]]{MaxGoroutines: p.cfg.fanOut(len(items))}
	it.ForEachIdx(items, func(i int, item *deferredRegistration[D]) {
		results[i] = p.invokeDeferred(ctx, rt, *item, data, op)
	})

	var errs []*RegistrationError
	for _, e := range results {
		if e != nil {
			errs = append(errs, e)
		}
	}
	for _, e := range errs {
		rt.EventBus().Dispatch(ctx, names.failed, e)
	}

	succeeded := len(items) - len(errs)
	rt.Spans().AddSpanEvent(ctx, "deferred registrations completed",
		attribute.Int("registrations.succeeded", succeeded),
		attribute.Int("registrations.failed", len(errs)),
	)
	observability.LogDeferredRegistrationsCompleted(logger, p.cfg.id, op.String(), succeeded, len(items), elapsed())
	rt.EventBus().Dispatch(ctx, names.completed, DeferredRegistrationCountPayload{
		RegistryID:        p.cfg.id,
		RegistrationCount: succeeded,
	})
	return errs
}

func (p *phaseState[D]) invokeDeferred(
	ctx context.Context,
	rt Runtime,
	item deferredRegistration[D],
	data D,
	op DeferredRegistrationOperation,
) *RegistrationError {
	scoped := rt
	if p.scopeFor != nil {
		scoped = p.scopeFor(rt, item, op)
	}

	ctx, span := rt.Spans().StartModuleSpan(ctx, p.cfg.id, item.owner)
	start := time.Now()
	err := safeCall(item.owner, func() error {
		return item.fn(ctx, scoped, data, op)
	})
	rt.Metrics().RecordDeferredRegistration(ctx, p.cfg.id, op.String(), time.Since(start), err)
	rt.Spans().EndSpanWithError(span, err)

	if err == nil {
		return nil
	}
	observability.LogDeferredRegistrationFailed(scoped.Logger(), p.cfg.id, op.String(), item.owner, err)

	message := "an error occurred while registering the deferred registrations of a module"
	if op == OperationUpdate {
		message = "an error occurred while updating the deferred registrations of a module"
	}
	return &RegistrationError{
		Message:    message,
		RegistryID: p.cfg.id,
		OwnerName:  item.owner,
		ModuleName: item.position,
		Err:        err,
	}
}

// safeCall runs fn, turning a panic into a PanicError.
func safeCall(owner string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Owner: owner,
				Value: r,
				Stack: string(debug.Stack()),
			}
		}
	}()
	return fn()
}

// positionLabel formats the "index/total" label of item i.
func positionLabel(i, total int) string {
	return fmt.Sprintf("%d/%d", i+1, total)
}
