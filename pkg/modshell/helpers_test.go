package modshell

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type recordedEvent struct {
	name    string
	payload any
}

// eventRecorder records every registration event dispatched on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.name
	}
	return names
}

func (r *eventRecorder) byName(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payloads []any
	for _, e := range r.events {
		if e.name == name {
			payloads = append(payloads, e.payload)
		}
	}
	return payloads
}

// record appends a marker so status changes can be ordered against events.
func (r *eventRecorder) record(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, payload: payload})
}

func newTestRuntime(t *testing.T) (*DefaultRuntime, *eventRecorder) {
	t.Helper()
	rt := NewRuntime(
		WithRuntimeName("test"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	rec := &eventRecorder{}
	for _, name := range EventNames {
		name := name
		rt.EventBus().AddListener(name, func(_ context.Context, payload any) {
			rec.record(name, payload)
		})
	}
	return rt, rec
}

// noDeferred is a register function that defers nothing.
func noDeferred(calls *[]string, mu *sync.Mutex, name string) ModuleRegisterFunc[string] {
	return func(context.Context, Runtime, any) (DeferredRegistrationFunc[string], error) {
		mu.Lock()
		*calls = append(*calls, name)
		mu.Unlock()
		return nil, nil
	}
}

// deferredCall is one recorded invocation of a deferred registration.
type deferredCall struct {
	owner string
	data  string
	op    DeferredRegistrationOperation
}

type deferredLog struct {
	mu    sync.Mutex
	calls []deferredCall
}

func (l *deferredLog) fn(owner string, err error) DeferredRegistrationFunc[string] {
	return func(_ context.Context, _ Runtime, data string, op DeferredRegistrationOperation) error {
		l.mu.Lock()
		l.calls = append(l.calls, deferredCall{owner: owner, data: data, op: op})
		l.mu.Unlock()
		return err
	}
}

func (l *deferredLog) snapshot() []deferredCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]deferredCall(nil), l.calls...)
}

// withDeferred is a register function returning fn as its deferred registration.
func withDeferred(fn DeferredRegistrationFunc[string]) ModuleRegisterFunc[string] {
	return func(context.Context, Runtime, any) (DeferredRegistrationFunc[string], error) {
		return fn, nil
	}
}

func failing(err error) ModuleRegisterFunc[string] {
	return func(context.Context, Runtime, any) (DeferredRegistrationFunc[string], error) {
		return nil, err
	}
}
