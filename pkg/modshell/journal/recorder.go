package journal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/modshell/pkg/modshell"
)

// Recorder appends every registration event dispatched on a bus to a Store.
type Recorder struct {
	store  Store
	runID  string
	logger *slog.Logger

	mu        sync.Mutex
	bus       modshell.EventBus
	listeners []modshell.ListenerID
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRunID sets the run the entries are recorded under. Default: a new uuid.
func WithRunID(id string) RecorderOption {
	return func(r *Recorder) {
		if id != "" {
			r.runID = id
		}
	}
}

// WithRecorderLogger sets the logger append failures are reported to.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		runID:  uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the run entries are recorded under.
func (r *Recorder) RunID() string {
	return r.runID
}

// Attach subscribes the recorder to every registration event of bus.
// Attaching again moves the recorder to the new bus.
func (r *Recorder) Attach(bus modshell.EventBus) {
	r.Detach()

	ids := make([]modshell.ListenerID, 0, len(modshell.EventNames))
	for _, name := range modshell.EventNames {
		ids = append(ids, bus.AddListener(name, func(ctx context.Context, payload any) {
			r.record(ctx, name, payload)
		}))
	}

	r.mu.Lock()
	r.bus = bus
	r.listeners = ids
	r.mu.Unlock()
}

// Detach unsubscribes the recorder.
func (r *Recorder) Detach() {
	r.mu.Lock()
	bus, ids := r.bus, r.listeners
	r.bus, r.listeners = nil, nil
	r.mu.Unlock()

	for _, id := range ids {
		bus.RemoveListener(id)
	}
}

// Entries returns the entries recorded for the current run.
func (r *Recorder) Entries(ctx context.Context) ([]Entry, error) {
	return r.store.List(ctx, r.runID)
}

func (r *Recorder) record(ctx context.Context, name string, payload any) {
	entry := entryFor(name, payload)
	entry.RunID = r.runID
	if _, err := r.store.Append(ctx, entry); err != nil {
		r.logger.Warn("journal append failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

func entryFor(name string, payload any) Entry {
	entry := Entry{Event: name}
	switch p := payload.(type) {
	case modshell.RegistrationCountPayload:
		entry.RegistryID = p.RegistryID
		entry.Count = p.Count
	case modshell.DeferredRegistrationCountPayload:
		entry.RegistryID = p.RegistryID
		entry.Count = p.RegistrationCount
	case *modshell.RegistrationError:
		entry.RegistryID = p.RegistryID
		entry.Owner = p.OwnerName
		entry.Position = p.ModuleName
		entry.Error = p.Error()
	}
	return entry
}

// RegistrySummary aggregates the entries of one registry.
type RegistrySummary struct {
	ModulesRegistered  int
	ModuleFailures     int
	DeferredRegistered int
	DeferredFailures   int
	Updates            int
	UpdateFailures     int
}

// Summarize aggregates entries per registry id.
func Summarize(entries []Entry) map[string]RegistrySummary {
	summaries := make(map[string]RegistrySummary)
	for _, e := range entries {
		s := summaries[e.RegistryID]
		switch e.Event {
		case modshell.EventModulesRegistrationCompleted:
			s.ModulesRegistered += e.Count
		case modshell.EventModuleRegistrationFailed:
			s.ModuleFailures++
		case modshell.EventDeferredRegistrationsCompleted:
			s.DeferredRegistered += e.Count
		case modshell.EventDeferredRegistrationFailed:
			s.DeferredFailures++
		case modshell.EventDeferredRegistrationsUpdateStarted:
			s.Updates++
		case modshell.EventDeferredRegistrationUpdateFailed:
			s.UpdateFailures++
		default:
			continue
		}
		summaries[e.RegistryID] = s
	}
	return summaries
}
