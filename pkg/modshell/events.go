package modshell

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/modshell/pkg/modshell/event"
	"github.com/randalmurphal/modshell/pkg/modshell/registry"
)

// Registration event names.
const (
	EventModulesRegistrationStarted           = "modules-registration-started"
	EventModulesRegistrationCompleted         = "modules-registration-completed"
	EventModuleRegistrationFailed             = "module-registration-failed"
	EventDeferredRegistrationsStarted         = "modules-deferred-registration-started"
	EventDeferredRegistrationsCompleted       = "modules-deferred-registration-completed"
	EventDeferredRegistrationFailed           = "module-deferred-registration-failed"
	EventDeferredRegistrationsUpdateStarted   = "modules-deferred-registrations-update-started"
	EventDeferredRegistrationsUpdateCompleted = "modules-deferred-registrations-update-completed"
	EventDeferredRegistrationUpdateFailed     = "module-deferred-registration-update-failed"
)

// EventNames lists every event a registry dispatches.
var EventNames = []string{
	EventModulesRegistrationStarted,
	EventModulesRegistrationCompleted,
	EventModuleRegistrationFailed,
	EventDeferredRegistrationsStarted,
	EventDeferredRegistrationsCompleted,
	EventDeferredRegistrationFailed,
	EventDeferredRegistrationsUpdateStarted,
	EventDeferredRegistrationsUpdateCompleted,
	EventDeferredRegistrationUpdateFailed,
}

// RegistrationCountPayload is dispatched with the module registration
// started and completed events.
type RegistrationCountPayload struct {
	RegistryID string `json:"registryId"`
	Count      int    `json:"count"`
}

// DeferredRegistrationCountPayload is dispatched with the deferred
// registration started and completed events, for both operations.
type DeferredRegistrationCountPayload struct {
	RegistryID        string `json:"registryId"`
	RegistrationCount int    `json:"registrationCount"`
}

// EventListener receives the payload of a dispatched event.
type EventListener func(ctx context.Context, payload any)

// EventBus is the dispatch surface registries report progress through.
type EventBus interface {
	// Dispatch delivers payload to every listener of name.
	Dispatch(ctx context.Context, name string, payload any)

	// AddListener subscribes fn to name.
	AddListener(name string, fn EventListener) ListenerID

	// RemoveListener unsubscribes a listener. Unknown ids are ignored.
	RemoveListener(id ListenerID)
}

// EventBusOption configures NewEventBus.
type EventBusOption func(*eventBus)

// WithEventSource sets the source stamped on every event. Default: "modshell".
func WithEventSource(source string) EventBusOption {
	return func(b *eventBus) {
		b.source = source
	}
}

// WithCorrelationID stamps every event with the same correlation id so one
// bootstrap can be followed across registries.
func WithCorrelationID(id string) EventBusOption {
	return func(b *eventBus) {
		b.correlationID = id
	}
}

// WithSchemas validates every dispatched event against reg. Invalid events
// are logged and dropped.
func WithSchemas(reg *event.EventRegistry) EventBusOption {
	return func(b *eventBus) {
		b.schemas = reg
	}
}

// WithEventLogger sets the logger dispatch failures are reported to.
func WithEventLogger(logger *slog.Logger) EventBusOption {
	return func(b *eventBus) {
		b.logger = logger
	}
}

type eventBus struct {
	bus           event.Bus
	source        string
	correlationID string
	schemas       *event.EventRegistry
	logger        *slog.Logger
	subs          *registry.Registry[ListenerID, event.Subscription]
}

// NewEventBus adapts an event.Bus to the EventBus registries dispatch to.
// Pass a synchronous bus to observe events in dispatch order.
func NewEventBus(bus event.Bus, opts ...EventBusOption) EventBus {
	b := &eventBus{
		bus:    bus,
		source: "modshell",
		logger: slog.Default(),
		subs:   registry.New[ListenerID, event.Subscription](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *eventBus) Dispatch(ctx context.Context, name string, payload any) {
	var opts []event.Option
	if b.correlationID != "" {
		opts = append(opts, event.WithCorrelationID(b.correlationID))
	}
	evt := event.NewAny(name, b.source, payload, opts...)

	if b.schemas != nil {
		if err := b.schemas.Validate(evt); err != nil {
			b.logger.Warn("dropping invalid event",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	if err := b.bus.Publish(ctx, evt); err != nil {
		b.logger.Warn("event dispatch failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

func (b *eventBus) AddListener(name string, fn EventListener) ListenerID {
	sub := b.bus.Subscribe([]string{name}, event.HandlerFunc(func(ctx context.Context, evt event.Event) error {
		fn(ctx, evt.Data())
		return nil
	}))
	id := newListenerID()
	if sub == nil {
		// closed bus: the id is valid but never fires
		return id
	}
	b.subs.Set(id, sub)
	return id
}

func (b *eventBus) RemoveListener(id ListenerID) {
	if sub, ok := b.subs.Delete(id); ok {
		sub.Unsubscribe()
	}
}

// RegisterEventSchemas registers a schema for every registration event, with
// a validator checking the payload type.
func RegisterEventSchemas(reg *event.EventRegistry) error {
	schemas := []struct {
		name        string
		description string
		validate    func(any) error
	}{
		{EventModulesRegistrationStarted, "a registry started registering a batch of modules", expectPayload[RegistrationCountPayload]},
		{EventModulesRegistrationCompleted, "a registry finished registering a batch of modules", expectPayload[RegistrationCountPayload]},
		{EventModuleRegistrationFailed, "a module register function failed", expectPayload[*RegistrationError]},
		{EventDeferredRegistrationsStarted, "a registry started its deferred registrations", expectPayload[DeferredRegistrationCountPayload]},
		{EventDeferredRegistrationsCompleted, "a registry finished its deferred registrations", expectPayload[DeferredRegistrationCountPayload]},
		{EventDeferredRegistrationFailed, "a deferred registration failed", expectPayload[*RegistrationError]},
		{EventDeferredRegistrationsUpdateStarted, "a registry started updating its deferred registrations", expectPayload[DeferredRegistrationCountPayload]},
		{EventDeferredRegistrationsUpdateCompleted, "a registry finished updating its deferred registrations", expectPayload[DeferredRegistrationCountPayload]},
		{EventDeferredRegistrationUpdateFailed, "a deferred registration update failed", expectPayload[*RegistrationError]},
	}
	for _, s := range schemas {
		validate := s.validate
		err := reg.Register(&event.EventSchema{
			Type:        s.name,
			Source:      "modshell",
			Version:     1,
			Description: s.description,
			Validator: func(evt event.Event) error {
				return validate(evt.Data())
			},
		})
		if err != nil {
			return fmt.Errorf("register schema %s: %w", s.name, err)
		}
	}
	return nil
}

func expectPayload[T any](payload any) error {
	if _, ok := payload.(T); !ok {
		var want T
		return fmt.Errorf("payload is %T, want %T", payload, want)
	}
	return nil
}
