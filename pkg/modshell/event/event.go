package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a registration event as carried by a Bus.
type Event interface {
	ID() string
	Type() string
	Source() string

	// CorrelationID groups the events of one host bootstrap.
	CorrelationID() string

	Timestamp() time.Time
	Version() int
	Data() any
}

// Envelope wraps a payload of type T with its event metadata.
type Envelope[T any] struct {
	id            string
	eventType     string
	source        string
	correlationID string
	timestamp     time.Time
	version       int
	payload       T
}

func (e *Envelope[T]) ID() string            { return e.id }
func (e *Envelope[T]) Type() string          { return e.eventType }
func (e *Envelope[T]) Source() string        { return e.source }
func (e *Envelope[T]) CorrelationID() string { return e.correlationID }
func (e *Envelope[T]) Timestamp() time.Time  { return e.timestamp }
func (e *Envelope[T]) Version() int          { return e.version }
func (e *Envelope[T]) Data() any             { return e.payload }

// Payload returns the typed payload.
func (e *Envelope[T]) Payload() T { return e.payload }

// Option configures a new event.
type Option func(*options)

type options struct {
	correlationID string
	version       int
}

// WithCorrelationID ties the event to an existing correlation id.
func WithCorrelationID(id string) Option {
	return func(o *options) {
		o.correlationID = id
	}
}

// WithSchemaVersion sets the payload schema version. Default: 1
func WithSchemaVersion(v int) Option {
	return func(o *options) {
		o.version = v
	}
}

// New creates an event stamped with a fresh uuid and the current time.
// Without WithCorrelationID the event correlates to itself.
func New[T any](eventType, source string, payload T, opts ...Option) *Envelope[T] {
	o := options{version: 1}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	if o.correlationID == "" {
		o.correlationID = id
	}
	return &Envelope[T]{
		id:            id,
		eventType:     eventType,
		source:        source,
		correlationID: o.correlationID,
		timestamp:     time.Now(),
		version:       o.version,
		payload:       payload,
	}
}

// NewAny creates an event with an untyped payload.
func NewAny(eventType, source string, payload any, opts ...Option) *Envelope[any] {
	return New(eventType, source, payload, opts...)
}

// Handler processes events delivered by a Bus.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}
