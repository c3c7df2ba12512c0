package event

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEventType is returned when validating an event whose type has no schema.
var ErrUnknownEventType = errors.New("unknown event type")

// EventSchema defines the schema for an event type.
type EventSchema struct {
	// Type is the event type (e.g., "module-registration-failed").
	Type string

	// Source is the event source (e.g., "modshell").
	Source string

	// Version is the schema version number.
	Version int

	// Description explains the event's purpose.
	Description string

	// Validator is an optional payload check.
	Validator func(Event) error

	// Compatible lists older versions a consumer of Version can still read.
	Compatible []int
}

// IsCompatibleWith returns true if this schema can read events at the given version.
func (s *EventSchema) IsCompatibleWith(version int) bool {
	if version == s.Version {
		return true
	}
	for _, v := range s.Compatible {
		if v == version {
			return true
		}
	}
	return false
}

// Validate checks if an event conforms to this schema.
func (s *EventSchema) Validate(evt Event) error {
	if evt.Type() != s.Type {
		return fmt.Errorf("event type mismatch: expected %s, got %s", s.Type, evt.Type())
	}
	if !s.IsCompatibleWith(evt.Version()) {
		return fmt.Errorf("incompatible version: schema %d, event %d", s.Version, evt.Version())
	}
	if s.Validator != nil {
		if err := s.Validator(evt); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// EventRegistry holds the latest schema of every known event type.
type EventRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*EventSchema
}

// NewEventRegistry creates a new event registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		schemas: make(map[string]*EventSchema),
	}
}

// Register adds an event schema. A schema with a lower version than the one
// already registered is ignored.
func (r *EventRegistry) Register(schema *EventSchema) error {
	if schema.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if schema.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.schemas[schema.Type]; ok && current.Version > schema.Version {
		return nil
	}
	r.schemas[schema.Type] = schema
	return nil
}

// Get returns the schema for an event type.
func (r *EventRegistry) Get(eventType string) (*EventSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[eventType]
	return schema, ok
}

// Has returns true if a schema exists for the event type.
func (r *EventRegistry) Has(eventType string) bool {
	_, ok := r.Get(eventType)
	return ok
}

// Validate checks if an event conforms to its registered schema.
func (r *EventRegistry) Validate(evt Event) error {
	schema, ok := r.Get(evt.Type())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, evt.Type())
	}
	return schema.Validate(evt)
}

// Types returns all registered event types, sorted.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
