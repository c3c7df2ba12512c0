// Package event provides the pub/sub primitives the module host dispatches
// registration events through.
//
// # Overview
//
//   - Event interface with correlation ids and schema versions
//   - EventRegistry for schema management and payload validation
//   - LocalBus for in-process fan-out, delivered either asynchronously
//     (one goroutine per subscription) or synchronously inside Publish
//
// # Ordering
//
// A subscription always observes events in publish order. In synchronous
// mode Publish returns only after every matching handler has run, which is
// what a host bootstrapping on "registration completed" notifications wants:
// by the time the publisher moves on, every observer has seen the event.
//
//	bus := event.NewBus(event.BusConfig{Synchronous: true})
//	defer bus.Close()
//
//	sub := bus.Subscribe([]string{"modules-registration-completed"},
//	    event.HandlerFunc(func(ctx context.Context, evt event.Event) error {
//	        fmt.Println(evt.Data())
//	        return nil
//	    }))
//	defer sub.Unsubscribe()
//
// # Schemas
//
// Event types can be described with an EventSchema and validated before
// they are published:
//
//	reg := event.NewEventRegistry()
//	_ = reg.Register(&event.EventSchema{
//	    Type:    "modules-registration-started",
//	    Source:  "modshell",
//	    Version: 1,
//	})
//	if err := reg.Validate(evt); err != nil {
//	    // reject
//	}
package event
