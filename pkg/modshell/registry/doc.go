// Package registry provides a generic thread-safe table of values indexed by key
// that remembers insertion order.
//
// The registry manager uses it twice: once to route module definitions to the
// module registry owning a given id, and once as the listener table that maps
// the token handed to a caller back to the internal subscription it stands for.
//
// # Basic Usage
//
//	r := registry.New[string, int]()
//	if err := r.Add("one", 1); err != nil {
//	    // "one" was already present
//	}
//	r.Set("two", 2)
//
//	value, ok := r.Get("one")
//
// # Ordering
//
// Values always reports entries in the order they were first
// added. Re-setting an existing key keeps its original position; deleting and
// re-adding it moves it to the end.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Values returns a
// snapshot, so callers may Set or Delete while walking it.
package registry
