package modshell

import (
	"context"
	"errors"
)

// MergeDeferredRegistrations combines the deferred registrations of several
// modules into one. Nil entries are dropped. It returns nil when nothing is
// left and the single remaining function unchanged when only one is left.
// The merged function invokes every function in order, even after one
// fails, and joins their errors.
func MergeDeferredRegistrations[D any](fns ...DeferredRegistrationFunc[D]) DeferredRegistrationFunc[D] {
	var kept []DeferredRegistrationFunc[D]
	for _, fn := range fns {
		if fn != nil {
			kept = append(kept, fn)
		}
	}

	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}

	return func(ctx context.Context, rt Runtime, data D, op DeferredRegistrationOperation) error {
		var errs []error
		for _, fn := range kept {
			if err := fn(ctx, rt, data, op); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
