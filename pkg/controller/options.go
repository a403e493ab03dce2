package controller

import "time"

// WithClock injects the time source, so tests can drive cooldown
// eligibility without a live clock.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}
