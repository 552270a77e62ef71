// Package clock implements the Clock port (C1): cancellable wall-clock
// sleeps for the worker loop's "sleep until the next phase boundary" step.
package clock

import (
	"time"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// Real is the production Clock backed by time.Timer. A zero Real is ready to use.
type Real struct{}

// New constructs a Real clock.
func New() Real { return Real{} }

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// SleepUntil returns when t is reached or ctx is cancelled, whichever first.
// If t is already past, it returns immediately. Monotonicity note (spec.md
// §4.1): the deadline is measured against the running clock via a Timer
// armed for time.Until(t), so a backward wall-clock jump cannot delay the
// return past now_at_call + (t - now_at_call).
func (r Real) SleepUntil(ctx domain.Context, t time.Time) {
	d := time.Until(t)
	r.SleepFor(ctx, d)
}

// SleepFor returns when d has elapsed or ctx is cancelled, whichever first.
// Never sleeps negatively: a non-positive duration returns immediately.
func (Real) SleepFor(ctx domain.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
