package quota

import (
	"math"
	"time"
)

// Decision is the outcome of evaluating one check against the fixed-window
// policy, before it is installed in the store.
type Decision struct {
	// Allowed reports whether the request fits in the window.
	Allowed bool

	// Remaining is the quota left after this request. Zero on denial.
	Remaining int64

	// RetryAfter is the whole seconds until the window rolls over, >= 1 on
	// denial and 0 on admission.
	RetryAfter int64
}

// Evaluate applies the fixed-window policy: exactly MaxRequests admissions
// per window measured from first use, then a hard stop until rollover. Not
// sliding, not token-replenishing.
//
// It is a pure function of (state, quota, now). The returned next state is
// what the caller should install; it is nil on denial, which deliberately
// leaves the counter untouched and lets denials skip the write entirely.
//
// The window math runs at the clock's full precision even though the
// reported retry delay is whole seconds; rounding happens once, upward, at
// the edge.
func Evaluate(state *CounterState, quota QuotaConfig, now time.Time) (Decision, *CounterState) {
	// First observation, or the window has elapsed: open a fresh window
	// with this request as its first admission.
	if state == nil || now.Sub(state.WindowStart) >= quota.Window {
		next := &CounterState{Count: 1, WindowStart: now, LastSeen: now}
		return Decision{Allowed: true, Remaining: quota.MaxRequests - 1}, next
	}

	// Inside the window with room left: count the admission.
	if state.Count < quota.MaxRequests {
		next := state.Clone()
		next.Count++
		next.LastSeen = now
		return Decision{Allowed: true, Remaining: quota.MaxRequests - next.Count}, next
	}

	// Ceiling hit: deny and report when the window rolls over.
	return Decision{RetryAfter: retryAfterSeconds(state.WindowStart, quota.Window, now)}, nil
}

// retryAfterSeconds reports the seconds until the window starting at start
// elapses, rounded up and floored at 1.
func retryAfterSeconds(start time.Time, window time.Duration, now time.Time) int64 {
	left := window - now.Sub(start)
	secs := int64(math.Ceil(left.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
