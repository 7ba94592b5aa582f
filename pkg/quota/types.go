package quota

import (
	"context"
	"time"
)

// QuotaConfig is the resolved quota for one credential: at most MaxRequests
// admissions per fixed Window. It is immutable for the duration of a check
// and is supplied by the credential resolver, not looked up by the engine.
type QuotaConfig struct {
	// MaxRequests is the admission ceiling per window. Must be >= 1.
	MaxRequests int64 `yaml:"max_requests"`

	// Window is the fixed window length. Sub-second windows are valid;
	// they arise when a derived limit is expressed as a rate (for example
	// a 1000-per-minute global ceiling carved into fractional windows).
	Window time.Duration `yaml:"window"`
}

// Validate reports whether the quota satisfies its invariants.
func (q QuotaConfig) Validate() error {
	if q.MaxRequests < 1 {
		return ErrInvalidQuota
	}
	if q.Window <= 0 {
		return ErrInvalidQuota
	}
	return nil
}

// CounterState is the per-scope-key window counter. One instance exists per
// live scope key; it is created lazily on first check and mutated only
// through the store's compare-and-swap.
//
// Invariants: Count >= 0, WindowStart <= LastSeen, and WindowStart only
// moves forward, and only on rollover.
type CounterState struct {
	// Count is the number of admissions in the current window.
	Count int64

	// WindowStart is when the current window opened.
	WindowStart time.Time

	// LastSeen is when the counter was last advanced.
	LastSeen time.Time

	// Version is the store's CAS token. It is assigned by the backend on
	// every successful swap and compared on the next one; callers never
	// set it.
	Version uint64
}

// Clone returns an independent copy of the state.
func (s *CounterState) Clone() *CounterState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// AdmissionResult is the verdict for one check call.
type AdmissionResult struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Remaining is the quota left in the current window after this call.
	// Zero when denied.
	Remaining int64 `json:"remaining"`

	// RetryAfter is the whole seconds a denied caller must wait before the
	// window rolls over. Always >= 1 on denial, 0 on admission. Rounded up,
	// never down: under-reporting would make callers retry too early.
	RetryAfter int64 `json:"retry_after"`
}

// Store is the counter persistence contract. Implementations must be safe
// for concurrent use and must make CompareAndSwap atomic per key; that
// atomicity is what keeps concurrent checks from over-admitting.
type Store interface {
	// Get returns the current state for a key, or nil if the key has never
	// been observed.
	Get(ctx context.Context, key ScopeKey) (*CounterState, error)

	// CompareAndSwap installs next for key if the stored state still
	// matches expected. A nil expected means "create only if absent".
	// It returns false (and no error) when another writer got there first.
	CompareAndSwap(ctx context.Context, key ScopeKey, expected, next *CounterState) (bool, error)

	// Snapshot returns copies of the live states for a credential, or for
	// all credentials when credentialID is empty. Reading a snapshot never
	// evaluates or advances any window.
	Snapshot(ctx context.Context, credentialID string) (map[ScopeKey]*CounterState, error)

	// Reset deletes the counters for a credential, or every counter when
	// credentialID is empty. Returns the number of counters removed.
	Reset(ctx context.Context, credentialID string) (int, error)

	// Cleanup removes counters idle since before olderThan and returns the
	// number removed. Eventual cleanup is sufficient; callers schedule it.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
