package quota

import (
	"errors"
	"fmt"
)

// Error taxonomy for the admission engine.
var (
	// ErrInvalidScope is returned for malformed scope input, such as an
	// empty credential on a per-user or per-IP scope. Non-retryable; it
	// indicates a caller bug.
	ErrInvalidScope = errors.New("invalid rate limit scope")

	// ErrInvalidQuota is returned when a resolved quota violates its
	// invariants (max requests < 1 or non-positive window).
	ErrInvalidQuota = errors.New("invalid quota configuration")

	// ErrStorageUnavailable is returned when the counter store cannot be
	// reached or times out. Retryable by the caller with backoff; the
	// engine never converts it into an allow or deny on its own.
	ErrStorageUnavailable = errors.New("counter storage unavailable")

	// ErrCASConflict is returned, wrapped in ErrStorageUnavailable, when
	// the per-key retry budget is exhausted by concurrent writers.
	ErrCASConflict = errors.New("compare-and-swap conflict")
)

// StoreError carries backend context for a counter store failure.
type StoreError struct {
	Backend string // backend type ("memory", "sqlite", "redis")
	Op      string // operation that failed ("get", "cas", "reset", ...)
	Cause   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("counter store [backend=%s, op=%s]: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a StoreError.
func NewStoreError(backend, op string, cause error) *StoreError {
	return &StoreError{Backend: backend, Op: op, Cause: cause}
}
