package ledger

import (
	"context"
	"fmt"
	"time"
)

// Entry is one immutable admission-decision record.
type Entry struct {
	// ID is a UUID assigned at append time if the caller left it empty.
	ID string `json:"id"`

	// Seq is the arrival-order sequence number, assigned by the backend.
	// Monotonically non-decreasing; not necessarily wall-clock ordered
	// under concurrency.
	Seq int64 `json:"seq"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// Scope key components.
	CredentialID string `json:"credential_id"`
	SubIdentity  string `json:"sub_identity"`
	Endpoint     string `json:"endpoint"`
	Class        string `json:"class"`

	// Decision.
	Allowed    bool  `json:"allowed"`
	Remaining  int64 `json:"remaining"`
	RetryAfter int64 `json:"retry_after"`
}

// Query filters ledger reads and deletes.
type Query struct {
	// Exact-match filters; empty means "any".
	CredentialID string
	SubIdentity  string
	Endpoint     string

	// Allowed filters on the decision when non-nil.
	Allowed *bool

	// Time range, inclusive. Zero values mean unbounded.
	Since time.Time
	Until time.Time

	// Pagination. Limit <= 0 means no limit.
	Limit  int
	Offset int

	// Ascending orders by sequence number ascending; the default is
	// newest first.
	Ascending bool
}

// Appender is the write-side contract the admission engine uses. Both the
// storage backends and the async Writer satisfy it.
type Appender interface {
	// Append records one entry. The backend assigns Seq and, when empty,
	// ID. Entries are never mutated after a successful append.
	Append(ctx context.Context, entry *Entry) error
}

// Storage is the full ledger contract. Implementations must be safe for
// concurrent use; because the log is append-only, backends need a durable
// ordered append, not read-modify-write coordination.
type Storage interface {
	Appender

	// Query returns entries matching the filters.
	Query(ctx context.Context, q *Query) ([]*Entry, error)

	// Count returns the number of entries matching the filters.
	Count(ctx context.Context, q *Query) (int64, error)

	// Delete removes matching entries and returns how many were removed.
	// Used by retention enforcement.
	Delete(ctx context.Context, q *Query) (int64, error)

	// Close releases backend resources.
	Close() error
}

// LedgerError carries backend context for a ledger failure.
type LedgerError struct {
	Backend string // "memory", "sqlite"
	Op      string // "append", "query", "delete", ...
	Cause   error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	return fmt.Sprintf("usage ledger [backend=%s, op=%s]: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// NewLedgerError creates a LedgerError.
func NewLedgerError(backend, op string, cause error) *LedgerError {
	return &LedgerError{Backend: backend, Op: op, Cause: cause}
}

// matches reports whether an entry passes the query filters, ignoring
// pagination. Shared by the memory backend and tests.
func (q *Query) matches(e *Entry) bool {
	if q == nil {
		return true
	}
	if q.CredentialID != "" && e.CredentialID != q.CredentialID {
		return false
	}
	if q.SubIdentity != "" && e.SubIdentity != q.SubIdentity {
		return false
	}
	if q.Endpoint != "" && e.Endpoint != q.Endpoint {
		return false
	}
	if q.Allowed != nil && e.Allowed != *q.Allowed {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}
