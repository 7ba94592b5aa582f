package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quotahq/gatekeeper/pkg/quota/ledger"
)

// DefaultMaxAttempts is the CAS retry budget per check. Conflicts beyond
// it surface as ErrStorageUnavailable; the budget exists to distinguish
// pathological contention from a normal interleaving, not to be hit in
// steady state.
const DefaultMaxAttempts = 16

// EngineConfig contains configuration for the admission engine.
type EngineConfig struct {
	// MaxAttempts is the CAS retry budget per check.
	// Default: DefaultMaxAttempts
	MaxAttempts int

	// Clock overrides the time source, for tests.
	Clock func() time.Time

	// Metrics receives engine instrumentation. Nil disables it.
	Metrics *Metrics
}

// Engine is the admission engine: it derives the scope key's fate by
// running the fixed-window policy inside the store's compare-and-swap,
// appends one ledger entry per call, and reports the verdict.
//
// The engine holds no counter state of its own; everything lives in the
// injected Store, so its lifecycle is the process's, not a package
// global's.
type Engine struct {
	store       Store
	ledger      ledger.Appender
	maxAttempts int
	now         func() time.Time
	metrics     *Metrics
	logger      *slog.Logger
}

// NewEngine creates an admission engine over the given counter store and
// ledger appender.
func NewEngine(store Store, appender ledger.Appender, cfg EngineConfig) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Engine{
		store:       store,
		ledger:      appender,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Clock,
		metrics:     cfg.Metrics,
		logger:      slog.Default().With("component", "quota.engine"),
	}
}

// Check decides whether one request under the given scope fits its quota.
//
// The read-decide-write sequence is atomic per scope key: the policy's
// verdict is only committed if the counter is unchanged since the read,
// and conflicting writers retry with a fresh read. Denials write nothing.
// Every call, allowed or denied, appends one ledger entry.
//
// A well-formed request never returns a policy error; failures are either
// caller bugs (ErrInvalidScope, ErrInvalidQuota) or storage trouble
// (ErrStorageUnavailable). The engine never converts a storage failure
// into an allow or a deny; fail-open versus fail-closed is the caller's
// policy to choose.
func (e *Engine) Check(ctx context.Context, scope ScopeKey, quota QuotaConfig) (*AdmissionResult, error) {
	if err := quota.Validate(); err != nil {
		return nil, fmt.Errorf("%w: max_requests=%d window=%s", err, quota.MaxRequests, quota.Window)
	}

	start := e.now()

	var decision Decision
	committed := false
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		now := e.now()

		current, err := e.store.Get(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("admission check: %w", err)
		}

		var next *CounterState
		decision, next = Evaluate(current, quota, now)

		if next == nil {
			// Denied: nothing to install, so nothing to race on.
			committed = true
			break
		}

		swapped, err := e.store.CompareAndSwap(ctx, scope, current, next)
		if err != nil {
			return nil, fmt.Errorf("admission check: %w", err)
		}
		if swapped {
			committed = true
			break
		}

		e.metrics.observeRetry()
	}

	if !committed {
		e.metrics.observeExhaustion()
		e.logger.Warn("cas retry budget exhausted",
			"scope", scope.String(),
			"attempts", e.maxAttempts,
		)
		return nil, fmt.Errorf("admission check for %q: %w after %d attempts: %w",
			scope.Endpoint, ErrCASConflict, e.maxAttempts, ErrStorageUnavailable)
	}

	result := &AdmissionResult{
		Allowed:    decision.Allowed,
		Remaining:  decision.Remaining,
		RetryAfter: decision.RetryAfter,
	}

	e.appendEntry(ctx, scope, result)
	e.metrics.observeCheck(scope.Class, scope.Endpoint, result.Allowed, e.now().Sub(start).Seconds())

	return result, nil
}

// Reset removes the counters for one credential, or all counters when
// credentialID is empty. Administrative; not request-path.
func (e *Engine) Reset(ctx context.Context, credentialID string) (int, error) {
	n, err := e.store.Reset(ctx, credentialID)
	if err != nil {
		return 0, fmt.Errorf("reset scope: %w", err)
	}

	e.logger.Info("rate limit counters reset",
		"credential_id", credentialID,
		"removed", n,
	)
	return n, nil
}

// appendEntry records the decision in the usage ledger. The append rides
// the async writer in production; a failed append is logged, never allowed
// to affect the admission verdict already made.
func (e *Engine) appendEntry(ctx context.Context, scope ScopeKey, result *AdmissionResult) {
	if e.ledger == nil {
		return
	}

	entry := &ledger.Entry{
		Timestamp:    e.now(),
		CredentialID: scope.CredentialID,
		SubIdentity:  scope.SubIdentity,
		Endpoint:     scope.Endpoint,
		Class:        string(scope.Class),
		Allowed:      result.Allowed,
		Remaining:    result.Remaining,
		RetryAfter:   result.RetryAfter,
	}

	if err := e.ledger.Append(ctx, entry); err != nil {
		e.logger.Error("failed to append usage entry",
			"error", err,
			"scope", scope.String(),
		)
	}
}
