package stats

import (
	"context"
	"fmt"
	"time"

	"quotahq/gatekeeper/pkg/quota"
	"quotahq/gatekeeper/pkg/quota/ledger"
)

// DefaultLookback is applied when a query does not name one.
const DefaultLookback = 24 * time.Hour

// Options narrows a usage query.
type Options struct {
	// SubIdentity restricts to one sub-identity when non-empty.
	SubIdentity string

	// Endpoint restricts to one endpoint when non-empty.
	Endpoint string

	// Lookback is how far back to count. Zero selects DefaultLookback.
	Lookback time.Duration
}

// EndpointUsage is the per-endpoint slice of a usage report.
type EndpointUsage struct {
	Total   int64 `json:"total"`
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// WindowSnapshot pairs a scope key with its live counter state.
type WindowSnapshot struct {
	Scope quota.ScopeKey     `json:"scope"`
	State quota.CounterState `json:"state"`
}

// Usage is the statistics report for one credential.
type Usage struct {
	CredentialID string                   `json:"credential_id"`
	Lookback     time.Duration            `json:"lookback"`
	Total        int64                    `json:"total"`
	Allowed      int64                    `json:"allowed"`
	Denied       int64                    `json:"denied"`
	PerEndpoint  map[string]EndpointUsage `json:"per_endpoint"`

	// CurrentWindows are snapshots of the credential's live counters at
	// query time. Snapshots are copies; reading them mutates nothing.
	CurrentWindows []WindowSnapshot `json:"current_windows"`
}

// SystemUsage is the service-wide statistics report.
type SystemUsage struct {
	ActiveScopes int           `json:"active_scopes"`
	Lookback     time.Duration `json:"lookback"`
	Total        int64         `json:"total"`
	Allowed      int64         `json:"allowed"`
	Denied       int64         `json:"denied"`
}

// Aggregator computes usage statistics. It only ever reads.
type Aggregator struct {
	store  quota.Store
	ledger ledger.Storage
}

// NewAggregator creates an aggregator over the given store and ledger.
func NewAggregator(store quota.Store, led ledger.Storage) *Aggregator {
	return &Aggregator{store: store, ledger: led}
}

// Usage reports totals, the allow/deny split, and a per-endpoint breakdown
// for one credential over the lookback window, plus snapshots of its live
// counters. The ledger query is indexed by credential and time, so cost
// follows the result set, not total history.
func (a *Aggregator) Usage(ctx context.Context, credentialID string, opts Options) (*Usage, error) {
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	entries, err := a.ledger.Query(ctx, &ledger.Query{
		CredentialID: credentialID,
		SubIdentity:  opts.SubIdentity,
		Endpoint:     opts.Endpoint,
		Since:        time.Now().Add(-lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("usage query: %w", err)
	}

	usage := &Usage{
		CredentialID: credentialID,
		Lookback:     lookback,
		PerEndpoint:  make(map[string]EndpointUsage),
	}

	for _, e := range entries {
		usage.Total++
		ep := usage.PerEndpoint[e.Endpoint]
		ep.Total++
		if e.Allowed {
			usage.Allowed++
			ep.Allowed++
		} else {
			usage.Denied++
			ep.Denied++
		}
		usage.PerEndpoint[e.Endpoint] = ep
	}

	snapshot, err := a.store.Snapshot(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("counter snapshot: %w", err)
	}
	for key, state := range snapshot {
		if opts.SubIdentity != "" && key.SubIdentity != opts.SubIdentity {
			continue
		}
		if opts.Endpoint != "" && key.Endpoint != opts.Endpoint {
			continue
		}
		usage.CurrentWindows = append(usage.CurrentWindows, WindowSnapshot{Scope: key, State: *state})
	}

	return usage, nil
}

// System reports service-wide activity over the lookback window.
func (a *Aggregator) System(ctx context.Context, lookback time.Duration) (*SystemUsage, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	since := time.Now().Add(-lookback)

	total, err := a.ledger.Count(ctx, &ledger.Query{Since: since})
	if err != nil {
		return nil, fmt.Errorf("system usage: %w", err)
	}

	allowed := true
	allowedCount, err := a.ledger.Count(ctx, &ledger.Query{Since: since, Allowed: &allowed})
	if err != nil {
		return nil, fmt.Errorf("system usage: %w", err)
	}

	snapshot, err := a.store.Snapshot(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("system snapshot: %w", err)
	}

	return &SystemUsage{
		ActiveScopes: len(snapshot),
		Lookback:     lookback,
		Total:        total,
		Allowed:      allowedCount,
		Denied:       total - allowedCount,
	}, nil
}
