package stats

import (
	"context"
	"testing"
	"time"

	"quotahq/gatekeeper/pkg/quota"
	"quotahq/gatekeeper/pkg/quota/ledger"
	"quotahq/gatekeeper/pkg/quota/store"
)

func seedDecision(t *testing.T, led ledger.Storage, credentialID, subIdentity, endpoint string, allowed bool, ts time.Time) {
	t.Helper()
	err := led.Append(context.Background(), &ledger.Entry{
		Timestamp:    ts,
		CredentialID: credentialID,
		SubIdentity:  subIdentity,
		Endpoint:     endpoint,
		Class:        "user",
		Allowed:      allowed,
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
}

func mustScope(t *testing.T, credentialID, subIdentity, endpoint string, class quota.ScopeClass) quota.ScopeKey {
	t.Helper()
	key, err := quota.NewScopeKey(credentialID, subIdentity, endpoint, class)
	if err != nil {
		t.Fatalf("NewScopeKey() failed: %v", err)
	}
	return key
}

func seedCounter(t *testing.T, s quota.Store, key quota.ScopeKey, count int64) {
	t.Helper()
	now := time.Now()
	ok, err := s.CompareAndSwap(context.Background(), key, nil, &quota.CounterState{
		WindowStart: now,
		Count:       count,
		LastSeen:    now,
	})
	if err != nil || !ok {
		t.Fatalf("CompareAndSwap() failed: ok=%v err=%v", ok, err)
	}
}

// TestAggregator_Usage tests totals, the allow/deny split, and the
// per-endpoint breakdown for one credential.
func TestAggregator_Usage(t *testing.T) {
	led := ledger.NewMemoryLedger(100)
	counters := store.NewMemoryStore()
	defer counters.Close()
	now := time.Now()

	seedDecision(t, led, "cred-1", "alice", "/v1/a", true, now.Add(-time.Hour))
	seedDecision(t, led, "cred-1", "alice", "/v1/a", false, now.Add(-30*time.Minute))
	seedDecision(t, led, "cred-1", "bob", "/v1/b", true, now.Add(-10*time.Minute))
	seedDecision(t, led, "cred-2", "carol", "/v1/a", true, now)

	key := mustScope(t, "cred-1", "alice", "/v1/a", quota.ClassUser)
	seedCounter(t, counters, key, 2)
	other := mustScope(t, "cred-2", "carol", "/v1/a", quota.ClassUser)
	seedCounter(t, counters, other, 1)

	agg := NewAggregator(counters, led)

	usage, err := agg.Usage(context.Background(), "cred-1", Options{})
	if err != nil {
		t.Fatalf("Usage() failed: %v", err)
	}

	if usage.Total != 3 || usage.Allowed != 2 || usage.Denied != 1 {
		t.Errorf("Expected 3/2/1 total/allowed/denied, got %d/%d/%d", usage.Total, usage.Allowed, usage.Denied)
	}
	if usage.Lookback != DefaultLookback {
		t.Errorf("Expected default lookback %v, got %v", DefaultLookback, usage.Lookback)
	}

	a := usage.PerEndpoint["/v1/a"]
	if a.Total != 2 || a.Allowed != 1 || a.Denied != 1 {
		t.Errorf("Expected /v1/a breakdown 2/1/1, got %+v", a)
	}
	b := usage.PerEndpoint["/v1/b"]
	if b.Total != 1 || b.Allowed != 1 {
		t.Errorf("Expected /v1/b breakdown 1/1/0, got %+v", b)
	}

	if len(usage.CurrentWindows) != 1 {
		t.Fatalf("Expected 1 live window for cred-1, got %d", len(usage.CurrentWindows))
	}
	if usage.CurrentWindows[0].Scope != key || usage.CurrentWindows[0].State.Count != 2 {
		t.Errorf("Unexpected window snapshot: %+v", usage.CurrentWindows[0])
	}
}

// TestAggregator_UsageFilters tests sub-identity, endpoint, and lookback
// narrowing.
func TestAggregator_UsageFilters(t *testing.T) {
	led := ledger.NewMemoryLedger(100)
	counters := store.NewMemoryStore()
	defer counters.Close()
	now := time.Now()

	seedDecision(t, led, "cred-1", "alice", "/v1/a", true, now.Add(-2*time.Hour))
	seedDecision(t, led, "cred-1", "alice", "/v1/b", true, now.Add(-time.Minute))
	seedDecision(t, led, "cred-1", "bob", "/v1/a", false, now.Add(-time.Minute))

	aliceA := mustScope(t, "cred-1", "alice", "/v1/a", quota.ClassUser)
	bobA := mustScope(t, "cred-1", "bob", "/v1/a", quota.ClassUser)
	seedCounter(t, counters, aliceA, 1)
	seedCounter(t, counters, bobA, 1)

	agg := NewAggregator(counters, led)
	ctx := context.Background()

	bySub, err := agg.Usage(ctx, "cred-1", Options{SubIdentity: "alice"})
	if err != nil {
		t.Fatalf("Usage() failed: %v", err)
	}
	if bySub.Total != 2 || len(bySub.CurrentWindows) != 1 {
		t.Errorf("Expected 2 entries and 1 window for alice, got %d and %d", bySub.Total, len(bySub.CurrentWindows))
	}

	byEndpoint, _ := agg.Usage(ctx, "cred-1", Options{Endpoint: "/v1/a"})
	if byEndpoint.Total != 2 || len(byEndpoint.CurrentWindows) != 2 {
		t.Errorf("Expected 2 entries and 2 windows for /v1/a, got %d and %d", byEndpoint.Total, len(byEndpoint.CurrentWindows))
	}

	recent, _ := agg.Usage(ctx, "cred-1", Options{Lookback: time.Hour})
	if recent.Total != 2 {
		t.Errorf("Expected 2 entries inside the 1h lookback, got %d", recent.Total)
	}
	if recent.Lookback != time.Hour {
		t.Errorf("Expected lookback 1h, got %v", recent.Lookback)
	}
}

// TestAggregator_System tests service-wide counts and active scopes.
func TestAggregator_System(t *testing.T) {
	led := ledger.NewMemoryLedger(100)
	counters := store.NewMemoryStore()
	defer counters.Close()
	now := time.Now()

	seedDecision(t, led, "cred-1", "alice", "/v1/a", true, now.Add(-time.Hour))
	seedDecision(t, led, "cred-1", "alice", "/v1/a", false, now.Add(-time.Minute))
	seedDecision(t, led, "cred-2", "bob", "/v1/b", true, now)
	seedDecision(t, led, "cred-3", "old", "/v1/a", true, now.Add(-48*time.Hour))

	seedCounter(t, counters, mustScope(t, "cred-1", "alice", "/v1/a", quota.ClassUser), 2)
	seedCounter(t, counters, mustScope(t, "cred-2", "bob", "/v1/b", quota.ClassUser), 1)

	agg := NewAggregator(counters, led)

	sys, err := agg.System(context.Background(), 0)
	if err != nil {
		t.Fatalf("System() failed: %v", err)
	}

	if sys.Total != 3 || sys.Allowed != 2 || sys.Denied != 1 {
		t.Errorf("Expected 3/2/1 total/allowed/denied, got %d/%d/%d", sys.Total, sys.Allowed, sys.Denied)
	}
	if sys.ActiveScopes != 2 {
		t.Errorf("Expected 2 active scopes, got %d", sys.ActiveScopes)
	}
	if sys.Lookback != DefaultLookback {
		t.Errorf("Expected default lookback, got %v", sys.Lookback)
	}
}

// TestAggregator_ReadsLeaveAdmissionUnchanged tests that repeated stats
// queries neither advance any window nor flip the verdict of the next
// admission check.
func TestAggregator_ReadsLeaveAdmissionUnchanged(t *testing.T) {
	led := ledger.NewMemoryLedger(100)
	counters := store.NewMemoryStore()
	defer counters.Close()
	ctx := context.Background()

	engine := quota.NewEngine(counters, led, quota.EngineConfig{})
	quotaCfg := quota.QuotaConfig{MaxRequests: 2, Window: time.Minute}
	key := mustScope(t, "cred-1", "alice", "/v1/a", quota.ClassUser)

	// Exhaust the window.
	for i := 0; i < 2; i++ {
		result, err := engine.Check(ctx, key, quotaCfg)
		if err != nil {
			t.Fatalf("Check() failed: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
	}

	before, err := counters.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	agg := NewAggregator(counters, led)
	for i := 0; i < 10; i++ {
		if _, err := agg.Usage(ctx, "cred-1", Options{}); err != nil {
			t.Fatalf("Usage() failed: %v", err)
		}
		if _, err := agg.System(ctx, 0); err != nil {
			t.Fatalf("System() failed: %v", err)
		}
	}

	after, err := counters.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if after.Count != before.Count || !after.WindowStart.Equal(before.WindowStart) || after.Version != before.Version {
		t.Errorf("stats reads mutated counter state: before %+v, after %+v", before, after)
	}

	result, err := engine.Check(ctx, key, quotaCfg)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result.Allowed {
		t.Error("the exhausted window should still deny after stats reads")
	}
	if result.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", result.Remaining)
	}
}

// TestAggregator_EmptyCredential tests the zero-activity report shape.
func TestAggregator_EmptyCredential(t *testing.T) {
	led := ledger.NewMemoryLedger(100)
	counters := store.NewMemoryStore()
	defer counters.Close()

	agg := NewAggregator(counters, led)

	usage, err := agg.Usage(context.Background(), "cred-unknown", Options{})
	if err != nil {
		t.Fatalf("Usage() failed: %v", err)
	}
	if usage.Total != 0 || len(usage.PerEndpoint) != 0 || len(usage.CurrentWindows) != 0 {
		t.Errorf("Expected empty report, got %+v", usage)
	}
}
