package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quotahq/gatekeeper/pkg/quota/ledger"
)

// testStore is a minimal in-memory Store for engine tests. The production
// memory backend lives in a subpackage and cannot be imported from here.
type testStore struct {
	mu     sync.Mutex
	states map[ScopeKey]*CounterState
}

func newTestStore() *testStore {
	return &testStore{states: make(map[ScopeKey]*CounterState)}
}

func (s *testStore) Get(ctx context.Context, key ScopeKey) (*CounterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

func (s *testStore) CompareAndSwap(ctx context.Context, key ScopeKey, expected, next *CounterState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.states[key]
	if expected == nil {
		if exists {
			return false, nil
		}
		installed := next.Clone()
		installed.Version = 1
		s.states[key] = installed
		return true, nil
	}
	if !exists || current.Version != expected.Version {
		return false, nil
	}
	installed := next.Clone()
	installed.Version = current.Version + 1
	s.states[key] = installed
	return true, nil
}

func (s *testStore) Snapshot(ctx context.Context, credentialID string) (map[ScopeKey]*CounterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ScopeKey]*CounterState)
	for key, state := range s.states {
		if credentialID != "" && key.CredentialID != credentialID {
			continue
		}
		out[key] = state.Clone()
	}
	return out, nil
}

func (s *testStore) Reset(ctx context.Context, credentialID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.states {
		if credentialID == "" || key.CredentialID == credentialID {
			delete(s.states, key)
			n++
		}
	}
	return n, nil
}

func (s *testStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

func (s *testStore) Close() error { return nil }

// conflictStore always reports a CAS conflict, to exercise the retry
// budget.
type conflictStore struct {
	testStore
	attempts int
}

func (s *conflictStore) CompareAndSwap(ctx context.Context, key ScopeKey, expected, next *CounterState) (bool, error) {
	s.attempts++
	return false, nil
}

// captureAppender records appended entries for inspection.
type captureAppender struct {
	mu      sync.Mutex
	entries []*ledger.Entry
}

func (a *captureAppender) Append(ctx context.Context, entry *ledger.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *captureAppender) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func testScope(t *testing.T, credentialID, subIdentity, endpoint string) ScopeKey {
	t.Helper()
	scope, err := NewScopeKey(credentialID, subIdentity, endpoint, ClassUser)
	if err != nil {
		t.Fatalf("NewScopeKey() failed: %v", err)
	}
	return scope
}

// TestEngine_SequentialChecks tests the remaining count decrementing to a
// denial and the denial carrying a retry delay.
func TestEngine_SequentialChecks(t *testing.T) {
	engine := NewEngine(newTestStore(), nil, EngineConfig{})
	ctx := context.Background()
	scope := testScope(t, "cred-1", "alice", "/v1/search")
	q := QuotaConfig{MaxRequests: 3, Window: 60 * time.Second}

	for i := int64(0); i < 3; i++ {
		result, err := engine.Check(ctx, scope, q)
		if err != nil {
			t.Fatalf("Check() failed: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
		if result.Remaining != 2-i {
			t.Errorf("check %d: expected remaining %d, got %d", i+1, 2-i, result.Remaining)
		}
	}

	result, err := engine.Check(ctx, scope, q)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("fourth check should be denied")
	}
	if result.RetryAfter < 1 || result.RetryAfter > 60 {
		t.Errorf("retry_after %d outside [1, 60]", result.RetryAfter)
	}
}

// TestEngine_WindowRollover tests admission resuming after the window
// elapses, using an injected clock.
func TestEngine_WindowRollover(t *testing.T) {
	now := time.Now()
	clock := now
	engine := NewEngine(newTestStore(), nil, EngineConfig{
		Clock: func() time.Time { return clock },
	})
	ctx := context.Background()
	scope := testScope(t, "cred-1", "alice", "/v1/search")
	q := QuotaConfig{MaxRequests: 1, Window: 60 * time.Second}

	if result, _ := engine.Check(ctx, scope, q); !result.Allowed {
		t.Fatal("first check should be allowed")
	}
	if result, _ := engine.Check(ctx, scope, q); result.Allowed {
		t.Fatal("second check inside the window should be denied")
	}

	clock = now.Add(61 * time.Second)
	result, err := engine.Check(ctx, scope, q)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !result.Allowed {
		t.Error("check after rollover should be allowed")
	}
}

// TestEngine_InvalidQuota tests that a malformed quota is rejected before
// any counter is touched.
func TestEngine_InvalidQuota(t *testing.T) {
	store := newTestStore()
	engine := NewEngine(store, nil, EngineConfig{})
	scope := testScope(t, "cred-1", "alice", "/v1/search")

	_, err := engine.Check(context.Background(), scope, QuotaConfig{MaxRequests: 0, Window: time.Minute})
	if !errors.Is(err, ErrInvalidQuota) {
		t.Fatalf("Expected ErrInvalidQuota, got %v", err)
	}
	if len(store.states) != 0 {
		t.Error("invalid quota must not create counters")
	}
}

// TestEngine_ConcurrentChecks tests the core atomicity invariant: under
// concurrent load, exactly MaxRequests checks are admitted per window.
func TestEngine_ConcurrentChecks(t *testing.T) {
	const max = 50
	const callers = 80

	engine := NewEngine(newTestStore(), nil, EngineConfig{MaxAttempts: 1000})
	scope := testScope(t, "cred-1", "alice", "/v1/search")
	q := QuotaConfig{MaxRequests: max, Window: time.Hour}

	var wg sync.WaitGroup
	results := make([]bool, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := engine.Check(context.Background(), scope, q)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = result.Allowed
		}(i)
	}
	wg.Wait()

	allowed := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Check() failed: %v", errs[i])
		}
		if results[i] {
			allowed++
		}
	}

	if allowed != max {
		t.Errorf("Expected exactly %d admissions, got %d", max, allowed)
	}
}

// TestEngine_DistinctScopesIndependent tests that sub-identities under the
// same credential do not share counters.
func TestEngine_DistinctScopesIndependent(t *testing.T) {
	engine := NewEngine(newTestStore(), nil, EngineConfig{})
	ctx := context.Background()
	q := QuotaConfig{MaxRequests: 1, Window: time.Hour}

	alice := testScope(t, "cred-1", "alice", "/v1/search")
	bob := testScope(t, "cred-1", "bob", "/v1/search")

	if result, _ := engine.Check(ctx, alice, q); !result.Allowed {
		t.Fatal("alice's first check should be allowed")
	}
	if result, _ := engine.Check(ctx, alice, q); result.Allowed {
		t.Fatal("alice's second check should be denied")
	}
	if result, _ := engine.Check(ctx, bob, q); !result.Allowed {
		t.Error("bob's counter must be independent of alice's")
	}
}

// TestEngine_RetryBudgetExhaustion tests that a store under permanent
// contention surfaces as unavailability, never a silent verdict.
func TestEngine_RetryBudgetExhaustion(t *testing.T) {
	store := &conflictStore{}
	store.states = make(map[ScopeKey]*CounterState)
	engine := NewEngine(store, nil, EngineConfig{MaxAttempts: 4})
	scope := testScope(t, "cred-1", "alice", "/v1/search")

	_, err := engine.Check(context.Background(), scope, QuotaConfig{MaxRequests: 1, Window: time.Minute})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Expected ErrStorageUnavailable, got %v", err)
	}
	if !errors.Is(err, ErrCASConflict) {
		t.Errorf("Exhaustion should also carry ErrCASConflict, got %v", err)
	}
	if store.attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", store.attempts)
	}
}

// TestEngine_LedgerEntryPerCheck tests that every check, allowed or
// denied, appends exactly one ledger entry.
func TestEngine_LedgerEntryPerCheck(t *testing.T) {
	appender := &captureAppender{}
	engine := NewEngine(newTestStore(), appender, EngineConfig{})
	ctx := context.Background()
	scope := testScope(t, "cred-1", "alice", "/v1/search")
	q := QuotaConfig{MaxRequests: 1, Window: time.Hour}

	if _, err := engine.Check(ctx, scope, q); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if _, err := engine.Check(ctx, scope, q); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	if appender.len() != 2 {
		t.Fatalf("Expected 2 ledger entries, got %d", appender.len())
	}

	first, second := appender.entries[0], appender.entries[1]
	if !first.Allowed {
		t.Error("first entry should record an admission")
	}
	if second.Allowed {
		t.Error("second entry should record a denial")
	}
	if second.RetryAfter < 1 {
		t.Error("denied entry should carry the retry delay")
	}
	if first.CredentialID != "cred-1" || first.Endpoint != "/v1/search" {
		t.Error("entry should carry the scope fields")
	}
}

// TestEngine_Reset tests clearing all counters for a credential.
func TestEngine_Reset(t *testing.T) {
	engine := NewEngine(newTestStore(), nil, EngineConfig{})
	ctx := context.Background()
	q := QuotaConfig{MaxRequests: 1, Window: time.Hour}

	scope := testScope(t, "cred-1", "alice", "/v1/search")
	other := testScope(t, "cred-2", "bob", "/v1/search")

	engine.Check(ctx, scope, q)
	engine.Check(ctx, other, q)

	cleared, err := engine.Reset(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if cleared != 1 {
		t.Errorf("Expected 1 cleared counter, got %d", cleared)
	}

	// cred-1 starts fresh; cred-2 is untouched.
	if result, _ := engine.Check(ctx, scope, q); !result.Allowed {
		t.Error("reset credential should start a fresh window")
	}
	if result, _ := engine.Check(ctx, other, q); result.Allowed {
		t.Error("other credential's counter must survive the reset")
	}
}
