package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"quotahq/gatekeeper/pkg/quota"
)

func memScope(t *testing.T, credentialID, subIdentity, endpoint string) quota.ScopeKey {
	t.Helper()
	key, err := quota.NewScopeKey(credentialID, subIdentity, endpoint, quota.ClassUser)
	if err != nil {
		t.Fatalf("NewScopeKey() failed: %v", err)
	}
	return key
}

// TestMemoryStore_GetMissing tests that an unknown key reads as absent,
// not as an error.
func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	state, err := s.Get(context.Background(), memScope(t, "cred", "alice", "/v1/a"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if state != nil {
		t.Error("missing key should read as nil state")
	}
}

// TestMemoryStore_CreateIfAbsent tests the nil-expected CAS creating a
// counter exactly once.
func TestMemoryStore_CreateIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	key := memScope(t, "cred", "alice", "/v1/a")
	now := time.Now()

	next := &quota.CounterState{Count: 1, WindowStart: now, LastSeen: now}

	swapped, err := s.CompareAndSwap(ctx, key, nil, next)
	if err != nil {
		t.Fatalf("CompareAndSwap() failed: %v", err)
	}
	if !swapped {
		t.Fatal("create-if-absent should succeed on a missing key")
	}

	// A second create against the same key must lose.
	swapped, err = s.CompareAndSwap(ctx, key, nil, next)
	if err != nil {
		t.Fatalf("CompareAndSwap() failed: %v", err)
	}
	if swapped {
		t.Error("create-if-absent must fail once the key exists")
	}

	state, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if state.Count != 1 {
		t.Errorf("Expected count 1, got %d", state.Count)
	}
	if state.Version == 0 {
		t.Error("installed state should carry a version token")
	}
}

// TestMemoryStore_VersionedSwap tests that a swap only lands when the
// expected version still matches.
func TestMemoryStore_VersionedSwap(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	key := memScope(t, "cred", "alice", "/v1/a")
	now := time.Now()

	s.CompareAndSwap(ctx, key, nil, &quota.CounterState{Count: 1, WindowStart: now, LastSeen: now})
	current, _ := s.Get(ctx, key)

	next := current.Clone()
	next.Count = 2

	swapped, err := s.CompareAndSwap(ctx, key, current, next)
	if err != nil {
		t.Fatalf("CompareAndSwap() failed: %v", err)
	}
	if !swapped {
		t.Fatal("swap against the current version should succeed")
	}

	// The same expected state is now stale.
	swapped, err = s.CompareAndSwap(ctx, key, current, next)
	if err != nil {
		t.Fatalf("CompareAndSwap() failed: %v", err)
	}
	if swapped {
		t.Error("swap against a stale version must fail")
	}

	state, _ := s.Get(ctx, key)
	if state.Count != 2 {
		t.Errorf("Expected count 2, got %d", state.Count)
	}
	if state.Version != current.Version+1 {
		t.Errorf("Expected version %d, got %d", current.Version+1, state.Version)
	}
}

// TestMemoryStore_GetReturnsCopy tests that mutating a read state cannot
// corrupt the stored one.
func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	key := memScope(t, "cred", "alice", "/v1/a")
	now := time.Now()

	s.CompareAndSwap(ctx, key, nil, &quota.CounterState{Count: 1, WindowStart: now, LastSeen: now})

	state, _ := s.Get(ctx, key)
	state.Count = 99

	again, _ := s.Get(ctx, key)
	if again.Count != 1 {
		t.Error("Get must return a copy, not the stored state")
	}
}

// TestMemoryStore_ConcurrentCAS tests that concurrent swaps against one
// key admit exactly one winner per version.
func TestMemoryStore_ConcurrentCAS(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	key := memScope(t, "cred", "alice", "/v1/a")
	now := time.Now()

	s.CompareAndSwap(ctx, key, nil, &quota.CounterState{Count: 1, WindowStart: now, LastSeen: now})
	current, _ := s.Get(ctx, key)

	const contenders = 32
	var wg sync.WaitGroup
	wins := make([]bool, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := current.Clone()
			next.Count++
			swapped, err := s.CompareAndSwap(ctx, key, current, next)
			if err != nil {
				t.Errorf("CompareAndSwap() failed: %v", err)
				return
			}
			wins[i] = swapped
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", winners)
	}
}

// TestMemoryStore_SnapshotAndReset tests per-credential filtering.
func TestMemoryStore_SnapshotAndReset(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	keys := []quota.ScopeKey{
		memScope(t, "cred-1", "alice", "/v1/a"),
		memScope(t, "cred-1", "bob", "/v1/a"),
		memScope(t, "cred-2", "carol", "/v1/a"),
	}
	for _, key := range keys {
		s.CompareAndSwap(ctx, key, nil, &quota.CounterState{Count: 1, WindowStart: now, LastSeen: now})
	}

	snapshot, err := s.Snapshot(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snapshot) != 2 {
		t.Errorf("Expected 2 counters for cred-1, got %d", len(snapshot))
	}

	all, _ := s.Snapshot(ctx, "")
	if len(all) != 3 {
		t.Errorf("Expected 3 counters in full snapshot, got %d", len(all))
	}

	cleared, err := s.Reset(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if cleared != 2 {
		t.Errorf("Expected 2 cleared counters, got %d", cleared)
	}
	if s.Size() != 1 {
		t.Errorf("Expected 1 surviving counter, got %d", s.Size())
	}
}

// TestMemoryStore_Cleanup tests the stale-counter sweep.
func TestMemoryStore_Cleanup(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	stale := memScope(t, "cred-1", "alice", "/v1/a")
	fresh := memScope(t, "cred-1", "bob", "/v1/a")
	s.CompareAndSwap(ctx, stale, nil, &quota.CounterState{
		Count: 1, WindowStart: now.Add(-2 * time.Hour), LastSeen: now.Add(-2 * time.Hour),
	})
	s.CompareAndSwap(ctx, fresh, nil, &quota.CounterState{
		Count: 1, WindowStart: now, LastSeen: now,
	})

	swept, err := s.Cleanup(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if swept != 1 {
		t.Errorf("Expected 1 swept counter, got %d", swept)
	}

	if state, _ := s.Get(ctx, fresh); state == nil {
		t.Error("fresh counter must survive the sweep")
	}
	if state, _ := s.Get(ctx, stale); state != nil {
		t.Error("stale counter should have been swept")
	}
}
