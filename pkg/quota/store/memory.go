package store

import (
	"context"
	"sync"
	"time"

	"quotahq/gatekeeper/pkg/quota"
)

// MemoryStore implements quota.Store with an in-process map. This is the
// default backend: fast, no persistence, counters lost on restart.
//
// The map is guarded by an RWMutex; CAS correctness comes from the version
// check performed under the write lock, so two concurrent swaps against
// the same observed state can never both succeed.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[quota.ScopeKey]*quota.CounterState

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often the janitor sweeps idle counters.
	// Default: 1 minute
	CleanupInterval time.Duration

	// RetentionPeriod is how long an idle counter survives.
	// Default: 24 hours
	RetentionPeriod time.Duration
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates a memory store with custom settings.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.RetentionPeriod == 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}

	s := &MemoryStore{
		states:          make(map[quota.ScopeKey]*quota.CounterState),
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	go s.janitor(cfg.RetentionPeriod)

	return s
}

// Get returns a copy of the state for key, or nil if unseen.
func (s *MemoryStore) Get(ctx context.Context, key quota.ScopeKey) (*quota.CounterState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.states[key].Clone(), nil
}

// CompareAndSwap installs next when the stored version still matches the
// expected one. A nil expected creates the counter only if absent.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, key quota.ScopeKey, expected, next *quota.CounterState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.states[key]

	if expected == nil {
		if exists {
			return false, nil
		}
		stored := next.Clone()
		stored.Version = 1
		s.states[key] = stored
		return true, nil
	}

	if !exists || cur.Version != expected.Version {
		return false, nil
	}

	stored := next.Clone()
	stored.Version = expected.Version + 1
	s.states[key] = stored
	return true, nil
}

// Snapshot returns copies of the live states for a credential, or all of
// them when credentialID is empty.
func (s *MemoryStore) Snapshot(ctx context.Context, credentialID string) (map[quota.ScopeKey]*quota.CounterState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[quota.ScopeKey]*quota.CounterState)
	for key, state := range s.states {
		if credentialID != "" && key.CredentialID != credentialID {
			continue
		}
		out[key] = state.Clone()
	}
	return out, nil
}

// Reset deletes the counters for a credential, or everything when empty.
func (s *MemoryStore) Reset(ctx context.Context, credentialID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if credentialID == "" {
		n := len(s.states)
		s.states = make(map[quota.ScopeKey]*quota.CounterState)
		return n, nil
	}

	n := 0
	for key := range s.states {
		if key.CredentialID == credentialID {
			delete(s.states, key)
			n++
		}
	}
	return n, nil
}

// Cleanup removes counters idle since before olderThan.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, state := range s.states {
		if state.LastSeen.Before(olderThan) {
			delete(s.states, key)
			n++
		}
	}
	return n, nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// Size returns the number of live counters, for monitoring and tests.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// janitor sweeps idle counters on a ticker until Close.
func (s *MemoryStore) janitor(retention time.Duration) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background(), time.Now().Add(-retention))
		case <-s.done:
			return
		}
	}
}
