package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"quotahq/gatekeeper/pkg/quota"
)

// RedisStore implements quota.Store on Redis, for deployments where
// several instances must share one set of counters. CAS uses a WATCH
// transaction on the counter key: the MULTI aborts if any other client
// touched the key between our read and write, which is exactly the
// conflict signal the engine's retry loop expects.
//
// Counters expire on their own through a TTL, so Cleanup is a no-op here;
// Redis handles the retention horizon.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisStoreOption customizes a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithTTL overrides how long an idle counter survives.
func WithTTL(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore creates a Redis counter store.
func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "gatekeeper:counter",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// redisState is the stored representation of a counter.
type redisState struct {
	Count       int64  `json:"count"`
	WindowStart int64  `json:"window_start"` // unix nanos
	LastSeen    int64  `json:"last_seen"`    // unix nanos
	Version     uint64 `json:"version"`
}

func (s *RedisStore) key(k quota.ScopeKey) string {
	return s.prefix + ":" + k.String()
}

func toRedisState(c *quota.CounterState) *redisState {
	return &redisState{
		Count:       c.Count,
		WindowStart: c.WindowStart.UnixNano(),
		LastSeen:    c.LastSeen.UnixNano(),
		Version:     c.Version,
	}
}

func (r *redisState) counterState() *quota.CounterState {
	return &quota.CounterState{
		Count:       r.Count,
		WindowStart: time.Unix(0, r.WindowStart),
		LastSeen:    time.Unix(0, r.LastSeen),
		Version:     r.Version,
	}
}

// Get returns the state for a key, or nil when absent or expired.
func (s *RedisStore) Get(ctx context.Context, key quota.ScopeKey) (*quota.CounterState, error) {
	payload, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, quota.NewStoreError("redis", "get", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}

	var st redisState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, quota.NewStoreError("redis", "decode", err)
	}
	return st.counterState(), nil
}

// CompareAndSwap installs next under a WATCH transaction on the key.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key quota.ScopeKey, expected, next *quota.CounterState) (bool, error) {
	k := s.key(key)
	conflict := errors.New("cas mismatch")

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, k).Bytes()
		switch {
		case err == redis.Nil:
			if expected != nil {
				return conflict
			}
		case err != nil:
			return err
		default:
			if expected == nil {
				return conflict
			}
			var cur redisState
			if decodeErr := json.Unmarshal(payload, &cur); decodeErr != nil {
				return decodeErr
			}
			if cur.Version != expected.Version {
				return conflict
			}
		}

		stored := toRedisState(next)
		if expected == nil {
			stored.Version = 1
		} else {
			stored.Version = expected.Version + 1
		}
		encoded, err := json.Marshal(stored)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, encoded, s.ttl)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, conflict), err == redis.TxFailedErr:
		return false, nil
	default:
		return false, quota.NewStoreError("redis", "cas", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}
}

// Snapshot scans the prefix and returns matching counters. A SCAN keeps
// this off the Redis event loop's critical path, at the cost of a weakly
// consistent view, which is fine for statistics.
func (s *RedisStore) Snapshot(ctx context.Context, credentialID string) (map[quota.ScopeKey]*quota.CounterState, error) {
	out := make(map[quota.ScopeKey]*quota.CounterState)

	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 256).Iterator()
	for iter.Next(ctx) {
		key, ok := s.parseKey(iter.Val())
		if !ok {
			continue
		}
		if credentialID != "" && key.CredentialID != credentialID {
			continue
		}

		payload, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, quota.NewStoreError("redis", "snapshot", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
		}

		var st redisState
		if err := json.Unmarshal(payload, &st); err != nil {
			return nil, quota.NewStoreError("redis", "decode", err)
		}
		out[key] = st.counterState()
	}
	if err := iter.Err(); err != nil {
		return nil, quota.NewStoreError("redis", "snapshot", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}

	return out, nil
}

// Reset deletes the counters for a credential, or every counter under the
// prefix when credentialID is empty.
func (s *RedisStore) Reset(ctx context.Context, credentialID string) (int, error) {
	n := 0

	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 256).Iterator()
	for iter.Next(ctx) {
		if credentialID != "" {
			key, ok := s.parseKey(iter.Val())
			if !ok || key.CredentialID != credentialID {
				continue
			}
		}
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return n, quota.NewStoreError("redis", "reset", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, quota.NewStoreError("redis", "reset", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}

	return n, nil
}

// Cleanup is a no-op: the per-key TTL already enforces the idle horizon.
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

// Close releases the client connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// parseKey recovers the scope key from a stored Redis key.
func (s *RedisStore) parseKey(raw string) (quota.ScopeKey, bool) {
	encoded, ok := strings.CutPrefix(raw, s.prefix+":")
	if !ok {
		return quota.ScopeKey{}, false
	}
	parts := strings.Split(encoded, "\x1f")
	if len(parts) != 4 {
		return quota.ScopeKey{}, false
	}
	return quota.ScopeKey{
		Class:        quota.ScopeClass(parts[0]),
		CredentialID: parts[1],
		SubIdentity:  parts[2],
		Endpoint:     parts[3],
	}, true
}
