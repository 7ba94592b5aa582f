package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"quotahq/gatekeeper/pkg/quota"
)

// SQLiteStore implements quota.Store on a SQLite table with one row per
// live scope key. The compare-and-swap runs as a single conditional
// UPDATE guarded by a version column, so concurrent writers against the
// same key resolve exactly like the in-memory backend: one wins, the rest
// observe a conflict and retry.
//
// The store uses WAL mode and periodic checkpoints, and bounds every
// statement with OpTimeout so a wedged database surfaces as
// ErrStorageUnavailable instead of hanging the request path.
type SQLiteStore struct {
	db        *sql.DB
	config    SQLiteStoreConfig
	done      chan struct{}
	closeOnce sync.Once

	getStmt     *sql.Stmt
	insertStmt  *sql.Stmt
	updateStmt  *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite counter store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// OpTimeout bounds each statement. On expiry the operation fails with
	// ErrStorageUnavailable rather than blocking the caller.
	// Default: 2 seconds
	OpTimeout time.Duration

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long SQLite waits for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

const counterSchema = `
CREATE TABLE IF NOT EXISTS counters (
	scope_class TEXT NOT NULL,
	credential_id TEXT NOT NULL,
	sub_identity TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	count INTEGER NOT NULL,
	window_start INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	version INTEGER NOT NULL,
	PRIMARY KEY (scope_class, credential_id, sub_identity, endpoint)
);

CREATE INDEX IF NOT EXISTS idx_counters_last_seen ON counters(last_seen);
CREATE INDEX IF NOT EXISTS idx_counters_credential ON counters(credential_id);
`

// NewSQLiteStore creates a SQLite counter store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a SQLite counter store with custom
// configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, quota.NewStoreError("sqlite", "open", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		config: cfg,
		done:   make(chan struct{}),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	go s.checkpointLoop()

	return s, nil
}

// initialize creates the schema and prepares statements.
func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return quota.NewStoreError("sqlite", "enable_wal", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return quota.NewStoreError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(counterSchema); err != nil {
		return quota.NewStoreError("sqlite", "create_schema", err)
	}

	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT count, window_start, last_seen, version FROM counters
		WHERE scope_class = ? AND credential_id = ? AND sub_identity = ? AND endpoint = ?
	`)
	if err != nil {
		return quota.NewStoreError("sqlite", "prepare_get", err)
	}

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO counters (scope_class, credential_id, sub_identity, endpoint, count, window_start, last_seen, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (scope_class, credential_id, sub_identity, endpoint) DO NOTHING
	`)
	if err != nil {
		return quota.NewStoreError("sqlite", "prepare_insert", err)
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE counters
		SET count = ?, window_start = ?, last_seen = ?, version = version + 1
		WHERE scope_class = ? AND credential_id = ? AND sub_identity = ? AND endpoint = ? AND version = ?
	`)
	if err != nil {
		return quota.NewStoreError("sqlite", "prepare_update", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`DELETE FROM counters WHERE last_seen < ?`)
	if err != nil {
		return quota.NewStoreError("sqlite", "prepare_cleanup", err)
	}

	return nil
}

// opContext derives a bounded context for one statement.
func (s *SQLiteStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.OpTimeout)
}

// Get returns the state for a key, or nil if no row exists.
func (s *SQLiteStore) Get(ctx context.Context, key quota.ScopeKey) (*quota.CounterState, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		count       int64
		windowStart int64
		lastSeen    int64
		version     uint64
	)
	err := s.getStmt.QueryRowContext(ctx, string(key.Class), key.CredentialID, key.SubIdentity, key.Endpoint).
		Scan(&count, &windowStart, &lastSeen, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, quota.NewStoreError("sqlite", "get", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}

	return &quota.CounterState{
		Count:       count,
		WindowStart: time.Unix(0, windowStart),
		LastSeen:    time.Unix(0, lastSeen),
		Version:     version,
	}, nil
}

// CompareAndSwap performs the atomic conditional write. Creation races
// resolve through the primary-key conflict clause; updates through the
// version predicate. Either way RowsAffected tells us whether we won.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key quota.ScopeKey, expected, next *quota.CounterState) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if expected == nil {
		res, err = s.insertStmt.ExecContext(ctx,
			string(key.Class), key.CredentialID, key.SubIdentity, key.Endpoint,
			next.Count, next.WindowStart.UnixNano(), next.LastSeen.UnixNano(),
		)
	} else {
		res, err = s.updateStmt.ExecContext(ctx,
			next.Count, next.WindowStart.UnixNano(), next.LastSeen.UnixNano(),
			string(key.Class), key.CredentialID, key.SubIdentity, key.Endpoint,
			expected.Version,
		)
	}
	if err != nil {
		return false, quota.NewStoreError("sqlite", "cas", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, quota.NewStoreError("sqlite", "cas", err)
	}
	return affected == 1, nil
}

// Snapshot returns the live states for a credential, or all rows when
// credentialID is empty.
func (s *SQLiteStore) Snapshot(ctx context.Context, credentialID string) (map[quota.ScopeKey]*quota.CounterState, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := "SELECT scope_class, credential_id, sub_identity, endpoint, count, window_start, last_seen, version FROM counters"
	var args []interface{}
	if credentialID != "" {
		query += " WHERE credential_id = ?"
		args = append(args, credentialID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, quota.NewStoreError("sqlite", "snapshot", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}
	defer rows.Close()

	out := make(map[quota.ScopeKey]*quota.CounterState)
	for rows.Next() {
		var (
			key         quota.ScopeKey
			class       string
			count       int64
			windowStart int64
			lastSeen    int64
			version     uint64
		)
		if err := rows.Scan(&class, &key.CredentialID, &key.SubIdentity, &key.Endpoint, &count, &windowStart, &lastSeen, &version); err != nil {
			return nil, quota.NewStoreError("sqlite", "scan", err)
		}
		key.Class = quota.ScopeClass(class)
		out[key] = &quota.CounterState{
			Count:       count,
			WindowStart: time.Unix(0, windowStart),
			LastSeen:    time.Unix(0, lastSeen),
			Version:     version,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, quota.NewStoreError("sqlite", "snapshot", err)
	}

	return out, nil
}

// Reset deletes the counters for a credential, or every row when empty.
func (s *SQLiteStore) Reset(ctx context.Context, credentialID string) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := "DELETE FROM counters"
	var args []interface{}
	if credentialID != "" {
		query += " WHERE credential_id = ?"
		args = append(args, credentialID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, quota.NewStoreError("sqlite", "reset", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, quota.NewStoreError("sqlite", "reset", err)
	}
	return int(n), nil
}

// Cleanup removes counters idle since before olderThan.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.cleanupStmt.ExecContext(ctx, olderThan.UnixNano())
	if err != nil {
		return 0, quota.NewStoreError("sqlite", "cleanup", fmt.Errorf("%w: %w", quota.ErrStorageUnavailable, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, quota.NewStoreError("sqlite", "cleanup", err)
	}
	return int(n), nil
}

// Close releases the database. Idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.getStmt, s.insertStmt, s.updateStmt, s.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
