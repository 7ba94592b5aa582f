package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
)

// SQLiteConfig contains configuration for the SQLite ledger backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite ledger configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/usage.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteLedger implements Storage using SQLite. Appends go to an
// append-only table indexed by credential, endpoint, and timestamp, so
// query cost tracks the result set rather than total history.
type SQLiteLedger struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger

	appendStmt *sql.Stmt
}

// NewSQLiteLedger creates a SQLite-backed ledger, initializing the schema
// and enabling WAL mode if configured.
func NewSQLiteLedger(config *SQLiteConfig) (*SQLiteLedger, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "ledger.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewLedgerError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	l := &SQLiteLedger{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite ledger initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return l, nil
}

// initialize sets up the schema and pragmas.
func (l *SQLiteLedger) initialize() error {
	if l.config.WALMode {
		if _, err := l.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewLedgerError("sqlite", "enable_wal", err)
		}
	}

	if _, err := l.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", l.config.BusyTimeout.Milliseconds())); err != nil {
		return NewLedgerError("sqlite", "set_busy_timeout", err)
	}

	if _, err := l.db.Exec(Schema); err != nil {
		return NewLedgerError("sqlite", "create_schema", err)
	}

	if _, err := l.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewLedgerError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := l.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return NewLedgerError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewLedgerError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	l.appendStmt, err = l.db.Prepare(`
		INSERT INTO usage_log (id, ts, credential_id, sub_identity, endpoint, scope_class, allowed, remaining, retry_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return NewLedgerError("sqlite", "prepare_append", err)
	}

	return nil
}

// Append records one entry. The AUTOINCREMENT rowid becomes Entry.Seq.
func (l *SQLiteLedger) Append(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return NewLedgerError("sqlite", "append", fmt.Errorf("entry cannot be nil"))
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	res, err := l.appendStmt.ExecContext(ctx,
		entry.ID,
		entry.Timestamp.UnixNano(),
		entry.CredentialID,
		entry.SubIdentity,
		entry.Endpoint,
		entry.Class,
		entry.Allowed,
		entry.Remaining,
		entry.RetryAfter,
	)
	if err != nil {
		return NewLedgerError("sqlite", "append", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return NewLedgerError("sqlite", "append", err)
	}
	entry.Seq = seq

	return nil
}

// Query returns entries matching the filters.
func (l *SQLiteLedger) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	where, args := buildWhere(q)

	sqlQuery := "SELECT seq, id, ts, credential_id, sub_identity, endpoint, scope_class, allowed, remaining, retry_after FROM usage_log"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	order := "DESC"
	if q != nil && q.Ascending {
		order = "ASC"
	}
	sqlQuery += " ORDER BY seq " + order

	if q != nil && q.Limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	} else if q != nil && q.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET.
		sqlQuery += fmt.Sprintf(" LIMIT -1 OFFSET %d", q.Offset)
	}

	rows, err := l.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewLedgerError("sqlite", "query", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &ts, &e.CredentialID, &e.SubIdentity, &e.Endpoint, &e.Class, &e.Allowed, &e.Remaining, &e.RetryAfter); err != nil {
			return nil, NewLedgerError("sqlite", "scan", err)
		}
		e.Timestamp = time.Unix(0, ts)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, NewLedgerError("sqlite", "query", err)
	}

	return entries, nil
}

// Count returns the number of entries matching the filters.
func (l *SQLiteLedger) Count(ctx context.Context, q *Query) (int64, error) {
	where, args := buildWhere(q)

	sqlQuery := "SELECT COUNT(*) FROM usage_log"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var n int64
	if err := l.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&n); err != nil {
		return 0, NewLedgerError("sqlite", "count", err)
	}
	return n, nil
}

// Delete removes matching entries. Retention enforcement deletes by time
// range (Until = cutoff).
func (l *SQLiteLedger) Delete(ctx context.Context, q *Query) (int64, error) {
	where, args := buildWhere(q)

	sqlQuery := "DELETE FROM usage_log"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	res, err := l.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, NewLedgerError("sqlite", "delete", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, NewLedgerError("sqlite", "delete", err)
	}
	return deleted, nil
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	if l.appendStmt != nil {
		l.appendStmt.Close()
	}
	if l.db != nil {
		_, _ = l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return l.db.Close()
	}
	return nil
}

// buildWhere translates a Query into a WHERE clause and bind args.
func buildWhere(q *Query) (string, []interface{}) {
	if q == nil {
		return "", nil
	}

	var (
		conds []string
		args  []interface{}
	)

	if q.CredentialID != "" {
		conds = append(conds, "credential_id = ?")
		args = append(args, q.CredentialID)
	}
	if q.SubIdentity != "" {
		conds = append(conds, "sub_identity = ?")
		args = append(args, q.SubIdentity)
	}
	if q.Endpoint != "" {
		conds = append(conds, "endpoint = ?")
		args = append(args, q.Endpoint)
	}
	if q.Allowed != nil {
		conds = append(conds, "allowed = ?")
		args = append(args, *q.Allowed)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, q.Until.UnixNano())
	}

	return strings.Join(conds, " AND "), args
}
