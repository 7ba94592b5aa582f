package ledger

// SchemaVersion is the current ledger database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the ledger schema. The
// usage_log table is append-only; seq doubles as the arrival-order
// sequence number surfaced on Entry.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    ts INTEGER NOT NULL,

    credential_id TEXT NOT NULL,
    sub_identity TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    scope_class TEXT NOT NULL,

    allowed INTEGER NOT NULL,
    remaining INTEGER NOT NULL,
    retry_after INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_log_credential_ts ON usage_log(credential_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_log_endpoint ON usage_log(endpoint);
CREATE INDEX IF NOT EXISTS idx_usage_log_ts ON usage_log(ts);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
