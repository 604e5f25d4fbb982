package storage

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema creates the audit tables. Timestamps are stored as Unix
// milliseconds so range filters compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    timestamp_ms INTEGER NOT NULL,
    actor_id TEXT NOT NULL,
    actor_email TEXT,
    actor_role TEXT,
    action TEXT NOT NULL,
    resource TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    details TEXT,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp_ms DESC);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id, timestamp_ms DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, timestamp_ms DESC);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// InsertSchemaVersion records the applied schema version.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?);`

// GetSchemaVersion reads the newest applied schema version.
const GetSchemaVersion = `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;`

const insertEntry = `
INSERT INTO audit_log (
    id, timestamp_ms, actor_id, actor_email, actor_role,
    action, resource, success, details, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

const selectColumns = `id, timestamp_ms, actor_id, actor_email, actor_role,
    action, resource, success, details, error_message`
