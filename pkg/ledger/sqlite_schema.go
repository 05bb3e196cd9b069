package ledger

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the transitions table and its indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS transitions (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    variant TEXT NOT NULL,
    from_phase TEXT NOT NULL,
    to_phase TEXT NOT NULL,
    trigger_kind TEXT NOT NULL,
    reason TEXT,
    samples INTEGER NOT NULL,
    mean REAL NOT NULL,
    baseline_mean REAL NOT NULL,
    improvement REAL NOT NULL,
    z_score REAL NOT NULL,
    p_value REAL NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_domain ON transitions(domain, recorded_at);
CREATE INDEX IF NOT EXISTS idx_transitions_experiment ON transitions(experiment_id);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`

// GetSchemaVersion reads the highest recorded schema version.
const GetSchemaVersion = `SELECT MAX(version) FROM schema_version`
