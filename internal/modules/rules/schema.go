package rules

import "database/sql"

// Schema backs the learned rules and the append-only decision history.
// (pattern, match_type) is the rule natural key; save is an upsert
// against it.
const Schema = `
CREATE TABLE IF NOT EXISTS matching_rules (
    id INTEGER PRIMARY KEY,
    pattern TEXT NOT NULL,
    match_type TEXT NOT NULL,
    account TEXT NOT NULL,
    tax_rate REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0.5,
    usage_count INTEGER NOT NULL DEFAULT 1,
    last_used TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'auto',
    created_at TEXT NOT NULL,
    UNIQUE(pattern, match_type)
);

CREATE INDEX IF NOT EXISTS idx_rules_usage ON matching_rules(usage_count DESC);
CREATE INDEX IF NOT EXISTS idx_rules_type ON matching_rules(match_type);

CREATE TABLE IF NOT EXISTS matching_history (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    document_id TEXT NOT NULL DEFAULT '',
    account TEXT NOT NULL DEFAULT '',
    method TEXT NOT NULL,
    confidence REAL NOT NULL,
    tier TEXT NOT NULL,
    is_correct INTEGER,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_transaction ON matching_history(transaction_id);
CREATE INDEX IF NOT EXISTS idx_history_correct ON matching_history(is_correct);
`

// InitSchema ensures the rules and history tables exist.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
