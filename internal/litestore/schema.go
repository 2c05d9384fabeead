package litestore

import "database/sql"

// Timestamps are stored as unix nanoseconds so range scans compare exactly.
const schema = `
CREATE TABLE IF NOT EXISTS measurements (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	metric_kind TEXT NOT NULL,
	value REAL NOT NULL,
	ts INTEGER NOT NULL,
	sequence_number INTEGER,
	source TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_measurements_subject_kind_ts ON measurements(subject_id, metric_kind, ts);

CREATE TRIGGER IF NOT EXISTS measurements_immutable BEFORE UPDATE ON measurements
BEGIN
	SELECT RAISE(ABORT, 'measurements are immutable');
END;

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	metric_kind TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL,
	recommended_actions TEXT NOT NULL DEFAULT '[]',
	trigger_value REAL NOT NULL,
	created_at INTEGER NOT NULL,
	acknowledged INTEGER NOT NULL DEFAULT 0,
	acknowledged_at INTEGER,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER,
	resolution_note TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_alerts_subject_resolved ON alerts(subject_id, resolved);

CREATE TRIGGER IF NOT EXISTS alerts_no_delete BEFORE DELETE ON alerts
BEGIN
	SELECT RAISE(ABORT, 'alerts are never deleted');
END;

CREATE TABLE IF NOT EXISTS treatment_goals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('active', 'achieved', 'abandoned')),
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS therapy_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id TEXT NOT NULL,
	scheduled_at INTEGER NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('scheduled', 'attended', 'missed', 'cancelled'))
);

CREATE TABLE IF NOT EXISTS homework_assignments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id TEXT NOT NULL,
	assigned_at INTEGER NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('assigned', 'completed', 'not_completed'))
);
`

// createSchema creates the database tables, indexes and guards.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
