// Package observability provides SQLite-native monitoring for the
// conversion service: HTTP request logs, conversion event records and a
// metrics timeseries, all in one shared database separate from any
// application data.
//
// Only run metadata is persisted. Uploaded file bytes and conversion
// outputs never touch this database.
//
// All persistence is async and non-blocking: a failing observability
// store never blocks or fails a conversion.
package observability

import "database/sql"

// Schema contains the complete DDL for the observability tables.
// Call Init(db) to apply it.
const Schema = `
-- HTTP Request Logs
CREATE TABLE IF NOT EXISTS http_request_logs (
    log_id TEXT PRIMARY KEY DEFAULT ('hrl_' || hex(randomblob(16))),
    method TEXT NOT NULL,
    path TEXT NOT NULL,
    status_code INTEGER,
    duration_ms INTEGER,
    bytes_out INTEGER,
    request_id TEXT,
    ip_address TEXT,
    user_agent TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_http_logs_time ON http_request_logs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_http_logs_path ON http_request_logs(path, created_at DESC);

-- Conversion Event Logs (run metadata only, never payload bytes)
CREATE TABLE IF NOT EXISTS conversion_event_logs (
    event_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    error_code TEXT,
    input_files INTEGER,
    input_bytes INTEGER,
    output_bytes INTEGER,
    pages INTEGER,
    duration_ms INTEGER,
    session_id TEXT,
    transport TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_conv_events_kind ON conversion_event_logs(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conv_events_status ON conversion_event_logs(status, created_at DESC);

-- Metrics Timeseries
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

-- Metadata registry
CREATE TABLE IF NOT EXISTS _observability_metadata (
    table_name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    description TEXT
);
INSERT OR IGNORE INTO _observability_metadata (table_name, description) VALUES
    ('http_request_logs', 'HTTP request logs'),
    ('conversion_event_logs', 'Conversion run metadata'),
    ('metrics_timeseries', 'Timeseries metric datapoints');
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
