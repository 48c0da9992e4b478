package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations defines the orchestrator schema.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS events_normalized (
    id                    TEXT PRIMARY KEY,
    supplier_name         TEXT NOT NULL DEFAULT '',
    route_id              TEXT NOT NULL DEFAULT '',
    timestamp             TEXT NOT NULL,
    distance_km           REAL,
    load_weight_kg        REAL,
    vehicle_type          TEXT NOT NULL DEFAULT '',
    fuel_type             TEXT NOT NULL DEFAULT '',
    avg_speed             REAL,
    stop_events           REAL,
    energy_kwh            REAL,
    furnace_usage         REAL,
    cooling_load          REAL,
    shift_hours           REAL,
    machine_runtime_hours REAL,
    temperature           REAL,
    refrigeration_load    REAL,
    inventory_volume      REAL,
    route_length          REAL,
    traffic_score         REAL,
    delivery_count        REAL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events_normalized(timestamp ASC);
CREATE INDEX IF NOT EXISTS idx_events_supplier  ON events_normalized(supplier_name);

CREATE TABLE IF NOT EXISTS predictions (
    id            TEXT PRIMARY KEY,
    event_id      TEXT NOT NULL UNIQUE,
    entity        TEXT NOT NULL,
    entity_type   TEXT NOT NULL,
    kind          TEXT NOT NULL,
    co2_kg        REAL NOT NULL,
    confidence    REAL NOT NULL DEFAULT 0,
    model_version TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_entity ON predictions(entity, entity_type, created_at DESC);

CREATE TABLE IF NOT EXISTS baselines (
    entity         TEXT NOT NULL,
    entity_type    TEXT NOT NULL,
    baseline_value REAL NOT NULL,
    updated_at     TEXT NOT NULL,
    PRIMARY KEY (entity, entity_type)
);

CREATE TABLE IF NOT EXISTS hotspots (
    id            TEXT PRIMARY KEY,
    entity        TEXT NOT NULL,
    entity_type   TEXT NOT NULL,
    predicted_co2 REAL NOT NULL,
    baseline_co2  REAL NOT NULL,
    percent_above REAL NOT NULL,
    severity      TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'active',
    event_id      TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hotspots_status     ON hotspots(status);
CREATE INDEX IF NOT EXISTS idx_hotspots_severity   ON hotspots(severity);
CREATE INDEX IF NOT EXISTS idx_hotspots_created_at ON hotspots(created_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
    id         TEXT PRIMARY KEY,
    level      TEXT NOT NULL,
    message    TEXT NOT NULL,
    hotspot_id TEXT NOT NULL REFERENCES hotspots(id) ON DELETE CASCADE,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_level      ON alerts(level);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at DESC);

CREATE TABLE IF NOT EXISTS recommendations (
    id            TEXT PRIMARY KEY,
    hotspot_id    TEXT NOT NULL REFERENCES hotspots(id) ON DELETE CASCADE,
    entity        TEXT NOT NULL DEFAULT '',
    root_cause    TEXT NOT NULL DEFAULT '',
    actions       TEXT NOT NULL DEFAULT '[]',
    status        TEXT NOT NULL DEFAULT 'pending',
    co2_reduction REAL NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recommendations_status ON recommendations(status, created_at DESC);

CREATE TABLE IF NOT EXISTS audit_logs (
    id          TEXT PRIMARY KEY,
    action      TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    notes       TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entity    ON audit_logs(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp DESC);
`,
	},
	// Migration 2: per-event claims for overlapping scans
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS event_claims (
    event_id   TEXT PRIMARY KEY,
    scan_id    TEXT NOT NULL,
    claimed_at TEXT NOT NULL
);
`,
	},
	// Migration 3: events that can never be predicted
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS event_skips (
    event_id   TEXT PRIMARY KEY,
    reason     TEXT NOT NULL,
    skipped_at TEXT NOT NULL
);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Every pooled connection to ":memory:" would get its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Helpers ─────────────────────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// timeNow is replaced in tests that need deterministic ordering.
var timeNow = time.Now

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = timeNow()
	}
	return t.UTC().Format(timeLayout)
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
}
