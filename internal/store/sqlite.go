package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// Schema version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS vehicles (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fuel_logs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    vehicle_id     TEXT NOT NULL,
    timestamp      DATETIME NOT NULL,
    km_driven      REAL NOT NULL DEFAULT 0.0,
    fuel_used      REAL NOT NULL DEFAULT 0.0,
    cost           REAL NOT NULL DEFAULT 0.0,
    is_anomaly     BOOLEAN NOT NULL DEFAULT 0,
    anomaly_score  REAL NOT NULL DEFAULT 0.0,
    scored         BOOLEAN NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_fuel_logs_vehicle_ts ON fuel_logs(vehicle_id, timestamp ASC);
CREATE INDEX IF NOT EXISTS idx_fuel_logs_timestamp  ON fuel_logs(timestamp ASC);
CREATE INDEX IF NOT EXISTS idx_fuel_logs_anomaly    ON fuel_logs(is_anomaly, timestamp DESC);
`,
	},
	// Migration 2: persisted model versions for the lifecycle manager.
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS model_states (
    version_id  TEXT PRIMARY KEY,
    trained_at  DATETIME NOT NULL,
    payload     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_states_trained_at ON model_states(trained_at DESC);
`,
	},
	// Migration 3: append-only audit trail of engine activity.
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS audit_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type  TEXT NOT NULL,
    resource    TEXT NOT NULL DEFAULT '',
    result      TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    metadata    TEXT NOT NULL DEFAULT '{}',
    timestamp   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp  ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_resource   ON audit_events(resource);
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

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
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
			continue // already applied
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

// ─── Vehicles ────────────────────────────────────────────────────────────────

func (s *sqliteStore) UpsertVehicle(ctx context.Context, v *models.Vehicle) error {
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO vehicles(id, name, type, created_at)
        VALUES(?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            type = excluded.type
    `, v.ID, v.Name, v.Type, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert vehicle %s: %w", v.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,type,created_at FROM vehicles WHERE id=?`, id)
	v := &models.Vehicle{}
	var createdAt string
	if err := row.Scan(&v.ID, &v.Name, &v.Type, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v.CreatedAt, _ = parseTime(createdAt)
	return v, nil
}

func (s *sqliteStore) ListVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,name,type,created_at FROM vehicles ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Vehicle
	for rows.Next() {
		v := &models.Vehicle{}
		var createdAt string
		if err := rows.Scan(&v.ID, &v.Name, &v.Type, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt, _ = parseTime(createdAt)
		result = append(result, v)
	}
	return result, rows.Err()
}

// ─── Fuel logs ───────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertRecord(ctx context.Context, rec *models.FuelRecord) error {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO fuel_logs(vehicle_id, timestamp, km_driven, fuel_used, cost, is_anomaly, anomaly_score, scored)
        VALUES(?,?,?,?,?,?,?,?)
    `, rec.VehicleID, rec.Timestamp.UTC(), rec.DistanceKM, rec.FuelUsedL, rec.CostUSD,
		rec.IsAnomaly, rec.Score, rec.Scored)
	if err != nil {
		return fmt.Errorf("insert fuel log for %s: %w", rec.VehicleID, err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) InsertRecords(ctx context.Context, recs []models.FuelRecord) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO fuel_logs(vehicle_id, timestamp, km_driven, fuel_used, cost, is_anomaly, anomaly_score, scored)
        VALUES(?,?,?,?,?,?,?,?)
    `)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(recs))
	for i, rec := range recs {
		res, err := stmt.ExecContext(ctx, rec.VehicleID, rec.Timestamp.UTC(),
			rec.DistanceKM, rec.FuelUsedL, rec.CostUSD, rec.IsAnomaly, rec.Score, rec.Scored)
		if err != nil {
			return nil, fmt.Errorf("insert fuel log %d for %s: %w", i, rec.VehicleID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *sqliteStore) ListRecords(ctx context.Context, q RecordQuery) ([]models.FuelRecord, error) {
	query := `SELECT id,vehicle_id,timestamp,km_driven,fuel_used,cost,is_anomaly,anomaly_score,scored FROM fuel_logs WHERE 1=1`
	args := []any{}

	if q.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, q.VehicleID)
	}
	if !q.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.Until.UTC())
	}
	if q.OnlyAnomalies {
		query += ` AND scored = 1 AND is_anomaly = 1`
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.FuelRecord
	for rows.Next() {
		var rec models.FuelRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.VehicleID, &ts, &rec.DistanceKM, &rec.FuelUsedL,
			&rec.CostUSD, &rec.IsAnomaly, &rec.Score, &rec.Scored); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) WriteAnomalyResults(ctx context.Context, results []models.AnomalyResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        UPDATE fuel_logs SET is_anomaly = ?, anomaly_score = ?, scored = 1 WHERE id = ?
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, r.IsAnomaly, r.Score, r.RecordID); err != nil {
			return fmt.Errorf("write anomaly result for record %d: %w", r.RecordID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) CountRecordsSince(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fuel_logs WHERE timestamp >= ?`, t.UTC()).Scan(&count)
	return count, err
}

// ─── Model states ────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveModelState(ctx context.Context, versionID string, trainedAt time.Time, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO model_states(version_id, trained_at, payload) VALUES(?,?,?)
    `, versionID, trainedAt.UTC(), payload)
	if err != nil {
		return fmt.Errorf("save model state %s: %w", versionID, err)
	}
	return nil
}

func (s *sqliteStore) LoadLatestModelState(ctx context.Context) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM model_states ORDER BY trained_at DESC, version_id DESC LIMIT 1`)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}

func (s *sqliteStore) ListModelVersions(ctx context.Context, limit int) ([]ModelVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id, trained_at FROM model_states ORDER BY trained_at DESC, version_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ModelVersion
	for rows.Next() {
		var mv ModelVersion
		var ts string
		if err := rows.Scan(&mv.VersionID, &ts); err != nil {
			return nil, err
		}
		mv.TrainedAt, _ = parseTime(ts)
		result = append(result, mv)
	}
	return result, rows.Err()
}

// ─── Audit events ────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEvent(ctx context.Context, rec *AuditRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	metadata := rec.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_events(event_type, resource, result, detail, metadata, timestamp)
        VALUES(?,?,?,?,?,?)
    `, rec.EventType, rec.Resource, rec.Result, rec.Detail, metadata, ts.UTC())
	return err
}

func (s *sqliteStore) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	query := `SELECT id,event_type,resource,result,detail,metadata,timestamp FROM audit_events WHERE 1=1`
	args := []any{}

	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if q.Resource != "" {
		query += ` AND resource = ?`
		args = append(args, q.Resource)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.Resource, &rec.Result,
			&rec.Detail, &rec.Metadata, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// parseTime handles the timestamp layouts SQLite hands back depending on
// how the value was written.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
