package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// ErrNotFound is returned when a lookup by ID matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the main persistence interface for the analytics engine.
type Store interface {
	VehicleStore
	RecordStore
	ModelStateStore
	AuditStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Vehicle store ────────────────────────────────────────────────────────────

// VehicleStore persists the vehicle registry.
type VehicleStore interface {
	// UpsertVehicle creates or updates a registry entry.
	UpsertVehicle(ctx context.Context, v *models.Vehicle) error

	// GetVehicle retrieves a vehicle by ID. Returns ErrNotFound when absent.
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)

	// ListVehicles returns all vehicles ordered by ID.
	ListVehicles(ctx context.Context) ([]*models.Vehicle, error)
}

// ─── Fuel record store ────────────────────────────────────────────────────────

// RecordQuery filters fuel-log queries. Zero fields are unbounded; the
// window is inclusive on both ends.
type RecordQuery struct {
	VehicleID string
	Since     time.Time
	Until     time.Time
	// OnlyAnomalies restricts results to scored records labeled anomalous.
	OnlyAnomalies bool
	Limit         int
}

// RecordStore persists fuel logs and their anomaly annotations.
type RecordStore interface {
	// InsertRecord writes one fuel log and sets its generated ID.
	InsertRecord(ctx context.Context, rec *models.FuelRecord) error

	// InsertRecords writes a batch in a single transaction and returns the
	// generated IDs in input order. All-or-nothing.
	InsertRecords(ctx context.Context, recs []models.FuelRecord) ([]int64, error)

	// ListRecords returns matching records sorted ascending by timestamp,
	// ties broken by insertion order.
	ListRecords(ctx context.Context, q RecordQuery) ([]models.FuelRecord, error)

	// WriteAnomalyResults persists score annotations for already-stored
	// records in a single transaction.
	WriteAnomalyResults(ctx context.Context, results []models.AnomalyResult) error

	// CountRecordsSince counts records with timestamps at or after t,
	// feeding the retrain-by-volume staleness trigger.
	CountRecordsSince(ctx context.Context, t time.Time) (int, error)
}

// ─── Model state store ────────────────────────────────────────────────────────

// ModelVersion is a row of persisted model metadata.
type ModelVersion struct {
	VersionID string    `json:"version_id"`
	TrainedAt time.Time `json:"trained_at"`
}

// ModelStateStore persists serialized anomaly models across restarts.
type ModelStateStore interface {
	// SaveModelState writes one immutable model version.
	SaveModelState(ctx context.Context, versionID string, trainedAt time.Time, payload []byte) error

	// LoadLatestModelState returns the most recently trained model payload,
	// or (nil, nil) when none exists.
	LoadLatestModelState(ctx context.Context) ([]byte, error)

	// ListModelVersions returns version metadata, newest first.
	ListModelVersions(ctx context.Context, limit int) ([]ModelVersion, error)
}

// ─── Audit store ─────────────────────────────────────────────────────────────

// AuditRecord is the DB representation of an audit event: a training run,
// a scoring pass, or an emitted alert.
type AuditRecord struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"` // model_trained | records_scored | alert_emitted | ...
	Resource  string    `json:"resource"`   // vehicle ID, model version, rule type
	Result    string    `json:"result"`     // success | failure
	Detail    string    `json:"detail"`
	Metadata  string    `json:"metadata"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// AuditQuery filters audit event queries.
type AuditQuery struct {
	EventType string
	Resource  string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// AuditStore persists an append-only trail of engine activity.
type AuditStore interface {
	// AppendAuditEvent appends an immutable audit event.
	AppendAuditEvent(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEvents retrieves audit events with optional filters,
	// newest first.
	QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)
}
