package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Vehicles ────────────────────────────────────────────────────────────────

func TestVehicleUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := &models.Vehicle{ID: "TRUCK001", Name: "Delivery Truck 1", Type: "truck"}
	if err := s.UpsertVehicle(ctx, v); err != nil {
		t.Fatalf("UpsertVehicle: %v", err)
	}

	got, err := s.GetVehicle(ctx, "TRUCK001")
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if got.Name != "Delivery Truck 1" || got.Type != "truck" {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not defaulted")
	}

	// Upsert keeps created_at but updates mutable fields.
	v.Name = "Renamed"
	if err := s.UpsertVehicle(ctx, v); err != nil {
		t.Fatalf("UpsertVehicle update: %v", err)
	}
	got2, err := s.GetVehicle(ctx, "TRUCK001")
	if err != nil {
		t.Fatalf("GetVehicle after update: %v", err)
	}
	if got2.Name != "Renamed" {
		t.Errorf("name %q, want Renamed", got2.Name)
	}

	if _, err := s.GetVehicle(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListVehiclesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"V3", "V1", "V2"} {
		if err := s.UpsertVehicle(ctx, &models.Vehicle{ID: id}); err != nil {
			t.Fatalf("UpsertVehicle %s: %v", id, err)
		}
	}
	vs, err := s.ListVehicles(ctx)
	if err != nil {
		t.Fatalf("ListVehicles: %v", err)
	}
	if len(vs) != 3 || vs[0].ID != "V1" || vs[1].ID != "V2" || vs[2].ID != "V3" {
		t.Errorf("unexpected order: %+v", vs)
	}
}

// ─── Fuel logs ───────────────────────────────────────────────────────────────

func TestInsertAndListRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	rec := models.FuelRecord{VehicleID: "V1", Timestamp: base, DistanceKM: 150, FuelUsedL: 20, CostUSD: 35}
	if err := s.InsertRecord(ctx, &rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("InsertRecord did not set ID")
	}

	// Insert out of chronological order; listing must sort ascending.
	batch := []models.FuelRecord{
		{VehicleID: "V1", Timestamp: base.Add(3 * time.Hour), DistanceKM: 90, FuelUsedL: 12},
		{VehicleID: "V2", Timestamp: base.Add(time.Hour), DistanceKM: 200, FuelUsedL: 25},
		{VehicleID: "V1", Timestamp: base.Add(2 * time.Hour), DistanceKM: 110, FuelUsedL: 14},
	}
	ids, err := s.InsertRecords(ctx, batch)
	if err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}

	all, err := s.ListRecords(ctx, RecordQuery{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d records, want 4", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("records not ascending at %d", i)
		}
	}

	// Vehicle filter.
	v1, err := s.ListRecords(ctx, RecordQuery{VehicleID: "V1"})
	if err != nil {
		t.Fatalf("ListRecords V1: %v", err)
	}
	if len(v1) != 3 {
		t.Errorf("V1 records = %d, want 3", len(v1))
	}

	// Inclusive window.
	windowed, err := s.ListRecords(ctx, RecordQuery{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("ListRecords windowed: %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("windowed records = %d, want 2 (boundaries inclusive)", len(windowed))
	}
}

func TestWriteAnomalyResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	ids, err := s.InsertRecords(ctx, []models.FuelRecord{
		{VehicleID: "V1", Timestamp: base, DistanceKM: 100, FuelUsedL: 10},
		{VehicleID: "V1", Timestamp: base.Add(time.Hour), DistanceKM: 100, FuelUsedL: 40},
	})
	if err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}

	err = s.WriteAnomalyResults(ctx, []models.AnomalyResult{
		{RecordID: ids[0], VehicleID: "V1", Score: 0.21, IsAnomaly: false},
		{RecordID: ids[1], VehicleID: "V1", Score: -0.09, IsAnomaly: true},
	})
	if err != nil {
		t.Fatalf("WriteAnomalyResults: %v", err)
	}

	all, err := s.ListRecords(ctx, RecordQuery{VehicleID: "V1"})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if !all[0].Scored || all[0].IsAnomaly {
		t.Errorf("record 0 annotations wrong: %+v", all[0])
	}
	if !all[1].Scored || !all[1].IsAnomaly || all[1].Score != -0.09 {
		t.Errorf("record 1 annotations wrong: %+v", all[1])
	}

	anomalies, err := s.ListRecords(ctx, RecordQuery{OnlyAnomalies: true})
	if err != nil {
		t.Fatalf("ListRecords anomalies: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].ID != ids[1] {
		t.Errorf("anomaly filter wrong: %+v", anomalies)
	}
}

func TestCountRecordsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	_, err := s.InsertRecords(ctx, []models.FuelRecord{
		{VehicleID: "V1", Timestamp: base, DistanceKM: 1, FuelUsedL: 1},
		{VehicleID: "V1", Timestamp: base.Add(time.Hour), DistanceKM: 1, FuelUsedL: 1},
		{VehicleID: "V1", Timestamp: base.Add(2 * time.Hour), DistanceKM: 1, FuelUsedL: 1},
	})
	if err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}

	n, err := s.CountRecordsSince(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountRecordsSince: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

// ─── Model states ────────────────────────────────────────────────────────────

func TestModelStatePersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.LoadLatestModelState(ctx)
	if err != nil {
		t.Fatalf("LoadLatestModelState empty: %v", err)
	}
	if empty != nil {
		t.Fatal("expected nil payload from empty store")
	}

	t1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	if err := s.SaveModelState(ctx, "v20260801_000000_aaaa", t1, []byte("old")); err != nil {
		t.Fatalf("SaveModelState old: %v", err)
	}
	if err := s.SaveModelState(ctx, "v20260802_000000_bbbb", t2, []byte("new")); err != nil {
		t.Fatalf("SaveModelState new: %v", err)
	}

	payload, err := s.LoadLatestModelState(ctx)
	if err != nil {
		t.Fatalf("LoadLatestModelState: %v", err)
	}
	if string(payload) != "new" {
		t.Errorf("latest payload = %q, want new", payload)
	}

	versions, err := s.ListModelVersions(ctx, 10)
	if err != nil {
		t.Fatalf("ListModelVersions: %v", err)
	}
	if len(versions) != 2 || versions[0].VersionID != "v20260802_000000_bbbb" {
		t.Errorf("versions: %+v", versions)
	}

	// Version IDs are immutable: a duplicate insert fails.
	if err := s.SaveModelState(ctx, "v20260802_000000_bbbb", t2, []byte("dup")); err == nil {
		t.Error("duplicate version id accepted")
	}
}

// ─── Audit events ────────────────────────────────────────────────────────────

func TestAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []*AuditRecord{
		{EventType: "model_trained", Resource: "v20260831_090000_abcd", Result: "success", Detail: "412 samples"},
		{EventType: "records_scored", Resource: "V1", Result: "success", Detail: "38 records, 2 anomalies"},
		{EventType: "model_trained", Resource: "v20260831_100000_ef01", Result: "failure", Detail: "insufficient data"},
	}
	for _, e := range events {
		if err := s.AppendAuditEvent(ctx, e); err != nil {
			t.Fatalf("AppendAuditEvent: %v", err)
		}
	}

	trained, err := s.QueryAuditEvents(ctx, AuditQuery{EventType: "model_trained"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(trained) != 2 {
		t.Fatalf("model_trained events = %d, want 2", len(trained))
	}
	for _, e := range trained {
		if e.Timestamp.IsZero() {
			t.Error("timestamp not defaulted")
		}
		if e.Metadata == "" {
			t.Error("metadata not defaulted to {}")
		}
	}

	limited, err := s.QueryAuditEvents(ctx, AuditQuery{Limit: 1})
	if err != nil {
		t.Fatalf("QueryAuditEvents limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited events = %d, want 1", len(limited))
	}
}
