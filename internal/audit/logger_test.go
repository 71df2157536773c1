package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fleetfuel/fleetfuel360/internal/models"
	"github.com/fleetfuel/fleetfuel360/internal/store"
)

func newTestRecorder(t *testing.T) (Recorder, string) {
	t.Helper()
	tmpDir := t.TempDir()

	config := &Config{
		LogPath:    filepath.Join(tmpDir, "audit.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	}

	rec, err := NewRecorder(config, nil)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	t.Cleanup(func() { rec.Close() })

	return rec, config.LogPath
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.LogPath != "logs/audit.log" {
		t.Errorf("Expected log path 'logs/audit.log', got %s", config.LogPath)
	}

	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}

	if config.MaxBackups != 10 {
		t.Errorf("Expected max backups 10, got %d", config.MaxBackups)
	}
}

func TestRecordAndSync(t *testing.T) {
	rec, logPath := newTestRecorder(t)

	ctx := context.Background()
	event := NewEvent(EventModelTrained).
		WithResource("v20260831_100000_abcd1234").
		WithDescription("training complete").
		WithResult(ResultSuccess)

	if err := rec.Record(ctx, event); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := rec.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("Audit log file was not created")
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "model.trained") {
		t.Error("Log does not contain event type")
	}

	if !strings.Contains(logContent, "v20260831_100000_abcd1234") {
		t.Error("Log does not contain model version")
	}

	if !strings.Contains(logContent, "training complete") {
		t.Error("Log does not contain description")
	}
}

func TestRecordModelLifecycle(t *testing.T) {
	rec, logPath := newTestRecorder(t)

	ctx := context.Background()
	versionID := "v20260831_110000_feedbeef"

	if err := rec.RecordModelTrained(ctx, versionID, 250, 3*time.Second); err != nil {
		t.Fatalf("RecordModelTrained failed: %v", err)
	}

	if err := rec.RecordModelTrainFailed(ctx, errors.New("insufficient data")); err != nil {
		t.Fatalf("RecordModelTrainFailed failed: %v", err)
	}

	if err := rec.RecordModelRestored(ctx, versionID); err != nil {
		t.Fatalf("RecordModelRestored failed: %v", err)
	}

	if err := rec.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "model.trained") {
		t.Error("Log does not contain trained event")
	}

	if !strings.Contains(logContent, "model.train_failed") {
		t.Error("Log does not contain train_failed event")
	}

	if !strings.Contains(logContent, "insufficient data") {
		t.Error("Log does not contain failure reason")
	}

	if !strings.Contains(logContent, "model.restored") {
		t.Error("Log does not contain restored event")
	}

	if !strings.Contains(logContent, versionID) {
		t.Error("Log does not contain model version")
	}
}

func TestRecordScoringAndAlerts(t *testing.T) {
	rec, logPath := newTestRecorder(t)

	ctx := context.Background()

	if err := rec.RecordRecordsIngested(ctx, "V042", 17); err != nil {
		t.Fatalf("RecordRecordsIngested failed: %v", err)
	}

	if err := rec.RecordRecordsScored(ctx, "v20260831_120000_cafe0001", 17, 2); err != nil {
		t.Fatalf("RecordRecordsScored failed: %v", err)
	}

	recommendation := models.Recommendation{
		ID:        "rec-001",
		Type:      "fuel_leak_suspected",
		Severity:  models.SeverityCritical,
		VehicleID: "V042",
		Message:   "Fuel consumption for V042 rose sharply against its baseline",
	}
	if err := rec.RecordAlertEmitted(ctx, recommendation); err != nil {
		t.Fatalf("RecordAlertEmitted failed: %v", err)
	}

	if err := rec.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "records.ingested") {
		t.Error("Log does not contain ingested event")
	}

	if !strings.Contains(logContent, "records.scored") {
		t.Error("Log does not contain scored event")
	}

	if !strings.Contains(logContent, "alert.emitted") {
		t.Error("Log does not contain alert event")
	}

	if !strings.Contains(logContent, "fuel_leak_suspected") {
		t.Error("Log does not contain rule type")
	}

	if !strings.Contains(logContent, "V042") {
		t.Error("Log does not contain vehicle ID")
	}
}

func TestRecordPersistsToStore(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer st.Close()

	tmpDir := t.TempDir()
	rec, err := NewRecorder(&Config{LogPath: filepath.Join(tmpDir, "audit.log")}, st)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	if err := rec.RecordModelTrained(ctx, "v20260831_130000_deadbeef", 300, 2*time.Second); err != nil {
		t.Fatalf("RecordModelTrained failed: %v", err)
	}

	events, err := st.QueryAuditEvents(ctx, store.AuditQuery{EventType: string(EventModelTrained)})
	if err != nil {
		t.Fatalf("QueryAuditEvents failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected 1 persisted event, got %d", len(events))
	}

	got := events[0]
	if got.Resource != "v20260831_130000_deadbeef" {
		t.Errorf("Expected model version as resource, got %s", got.Resource)
	}

	if got.Result != string(ResultSuccess) {
		t.Errorf("Expected success result, got %s", got.Result)
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(got.Metadata), &metadata); err != nil {
		t.Fatalf("Metadata is not valid JSON: %v", err)
	}

	if count, ok := metadata["sample_count"].(float64); !ok || count != 300 {
		t.Errorf("Expected sample_count 300 in metadata, got %v", metadata["sample_count"])
	}
}

func TestBufferAutoFlush(t *testing.T) {
	rec, logPath := newTestRecorder(t)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		event := NewEvent(EventRecordsScored).WithDescription("scoring pass")
		if err := rec.Record(ctx, event); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	// Wait for the 1-second flush ticker.
	time.Sleep(1500 * time.Millisecond)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	if len(content) == 0 {
		t.Error("Audit log is empty after auto-flush")
	}
}

func TestBufferFullFlush(t *testing.T) {
	rec, logPath := newTestRecorder(t)

	ctx := context.Background()
	for i := 0; i < 105; i++ {
		event := NewEvent(EventRecordsIngested).WithDescription("batch ingested")
		if err := rec.Record(ctx, event); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	if err := rec.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	lines := strings.Split(string(content), "\n")
	eventCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			eventCount++
		}
	}

	if eventCount < 105 {
		t.Errorf("Expected at least 105 events, got %d", eventCount)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rec, _ := newTestRecorder(t)

	if err := rec.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestEventBuilderChain(t *testing.T) {
	event := NewEvent(EventModelTrained).
		WithResource("v20260831_140000_00c0ffee").
		WithDescription("trained on nightly batch").
		WithResult(ResultSuccess).
		WithDuration(3 * time.Second).
		WithMetadata("sample_count", 512)

	if event.Resource != "v20260831_140000_00c0ffee" {
		t.Errorf("Expected resource to be the version ID, got %s", event.Resource)
	}

	if event.Result != ResultSuccess {
		t.Errorf("Expected result 'success', got %s", event.Result)
	}

	if event.DurationMs != 3000 {
		t.Errorf("Expected duration 3000ms, got %d", event.DurationMs)
	}

	if count, ok := event.Metadata["sample_count"].(int); !ok || count != 512 {
		t.Errorf("Expected metadata sample_count 512, got %v", event.Metadata["sample_count"])
	}
}

func TestWithErrorMarksFailure(t *testing.T) {
	event := NewEvent(EventModelTrainFailed).WithError(errors.New("fit blew up"))

	if event.Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", event.Result)
	}

	if event.Error != "fit blew up" {
		t.Errorf("Expected error message preserved, got %s", event.Error)
	}

	ok := NewEvent(EventModelTrained).WithError(nil)
	if ok.Result != ResultSuccess {
		t.Errorf("Expected nil error to keep success result, got %s", ok.Result)
	}
}

func TestEventJSONSerialization(t *testing.T) {
	event := NewEvent(EventAlertEmitted).
		WithResource("anomaly_cluster").
		WithDescription("anomaly rate above threshold").
		WithResult(ResultSuccess)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if decoded.EventType != EventAlertEmitted {
		t.Errorf("Expected event type 'alert.emitted', got %s", decoded.EventType)
	}

	if decoded.Resource != "anomaly_cluster" {
		t.Errorf("Expected resource 'anomaly_cluster', got %s", decoded.Resource)
	}

	if decoded.Result != ResultSuccess {
		t.Errorf("Expected result 'success', got %s", decoded.Result)
	}
}
