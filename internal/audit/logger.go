package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fleetfuel/fleetfuel360/internal/models"
	"github.com/fleetfuel/fleetfuel360/internal/store"
)

// Recorder defines the interface for the audit trail: every training run,
// scoring pass, and emitted alert leaves an immutable event behind.
type Recorder interface {
	// Record logs an audit event
	Record(ctx context.Context, event *Event) error

	// Model lifecycle events
	RecordModelTrained(ctx context.Context, versionID string, samples int, duration time.Duration) error
	RecordModelTrainFailed(ctx context.Context, err error) error
	RecordModelRestored(ctx context.Context, versionID string) error

	// Data events
	RecordRecordsIngested(ctx context.Context, vehicleID string, count int) error
	RecordRecordsScored(ctx context.Context, versionID string, scored, anomalies int) error

	// Alert events
	RecordAlertEmitted(ctx context.Context, rec models.Recommendation) error

	// Sync flushes buffered events
	Sync() error

	// Close closes the recorder
	Close() error
}

// Config represents audit recorder configuration
type Config struct {
	// LogPath is the path to the audit log file
	LogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit recorder configuration
func DefaultConfig() *Config {
	return &Config{
		LogPath:    "logs/audit.log",
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// recorder implements Recorder. Events are buffered and flushed to a
// rotating JSON log; when a store is attached they are persisted there
// too, so the trail survives log rotation and is queryable over HTTP.
type recorder struct {
	log    *zap.Logger
	store  store.AuditStore // optional
	config *Config

	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewRecorder creates a new audit recorder. The store may be nil; events
// then go to the rotating log only.
func NewRecorder(config *Config, auditStore store.AuditStore) (Recorder, error) {
	if config == nil {
		config = DefaultConfig()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   config.LogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit events are always INFO level, append-only.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	r := &recorder{
		log:         zap.New(core),
		store:       auditStore,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}
	go r.autoFlush()
	return r, nil
}

// Record logs an audit event
func (r *recorder) Record(ctx context.Context, event *Event) error {
	if r.store != nil {
		metadata := "{}"
		if len(event.Metadata) > 0 {
			if raw, err := json.Marshal(event.Metadata); err == nil {
				metadata = string(raw)
			}
		}
		rec := &store.AuditRecord{
			EventType: string(event.EventType),
			Resource:  event.Resource,
			Result:    string(event.Result),
			Detail:    event.Description,
			Metadata:  metadata,
			Timestamp: event.Timestamp,
		}
		if err := r.store.AppendAuditEvent(ctx, rec); err != nil {
			return fmt.Errorf("persist audit event: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, event)
	if len(r.buffer) >= 100 {
		r.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (r *recorder) flushLocked() {
	for _, event := range r.buffer {
		fields := []zap.Field{
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		}
		if event.Resource != "" {
			fields = append(fields, zap.String("resource", event.Resource))
		}
		if event.Error != "" {
			fields = append(fields, zap.String("error", event.Error))
		}
		if event.DurationMs > 0 {
			fields = append(fields, zap.Int64("duration_ms", event.DurationMs))
		}
		if len(event.Metadata) > 0 {
			fields = append(fields, zap.Any("metadata", event.Metadata))
		}
		r.log.Info(event.Description, fields...)
	}
	r.buffer = r.buffer[:0]
}

// autoFlush periodically flushes the buffer
func (r *recorder) autoFlush() {
	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			r.flushLocked()
			r.mu.Unlock()
		case <-r.stopCh:
			return
		}
	}
}

// RecordModelTrained logs a successful training run
func (r *recorder) RecordModelTrained(ctx context.Context, versionID string, samples int, duration time.Duration) error {
	event := NewEvent(EventModelTrained).
		WithResource(versionID).
		WithDuration(duration).
		WithMetadata("sample_count", samples).
		WithDescription(fmt.Sprintf("Model %s trained on %d samples", versionID, samples))
	return r.Record(ctx, event)
}

// RecordModelTrainFailed logs a failed training run
func (r *recorder) RecordModelTrainFailed(ctx context.Context, err error) error {
	event := NewEvent(EventModelTrainFailed).
		WithError(err).
		WithDescription("Model training failed")
	return r.Record(ctx, event)
}

// RecordModelRestored logs a model loaded from persistence at startup
func (r *recorder) RecordModelRestored(ctx context.Context, versionID string) error {
	event := NewEvent(EventModelRestored).
		WithResource(versionID).
		WithDescription(fmt.Sprintf("Model %s restored from store", versionID))
	return r.Record(ctx, event)
}

// RecordRecordsIngested logs a batch of fuel logs entering the store
func (r *recorder) RecordRecordsIngested(ctx context.Context, vehicleID string, count int) error {
	event := NewEvent(EventRecordsIngested).
		WithResource(vehicleID).
		WithMetadata("count", count).
		WithDescription(fmt.Sprintf("%d fuel logs ingested", count))
	return r.Record(ctx, event)
}

// RecordRecordsScored logs a scoring pass
func (r *recorder) RecordRecordsScored(ctx context.Context, versionID string, scored, anomalies int) error {
	event := NewEvent(EventRecordsScored).
		WithResource(versionID).
		WithMetadata("scored", scored).
		WithMetadata("anomalies", anomalies).
		WithDescription(fmt.Sprintf("%d records scored, %d anomalies", scored, anomalies))
	return r.Record(ctx, event)
}

// RecordAlertEmitted logs an advisory going out to subscribers
func (r *recorder) RecordAlertEmitted(ctx context.Context, rec models.Recommendation) error {
	event := NewEvent(EventAlertEmitted).
		WithResource(rec.Type).
		WithMetadata("severity", string(rec.Severity)).
		WithMetadata("vehicle_id", rec.VehicleID).
		WithDescription(rec.Message)
	return r.Record(ctx, event)
}

// Sync flushes buffered events
func (r *recorder) Sync() error {
	r.mu.Lock()
	r.flushLocked()
	r.mu.Unlock()
	return r.log.Sync()
}

// Close closes the recorder
func (r *recorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.flushTicker.Stop()
	})
	return r.Sync()
}
