package analytics

// Package analytics is the facade over the FleetFuel360 analytics engine.
//
// Core Capabilities:
//   - Fuel-log ingestion with vehicle registry upkeep
//   - Feature engineering over per-vehicle fuel histories
//   - Isolation Forest anomaly training and scoring
//   - Model lifecycle: restore on boot, staleness, shared retraining
//   - Per-vehicle and fleet statistics over time windows
//   - Threshold-rule recommendations and alerts
//
// Integration Points:
//   - Store: fuel logs, model states, and the audit trail
//   - Audit Recorder: every training run, scoring pass, and alert
//   - Metrics: Prometheus counters and histograms per operation
//   - Server: REST and WebSocket surfaces call only this facade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/analytics/advisor"
	"github.com/fleetfuel/fleetfuel360/internal/analytics/features"
	"github.com/fleetfuel/fleetfuel360/internal/analytics/lifecycle"
	"github.com/fleetfuel/fleetfuel360/internal/analytics/ml"
	"github.com/fleetfuel/fleetfuel360/internal/analytics/stats"
	"github.com/fleetfuel/fleetfuel360/internal/audit"
	"github.com/fleetfuel/fleetfuel360/internal/config"
	"github.com/fleetfuel/fleetfuel360/internal/metrics"
	"github.com/fleetfuel/fleetfuel360/internal/models"
	"github.com/fleetfuel/fleetfuel360/internal/store"
)

// ErrNoModel is returned by scoring when no model has been trained or
// restored yet.
var ErrNoModel = errors.New("no trained model available")

// Engine wires the analytics subsystems behind one API.
type Engine struct {
	store    store.Store
	cfg      *config.Config
	log      *zap.Logger
	audit    audit.Recorder
	engineer *features.Engineer
	manager  *lifecycle.Manager
	stats    *stats.Aggregator
	advisor  *advisor.Engine

	clock func() time.Time
}

// NewEngine creates the analytics engine. The audit recorder may be nil;
// operations then skip trail entries but are otherwise unaffected.
func NewEngine(st store.Store, cfg *config.Config, log *zap.Logger, rec audit.Recorder) *Engine {
	if log == nil {
		log = zap.NewNop()
	}

	manager := lifecycle.NewManager(st, log, lifecycle.Options{
		MaxAge:             time.Duration(cfg.Model.MaxAgeHours) * time.Hour,
		RetrainRecordCount: cfg.Model.RetrainRecordCount,
	})

	return &Engine{
		store:    st,
		cfg:      cfg,
		log:      log,
		audit:    rec,
		engineer: features.NewEngineer(cfg.Model.Window),
		manager:  manager,
		stats:    stats.New(),
		advisor: advisor.New(advisor.Thresholds{
			FuelLeakLPer100KM:    cfg.Alerts.FuelLeakLPer100KM,
			AnomalyRate:          cfg.Alerts.AnomalyRate,
			EfficiencyDecline:    cfg.Alerts.EfficiencyDecline,
			PoorPerformerRatio:   cfg.Alerts.PoorPerformerRatio,
			FleetEfficiencyFloor: cfg.Alerts.FleetEfficiencyFloor,
			CostPerKM:            cfg.Alerts.CostPerKM,
		}),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Restore loads the latest persisted model, if any. Called once on boot.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.manager.Restore(ctx); err != nil {
		return err
	}
	snap := e.manager.Snapshot()
	metrics.SetModelStatus(string(snap.Status))
	if snap.VersionID != "" && e.audit != nil {
		if err := e.audit.RecordModelRestored(ctx, snap.VersionID); err != nil {
			e.log.Warn("audit restore entry failed", zap.Error(err))
		}
	}
	return nil
}

// ─── Ingestion ────────────────────────────────────────────────────────────────

// Ingest stores a batch of fuel records in one transaction and returns
// their generated IDs. Vehicles referenced by the batch must already
// exist in the registry.
func (e *Engine) Ingest(ctx context.Context, recs []models.FuelRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	for _, r := range recs {
		if r.VehicleID == "" {
			return nil, fmt.Errorf("fuel record missing vehicle_id")
		}
		if seen[r.VehicleID] {
			continue
		}
		if _, err := e.store.GetVehicle(ctx, r.VehicleID); err != nil {
			return nil, fmt.Errorf("vehicle %s: %w", r.VehicleID, err)
		}
		seen[r.VehicleID] = true
	}

	ids, err := e.store.InsertRecords(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("insert records: %w", err)
	}

	e.manager.RecordsIngested(len(recs))
	metrics.RecordsIngestedTotal.Add(float64(len(recs)))
	metrics.SetModelStatus(string(e.manager.Snapshot().Status))

	if e.audit != nil {
		for vehicleID := range seen {
			n := 0
			for _, r := range recs {
				if r.VehicleID == vehicleID {
					n++
				}
			}
			if err := e.audit.RecordRecordsIngested(ctx, vehicleID, n); err != nil {
				e.log.Warn("audit ingest entry failed", zap.Error(err))
			}
		}
	}

	e.log.Info("fuel records ingested",
		zap.Int("count", len(recs)),
		zap.Int("vehicles", len(seen)))
	return ids, nil
}

// ─── Training ─────────────────────────────────────────────────────────────────

// TrainOptions bounds the training data. A zero window trains on the
// whole history.
type TrainOptions struct {
	Window models.Window
}

// ModelSummary describes a training outcome.
type ModelSummary struct {
	VersionID   string    `json:"version_id"`
	TrainedAt   time.Time `json:"trained_at"`
	SampleCount int       `json:"sample_count"`
	Threshold   float64   `json:"threshold"`
}

// Train fits a fresh model on the stored history and promotes it.
// Concurrent callers share a single training run: the second caller
// blocks until the first finishes and receives the same outcome.
func (e *Engine) Train(ctx context.Context, opts TrainOptions) (ModelSummary, error) {
	start := e.clock()

	state, err := e.manager.Train(ctx, func(ctx context.Context) (*ml.ModelState, error) {
		recs, err := e.store.ListRecords(ctx, store.RecordQuery{
			Since: opts.Window.Since,
			Until: opts.Window.Until,
		})
		if err != nil {
			return nil, fmt.Errorf("load training records: %w", err)
		}

		vectors, err := e.engineer.Compute(recs)
		if err != nil {
			return nil, fmt.Errorf("feature engineering: %w", err)
		}
		trainable := features.FilterTrainable(vectors)

		return ml.Fit(features.Matrix(trainable), e.engineer.Schema(), ml.Config{
			Trees:         e.cfg.Model.Trees,
			SubSampleSize: e.cfg.Model.SubSampleSize,
			MaxDepth:      e.cfg.Model.MaxDepth,
			Seed:          e.cfg.Model.Seed,
			Contamination: e.cfg.Model.Contamination,
			MinSamples:    e.cfg.Model.MinSamples,
		})
	})

	elapsed := e.clock().Sub(start)
	metrics.TrainingDuration.Observe(elapsed.Seconds())
	metrics.SetModelStatus(string(e.manager.Snapshot().Status))

	if err != nil {
		metrics.TrainingsTotal.WithLabelValues("failure").Inc()
		if e.audit != nil {
			if aerr := e.audit.RecordModelTrainFailed(ctx, err); aerr != nil {
				e.log.Warn("audit train entry failed", zap.Error(aerr))
			}
		}
		return ModelSummary{}, err
	}

	metrics.TrainingsTotal.WithLabelValues("success").Inc()
	metrics.TrainingSampleCount.Set(float64(state.SampleCount))
	if e.audit != nil {
		if aerr := e.audit.RecordModelTrained(ctx, state.VersionID, state.SampleCount, elapsed); aerr != nil {
			e.log.Warn("audit train entry failed", zap.Error(aerr))
		}
	}

	return ModelSummary{
		VersionID:   state.VersionID,
		TrainedAt:   state.TrainedAt,
		SampleCount: state.SampleCount,
		Threshold:   state.Threshold,
	}, nil
}

// ─── Scoring ──────────────────────────────────────────────────────────────────

// Score runs the current model over stored records in the window,
// persists the annotations, and returns them. An empty vehicleID scores
// the whole fleet. Records before the window still feed the rolling
// features, so a freshly queried window scores with full history behind
// it. Degenerate records (zero fuel) are never scored.
func (e *Engine) Score(ctx context.Context, vehicleID string, window models.Window) ([]models.AnomalyResult, error) {
	state := e.manager.Current()
	if state == nil {
		return nil, ErrNoModel
	}

	start := e.clock()

	// Full history up to the window end: rolling features need the
	// records preceding the window, and the fleet index needs every
	// vehicle.
	recs, err := e.store.ListRecords(ctx, store.RecordQuery{Until: window.Until})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	vectors, err := e.engineer.Compute(recs)
	if err != nil {
		return nil, fmt.Errorf("feature engineering: %w", err)
	}

	byID := make(map[int64]models.FuelRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}

	// Select scorable vectors inside the window.
	selected := make([]features.Vector, 0, len(vectors))
	for _, vec := range vectors {
		if vec.Degenerate {
			continue
		}
		if vehicleID != "" && vec.VehicleID != vehicleID {
			continue
		}
		rec, ok := byID[vec.RecordID]
		if !ok || !window.Contains(rec.Timestamp) {
			continue
		}
		selected = append(selected, vec)
	}
	if len(selected) == 0 {
		return nil, nil
	}

	scores, labels, err := state.Score(features.Matrix(selected), e.engineer.Schema())
	if err != nil {
		return nil, fmt.Errorf("score records: %w", err)
	}

	results := make([]models.AnomalyResult, len(selected))
	anomalies := 0
	for i, vec := range selected {
		results[i] = models.AnomalyResult{
			RecordID:  vec.RecordID,
			VehicleID: vec.VehicleID,
			Score:     scores[i],
			IsAnomaly: labels[i],
		}
		if labels[i] {
			anomalies++
			metrics.AnomaliesDetectedTotal.WithLabelValues(vec.VehicleID).Inc()
		}
	}

	if err := e.store.WriteAnomalyResults(ctx, results); err != nil {
		return nil, fmt.Errorf("persist anomaly results: %w", err)
	}

	metrics.RecordsScoredTotal.Add(float64(len(results)))
	metrics.ScoringDuration.Observe(e.clock().Sub(start).Seconds())
	if e.audit != nil {
		if aerr := e.audit.RecordRecordsScored(ctx, state.VersionID, len(results), anomalies); aerr != nil {
			e.log.Warn("audit score entry failed", zap.Error(aerr))
		}
	}

	e.log.Info("records scored",
		zap.String("model_version", state.VersionID),
		zap.Int("scored", len(results)),
		zap.Int("anomalies", anomalies))
	return results, nil
}

// ─── Statistics ───────────────────────────────────────────────────────────────

// Statistics aggregates the stored history over a window. A non-empty
// vehicleID restricts the per-vehicle breakdown to that vehicle; the
// fleet aggregate always covers everything in the window.
func (e *Engine) Statistics(ctx context.Context, vehicleID string, window models.Window) (models.FleetStats, []models.VehicleStats, error) {
	recs, err := e.store.ListRecords(ctx, store.RecordQuery{
		Since: window.Since,
		Until: window.Until,
	})
	if err != nil {
		return models.FleetStats{}, nil, fmt.Errorf("load records: %w", err)
	}

	fleet, vehicles := e.stats.FleetStats(recs, window)
	if vehicleID != "" {
		filtered := vehicles[:0]
		for _, vs := range vehicles {
			if vs.VehicleID == vehicleID {
				filtered = append(filtered, vs)
			}
		}
		vehicles = filtered
	}
	return fleet, vehicles, nil
}

// ─── Recommendations ──────────────────────────────────────────────────────────

// Recommendations evaluates the advisory rule set against the given
// window, with the preceding baseline window for comparison rules. A zero
// window means the configured recent-window hours ending now. Every
// advisory that fires is audited and counted.
func (e *Engine) Recommendations(ctx context.Context, window models.Window) ([]models.Recommendation, error) {
	now := e.clock()
	if !window.Until.IsZero() {
		now = window.Until
	}
	recentSince := window.Since
	if recentSince.IsZero() {
		recentSince = now.Add(-time.Duration(e.cfg.Alerts.RecentWindowHours) * time.Hour)
	}
	baselineSince := recentSince.Add(-time.Duration(e.cfg.Alerts.BaselineWindowHours) * time.Hour)

	recent := models.Window{Since: recentSince, Until: now}
	// Baseline excludes the recent window so a sustained shift actually
	// moves the comparison.
	baseline := models.Window{Since: baselineSince, Until: recentSince.Add(-time.Nanosecond)}

	recs, err := e.store.ListRecords(ctx, store.RecordQuery{Since: baselineSince, Until: now})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	recentFleet, recentVehicles := e.stats.FleetStats(recs, recent)
	baselineFleet, baselineVehicles := e.stats.FleetStats(recs, baseline)

	out := e.advisor.Evaluate(advisor.Input{
		Fleet:            recentFleet,
		Vehicles:         recentVehicles,
		BaselineFleet:    baselineFleet,
		BaselineVehicles: baselineVehicles,
		Now:              now,
	})

	for _, rec := range out {
		metrics.RecommendationsTotal.WithLabelValues(rec.Type, string(rec.Severity)).Inc()
		if e.audit != nil {
			if aerr := e.audit.RecordAlertEmitted(ctx, rec); aerr != nil {
				e.log.Warn("audit alert entry failed", zap.Error(aerr))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.MoreSevere(out[j].Severity)
	})
	return out, nil
}

// ─── Model status ─────────────────────────────────────────────────────────────

// ModelStatus reports the lifecycle snapshot plus recent version history.
func (e *Engine) ModelStatus(ctx context.Context) (lifecycle.Snapshot, []store.ModelVersion, error) {
	snap := e.manager.Snapshot()
	metrics.SetModelStatus(string(snap.Status))
	if !snap.TrainedAt.IsZero() {
		metrics.ModelAgeSeconds.Set(e.clock().Sub(snap.TrainedAt).Seconds())
	}

	versions, err := e.store.ListModelVersions(ctx, 10)
	if err != nil {
		return snap, nil, fmt.Errorf("list model versions: %w", err)
	}
	return snap, versions, nil
}

// MarkModelStale flags the current model for retraining without
// discarding it.
func (e *Engine) MarkModelStale() {
	e.manager.MarkStale()
	metrics.SetModelStatus(string(e.manager.Snapshot().Status))
}
