package lifecycle

// Package lifecycle owns the current anomaly model: which version is live,
// whether it is fresh enough to trust, and the serialization of training so
// concurrent callers never race two models into place.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/analytics/features"
	"github.com/fleetfuel/fleetfuel360/internal/analytics/ml"
)

// Status is the lifecycle state of the managed model.
type Status string

const (
	StatusAbsent   Status = "ABSENT"   // no model has ever been trained
	StatusTraining Status = "TRAINING" // a training run is in flight
	StatusTrained  Status = "TRAINED"  // a model is live and fresh
	StatusStale    Status = "STALE"    // a model is live but should be retrained
)

// Snapshot is a point-in-time view of the lifecycle, safe to hand to
// callers without exposing the mutable manager internals.
type Snapshot struct {
	Status        Status    `json:"status"`
	VersionID     string    `json:"version_id,omitempty"`
	TrainedAt     time.Time `json:"trained_at,omitempty"`
	SampleCount   int       `json:"sample_count,omitempty"`
	Contamination float64   `json:"contamination,omitempty"`
	Threshold     float64   `json:"threshold,omitempty"`
	RecordsSince  int       `json:"records_since_training"`
}

// StateStore persists trained models across restarts. Implemented by the
// SQLite store; the manager only needs these two operations.
type StateStore interface {
	SaveModelState(ctx context.Context, versionID string, trainedAt time.Time, payload []byte) error
	// LoadLatestModelState returns the most recent persisted model, or
	// (nil, nil) when none exists.
	LoadLatestModelState(ctx context.Context) ([]byte, error)
}

// Options tune staleness. Zero values disable the corresponding trigger.
type Options struct {
	// MaxAge marks the model stale once TrainedAt is older than this.
	MaxAge time.Duration
	// RetrainRecordCount marks the model stale once this many new records
	// arrived after training.
	RetrainRecordCount int
}

// Manager coordinates training, promotion, staleness, and persistence of
// the anomaly model.
type Manager struct {
	store StateStore
	log   *zap.Logger
	opts  Options
	clock func() time.Time

	mu           sync.Mutex
	current      *ml.ModelState
	markedStale  bool // explicit or load-time staleness, beyond age/count
	recordsSince int
	inflight     *trainingRun
}

// trainingRun is a single shared training attempt. Every caller that
// arrives while it runs waits on done and receives the same outcome.
type trainingRun struct {
	done  chan struct{}
	state *ml.ModelState
	err   error
}

// NewManager returns a manager with no model loaded. Call Restore to pick
// up a persisted model.
func NewManager(store StateStore, log *zap.Logger, opts Options) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store: store,
		log:   log,
		opts:  opts,
		clock: time.Now,
	}
}

// Restore loads the most recent persisted model, if any. A persisted model
// whose feature schema no longer matches the current pipeline is kept
// visible but marked stale: its metadata still answers status queries, but
// scoring against it would fail the schema check, so a retrain is required.
func (m *Manager) Restore(ctx context.Context) error {
	payload, err := m.store.LoadLatestModelState(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: load persisted model: %w", err)
	}
	if payload == nil {
		m.log.Info("no persisted model found, starting absent")
		return nil
	}

	state, err := ml.UnmarshalModelState(payload)
	if err != nil {
		return fmt.Errorf("lifecycle: decode persisted model: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = state
	m.markedStale = !features.SchemaEqual(state.FeatureSchema, features.Schema())
	m.recordsSince = 0

	if m.markedStale {
		m.log.Warn("persisted model schema incompatible with feature pipeline, marked stale",
			zap.String("version_id", state.VersionID),
			zap.Strings("model_schema", state.FeatureSchema))
	} else {
		m.log.Info("restored persisted model",
			zap.String("version_id", state.VersionID),
			zap.Time("trained_at", state.TrainedAt),
			zap.Int("sample_count", state.SampleCount))
	}
	return nil
}

// Train runs fit and promotes its result. If a training run is already in
// flight, the call does not start a second one: it waits for the shared
// run and returns its outcome (or the caller's context error, while the
// shared run keeps going). On failure the previously live model stays
// live untouched.
func (m *Manager) Train(ctx context.Context, fit func(ctx context.Context) (*ml.ModelState, error)) (*ml.ModelState, error) {
	m.mu.Lock()
	if run := m.inflight; run != nil {
		m.mu.Unlock()
		return m.await(ctx, run)
	}
	run := &trainingRun{done: make(chan struct{})}
	m.inflight = run
	m.mu.Unlock()

	started := m.clock()
	state, err := fit(ctx)
	if err == nil {
		state.VersionID = m.newVersionID(started)
		if state.TrainedAt.IsZero() {
			state.TrainedAt = started.UTC()
		}
		err = m.persist(ctx, state)
	}

	m.mu.Lock()
	m.inflight = nil
	if err == nil {
		m.current = state
		m.markedStale = false
		m.recordsSince = 0
	}
	m.mu.Unlock()

	if err == nil {
		run.state = state
	}
	run.err = err
	close(run.done)

	if err != nil {
		m.log.Error("training failed, keeping previous model", zap.Error(err))
		return nil, err
	}
	m.log.Info("model promoted",
		zap.String("version_id", state.VersionID),
		zap.Int("sample_count", state.SampleCount),
		zap.Float64("threshold", state.Threshold),
		zap.Duration("took", m.clock().Sub(started)))
	return state, nil
}

func (m *Manager) await(ctx context.Context, run *trainingRun) (*ml.ModelState, error) {
	select {
	case <-run.done:
		return run.state, run.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) persist(ctx context.Context, state *ml.ModelState) error {
	payload, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("lifecycle: serialize model: %w", err)
	}
	if err := m.store.SaveModelState(ctx, state.VersionID, state.TrainedAt, payload); err != nil {
		return fmt.Errorf("lifecycle: persist model %s: %w", state.VersionID, err)
	}
	return nil
}

// newVersionID builds IDs like v20260831_120000_1a2b3c4d: sortable by
// training time, unique under concurrent managers via the random suffix.
func (m *Manager) newVersionID(at time.Time) string {
	return fmt.Sprintf("v%s_%s", at.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// Current returns the live model for scoring, or nil when absent. A stale
// model is still returned: stale means "retrain soon", not "unusable" —
// except for schema-incompatible restores, which fail scoring's own
// schema check.
func (m *Manager) Current() *ml.ModelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RecordsIngested notes n new records arriving after the live model was
// trained, feeding the retrain-by-volume staleness trigger.
func (m *Manager) RecordsIngested(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.recordsSince += n
	m.mu.Unlock()
}

// MarkStale forces the live model into the stale state.
func (m *Manager) MarkStale() {
	m.mu.Lock()
	m.markedStale = true
	m.mu.Unlock()
}

// Snapshot evaluates the lifecycle state now. TRAINING reflects an
// in-flight run regardless of whether a previous model is live.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{RecordsSince: m.recordsSince}
	if m.inflight != nil {
		snap.Status = StatusTraining
	}
	if m.current == nil {
		if snap.Status == "" {
			snap.Status = StatusAbsent
		}
		return snap
	}

	snap.VersionID = m.current.VersionID
	snap.TrainedAt = m.current.TrainedAt
	snap.SampleCount = m.current.SampleCount
	snap.Contamination = m.current.Contamination
	snap.Threshold = m.current.Threshold
	if snap.Status == StatusTraining {
		return snap
	}

	if m.staleLocked() {
		snap.Status = StatusStale
	} else {
		snap.Status = StatusTrained
	}
	return snap
}

func (m *Manager) staleLocked() bool {
	if m.markedStale {
		return true
	}
	if m.opts.MaxAge > 0 && m.clock().Sub(m.current.TrainedAt) > m.opts.MaxAge {
		return true
	}
	if m.opts.RetrainRecordCount > 0 && m.recordsSince >= m.opts.RetrainRecordCount {
		return true
	}
	return false
}
