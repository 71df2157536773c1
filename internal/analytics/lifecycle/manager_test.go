package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/analytics/features"
	"github.com/fleetfuel/fleetfuel360/internal/analytics/ml"
)

type memStore struct {
	mu      sync.Mutex
	payload []byte
	saveErr error
	saves   int
}

func (s *memStore) SaveModelState(_ context.Context, _ string, _ time.Time, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.payload = append([]byte(nil), payload...)
	s.saves++
	return nil
}

func (s *memStore) LoadLatestModelState(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload, nil
}

func fitState(t *testing.T, schema []string, seed int64) *ml.ModelState {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	matrix := make([][]float64, 40)
	for i := range matrix {
		row := make([]float64, len(schema))
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		matrix[i] = row
	}
	cfg := ml.DefaultConfig()
	cfg.Trees = 10
	cfg.Seed = seed
	state, err := ml.Fit(matrix, schema, cfg)
	if err != nil {
		t.Fatalf("fit fixture: %v", err)
	}
	return state
}

func TestTrainPromotesAndPersists(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, zap.NewNop(), Options{})

	if got := mgr.Snapshot().Status; got != StatusAbsent {
		t.Fatalf("initial status %s, want %s", got, StatusAbsent)
	}

	state, err := mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
		return fitState(t, features.Schema(), 1), nil
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if state.VersionID == "" {
		t.Error("promoted model has no version id")
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}

	snap := mgr.Snapshot()
	if snap.Status != StatusTrained {
		t.Errorf("status %s, want %s", snap.Status, StatusTrained)
	}
	if snap.VersionID != state.VersionID {
		t.Errorf("snapshot version %q, want %q", snap.VersionID, state.VersionID)
	}
	if mgr.Current() != state {
		t.Error("Current does not return the promoted model")
	}
}

func TestTrainFailureKeepsPreviousModel(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, zap.NewNop(), Options{})

	first, err := mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
		return fitState(t, features.Schema(), 1), nil
	})
	if err != nil {
		t.Fatalf("first train: %v", err)
	}

	trainErr := errors.New("bad batch")
	_, err = mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
		return nil, trainErr
	})
	if !errors.Is(err, trainErr) {
		t.Fatalf("expected training error, got %v", err)
	}

	if mgr.Current() != first {
		t.Error("failed training replaced the live model")
	}
	if got := mgr.Snapshot().VersionID; got != first.VersionID {
		t.Errorf("snapshot version %q, want %q", got, first.VersionID)
	}
}

func TestPersistFailureKeepsPreviousModel(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, zap.NewNop(), Options{})

	first, err := mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
		return fitState(t, features.Schema(), 1), nil
	})
	if err != nil {
		t.Fatalf("first train: %v", err)
	}

	store.mu.Lock()
	store.saveErr = errors.New("disk full")
	store.mu.Unlock()

	_, err = mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
		return fitState(t, features.Schema(), 2), nil
	})
	if err == nil {
		t.Fatal("expected persist error")
	}
	if mgr.Current() != first {
		t.Error("persist failure replaced the live model")
	}
}

func TestConcurrentTrainSharesOneRun(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, zap.NewNop(), Options{})

	var fits atomic.Int32
	release := make(chan struct{})
	fitted := fitState(t, features.Schema(), 1)

	const callers = 8
	results := make([]*ml.ModelState, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
				fits.Add(1)
				<-release
				return fitted, nil
			})
		}(i)
	}

	// Wait for exactly one fit to start, then let it finish.
	deadline := time.After(2 * time.Second)
	for fits.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no training run started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if got := mgr.Snapshot().Status; got != StatusTraining {
		t.Errorf("mid-run status %s, want %s", got, StatusTraining)
	}
	close(release)
	wg.Wait()

	if got := fits.Load(); got != 1 {
		t.Fatalf("fit ran %d times, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different model state", i)
		}
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestStalenessByAgeAndVolume(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, zap.NewNop(), Options{
		MaxAge:             time.Hour,
		RetrainRecordCount: 100,
	})
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	mgr.clock = func() time.Time { return now }

	if _, err := mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
		state := fitState(t, features.Schema(), 1)
		state.TrainedAt = now
		return state, nil
	}); err != nil {
		t.Fatalf("train: %v", err)
	}
	if got := mgr.Snapshot().Status; got != StatusTrained {
		t.Fatalf("fresh status %s, want %s", got, StatusTrained)
	}

	// Volume trigger.
	mgr.RecordsIngested(99)
	if got := mgr.Snapshot().Status; got != StatusTrained {
		t.Errorf("at 99 records status %s, want %s", got, StatusTrained)
	}
	mgr.RecordsIngested(1)
	if got := mgr.Snapshot().Status; got != StatusStale {
		t.Errorf("at 100 records status %s, want %s", got, StatusStale)
	}

	// Retraining resets the counter.
	if _, err := mgr.Train(context.Background(), func(context.Context) (*ml.ModelState, error) {
		state := fitState(t, features.Schema(), 2)
		state.TrainedAt = now
		return state, nil
	}); err != nil {
		t.Fatalf("retrain: %v", err)
	}
	if got := mgr.Snapshot(); got.Status != StatusTrained || got.RecordsSince != 0 {
		t.Errorf("post-retrain status %s records %d, want %s/0", got.Status, got.RecordsSince, StatusTrained)
	}

	// Age trigger.
	now = now.Add(2 * time.Hour)
	if got := mgr.Snapshot().Status; got != StatusStale {
		t.Errorf("aged status %s, want %s", got, StatusStale)
	}
}

func TestRestoreSchemaMismatchMarksStale(t *testing.T) {
	oldSchema := []string{"x", "y", "z"}
	state := fitState(t, oldSchema, 1)
	state.VersionID = "v20250101_000000_old"
	payload, err := state.Marshal()
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	store := &memStore{payload: payload}
	mgr := NewManager(store, zap.NewNop(), Options{})
	if err := mgr.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	snap := mgr.Snapshot()
	if snap.Status != StatusStale {
		t.Errorf("status %s, want %s", snap.Status, StatusStale)
	}
	if snap.VersionID != "v20250101_000000_old" {
		t.Errorf("version %q not preserved", snap.VersionID)
	}
}

func TestRestoreCompatibleSchema(t *testing.T) {
	state := fitState(t, features.Schema(), 1)
	state.VersionID = "v20260801_000000_keep"
	state.TrainedAt = time.Now().UTC()
	payload, err := state.Marshal()
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	store := &memStore{payload: payload}
	mgr := NewManager(store, zap.NewNop(), Options{})
	if err := mgr.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := mgr.Snapshot().Status; got != StatusTrained {
		t.Errorf("status %s, want %s", got, StatusTrained)
	}
	if mgr.Current() == nil {
		t.Error("restored model not available for scoring")
	}
}

func TestRestoreEmptyStoreStaysAbsent(t *testing.T) {
	mgr := NewManager(&memStore{}, zap.NewNop(), Options{})
	if err := mgr.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := mgr.Snapshot().Status; got != StatusAbsent {
		t.Errorf("status %s, want %s", got, StatusAbsent)
	}
}
