package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/analytics/lifecycle"
	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// AlertSink receives recommendations produced by the background
// evaluation pass; the WebSocket hub implements it.
type AlertSink interface {
	Broadcast(recs []models.Recommendation)
}

// Scheduler drives the engine on a timer: it retrains when the model
// goes stale, scores records newly arrived since the last pass, and
// pushes fresh advisories to the alert sink.
type Scheduler struct {
	engine   *Engine
	log      *zap.Logger
	sink     AlertSink
	interval time.Duration

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	lastScored time.Time
}

// NewScheduler creates a scheduler over the engine. The sink may be nil;
// advisories are then only audited and counted. Intervals below one
// second fall back to one minute.
func NewScheduler(engine *Engine, log *zap.Logger, sink AlertSink, interval time.Duration) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if interval < time.Second {
		interval = time.Minute
	}
	return &Scheduler{
		engine:   engine,
		log:      log,
		sink:     sink,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background pass loop.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Initial pass
		s.pass(ctx)

		for {
			select {
			case <-ticker.C:
				s.pass(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scheduler and waits for any in-flight pass.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// pass runs one retrain-if-stale, score, and advise cycle. Every step is
// best-effort: a failure is logged and the next tick tries again.
func (s *Scheduler) pass(ctx context.Context) {
	snap, _, err := s.engine.ModelStatus(ctx)
	if err != nil {
		s.log.Warn("scheduler status check failed", zap.Error(err))
		return
	}

	switch snap.Status {
	case lifecycle.StatusAbsent, lifecycle.StatusStale:
		if _, err := s.engine.Train(ctx, TrainOptions{}); err != nil {
			s.log.Warn("scheduled training failed", zap.Error(err))
			// Without a model there is nothing to score against.
			if snap.Status == lifecycle.StatusAbsent {
				return
			}
		}
	case lifecycle.StatusTraining:
		// A run is already in flight; score with whatever is current.
	}

	if s.engine.manager.Current() != nil {
		s.mu.Lock()
		since := s.lastScored
		now := time.Now().UTC()
		s.mu.Unlock()

		if _, err := s.engine.Score(ctx, "", models.Window{Since: since, Until: now}); err != nil {
			s.log.Warn("scheduled scoring failed", zap.Error(err))
		} else {
			s.mu.Lock()
			s.lastScored = now
			s.mu.Unlock()
		}
	}

	recs, err := s.engine.Recommendations(ctx, models.Window{})
	if err != nil {
		s.log.Warn("scheduled advisory evaluation failed", zap.Error(err))
		return
	}

	// Only HIGH and CRITICAL advisories interrupt a live dashboard.
	urgent := recs[:0]
	for _, rec := range recs {
		if rec.Severity == models.SeverityHigh || rec.Severity == models.SeverityCritical {
			urgent = append(urgent, rec)
		}
	}
	if len(urgent) > 0 && s.sink != nil {
		s.sink.Broadcast(urgent)
	}
}
