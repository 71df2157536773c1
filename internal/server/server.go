package server

// Package server exposes the analytics engine over HTTP.
//
// Responsibilities:
//   - REST API under /api/v1 for vehicles, fuel logs, anomalies,
//     statistics, recommendations, and model lifecycle control
//   - WebSocket alert stream for live advisories
//   - Prometheus metrics endpoint
//   - Health check endpoint backed by a database ping
//   - Graceful shutdown with context cancellation
//
// The server owns the background scheduler: the timer-driven
// retrain/score/advise loop starts and stops with the HTTP listeners.

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/analytics"
	"github.com/fleetfuel/fleetfuel360/internal/cache"
	"github.com/fleetfuel/fleetfuel360/internal/config"
	"github.com/fleetfuel/fleetfuel360/internal/middleware"
	"github.com/fleetfuel/fleetfuel360/internal/store"
)

// defaultSchedulerInterval paces the background retrain/score loop.
const defaultSchedulerInterval = time.Minute

// Server is the FleetFuel360 HTTP server.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	engine    *analytics.Engine
	store     store.Store
	hub       *Hub
	scheduler *analytics.Scheduler
	cache     cache.Cache

	httpServer  *http.Server
	rateLimiter *middleware.RateLimiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer wires the server around an engine and its store.
func NewServer(cfg *config.Config, log *zap.Logger, engine *analytics.Engine, st store.Store) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(log, cfg.Server.AllowedOrigins)
	srv := &Server{
		cfg:         cfg,
		log:         log,
		engine:      engine,
		store:       st,
		hub:         hub,
		scheduler:   analytics.NewScheduler(engine, log, hub, defaultSchedulerInterval),
		cache:       cache.New(time.Minute),
		rateLimiter: middleware.NewRateLimiter(300),
		ctx:         ctx,
		cancel:      cancel,
	}
	return srv, nil
}

// Start restores the persisted model, starts the scheduler, and begins
// serving HTTP.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.engine.Restore(s.ctx); err != nil {
		return fmt.Errorf("restore model: %w", err)
	}

	s.scheduler.Start(s.ctx)

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      middleware.Instrument(s.log, s.rateLimiter.Handler(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server starting",
			zap.Int("port", s.cfg.Server.Port),
			zap.Bool("tls", s.cfg.Server.TLSEnabled))

		var err error
		if s.cfg.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully: listeners first, then the
// scheduler, then the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("http shutdown: %w", err)
		}
	}

	s.scheduler.Stop()
	s.hub.CloseAll()
	s.rateLimiter.Stop()
	s.cache.Close()
	s.cancel()
	s.wg.Wait()

	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}

	s.log.Info("server stopped")
	return firstErr
}

// registerHandlers mounts every route on the mux.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/vehicles", s.handleVehicles)
	mux.HandleFunc("/api/v1/vehicles/", s.handleVehicleByID)
	mux.HandleFunc("/api/v1/fuel-logs", s.handleFuelLogs)
	mux.HandleFunc("/api/v1/anomalies", s.handleAnomalies)
	mux.HandleFunc("/api/v1/statistics", s.handleStatistics)
	mux.HandleFunc("/api/v1/recommendations", s.handleRecommendations)
	mux.HandleFunc("/api/v1/model/status", s.handleModelStatus)
	mux.HandleFunc("/api/v1/model/train", s.handleModelTrain)
	mux.HandleFunc("/api/v1/detect-anomalies", s.handleDetectAnomalies)
	mux.HandleFunc("/api/v1/alerts/stream", s.hub.handleAlertStream)
}
